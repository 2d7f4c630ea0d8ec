package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Strategy string  `mapstructure:"strategy"`
	File     string  `mapstructure:"file"`
	Symbol   string  `mapstructure:"symbol"`
	Symbol2  string  `mapstructure:"symbol2"`
	Spread   float64 `mapstructure:"spread"`
	Size     int     `mapstructure:"size"`
	Risk     float64 `mapstructure:"risk"`
	LogsDir  string  `mapstructure:"logs_dir"`

	Feed    FeedConfig    `mapstructure:"feed"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type FeedConfig struct {
	Rate float64 `mapstructure:"rate"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config.json from the working directory (or the explicit path),
// applying defaults and TRADEIT_* environment overrides. A missing
// config.json in the working directory is not an error; defaults apply. An
// explicit path that cannot be read is an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TRADEIT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("strategy", "marketmaker")
	v.SetDefault("file", "data/ticks.csv")
	v.SetDefault("symbol", "ETH-USD")
	v.SetDefault("symbol2", "BTC-USD")
	v.SetDefault("spread", 0.02)
	v.SetDefault("size", 10)
	v.SetDefault("risk", -500.0)
	v.SetDefault("logs_dir", "logs")

	v.SetDefault("feed.rate", 100.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}
