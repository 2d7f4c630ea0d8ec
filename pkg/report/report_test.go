package report

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestCSVLogWritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "metrics.csv")

	l := OpenCSVLog(path, []string{"a", "b"}, testLogger())
	require.NotNil(t, l)
	l.Append([]string{"1", "2"})
	l.Append([]string{"3", "4"})
	l.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n3,4\n", string(data))
}

func TestNilCSVLogIsSafe(t *testing.T) {
	var l *CSVLog
	l.Append([]string{"x"})
	l.Close()
}

func TestOpenCSVLogFailureReturnsNil(t *testing.T) {
	dir := t.TempDir()
	// a file where the parent directory should be
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocked"), nil, 0o644))

	l := OpenCSVLog(filepath.Join(dir, "blocked", "metrics.csv"), []string{"a"}, testLogger())
	assert.Nil(t, l)
}

func TestWriteSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "summary.json")

	err := WriteSummary(path, map[string]interface{}{
		"strategy":      "momentum",
		"pnl":           -12.5,
		"total_trades":  3,
		"risk_breached": false,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "momentum", got["strategy"])
	assert.Equal(t, -12.5, got["pnl"])
	assert.Equal(t, float64(3), got["total_trades"])
	assert.Equal(t, false, got["risk_breached"])
}
