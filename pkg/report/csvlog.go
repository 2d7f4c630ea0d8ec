package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// CSVLog is an append-only CSV report sink. A nil *CSVLog is a valid no-op
// sink, which is how a failed open degrades: the strategy keeps running
// without the report.
type CSVLog struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	logger *logrus.Logger
}

// OpenCSVLog creates the file (and its directory), writes the header row and
// returns the sink. On failure it logs the error and returns nil.
func OpenCSVLog(path string, header []string, logger *logrus.Logger) *CSVLog {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.WithError(err).WithField("path", path).Error("failed to create report directory")
		return nil
	}
	file, err := os.Create(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Error("failed to open report sink")
		return nil
	}
	l := &CSVLog{
		file:   file,
		writer: csv.NewWriter(file),
		logger: logger,
	}
	l.Append(header)
	return l
}

// Append writes one record and flushes it.
func (l *CSVLog) Append(record []string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Write(record); err != nil {
		l.logger.WithError(err).Error("failed to write report record")
		return
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		l.logger.WithError(err).Error("failed to flush report record")
	}
}

// Close flushes and closes the underlying file.
func (l *CSVLog) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Flush()
	if err := l.file.Close(); err != nil {
		l.logger.WithError(err).Error("failed to close report sink")
	}
}
