// internal/observability/logger.go

// Package observability wires the structured logger and the metrics
// registry used by every component.
package observability

import "github.com/sirupsen/logrus"

// NewLogger builds the shared JSON logger. Unparseable levels fall back to
// info rather than failing startup.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
