package services

import (
	"fmt"
	"log/slog"
	"time"
)

// logAndWrapErr logs err with fields at error level and wraps it with msg.
func logAndWrapErr(logger *slog.Logger, msg string, err error, fields ...any) error {
	if err == nil {
		return nil
	}
	logger.Error(msg, append(fields, "error", err)...)
	return fmt.Errorf("%s: %w", msg, err)
}

// newTimingLogger returns a closure that logs msg with the elapsed time
// since start at debug level.
func newTimingLogger(logger *slog.Logger, start time.Time, msg string, fields ...any) func() {
	return func() {
		logger.Debug(msg, append(fields, "duration", time.Since(start).String())...)
	}
}
