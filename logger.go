package redolog

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with redo-log-specific helpers so call sites
// log consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses a default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogOpen logs the result of opening the log files.
func (l *Logger) LogOpen(path string, format uint32, created bool, err error) {
	if err != nil {
		l.Error("failed to open redo log",
			"path", path,
			"error", err,
		)
		return
	}
	if created {
		l.Info("created redo log",
			"path", path,
			"format", format,
		)
	} else {
		l.Info("opened redo log",
			"path", path,
			"format", format,
		)
	}
}

// LogCheckpoint logs a completed checkpoint.
func (l *Logger) LogCheckpoint(number uint64, lsn LSN, err error) {
	if err != nil {
		l.Error("checkpoint failed",
			"checkpoint_no", number,
			"checkpoint_lsn", uint64(lsn),
			"error", err,
		)
	} else {
		l.Debug("checkpoint completed",
			"checkpoint_no", number,
			"checkpoint_lsn", uint64(lsn),
		)
	}
}

// LogWrite logs a completed log file write.
func (l *Logger) LogWrite(lsn LSN, flushed bool, err error) {
	if err != nil {
		l.Error("log write failed",
			"lsn", uint64(lsn),
			"flush", flushed,
			"error", err,
		)
	} else {
		l.Debug("log written",
			"lsn", uint64(lsn),
			"flush", flushed,
		)
	}
}

// LogOverwriteRisk logs the crash-unsafe condition where the log tail is
// about to overwrite un-checkpointed log. Callers rate-limit this.
func (l *Logger) LogOverwriteRisk(age, capacity LSN) {
	l.Error("checkpoint age exceeds log capacity; the server is crash-unsafe",
		"checkpoint_age", uint64(age),
		"log_capacity", uint64(capacity),
	)
}
