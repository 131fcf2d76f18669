package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig holds configuration for the rotated file logger.
type FileConfig struct {
	Path       string
	Level      LogLevel
	MaxSizeMB  int // Rotate after this many megabytes (default 50)
	MaxBackups int // Rotated files to keep (default 5)
	MaxAgeDays int // Days to keep rotated files (default 28)
	Compress   bool
}

// FileLogger implements the ports.Logger interface on top of logrus with
// size-based rotation via lumberjack.
type FileLogger struct {
	log *logrus.Logger
}

// NewFileLogger creates a logger writing to a rotated log file.
func NewFileLogger(cfg FileConfig) (*FileLogger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("log file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory '%s': %w", filepath.Dir(cfg.Path), err)
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 28
	}

	l := logrus.New()
	l.SetOutput(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	switch cfg.Level {
	case LevelDebug:
		l.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		l.SetLevel(logrus.WarnLevel)
	case LevelError:
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return &FileLogger{log: l}, nil
}

func (f *FileLogger) entry(fields ...map[string]interface{}) *logrus.Entry {
	if len(fields) > 0 && fields[0] != nil {
		return f.log.WithFields(logrus.Fields(fields[0]))
	}
	return logrus.NewEntry(f.log)
}

// Debug logs a message at Debug level.
func (f *FileLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	f.entry(fields...).Debug(msg)
}

// Info logs a message at Info level.
func (f *FileLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	f.entry(fields...).Info(msg)
}

// Warn logs a message at Warning level.
func (f *FileLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	f.entry(fields...).Warn(msg)
}

// Error logs an error message at Error level.
func (f *FileLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	f.entry(fields...).WithError(err).Error(msg)
}
