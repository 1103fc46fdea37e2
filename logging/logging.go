// Package logging builds the zap logger shared by the CLI and the pipeline:
// console output on stderr plus a size-rotated daily log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits of the log file.
const (
	MaxSizeMB  = 5
	MaxBackups = 5
)

// Options configures New.
type Options struct {
	Dir     string
	Level   string
	Console io.Writer
	Now     func() time.Time
}

// FileName returns the log file name for the day of t.
func FileName(t time.Time) string {
	return "psahunter_" + t.Format("2006-01-02") + ".log"
}

// ParseLevel maps a level name to a zap level. An empty name is info.
func ParseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return lvl, nil
}

// New returns a logger writing to the console and to Dir/FileName(now). The
// returned close function flushes and closes the file and must be called
// before exit.
func New(opts Options) (*zap.Logger, func() error, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(opts.Dir, FileName(opts.Now()))

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    MaxSizeMB,
		MaxBackups: MaxBackups,
	}
	file := &zapcore.BufferedWriteSyncer{
		WS:            zapcore.AddSync(rotator),
		FlushInterval: time.Second,
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)

	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(opts.Console)), lvl),
		zapcore.NewCore(enc, file, lvl),
	)
	logger := zap.New(core)
	logger.Info("logging started", zap.String("file", path))

	closeFn := func() error {
		_ = logger.Sync()
		if err := file.Stop(); err != nil {
			return err
		}
		return rotator.Close()
	}
	return logger, closeFn, nil
}
