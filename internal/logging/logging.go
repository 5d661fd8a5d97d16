// Package logging builds the daemon's zap logger.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the level, encoding and optional log file.
type Config struct {
	Level    string // debug, info, warn, error
	Encoding string // console or json
	// File, when set, receives a rotated copy of the log.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a logger writing to stderr and, when cfg.File is set, to a
// rotating file. The returned closer flushes and closes the file.
func New(cfg Config) (*zap.Logger, io.Closer, error) {
	return build(cfg, os.Stderr)
}

func build(cfg Config, console io.Writer) (*zap.Logger, io.Closer, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, nil, errors.Wrapf(err, "log level %q", cfg.Level)
		}
	}

	var encoder zapcore.Encoder
	switch cfg.Encoding {
	case "", "console":
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	default:
		return nil, nil, errors.Newf("unknown log encoding %q", cfg.Encoding)
	}

	sink := zapcore.AddSync(console)
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, errors.Wrap(err, "create log directory")
		}
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(file))
		closer = file
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(sink), level)
	return zap.New(core, zap.AddCaller()), closer, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
