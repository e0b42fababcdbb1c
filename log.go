package main

import (
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func parseLevel(s string) (zapcore.Level, error) {
	return zapcore.ParseLevel(s)
}

// newLogger writes console formatted entries to stderr so that they never
// mix with the progress line on stdout. -v lowers the level to info.
func newLogger(cfg *Config) (*zap.Logger, error) {
	lvl := zapcore.WarnLevel
	if cfg.LogLevel != "" {
		var err error
		if lvl, err = parseLevel(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	if cfg.Verbose && lvl > zapcore.InfoLevel {
		lvl = zapcore.InfoLevel
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), lvl)
	return zap.New(core).With(zap.String("run_id", uuid.NewString())), nil
}
