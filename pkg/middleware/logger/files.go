package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLog returns a JSON logger tee'd to stdout and a rotated file named n
// under dir. An empty dir disables the file sink.
func NewLog(dir, n, level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zap.InfoLevel
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.MessageKey = zapcore.OmitKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	console := zapcore.Lock(os.Stdout)
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(cfg), console, lvl),
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			w := zapcore.AddSync(&lumberjack.Logger{
				Filename:   filepath.Join(dir, n),
				MaxSize:    50, // MB
				MaxBackups: 3,
				MaxAge:     7, // days
			})
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, lvl))
		}
	}
	return zap.New(zapcore.NewTee(cores...))
}
