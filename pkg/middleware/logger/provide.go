package logger

import (
	"github.com/joeydtaylor/composr/pkg/config"
	"go.uber.org/zap"
)

// NewMiddleware builds the access logger middleware around access.
func NewMiddleware(access *zap.Logger, bodyPaths []string) *Middleware {
	if access == nil {
		access = zap.NewNop()
	}
	return &Middleware{access: access, bodyPaths: bodyPathSet(bodyPaths)}
}

func ProvideLoggerMiddleware(cfg config.Config) *Middleware {
	return NewMiddleware(NewLog(cfg.Log.Dir, "http-access.log", cfg.Log.Level), cfg.Log.BodyPaths)
}

func ProvideLogger(cfg config.Config) *zap.Logger {
	return NewLog(cfg.Log.Dir, "system.log", cfg.Log.Level).With(zap.String("service", cfg.Service))
}
