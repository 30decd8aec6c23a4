package registry

import (
	"github.com/joeydtaylor/composr/pkg/sandbox"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func ProvideRegistry(engine *sandbox.Engine, log *zap.Logger) *Registry {
	return New(engine, log)
}

var Module = fx.Options(fx.Provide(ProvideRegistry))
