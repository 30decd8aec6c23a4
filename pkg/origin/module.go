package origin

import (
	"context"

	"github.com/joeydtaylor/composr/pkg/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideOrigin returns nil when no origin is configured; the bus and the
// bootstrap are then disabled by config validation and handlers get no driver.
func ProvideOrigin(cfg config.Config, log *zap.Logger) *Client {
	if cfg.Origin.BaseURL == "" {
		log.Warn("origin.base_url not set; driver and sync disabled")
		return nil
	}
	return New(context.Background(), cfg.Origin, log)
}

var Module = fx.Options(fx.Provide(ProvideOrigin))
