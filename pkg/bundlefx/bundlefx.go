// bundlefx/bundlefx.go
package bundlefx

import (
	"github.com/joeydtaylor/composr/pkg/middleware/auth"
	"github.com/joeydtaylor/composr/pkg/middleware/logger"
	"github.com/joeydtaylor/composr/pkg/middleware/metrics"
	"go.uber.org/fx"
)

// Module provides the HTTP middleware stack: caller identity, system and
// access loggers, and the named "metrics" handler.
var Module = fx.Options(
	auth.Module,
	logger.Module,
	metrics.Module,
)
