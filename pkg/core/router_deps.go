package core

import (
	"net/http"
	"time"

	"github.com/joeydtaylor/composr/pkg/bus"
	"github.com/joeydtaylor/composr/pkg/middleware/auth"
	"github.com/joeydtaylor/composr/pkg/middleware/logger"
	"github.com/joeydtaylor/composr/pkg/registry"
	httpx "github.com/joeydtaylor/composr/pkg/transport/httpx"
)

// BusState reports the subscription state; nil when no bus is configured.
type BusState interface {
	State() bus.State
}

// Info is what /version reports.
type Info struct {
	Service string    `json:"service"`
	Version string    `json:"version"`
	Started time.Time `json:"started"`
}

type BuildDeps struct {
	Auth     *auth.Middleware
	LogMW    *logger.Middleware
	Metrics  http.Handler
	Router   httpx.Router
	Registry *registry.Registry
	Bus      BusState
	Info     Info
}
