package core

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimd "github.com/go-chi/chi/v5/middleware"
	hmetrics "github.com/joeydtaylor/composr/pkg/middleware/metrics"
)

// BuildRouter mounts the fixed endpoints and hands every other path to the
// registry.
func BuildRouter(d BuildDeps) http.Handler {
	r := d.Router
	r.Use(chimd.RequestID, chimd.Recoverer, chimd.Heartbeat("/ping"))

	if d.Auth != nil {
		r.Use(d.Auth.Middleware())
		if d.LogMW != nil {
			r.Use(d.LogMW.Middleware(d.Auth))
		}
		// metrics collector that references auth state without copying it
		r.Use(hmetrics.Collect(d.Auth))
	} else if d.LogMW != nil {
		r.Use(d.LogMW.Middleware(nil))
	}

	hmetrics.AddMetricsSkipPaths("/ping", "/metrics", "/healthcheck")
	// label by route pattern; unmatched paths share one label
	hmetrics.SetPathNormalizer(func(req *http.Request) string {
		if rc := chi.RouteContext(req.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				return p
			}
		}
		return "unmatched"
	})

	if d.Metrics != nil {
		r.Get("/metrics", d.Metrics)
	}
	r.Get("/status", statusHandler(d))
	r.Get("/healthcheck", statusHandler(d))
	r.Get("/version", versionHandler(d))

	r.Get("/phrase", withCaller(listPhrases(d.Registry)))
	r.Get("/v1.0/phrase", withCaller(listPhrases(d.Registry)))
	r.Get("/snippet", withCaller(listSnippets(d.Registry)))
	r.Get("/v1.0/snippet", withCaller(listSnippets(d.Registry)))

	r.NotFound(d.Registry)
	r.MethodNotAllowed(d.Registry)
	return r.Mux()
}
