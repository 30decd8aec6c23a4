package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/joeydtaylor/composr/pkg/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// New builds the middleware from config. hc may be nil.
func New(cfg config.Auth, hc HTTPDoer, log *zap.Logger) *Middleware {
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
			Timeout: 8 * time.Second,
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	claim := cfg.DomainClaim
	if claim == "" {
		claim = "domainId"
	}
	leeway := time.Duration(cfg.LeewaySec) * time.Second
	if leeway < 0 {
		leeway = 0
	}
	return &Middleware{
		httpClient:  hc,
		log:         log.With(zap.String("component", "auth")),
		domainClaim: claim,
		devBypass:   cfg.DevBypass,
		keyURL:      cfg.KeyURL,
		keyKID:      cfg.KeyKID,
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
		leeway:      leeway,
		cacheTTL:    1 * time.Hour, // default; overridable by Cache-Control
	}
}

// ProvideAuthentication wires the middleware into the fx lifecycle. The key is
// fetched on start (non-fatal) and refreshed until stop.
func ProvideAuthentication(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *Middleware {
	m := New(cfg.Auth, nil, log)
	if m.keyURL == "" {
		return m
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(start context.Context) error {
			if err := m.refreshAssertionKey(start); err != nil {
				m.log.Warn("assertion key fetch failed; tokens will be rejected until it loads",
					zap.String("url", m.keyURL), zap.Error(err))
			}
			go m.refreshLoop(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return m
}

var Module = fx.Options(
	fx.Provide(ProvideAuthentication),
)
