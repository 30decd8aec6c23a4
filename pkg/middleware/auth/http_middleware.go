package auth

import (
	"net/http"

	"go.uber.org/zap"
)

// Middleware resolves the caller from the bearer token. Requests without a
// usable token continue unauthenticated; handlers decide whether that is a 401.
func (m *Middleware) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Dev bypass for local testing (NEVER enable in prod)
			if m.devBypass {
				if c := devCallerFromHeaders(r); c.Authenticated() {
					next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), c)))
					return
				}
			}

			raw := bearer(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			c, err := m.resolveCaller(raw)
			if err != nil {
				// fall through unauthenticated; do not 401 here
				m.log.Debug("caller not resolved", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), c)))
		})
	}
}
