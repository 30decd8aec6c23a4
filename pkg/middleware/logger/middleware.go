package logger

import (
	"bytes"
	"io"
	"net/http"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	"github.com/joeydtaylor/composr/pkg/middleware/auth"
	"go.uber.org/zap"
)

// maxLoggedBody caps the request body copied into the access log.
const maxLoggedBody = 1 << 16

type replayBody struct {
	io.Reader
	io.Closer
}

// Middleware writes one access-log line per request.
type Middleware struct {
	access    *zap.Logger
	bodyPaths map[string]struct{}
}

func (m *Middleware) Middleware(ca *auth.Middleware) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimd.NewWrapResponseWriter(w, r.ProtoMajor)

			// Peek at most maxLoggedBody+1 bytes on allowlisted paths and
			// replay them ahead of the unread rest.
			var body []byte
			if _, ok := m.bodyPaths[r.URL.Path]; ok && r.Body != nil {
				body, _ = io.ReadAll(io.LimitReader(r.Body, maxLoggedBody+1))
				r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(body), r.Body), Closer: r.Body}
			}

			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}

			start := time.Now()
			defer func() {
				lat := time.Since(start)

				isAuth := false
				domain := ""
				subject := ""
				if ca != nil {
					isAuth = ca.IsAuthenticated(r.Context())
					c := ca.GetCaller(r.Context())
					domain = c.Domain
					subject = c.Subject
				}

				log := m.access.With(
					zap.String("dateTime", start.UTC().Format(time.RFC1123)),
					zap.String("requestId", chimd.GetReqID(r.Context())),
					zap.String("httpScheme", scheme),
					zap.Bool("isAuthenticated", isAuth),
					zap.String("domain", domain),
					zap.String("subject", subject),
					zap.String("httpProto", r.Proto),
					zap.String("httpMethod", r.Method),
					zap.String("remoteAddr", r.RemoteAddr),
					zap.String("uri", r.URL.Path),
					zap.Duration("lat", lat),
					zap.Int("responseSize", ww.BytesWritten()),
					zap.Int("status", ww.Status()),
				)

				// Redact by default; allowlist small JSON bodies only.
				if m.shouldLogBody(r, body) {
					log.Info("", zap.ByteString("requestData", body))
				} else {
					log.Info("")
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
