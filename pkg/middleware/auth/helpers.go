package auth

import "context"

type contextKey struct{ name string }

var callerCtxKey = &contextKey{"caller"}

// WithCaller stores c on ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerCtxKey, c)
}

// CallerFrom returns the caller stored by the middleware, if any.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerCtxKey).(Caller)
	return c, ok && c.Authenticated()
}

func (m *Middleware) GetCaller(ctx context.Context) Caller {
	c, _ := CallerFrom(ctx)
	return c
}

func (m *Middleware) IsAuthenticated(ctx context.Context) bool {
	_, ok := CallerFrom(ctx)
	return ok
}

// IsDomain reports whether the caller belongs to domain.
func (m *Middleware) IsDomain(ctx context.Context, domain string) bool {
	c, ok := CallerFrom(ctx)
	return ok && c.Domain == domain
}
