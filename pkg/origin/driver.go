package origin

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/joeydtaylor/composr/pkg/codec"
	"github.com/joeydtaylor/composr/pkg/sandbox"
	"go.uber.org/zap"
)

var _ sandbox.Driver = (*Client)(nil)

// Do serves the handler-side driver. Paths are relative to the origin base
// URL. A caller token is forwarded as is; without one the request goes out
// with the service credentials.
func (c *Client) Do(ctx context.Context, token string, dr sandbox.DriverRequest) (*sandbox.DriverResponse, error) {
	if strings.Contains(dr.Path, "://") {
		return nil, fmt.Errorf("driver path must be relative to the origin: %q", dr.Path)
	}
	method := dr.Method
	if method == "" {
		method = http.MethodGet
	}
	body, ct, err := newBody(dr.Body)
	if err != nil {
		return nil, fmt.Errorf("driver body: %w", err)
	}
	u := c.base + "/" + strings.TrimLeft(dr.Path, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", codec.JSON.ContentType())
	if ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	hc := c.service
	if token != "" {
		hc = c.plain
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("driver %s %s: %w", method, dr.Path, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("driver %s %s: read body: %w", method, dr.Path, err)
	}

	out := &sandbox.DriverResponse{Status: res.StatusCode, Headers: make(map[string]string, len(res.Header))}
	for k := range res.Header {
		out.Headers[strings.ToLower(k)] = res.Header.Get(k)
	}
	if len(raw) > 0 {
		out.Data = string(raw)
		if mt, _, _ := mime.ParseMediaType(res.Header.Get("Content-Type")); strings.HasSuffix(mt, "json") {
			var v any
			if err := codec.JSON.Unmarshal(raw, &v); err == nil {
				out.Data = v
			} else {
				c.log.Debug("driver response is not valid json", zap.String("path", dr.Path), zap.Error(err))
			}
		}
	}
	return out, nil
}
