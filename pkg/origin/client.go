package origin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joeydtaylor/composr/pkg/codec"
	"github.com/joeydtaylor/composr/pkg/config"
	"github.com/joeydtaylor/composr/pkg/phrase"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
)

// StatusError is a non-2xx answer from the origin store.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("origin %s %s: status %d", e.Method, e.URL, e.Status)
}

// Client reads phrase and snippet documents from the origin store. Its own
// calls authenticate with client credentials when a token URL is configured.
type Client struct {
	base     string
	phrases  string
	snippets string
	pageSize int
	timeout  time.Duration

	service *http.Client // client-credentials authenticated
	plain   *http.Client // caller-token requests
	log     *zap.Logger
}

// New builds a client from cfg. ctx bounds token fetches of the
// client-credentials source.
func New(ctx context.Context, cfg config.Origin, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	plain := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:    20,
			IdleConnTimeout: 30 * time.Second,
		},
		Timeout: timeout,
	}
	service := plain
	if cfg.TokenURL != "" && cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		service = cc.Client(ctx)
		service.Timeout = timeout
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Client{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		phrases:  cfg.PhrasesCol,
		snippets: cfg.SnippetsCol,
		pageSize: pageSize,
		timeout:  timeout,
		service:  service,
		plain:    plain,
		log:      log.With(zap.String("component", "origin")),
	}
}

func (c *Client) PageSize() int { return c.pageSize }

func (c *Client) FetchPhrase(ctx context.Context, id string) (phrase.Phrase, error) {
	var p phrase.Phrase
	err := c.getJSON(ctx, c.resourceURL(c.phrases, id), &p)
	return p, err
}

func (c *Client) FetchSnippet(ctx context.Context, id string) (phrase.Snippet, error) {
	var s phrase.Snippet
	err := c.getJSON(ctx, c.resourceURL(c.snippets, id), &s)
	return s, err
}

// ListPhrases returns one page (0-based) of the phrase collection.
func (c *Client) ListPhrases(ctx context.Context, page int) ([]phrase.Phrase, error) {
	var out []phrase.Phrase
	err := c.getJSON(ctx, c.pageURL(c.phrases, page), &out)
	return out, err
}

// ListSnippets returns one page (0-based) of the snippet collection.
func (c *Client) ListSnippets(ctx context.Context, page int) ([]phrase.Snippet, error) {
	var out []phrase.Snippet
	err := c.getJSON(ctx, c.pageURL(c.snippets, page), &out)
	return out, err
}

func (c *Client) resourceURL(collection, id string) string {
	return c.base + "/resource/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
}

func (c *Client) pageURL(collection string, page int) string {
	q := url.Values{}
	q.Set("api:page", strconv.Itoa(page))
	q.Set("api:pageSize", strconv.Itoa(c.pageSize))
	return c.base + "/resource/" + url.PathEscape(collection) + "?" + q.Encode()
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", codec.JSON.ContentType())
	res, err := c.service.Do(req)
	if err != nil {
		return fmt.Errorf("origin GET %s: %w", u, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("origin GET %s: read body: %w", u, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &StatusError{Method: http.MethodGet, URL: u, Status: res.StatusCode, Body: string(body)}
	}
	if err := codec.JSON.Unmarshal(body, v); err != nil {
		return fmt.Errorf("origin GET %s: %w", u, err)
	}
	return nil
}

// newBody encodes a driver request body. Strings and byte slices are sent as
// they are.
func newBody(v any) (io.Reader, string, error) {
	switch b := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(b), "text/plain; charset=utf-8", nil
	case []byte:
		return bytes.NewReader(b), "application/octet-stream", nil
	}
	raw, err := codec.JSON.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(raw), codec.JSON.ContentType(), nil
}
