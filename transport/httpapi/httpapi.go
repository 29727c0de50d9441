// Package httpapi talks to the ticket API over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.trai.ch/zerr"

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/codec"
	"github.com/unkn0wn-root/querysync/transport"
)

const defaultTimeout = 15 * time.Second

var (
	ErrBaseURL      = zerr.New("invalid API base URL")
	ErrBodyTooLarge = zerr.New("response body too large")
)

type Config struct {
	BaseURL   string        // e.g. https://api.example.com/api
	Token     string        // bearer token; empty sends no Authorization header
	Timeout   time.Duration // 0 => 15s
	Format    codec.Format  // request encoding and preferred response encoding; "" => json
	UserAgent string
	Client    *http.Client // nil => a client with Timeout
}

type Client struct {
	base   *url.URL
	token  string
	format codec.Format
	ua     string
	hc     *http.Client
}

var _ transport.Transport = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, zerr.With(zerr.Wrap(ErrBaseURL, "parse"), "base_url", cfg.BaseURL)
	}
	format := cfg.Format
	if format == "" {
		format = codec.FormatJSON
	}
	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "querysync-inbox"
	}
	return &Client{base: u, token: cfg.Token, format: format, ua: ua, hc: hc}, nil
}

func (c *Client) Fetch(ctx context.Context, resource string, params transport.Params) (transport.Response, error) {
	return c.do(ctx, http.MethodGet, resource, params, transport.Payload{})
}

func (c *Client) Send(ctx context.Context, op transport.Op, resource string, body transport.Payload) (transport.Response, error) {
	return c.do(ctx, op.Method(), resource, nil, body)
}

func (c *Client) do(ctx context.Context, method, resource string, params transport.Params, body transport.Payload) (transport.Response, error) {
	u := *c.base
	u.Path = u.Path + "/" + strings.TrimLeft(resource, "/")
	u.RawQuery = params.Encode()

	var rd io.Reader
	if len(body.Body) > 0 {
		rd = bytes.NewReader(body.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return transport.Response{}, zerr.With(zerr.Wrap(err, "build request"), "resource", resource)
	}
	req.Header.Set("Accept", c.accept())
	req.Header.Set("User-Agent", c.ua)
	if rd != nil {
		req.Header.Set("Content-Type", coalesce(body.ContentType, c.format.ContentType()))
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return transport.Response{}, ctxErr
		}
		return transport.Response{}, &querysync.NetworkError{Op: method, Resource: resource, Err: err}
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, transport.MaxBody+1))
	if err != nil {
		return transport.Response{}, &querysync.NetworkError{Op: method, Resource: resource, Err: err}
	}
	if len(b) > transport.MaxBody {
		return transport.Response{}, zerr.With(zerr.Wrap(ErrBodyTooLarge, "read response"), "resource", resource)
	}

	resp := transport.Response{Status: res.StatusCode, ContentType: res.Header.Get("Content-Type"), Body: b}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return transport.Response{}, &querysync.ServerError{Status: res.StatusCode, Message: errorMessage(resp)}
	}
	return resp, nil
}

// accept prefers the configured format and falls back to JSON.
func (c *Client) accept() string {
	if c.format == codec.FormatJSON {
		return c.format.ContentType()
	}
	return c.format.ContentType() + ", application/json;q=0.9"
}

// errorMessage extracts the API's {"error": "..."} or {"message": "..."}
// body, else the status text.
func errorMessage(r transport.Response) string {
	if len(r.Body) > 0 {
		if m, err := transport.Decode[map[string]any](r); err == nil {
			for _, k := range []string{"error", "message"} {
				if s, ok := m[k].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return http.StatusText(r.Status)
}

func coalesce(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
