// Package notify pushes fire-and-forget game events at an external delivery
// service so a player's other devices hear about terminations and presence
// changes. Delivery failures are logged and swallowed; game correctness never
// depends on this path.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/channel27tech/clubmaster-sub003/internal/obslog"
)

type Client struct {
	baseURL string
	http    *fasthttp.Client

	timeout time.Duration
	headers map[string]string
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// NewClient builds a notifier for the given delivery endpoint. An empty base
// URL yields a nil client, and a nil client drops every publish, so wiring
// stays unconditional at the call sites.
func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	c := &Client{
		baseURL: baseURL,
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		timeout: 5 * time.Second,
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type eventBody struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Publish posts one event and returns immediately; the send happens on its
// own goroutine.
func (c *Client) Publish(ctx context.Context, event string, payload any) {
	if c == nil {
		return
	}
	go func() {
		if err := c.post(ctx, event, payload); err != nil {
			obslog.L().Warn("notify_deliver_failed", zap.String("event", event), zap.Error(err))
		}
	}()
}

func (c *Client) post(ctx context.Context, event string, payload any) error {
	body, err := json.Marshal(eventBody{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + "/events")
	req.Header.SetContentType("application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.SetBody(body)

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return fmt.Errorf("notify api error: status=%d", status)
	}
	return nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}
