package amaterasu

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

const defaultRequestTimeout = 10 * time.Second

// RestClient is the request/response collaborator: plain HTTP request
// builders the engine consults when the cache cannot answer. It never
// runs on the engine's control goroutine.
type RestClient struct {
	http      *fasthttp.Client
	baseURL   string
	token     string
	userAgent string
	limiter   *rate.Limiter
	log       *slog.Logger
}

type RestOption func(*RestClient)

func WithAPIBase(base string) RestOption {
	return func(c *RestClient) { c.baseURL = base }
}

func WithRestLogger(log *slog.Logger) RestOption {
	return func(c *RestClient) { c.log = log }
}

// WithRequestsPerSecond adjusts the client-side request budget.
func WithRequestsPerSecond(n int) RestOption {
	return func(c *RestClient) { c.limiter = rate.NewLimiter(rate.Limit(n), n) }
}

func NewRestClient(token string, opts ...RestOption) *RestClient {
	c := &RestClient{
		http:      &fasthttp.Client{},
		baseURL:   defaultAPIBase,
		token:     token,
		userAgent: "amaterasu (gateway, " + gatewayVersion + ")",
		limiter:   rate.NewLimiter(rate.Limit(40), 40),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do performs one request against the platform API. Every call gets a
// correlation id so retries and failures can be traced in the logs.
func (c *RestClient) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	reqID := uuid.NewString()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bot "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.SetBody(body)
	}

	deadline := time.Now().Add(defaultRequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		c.log.Warn("rest request failed",
			"req_id", reqID, "method", method, "path", path, "err", err)
		return nil, 0, fmt.Errorf("rest %s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	out := append([]byte(nil), resp.Body()...)
	c.log.Debug("rest request",
		"req_id", reqID, "method", method, "path", path, "status", status)

	if status >= 400 {
		if status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden {
			return out, status, fmt.Errorf("%w: rest %s %s: status %d", ErrAuth, method, path, status)
		}
		return out, status, fmt.Errorf("rest %s %s: status %d", method, path, status)
	}
	return out, status, nil
}

type gatewayInfo struct {
	URL string `json:"url"`
}

// GatewayURL asks the platform where the gateway lives. The engine calls
// this once and caches the answer for reconnects.
func (c *RestClient) GatewayURL(ctx context.Context) (string, error) {
	body, _, err := c.do(ctx, fasthttp.MethodGet, "/gateway", nil)
	if err != nil {
		return "", err
	}
	var info gatewayInfo
	if err := jsonIter.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("decode gateway info: %w", err)
	}
	return info.URL, nil
}

// User fetches a profile by id, bypassing the cache.
func (c *RestClient) User(ctx context.Context, id string) (*User, error) {
	body, _, err := c.do(ctx, fasthttp.MethodGet, "/users/"+id, nil)
	if err != nil {
		return nil, err
	}
	var u User
	if err := jsonIter.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &u, nil
}

// CreateDM converts a bare user id into a direct-message channel.
func (c *RestClient) CreateDM(ctx context.Context, recipientID string) (*Channel, error) {
	payload, err := jsonIter.Marshal(map[string]string{"recipient_id": recipientID})
	if err != nil {
		return nil, err
	}
	body, _, err := c.do(ctx, fasthttp.MethodPost, "/users/@me/channels", payload)
	if err != nil {
		return nil, err
	}
	var ch Channel
	if err := jsonIter.Unmarshal(body, &ch); err != nil {
		return nil, fmt.Errorf("decode channel: %w", err)
	}
	return &ch, nil
}

// ChannelWebhooks fetches the live webhook list for a channel.
func (c *RestClient) ChannelWebhooks(ctx context.Context, channelID string) ([]*Webhook, error) {
	body, _, err := c.do(ctx, fasthttp.MethodGet, "/channels/"+channelID+"/webhooks", nil)
	if err != nil {
		return nil, err
	}
	var hooks []*Webhook
	if err := jsonIter.Unmarshal(body, &hooks); err != nil {
		return nil, fmt.Errorf("decode webhooks: %w", err)
	}
	return hooks, nil
}

// CreateMessage posts a message to a channel.
func (c *RestClient) CreateMessage(ctx context.Context, channelID, content string) (*Message, error) {
	payload, err := jsonIter.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, err
	}
	body, _, err := c.do(ctx, fasthttp.MethodPost, "/channels/"+channelID+"/messages", payload)
	if err != nil {
		return nil, err
	}
	var m Message
	if err := jsonIter.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}

// User answers from the cache first and falls back to the request
// service, upserting the result. Call it from handler or caller
// goroutines, never needed on the engine's own.
func (s *Session) User(ctx context.Context, id string) (*User, error) {
	if u := s.cache.User(id); u != nil {
		return u, nil
	}
	if s.rest == nil {
		return nil, nil
	}
	u, err := s.rest.User(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.UpsertUser(u)
	return u, nil
}

// ChannelWebhooks returns the cached list for a channel, re-fetching and
// refilling the slot after a webhooks-update invalidated it.
func (s *Session) ChannelWebhooks(ctx context.Context, channelID string) ([]*Webhook, error) {
	if hooks, ok := s.cache.Webhooks(channelID); ok {
		return hooks, nil
	}
	if s.rest == nil {
		return nil, nil
	}
	hooks, err := s.rest.ChannelWebhooks(ctx, channelID)
	if err != nil {
		return nil, err
	}
	s.cache.SetWebhooks(channelID, hooks)
	return hooks, nil
}
