// Package chatapi is a typed wrapper over the chat platform's REST API
// (spec §4.2, C2). No chat-platform SDK appears anywhere in the retrieved
// example pack, so the transport is hand-rolled net/http, grounded in the
// reference codebase's own raw-HTTP embedding client style.
package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"chatvector/internal/errs"
	"chatvector/internal/logging"
	"chatvector/internal/model"
	"chatvector/internal/ratelimit"
)

const (
	userCacheTTL    = 24 * time.Hour
	channelCacheTTL = 24 * time.Hour

	// Endpoint tags, matching the platform's own rate-limit families.
	EndpointConversationsHistory = "conversations.history"
	EndpointConversationsReplies = "conversations.replies"
	EndpointUsersInfo            = "users.info"
	EndpointConversationsInfo    = "conversations.info"
	EndpointReactionsGet         = "reactions.get"
	EndpointFilesInfo            = "files.info"
	EndpointCanvasesRead         = "canvases.read"

	providerChat = "chat"
)

// Client wraps the chat platform's REST API with rate governance, caching,
// and retrying.
type Client struct {
	http      *http.Client
	baseURL   string
	token     string
	gov       *ratelimit.Governor
	log       zerolog.Logger
	rateLimit int

	users    *ttlCache[model.User]
	channels *ttlCache[model.Channel]
}

// NewClient constructs a Client. baseURL defaults to the platform's public
// API root when empty.
func NewClient(token, baseURL string, gov *ratelimit.Governor, ratePerMinute int) *Client {
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		gov:       gov,
		log:       logging.For("chatapi"),
		rateLimit: ratePerMinute,
		users:     newTTLCache[model.User](userCacheTTL, nil),
		channels:  newTTLCache[model.Channel](channelCacheTTL, nil),
	}
	for _, ep := range []string{
		EndpointConversationsHistory, EndpointConversationsReplies, EndpointUsersInfo,
		EndpointConversationsInfo, EndpointReactionsGet, EndpointFilesInfo, EndpointCanvasesRead,
	} {
		gov.Configure(providerChat, ep, ratePerMinute)
	}
	return c
}

// get performs a rate-governed, retried GET against endpoint with query
// params, decoding the JSON response body into out. Transient network
// errors retry up to 3 times with exponential backoff starting at 1s,
// jittered +/-25% (spec §4.2).
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := c.gov.Acquire(ctx, providerChat, endpoint, c.rateLimit); err != nil {
		return err
	}

	op := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/"+endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, err // retryable: network error
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			c.gov.NotifyRetryAfter(providerChat, endpoint, retryAfter)
			return struct{}{}, fmt.Errorf("rate limited by upstream")
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return struct{}{}, backoff.Permanent(errs.New(errs.KindAuthUpstream, false, "chat platform rejected credentials (status %d)", resp.StatusCode))
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return struct{}{}, err
		}
		if resp.StatusCode >= 500 {
			return struct{}{}, fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return struct{}{}, backoff.Permanent(errs.Wrap(errs.KindUpstreamInvalid, false, err, "malformed response from %s", endpoint))
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&jitteredBackoff{base: time.Second}),
		backoff.WithMaxTries(4), // 1 initial + 3 retries
	)
	if err != nil {
		return classify(err, endpoint)
	}
	return nil
}

func classify(err error, endpoint string) error {
	if _, ok := errs.KindOf(err); ok {
		return err
	}
	return errs.Wrap(errs.KindUpstreamTimeout, true, err, "calling %s", endpoint)
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 2 * time.Second
	}
	if secs, err := time.ParseDuration(h + "s"); err == nil {
		return secs
	}
	return 2 * time.Second
}

// jitteredBackoff implements backoff.BackOff with exponential growth
// starting at base and +/-25% jitter, per spec §4.2.
type jitteredBackoff struct {
	base    time.Duration
	attempt int
}

func (j *jitteredBackoff) NextBackOff() time.Duration {
	d := j.base << j.attempt
	j.attempt++
	jitter := time.Duration(float64(d) * (rand.Float64()*0.5 - 0.25))
	return d + jitter
}
