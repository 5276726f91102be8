package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	tickdesk "github.com/tickdesk/tickdesk-go"
	"github.com/tickdesk/tickdesk-go/feed"
	"github.com/tickdesk/tickdesk-go/internal/limiter"
	"github.com/tickdesk/tickdesk-go/utils"
)

// DefaultBaseURL is the broker snapshot REST endpoint.
const DefaultBaseURL = "https://api.dhan.co/v2"

const (
	endpointOptionChain = "/optionchain"
	endpointExpiryList  = "/optionchain/expirylist"
)

// Client calls the snapshot REST endpoints. All calls pass through the
// endpoint rate limiter, so a burst of UI-triggered fetches is serialized
// into the broker's published budget instead of rejected upstream.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	rateLimiter *limiter.HTTPRateLimiter
	metrics     Metrics
	log         zerolog.Logger
}

// Metrics receives the outcome of every snapshot request. Implementations
// must be safe for concurrent use.
type Metrics interface {
	SnapshotFetch(endpoint string, err error)
}

// NewClient creates a snapshot client. The access token is required.
func NewClient(accessToken string, opts ...ClientOption) (*Client, error) {
	if accessToken == "" {
		return nil, tickdesk.ErrInvalidAccessToken
	}
	c := &Client{
		baseURL:     DefaultBaseURL,
		accessToken: accessToken,
		httpClient:  utils.NewHTTPClient(nil),
		rateLimiter: limiter.NewHTTPRateLimiter(),
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// snapshotRequest is the shared body of both snapshot endpoints. The expiry
// is omitted on expiry-list calls.
type snapshotRequest struct {
	UnderlyingSecurityID      int64  `json:"UnderlyingScrip"`
	UnderlyingExchangeSegment string `json:"UnderlyingSeg"`
	Expiry                    string `json:"Expiry,omitempty"`
}

func newSnapshotRequest(inst feed.Instrument, expiry string) (*snapshotRequest, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(inst.SecurityID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: non-numeric security id %q", tickdesk.ErrInvalidInstrument, inst.SecurityID)
	}
	return &snapshotRequest{
		UnderlyingSecurityID:      id,
		UnderlyingExchangeSegment: inst.ExchangeSegment,
		Expiry:                    expiry,
	}, nil
}

// ExpiryList fetches the raw expiry-list response for an underlying.
func (c *Client) ExpiryList(ctx context.Context, inst feed.Instrument) (any, error) {
	req, err := newSnapshotRequest(inst, "")
	if err != nil {
		return nil, err
	}
	return c.post(ctx, endpointExpiryList, req)
}

// OptionChain fetches the raw option-chain response for an underlying and
// expiry.
func (c *Client) OptionChain(ctx context.Context, inst feed.Instrument, expiry string) (any, error) {
	req, err := newSnapshotRequest(inst, expiry)
	if err != nil {
		return nil, err
	}
	return c.post(ctx, endpointOptionChain, req)
}

func (c *Client) post(ctx context.Context, endpoint string, body any) (any, error) {
	decoded, err := c.doPost(ctx, endpoint, body)
	if c.metrics != nil {
		c.metrics.SnapshotFetch(endpoint, err)
	}
	return decoded, err
}

func (c *Client) doPost(ctx context.Context, endpoint string, body any) (any, error) {
	if err := c.rateLimiter.Wait(ctx, endpoint); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("access-token", c.accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	c.log.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("snapshot request")

	var decoded any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Message: fmt.Sprintf("HTTP 429 from %s", endpoint)}
	}
	if resp.StatusCode >= 300 {
		if m, ok := decoded.(map[string]any); ok {
			if err := classifyEnvelopeError(m); err != nil {
				return nil, err
			}
		}
		return nil, &UpstreamError{Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, endpoint)}
	}
	return decoded, nil
}
