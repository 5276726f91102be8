package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	tickdesk "github.com/tickdesk/tickdesk-go"
	"github.com/tickdesk/tickdesk-go/feed"
	"github.com/tickdesk/tickdesk-go/internal/limiter"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient("test-token", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	// The production chain tier is 1 req/3s; tests issue several.
	c.rateLimiter.SetEndpointCategory(endpointOptionChain, limiter.CategoryNonTrading)
	c.rateLimiter.SetEndpointCategory(endpointExpiryList, limiter.CategoryNonTrading)
	return c, srv
}

func TestClient_RequiresAccessToken(t *testing.T) {
	if _, err := NewClient(""); !errors.Is(err, tickdesk.ErrInvalidAccessToken) {
		t.Fatalf("expected ErrInvalidAccessToken, got %v", err)
	}
}

func TestClient_OptionChainRequest(t *testing.T) {
	var gotPath, gotToken string
	var gotBody map[string]any

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("access-token")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"status":"success","data":{"oc":{}}}`))
	})

	if _, err := c.OptionChain(context.Background(), nifty, "2026-08-27"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/optionchain" {
		t.Fatalf("path = %q, want /optionchain", gotPath)
	}
	if gotToken != "test-token" {
		t.Fatalf("access-token header = %q", gotToken)
	}
	if gotBody["UnderlyingScrip"] != float64(13) {
		t.Fatalf("UnderlyingScrip = %v, want 13", gotBody["UnderlyingScrip"])
	}
	if gotBody["UnderlyingSeg"] != feed.SegmentIndex {
		t.Fatalf("UnderlyingSeg = %v", gotBody["UnderlyingSeg"])
	}
	if gotBody["Expiry"] != "2026-08-27" {
		t.Fatalf("Expiry = %v", gotBody["Expiry"])
	}
}

func TestClient_ExpiryListOmitsExpiry(t *testing.T) {
	var gotBody map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"data":["2026-08-27"]}`))
	})

	if _, err := c.ExpiryList(context.Background(), nifty); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := gotBody["Expiry"]; ok {
		t.Fatal("expiry-list request must not carry an Expiry field")
	}
}

func TestClient_NonNumericSecurityID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	bad := feed.Instrument{SecurityID: "abc", ExchangeSegment: feed.SegmentIndex}
	if _, err := c.ExpiryList(context.Background(), bad); !errors.Is(err, tickdesk.ErrInvalidInstrument) {
		t.Fatalf("expected ErrInvalidInstrument, got %v", err)
	}
}

func TestClient_TooManyRequests(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.OptionChain(context.Background(), nifty, "2026-08-27")
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError for HTTP 429, got %v", err)
	}
}

type recordingMetrics struct {
	endpoints []string
	errs      []error
}

func (m *recordingMetrics) SnapshotFetch(endpoint string, err error) {
	m.endpoints = append(m.endpoints, endpoint)
	m.errs = append(m.errs, err)
}

func TestClient_RecordsFetchOutcomes(t *testing.T) {
	fail := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"oc":{}}}`))
	})
	rec := &recordingMetrics{}
	WithClientMetrics(rec)(c)

	if _, err := c.OptionChain(context.Background(), nifty, "2026-08-27"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fail = true
	if _, err := c.OptionChain(context.Background(), nifty, "2026-08-27"); err == nil {
		t.Fatal("expected an error on 429")
	}

	if len(rec.endpoints) != 2 || rec.endpoints[0] != "/optionchain" || rec.endpoints[1] != "/optionchain" {
		t.Fatalf("recorded endpoints = %v", rec.endpoints)
	}
	if rec.errs[0] != nil {
		t.Fatalf("first outcome = %v, want success", rec.errs[0])
	}
	var rl *RateLimitError
	if !errors.As(rec.errs[1], &rl) {
		t.Fatalf("second outcome = %v, want RateLimitError", rec.errs[1])
	}
}

func TestClient_UpstreamErrorBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorMessage":"invalid expiry date"}`))
	})

	_, err := c.OptionChain(context.Background(), nifty, "bogus")
	var up *UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if up.Message != "invalid expiry date" {
		t.Fatalf("message = %q", up.Message)
	}
}
