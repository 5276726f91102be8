package chain

import (
	"strconv"
	"strings"

	"github.com/tickdesk/tickdesk-go/feed"
)

// The snapshot API wraps responses in zero, one, or sometimes two layers of
// {status, data} envelopes. Unwrapping is bounded: beyond two levels the
// shape is treated as unrecognized rather than guessed at.
const maxUnwrapDepth = 2

var errorMessageKeys = []string{"error", "errorMessage", "error_message", "errorType", "remarks"}
var errorCodeKeys = []string{"errorCode", "error_code", "code"}

// unwrapPayload peels recognized envelopes off a decoded JSON value.
// Arrays are returned as-is; maps carrying an explicit upstream error are
// converted to a typed error; otherwise descent follows the data field up
// to maxUnwrapDepth.
func unwrapPayload(v any) (any, error) {
	for depth := 0; ; depth++ {
		m, ok := v.(map[string]any)
		if !ok {
			return v, nil
		}
		if err := classifyEnvelopeError(m); err != nil {
			return nil, err
		}
		inner, ok := m["data"]
		if !ok || depth >= maxUnwrapDepth {
			return m, nil
		}
		v = inner
	}
}

// classifyEnvelopeError returns a typed error when the map is a recognized
// upstream failure envelope, nil otherwise.
func classifyEnvelopeError(m map[string]any) error {
	msg, _ := feed.ExtractString(m, errorMessageKeys...)
	code, _ := feed.ExtractString(m, errorCodeKeys...)

	if msg == "" {
		if status, ok := feed.ExtractString(m, "status"); ok && isFailureStatus(status) {
			msg, _ = feed.ExtractString(m, "message")
			if msg == "" {
				msg = "upstream reported " + status
			}
		}
	}
	if msg == "" {
		return nil
	}

	if isRateLimited(msg, code) {
		return &RateLimitError{Message: msg}
	}
	return &UpstreamError{Message: msg}
}

func isFailureStatus(status string) bool {
	switch strings.ToLower(status) {
	case "failure", "failed", "error":
		return true
	default:
		return false
	}
}

// isRateLimited matches the throttle signatures observed from the provider:
// a "too many requests" style message, or error code 805 / DH-904. This is
// heuristic, not a documented contract.
func isRateLimited(msg, code string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "too many request") || strings.Contains(lower, "rate limit") {
		return true
	}
	switch strings.ToUpper(code) {
	case "805", "DH-904":
		return true
	}
	return false
}

// numericCodeError implements the observed quirk where the option-chain
// endpoint answers with a single numeric-keyed scalar, e.g. {"805": ""}.
// Best-effort: treated as an upstream error code.
func numericCodeError(m map[string]any) error {
	if len(m) != 1 {
		return nil
	}
	for k, v := range m {
		if _, err := strconv.ParseFloat(strings.TrimSpace(k), 64); err != nil {
			return nil
		}
		switch v.(type) {
		case map[string]any, []any:
			return nil
		}
		msg := "upstream error code " + k
		if isRateLimited("", k) {
			return &RateLimitError{Message: msg}
		}
		return &UpstreamError{Message: msg}
	}
	return nil
}

// schemaErrorFor builds a SchemaError carrying whatever top-level keys the
// value exposed.
func schemaErrorFor(v any) *SchemaError {
	m, ok := v.(map[string]any)
	if !ok {
		return &SchemaError{}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return &SchemaError{Keys: keys}
}
