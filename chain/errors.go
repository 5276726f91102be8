package chain

import (
	"fmt"
	"sort"
	"strings"
)

// SchemaError reports a snapshot response whose shape was not recognized
// after bounded unwrapping. It carries the observed top-level keys so the
// failure is diagnosable instead of a generic parse error.
type SchemaError struct {
	Keys []string
}

func (e *SchemaError) Error() string {
	if len(e.Keys) == 0 {
		return "unrecognized response shape"
	}
	keys := append([]string(nil), e.Keys...)
	sort.Strings(keys)
	return fmt.Sprintf("unrecognized response shape; top-level keys: [%s]", strings.Join(keys, " "))
}

// RateLimitError reports an upstream throttle rejection. Callers must not
// auto-retry the fetch; a user-initiated retry may supersede it.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream rate limit: %s", e.Message)
}

// UpstreamError is an explicit provider-side failure carried in an
// otherwise valid envelope. The message is surfaced to the user.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: %s", e.Message)
}
