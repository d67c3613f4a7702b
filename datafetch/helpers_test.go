package datafetch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, f Fetcher, opts ...Option) *Client {
	t.Helper()
	c := New(append([]Option{WithFetcher(f)}, opts...)...)
	require.NoError(t, c.ValidationError())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func okResponse(body string) *Response {
	return &Response{Payload: json.RawMessage(body), StatusCode: 200}
}

// fastConfig keeps real backoff waits in the low milliseconds.
func fastConfig() RequestConfig {
	return RequestConfig{
		Timeout:        time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		TTL:            5 * time.Minute,
	}
}

func transientErr(path string) error {
	return &FetchError{Kind: KindTransient, Message: "connection reset", Path: path}
}
