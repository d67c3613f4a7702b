package datafetch

import "context"

//go:generate mockgen -source=fetcher.go -destination=mock_fetcher_test.go -package=datafetch

// Fetcher performs a single physical fetch of a JSON resource. Failures
// should be *FetchError values so the retry executor can classify them;
// anything else is treated as a transient failure.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req Request) (*Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
