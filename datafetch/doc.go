// Package datafetch is the resilient data-fetching layer behind the tracker
// dashboard. It loads the JSON documents the weekly ETL job publishes and
// layers the following around a pluggable Fetcher:
//
//   - A bounded TTL cache with oldest-insertion eviction and a background sweep
//   - Per-request retries with exact exponential backoff and per-attempt timeouts
//   - Request de-duplication (one physical request per key, shared by every caller)
//   - Per-endpoint metrics history plus Prometheus collectors
//   - A Controller that keeps one resource loaded for a consumer, with
//     stale-while-revalidate, focus/reconnect revalidation and fallbacks
//
// Typical usage:
//
//	fetcher, _ := datafetch.NewHTTPFetcher("https://example.org/data/")
//	client := datafetch.New(
//	    datafetch.WithFetcher(fetcher),
//	    datafetch.WithMaxEntries(100),
//	)
//	defer client.Close()
//
//	res, err := client.Fetch(ctx, "weekly_stats.json", datafetch.RequestConfig{TTL: 5 * time.Minute})
//
// Every failure is a *FetchError; use errors.Is against ErrTimeout,
// ErrAborted, ErrClient, ErrTransient, ErrExhaustedRetries or ErrParse.
package datafetch
