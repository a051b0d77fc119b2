// Package fetcher downloads remote data with retry, per-host rate limiting,
// and a circuit breaker around flaky upstreams.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}
