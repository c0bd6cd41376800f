// Package fetcher provides the HTTP transport and request pacing used to pull
// archives from the origin.
package fetcher

import (
	"context"
	"net/http"
)

// Fetcher issues a single GET against the origin.
type Fetcher interface {
	// Get performs one request and returns the response with an open body.
	// Non-200 statuses are returned as responses, not errors; the caller
	// decides what they mean and must close the body.
	Get(ctx context.Context, url string) (*http.Response, error)
}
