// Package storage implements the pluggable Storage Backend: a
// deterministic URL-to-path mapping plus exists/save/retrieve/delete,
// backed by either the local filesystem or an S3-compatible object
// store.
package storage

import (
	"context"
	"io"
	"net/http"
)

// Response is the shape the File Service serves regardless of which
// backend produced it: either a body to stream (local) or a redirect
// (S3), so callers never branch on backend. It is a separate type from
// the *kvstore.CacheEntry that the Upstream Fetcher returns.
type Response struct {
	StatusCode  int
	Headers     http.Header
	Body        io.ReadCloser
	RedirectURL string
}

// Backend is the capability interface both storage implementations
// satisfy. Every method is keyed by the original upstream URL, not a
// pre-computed path, so BuildPath's parsing rules are the only place
// that decides layout.
type Backend interface {
	// BuildPath derives the deterministic storage path for an
	// upstream file URL.
	BuildPath(rawURL string) (string, error)

	// Check reports whether the file is present and fully written.
	// A local backend must report false while a save is in progress.
	Check(ctx context.Context, rawURL string) (bool, error)

	// Save streams the file from fetch into storage and returns the
	// backend-specific locator (local path or object key).
	Save(ctx context.Context, rawURL string, fetch func(context.Context) (io.ReadCloser, error)) (string, error)

	// Retrieve serves the file, either as a stream (local) or a
	// redirect (S3).
	Retrieve(ctx context.Context, rawURL string) (*Response, error)

	// Delete removes the file, used by the prune collaborator.
	Delete(ctx context.Context, rawURL string) error

	// Close releases backend resources.
	Close() error
}
