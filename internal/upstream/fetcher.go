// Package upstream performs conditional HTTP GETs against the mirrored
// registry and classifies the result into a cacheable response or a
// retryable failure. It has no knowledge of KV or storage.
package upstream

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/groxpi/groxpi-redis/internal/config"
	"github.com/groxpi/groxpi-redis/internal/kvstore"
)

const userAgent = "mypypi 1.0"

// forbiddenHeaders are stripped from every CacheEntry regardless of
// status code; they are either hop-by-hop or recomputed by the
// serving layer from the final response body.
var forbiddenHeaders = map[string]struct{}{
	"content-encoding":  {},
	"transfer-encoding": {},
	"connection":        {},
	"content-length":    {},
	"server":            {},
	"x-served-by":       {},
	"date":              {},
}

// FailKind distinguishes a transient failure (network error, timeout)
// from a definite upstream-side failure (5xx). Both are retryable from
// the Metadata Cache's point of view; the distinction is for logging.
type FailKind int

const (
	FailTransient FailKind = iota
	FailUpstreamError
)

func (k FailKind) String() string {
	if k == FailUpstreamError {
		return "upstream-error"
	}
	return "transient"
}

// FetchError wraps a classified failure from Fetch.
type FetchError struct {
	Kind FailKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("upstream fetch failed (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher performs GETs against a configured upstream registry.
type Fetcher struct {
	client   *http.Client
	username string
	password string
}

// New builds a Fetcher with a connection-pooled transport tuned the
// same way as the proxy's other outbound HTTP traffic.
func New(cfg *config.Config) *Fetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.DisableSSLVerification,
		},
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	timeout := cfg.ConnectTimeout + cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		username: cfg.UpstreamUsername,
		password: cfg.UpstreamPassword,
	}
}

// Fetch performs a single GET against url and classifies the result.
// A network/transport error yields FailTransient; a 5xx response
// yields FailUpstreamError; both are returned as *FetchError. 4xx
// responses are returned as a successful CacheEntry since negative
// answers are cached like any other.
func (f *Fetcher) Fetch(url string) (*kvstore.CacheEntry, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: FailTransient, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	if f.username != "" {
		req.SetBasicAuth(f.username, f.password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: FailTransient, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: FailTransient, Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &FetchError{Kind: FailUpstreamError, Err: fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)}
	}

	return &kvstore.CacheEntry{
		StatusCode: resp.StatusCode,
		Content:    body,
		Headers:    filterHeaders(resp.Header),
	}, nil
}

// FetchStream performs a GET and hands the caller the response body
// as a stream, for use by Storage.Save which must not buffer the full
// file in memory. The caller owns closing the returned ReadCloser.
func (f *Fetcher) FetchStream(url string) (io.ReadCloser, *http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, &FetchError{Kind: FailTransient, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	if f.username != "" {
		req.SetBasicAuth(f.username, f.password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, &FetchError{Kind: FailTransient, Err: err}
	}

	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, nil, &FetchError{Kind: FailUpstreamError, Err: fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)}
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, nil, &FetchError{Kind: FailUpstreamError, Err: fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)}
	}

	return resp.Body, resp, nil
}

func filterHeaders(h http.Header) [][2]string {
	out := make([][2]string, 0, len(h))
	for name, values := range h {
		if _, forbidden := forbiddenHeaders[strings.ToLower(name)]; forbidden {
			continue
		}
		for _, v := range values {
			out = append(out, [2]string{name, v})
		}
	}
	return out
}

// IsTransient reports whether err is a *FetchError classified as
// transient (as opposed to a definite upstream error).
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == FailTransient
	}
	return false
}
