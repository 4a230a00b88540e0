// Package fileservice implements the single entry point behind
// GET /file/<filekey>: resolve a filekey to its upstream URL, serve it
// from storage if present, otherwise enqueue a background download and
// either redirect to upstream or fail closed, depending on policy.
package fileservice

import (
	"context"
	"net/http"
	"time"

	"github.com/groxpi/groxpi-redis/internal/config"
	"github.com/groxpi/groxpi-redis/internal/filekey"
	"github.com/groxpi/groxpi-redis/internal/kvstore"
	"github.com/groxpi/groxpi-redis/internal/logger"
	"github.com/groxpi/groxpi-redis/internal/storage"
)

// KV is the subset of kvstore.Client the File Service needs.
type KV interface {
	GetURLForFilekey(ctx context.Context, filekey string) (url string, ok bool, err error)
	EnqueueJob(ctx context.Context, url string) error
	HasJob(ctx context.Context, url string) (bool, error)
	TouchFileURL(ctx context.Context, url string) error
}

// MetaCache is the subset of metacache.Cache needed for the PyPI
// recovery path.
type MetaCache interface {
	Get(ctx context.Context, url string, ttl time.Duration) (kvstore.CacheEntry, error)
}

// Rewriter is the subset of rewrite.Rewriter needed for the recovery
// path: re-running the simple-page rewrite registers fresh filekey
// bindings as a side effect.
type Rewriter interface {
	RewriteHTML(ctx context.Context, payload []byte) ([]byte, error)
}

// Service implements Serve.
type Service struct {
	kv          KV
	storage     storage.Backend
	metacache   MetaCache
	rewriter    Rewriter
	packageType config.PackageType
	upstreamURL string
	strict      bool
	cacheTTL    time.Duration
}

// New builds a Service bound to one package-type's routing rules.
func New(kv KV, backend storage.Backend, metacache MetaCache, rewriter Rewriter, cfg *config.Config) *Service {
	return &Service{
		kv:          kv,
		storage:     backend,
		metacache:   metacache,
		rewriter:    rewriter,
		packageType: cfg.PackageType,
		upstreamURL: cfg.UpstreamURL,
		strict:      cfg.UpstreamStrict,
		cacheTTL:    cfg.CacheTime,
	}
}

// Serve resolves filekey and returns the response to hand the client:
// a file stream or redirect from storage, a redirect to upstream on a
// permissive miss, 503 on a strict miss, or 404/400 for an
// unresolvable filekey.
func (s *Service) Serve(ctx context.Context, key string) (*storage.Response, error) {
	url, ok, err := s.kv.GetURLForFilekey(ctx, key)
	if err != nil {
		return nil, err
	}

	if !ok {
		url, ok, err = s.recover(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			if s.packageType == config.PackageNpm {
				return &storage.Response{StatusCode: http.StatusBadRequest}, nil
			}
			return &storage.Response{StatusCode: http.StatusNotFound}, nil
		}
	}

	if err := s.kv.TouchFileURL(ctx, url); err != nil {
		logger.GetLogger().Warn().Err(err).Str("url", url).Msg("touch file url")
	}

	present, err := s.storage.Check(ctx, url)
	if err != nil {
		return nil, err
	}
	if present {
		return s.storage.Retrieve(ctx, url)
	}

	return s.enqueueAndRespond(ctx, url)
}

// recover implements the PyPI-only safety net: derive the project
// name from the filekey, re-run the Rewriter over the upstream simple
// page (which registers fresh bindings), and retry the lookup once.
// npm mode has no equivalent recovery; a 400 is returned by the
// caller.
func (s *Service) recover(ctx context.Context, key string) (url string, ok bool, err error) {
	if s.packageType == config.PackageNpm {
		return "", false, nil
	}

	project, ok := filekey.ProjectFromFilename(key)
	if !ok {
		return "", false, nil
	}

	indexURL := s.upstreamURL + "/simple/" + project + "/"
	entry, fetchErr := s.metacache.Get(ctx, indexURL, s.cacheTTL)
	if fetchErr != nil {
		logger.GetLogger().Warn().Err(fetchErr).Str("project", project).Msg("recovery fetch failed")
		return "", false, nil
	}
	if entry.StatusCode != http.StatusOK {
		return "", false, nil
	}

	if _, err := s.rewriter.RewriteHTML(ctx, entry.Content); err != nil {
		logger.GetLogger().Warn().Err(err).Str("project", project).Msg("recovery rewrite failed")
		return "", false, nil
	}

	return s.kv.GetURLForFilekey(ctx, key)
}

// enqueueAndRespond queues url for background download (idempotent in
// net effect, regardless of whether it was already pending) and
// returns the miss response dictated by strict/permissive policy.
func (s *Service) enqueueAndRespond(ctx context.Context, url string) (*storage.Response, error) {
	// HasJob both probes and removes (the source's lrem-count=0
	// semantics); we don't use its boolean here, only its side
	// effect, then unconditionally re-enqueue so the net effect is
	// "present exactly once at the tail" whether or not it was
	// already queued.
	if _, err := s.kv.HasJob(ctx, url); err != nil {
		return nil, err
	}
	if err := s.kv.EnqueueJob(ctx, url); err != nil {
		return nil, err
	}

	if s.strict {
		return &storage.Response{StatusCode: http.StatusServiceUnavailable}, nil
	}
	return &storage.Response{StatusCode: http.StatusFound, RedirectURL: url}, nil
}
