// Package server wires the core collaborators — Metadata Cache,
// Rewriter, File Service — behind the HTTP route tables for PyPI mode
// and npm mode.
package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/groxpi/groxpi-redis/internal/cache"
	"github.com/groxpi/groxpi-redis/internal/config"
	"github.com/groxpi/groxpi-redis/internal/filekey"
	"github.com/groxpi/groxpi-redis/internal/fileservice"
	"github.com/groxpi/groxpi-redis/internal/kvstore"
	"github.com/groxpi/groxpi-redis/internal/logger"
	"github.com/groxpi/groxpi-redis/internal/metacache"
	"github.com/groxpi/groxpi-redis/internal/rewrite"
	"github.com/groxpi/groxpi-redis/internal/storage"
	"github.com/groxpi/groxpi-redis/internal/upstream"
)

// Server owns the gin router and the collaborators it dispatches to.
type Server struct {
	config      *config.Config
	router      *gin.Engine
	metacache   *metacache.Cache
	rewriter    *rewrite.Rewriter
	fileservice *fileservice.Service
	pages       *cache.RewrittenPages
	sf          singleflight.Group // dedupes concurrent requests for the same index URL
}

// New builds a Server bound to one package type's route set. kv and
// backend are constructed by the caller (cmd/groxpi) so main.go owns
// their lifetimes.
func New(cfg *config.Config, kv *kvstore.Client, backend storage.Backend) *Server {
	gin.SetMode(ginMode(cfg))
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithFormatter(func(p gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %d - %v %s %s\n",
			p.TimeStamp.Format(time.RFC3339), p.StatusCode, p.Latency, p.Method, p.Path)
	}))
	router.Use(gzip.Gzip(gzip.BestSpeed))

	fetcher := upstream.New(cfg)
	mc := metacache.New(kv, fetcher, kvstore.EncodeEntry, kvstore.DecodeEntry)
	// Empty base: /file/ and /<pkg>/-/ links are emitted root-relative,
	// since this config surface has no canonical external hostname.
	rw := rewrite.New(kv, filekey.Mode(cfg.PackageType), "")
	fs := fileservice.New(kv, backend, mc, rw, cfg)

	s := &Server{
		config:      cfg,
		router:      router,
		metacache:   mc,
		rewriter:    rw,
		fileservice: fs,
		pages:       cache.NewRewrittenPages(),
	}
	s.setupRoutes()
	return s
}

func ginMode(cfg *config.Config) string {
	if strings.EqualFold(cfg.LogLevel, "DEBUG") {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	switch s.config.PackageType {
	case config.PackageNpm:
		s.router.GET("/-/npm/v1/keys", s.handleNpmKeys)
		s.router.NoRoute(s.handleNpmCatchAll)
	default:
		s.router.GET("/simple/:project/", s.handleSimpleIndex)
		s.router.GET("/pypi/:project/json", s.handlePyPIJSON)
		s.router.GET("/pypi/:project/:version/json", s.handlePyPIVersionJSON)
		s.router.GET("/file/*filekey", s.handleFile)
		s.router.NoRoute(func(c *gin.Context) { c.String(http.StatusNotFound, "Not Found") })
	}

	s.router.GET("/health", s.handleHealth)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"package_type": s.config.PackageType,
		"upstream_url": s.config.UpstreamURL,
	})
}

// --- PyPI mode ---

func (s *Server) handleSimpleIndex(c *gin.Context) {
	project := normalizePackageName(c.Param("project"))
	url := s.config.UpstreamURL + "/simple/" + project + "/"
	s.serveRewritten(c, url, s.rewriter.RewriteHTML, "text/html")
}

func (s *Server) handlePyPIJSON(c *gin.Context) {
	project := normalizePackageName(c.Param("project"))
	url := s.config.UpstreamURL + "/pypi/" + project + "/json"
	s.serveRewritten(c, url, s.rewriter.RewritePyPIJSON, "application/json")
}

func (s *Server) handlePyPIVersionJSON(c *gin.Context) {
	project := normalizePackageName(c.Param("project"))
	version := c.Param("version")
	url := s.config.UpstreamURL + "/pypi/" + project + "/" + version + "/json"
	s.serveRewritten(c, url, s.rewriter.RewritePyPIJSON, "application/json")
}

func (s *Server) handleFile(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("filekey"), "/")
	resp, err := s.fileservice.Serve(c.Request.Context(), key)
	if err != nil {
		logger.GetLogger().Error().Err(err).Str("filekey", key).Msg("file service error")
		c.Status(http.StatusInternalServerError)
		return
	}
	writeStorageResponse(c, resp)
}

// --- npm mode ---

func (s *Server) handleNpmKeys(c *gin.Context) {
	url := s.config.UpstreamURL + "/-/npm/v1/keys"
	entry, err := s.fetchEntry(c.Request.Context(), url)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	writeCacheEntry(c, entry, "application/json")
}

// handleNpmCatchAll implements both npm routes that can't coexist with
// a gin static route at the root ("/-/npm/v1/keys" above): a package
// document (GET /<packagepath>) or a tarball (GET
// /<packagepath>/-/<filename>), disambiguated by the presence of
// "/-/" in the path.
func (s *Server) handleNpmCatchAll(c *gin.Context) {
	reqPath := strings.TrimPrefix(c.Request.URL.Path, "/")
	if reqPath == "" {
		c.String(http.StatusNotFound, "Not Found")
		return
	}

	if _, _, ok := filekey.ParseNpmPath(reqPath); ok {
		resp, err := s.fileservice.Serve(c.Request.Context(), reqPath)
		if err != nil {
			logger.GetLogger().Error().Err(err).Str("filekey", reqPath).Msg("file service error")
			c.Status(http.StatusInternalServerError)
			return
		}
		writeStorageResponse(c, resp)
		return
	}

	url := s.config.UpstreamURL + "/" + reqPath
	entry, err := s.fetchEntry(c.Request.Context(), url)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if entry.StatusCode != http.StatusOK {
		writeCacheEntry(c, entry, "application/json")
		return
	}

	rewriteFn := s.rewriter.RewriteNpmJSON
	if !bytes.Contains(entry.Content, []byte(`"versions"`)) {
		rewriteFn = s.rewriter.RewriteNpmSingleVersionJSON
	}
	s.serveRewrittenEntry(c, entry, rewriteFn, "application/json")
}

// --- shared response plumbing ---

// serveRewritten fetches url through the Metadata Cache and, for a
// 200 response, applies rewrite (cached by raw payload, per the
// rewritten-output cache-key rule). Non-200 responses bypass
// rewriting entirely and are returned verbatim, matching the
// upstream's negative-cache passthrough.
func (s *Server) serveRewritten(c *gin.Context, url string, rewriteFn func(context.Context, []byte) ([]byte, error), contentType string) {
	entry, err := s.fetchEntry(c.Request.Context(), url)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if entry.StatusCode != http.StatusOK {
		writeCacheEntry(c, entry, contentType)
		return
	}
	s.serveRewrittenEntry(c, entry, rewriteFn, contentType)
}

// fetchEntry wraps the Metadata Cache lookup in singleflight, keyed by
// the upstream URL, so a burst of concurrent requests for the same
// index page collapses into one upstream fetch instead of one per
// request.
func (s *Server) fetchEntry(ctx context.Context, url string) (kvstore.CacheEntry, error) {
	v, err, _ := s.sf.Do(url, func() (interface{}, error) {
		return s.metacache.Get(ctx, url, s.config.CacheTime)
	})
	if err != nil {
		return kvstore.CacheEntry{}, err
	}
	return v.(kvstore.CacheEntry), nil
}

func (s *Server) serveRewrittenEntry(c *gin.Context, entry kvstore.CacheEntry, rewriteFn func(context.Context, []byte) ([]byte, error), contentType string) {
	key := cache.Key(entry.Content)
	body, hit := s.pages.Get(key)
	if !hit {
		rewritten, err := rewriteFn(c.Request.Context(), entry.Content)
		if err != nil {
			logger.GetLogger().Error().Err(err).Msg("rewrite failed")
			c.Status(http.StatusInternalServerError)
			return
		}
		s.pages.Set(key, rewritten, s.config.CacheTime)
		body = rewritten
	}
	c.Data(http.StatusOK, contentType, body)
}

func writeCacheEntry(c *gin.Context, entry kvstore.CacheEntry, contentType string) {
	for _, h := range entry.Headers {
		c.Header(h[0], h[1])
	}
	c.Data(entry.StatusCode, contentType, entry.Content)
}

func writeStorageResponse(c *gin.Context, resp *storage.Response) {
	if resp.RedirectURL != "" {
		c.Redirect(resp.StatusCode, resp.RedirectURL)
		return
	}
	for k, values := range resp.Headers {
		for _, v := range values {
			c.Header(k, v)
		}
	}
	if resp.Body == nil {
		c.Status(resp.StatusCode)
		return
	}
	defer resp.Body.Close()
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		logger.GetLogger().Error().Err(err).Msg("stream file response")
	}
}

// normalizePackageName applies PyPI's case/separator insensitivity
// before any upstream lookup (lowercase, "_" -> "-").
func normalizePackageName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "-")
	return name
}
