package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/groxpi/groxpi-redis/internal/config"
)

// S3 is an S3-compatible object-store Backend. A public bucket serves
// Retrieve as a permanent redirect to the bucket's canonical URL with
// query parameters stripped; a private bucket serves a short-lived
// presigned URL instead.
type S3 struct {
	client      *minio.Client
	bucket      string
	prefix      string
	public      bool
	keyTTL      time.Duration
	packageType config.PackageType
}

// NewS3 connects to the configured S3-compatible endpoint and ensures
// the bucket exists.
func NewS3(cfg *config.Config) (*S3, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure:       cfg.S3UseSSL,
		Region:       cfg.S3Region,
		BucketLookup: bucketLookup(cfg.S3ForcePathStyle),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.S3Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.S3Bucket, minio.MakeBucketOptions{Region: cfg.S3Region}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &S3{
		client:      client,
		bucket:      cfg.S3Bucket,
		prefix:      strings.Trim(cfg.S3Prefix, "/"),
		public:      cfg.S3Public,
		keyTTL:      cfg.S3KeyTTL,
		packageType: cfg.PackageType,
	}, nil
}

func bucketLookup(forcePathStyle bool) minio.BucketLookupType {
	if forcePathStyle {
		return minio.BucketLookupPath
	}
	return minio.BucketLookupAuto
}

func (s *S3) BuildPath(rawURL string) (string, error) {
	rel, err := buildPath(s.packageType, rawURL)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return rel, nil
	}
	return s.prefix + "/" + rel, nil
}

func (s *S3) Check(ctx context.Context, rawURL string) (bool, error) {
	key, err := s.BuildPath(rawURL)
	if err != nil {
		return false, err
	}
	_, err = s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

func (s *S3) Save(ctx context.Context, rawURL string, fetch func(context.Context) (io.ReadCloser, error)) (string, error) {
	key, err := s.BuildPath(rawURL)
	if err != nil {
		return "", err
	}

	body, err := fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch file: %w", err)
	}
	defer body.Close()

	// size is unknown ahead of time; -1 tells minio to use the
	// streaming multi-part uploader. A single atomic PutObject is
	// relied on for correctness under concurrent workers racing the
	// same key: the object simply ends up with whichever writer
	// finished last.
	if _, err := s.client.PutObject(ctx, s.bucket, key, body, -1, minio.PutObjectOptions{}); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	return key, nil
}

func (s *S3) Retrieve(ctx context.Context, rawURL string) (*Response, error) {
	key, err := s.BuildPath(rawURL)
	if err != nil {
		return nil, err
	}

	if s.public {
		// A public bucket's URL is stable, so the redirect is
		// permanent, unlike the presigned URL below which expires.
		publicURL := fmt.Sprintf("%s://%s/%s/%s", s.scheme(), s.client.EndpointURL().Host, s.bucket, key)
		return &Response{StatusCode: http.StatusMovedPermanently, RedirectURL: stripQuery(publicURL)}, nil
	}

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.keyTTL, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("presign object: %w", err)
	}
	return &Response{StatusCode: http.StatusFound, RedirectURL: presigned.String()}, nil
}

func (s *S3) Delete(ctx context.Context, rawURL string) error {
	key, err := s.BuildPath(rawURL)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *S3) Close() error { return nil }

func (s *S3) scheme() string {
	if s.client.EndpointURL().Scheme != "" {
		return s.client.EndpointURL().Scheme
	}
	return "https"
}

func stripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}
