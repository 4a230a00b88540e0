package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/groxpi/groxpi-redis/internal/config"
)

// Local is a filesystem-backed Backend. Saves are atomic via a
// temp-file-then-rename; a sidecar ".lock" marker hides a file from
// Check while its download is in progress, so two racing workers or
// a request arriving mid-save never observe a partial file.
type Local struct {
	baseDir     string
	packageType config.PackageType
}

// NewLocal creates the base directory if needed and returns a Local
// backend rooted there.
func NewLocal(baseDir string, packageType config.PackageType) (*Local, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &Local{baseDir: baseDir, packageType: packageType}, nil
}

func (l *Local) BuildPath(rawURL string) (string, error) {
	return buildPath(l.packageType, rawURL)
}

func (l *Local) fsPath(rawURL string) (string, error) {
	rel, err := l.BuildPath(rawURL)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.baseDir, filepath.FromSlash(rel)), nil
}

func (l *Local) lockPath(fsPath string) string {
	return fsPath + ".lock"
}

func (l *Local) Check(ctx context.Context, rawURL string) (bool, error) {
	fsPath, err := l.fsPath(rawURL)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(l.lockPath(fsPath)); err == nil {
		return false, nil
	}
	if _, err := os.Stat(fsPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat file: %w", err)
	}
	return true, nil
}

func (l *Local) Save(ctx context.Context, rawURL string, fetch func(context.Context) (io.ReadCloser, error)) (string, error) {
	fsPath, err := l.fsPath(rawURL)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(fsPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	lock := l.lockPath(fsPath)
	lockFile, err := os.OpenFile(lock, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create lock marker: %w", err)
	}
	_ = lockFile.Close()
	defer os.Remove(lock)

	body, err := fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch file: %w", err)
	}
	defer body.Close()

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.CopyBuffer(tmpFile, body, make([]byte, 1024)); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpPath, fsPath); err != nil {
		return "", fmt.Errorf("move file into place: %w", err)
	}

	rel, _ := l.BuildPath(rawURL)
	return rel, nil
}

func (l *Local) Retrieve(ctx context.Context, rawURL string) (*Response, error) {
	fsPath, err := l.fsPath(rawURL)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fsPath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &Response{
		StatusCode: http.StatusOK,
		Headers:    http.Header{},
		Body:       file,
	}, nil
}

func (l *Local) Delete(ctx context.Context, rawURL string) error {
	fsPath, err := l.fsPath(rawURL)
	if err != nil {
		return err
	}
	if err := os.Remove(fsPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (l *Local) Close() error { return nil }
