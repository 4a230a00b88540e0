package rewrite

import (
	"context"
	"strings"
	"testing"

	"github.com/groxpi/groxpi-redis/internal/filekey"
	"github.com/groxpi/groxpi-redis/internal/kvstore"
)

type fakeRegistrar struct {
	bindings []kvstore.FilekeyBinding
}

func (f *fakeRegistrar) BulkPutFilekey(ctx context.Context, bindings []kvstore.FilekeyBinding) error {
	f.bindings = append(f.bindings, bindings...)
	return nil
}

func TestRewriteHTML_RewritesAnchorAndRegistersBinding(t *testing.T) {
	reg := &fakeRegistrar{}
	r := New(reg, filekey.PyPI, "https://proxy.example.com")

	html := `<!DOCTYPE html><html><body><a href="https://files.pythonhosted.org/packages/aa/requests-1.0.tar.gz#sha256=abc">requests-1.0.tar.gz</a></body></html>`

	out, err := r.RewriteHTML(context.Background(), []byte(html))
	if err != nil {
		t.Fatalf("RewriteHTML: %v", err)
	}

	if strings.Contains(string(out), "files.pythonhosted.org") {
		t.Errorf("rewritten page still contains upstream host: %s", out)
	}
	if !strings.Contains(string(out), "https://proxy.example.com/file/requests-1.0.tar.gz#sha256=abc") {
		t.Errorf("expected rewritten href with literal fragment, got: %s", out)
	}

	if len(reg.bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(reg.bindings))
	}
	if reg.bindings[0].URL != "https://files.pythonhosted.org/packages/aa/requests-1.0.tar.gz#sha256=abc" {
		t.Errorf("unexpected bound url: %s", reg.bindings[0].URL)
	}
}

func TestRewriteHTML_RewritesEntityEscapedHref(t *testing.T) {
	reg := &fakeRegistrar{}
	r := New(reg, filekey.PyPI, "https://proxy.example.com")

	// The raw byte stream uses "&amp;" to join query parameters, which
	// html.Tokenizer's TagAttr decodes to a literal "&" - the splice
	// must still locate and replace this href correctly.
	html := `<a href="https://files.pythonhosted.org/packages/aa/requests-1.0.tar.gz?token=abc&amp;sig=def">requests-1.0.tar.gz</a>`

	out, err := r.RewriteHTML(context.Background(), []byte(html))
	if err != nil {
		t.Fatalf("RewriteHTML: %v", err)
	}

	if strings.Contains(string(out), "files.pythonhosted.org") {
		t.Errorf("rewritten page still contains upstream host: %s", out)
	}
	if !strings.Contains(string(out), "https://proxy.example.com/file/requests-1.0.tar.gz") {
		t.Errorf("expected rewritten href, got: %s", out)
	}

	if len(reg.bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(reg.bindings))
	}
	if reg.bindings[0].URL != "https://files.pythonhosted.org/packages/aa/requests-1.0.tar.gz?token=abc&sig=def" {
		t.Errorf("unexpected bound url: %s", reg.bindings[0].URL)
	}
}

func TestRewriteHTML_PreservesNonAnchorBytes(t *testing.T) {
	reg := &fakeRegistrar{}
	r := New(reg, filekey.PyPI, "https://proxy.example.com")

	html := `<html><head><title>Links for requests</title></head><body></body></html>`
	out, err := r.RewriteHTML(context.Background(), []byte(html))
	if err != nil {
		t.Fatalf("RewriteHTML: %v", err)
	}
	if string(out) != html {
		t.Errorf("expected untouched page, got: %s", out)
	}
}

func TestRewritePyPIJSON_RewritesReleasesAndUrls(t *testing.T) {
	reg := &fakeRegistrar{}
	r := New(reg, filekey.PyPI, "https://proxy.example.com")

	payload := `{
		"releases": {"1.0": [{"url": "https://files.pythonhosted.org/packages/aa/requests-1.0.tar.gz"}]},
		"urls": [{"url": "https://files.pythonhosted.org/packages/bb/requests-1.0-py3-none-any.whl"}]
	}`

	out, err := r.RewritePyPIJSON(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("RewritePyPIJSON: %v", err)
	}
	if strings.Contains(string(out), "files.pythonhosted.org") {
		t.Errorf("rewritten json still references upstream host: %s", out)
	}
	if len(reg.bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(reg.bindings))
	}
}

func TestRewriteNpmJSON_RewritesTarballs(t *testing.T) {
	reg := &fakeRegistrar{}
	r := New(reg, filekey.Npm, "https://proxy.example.com")

	payload := `{"versions": {"4.17.21": {"dist": {"tarball": "https://registry.npmjs.org/lodash/-/lodash-4.17.21.tgz"}}}}`

	out, err := r.RewriteNpmJSON(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("RewriteNpmJSON: %v", err)
	}
	if !strings.Contains(string(out), "https://proxy.example.com/lodash/-/lodash-4.17.21.tgz") {
		t.Errorf("expected rewritten tarball url, got: %s", out)
	}
	if len(reg.bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(reg.bindings))
	}
}

func TestRewriteNpmSingleVersionJSON(t *testing.T) {
	reg := &fakeRegistrar{}
	r := New(reg, filekey.Npm, "https://proxy.example.com")

	payload := `{"name": "lodash", "version": "4.17.21", "dist": {"tarball": "https://registry.npmjs.org/lodash/-/lodash-4.17.21.tgz"}}`

	out, err := r.RewriteNpmSingleVersionJSON(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("RewriteNpmSingleVersionJSON: %v", err)
	}
	if !strings.Contains(string(out), "https://proxy.example.com/lodash/-/lodash-4.17.21.tgz") {
		t.Errorf("expected rewritten tarball url, got: %s", out)
	}
}

func TestRewriteHTML_NoLinksNoRegistration(t *testing.T) {
	reg := &fakeRegistrar{}
	r := New(reg, filekey.PyPI, "https://proxy.example.com")

	out, err := r.RewriteHTML(context.Background(), []byte(`<html><body>no links here</body></html>`))
	if err != nil {
		t.Fatalf("RewriteHTML: %v", err)
	}
	if len(reg.bindings) != 0 {
		t.Errorf("expected no bindings, got %d", len(reg.bindings))
	}
	_ = out
}
