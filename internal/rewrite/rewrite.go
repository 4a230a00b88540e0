// Package rewrite parses upstream index and manifest payloads,
// extracts file URLs, registers each one under a filekey, and
// substitutes the original link with a local /file/<filekey> URL.
package rewrite

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"golang.org/x/net/html"

	"github.com/groxpi/groxpi-redis/internal/filekey"
	"github.com/groxpi/groxpi-redis/internal/kvstore"
)

// Registrar is the subset of kvstore.Client the Rewriter needs to
// register filekey bindings.
type Registrar interface {
	BulkPutFilekey(ctx context.Context, bindings []kvstore.FilekeyBinding) error
}

// Rewriter substitutes upstream file URLs with local proxy links and
// records the (filekey, url) bindings it discovers along the way.
type Rewriter struct {
	kv      Registrar
	mode    filekey.Mode
	baseURL string // e.g. "https://proxy.example.com", no trailing slash
}

// New builds a Rewriter for the given mode (PyPI or npm).
func New(kv Registrar, mode filekey.Mode, baseURL string) *Rewriter {
	return &Rewriter{kv: kv, mode: mode, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (r *Rewriter) fileURL(key string) string {
	return fmt.Sprintf("%s/file/%s", r.baseURL, key)
}

// RewriteHTML rewrites a PyPI simple-page index. Every anchor's href
// is replaced by a local /file/<filekey> link; the fragment carrying
// the hash digest is preserved literally (never percent-encoded,
// since pip parses "#sha256=..." off the raw href).
func (r *Rewriter) RewriteHTML(ctx context.Context, payload []byte) ([]byte, error) {
	z := html.NewTokenizer(bytes.NewReader(payload))
	var out bytes.Buffer
	var bindings []kvstore.FilekeyBinding

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err().Error() == "EOF" {
				break
			}
			return nil, z.Err()
		}

		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			name, hasAttr := z.TagName()
			if string(name) == "a" && hasAttr {
				raw := z.Raw()
				rewritten, key, url, rewroteAny := rewriteAnchorRaw(raw, r)
				out.Write(rewritten)
				if rewroteAny {
					bindings = append(bindings, kvstore.FilekeyBinding{Filekey: key, URL: url})
				}
				continue
			}
		}

		out.Write(z.Raw())
	}

	if err := r.registerBindings(ctx, bindings); err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}

// rewriteAnchorRaw rewrites the href attribute of a raw <a ...> tag
// while leaving every other byte untouched, including attribute
// quoting style and whitespace. html.Tokenizer's Raw() already gives
// us the exact source bytes for the tag; we only splice the href
// value.
func rewriteAnchorRaw(raw []byte, r *Rewriter) (out []byte, derivedKey string, originalURL string, rewrote bool) {
	z := html.NewTokenizer(bytes.NewReader(raw))
	z.Next()
	_, _ = z.TagName()

	var href string
	var hrefFound bool
	for {
		attrKey, val, more := z.TagAttr()
		if string(attrKey) == "href" {
			href = string(val)
			hrefFound = true
		}
		if !more {
			break
		}
	}

	if !hrefFound || href == "" {
		return raw, "", "", false
	}

	fk, err := filekey.Derive(filekey.PyPI, href)
	if err != nil {
		return raw, "", "", false
	}

	newHref := r.fileURL(fk)
	// filekey already carries the fragment; append it to the link
	// unencoded so pip can read the hash digest off the raw URL.
	if idx := strings.IndexByte(fk, '#'); idx >= 0 {
		newHref = fmt.Sprintf("%s/file/%s#%s", r.baseURL, fk[:idx], fk[idx+1:])
	}

	spliced, ok := spliceHrefValue(raw, newHref)
	if !ok {
		return raw, "", "", false
	}

	return spliced, fk, href, true
}

// spliceHrefValue locates the href attribute's value span directly in
// the raw tag bytes and replaces it with newHref, leaving every other
// byte (quoting style, other attributes, whitespace) untouched. It
// operates on byte offsets rather than matching the attribute's
// decoded value, because html.Tokenizer.TagAttr returns the value
// with entities already unescaped (e.g. "&amp;" -> "&"): matching that
// decoded string against the still-encoded raw bytes would silently
// fail to find hrefs containing an escaped character, most commonly a
// literal "&" joining multiple query parameters.
func spliceHrefValue(raw []byte, newHref string) ([]byte, bool) {
	lower := bytes.ToLower(raw)
	for searchFrom := 0; ; {
		rel := bytes.Index(lower[searchFrom:], []byte("href"))
		if rel < 0 {
			return raw, false
		}
		idx := searchFrom + rel
		searchFrom = idx + 1

		j := idx + len("href")
		j = skipSpace(raw, j)
		if j >= len(raw) || raw[j] != '=' {
			continue
		}
		j = skipSpace(raw, j+1)
		if j >= len(raw) {
			continue
		}

		if raw[j] == '"' || raw[j] == '\'' {
			quote := raw[j]
			valStart := j + 1
			end := bytes.IndexByte(raw[valStart:], quote)
			if end < 0 {
				continue
			}
			valEnd := valStart + end
			return spliceBytes(raw, valStart, valEnd, newHref), true
		}

		// Unquoted attribute value, rare but valid HTML.
		valStart := j
		valEnd := valStart
		for valEnd < len(raw) && !isAttrValueBoundary(raw[valEnd]) {
			valEnd++
		}
		return spliceBytes(raw, valStart, valEnd, newHref), true
	}
}

func skipSpace(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return i
}

func isAttrValueBoundary(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '>'
}

func spliceBytes(raw []byte, start, end int, replacement string) []byte {
	var out bytes.Buffer
	out.Write(raw[:start])
	out.WriteString(replacement)
	out.Write(raw[end:])
	return out.Bytes()
}

// RewritePyPIJSON rewrites a /pypi/<proj>/json or
// /pypi/<proj>/<ver>/json payload, substituting every releases[*][*].url
// and urls[*].url.
func (r *Rewriter) RewritePyPIJSON(ctx context.Context, payload []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := sonic.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse pypi json: %w", err)
	}

	var bindings []kvstore.FilekeyBinding

	rewriteURLField := func(m map[string]interface{}) {
		raw, ok := m["url"].(string)
		if !ok || raw == "" {
			return
		}
		fk, err := filekey.Derive(filekey.PyPI, raw)
		if err != nil {
			return
		}
		m["url"] = r.fileURL(fk)
		bindings = append(bindings, kvstore.FilekeyBinding{Filekey: fk, URL: raw})
	}

	if releases, ok := doc["releases"].(map[string]interface{}); ok {
		for _, versionFiles := range releases {
			files, ok := versionFiles.([]interface{})
			if !ok {
				continue
			}
			for _, f := range files {
				if fm, ok := f.(map[string]interface{}); ok {
					rewriteURLField(fm)
				}
			}
		}
	}

	if urls, ok := doc["urls"].([]interface{}); ok {
		for _, f := range urls {
			if fm, ok := f.(map[string]interface{}); ok {
				rewriteURLField(fm)
			}
		}
	}

	if err := r.registerBindings(ctx, bindings); err != nil {
		return nil, err
	}

	return sonic.Marshal(doc)
}

// RewriteNpmJSON rewrites a full npm package document, substituting
// every versions[*].dist.tarball with a local /<package>/-/<filename>
// link.
func (r *Rewriter) RewriteNpmJSON(ctx context.Context, payload []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := sonic.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse npm json: %w", err)
	}

	var bindings []kvstore.FilekeyBinding

	versions, ok := doc["versions"].(map[string]interface{})
	if ok {
		for _, v := range versions {
			vm, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			dist, ok := vm["dist"].(map[string]interface{})
			if !ok {
				continue
			}
			r.rewriteNpmTarball(dist, &bindings)
		}
	}

	if err := r.registerBindings(ctx, bindings); err != nil {
		return nil, err
	}

	return sonic.Marshal(doc)
}

// RewriteNpmSingleVersionJSON rewrites a single-version npm manifest
// (GET /-/npm/.../<package>/<version>), which carries one top-level
// dist.tarball rather than a versions map.
func (r *Rewriter) RewriteNpmSingleVersionJSON(ctx context.Context, payload []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := sonic.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse npm json: %w", err)
	}

	var bindings []kvstore.FilekeyBinding

	if dist, ok := doc["dist"].(map[string]interface{}); ok {
		r.rewriteNpmTarball(dist, &bindings)
	}

	if err := r.registerBindings(ctx, bindings); err != nil {
		return nil, err
	}

	return sonic.Marshal(doc)
}

func (r *Rewriter) rewriteNpmTarball(dist map[string]interface{}, bindings *[]kvstore.FilekeyBinding) {
	raw, ok := dist["tarball"].(string)
	if !ok || raw == "" {
		return
	}
	fk, err := filekey.Derive(filekey.Npm, raw)
	if err != nil {
		return
	}
	pkg, filename, ok := filekey.ParseNpmPath(fk)
	if !ok {
		return
	}
	dist["tarball"] = fmt.Sprintf("%s/%s/-/%s", r.baseURL, pkg, filename)
	*bindings = append(*bindings, kvstore.FilekeyBinding{Filekey: fk, URL: raw})
}

func (r *Rewriter) registerBindings(ctx context.Context, bindings []kvstore.FilekeyBinding) error {
	if len(bindings) == 0 {
		return nil
	}
	return r.kv.BulkPutFilekey(ctx, bindings)
}
