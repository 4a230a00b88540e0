// Package filekey derives the short, URL-safe tokens the proxy uses
// to identify files, and the reverse operation of guessing a PyPI
// project name back out of one.
package filekey

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Mode selects which derivation rule applies.
type Mode string

const (
	PyPI Mode = "pypi"
	Npm  Mode = "npm"
)

// safe substitutes the KV key separator so a filekey never collides
// with the namespace structure it is stored under.
func safe(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// Derive computes the filekey for rawURL under the given mode.
//
// PyPI mode: the URL's terminal filename component plus any fragment,
// since filenames are globally unique across PyPI. The fragment (the
// pip hash digest, e.g. "#sha256=...") is preserved literally and
// must never be percent-encoded by a caller building a link from this
// value.
//
// npm mode: the full URL path, since filenames collide across scoped
// packages.
func Derive(mode Mode, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	switch mode {
	case Npm:
		return safe(strings.TrimPrefix(u.Path, "/")), nil
	default:
		name := path.Base(u.Path)
		if u.Fragment != "" {
			name = name + "#" + u.Fragment
		}
		return safe(name), nil
	}
}

// sdistSuffixes covers the source-distribution archive formats that
// pip's index accepts.
var sdistSuffixes = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".zip"}

// ProjectFromFilename recovers the PyPI project name out of a wheel
// or sdist filename, used by the File Service recovery path when a
// filekey has no KV binding. Matches the grammar of PEP 427 (wheel)
// and the legacy sdist naming convention.
func ProjectFromFilename(filename string) (project string, ok bool) {
	// Strip any "#fragment" suffix a filekey may carry.
	if i := strings.IndexByte(filename, '#'); i >= 0 {
		filename = filename[:i]
	}

	if strings.HasSuffix(filename, ".whl") {
		base := strings.TrimSuffix(filename, ".whl")
		parts := strings.Split(base, "-")
		if len(parts) < 2 {
			return "", false
		}
		return normalize(parts[0]), true
	}

	for _, suffix := range sdistSuffixes {
		if strings.HasSuffix(filename, suffix) {
			base := strings.TrimSuffix(filename, suffix)
			// name-version, version may itself contain hyphens; the
			// project name is everything before the last run that
			// looks like a version component. We take the simple,
			// practical heuristic the original tooling relies on:
			// split at the final hyphen when the segment after it
			// starts with a digit; otherwise the whole base is the
			// name.
			idx := lastVersionSplit(base)
			if idx < 0 {
				return normalize(base), true
			}
			return normalize(base[:idx]), true
		}
	}

	return "", false
}

var versionStart = regexp.MustCompile(`-(?:[0-9][^-]*)$`)

func lastVersionSplit(base string) int {
	loc := versionStart.FindStringIndex(base)
	if loc == nil {
		return -1
	}
	return loc[0]
}

// normalize applies PEP 503 project-name canonicalization: lowercase,
// runs of -, _, . collapsed to a single -.
func normalize(name string) string {
	name = strings.ToLower(name)
	var b strings.Builder
	lastSep := false
	for _, r := range name {
		if r == '-' || r == '_' || r == '.' {
			if !lastSep {
				b.WriteByte('-')
				lastSep = true
			}
			continue
		}
		b.WriteRune(r)
		lastSep = false
	}
	return b.String()
}

// ParseNpmPath splits an npm tarball URL path on "/-/" into the
// package name (which may contain one slash for a scoped package) and
// the filename.
func ParseNpmPath(urlPath string) (pkg, filename string, ok bool) {
	urlPath = strings.TrimPrefix(urlPath, "/")
	idx := strings.Index(urlPath, "/-/")
	if idx < 0 {
		return "", "", false
	}
	return urlPath[:idx], urlPath[idx+len("/-/"):], true
}
