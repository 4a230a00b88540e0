package storage

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/groxpi/groxpi-redis/internal/config"
	"github.com/groxpi/groxpi-redis/internal/filekey"
)

var versionStart = regexp.MustCompile(`-(?:[0-9][^-]*)$`)

// buildPath derives a deterministic storage path for rawURL under the
// given package type: "<name>/<version>/<filename>" for PyPI (parsed
// from the wheel/sdist filename grammar) or "<package>/<filename>" for
// npm (parsed from the URL path, which may carry one slash for a
// scoped package).
func buildPath(packageType config.PackageType, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	if packageType == config.PackageNpm {
		pkg, filename, ok := filekey.ParseNpmPath(u.Path)
		if !ok {
			return "", fmt.Errorf("cannot parse npm path: %s", u.Path)
		}
		return path.Join(pkg, filename), nil
	}

	filename := path.Base(u.Path)
	name, version, ok := parseWheelOrSdist(filename)
	if !ok {
		return "", fmt.Errorf("cannot parse pypi filename: %s", filename)
	}
	return path.Join(name, version, filename), nil
}

var sdistSuffixes = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".zip"}

// parseWheelOrSdist extracts the (name, version) pair from a wheel or
// sdist filename, per PEP 427's wheel grammar and the legacy sdist
// naming convention.
func parseWheelOrSdist(filename string) (name, version string, ok bool) {
	if strings.HasSuffix(filename, ".whl") {
		base := strings.TrimSuffix(filename, ".whl")
		parts := strings.Split(base, "-")
		if len(parts) < 2 {
			return "", "", false
		}
		return parts[0], parts[1], true
	}

	for _, suffix := range sdistSuffixes {
		if strings.HasSuffix(filename, suffix) {
			base := strings.TrimSuffix(filename, suffix)
			loc := versionStart.FindStringIndex(base)
			if loc == nil {
				return base, "", true
			}
			return base[:loc[0]], base[loc[0]+1:], true
		}
	}

	return "", "", false
}
