package filekey

import "testing"

func TestDerive_PyPIPreservesFragment(t *testing.T) {
	got, err := Derive(PyPI, "https://files.pythonhosted.org/packages/aa/requests-1.0.tar.gz#sha256=abc")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	want := "requests-1.0.tar.gz#sha256=abc"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDerive_IsDeterministic(t *testing.T) {
	url := "https://files.pythonhosted.org/packages/aa/requests-1.0.tar.gz#sha256=abc"
	a, _ := Derive(PyPI, url)
	b, _ := Derive(PyPI, url)
	if a != b {
		t.Errorf("expected deterministic output, got %q and %q", a, b)
	}
}

func TestDerive_NpmUsesFullPath(t *testing.T) {
	got, err := Derive(Npm, "https://registry.npmjs.org/lodash/-/lodash-4.17.21.tgz")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	want := "lodash/-/lodash-4.17.21.tgz"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDerive_SanitizesSeparator(t *testing.T) {
	got, err := Derive(Npm, "https://registry.npmjs.org/@scope:weird/-/pkg-1.0.0.tgz")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if contains(got, ":") {
		t.Errorf("expected ':' substituted, got %q", got)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestProjectFromFilename_Wheel(t *testing.T) {
	cases := map[string]string{
		"requests-2.31.0-py3-none-any.whl": "requests",
		"Django-4.2.7-py3-none-any.whl":     "django",
		"my_project-1.0-py3-none-any.whl":   "my-project",
	}
	for filename, want := range cases {
		got, ok := ProjectFromFilename(filename)
		if !ok {
			t.Errorf("%s: expected ok", filename)
			continue
		}
		if got != want {
			t.Errorf("%s: got %q, want %q", filename, got, want)
		}
	}
}

func TestProjectFromFilename_Sdist(t *testing.T) {
	cases := map[string]string{
		"requests-2.31.0.tar.gz": "requests",
		"numpy-1.26.0.zip":       "numpy",
	}
	for filename, want := range cases {
		got, ok := ProjectFromFilename(filename)
		if !ok {
			t.Errorf("%s: expected ok", filename)
			continue
		}
		if got != want {
			t.Errorf("%s: got %q, want %q", filename, got, want)
		}
	}
}

func TestProjectFromFilename_StripsFragment(t *testing.T) {
	got, ok := ProjectFromFilename("requests-2.31.0.tar.gz#sha256=abc")
	if !ok || got != "requests" {
		t.Errorf("got %q ok=%v", got, ok)
	}
}

func TestProjectFromFilename_UnknownExtension(t *testing.T) {
	_, ok := ProjectFromFilename("readme.txt")
	if ok {
		t.Error("expected not ok for unrecognized extension")
	}
}

func TestParseNpmPath(t *testing.T) {
	pkg, filename, ok := ParseNpmPath("/lodash/-/lodash-4.17.21.tgz")
	if !ok || pkg != "lodash" || filename != "lodash-4.17.21.tgz" {
		t.Errorf("got pkg=%q filename=%q ok=%v", pkg, filename, ok)
	}

	pkg, filename, ok = ParseNpmPath("/@scope/pkg/-/pkg-1.0.0.tgz")
	if !ok || pkg != "@scope/pkg" || filename != "pkg-1.0.0.tgz" {
		t.Errorf("scoped: got pkg=%q filename=%q ok=%v", pkg, filename, ok)
	}

	_, _, ok = ParseNpmPath("/no-separator-here")
	if ok {
		t.Error("expected not ok without /-/ separator")
	}
}
