package manifest

import (
	"testing"

	"github.com/spf13/afero"
)

func TestLoadFallsBackToDefault(t *testing.T) {
	fsys := afero.NewMemMapFs()

	m, err := Load(fsys, "/var/lib/sonic-package-manager/bar", "bar")
	if err != nil {
		t.Fatalf("Load(...): unexpected error: %v", err)
	}

	want := Default("bar")
	if m.Service.Name != want.Service.Name {
		t.Errorf("Service.Name = %q, want %q", m.Service.Name, want.Service.Name)
	}
	if m.Package.SonicVersion.String() != want.Package.SonicVersion.String() {
		t.Errorf("Package.SonicVersion = %q, want %q", m.Package.SonicVersion.String(), want.Package.SonicVersion.String())
	}
	if !m.Service.HostService {
		t.Errorf("Service.HostService = false, want true for synthesized default")
	}
	if m.Service.AsicService {
		t.Errorf("Service.AsicService = true, want false for synthesized default")
	}
}

func TestLoadPrefersJSONOverYAML(t *testing.T) {
	fsys := afero.NewMemMapFs()
	dir := "/var/lib/sonic-package-manager/bar"

	writeFile(t, fsys, dir+"/manifest.json", `{"service": {"name": "from-json"}}`)
	writeFile(t, fsys, dir+"/manifest.yml", "service:\n  name: from-yaml\n")

	m, err := Load(fsys, dir, "bar")
	if err != nil {
		t.Fatalf("Load(...): unexpected error: %v", err)
	}
	if m.Service.Name != "from-json" {
		t.Errorf("Service.Name = %q, want %q", m.Service.Name, "from-json")
	}
}

func TestLoadHostServiceDefaultTrueUnlessExplicit(t *testing.T) {
	tests := map[string]struct {
		reason string
		body   string
		want   bool
	}{
		"Unset":         {body: `{"service": {"name": "bar"}}`, want: true},
		"ExplicitTrue":  {body: `{"service": {"name": "bar", "host-service": true}}`, want: true},
		"ExplicitFalse": {body: `{"service": {"name": "bar", "host-service": false}}`, want: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			dir := "/var/lib/sonic-package-manager/bar"
			writeFile(t, fsys, dir+"/manifest.json", tc.body)

			m, err := Load(fsys, dir, "bar")
			if err != nil {
				t.Fatalf("\n%s\nLoad(...): unexpected error: %v", tc.reason, err)
			}
			if m.Service.HostService != tc.want {
				t.Errorf("\n%s\nService.HostService = %v, want %v", tc.reason, m.Service.HostService, tc.want)
			}
		})
	}
}

func TestLoadParseErrorOnMalformedManifest(t *testing.T) {
	fsys := afero.NewMemMapFs()
	dir := "/var/lib/sonic-package-manager/bar"
	writeFile(t, fsys, dir+"/manifest.json", `{not json`)

	if _, err := Load(fsys, dir, "bar"); err == nil {
		t.Fatalf("Load(...): expected parse error, got none")
	}
}

func TestLoadDependsAndBreaks(t *testing.T) {
	fsys := afero.NewMemMapFs()
	dir := "/var/lib/sonic-package-manager/bar"
	writeFile(t, fsys, dir+"/manifest.json", `{
		"package": {
			"sonic-version": ">=1.0.0",
			"depends": ["baz >=2.0.0"],
			"breaks": ["qux <1.5.2"]
		},
		"service": {"name": "bar"}
	}`)

	m, err := Load(fsys, dir, "bar")
	if err != nil {
		t.Fatalf("Load(...): unexpected error: %v", err)
	}
	if len(m.Package.Depends) != 1 || m.Package.Depends[0].Name != "baz" {
		t.Errorf("Package.Depends = %+v, want one entry named baz", m.Package.Depends)
	}
	if len(m.Package.Breaks) != 1 || m.Package.Breaks[0].Name != "qux" {
		t.Errorf("Package.Breaks = %+v, want one entry named qux", m.Package.Breaks)
	}
}

func writeFile(t *testing.T, fsys afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fsys, path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%q): %v", path, err)
	}
}
