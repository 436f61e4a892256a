package plugins

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidate(t *testing.T) {
	good := Manifest{Name: "mqtt-extras", Version: "1.2.3", Type: "adapter"}
	if issues := good.Validate(); len(issues) != 0 {
		t.Errorf("valid manifest flagged: %v", issues)
	}

	bad := Manifest{Name: "Bad Name!", Version: "1.2", Type: "widget"}
	issues := bad.Validate()
	if len(issues) != 3 {
		t.Errorf("got %d issues, want 3: %v", len(issues), issues)
	}
}

func TestCreateLoadList(t *testing.T) {
	dir := t.TempDir()
	if err := Create(dir, "my-tool", "tool"); err != nil {
		t.Fatalf("create: %v", err)
	}

	manifest, err := Load(filepath.Join(dir, "my-tool"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if manifest.Name != "my-tool" || manifest.Version != "0.1.0" || manifest.Type != "tool" {
		t.Errorf("manifest = %+v", manifest)
	}
	if issues := manifest.Validate(); len(issues) != 0 {
		t.Errorf("scaffolded manifest invalid: %v", issues)
	}

	found, err := List(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("found %d plugins", len(found))
	}
}

func TestCreateRejectsBadName(t *testing.T) {
	if err := Create(t.TempDir(), "Bad Name", "tool"); err == nil {
		t.Error("invalid name should fail scaffold")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, []byte("{{{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed manifest should fail to load")
	}
}
