// Package plugins handles plugin manifest validation and scaffolding for
// the CLI.
package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestName is the per-plugin manifest file.
const ManifestName = "plugin.yaml"

// Manifest describes a plugin package.
type Manifest struct {
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	Type         string   `yaml:"type"`
	Description  string   `yaml:"description,omitempty"`
	Author       string   `yaml:"author,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty"`
	Entry        string   `yaml:"entry,omitempty"`
}

// knownTypes are the plugin categories the platform loads.
var knownTypes = []string{"adapter", "tool", "rule-action", "llm-backend"}

var (
	nameRe    = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,63}$`)
	versionRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// ValidationIssue is one problem found in a manifest.
type ValidationIssue struct {
	Field   string
	Message string
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// Validate checks a manifest and returns all issues found.
func (m *Manifest) Validate() []ValidationIssue {
	var issues []ValidationIssue
	if !nameRe.MatchString(m.Name) {
		issues = append(issues, ValidationIssue{
			Field:   "name",
			Message: "must be lowercase alphanumeric with dashes, 2-64 chars",
		})
	}
	if !versionRe.MatchString(m.Version) {
		issues = append(issues, ValidationIssue{
			Field:   "version",
			Message: "must be semantic (MAJOR.MINOR.PATCH)",
		})
	}
	typeOK := false
	for _, t := range knownTypes {
		if m.Type == t {
			typeOK = true
			break
		}
	}
	if !typeOK {
		issues = append(issues, ValidationIssue{
			Field:   "type",
			Message: "must be one of " + strings.Join(knownTypes, ", "),
		})
	}
	return issues
}

// Load reads and parses a manifest from a plugin directory or file.
func Load(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		path = filepath.Join(path, ManifestName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &manifest, nil
}

// Create scaffolds a new plugin directory with a template manifest.
func Create(dir, name, pluginType string) error {
	manifest := Manifest{
		Name:        name,
		Version:     "0.1.0",
		Type:        pluginType,
		Description: "Describe the " + name + " plugin.",
	}
	if issues := manifest.Validate(); len(issues) > 0 {
		return fmt.Errorf("invalid plugin parameters: %s", issues[0])
	}

	target := filepath.Join(dir, name)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(target, ManifestName), data, 0o644)
}

// List finds all plugin manifests under dir.
func List(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifest, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, manifest)
	}
	return out, nil
}
