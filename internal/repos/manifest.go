// Package repos resolves the repositories a review runs against, either
// from a manifest file or from the folders of a repositories directory.
package repos

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	reviewerrors "librarian/internal/errors"
)

// RepoState represents whether a repository can be reviewed.
type RepoState string

const (
	RepoStateValid   RepoState = "valid"   // Path exists and is a directory
	RepoStateMissing RepoState = "missing" // Path doesn't exist
)

// Entry is one repository to review.
type Entry struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
}

// State checks the current state of the repository on disk.
func (e Entry) State() RepoState {
	info, err := os.Stat(e.Path)
	if err != nil || !info.IsDir() {
		return RepoStateMissing
	}
	return RepoStateValid
}

// Manifest lists repositories explicitly.
type Manifest struct {
	Repos []Entry `json:"repos" yaml:"repos" toml:"repos"`
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-][a-zA-Z0-9_.-]*$`)

// ValidateName checks if a repo name is valid.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("repo name cannot be empty")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("repo name must contain only letters, numbers, dots, underscores, and hyphens")
	}
	return nil
}

// DecodeManifest parses manifest data. format is the file extension
// without the dot: json, yaml, yml or toml.
func DecodeManifest(data []byte, format string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(format) {
	case "json", "":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format: %s", format)
	}
	return &m, nil
}

// Normalize validates names, drops duplicate names and resolves paths.
// Entries without a path live under reposDir; relative paths are taken
// relative to baseDir.
func (m *Manifest) Normalize(baseDir, reposDir string) ([]Entry, error) {
	out := make([]Entry, 0, len(m.Repos))
	seen := make(map[string]bool, len(m.Repos))
	for _, e := range m.Repos {
		e.Name = strings.TrimSpace(e.Name)
		if err := ValidateName(e.Name); err != nil {
			return nil, fmt.Errorf("invalid repo %q: %w", e.Name, err)
		}
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true

		switch {
		case e.Path == "":
			e.Path = filepath.Join(reposDir, e.Name)
		case !filepath.IsAbs(e.Path):
			e.Path = filepath.Join(baseDir, e.Path)
		}
		e.Path = filepath.Clean(e.Path)
		out = append(out, e)
	}
	return out, nil
}

// LoadManifest reads a manifest file. A missing file returns (nil, nil).
func LoadManifest(path, reposDir string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, reviewerrors.New(reviewerrors.ManifestUnreadable, "failed to read manifest "+path, err)
	}

	m, err := DecodeManifest(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, reviewerrors.New(reviewerrors.ManifestUnreadable, "failed to decode manifest "+path, err)
	}
	entries, err := m.Normalize(filepath.Dir(path), reposDir)
	if err != nil {
		return nil, reviewerrors.New(reviewerrors.ManifestUnreadable, "invalid manifest "+path, err)
	}
	return entries, nil
}
