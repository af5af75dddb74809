package repos

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	reviewerrors "librarian/internal/errors"
)

// ResolutionSource indicates where the repository list came from.
type ResolutionSource string

const (
	// ResolvedFromManifest indicates the list was read from a manifest file.
	ResolvedFromManifest ResolutionSource = "manifest"

	// ResolvedFromDirectory indicates the folders of the repos dir were used.
	ResolvedFromDirectory ResolutionSource = "directory"
)

// ResolveOptions describes where to look for repositories.
type ResolveOptions struct {
	// ManifestPath is optional; when the file is absent the directory
	// listing is used instead.
	ManifestPath string
	ReposDir     string
	// MaxRepos limits the result; <= 0 means no limit.
	MaxRepos int
}

// Resolved is the repository list for a review.
type Resolved struct {
	Entries []Entry
	Source  ResolutionSource
}

// Names returns the repository names in order.
func (r *Resolved) Names() []string {
	names := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		names[i] = e.Name
	}
	return names
}

// PathOf returns the path of the named repository.
func (r *Resolved) PathOf(name string) string {
	for _, e := range r.Entries {
		if e.Name == name {
			return e.Path
		}
	}
	return ""
}

// Resolve determines the repositories using the resolution order:
// 1. The manifest file, if present
// 2. The sub-directories of ReposDir
func Resolve(opts ResolveOptions) (*Resolved, error) {
	if opts.ManifestPath != "" {
		entries, err := LoadManifest(opts.ManifestPath, opts.ReposDir)
		if err != nil {
			return nil, err
		}
		if entries != nil {
			return &Resolved{Entries: limit(entries, opts.MaxRepos), Source: ResolvedFromManifest}, nil
		}
	}

	entries, err := Discover(opts.ReposDir)
	if err != nil {
		return nil, err
	}
	return &Resolved{Entries: limit(entries, opts.MaxRepos), Source: ResolvedFromDirectory}, nil
}

// Discover lists the non-hidden sub-directories of dir in name order.
func Discover(dir string) ([]Entry, error) {
	if dir == "" {
		return []Entry{}, nil
	}
	infos, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, reviewerrors.New(reviewerrors.ManifestUnreadable, "failed to list repos directory "+dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		if ValidateName(info.Name()) != nil {
			continue
		}
		entries = append(entries, Entry{
			Name: info.Name(),
			Path: filepath.Join(dir, info.Name()),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func limit(entries []Entry, max int) []Entry {
	if max > 0 && len(entries) > max {
		return entries[:max]
	}
	return entries
}
