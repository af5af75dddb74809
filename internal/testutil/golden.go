// Package testutil provides golden-file helpers for tests.
package testutil

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// updateGolden rewrites golden files instead of comparing against them.
// Use: go test ./... -run TestGolden -update
var updateGolden = flag.Bool("update", false, "update golden files")

// ShouldUpdate returns true if golden files should be updated.
func ShouldUpdate() bool {
	return *updateGolden
}

// GoldenPath returns testdata/<name>.golden relative to the package under test.
func GoldenPath(name string) string {
	return filepath.Join("testdata", name+".golden")
}

// CompareGolden compares got against the named golden file, failing with a
// diff on mismatch. With -update the golden file is rewritten instead.
func CompareGolden(t *testing.T, name string, got []byte) {
	t.Helper()

	goldenPath := GoldenPath(name)

	if *updateGolden {
		UpdateGolden(t, goldenPath, got)
		t.Logf("Updated golden: %s", goldenPath)
		return
	}

	expected, err := os.ReadFile(goldenPath)
	if err != nil {
		if os.IsNotExist(err) {
			t.Fatalf("Golden file missing: %s\n\nGot:\n%s\n\nRun with -update to create:\n  go test ./... -run %s -update",
				goldenPath, string(got), t.Name())
		}
		t.Fatalf("Failed to read golden file: %v", err)
	}

	if !bytes.Equal(got, expected) {
		diff := unifiedDiff(string(expected), string(got), goldenPath)
		t.Fatalf("Golden mismatch for %s:\n%s\n\nRun with -update to refresh:\n  go test ./... -run %s -update",
			name, diff, t.Name())
	}
}

// UpdateGolden writes data to path, creating parent directories.
func UpdateGolden(t *testing.T, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create golden directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write golden file: %v", err)
	}
}

// unifiedDiff renders changed lines with up to three lines of leading
// context. Hunk headers carry line numbers only.
func unifiedDiff(expected, got, path string) string {
	var buf bytes.Buffer

	expectedLines := strings.Split(expected, "\n")
	gotLines := strings.Split(got, "\n")

	fmt.Fprintf(&buf, "--- %s (expected)\n", path)
	fmt.Fprintf(&buf, "+++ %s (got)\n", path)

	n := max(len(expectedLines), len(gotLines))
	var hunk []string
	hunkStart := -1
	flush := func() {
		if len(hunk) > 0 {
			fmt.Fprintf(&buf, "@@ line %d @@\n", hunkStart+1)
			for _, line := range hunk {
				buf.WriteString(line)
				buf.WriteByte('\n')
			}
		}
		hunk = nil
		hunkStart = -1
	}

	trailing := 0
	for i := 0; i < n; i++ {
		var exp, cur string
		if i < len(expectedLines) {
			exp = expectedLines[i]
		}
		if i < len(gotLines) {
			cur = gotLines[i]
		}

		if exp == cur {
			if hunkStart >= 0 {
				hunk = append(hunk, " "+exp)
				trailing++
				if trailing >= 3 {
					flush()
				}
			}
			continue
		}

		if hunkStart < 0 {
			hunkStart = i
			for j := max(0, i-3); j < i; j++ {
				hunk = append(hunk, " "+expectedLines[j])
			}
		}
		trailing = 0
		if i < len(expectedLines) {
			hunk = append(hunk, "-"+exp)
		}
		if i < len(gotLines) {
			hunk = append(hunk, "+"+cur)
		}
	}
	flush()

	return buf.String()
}
