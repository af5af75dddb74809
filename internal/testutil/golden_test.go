package testutil

import (
	"strings"
	"testing"
)

func TestGoldenPath(t *testing.T) {
	if got := GoldenPath("plan"); got != "testdata/plan.golden" {
		t.Errorf("GoldenPath = %q", got)
	}
}

func TestUnifiedDiff(t *testing.T) {
	diff := unifiedDiff("a\nb\nc\n", "a\nx\nc\n", "file.golden")

	for _, want := range []string{"--- file.golden (expected)", "+++ file.golden (got)", "@@ line 2 @@", " a", "-b", "+x"} {
		if !strings.Contains(diff, want) {
			t.Errorf("diff missing %q:\n%s", want, diff)
		}
	}
}

func TestUnifiedDiffIdentical(t *testing.T) {
	diff := unifiedDiff("same\n", "same\n", "f")
	if strings.Contains(diff, "@@") {
		t.Errorf("identical input produced a hunk:\n%s", diff)
	}
}
