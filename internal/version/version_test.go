package version

import (
	"strings"
	"testing"

	"github.com/fatih/color"
)

func withVersion(t *testing.T, v, commit, date string) {
	t.Helper()
	origVersion, origCommit, origDate := Version, GitCommit, BuildDate
	Version, GitCommit, BuildDate = v, commit, date
	t.Cleanup(func() { Version, GitCommit, BuildDate = origVersion, origCommit, origDate })
}

func TestDescribe_OptionalFields(t *testing.T) {
	withVersion(t, "1.2.3", "", "")
	out := Describe(false)
	if !strings.HasPrefix(out, "rtsync 1.2.3\n") {
		t.Fatalf("unexpected header %q", out)
	}
	if strings.Contains(out, "commit:") || strings.Contains(out, "built:") {
		t.Fatalf("empty optional fields should be omitted: %q", out)
	}

	withVersion(t, "1.2.3", "abc123", "2024-01-15T10:30:00Z")
	out = Describe(false)
	if !strings.Contains(out, "commit: abc123\n") || !strings.Contains(out, "built:  2024-01-15T10:30:00Z\n") {
		t.Fatalf("missing build metadata: %q", out)
	}
}

func TestColored_KeepsSuffix(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	cases := map[string]string{
		"0.1.0-dev":            "0.1.0-dev",
		"1.2.3-rc.1+build.123": "1.2.3-rc.1+build.123",
		"nightly":              "nightly",
	}
	for in, want := range cases {
		withVersion(t, in, "", "")
		if got := Colored(); got != want {
			t.Errorf("Colored(%q) = %q, want %q", in, got, want)
		}
	}
}
