package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rtsync.toml", `
[run]
labs = ["Queue-Set", "mutex"]
parallel = 2
duration = "1500ms"

[labs.queue-set]
period = "5ms"
capacity = 4
`)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Run.Parallel != 2 || m.Run.Duration.Std() != 1500*time.Millisecond {
		t.Fatalf("unexpected run config %+v", m.Run)
	}
	if m.Run.Labs[0] != "queue-set" {
		t.Fatalf("lab names should be normalized, got %v", m.Run.Labs)
	}
	cfg, ok := m.Lab("QUEUE-SET")
	if !ok || cfg.Period.Std() != 5*time.Millisecond || cfg.Capacity != 4 {
		t.Fatalf("unexpected lab config %+v (found=%v)", cfg, ok)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rtsync.yaml", `
run:
  duration: 2s
labs:
  counting-semaphore:
    max_count: 3
    producers: 5
`)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, ok := m.Lab("counting-semaphore")
	if !ok || cfg.MaxCount != 3 || cfg.Producers != 5 {
		t.Fatalf("unexpected lab config %+v", cfg)
	}
	if m.Run.Duration.Std() != 2*time.Second {
		t.Fatalf("want 2s, got %v", m.Run.Duration)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	tomlPath := writeFile(t, dir, "a.toml", "[run]\nparalel = 2\n")
	if _, err := Load(tomlPath); err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("want unknown keys error, got %v", err)
	}
	yamlPath := writeFile(t, dir, "b.yaml", "run:\n  paralel: 2\n")
	if _, err := Load(yamlPath); err == nil {
		t.Fatalf("want error for unknown YAML field")
	}
}

func TestLoadRejectsDuplicateNormalizedNames(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rtsync.toml", "[labs.Mutex]\ncapacity = 1\n[labs.mutex]\ncapacity = 2\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "configured twice") {
		t.Fatalf("want duplicate error, got %v", err)
	}
}

func TestFindWalksUp(t *testing.T) {
	root := t.TempDir()
	want := writeFile(t, root, "rtsync.toml", "")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	got, ok, err := Find(nested)
	if err != nil || !ok {
		t.Fatalf("Find: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("want %s, got %s", want, got)
	}
}

func TestNormalizeName(t *testing.T) {
	// "e" followed by a combining acute accent composes to U+00E9.
	if got := NormalizeName("  Cafe\u0301 "); got != "caf\u00e9" {
		t.Fatalf("unexpected normalization %q", got)
	}
}
