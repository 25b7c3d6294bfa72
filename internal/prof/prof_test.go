package prof

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSessionWritesRequestedProfiles(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		Mem:   filepath.Join(dir, "mem.pprof"),
		Block: filepath.Join(dir, "block.pprof"),
		Mutex: filepath.Join(dir, "mutex.pprof"),
	}
	if !opts.Enabled() {
		t.Fatalf("options should be enabled")
	}
	s, err := Start(opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	for _, p := range []string{opts.Mem, opts.Block, opts.Mutex} {
		if fi, err := os.Stat(p); err != nil || fi.Size() == 0 {
			t.Fatalf("profile %s missing or empty: %v", p, err)
		}
	}
}

func TestStartFailsCleanly(t *testing.T) {
	_, err := Start(Options{Trace: filepath.Join(t.TempDir(), "missing", "trace.out")})
	if err == nil {
		t.Fatalf("expected error for unwritable trace path")
	}
	if (Options{}).Enabled() {
		t.Fatalf("zero options should be disabled")
	}
}

func TestNilSessionStop(t *testing.T) {
	var s *Session
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
}
