package debug

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDisabledIsNoop(t *testing.T) {
	SetEnabled(false)
	if Enabled() {
		t.Fatal("expected disabled")
	}
	if Logger() == nil {
		t.Fatal("Logger must never be nil")
	}
	// None of these may panic while disabled.
	Log("x %d", 1)
	LogIf(true, "y")
	LogTiming("z", time.Millisecond)
	LogEnterExit("w")()
	Checkpoint("c")
	Dump("v", struct{ A int }{1})
}

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadview.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { SetEnabled(false) })

	ResetCheckpoints()
	Log("loaded %d nodes", 7)
	LogIf(false, "should not appear")
	Section("layout")
	Checkpoint("ranked")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"loaded 7 nodes", "=== layout ===", "[1] ranked"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "should not appear") {
		t.Error("LogIf(false) wrote output")
	}
}
