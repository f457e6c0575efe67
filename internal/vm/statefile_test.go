package vm

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStateFileMissingIsEmpty(t *testing.T) {
	sf := NewStateFile(t.TempDir())

	rec, err := sf.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec.BootCount != 0 || !rec.LastBoot.IsZero() || rec.CleanShutdown {
		t.Errorf("missing file should load as an empty record, got %+v", rec)
	}
	if want := filepath.Join(filepath.Dir(sf.Path()), "run.json"); sf.Path() != want {
		t.Errorf("Path() = %q, want %q", sf.Path(), want)
	}
}

func TestStateFileRunLifecycle(t *testing.T) {
	sf := NewStateFile(t.TempDir())

	runs := []struct {
		trigger string
		clean   bool
	}{
		{"guest-stop", true},
		{"ctrl-c", false},
		{"app-exit", false},
	}
	for i, run := range runs {
		before := time.Now()
		if err := sf.RecordBoot(8 << 30); err != nil {
			t.Fatalf("RecordBoot failed: %v", err)
		}
		rec, err := sf.Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if rec.BootCount != i+1 {
			t.Errorf("run %d: BootCount = %d", i, rec.BootCount)
		}
		if rec.CleanShutdown {
			t.Errorf("run %d: a booted VM is not cleanly shut down", i)
		}
		if rec.LastBoot.Before(before) {
			t.Errorf("run %d: LastBoot %v predates boot", i, rec.LastBoot)
		}

		if err := sf.RecordShutdown(run.trigger, run.clean); err != nil {
			t.Fatalf("RecordShutdown failed: %v", err)
		}
		rec, err = sf.Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if rec.LastTrigger != run.trigger || rec.CleanShutdown != run.clean {
			t.Errorf("run %d: got trigger %q clean %v, want %q %v", i, rec.LastTrigger, rec.CleanShutdown, run.trigger, run.clean)
		}
		if rec.LastShutdown.Before(rec.LastBoot) {
			t.Errorf("run %d: LastShutdown before LastBoot", i)
		}
	}
}

func TestStateFileKeepsDiskSize(t *testing.T) {
	sf := NewStateFile(t.TempDir())

	if err := sf.RecordBoot(8 << 30); err != nil {
		t.Fatalf("RecordBoot failed: %v", err)
	}
	// A zero size keeps the previous value.
	if err := sf.RecordBoot(0); err != nil {
		t.Fatalf("RecordBoot failed: %v", err)
	}

	rec, err := sf.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec.RootDiskSize != 8<<30 {
		t.Errorf("RootDiskSize = %d, want %d", rec.RootDiskSize, int64(8<<30))
	}
}

func TestStateFileSaveCreatesDirAtomically(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "home")
	sf := NewStateFile(dir)

	if err := sf.Save(&RunRecord{BootCount: 3, LastTrigger: "signal-stream-closed"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(sf.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not survive a successful save")
	}

	rec, err := sf.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec.BootCount != 3 || rec.LastTrigger != "signal-stream-closed" {
		t.Errorf("loaded %+v", rec)
	}
}

func TestStateFileCorrupt(t *testing.T) {
	sf := NewStateFile(t.TempDir())
	if err := os.WriteFile(sf.Path(), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := sf.Load(); err == nil {
		t.Error("Load should fail on a corrupt file")
	}
}
