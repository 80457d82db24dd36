package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func resetGlobals() {
	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
	logsDir = ""
	settingsMu.Lock()
	settings = Settings{}
	settingsMu.Unlock()
}

func TestInitializeDisabledByDefault(t *testing.T) {
	resetGlobals()
	dir := t.TempDir()
	if err := Initialize(dir, Settings{DebugMode: false}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "logs")); !os.IsNotExist(err) {
		t.Fatalf("expected no logs dir when debug_mode is false")
	}
	Get(CategoryStore).Info("should be a no-op")
}

func TestCategoryCreatesLogFile(t *testing.T) {
	resetGlobals()
	dir := t.TempDir()
	if err := Initialize(dir, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	Get(CategoryDecay).Info("sweep tick")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	found := false
	for _, e := range entries {
		if filepathContains(e.Name(), string(CategoryDecay)) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a decay log file, got %v", entries)
	}
}

func filepathContains(name, substr string) bool {
	return len(name) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(name); i++ {
			if name[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func TestCategoryDisabledIsNoOp(t *testing.T) {
	resetGlobals()
	dir := t.TempDir()
	if err := Initialize(dir, Settings{DebugMode: true, Level: "info", Categories: map[string]bool{string(CategoryStore): false}}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if IsCategoryEnabled(CategoryStore) {
		t.Fatalf("expected store category disabled")
	}
	if !IsCategoryEnabled(CategoryDecay) {
		t.Fatalf("expected unmentioned categories to default enabled")
	}
}

func TestTimerStopWithThreshold(t *testing.T) {
	resetGlobals()
	dir := t.TempDir()
	Initialize(dir, Settings{DebugMode: true, Level: "debug"})
	timer := StartTimer(CategoryDecay, "sweep")
	elapsed := timer.StopWithThreshold(0)
	if elapsed < 0 {
		t.Fatalf("expected non-negative duration")
	}
}
