package cascade

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCoordinatorPrimaryOnlyWhenNoCache(t *testing.T) {
	c, err := NewCoordinator(t.TempDir(), "", 0.9)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	defer c.Close()

	if c.DualWriteConfigured() {
		t.Fatal("expected dual-write disabled with no cache root")
	}

	id, dual, err := c.Write(LayerWorking, Record{Content: "scratch note", Importance: 0.5, EmotionalIntensity: 0.5, Timestamp: 100})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if dual {
		t.Fatal("expected dual_write false with no cache")
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}
}

func TestCoordinatorDualWriteMirrorsToCache(t *testing.T) {
	durable := filepath.Join(t.TempDir(), "durable")
	cache := filepath.Join(t.TempDir(), "cache")

	c, err := NewCoordinator(durable, cache, 0.9)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	defer c.Close()

	if !c.DualWriteConfigured() {
		t.Fatal("expected dual-write enabled")
	}

	id, dual, err := c.Write(LayerSemantic, Record{Content: "a fact", Importance: 0.6, EmotionalIntensity: 0.5, Timestamp: 100})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !dual {
		t.Fatal("expected dual_write true")
	}

	cacheStore, err := c.CacheStore(LayerSemantic)
	if err != nil {
		t.Fatalf("cache store: %v", err)
	}
	rows, err := cacheStore.Scan("id = ?", []interface{}{id}, "timestamp DESC", 1)
	if err != nil {
		t.Fatalf("scan cache: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected record mirrored into cache, got %d rows", len(rows))
	}
}

func TestCoordinatorSeedsCacheFromExistingTruthFile(t *testing.T) {
	durable := filepath.Join(t.TempDir(), "durable")
	cache := filepath.Join(t.TempDir(), "cache")

	c1, err := NewCoordinator(durable, "", 0.9)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	id, _, err := c1.Write(LayerEpisodic, Record{Content: "day one", Importance: 0.7, EmotionalIntensity: 0.5, Timestamp: 100})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	c1.Close()

	c2, err := NewCoordinator(durable, cache, 0.9)
	if err != nil {
		t.Fatalf("new coordinator with cache: %v", err)
	}
	defer c2.Close()

	cachePath := filepath.Join(cache, LayerEpisodic.FileName())
	if _, err := os.Stat(cachePath); err != nil {
		t.Fatalf("expected cache file seeded: %v", err)
	}

	cacheStore, err := c2.CacheStore(LayerEpisodic)
	if err != nil {
		t.Fatalf("cache store: %v", err)
	}
	rows, err := cacheStore.Scan("id = ?", []interface{}{id}, "timestamp DESC", 1)
	if err != nil {
		t.Fatalf("scan seeded cache: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected seeded row present in cache, got %d", len(rows))
	}
}

func TestCoordinatorHealthConnectedForEveryOpenedLayer(t *testing.T) {
	durable := t.TempDir()
	c, err := NewCoordinator(durable, "", 0.9)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	defer c.Close()

	health := c.Health()
	if health.Overall != "healthy" {
		t.Fatalf("expected healthy once all layers opened, got %s", health.Overall)
	}
	for _, l := range Layers {
		if health.Layers[l].Status != "connected" {
			t.Fatalf("expected layer %s connected, got %s", l, health.Layers[l].Status)
		}
	}
}

// TestCoordinatorHealthDegradesWhenLayerFileRemoved covers §8 property 13:
// removing a layer's truth file out from under an already-open handle must
// surface as overall degraded with that layer missing, while every other
// layer stays connected. Unlinking on Linux drops the directory entry even
// though the coordinator's *sql.DB keeps the now-unlinked inode open, so a
// later os.Stat reliably reports it gone.
func TestCoordinatorHealthDegradesWhenLayerFileRemoved(t *testing.T) {
	durable := t.TempDir()
	c, err := NewCoordinator(durable, "", 0.9)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	defer c.Close()

	removed := LayerWorking
	removedPath := filepath.Join(durable, removed.FileName())
	if err := os.Remove(removedPath); err != nil {
		t.Fatalf("remove layer file: %v", err)
	}

	health := c.Health()
	if health.Overall != "degraded" {
		t.Fatalf("expected degraded overall after removing layer file, got %s", health.Overall)
	}
	if status := health.Layers[removed].Status; status != "missing" && status != "error" {
		t.Fatalf("expected removed layer %s missing or error, got %s", removed, status)
	}
	for _, l := range Layers {
		if l == removed {
			continue
		}
		if health.Layers[l].Status != "connected" {
			t.Fatalf("expected unaffected layer %s connected, got %s", l, health.Layers[l].Status)
		}
	}
}
