package cascade

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/For-Sunny/cascade-memory/internal/logging"
)

// LayerHealth is one layer's entry in the Coordinator's health report (§4.2,
// §6 get_status).
type LayerHealth struct {
	Status string `json:"status"` // "connected", "missing", "error"
	Count  int64  `json:"count"`
	Path   string `json:"path,omitempty"`
}

// Health is the Coordinator's top-level health signal (§4.2).
type Health struct {
	Overall string                `json:"overall"` // "healthy", "degraded"
	Layers  map[Layer]LayerHealth `json:"layers"`
}

// WriteStrategy names the Coordinator's mutation policy. Only one strategy
// exists today — truth-first, cache-second, cache-failure non-fatal — kept
// as a named constant in the style of the pack's cache-manager vocabulary
// rather than as a pluggable interface, since nothing in this spec varies it.
type WriteStrategy string

const StrategyWriteThrough WriteStrategy = "write_through"

// layerHandles holds the truth and optional cache store for one layer.
type layerHandles struct {
	truth *LayerStore
	cache *LayerStore // nil when no cache root configured
}

// Coordinator mirrors writes truth-first, cache-second, and owns read-path
// selection and degraded-mode fallback (§4.2). Grounded on codeNERD's
// local_core.go open/seed sequence and its migrations.go CreateBackup
// byte-copy, generalized from a single-store backup utility into an
// always-on dual-write policy.
type Coordinator struct {
	mu                sync.Mutex
	durableRoot       string
	cacheRoot         string
	cacheConfigured   bool
	immortalThreshold float64
	handles           map[Layer]*layerHandles
	degraded          map[Layer]string // layer -> reason, when read fell back to truth
}

// NewCoordinator opens (or lazily will open) every layer under durableRoot,
// and under cacheRoot if non-empty and usable. Detection of "usable": the
// directory exists or can be created.
func NewCoordinator(durableRoot, cacheRoot string, immortalThreshold float64) (*Coordinator, error) {
	if err := os.MkdirAll(durableRoot, 0755); err != nil {
		return nil, WrapError(CodeConfigurationError, err, "durable root not creatable")
	}

	cacheConfigured := false
	if cacheRoot != "" {
		if err := os.MkdirAll(cacheRoot, 0755); err == nil {
			cacheConfigured = true
		} else {
			logging.Coord("cache root %s not usable, falling back to primary-only: %v", cacheRoot, err)
		}
	}

	c := &Coordinator{
		durableRoot:       durableRoot,
		cacheRoot:         cacheRoot,
		cacheConfigured:   cacheConfigured,
		immortalThreshold: immortalThreshold,
		handles:           make(map[Layer]*layerHandles),
		degraded:          make(map[Layer]string),
	}

	for _, l := range Layers {
		if _, err := c.ensureLayer(l); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ensureLayer opens the truth handle (and cache handle, seeding it from
// truth by byte copy if absent) for layer, memoizing the result.
func (c *Coordinator) ensureLayer(l Layer) (*layerHandles, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.handles[l]; ok {
		return h, nil
	}

	truthPath := filepath.Join(c.durableRoot, l.FileName())
	truth, err := OpenLayerStore(l, truthPath)
	if err != nil {
		return nil, err
	}

	h := &layerHandles{truth: truth}

	if c.cacheConfigured {
		cachePath := filepath.Join(c.cacheRoot, l.FileName())
		if _, err := os.Stat(cachePath); os.IsNotExist(err) {
			if _, err := os.Stat(truthPath); err == nil {
				if err := copyFile(truthPath, cachePath); err != nil {
					logging.Coord("layer %s: cache seed copy failed, cache stays unseeded: %v", l, err)
				}
			}
		}
		cache, err := OpenLayerStore(l, cachePath)
		if err != nil {
			logging.Coord("layer %s: cache open failed, degrading reads to truth: %v", l, err)
			c.degraded[l] = "cache open failed"
		} else {
			h.cache = cache
		}
	}

	c.handles[l] = h
	return h, nil
}

// Write inserts r into the truth store first, then mirrors into the cache
// if configured and healthy. Truth failure is fatal; cache failure is
// logged only (§4.2).
func (c *Coordinator) Write(l Layer, r Record) (id int64, dualWrite bool, err error) {
	h, err := c.ensureLayer(l)
	if err != nil {
		return 0, false, err
	}

	id, err = h.truth.Insert(r, c.immortalThreshold)
	if err != nil {
		return 0, false, err
	}

	if h.cache != nil {
		if cerr := h.cache.InsertWithID(id, r, c.immortalThreshold); cerr != nil {
			logging.Coord("layer %s: cache write failed for id %d, truth still authoritative: %v", l, id, cerr)
			c.mu.Lock()
			c.degraded[l] = "cache write failed"
			c.mu.Unlock()
			return id, false, nil
		}
		return id, true, nil
	}
	return id, false, nil
}

// ReadStore returns the handle reads should prefer for layer l: the cache
// if configured and healthy, else the truth store.
func (c *Coordinator) ReadStore(l Layer) (*LayerStore, error) {
	h, err := c.ensureLayer(l)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	_, degraded := c.degraded[l]
	c.mu.Unlock()
	if h.cache != nil && !degraded {
		return h.cache, nil
	}
	return h.truth, nil
}

// TruthStore always returns the durable handle, regardless of read
// preference. The Decay Engine's sweep selects its candidate rows from it.
func (c *Coordinator) TruthStore(l Layer) (*LayerStore, error) {
	h, err := c.ensureLayer(l)
	if err != nil {
		return nil, err
	}
	return h.truth, nil
}

// CacheStore returns the cache handle for l, or nil if no cache is
// configured or it failed to open.
func (c *Coordinator) CacheStore(l Layer) (*LayerStore, error) {
	h, err := c.ensureLayer(l)
	if err != nil {
		return nil, err
	}
	return h.cache, nil
}

// UpdateEffectiveImportance mirrors a sweep's per-row update to both
// targets; ordering within a target is preserved by issuing truth then
// cache sequentially (§4.2 batch writes, §4.5 sweep).
func (c *Coordinator) UpdateEffectiveImportance(l Layer, id int64, e float64) error {
	h, err := c.ensureLayer(l)
	if err != nil {
		return err
	}
	if err := h.truth.UpdateEffectiveImportance(id, e); err != nil {
		return err
	}
	if h.cache != nil {
		if err := h.cache.UpdateEffectiveImportance(id, e); err != nil {
			logging.Coord("layer %s: cache sweep update failed for id %d: %v", l, id, err)
		}
	}
	return nil
}

// Touch mirrors a recall touch to both targets; same truth-first, cache-best-effort
// policy as Write (§4.5 touch).
func (c *Coordinator) Touch(l Layer, id int64, now float64) error {
	h, err := c.ensureLayer(l)
	if err != nil {
		return err
	}
	if err := h.truth.Touch(id, now); err != nil {
		return err
	}
	if h.cache != nil {
		if err := h.cache.Touch(id, now); err != nil {
			logging.Coord("layer %s: cache touch failed for id %d: %v", l, id, err)
		}
	}
	return nil
}

// DualWriteConfigured reports whether a cache root was given and accepted.
func (c *Coordinator) DualWriteConfigured() bool {
	return c.cacheConfigured
}

// Strategy reports the Coordinator's mutation policy.
func (c *Coordinator) Strategy() WriteStrategy {
	return StrategyWriteThrough
}

// Health reports per-layer and overall status (§4.2, §6 get_status). A
// layer opened cleanly at startup can still go missing or unreadable later
// (file removed or corrupted underneath an already-open handle), so each
// check re-stats the truth file and pings it with a cheap count query
// rather than only replaying the state recorded at open time.
func (c *Coordinator) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Health{Overall: "healthy", Layers: make(map[Layer]LayerHealth, len(Layers))}
	for _, l := range Layers {
		h, ok := c.handles[l]
		if !ok {
			out.Layers[l] = LayerHealth{Status: "missing"}
			out.Overall = "degraded"
			continue
		}

		if _, err := os.Stat(h.truth.Path); err != nil {
			out.Layers[l] = LayerHealth{Status: "missing", Path: h.truth.Path}
			out.Overall = "degraded"
			continue
		}

		count, err := h.truth.Count()
		if err != nil {
			out.Layers[l] = LayerHealth{Status: "error", Path: h.truth.Path}
			out.Overall = "degraded"
			continue
		}

		if _, bad := c.degraded[l]; bad {
			out.Layers[l] = LayerHealth{Status: "error", Count: count, Path: h.truth.Path}
			out.Overall = "degraded"
			continue
		}
		out.Layers[l] = LayerHealth{Status: "connected", Count: count, Path: h.truth.Path}
	}
	return out
}

// Close closes every open handle.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, h := range c.handles {
		if err := h.truth.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if h.cache != nil {
			if err := h.cache.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
