// Package icons maintains the icon capability cache: the set of emoji
// glyphs known to work as forum topic icons, mapped to their custom emoji
// IDs. The platform offers no read-only way to ask which icons a bot may
// use, so the set is built by probing (creating and deleting a throwaway
// topic per candidate) and persisted between runs.
package icons

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultFile is the persisted cache file name under the data directory.
const DefaultFile = "topic_icons.json"

// CacheService is the service registry name under which the dialog
// module publishes its cache for other modules.
const CacheService = "icons.cache"

// probeInterval is the minimum delay between two probes, matching the
// platform's tolerance for rapid topic create/delete cycles.
const probeInterval = 1500 * time.Millisecond

// ErrRefreshInFlight is returned when Refresh is called while another
// refresh is still running. Refreshes are exclusive, never interleaved.
var ErrRefreshInFlight = errors.New("icons: refresh already in progress")

// Set maps an emoji glyph to the custom emoji ID the platform accepts
// for it. An empty set is the valid "not built yet" state.
type Set map[string]string

// Candidate is one glyph to probe, as reported by the platform's icon
// sticker list.
type Candidate struct {
	Glyph         string
	CustomEmojiID string
}

// ProbeFunc checks whether one candidate actually works as a topic icon.
// A nil error marks the candidate usable.
type ProbeFunc func(ctx context.Context, c Candidate) error

// Cache holds the current icon set and its persisted copy.
type Cache struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	set Set

	refreshing atomic.Bool

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCache creates a cache persisting to the given path.
func NewCache(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		path:   path,
		logger: logger,
		set:    Set{},
		sleep:  sleepCtx,
	}
}

// Load reads the persisted set into memory and returns it. A missing
// file yields an empty set, not an error.
func (c *Cache) Load() (Set, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Set{}, nil
		}
		return nil, fmt.Errorf("icons: reading %s: %w", c.path, err)
	}
	var set Set
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("icons: parsing %s: %w", c.path, err)
	}
	if set == nil {
		set = Set{}
	}

	c.mu.Lock()
	c.set = set
	c.mu.Unlock()
	return c.Current(), nil
}

// Current returns a snapshot of the in-memory set.
func (c *Cache) Current() Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(Set, len(c.set))
	for glyph, id := range c.set {
		out[glyph] = id
	}
	return out
}

// Resolve returns the custom emoji ID for a glyph, if the glyph is in
// the working set.
func (c *Cache) Resolve(glyph string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.set[glyph]
	return id, ok
}

// Len returns the number of glyphs in the working set.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.set)
}

// Refresh rebuilds the set by probing every candidate, then persists and
// installs the result. Probes are spaced at least 1.5s apart. Only one
// refresh may run at a time; concurrent calls get ErrRefreshInFlight.
// Candidates whose probe fails are logged and skipped, not fatal.
func (c *Cache) Refresh(ctx context.Context, candidates []Candidate, probe ProbeFunc) (Set, error) {
	if !c.refreshing.CompareAndSwap(false, true) {
		return nil, ErrRefreshInFlight
	}
	defer c.refreshing.Store(false)

	next := make(Set, len(candidates))
	for i, cand := range candidates {
		if i > 0 {
			if err := c.sleep(ctx, probeInterval); err != nil {
				return nil, err
			}
		}
		if err := probe(ctx, cand); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Debug("icon probe failed", "glyph", cand.Glyph, "error", err)
			continue
		}
		next[cand.Glyph] = cand.CustomEmojiID
	}

	if err := c.persist(next); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.set = next
	c.mu.Unlock()

	c.logger.Info("icon set refreshed", "working", len(next), "probed", len(candidates))
	return c.Current(), nil
}

// persist writes the set atomically: temp file then rename.
func (c *Cache) persist(set Set) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("icons: encoding set: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("icons: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("icons: replacing %s: %w", c.path, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
