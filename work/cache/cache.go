package cache

import (
	"strings"
	"time"

	"kmedia-resolver/work/types"

	"github.com/maypok86/otter/v2"
)

// ResolvedCache is a bounded, expiring cache for resolved playback source
// lists. Entries are keyed by (item, viewer, path-substitution) and expire a
// short time after being written; any metadata refresh invalidates the whole
// item so a stale stream list never outlives a probe.
type ResolvedCache struct {
	cache   *otter.Cache[string, []*types.MediaSource]
	enabled bool
}

// New creates a ResolvedCache holding at most maxItems resolutions for ttl
// after write. A disabled cache is a valid, always-missing instance.
func New(enabled bool, maxItems int, ttl time.Duration) *ResolvedCache {
	if !enabled {
		return &ResolvedCache{enabled: false}
	}
	return &ResolvedCache{
		enabled: true,
		cache: otter.Must(&otter.Options[string, []*types.MediaSource]{
			MaximumSize:      maxItems,
			ExpiryCalculator: otter.ExpiryWriting[string, []*types.MediaSource](ttl),
		}),
	}
}

// Key builds the cache key for one resolution request.
func Key(itemID, viewerID string, pathSubstitution bool) string {
	sub := "0"
	if pathSubstitution {
		sub = "1"
	}
	return strings.ToLower(itemID) + "|" + strings.ToLower(viewerID) + "|" + sub
}

// Get returns the cached resolution for the key, when present and fresh.
func (c *ResolvedCache) Get(key string) ([]*types.MediaSource, bool) {
	if !c.enabled {
		return nil, false
	}
	return c.cache.GetIfPresent(key)
}

// Set stores a resolution under the key.
func (c *ResolvedCache) Set(key string, sources []*types.MediaSource) {
	if !c.enabled {
		return
	}
	c.cache.Set(key, sources)
}

// InvalidateItem drops cached resolutions after the given item's metadata
// changed. Refreshes are rare relative to resolutions, so this clears the
// whole cache rather than tracking per-item key sets.
func (c *ResolvedCache) InvalidateItem(itemID string) {
	_ = itemID
	c.InvalidateAll()
}

// InvalidateAll clears the cache.
func (c *ResolvedCache) InvalidateAll() {
	if !c.enabled {
		return
	}
	c.cache.InvalidateAll()
}
