package registry

import (
	"fmt"
	"sync/atomic"

	"kmedia-resolver/work/logger"
	"kmedia-resolver/work/types"

	"github.com/cespare/xxhash/v2"
)

// Registry holds the set of registered dynamic-source providers and resolves a
// routing fingerprint back to its provider. Registration happens exactly once
// during startup; afterwards the provider set is immutable and reads need no
// synchronization beyond the atomic pointer load.
type Registry struct {
	providers atomic.Pointer[[]entry]
}

type entry struct {
	provider    types.SourceProvider
	fingerprint string
}

// New creates an empty registry. Register must be called before the registry
// serves traffic; calling it a second time is rejected.
func New() *Registry {
	return &Registry{}
}

// Fingerprint computes the stable routing fingerprint for a provider: the
// xxhash of its name as fixed-width lower-case hex. The fingerprint prefixes
// every open token and live-stream id this process hands out, so it must not
// change for a given provider name across restarts.
func Fingerprint(p types.SourceProvider) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(p.Name()))
}

// Register installs the provider set. It may be called exactly once; a second
// call returns an error and leaves the active set untouched, because swapping
// providers under live sessions would orphan their routing prefixes.
func (r *Registry) Register(providers []types.SourceProvider) error {
	entries := make([]entry, 0, len(providers))
	for _, p := range providers {
		fp := Fingerprint(p)
		for _, e := range entries {
			if e.fingerprint == fp {
				return fmt.Errorf("provider fingerprint collision: %q and %q both hash to %s",
					e.provider.Name(), p.Name(), fp)
			}
		}
		entries = append(entries, entry{provider: p, fingerprint: fp})
		logger.Info("registered source provider %q (fingerprint %s)", p.Name(), fp)
	}

	if !r.providers.CompareAndSwap(nil, &entries) {
		return fmt.Errorf("provider registry already initialized")
	}
	return nil
}

// Providers returns the registered providers in registration order. The
// returned slice is shared and must not be mutated.
func (r *Registry) Providers() []types.SourceProvider {
	entries := r.providers.Load()
	if entries == nil {
		return nil
	}
	out := make([]types.SourceProvider, len(*entries))
	for i, e := range *entries {
		out[i] = e.provider
	}
	return out
}

// Count returns the number of registered providers.
func (r *Registry) Count() int {
	entries := r.providers.Load()
	if entries == nil {
		return 0
	}
	return len(*entries)
}

// FindByFingerprint resolves a routing fingerprint to its provider. A linear
// scan is fine here: the set is tiny and immutable.
func (r *Registry) FindByFingerprint(fingerprint string) (types.SourceProvider, error) {
	entries := r.providers.Load()
	if entries != nil {
		for _, e := range *entries {
			if e.fingerprint == fingerprint {
				return e.provider, nil
			}
		}
	}
	return nil, fmt.Errorf("no provider for fingerprint %q: %w", fingerprint, types.ErrNotFound)
}
