// Package refresh re-derives stream metadata for an item's static sources by
// probing them and rewriting their stream rows in the store. The resolver
// triggers it when a lone static source turns out to carry no probed stream
// info at all.
package refresh

import (
	"context"
	"fmt"

	"kmedia-resolver/work/logger"
	"kmedia-resolver/work/metrics"
	"kmedia-resolver/work/probe"
	"kmedia-resolver/work/store"
	"kmedia-resolver/work/types"
	"kmedia-resolver/work/utils"
)

// Options controls one refresh run. FullRefresh replaces all stream rows even
// when some already exist; RemoteProbe allows probing non-file sources.
type Options struct {
	FullRefresh bool
	RemoteProbe bool
}

// Refresher probes an item's static sources and persists the results. An
// optional invalidate hook lets the resolver drop its cache once the item's
// metadata changed.
type Refresher struct {
	store      *store.Store
	prober     probe.Prober
	obfuscate  bool
	invalidate func(itemID string)
}

// New builds a Refresher. invalidate may be nil.
func New(st *store.Store, prober probe.Prober, obfuscateLogs bool, invalidate func(itemID string)) *Refresher {
	if invalidate == nil {
		invalidate = func(string) {}
	}
	return &Refresher{store: st, prober: prober, obfuscate: obfuscateLogs, invalidate: invalidate}
}

// Refresh probes every static source of the item and rewrites its stream,
// container and bitrate rows. Individual probe failures skip the source and
// keep going; the run only fails when the store itself does.
func (r *Refresher) Refresh(ctx context.Context, itemID string, opts Options) error {
	sources, err := r.store.LoadStaticSources(ctx, itemID, false)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", itemID, err)
	}

	metrics.MetadataRefreshes.Inc()
	refreshed := 0

	for _, src := range sources {
		if src.Type == types.SourcePlaceholder {
			continue
		}
		if !opts.FullRefresh && len(src.Streams) > 0 {
			continue
		}
		if src.Protocol != types.ProtocolFile && !opts.RemoteProbe {
			continue
		}

		result, err := r.prober.Probe(ctx, src)
		if err != nil {
			logger.Warn("{refresh - Refresh} probe failed for %s/%s (%s): %v",
				itemID, src.ID, utils.LogURL(r.obfuscate, src.Path), err)
			continue
		}

		if err := r.store.ReplaceStreams(ctx, itemID, src.ID, result.Streams); err != nil {
			return fmt.Errorf("refresh %s: %w", itemID, err)
		}
		if err := r.store.UpdateSourceFormat(ctx, itemID, src.ID, result.Container, result.Bitrate); err != nil {
			return fmt.Errorf("refresh %s: %w", itemID, err)
		}
		refreshed++
	}

	if refreshed > 0 {
		r.invalidate(itemID)
	}
	logger.Debug("{refresh - Refresh} item %s: refreshed %d of %d sources", itemID, refreshed, len(sources))
	return nil
}
