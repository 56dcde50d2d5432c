// Package resolver aggregates playback candidates for an item: static
// sources from the store merged with dynamic offers fanned out across every
// registered provider, overlaid with the viewer's stream preferences and
// sorted by playability.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"kmedia-resolver/work/cache"
	"kmedia-resolver/work/livestream"
	"kmedia-resolver/work/logger"
	"kmedia-resolver/work/metrics"
	"kmedia-resolver/work/refresh"
	"kmedia-resolver/work/registry"
	"kmedia-resolver/work/selection"
	"kmedia-resolver/work/sorting"
	"kmedia-resolver/work/store"
	"kmedia-resolver/work/types"

	"github.com/panjf2000/ants/v2"
)

// Resolver wires the store, the provider registry, the refresher, and the
// session registry into the playback-source aggregation pipeline.
type Resolver struct {
	store       *store.Store
	providers   *registry.Registry
	refresher   *refresh.Refresher
	sessions    *livestream.Registry
	pool        *ants.Pool
	cache       *cache.ResolvedCache
	callTimeout time.Duration // per-provider listing deadline, 0 = none
}

// New builds a resolver. The pool is shared process-wide and sized by
// configuration; the cache may be disabled.
func New(st *store.Store, providers *registry.Registry, refresher *refresh.Refresher,
	sessions *livestream.Registry, pool *ants.Pool, resolved *cache.ResolvedCache, callTimeout time.Duration) *Resolver {
	return &Resolver{
		store:       st,
		providers:   providers,
		refresher:   refresher,
		sessions:    sessions,
		pool:        pool,
		cache:       resolved,
		callTimeout: callTimeout,
	}
}

// ResolvePlaybackSources returns every playable candidate for an item,
// static sources first, then provider offers in registration order. The
// result reflects the viewer's preferences when a viewer id is given.
func (r *Resolver) ResolvePlaybackSources(ctx context.Context, itemID, viewerID string, allowPathSubstitution bool) ([]*types.MediaSource, error) {
	if itemID == "" {
		return nil, fmt.Errorf("resolve sources: empty item id: %w", types.ErrInvalidArgument)
	}

	cacheKey := cache.Key(itemID, viewerID, allowPathSubstitution)
	if cached, ok := r.cache.Get(cacheKey); ok {
		return cloneAll(cached), nil
	}

	start := time.Now()
	defer func() {
		metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	static, err := r.store.LoadStaticSources(ctx, itemID, allowPathSubstitution)
	if err != nil {
		return nil, fmt.Errorf("resolve sources: load static: %w", err)
	}

	// A lone static source with no audio or video streams has never been
	// probed. One refresh cycle fills its stream rows in; a source that
	// still comes back empty is served as-is rather than re-probed forever.
	if needsMetadataRefresh(static) {
		if err := r.refresher.Refresh(ctx, itemID, refresh.Options{FullRefresh: true, RemoteProbe: true}); err != nil {
			logger.Warn("{resolver - ResolvePlaybackSources} refresh %s: %v", itemID, err)
		}
		static, err = r.store.LoadStaticSources(ctx, itemID, allowPathSubstitution)
		if err != nil {
			return nil, fmt.Errorf("resolve sources: reload static: %w", err)
		}
	}

	dynamic := r.fanOut(ctx, itemID)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	providers := r.providers.Providers()
	merged := make([]*types.MediaSource, 0, len(static)+16)
	merged = append(merged, static...)
	for providerIdx, sources := range dynamic {
		fingerprint := registry.Fingerprint(providers[providerIdx])
		for _, src := range sources {
			r.normalizeDynamic(src, fingerprint)
			merged = append(merged, src)
		}
	}

	if viewerID != "" {
		r.applyViewerState(ctx, merged, viewerID, itemID)
	}

	sorting.ByPlayability(merged)
	merged = dropPlaceholders(merged)

	// the cache keeps its own copies so callers can mutate their result freely
	r.cache.Set(cacheKey, cloneAll(merged))
	return merged, nil
}

// ResolveSingleSource returns one concrete source: the tracked session's
// snapshot when a live stream id is given, otherwise the matching entry of a
// full resolution.
func (r *Resolver) ResolveSingleSource(ctx context.Context, itemID, sourceID, liveStreamID, viewerID string, allowPathSubstitution bool) (*types.MediaSource, error) {
	if liveStreamID != "" {
		source, _, err := r.sessions.GetLiveStreamWithHandle(ctx, liveStreamID)
		if err != nil {
			return nil, err
		}
		return source.Clone(), nil
	}

	if sourceID == "" {
		return nil, fmt.Errorf("resolve source: empty source id: %w", types.ErrInvalidArgument)
	}

	sources, err := r.ResolvePlaybackSources(ctx, itemID, viewerID, allowPathSubstitution)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		if strings.EqualFold(src.ID, sourceID) {
			return src, nil
		}
	}
	return nil, fmt.Errorf("resolve source: item %s has no source %q: %w", itemID, sourceID, types.ErrNotFound)
}

// InvalidateItem drops the item's cached resolutions, typically after a
// metadata refresh.
func (r *Resolver) InvalidateItem(itemID string) {
	r.cache.InvalidateItem(itemID)
}

// fanOut asks every provider for its offers concurrently on the shared pool.
// Each branch is isolated: a panicking or failing provider loses only its own
// slot, and results keep provider registration order regardless of which
// branch finishes first.
func (r *Resolver) fanOut(ctx context.Context, itemID string) [][]*types.MediaSource {
	providers := r.providers.Providers()
	results := make([][]*types.MediaSource, len(providers))

	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	for i, p := range providers {
		i, p := i, p
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					metrics.ProviderListFailures.WithLabelValues(p.Name()).Inc()
					logger.Error("{resolver - fanOut} provider %s panicked listing %s: %v", p.Name(), itemID, rec)
				}
			}()
			sources, err := p.ListSources(ctx, itemID)
			if err != nil {
				metrics.ProviderListFailures.WithLabelValues(p.Name()).Inc()
				logger.Warn("{resolver - fanOut} provider %s failed listing %s: %v", p.Name(), itemID, err)
				return
			}
			results[i] = sources
		}
		if err := r.pool.Submit(task); err != nil {
			// Pool saturated or released; run inline rather than drop the branch.
			task()
		}
	}
	wg.Wait()

	return results
}

// normalizeDynamic finishes a provider offer for hand-out: fills a missing
// aggregate bitrate from its streams, encodes the routing tokens with the
// provider fingerprint, and withdraws direct streaming for protocols the
// player cannot reach directly.
func (r *Resolver) normalizeDynamic(src *types.MediaSource, fingerprint string) {
	if src.Bitrate == 0 {
		src.Bitrate = src.TotalBitrate()
	}
	if src.OpenToken != "" {
		src.OpenToken = livestream.EncodeKey(fingerprint, src.OpenToken)
	}
	if src.LiveStreamID != "" {
		src.LiveStreamID = livestream.EncodeKey(fingerprint, src.LiveStreamID)
	}
	if !src.Protocol.IsNetworkOrFile() {
		src.SupportsDirectStream = false
	}
}

// applyViewerState overlays the viewer's default stream indices on every
// source and applies their transcoding policy for audio items. A missing
// viewer row leaves the sources untouched.
func (r *Resolver) applyViewerState(ctx context.Context, sources []*types.MediaSource, viewerID, itemID string) {
	viewer, err := r.store.GetViewer(ctx, viewerID)
	if err != nil {
		logger.Debug("{resolver - applyViewerState} viewer %s: %v", viewerID, err)
		return
	}
	history, err := r.store.GetViewerHistory(ctx, viewerID, itemID)
	if err != nil {
		logger.Debug("{resolver - applyViewerState} history %s/%s: %v", viewerID, itemID, err)
	}

	kind, err := r.store.GetItemKind(ctx, itemID)
	if err != nil {
		kind = types.MediaKindVideo
	}

	for _, src := range sources {
		selection.ApplyDefaults(src, viewer, history)
		if kind == types.MediaKindAudio && !viewer.EnableAudioTranscoding {
			src.SupportsTranscoding = false
		}
	}
}

// needsMetadataRefresh reports whether the static set is a single unprobed
// real source.
func needsMetadataRefresh(static []*types.MediaSource) bool {
	if len(static) != 1 {
		return false
	}
	src := static[0]
	if src.Type == types.SourcePlaceholder {
		return false
	}
	return !src.HasStreamOfKind(types.StreamAudio) && !src.HasStreamOfKind(types.StreamVideo)
}

func dropPlaceholders(sources []*types.MediaSource) []*types.MediaSource {
	out := sources[:0]
	for _, src := range sources {
		if src.Type != types.SourcePlaceholder {
			out = append(out, src)
		}
	}
	return out
}

func cloneAll(sources []*types.MediaSource) []*types.MediaSource {
	out := make([]*types.MediaSource, len(sources))
	for i, src := range sources {
		out[i] = src.Clone()
	}
	return out
}
