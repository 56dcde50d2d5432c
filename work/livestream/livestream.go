// Package livestream tracks open dynamic-source sessions. The registry owns
// an in-memory session table keyed by routable live-stream id; providers own
// the upstream state behind each session. The table lock covers map access
// only and is never held across a provider call or a probe.
package livestream

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"kmedia-resolver/work/logger"
	"kmedia-resolver/work/metrics"
	"kmedia-resolver/work/probe"
	"kmedia-resolver/work/registry"
	"kmedia-resolver/work/selection"
	"kmedia-resolver/work/types"
)

// ViewerStore is the slice of persistence the registry needs when applying a
// viewer's stream preferences to a freshly opened source.
type ViewerStore interface {
	GetViewer(ctx context.Context, id string) (*types.Viewer, error)
	GetViewerHistory(ctx context.Context, viewerID, itemID string) (*types.ViewerHistory, error)
}

// Registry is the live stream session table. Sessions exist only in memory;
// a restart forgets them all, and providers are expected to time out their
// orphaned upstream state on their own.
type Registry struct {
	providers *registry.Registry
	prober    probe.Prober // nil disables live media-info probing
	viewers   ViewerStore  // nil disables viewer overlay on open
	mu        sync.Mutex
	sessions  map[string]*types.LiveSession
}

// New builds an empty session registry over the given provider set.
func New(providers *registry.Registry, prober probe.Prober, viewers ViewerStore) *Registry {
	return &Registry{
		providers: providers,
		prober:    prober,
		viewers:   viewers,
		sessions:  make(map[string]*types.LiveSession),
	}
}

// OpenLiveStream routes the encoded open token to its provider, opens the
// stream, and tracks the resulting session. The returned source is a deep
// copy of the stored snapshot with the viewer's default stream indices
// applied; the snapshot itself stays untouched by per-viewer state.
func (r *Registry) OpenLiveStream(ctx context.Context, req types.OpenLiveStreamRequest) (*types.MediaSource, error) {
	fingerprint, localToken, err := DecodeKey(req.OpenToken)
	if err != nil {
		return nil, err
	}

	provider, err := r.providers.FindByFingerprint(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("open live stream: no provider for token %q: %w", req.OpenToken, err)
	}

	source, handle, allowProbe, err := provider.Open(ctx, localToken)
	if err != nil {
		metrics.LiveStreamOpens.WithLabelValues(provider.Name(), "error").Inc()
		return nil, types.NewProviderError(provider.Name(), "open", localToken, err)
	}
	if source == nil || source.LiveStreamID == "" {
		metrics.LiveStreamOpens.WithLabelValues(provider.Name(), "invalid").Inc()
		return nil, fmt.Errorf("open live stream: provider %s returned no live stream id: %w",
			provider.Name(), types.ErrInvalidProviderResponse)
	}

	source.LiveStreamID = EncodeKey(fingerprint, source.LiveStreamID)
	if source.OpenToken != "" {
		source.OpenToken = EncodeKey(fingerprint, source.OpenToken)
	}

	session := &types.LiveSession{
		ID:          source.LiveStreamID,
		MediaSource: source,
		Handle:      handle,
		EnableProbe: allowProbe,
	}

	r.mu.Lock()
	r.sessions[strings.ToLower(session.ID)] = session
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.LiveStreamOpens.WithLabelValues(provider.Name(), "ok").Inc()
	metrics.OpenLiveStreams.Set(float64(count))
	logger.Info("{livestream - OpenLiveStream} opened %s via %s (%d open)", session.ID, provider.Name(), count)

	response := source.Clone()
	r.applyViewerDefaults(ctx, response, req.ViewerID, req.ItemID)
	return response, nil
}

// applyViewerDefaults overlays the viewer's default audio/subtitle stream
// indices on the given source. Missing viewer rows and lookup failures leave
// the source as the provider delivered it.
func (r *Registry) applyViewerDefaults(ctx context.Context, source *types.MediaSource, viewerID, itemID string) {
	if r.viewers == nil || viewerID == "" {
		return
	}
	viewer, err := r.viewers.GetViewer(ctx, viewerID)
	if err != nil {
		logger.Debug("{livestream - applyViewerDefaults} viewer %s: %v", viewerID, err)
		return
	}
	var history *types.ViewerHistory
	if itemID != "" {
		history, err = r.viewers.GetViewerHistory(ctx, viewerID, itemID)
		if err != nil {
			logger.Debug("{livestream - applyViewerDefaults} history %s/%s: %v", viewerID, itemID, err)
		}
	}
	selection.ApplyDefaults(source, viewer, history)
}

// GetLiveStreamMediaInfo returns the stored source for a session, refreshed
// by a live ffprobe run when the provider allowed probing at open time. The
// probe happens with the table lock released; its result overwrites the
// snapshot's streams, container, and bitrate in place. Callers get a copy
// taken under the lock, since concurrent probes of the same session keep
// mutating the stored snapshot.
func (r *Registry) GetLiveStreamMediaInfo(ctx context.Context, id string) (*types.MediaSource, error) {
	session, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	if session.EnableProbe && r.prober != nil && session.MediaSource.Path != "" {
		result, err := r.prober.Probe(ctx, session.MediaSource)
		if err != nil {
			logger.Warn("{livestream - GetLiveStreamMediaInfo} probe %s: %v", id, err)
		} else {
			r.mu.Lock()
			session.MediaSource.Streams = result.Streams
			if result.Container != "" {
				session.MediaSource.Container = result.Container
			}
			if result.Bitrate > 0 {
				session.MediaSource.Bitrate = result.Bitrate
			}
			r.mu.Unlock()
		}
	}

	r.mu.Lock()
	snapshot := session.MediaSource.Clone()
	r.mu.Unlock()
	return snapshot, nil
}

// GetLiveStreamWithHandle returns the session's stored source together with
// the provider's opaque handle.
func (r *Registry) GetLiveStreamWithHandle(ctx context.Context, id string) (*types.MediaSource, types.DirectStreamHandle, error) {
	if id == "" {
		return nil, nil, fmt.Errorf("get live stream: empty id: %w", types.ErrInvalidArgument)
	}
	session, err := r.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	snapshot := session.MediaSource.Clone()
	handle := session.Handle
	r.mu.Unlock()
	return snapshot, handle, nil
}

// CloseLiveStream removes the session and, when the source requires closing,
// tells its provider to tear the upstream stream down. Closing an unknown id
// is a no-op; a failed provider teardown is logged and swallowed, since the
// session is already gone from the table.
func (r *Registry) CloseLiveStream(ctx context.Context, id string) {
	key := strings.ToLower(id)

	r.mu.Lock()
	session, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
		session.Closed = true
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	metrics.OpenLiveStreams.Set(float64(count))

	if !session.MediaSource.RequiresClosing {
		return
	}

	fingerprint, localID, err := DecodeKey(session.ID)
	if err != nil {
		logger.Warn("{livestream - CloseLiveStream} bad session id %s: %v", session.ID, err)
		return
	}
	provider, err := r.providers.FindByFingerprint(fingerprint)
	if err != nil {
		logger.Warn("{livestream - CloseLiveStream} no provider for %s: %v", session.ID, err)
		return
	}

	switch result := provider.Close(ctx, localID); result.State {
	case types.CloseStateClosed:
		metrics.LiveStreamCloses.WithLabelValues(provider.Name(), "closed").Inc()
		logger.Info("{livestream - CloseLiveStream} closed %s via %s (%d open)", session.ID, provider.Name(), count)
	case types.CloseStateNotSupported:
		metrics.LiveStreamCloses.WithLabelValues(provider.Name(), "not_supported").Inc()
	case types.CloseStateFailed:
		metrics.LiveStreamCloses.WithLabelValues(provider.Name(), "failed").Inc()
		logger.Warn("{livestream - CloseLiveStream} provider %s failed closing %s: %v", provider.Name(), session.ID, result.Err)
	}
}

// Shutdown closes every open session synchronously. Used on process exit.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for _, session := range r.sessions {
		ids = append(ids, session.ID)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.CloseLiveStream(ctx, id)
	}
	if len(ids) > 0 {
		logger.Info("{livestream - Shutdown} closed %d sessions", len(ids))
	}
}

// Sessions snapshots the open session table for diagnostics.
func (r *Registry) Sessions() []*types.LiveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.LiveSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, session)
	}
	return out
}

// Count reports the number of open sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) lookup(id string) (*types.LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("live stream %q: %w", id, types.ErrNotFound)
	}
	return session, nil
}
