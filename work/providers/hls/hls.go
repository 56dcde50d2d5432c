// Package hls implements a dynamic-source provider backed by an HLS head-end.
// Listing fetches the head-end's master playlist and offers one media source
// per variant rendition; opening pins a variant URL and hands out a live
// stream id for it.
package hls

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"kmedia-resolver/work/client"
	"kmedia-resolver/work/config"
	"kmedia-resolver/work/logger"
	"kmedia-resolver/work/types"
	"kmedia-resolver/work/utils"

	"github.com/google/uuid"
	"github.com/grafov/m3u8"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
)

// itemPlaceholder in the configured playlist URL is replaced with the
// requested item id, letting one provider serve per-item playlists. URLs
// without the placeholder offer the same renditions for every item.
const itemPlaceholder = "{item}"

// Provider lists and opens HLS renditions from a configured master playlist.
type Provider struct {
	name       string
	url        string
	httpClient *client.HeaderSettingClient
	limiter    ratelimit.Limiter
	obfuscate  bool
	open       *xsync.MapOf[string, string] // local live id -> variant URL
}

// New builds an HLS provider from its configuration.
func New(cfg config.ProviderConfig, obfuscateLogs bool) *Provider {
	return &Provider{
		name: cfg.Name,
		url:  cfg.URL,
		httpClient: client.NewHeaderSettingClient(client.Headers{
			UserAgent: cfg.UserAgent,
			Origin:    cfg.ReqOrigin,
			Referrer:  cfg.ReqReferrer,
		}),
		limiter:   ratelimit.New(cfg.RequestsPerSecond),
		obfuscate: obfuscateLogs,
		open:      xsync.NewMapOf[string, string](),
	}
}

// Name implements types.SourceProvider.
func (p *Provider) Name() string { return p.name }

// ListSources fetches the master playlist and returns one source per variant,
// highest bandwidth first as the head-end listed them. Media playlists (no
// variants) yield a single source for the playlist URL itself.
func (p *Provider) ListSources(ctx context.Context, itemID string) ([]*types.MediaSource, error) {
	playlistURL := strings.ReplaceAll(p.url, itemPlaceholder, itemID)

	p.limiter.Take()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, fmt.Errorf("hls list: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hls list: fetch %s: %w", utils.LogURL(p.obfuscate, playlistURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hls list: HTTP %d from %s", resp.StatusCode, utils.LogURL(p.obfuscate, playlistURL))
	}

	playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(resp.Body), true)
	if err != nil {
		return nil, fmt.Errorf("hls list: decode %s: %w", utils.LogURL(p.obfuscate, playlistURL), err)
	}

	var sources []*types.MediaSource
	switch listType {
	case m3u8.MEDIA:
		// A plain media playlist is itself the only rendition.
		sources = append(sources, p.variantSource(itemID, 0, playlistURL, 0, ""))

	case m3u8.MASTER:
		masterpl := playlist.(*m3u8.MasterPlaylist)
		for i, variant := range masterpl.Variants {
			if variant == nil {
				break
			}
			uri := variant.URI
			if !strings.Contains(uri, "://") {
				uri = resolveRelative(playlistURL, uri)
			}
			sources = append(sources, p.variantSource(itemID, i, uri, int64(variant.Bandwidth), variant.Resolution))
		}
	}

	logger.Debug("{hls - ListSources} %s: %d renditions for item %s", p.name, len(sources), itemID)
	return sources, nil
}

// variantSource builds the media source offered for one playlist variant. The
// open token is the variant URL itself; it only becomes playable after Open.
func (p *Provider) variantSource(itemID string, index int, uri string, bandwidth int64, resolution string) *types.MediaSource {
	name := fmt.Sprintf("%s #%d", p.name, index+1)
	if resolution != "" {
		name = fmt.Sprintf("%s %s", p.name, resolution)
	}

	src := &types.MediaSource{
		ID:                   fmt.Sprintf("hls-%s-%d", itemID, index),
		Name:                 name,
		Protocol:             types.ProtocolHttp,
		Container:            "mpegts",
		Bitrate:              bandwidth,
		Type:                 types.SourceDefault,
		VideoType:            types.VideoFile,
		IsRemote:             true,
		SupportsTranscoding:  true,
		SupportsDirectStream: true,
		SupportsDirectPlay:   false,
		SupportsProbing:      true,
		RequiresOpening:      true,
		RequiresClosing:      true,
		OpenToken:            uri,
	}

	if w, h := parseResolution(resolution); w > 0 {
		src.Streams = append(src.Streams, types.MediaStream{
			Index:   0,
			Kind:    types.StreamVideo,
			Width:   w,
			Height:  h,
			BitRate: bandwidth,
		})
	}
	return src
}

// Open pins the variant URL behind the token and assigns it a fresh local
// live-stream id. The source becomes playable at its Path; probing the live
// URL afterwards is allowed.
func (p *Provider) Open(ctx context.Context, token string) (*types.MediaSource, types.DirectStreamHandle, bool, error) {
	if token == "" || !strings.Contains(token, "://") {
		return nil, nil, false, fmt.Errorf("hls open: %w: token is not a variant URL", types.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, false, err
	}

	localID := uuid.NewString()
	p.open.Store(localID, token)

	src := &types.MediaSource{
		ID:                   "hls-live-" + localID,
		Name:                 p.name,
		Path:                 token,
		Protocol:             types.ProtocolHttp,
		Container:            "mpegts",
		Type:                 types.SourceDefault,
		VideoType:            types.VideoFile,
		IsRemote:             true,
		SupportsTranscoding:  true,
		SupportsDirectStream: true,
		SupportsDirectPlay:   false,
		SupportsProbing:      true,
		RequiresOpening:      true,
		RequiresClosing:      true,
		OpenToken:            token,
		LiveStreamID:         localID,
	}

	logger.Debug("{hls - Open} %s: opened %s as %s", p.name, utils.LogURL(p.obfuscate, token), localID)
	return src, nil, true, nil
}

// Close forgets the local live id. Unknown ids close successfully; there is
// nothing upstream to tear down for a stateless HLS fetch.
func (p *Provider) Close(ctx context.Context, localID string) types.CloseResult {
	p.open.Delete(localID)
	return types.CloseClosed()
}

// parseResolution splits a "WIDTHxHEIGHT" playlist attribute.
func parseResolution(resolution string) (int, int) {
	parts := strings.SplitN(resolution, "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return w, h
}

// resolveRelative joins a relative variant URI onto its playlist URL.
func resolveRelative(base, ref string) string {
	idx := strings.LastIndex(base, "/")
	if idx < 0 {
		return ref
	}
	return base[:idx+1] + ref
}
