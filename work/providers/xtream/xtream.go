// Package xtream implements a dynamic-source provider speaking the
// Xtream-Codes player API. Listing asks the panel for its live streams and
// offers one media source per channel; opening mints a live id for the
// channel's transport-stream URL. The panel keeps no per-client session, so
// closing is a no-op the provider reports as unsupported.
package xtream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"kmedia-resolver/work/client"
	"kmedia-resolver/work/config"
	"kmedia-resolver/work/logger"
	"kmedia-resolver/work/types"
	"kmedia-resolver/work/utils"

	"github.com/google/uuid"
	"github.com/grafana/regexp"
	"go.uber.org/ratelimit"
)

// liveStream is one entry of the panel's get_live_streams response.
type liveStream struct {
	StreamID     int    `json:"stream_id"`
	Name         string `json:"name"`
	CategoryID   string `json:"category_id"`
	StreamIcon   string `json:"stream_icon"`
	EpgChannelID string `json:"epg_channel_id"`
}

// Provider lists and opens channels from an Xtream-Codes panel.
type Provider struct {
	name       string
	url        string
	username   string
	password   string
	httpClient *client.HeaderSettingClient
	limiter    ratelimit.Limiter
	obfuscate  bool
	include    *regexp.Regexp
	exclude    *regexp.Regexp
}

// New builds an Xtream provider from its configuration. An include or
// exclude pattern that fails to compile is logged and treated as no filter.
func New(cfg config.ProviderConfig, obfuscateLogs bool) *Provider {
	return &Provider{
		name:     cfg.Name,
		url:      strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: client.NewHeaderSettingClient(client.Headers{
			UserAgent: cfg.UserAgent,
			Origin:    cfg.ReqOrigin,
			Referrer:  cfg.ReqReferrer,
		}),
		limiter:   ratelimit.New(cfg.RequestsPerSecond),
		obfuscate: obfuscateLogs,
		include:   compileFilter(cfg.Name, "include", cfg.IncludeRegex),
		exclude:   compileFilter(cfg.Name, "exclude", cfg.ExcludeRegex),
	}
}

// compileFilter compiles one configured channel filter, case-insensitive.
// Invalid patterns are logged and ignored rather than taking the process
// down at startup.
func compileFilter(provider, kind, pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	compiled, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		logger.Error("{xtream - New} %s: invalid %s pattern '%s': %v", provider, kind, pattern, err)
		return nil
	}
	return compiled
}

// Name implements types.SourceProvider.
func (p *Provider) Name() string { return p.name }

// ListSources queries the panel for its live channels. The item id narrows
// the listing: channels whose name or EPG id contains it (case-insensitive)
// are offered; an empty item id offers everything the filters let through.
func (p *Provider) ListSources(ctx context.Context, itemID string) ([]*types.MediaSource, error) {
	apiURL := fmt.Sprintf("%s/player_api.php?username=%s&password=%s&action=get_live_streams",
		p.url, p.username, p.password)

	p.limiter.Take()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("xtream list: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xtream list: fetch %s: %w", utils.LogURL(p.obfuscate, apiURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("xtream list: HTTP %d from %s", resp.StatusCode, utils.LogURL(p.obfuscate, p.url))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("xtream list: read response: %w", err)
	}

	var streams []liveStream
	if err := json.Unmarshal(body, &streams); err != nil {
		return nil, fmt.Errorf("xtream list: %w: %v", types.ErrInvalidProviderResponse, err)
	}

	needle := strings.ToLower(itemID)
	var sources []*types.MediaSource
	for _, ls := range streams {
		if !p.wantChannel(ls, needle) {
			continue
		}
		sources = append(sources, p.channelSource(ls))
	}

	logger.Debug("{xtream - ListSources} %s: %d of %d channels for item %s", p.name, len(sources), len(streams), itemID)
	return sources, nil
}

// wantChannel applies the item filter and the configured include/exclude
// patterns to one channel.
func (p *Provider) wantChannel(ls liveStream, needle string) bool {
	if needle != "" &&
		!strings.Contains(strings.ToLower(ls.Name), needle) &&
		!strings.Contains(strings.ToLower(ls.EpgChannelID), needle) {
		return false
	}
	if p.include != nil && !p.include.MatchString(ls.Name) {
		return false
	}
	if p.exclude != nil && p.exclude.MatchString(ls.Name) {
		return false
	}
	return true
}

// channelSource builds the media source offered for one channel. The open
// token carries the panel's stream id.
func (p *Provider) channelSource(ls liveStream) *types.MediaSource {
	return &types.MediaSource{
		ID:                   fmt.Sprintf("xc-%d", ls.StreamID),
		Name:                 ls.Name,
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
		RequiresClosing:      false,
		OpenToken:            fmt.Sprintf("%d", ls.StreamID),
	}
}

// Open resolves the token to the panel's transport-stream URL and mints a
// local live id for it. Probing the live URL is allowed.
func (p *Provider) Open(ctx context.Context, token string) (*types.MediaSource, types.DirectStreamHandle, bool, error) {
	if token == "" {
		return nil, nil, false, fmt.Errorf("xtream open: %w: empty token", types.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, false, err
	}

	streamURL := fmt.Sprintf("%s/live/%s/%s/%s.ts", p.url, p.username, p.password, token)
	localID := uuid.NewString()

	src := &types.MediaSource{
		ID:                   "xc-live-" + localID,
		Name:                 p.name,
		Path:                 streamURL,
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
		RequiresClosing:      false,
		OpenToken:            token,
		LiveStreamID:         localID,
	}

	logger.Debug("{xtream - Open} %s: opened channel %s as %s", p.name, utils.LogToken(p.obfuscate, token), localID)
	return src, nil, true, nil
}

// Close reports unsupported: the panel holds no per-client state to release.
func (p *Provider) Close(ctx context.Context, localID string) types.CloseResult {
	return types.CloseNotSupported()
}
