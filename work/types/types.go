package types

import (
	"context"
)

// MediaProtocol identifies how a playable rendition is reached on the wire (or on
// disk). The protocol drives two decisions in the resolver: whether a path is
// eligible for path substitution (file only) and whether a dynamically-opened
// source can be trusted to serve direct playback (file and http only).
type MediaProtocol int

// Supported media protocols. Anything outside File/Http is treated as an
// untrusted transport for direct streaming purposes.
const (
	ProtocolFile MediaProtocol = iota // Local or mounted filesystem path
	ProtocolHttp                      // Plain HTTP(S) network stream
	ProtocolRtmp                      // RTMP ingest/egress
	ProtocolRtsp                      // RTSP session-based stream
	ProtocolUdp                       // Raw UDP/multicast
)

// IsNetworkOrFile reports whether the protocol is one of the two transports a
// dynamic source may serve direct-stream playback over.
func (p MediaProtocol) IsNetworkOrFile() bool {
	return p == ProtocolFile || p == ProtocolHttp
}

// String returns the lower-case protocol name used in logs and API payloads.
func (p MediaProtocol) String() string {
	switch p {
	case ProtocolFile:
		return "file"
	case ProtocolHttp:
		return "http"
	case ProtocolRtmp:
		return "rtmp"
	case ProtocolRtsp:
		return "rtsp"
	case ProtocolUdp:
		return "udp"
	default:
		return "unknown"
	}
}

// MediaStreamKind classifies a single elementary stream inside a media source.
type MediaStreamKind int

// Stream kinds. Data and EmbeddedImage streams are carried through untouched but
// never participate in default-track selection.
const (
	StreamVideo MediaStreamKind = iota
	StreamAudio
	StreamSubtitle
	StreamData
	StreamEmbeddedImage
)

// String returns the lower-case kind name used in logs and API payloads.
func (k MediaStreamKind) String() string {
	switch k {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	case StreamSubtitle:
		return "subtitle"
	case StreamData:
		return "data"
	case StreamEmbeddedImage:
		return "embeddedimage"
	default:
		return "unknown"
	}
}

// SourceType distinguishes real playable sources from placeholders that exist
// only to mark an item as known-but-unplayable (e.g. an unripped disc). The
// resolver drops placeholder sources from its final result.
type SourceType int

const (
	SourceDefault     SourceType = iota // Normal playable source
	SourcePlaceholder                   // Marker entry; filtered from playback results
)

// VideoType captures the physical shape of a video source. Plain video files
// sort ahead of folder/image based sources regardless of resolution.
type VideoType int

const (
	VideoFile VideoType = iota // Single container file
	VideoBluRay
	VideoDvd
	VideoIso
)

// Video3DFormat identifies the stereo packing of a 3D source. A nil pointer on
// MediaSource means the source is plain 2D.
type Video3DFormat int

const (
	Video3DSideBySide Video3DFormat = iota
	Video3DTopBottom
	Video3DMVC
)

// SubtitleMode is a viewer-level policy controlling when subtitle tracks are
// selected by default.
type SubtitleMode int

const (
	SubtitleModeDefault    SubtitleMode = iota // Prefer tracks flagged default/forced
	SubtitleModeAlways                         // Always pick the best matching track
	SubtitleModeOnlyForced                     // Only forced tracks, matched to the audio language
	SubtitleModeNone                           // Never select subtitles
	SubtitleModeSmart                          // Subtitles only when audio is not in a preferred language
)

// MediaStream describes one elementary stream (video, audio, subtitle, ...)
// within a media source. Index is the container-level stream index and is the
// value persisted in viewer history when a selection is remembered.
type MediaStream struct {
	Index          int             `json:"index"`                    // Container stream index, unique within the source
	Kind           MediaStreamKind `json:"kind"`                     // video / audio / subtitle / data
	Codec          string          `json:"codec,omitempty"`          // Codec short name as reported by the prober
	Language       string          `json:"language,omitempty"`       // ISO language tag, normalized lower-case
	Title          string          `json:"title,omitempty"`          // Optional human-readable track title
	Width          int             `json:"width,omitempty"`          // Video only: frame width in pixels
	Height         int             `json:"height,omitempty"`         // Video only: frame height in pixels
	BitRate        int64           `json:"bitRate,omitempty"`        // Per-stream bitrate in bits/second, 0 when unknown
	IsDefault      bool            `json:"isDefault,omitempty"`      // Container default-track disposition
	IsForced       bool            `json:"isForced,omitempty"`       // Forced disposition (subtitles shown regardless of settings)
	IsExternal     bool            `json:"isExternal,omitempty"`     // Stream lives outside the container (sidecar file)
	IsTextSubtitle bool            `json:"isTextSubtitle,omitempty"` // Subtitle only: text-based (srt/vtt/ass) rather than bitmap
}

// MediaSource describes one playable rendition of a catalog item: where it
// lives, how it is reached, what elementary streams it carries and what the
// playback layer is allowed to do with it (transcode, direct-stream, probe).
//
// Static sources are loaded from the store and owned by the catalog item.
// Dynamic sources are produced fresh per request by a registered provider and
// carry an OpenToken plus, once opened, a LiveStreamID; both are key-encoded
// with the owning provider's fingerprint before leaving this process so that a
// later open/close can be routed back without a directory service.
type MediaSource struct {
	ID        string        `json:"id"`                  // Source identifier, unique per item
	Name      string        `json:"name,omitempty"`      // Display name (container/resolution summary)
	Path      string        `json:"path,omitempty"`      // Filesystem path or URL, protocol dependent
	Protocol  MediaProtocol `json:"protocol"`            // Transport used to reach Path
	Container string        `json:"container,omitempty"` // Container format short name
	Bitrate   int64         `json:"bitrate,omitempty"`   // Total bitrate in bits/second, 0 when unknown
	Size      int64         `json:"size,omitempty"`      // Byte size for file sources, 0 when unknown

	Type          SourceType     `json:"type"`                    // Default or placeholder
	VideoType     VideoType      `json:"videoType"`               // Physical shape of the video source
	Video3DFormat *Video3DFormat `json:"video3DFormat,omitempty"` // nil for plain 2D sources
	IsRemote      bool           `json:"isRemote,omitempty"`      // Source is served from outside this host

	Streams                    []MediaStream `json:"streams"`                              // Elementary streams in container order
	DefaultAudioStreamIndex    *int          `json:"defaultAudioStreamIndex,omitempty"`    // Viewer-specific overlay, nil until applied
	DefaultSubtitleStreamIndex *int          `json:"defaultSubtitleStreamIndex,omitempty"` // Viewer-specific overlay, nil until applied

	SupportsTranscoding  bool `json:"supportsTranscoding"`  // Playback layer may transcode this source
	SupportsDirectStream bool `json:"supportsDirectStream"` // Playback layer may remux/serve the raw container
	SupportsDirectPlay   bool `json:"supportsDirectPlay"`   // Client may fetch Path directly
	SupportsProbing      bool `json:"supportsProbing"`      // Media-info prober may be pointed at Path

	RequiresOpening bool   `json:"requiresOpening,omitempty"` // Source must be opened through its provider before playback
	RequiresClosing bool   `json:"requiresClosing,omitempty"` // Provider must be told when the session ends
	OpenToken       string `json:"openToken,omitempty"`       // Provider-routable open token (encoded once resolved)
	LiveStreamID    string `json:"liveStreamId,omitempty"`    // Session id once opened (encoded)
}

// Clone produces a structural deep copy of the source. The session registry
// hands clones to callers so that a later in-place probe of the stored copy
// cannot retroactively change data already returned.
func (ms *MediaSource) Clone() *MediaSource {
	if ms == nil {
		return nil
	}
	out := *ms
	if ms.Video3DFormat != nil {
		v := *ms.Video3DFormat
		out.Video3DFormat = &v
	}
	if ms.DefaultAudioStreamIndex != nil {
		v := *ms.DefaultAudioStreamIndex
		out.DefaultAudioStreamIndex = &v
	}
	if ms.DefaultSubtitleStreamIndex != nil {
		v := *ms.DefaultSubtitleStreamIndex
		out.DefaultSubtitleStreamIndex = &v
	}
	out.Streams = make([]MediaStream, len(ms.Streams))
	copy(out.Streams, ms.Streams)
	return &out
}

// TotalBitrate sums the per-stream bitrates, used as a fallback estimate when a
// dynamic source arrives without an overall bitrate.
func (ms *MediaSource) TotalBitrate() int64 {
	var total int64
	for i := range ms.Streams {
		total += ms.Streams[i].BitRate
	}
	return total
}

// VideoStream returns the first video stream, or nil when the source carries
// none. Sorting uses this to rank sources by width.
func (ms *MediaSource) VideoStream() *MediaStream {
	for i := range ms.Streams {
		if ms.Streams[i].Kind == StreamVideo {
			return &ms.Streams[i]
		}
	}
	return nil
}

// HasStreamOfKind reports whether any elementary stream of the given kind is
// present. The resolver treats a lone static source with neither audio nor
// video streams as never-probed and triggers a one-shot metadata refresh.
func (ms *MediaSource) HasStreamOfKind(kind MediaStreamKind) bool {
	for i := range ms.Streams {
		if ms.Streams[i].Kind == kind {
			return true
		}
	}
	return false
}

// DirectStreamHandle is an opaque pass-through object owned by the provider
// that opened a live stream. The registry stores it with the session and hands
// it back on lookup; it never inspects it.
type DirectStreamHandle interface{}

// CloseState is the tag of a CloseResult.
type CloseState int

const (
	CloseStateClosed       CloseState = iota // Provider tore the stream down
	CloseStateNotSupported                   // Provider has nothing to tear down; treated as success
	CloseStateFailed                         // Provider attempted teardown and failed
)

// CloseResult is the outcome of a provider Close call, modeled as a tagged
// value so callers cannot mistake "nothing to close" for an error.
type CloseResult struct {
	State CloseState
	Err   error // Set only when State is CloseStateFailed
}

// CloseClosed reports a successful provider-side teardown.
func CloseClosed() CloseResult { return CloseResult{State: CloseStateClosed} }

// CloseNotSupported reports that the provider keeps no per-stream state.
func CloseNotSupported() CloseResult { return CloseResult{State: CloseStateNotSupported} }

// CloseFailed reports a failed teardown attempt.
func CloseFailed(err error) CloseResult { return CloseResult{State: CloseStateFailed, Err: err} }

// SourceProvider is the capability contract a dynamic-source backend registers
// with the provider registry. ListSources failures are isolated per provider
// and never abort an aggregation batch; Open failures propagate to the caller
// because an open must succeed or fail visibly.
type SourceProvider interface {
	// Name identifies the provider implementation; its hash is the routing
	// fingerprint, so the name must be stable across restarts.
	Name() string

	// ListSources returns the dynamic sources this provider can offer for the
	// item, with OpenToken set on every source that requires opening. Tokens
	// are provider-local; the registry prefixes them before they leave.
	ListSources(ctx context.Context, itemID string) ([]*MediaSource, error)

	// Open opens a live stream for a provider-local token and returns the
	// resulting source (which must carry a provider-local LiveStreamID), an
	// optional direct-stream handle, and whether a later live probe of the
	// stored source is allowed.
	Open(ctx context.Context, token string) (*MediaSource, DirectStreamHandle, bool, error)

	// Close tears down a previously opened stream by its provider-local id.
	Close(ctx context.Context, localID string) CloseResult
}

// OpenLiveStreamRequest is the payload of a live-stream open operation.
// OpenToken is the encoded token handed out during resolution.
type OpenLiveStreamRequest struct {
	OpenToken string `json:"openToken"`
	ItemID    string `json:"itemId,omitempty"`
	ViewerID  string `json:"viewerId,omitempty"`
}

// LiveSession represents one open dynamic source tracked by the session
// registry. MediaSource is the stored snapshot taken at open time; probes
// mutate it in place. The registry guards all access with its table lock.
type LiveSession struct {
	ID          string             // Encoded session id (provider fingerprint + local id)
	MediaSource *MediaSource       // Stored snapshot, mutated in place by probes
	Handle      DirectStreamHandle // Opaque provider object, may be nil
	EnableProbe bool               // Provider allowed a later live probe
	Closed      bool               // Set once the session is removed from the table
}

// Viewer carries the per-viewer playback preferences consulted when default
// audio/subtitle stream indices are overlaid on resolved sources.
type Viewer struct {
	ID                         string
	PreferredAudioLanguages    []string     // Ordered; earlier entries win
	PreferredSubtitleLanguages []string     // Ordered; earlier entries win
	SubtitleMode               SubtitleMode // When to pick subtitles at all
	RememberAudioSelections    bool         // Remembered audio index wins outright
	RememberSubtitleSelections bool         // Remembered subtitle index wins outright
	PlayDefaultAudioTrack      bool         // Container default flag beats language matching
	EnableAudioTranscoding     bool         // false forces transcoding off for audio items
}

// ViewerHistory is the remembered stream selection for one (viewer, item)
// pair. A stored -1 means the viewer explicitly chose "no track"; nil means
// nothing was remembered.
type ViewerHistory struct {
	AudioStreamIndex    *int
	SubtitleStreamIndex *int
}

// MediaKind is the coarse item media type consulted for the audio-transcoding
// policy override.
type MediaKind int

const (
	MediaKindVideo MediaKind = iota
	MediaKindAudio
)
