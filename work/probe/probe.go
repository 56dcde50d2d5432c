package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"kmedia-resolver/work/logger"
	"kmedia-resolver/work/metrics"
	"kmedia-resolver/work/types"
	"kmedia-resolver/work/utils"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
)

// Result carries the stream, container and bitrate information extracted from
// one probe run.
type Result struct {
	Streams   []types.MediaStream
	Container string
	Bitrate   int64
}

// Prober extracts media information from a source. The session registry uses
// it for live re-probes and the metadata refresher for static sources.
type Prober interface {
	Probe(ctx context.Context, source *types.MediaSource) (*Result, error)
}

// FFProbe runs the ffprobe binary against a source path or URL and parses its
// JSON output. Launches are rate limited so a refresh sweep cannot fork-bomb
// the host, and successful results are cached briefly keyed by path since the
// same source is often probed for several viewers in quick succession.
type FFProbe struct {
	timeout   time.Duration
	limiter   ratelimit.Limiter
	obfuscate bool
	cache     *xsync.MapOf[string, cachedResult]
	cacheTTL  time.Duration
}

type cachedResult struct {
	result   *Result
	probedAt time.Time
}

// NewFFProbe builds an FFProbe prober with the given per-run timeout and
// launch rate limit.
func NewFFProbe(timeout time.Duration, probesPerSec int, obfuscateLogs bool) *FFProbe {
	return &FFProbe{
		timeout:   timeout,
		limiter:   ratelimit.New(probesPerSec),
		obfuscate: obfuscateLogs,
		cache:     xsync.NewMapOf[string, cachedResult](),
		cacheTTL:  30 * time.Second,
	}
}

// Probe runs ffprobe against the source. Sources that do not support probing
// are rejected before any process is launched.
func (f *FFProbe) Probe(ctx context.Context, source *types.MediaSource) (*Result, error) {
	if source == nil || source.Path == "" {
		return nil, fmt.Errorf("probe: %w: source has no path", types.ErrInvalidArgument)
	}
	if !source.SupportsProbing {
		return nil, fmt.Errorf("probe: source %s does not support probing: %w", source.ID, types.ErrInvalidArgument)
	}

	if entry, ok := f.cache.Load(source.Path); ok && time.Since(entry.probedAt) < f.cacheTTL {
		metrics.ProbeRuns.WithLabelValues("cached").Inc()
		return entry.result, nil
	}

	f.limiter.Take()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	logger.Debug("{probe - Probe} running ffprobe for %s", utils.LogURL(f.obfuscate, source.Path))

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet", // Minimize verbose output for cleaner parsing
		"-print_format", "json", // Request structured JSON output
		"-show_format",  // Include format information (container, bitrate)
		"-show_streams", // Include individual stream details
		"-analyzeduration", "2M",
		"-probesize", "2M",
		"-i", source.Path)

	output, err := cmd.Output()
	if err != nil {
		metrics.ProbeRuns.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("ffprobe failed for source %s: %w", source.ID, err)
	}

	result, err := parseOutput(output)
	if err != nil {
		metrics.ProbeRuns.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("ffprobe output for source %s: %w", source.ID, err)
	}

	metrics.ProbeRuns.WithLabelValues("success").Inc()
	f.cache.Store(source.Path, cachedResult{result: result, probedAt: time.Now()})
	return result, nil
}

// ffprobeOutput mirrors the subset of ffprobe JSON this prober consumes.
type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		Index       int    `json:"index"`
		CodecType   string `json:"codec_type"`
		CodecName   string `json:"codec_name"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
		BitRate     string `json:"bit_rate"`
		Tags        struct {
			Language string `json:"language"`
			Title    string `json:"title"`
		} `json:"tags"`
		Disposition struct {
			Default int `json:"default"`
			Forced  int `json:"forced"`
		} `json:"disposition"`
	} `json:"streams"`
}

func parseOutput(output []byte) (*Result, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}

	result := &Result{Container: parsed.Format.FormatName}
	if parsed.Format.BitRate != "" {
		if bitrate, err := strconv.ParseInt(parsed.Format.BitRate, 10, 64); err == nil {
			result.Bitrate = bitrate
		}
	}

	for _, s := range parsed.Streams {
		stream := types.MediaStream{
			Index:     s.Index,
			Codec:     s.CodecName,
			Language:  utils.NormalizeLanguage(s.Tags.Language),
			Title:     s.Tags.Title,
			Width:     s.Width,
			Height:    s.Height,
			IsDefault: s.Disposition.Default != 0,
			IsForced:  s.Disposition.Forced != 0,
		}
		if s.BitRate != "" {
			if bitrate, err := strconv.ParseInt(s.BitRate, 10, 64); err == nil {
				stream.BitRate = bitrate
			}
		}
		switch s.CodecType {
		case "video":
			stream.Kind = types.StreamVideo
		case "audio":
			stream.Kind = types.StreamAudio
		case "subtitle":
			stream.Kind = types.StreamSubtitle
			stream.IsTextSubtitle = isTextCodec(s.CodecName)
		case "attachment", "data":
			stream.Kind = types.StreamData
		default:
			stream.Kind = types.StreamData
		}
		result.Streams = append(result.Streams, stream)
	}
	return result, nil
}

// isTextCodec reports whether a subtitle codec is text-based rather than a
// bitmap format.
func isTextCodec(codec string) bool {
	switch codec {
	case "subrip", "srt", "ass", "ssa", "webvtt", "vtt", "mov_text", "text":
		return true
	default:
		return false
	}
}
