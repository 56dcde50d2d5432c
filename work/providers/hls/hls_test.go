package hls

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"kmedia-resolver/work/config"
	"kmedia-resolver/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=5000000,RESOLUTION=1920x1080
variant_hi.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=2000000,RESOLUTION=1280x720
variant_lo.m3u8
`

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:1
#EXTINF:10.000,
segment1.ts
#EXTINF:10.000,
segment2.ts
`

func testProvider(t *testing.T, playlist string) (*Provider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, playlist)
	}))
	t.Cleanup(server.Close)

	return New(config.ProviderConfig{
		Name:              "head-end",
		Type:              "hls",
		URL:               server.URL + "/master.m3u8",
		RequestsPerSecond: 50,
	}, false), server
}

func TestListSourcesMasterPlaylist(t *testing.T) {
	p, _ := testProvider(t, masterPlaylist)

	sources, err := p.ListSources(context.Background(), "item1")
	require.NoError(t, err)
	require.Len(t, sources, 2)

	hi := sources[0]
	assert.Equal(t, int64(5_000_000), hi.Bitrate)
	assert.Contains(t, hi.Name, "1920x1080")
	assert.Equal(t, types.ProtocolHttp, hi.Protocol)
	assert.True(t, hi.RequiresOpening)
	assert.True(t, hi.RequiresClosing)
	assert.Contains(t, hi.OpenToken, "variant_hi.m3u8")
	require.Len(t, hi.Streams, 1)
	assert.Equal(t, 1920, hi.Streams[0].Width)
	assert.Equal(t, 1080, hi.Streams[0].Height)

	lo := sources[1]
	assert.Equal(t, int64(2_000_000), lo.Bitrate)
	assert.Contains(t, lo.OpenToken, "variant_lo.m3u8")
}

func TestListSourcesMediaPlaylist(t *testing.T) {
	p, server := testProvider(t, mediaPlaylist)

	sources, err := p.ListSources(context.Background(), "item1")
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, server.URL+"/master.m3u8", sources[0].OpenToken)
}

func TestListSourcesUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	p := New(config.ProviderConfig{Name: "head-end", URL: server.URL, RequestsPerSecond: 50}, false)
	_, err := p.ListSources(context.Background(), "item1")
	assert.Error(t, err)
}

func TestOpenAndClose(t *testing.T) {
	p, _ := testProvider(t, masterPlaylist)
	ctx := context.Background()

	source, handle, allowProbe, err := p.Open(ctx, "http://head-end/variant_hi.m3u8")
	require.NoError(t, err)
	assert.Nil(t, handle)
	assert.True(t, allowProbe)
	require.NotEmpty(t, source.LiveStreamID)
	assert.Equal(t, "http://head-end/variant_hi.m3u8", source.Path)
	assert.True(t, source.RequiresClosing)

	// distinct opens mint distinct local ids
	second, _, _, err := p.Open(ctx, "http://head-end/variant_hi.m3u8")
	require.NoError(t, err)
	assert.NotEqual(t, source.LiveStreamID, second.LiveStreamID)

	assert.Equal(t, types.CloseStateClosed, p.Close(ctx, source.LiveStreamID).State)
	assert.Equal(t, types.CloseStateClosed, p.Close(ctx, "never-opened").State, "unknown ids close cleanly")
}

func TestOpenRejectsNonURLToken(t *testing.T) {
	p, _ := testProvider(t, masterPlaylist)

	_, _, _, err := p.Open(context.Background(), "not-a-url")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, _, _, err = p.Open(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestParseResolution(t *testing.T) {
	w, h := parseResolution("1920x1080")
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	w, h = parseResolution("")
	assert.Zero(t, w)
	assert.Zero(t, h)

	w, h = parseResolution("bogus")
	assert.Zero(t, w)
	assert.Zero(t, h)
}

func TestResolveRelative(t *testing.T) {
	assert.Equal(t, "http://host/path/variant.m3u8",
		resolveRelative("http://host/path/master.m3u8", "variant.m3u8"))
	assert.Equal(t, "variant.m3u8", resolveRelative("no-slashes", "variant.m3u8"))
}
