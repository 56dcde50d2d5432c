package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"kmedia-resolver/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, substitute func(string) string) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"), nil, substitute)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSaveAndLoadSourceRoundTrip(t *testing.T) {
	st := openTestStore(t, nil)
	ctx := context.Background()

	threeD := types.Video3DTopBottom
	source := &types.MediaSource{
		ID:                   "src1",
		Name:                 "Feature 1080p",
		Path:                 "/media/movies/feature.mkv",
		Protocol:             types.ProtocolFile,
		Container:            "matroska",
		Bitrate:              8_000_000,
		Size:                 4 << 30,
		Type:                 types.SourceDefault,
		VideoType:            types.VideoFile,
		Video3DFormat:        &threeD,
		SupportsTranscoding:  true,
		SupportsDirectStream: true,
		SupportsDirectPlay:   true,
		SupportsProbing:      true,
		Streams: []types.MediaStream{
			{Index: 0, Kind: types.StreamVideo, Codec: "h264", Width: 1920, Height: 1080, BitRate: 7_000_000},
			{Index: 1, Kind: types.StreamAudio, Codec: "aac", Language: "eng", IsDefault: true},
			{Index: 2, Kind: types.StreamSubtitle, Codec: "subrip", Language: "ger", IsTextSubtitle: true, IsForced: true},
		},
	}
	require.NoError(t, st.SaveSource(ctx, "item1", source))

	loaded, err := st.LoadStaticSources(ctx, "item1", false)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, source.ID, got.ID)
	assert.Equal(t, source.Path, got.Path)
	assert.Equal(t, types.ProtocolFile, got.Protocol)
	assert.Equal(t, "matroska", got.Container)
	assert.Equal(t, int64(8_000_000), got.Bitrate)
	require.NotNil(t, got.Video3DFormat)
	assert.Equal(t, types.Video3DTopBottom, *got.Video3DFormat)
	assert.True(t, got.SupportsDirectPlay)

	require.Len(t, got.Streams, 3)
	assert.Equal(t, "h264", got.Streams[0].Codec)
	assert.True(t, got.Streams[1].IsDefault)
	assert.Equal(t, "eng", got.Streams[1].Language)
	assert.True(t, got.Streams[2].IsForced)
	assert.True(t, got.Streams[2].IsTextSubtitle)
}

func TestLoadSourcesNoItem(t *testing.T) {
	st := openTestStore(t, nil)

	sources, err := st.LoadStaticSources(context.Background(), "missing", false)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestSaveSourceUpsert(t *testing.T) {
	st := openTestStore(t, nil)
	ctx := context.Background()

	source := &types.MediaSource{ID: "src1", Path: "/old.mkv", Protocol: types.ProtocolFile}
	require.NoError(t, st.SaveSource(ctx, "item1", source))

	source.Path = "/new.mkv"
	source.Container = "matroska"
	require.NoError(t, st.SaveSource(ctx, "item1", source))

	loaded, err := st.LoadStaticSources(ctx, "item1", false)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "/new.mkv", loaded[0].Path)
	assert.Equal(t, "matroska", loaded[0].Container)
}

func TestPathSubstitutionOnlyForFileProtocol(t *testing.T) {
	substitute := func(p string) string {
		return strings.Replace(p, "/mnt/media", "/media", 1)
	}
	st := openTestStore(t, substitute)
	ctx := context.Background()

	require.NoError(t, st.SaveSource(ctx, "item1", &types.MediaSource{
		ID: "file", Path: "/mnt/media/movie.mkv", Protocol: types.ProtocolFile,
	}))
	require.NoError(t, st.SaveSource(ctx, "item1", &types.MediaSource{
		ID: "http", Path: "http://host/mnt/media/movie.ts", Protocol: types.ProtocolHttp,
	}))

	loaded, err := st.LoadStaticSources(ctx, "item1", true)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "/media/movie.mkv", loaded[0].Path, "file paths are rewritten")
	assert.Equal(t, "http://host/mnt/media/movie.ts", loaded[1].Path, "network paths stay untouched")

	// and not rewritten at all when the caller forbids it
	loaded, err = st.LoadStaticSources(ctx, "item1", false)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/media/movie.mkv", loaded[0].Path)
}

func TestReplaceStreamsAndUpdateFormat(t *testing.T) {
	st := openTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, st.SaveSource(ctx, "item1", &types.MediaSource{
		ID: "src1", Path: "/a.mkv", Protocol: types.ProtocolFile,
	}))

	streams := []types.MediaStream{
		{Index: 0, Kind: types.StreamVideo, Codec: "hevc", Width: 3840, Height: 2160},
		{Index: 1, Kind: types.StreamAudio, Codec: "eac3", Language: "eng"},
	}
	require.NoError(t, st.ReplaceStreams(ctx, "item1", "src1", streams))
	require.NoError(t, st.UpdateSourceFormat(ctx, "item1", "src1", "matroska", 12_000_000))

	loaded, err := st.LoadStaticSources(ctx, "item1", false)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "matroska", loaded[0].Container)
	assert.Equal(t, int64(12_000_000), loaded[0].Bitrate)
	require.Len(t, loaded[0].Streams, 2)
	assert.Equal(t, 3840, loaded[0].Streams[0].Width)
}

func TestItemKind(t *testing.T) {
	st := openTestStore(t, nil)
	ctx := context.Background()

	kind, err := st.GetItemKind(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, types.MediaKindVideo, kind, "unknown items default to video")

	require.NoError(t, st.UpsertItem(ctx, "album", "Some Album", types.MediaKindAudio))
	kind, err = st.GetItemKind(ctx, "album")
	require.NoError(t, err)
	assert.Equal(t, types.MediaKindAudio, kind)
}

func TestViewerRoundTrip(t *testing.T) {
	st := openTestStore(t, nil)
	ctx := context.Background()

	viewer := &types.Viewer{
		ID:                         "viewer1",
		PreferredAudioLanguages:    []string{"de", "en"},
		PreferredSubtitleLanguages: []string{"de"},
		SubtitleMode:               types.SubtitleModeSmart,
		RememberAudioSelections:    true,
		PlayDefaultAudioTrack:      true,
		EnableAudioTranscoding:     true,
	}
	require.NoError(t, st.SaveViewer(ctx, viewer))

	got, err := st.GetViewer(ctx, "viewer1")
	require.NoError(t, err)
	assert.Equal(t, viewer.PreferredAudioLanguages, got.PreferredAudioLanguages)
	assert.Equal(t, viewer.PreferredSubtitleLanguages, got.PreferredSubtitleLanguages)
	assert.Equal(t, types.SubtitleModeSmart, got.SubtitleMode)
	assert.True(t, got.RememberAudioSelections)
	assert.False(t, got.RememberSubtitleSelections)

	_, err = st.GetViewer(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestViewerHistory(t *testing.T) {
	st := openTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, st.SaveViewer(ctx, &types.Viewer{ID: "viewer1"}))

	// nothing remembered yet
	history, err := st.GetViewerHistory(ctx, "viewer1", "item1")
	require.NoError(t, err)
	assert.Nil(t, history)

	audio := 1
	noSub := -1
	require.NoError(t, st.SaveViewerHistory(ctx, "viewer1", "item1", &types.ViewerHistory{
		AudioStreamIndex:    &audio,
		SubtitleStreamIndex: &noSub,
	}))

	history, err = st.GetViewerHistory(ctx, "viewer1", "item1")
	require.NoError(t, err)
	require.NotNil(t, history)
	require.NotNil(t, history.AudioStreamIndex)
	assert.Equal(t, 1, *history.AudioStreamIndex)
	require.NotNil(t, history.SubtitleStreamIndex)
	assert.Equal(t, -1, *history.SubtitleStreamIndex, "explicit 'no track' survives the round trip")

	// a partial update keeps the unset side NULL
	require.NoError(t, st.SaveViewerHistory(ctx, "viewer1", "item2", &types.ViewerHistory{
		AudioStreamIndex: &audio,
	}))
	history, err = st.GetViewerHistory(ctx, "viewer1", "item2")
	require.NoError(t, err)
	require.NotNil(t, history)
	assert.Nil(t, history.SubtitleStreamIndex)
}
