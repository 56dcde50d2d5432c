package handlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"kmedia-resolver/work/cache"
	"kmedia-resolver/work/livestream"
	"kmedia-resolver/work/refresh"
	"kmedia-resolver/work/registry"
	"kmedia-resolver/work/resolver"
	"kmedia-resolver/work/store"
	"kmedia-resolver/work/types"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name    string
	openErr error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) ListSources(ctx context.Context, itemID string) ([]*types.MediaSource, error) {
	return []*types.MediaSource{{
		ID: "dyn1", Protocol: types.ProtocolHttp, OpenToken: "chan1", RequiresOpening: true,
	}}, nil
}

func (p *stubProvider) Open(ctx context.Context, token string) (*types.MediaSource, types.DirectStreamHandle, bool, error) {
	if p.openErr != nil {
		return nil, nil, false, p.openErr
	}
	return &types.MediaSource{
		ID:              "opened-" + token,
		Path:            "http://upstream/" + token,
		Protocol:        types.ProtocolHttp,
		LiveStreamID:    "local-" + token,
		RequiresOpening: true,
	}, nil, false, nil
}

func (p *stubProvider) Close(ctx context.Context, localID string) types.CloseResult {
	return types.CloseClosed()
}

func newTestRouter(t *testing.T) (*mux.Router, *store.Store, string) {
	return newTestRouterWith(t, &stubProvider{name: "stub"})
}

func newTestRouterWith(t *testing.T, provider *stubProvider) (*mux.Router, *store.Store, string) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	reg := registry.New()
	require.NoError(t, reg.Register([]types.SourceProvider{provider}))

	resolved := cache.New(false, 0, 0)
	refresher := refresh.New(st, nil, false, nil)
	sessions := livestream.New(reg, nil, st)
	res := resolver.New(st, reg, refresher, sessions, pool, resolved, time.Second)

	router := mux.NewRouter()
	New(res, sessions).RegisterRoutes(router)
	return router, st, registry.Fingerprint(provider)
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestResolveSourcesEndpoint(t *testing.T) {
	router, st, _ := newTestRouter(t)
	require.NoError(t, st.SaveSource(context.Background(), "item1", &types.MediaSource{
		ID: "src1", Path: "/media/a.mkv", Protocol: types.ProtocolFile,
		Streams: []types.MediaStream{{Index: 0, Kind: types.StreamVideo}},
	}))

	rec := doJSON(t, router, http.MethodGet, "/items/item1/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var sources []types.MediaSource
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sources))
	require.Len(t, sources, 2, "static source plus the stub provider's offer")
	assert.Equal(t, "src1", sources[0].ID)
	assert.Equal(t, "dyn1", sources[1].ID)
}

func TestResolveSourcesGzip(t *testing.T) {
	router, st, _ := newTestRouter(t)
	require.NoError(t, st.SaveSource(context.Background(), "item1", &types.MediaSource{
		ID: "src1", Path: "/media/a.mkv", Protocol: types.ProtocolFile,
		Streams: []types.MediaStream{{Index: 0, Kind: types.StreamVideo}},
	}))

	req := httptest.NewRequest(http.MethodGet, "/items/item1/sources", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)

	var sources []types.MediaSource
	require.NoError(t, json.Unmarshal(raw, &sources))
	assert.NotEmpty(t, sources)
}

func TestResolveSingleSourceEndpoint(t *testing.T) {
	router, st, _ := newTestRouter(t)
	require.NoError(t, st.SaveSource(context.Background(), "item1", &types.MediaSource{
		ID: "src1", Path: "/media/a.mkv", Protocol: types.ProtocolFile,
		Streams: []types.MediaStream{{Index: 0, Kind: types.StreamVideo}},
	}))

	rec := doJSON(t, router, http.MethodGet, "/items/item1/sources/src1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var source types.MediaSource
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &source))
	assert.Equal(t, "src1", source.ID)

	rec = doJSON(t, router, http.MethodGet, "/items/item1/sources/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLiveStreamLifecycleOverHTTP(t *testing.T) {
	router, _, fp := newTestRouter(t)

	// open
	rec := doJSON(t, router, http.MethodPost, "/livestreams/open", types.OpenLiveStreamRequest{
		OpenToken: livestream.EncodeKey(fp, "chan1"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var opened types.MediaSource
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opened))
	require.NotEmpty(t, opened.LiveStreamID)

	// media info for the open session
	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/livestreams/%s/mediainfo", opened.LiveStreamID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// close is idempotent
	rec = doJSON(t, router, http.MethodDelete, "/livestreams/"+opened.LiveStreamID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, router, http.MethodDelete, "/livestreams/"+opened.LiveStreamID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// and the session is gone
	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/livestreams/%s/mediainfo", opened.LiveStreamID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenLiveStreamValidation(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// missing token
	rec := doJSON(t, router, http.MethodPost, "/livestreams/open", types.OpenLiveStreamRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// malformed token
	rec = doJSON(t, router, http.MethodPost, "/livestreams/open", types.OpenLiveStreamRequest{OpenToken: "garbage"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown provider fingerprint
	rec = doJSON(t, router, http.MethodPost, "/livestreams/open", types.OpenLiveStreamRequest{OpenToken: "ffffffffffffffff_x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// body that is not JSON at all
	req := httptest.NewRequest(http.MethodPost, "/livestreams/open", bytes.NewBufferString("not json"))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestOpenFailureBodyOmitsUpstreamDetail(t *testing.T) {
	upstream := errors.New("fetch http://panel.example/live/alice/s3cr3t/7.ts: connection refused")
	router, _, fp := newTestRouterWith(t, &stubProvider{name: "stub", openErr: upstream})

	rec := doJSON(t, router, http.MethodPost, "/livestreams/open", types.OpenLiveStreamRequest{
		OpenToken: livestream.EncodeKey(fp, "chan1"),
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	// the client sees the provider and operation, never the upstream cause
	body := rec.Body.String()
	assert.Contains(t, body, "provider stub")
	assert.Contains(t, body, "open")
	assert.NotContains(t, body, "s3cr3t")
	assert.NotContains(t, body, "connection refused")
}
