package registry

import (
	"context"
	"regexp"
	"testing"

	"kmedia-resolver/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedProvider struct {
	name string
}

func (p *namedProvider) Name() string { return p.name }

func (p *namedProvider) ListSources(ctx context.Context, itemID string) ([]*types.MediaSource, error) {
	return nil, nil
}

func (p *namedProvider) Open(ctx context.Context, token string) (*types.MediaSource, types.DirectStreamHandle, bool, error) {
	return nil, nil, false, nil
}

func (p *namedProvider) Close(ctx context.Context, localID string) types.CloseResult {
	return types.CloseNotSupported()
}

func TestFingerprintShape(t *testing.T) {
	fp := Fingerprint(&namedProvider{name: "provider-a"})
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), fp)

	// stable for the same name, distinct for another
	assert.Equal(t, fp, Fingerprint(&namedProvider{name: "provider-a"}))
	assert.NotEqual(t, fp, Fingerprint(&namedProvider{name: "provider-b"}))
}

func TestRegisterOnce(t *testing.T) {
	r := New()
	a := &namedProvider{name: "a"}
	b := &namedProvider{name: "b"}

	require.NoError(t, r.Register([]types.SourceProvider{a, b}))
	assert.Equal(t, 2, r.Count())

	err := r.Register([]types.SourceProvider{&namedProvider{name: "c"}})
	require.Error(t, err)
	assert.Equal(t, 2, r.Count(), "failed second registration must not replace the set")
}

func TestRegisterRejectsFingerprintCollision(t *testing.T) {
	r := New()
	err := r.Register([]types.SourceProvider{
		&namedProvider{name: "same"},
		&namedProvider{name: "same"},
	})
	require.Error(t, err)
	assert.Equal(t, 0, r.Count())
}

func TestProvidersKeepRegistrationOrder(t *testing.T) {
	r := New()
	names := []string{"zeta", "alpha", "mid"}
	set := make([]types.SourceProvider, len(names))
	for i, n := range names {
		set[i] = &namedProvider{name: n}
	}
	require.NoError(t, r.Register(set))

	got := r.Providers()
	require.Len(t, got, len(names))
	for i, p := range got {
		assert.Equal(t, names[i], p.Name())
	}
}

func TestFindByFingerprint(t *testing.T) {
	r := New()
	a := &namedProvider{name: "a"}
	require.NoError(t, r.Register([]types.SourceProvider{a}))

	p, err := r.FindByFingerprint(Fingerprint(a))
	require.NoError(t, err)
	assert.Same(t, types.SourceProvider(a), p)

	_, err = r.FindByFingerprint("ffffffffffffffff")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestFindOnEmptyRegistry(t *testing.T) {
	_, err := New().FindByFingerprint("0000000000000000")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
