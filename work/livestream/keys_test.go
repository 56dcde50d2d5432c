package livestream

import (
	"testing"

	"kmedia-resolver/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	key := EncodeKey("00000000075bcd15", "abc-123")

	fp, local, err := DecodeKey(key)
	require.NoError(t, err)
	assert.Equal(t, "00000000075bcd15", fp)
	assert.Equal(t, "abc-123", local)
}

func TestKeyRoundTripDelimiterInLocalID(t *testing.T) {
	key := EncodeKey("deadbeefdeadbeef", "uuid_with_underscores_everywhere")

	fp, local, err := DecodeKey(key)
	require.NoError(t, err)
	assert.Equal(t, "deadbeefdeadbeef", fp)
	assert.Equal(t, "uuid_with_underscores_everywhere", local)
}

func TestDecodeKeyRejectsMalformedInput(t *testing.T) {
	for _, key := range []string{"", "nodelimiter", "_leading", "trailing_"} {
		_, _, err := DecodeKey(key)
		assert.ErrorIs(t, err, types.ErrInvalidArgument, "key %q", key)
	}
}
