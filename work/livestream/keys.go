package livestream

import (
	"fmt"
	"strings"

	"kmedia-resolver/work/types"
)

// keyDelimiter separates the provider fingerprint from the provider-local id
// in a routable live stream key. The fingerprint is fixed-width hex so the
// split is always on the first delimiter; local ids may contain it freely.
const keyDelimiter = "_"

// EncodeKey builds the routable key for a provider-local live stream id.
func EncodeKey(fingerprint, localID string) string {
	return fingerprint + keyDelimiter + localID
}

// DecodeKey splits a routable key into provider fingerprint and local id.
func DecodeKey(key string) (fingerprint, localID string, err error) {
	parts := strings.SplitN(key, keyDelimiter, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("parse live stream key %q: %w", key, types.ErrInvalidArgument)
	}
	return parts[0], parts[1], nil
}
