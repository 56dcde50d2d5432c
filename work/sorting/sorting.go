// Package sorting orders resolved media sources by how playable they are.
package sorting

import (
	"sort"

	"kmedia-resolver/work/types"
)

// ByPlayability sorts sources in place: plain video files before disc
// structures, flat video before 3D, then higher video resolution first.
// Sources with no known video width sort after those with one inside the
// same group, and ties keep their merge order.
func ByPlayability(sources []*types.MediaSource) {
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]

		aFile := a.VideoType == types.VideoFile
		bFile := b.VideoType == types.VideoFile
		if aFile != bFile {
			return aFile
		}

		aFlat := a.Video3DFormat == nil
		bFlat := b.Video3DFormat == nil
		if aFlat != bFlat {
			return aFlat
		}

		return videoWidth(a) > videoWidth(b)
	})
}

func videoWidth(src *types.MediaSource) int {
	if vs := src.VideoStream(); vs != nil {
		return vs.Width
	}
	return 0
}
