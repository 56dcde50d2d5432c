// Package selection implements the default-track selection heuristics applied
// to resolved media sources. Every function here is a pure function of its
// inputs: no I/O, no shared state, no clock. Scoring weights are package
// constants; the inputs that actually vary per viewer (preferred languages,
// subtitle mode, remembered selections) all arrive as arguments.
package selection

import (
	"kmedia-resolver/work/types"
	"kmedia-resolver/work/utils"
)

// Scoring weights. Language position dominates everything except the
// default-track flag when the viewer asked to play default tracks outright.
const (
	weightLanguageBase  = 100 // Per preferred-language slot; earlier slots score higher
	weightDefaultStrong = 10000
	weightDefaultWeak   = 10
	weightForced        = 20
	weightExternalText  = 5
)

// languageScore returns the positional score of a stream language against an
// ordered preference list: the first preferred language scores highest, a
// non-matching language scores zero.
func languageScore(language string, preferred []string) int {
	if language == "" {
		return 0
	}
	for i, pref := range preferred {
		if utils.LanguageMatches(language, pref) {
			return (len(preferred) - i) * weightLanguageBase
		}
	}
	return 0
}

// DefaultAudioIndex picks the default audio stream index for a source. When
// playDefaultTrack is set the container's default-track flag beats language
// preference; otherwise the earliest, best language match wins. Returns -1
// when the source carries no audio streams.
func DefaultAudioIndex(streams []types.MediaStream, preferredLanguages []string, playDefaultTrack bool) int {
	best, bestScore := -1, -1
	for i := range streams {
		s := &streams[i]
		if s.Kind != types.StreamAudio {
			continue
		}
		score := languageScore(s.Language, preferredLanguages)
		if s.IsDefault {
			if playDefaultTrack {
				score += weightDefaultStrong
			} else {
				score += weightDefaultWeak
			}
		}
		// strict > keeps the earliest stream on ties
		if score > bestScore {
			best, bestScore = s.Index, score
		}
	}
	return best
}

// SubtitleScores assigns a relevance score to every subtitle stream under the
// given mode. A zero score means "not relevant under this mode"; callers use
// the scores for UI ranking and DefaultSubtitleIndex picks the maximum.
//
// audioLanguage is the language of the already-chosen audio track; OnlyForced
// and Smart condition on it.
func SubtitleScores(streams []types.MediaStream, preferredLanguages []string, mode types.SubtitleMode, audioLanguage string) map[int]int {
	scores := make(map[int]int)
	if mode == types.SubtitleModeNone {
		return scores
	}

	// Smart mode shows no subtitles at all while the audio already is in one
	// of the preferred languages.
	if mode == types.SubtitleModeSmart {
		for _, pref := range preferredLanguages {
			if utils.LanguageMatches(audioLanguage, pref) {
				return scores
			}
		}
	}

	for i := range streams {
		s := &streams[i]
		if s.Kind != types.StreamSubtitle {
			continue
		}

		langScore := languageScore(s.Language, preferredLanguages)

		var score int
		switch mode {
		case types.SubtitleModeOnlyForced:
			// Forced tracks matching the audio language (or carrying no
			// language tag at all) are the only candidates.
			if !s.IsForced {
				continue
			}
			if s.Language != "" && audioLanguage != "" && !utils.LanguageMatches(s.Language, audioLanguage) {
				continue
			}
			score = weightForced + langScore

		case types.SubtitleModeDefault:
			// Only tracks the container itself marks as default or forced.
			if !s.IsDefault && !s.IsForced {
				continue
			}
			score = langScore
			if s.IsDefault {
				score += weightDefaultWeak * 2
			}
			if s.IsForced {
				score += weightForced
			}

		case types.SubtitleModeSmart:
			// Audio is foreign; a subtitle is only useful in a language the
			// viewer reads.
			if langScore == 0 {
				continue
			}
			score = langScore
			if s.IsDefault {
				score += weightDefaultWeak
			}

		default: // SubtitleModeAlways
			score = langScore
			if s.IsDefault {
				score += weightDefaultWeak
			}
			if s.IsForced {
				score += weightForced
			}
			if score == 0 {
				// Still a candidate, just the weakest possible one.
				score = 1
			}
		}

		if s.IsExternal && s.IsTextSubtitle {
			score += weightExternalText
		}
		scores[s.Index] = score
	}
	return scores
}

// DefaultSubtitleIndex picks the default subtitle stream index for a source,
// or -1 when the mode or the stream set yields no relevant track. Ties break
// toward the earlier stream.
func DefaultSubtitleIndex(streams []types.MediaStream, preferredLanguages []string, mode types.SubtitleMode, audioLanguage string) int {
	scores := SubtitleScores(streams, preferredLanguages, mode, audioLanguage)
	best, bestScore := -1, 0
	for i := range streams {
		s := &streams[i]
		if score, ok := scores[s.Index]; ok && score > bestScore {
			best, bestScore = s.Index, score
		}
	}
	return best
}

// RememberedIndexValid reports whether a remembered stream index may be
// applied to this source: -1 always is (it means "explicitly no track"), any
// other value must name an existing stream of the right kind.
func RememberedIndexValid(streams []types.MediaStream, kind types.MediaStreamKind, index int) bool {
	if index == -1 {
		return true
	}
	for i := range streams {
		if streams[i].Kind == kind && streams[i].Index == index {
			return true
		}
	}
	return false
}

// AudioLanguageOf returns the language tag of the stream with the given index,
// or "" when the index names no audio stream (including -1).
func AudioLanguageOf(streams []types.MediaStream, index int) string {
	if index < 0 {
		return ""
	}
	for i := range streams {
		if streams[i].Kind == types.StreamAudio && streams[i].Index == index {
			return streams[i].Language
		}
	}
	return ""
}

// ApplyDefaults overlays the default audio/subtitle stream indices on a source
// for one viewer, honoring remembered selections first: a remembered index
// that is valid for this source wins outright and skips the heuristic for
// that track type.
func ApplyDefaults(source *types.MediaSource, viewer *types.Viewer, history *types.ViewerHistory) {
	if source == nil || viewer == nil {
		return
	}

	audioIndex := -2 // -2: not yet decided; -1 is a legal "no track" outcome
	if history != nil && history.AudioStreamIndex != nil &&
		viewer.RememberAudioSelections &&
		RememberedIndexValid(source.Streams, types.StreamAudio, *history.AudioStreamIndex) {
		audioIndex = *history.AudioStreamIndex
	}
	if audioIndex == -2 {
		audioIndex = DefaultAudioIndex(source.Streams, viewer.PreferredAudioLanguages, viewer.PlayDefaultAudioTrack)
	}
	source.DefaultAudioStreamIndex = intPtr(audioIndex)

	subIndex := -2
	if history != nil && history.SubtitleStreamIndex != nil &&
		viewer.RememberSubtitleSelections &&
		RememberedIndexValid(source.Streams, types.StreamSubtitle, *history.SubtitleStreamIndex) {
		subIndex = *history.SubtitleStreamIndex
	}
	if subIndex == -2 {
		audioLang := AudioLanguageOf(source.Streams, audioIndex)
		subIndex = DefaultSubtitleIndex(source.Streams, viewer.PreferredSubtitleLanguages, viewer.SubtitleMode, audioLang)
	}
	source.DefaultSubtitleStreamIndex = intPtr(subIndex)
}

func intPtr(v int) *int { return &v }
