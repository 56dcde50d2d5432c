package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"kmedia-resolver/work/types"
)

// GetViewer loads a viewer's playback preferences. A missing viewer id
// returns types.ErrNotFound wrapped with the id.
func (s *Store) GetViewer(ctx context.Context, id string) (*types.Viewer, error) {
	var (
		v                                  types.Viewer
		audioLangs, subLangs               string
		mode, remAudio, remSubs, playDef   int
		audioTranscode                     int
	)
	err := s.QueryRowContext(ctx, `
		SELECT id, audio_languages, subtitle_languages, subtitle_mode,
		       remember_audio_selections, remember_subtitle_selections,
		       play_default_audio_track, enable_audio_transcoding
		FROM viewers WHERE id = ?
	`, id).Scan(&v.ID, &audioLangs, &subLangs, &mode, &remAudio, &remSubs, &playDef, &audioTranscode)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("viewer %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load viewer %s: %w", id, err)
	}

	v.PreferredAudioLanguages = splitLanguages(audioLangs)
	v.PreferredSubtitleLanguages = splitLanguages(subLangs)
	v.SubtitleMode = types.SubtitleMode(mode)
	v.RememberAudioSelections = remAudio != 0
	v.RememberSubtitleSelections = remSubs != 0
	v.PlayDefaultAudioTrack = playDef != 0
	v.EnableAudioTranscoding = audioTranscode != 0
	return &v, nil
}

// SaveViewer saves or updates a viewer's preferences.
func (s *Store) SaveViewer(ctx context.Context, v *types.Viewer) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO viewers (
			id, audio_languages, subtitle_languages, subtitle_mode,
			remember_audio_selections, remember_subtitle_selections,
			play_default_audio_track, enable_audio_transcoding
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			audio_languages = excluded.audio_languages,
			subtitle_languages = excluded.subtitle_languages,
			subtitle_mode = excluded.subtitle_mode,
			remember_audio_selections = excluded.remember_audio_selections,
			remember_subtitle_selections = excluded.remember_subtitle_selections,
			play_default_audio_track = excluded.play_default_audio_track,
			enable_audio_transcoding = excluded.enable_audio_transcoding
	`, v.ID, strings.Join(v.PreferredAudioLanguages, ","), strings.Join(v.PreferredSubtitleLanguages, ","),
		int(v.SubtitleMode), boolToInt(v.RememberAudioSelections), boolToInt(v.RememberSubtitleSelections),
		boolToInt(v.PlayDefaultAudioTrack), boolToInt(v.EnableAudioTranscoding))
	if err != nil {
		return fmt.Errorf("failed to save viewer %s: %w", v.ID, err)
	}
	return nil
}

// GetViewerHistory loads the remembered stream selection of one (viewer,
// item) pair. A missing row is not an error; it returns nil.
func (s *Store) GetViewerHistory(ctx context.Context, viewerID, itemID string) (*types.ViewerHistory, error) {
	var audio, sub sql.NullInt64
	err := s.QueryRowContext(ctx,
		"SELECT audio_stream_index, subtitle_stream_index FROM viewer_history WHERE viewer_id = ? AND item_id = ?",
		viewerID, itemID).Scan(&audio, &sub)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s/%s: %w", viewerID, itemID, err)
	}

	var h types.ViewerHistory
	if audio.Valid {
		v := int(audio.Int64)
		h.AudioStreamIndex = &v
	}
	if sub.Valid {
		v := int(sub.Int64)
		h.SubtitleStreamIndex = &v
	}
	return &h, nil
}

// SaveViewerHistory upserts the remembered stream selection of one (viewer,
// item) pair. Nil indices store as NULL (nothing remembered for that track).
func (s *Store) SaveViewerHistory(ctx context.Context, viewerID, itemID string, h *types.ViewerHistory) error {
	var audio, sub interface{}
	if h.AudioStreamIndex != nil {
		audio = *h.AudioStreamIndex
	}
	if h.SubtitleStreamIndex != nil {
		sub = *h.SubtitleStreamIndex
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO viewer_history (viewer_id, item_id, audio_stream_index, subtitle_stream_index, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(viewer_id, item_id) DO UPDATE SET
			audio_stream_index = excluded.audio_stream_index,
			subtitle_stream_index = excluded.subtitle_stream_index,
			updated_at = CURRENT_TIMESTAMP
	`, viewerID, itemID, audio, sub)
	if err != nil {
		return fmt.Errorf("failed to save history for %s/%s: %w", viewerID, itemID, err)
	}
	return nil
}

func splitLanguages(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
