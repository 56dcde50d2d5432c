package store

import (
	"context"
	"database/sql"
	"fmt"

	"kmedia-resolver/work/types"
)

// UpsertItem saves or updates a catalog item row.
func (s *Store) UpsertItem(ctx context.Context, id, name string, kind types.MediaKind) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO items (id, name, media_kind, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			media_kind = excluded.media_kind,
			updated_at = CURRENT_TIMESTAMP
	`, id, name, int(kind))
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", id, err)
	}
	return nil
}

// GetItemKind returns the coarse media kind of an item. Unknown items default
// to video, which leaves the audio-transcoding policy override inactive.
func (s *Store) GetItemKind(ctx context.Context, itemID string) (types.MediaKind, error) {
	var kind int
	err := s.QueryRowContext(ctx, "SELECT media_kind FROM items WHERE id = ?", itemID).Scan(&kind)
	if err == sql.ErrNoRows {
		return types.MediaKindVideo, nil
	}
	if err != nil {
		return types.MediaKindVideo, fmt.Errorf("failed to load item kind for %s: %w", itemID, err)
	}
	return types.MediaKind(kind), nil
}

// SaveSource saves or updates one static media source and replaces its stream
// rows in the same transaction.
func (s *Store) SaveSource(ctx context.Context, itemID string, source *types.MediaSource) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var v3d interface{}
	if source.Video3DFormat != nil {
		v3d = int(*source.Video3DFormat)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO media_sources (
			item_id, id, name, path, protocol, container, bitrate, size, type,
			video_type, video_3d_format, is_remote, supports_transcoding,
			supports_direct_stream, supports_direct_play, supports_probing, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(item_id, id) DO UPDATE SET
			name = excluded.name,
			path = excluded.path,
			protocol = excluded.protocol,
			container = excluded.container,
			bitrate = excluded.bitrate,
			size = excluded.size,
			type = excluded.type,
			video_type = excluded.video_type,
			video_3d_format = excluded.video_3d_format,
			is_remote = excluded.is_remote,
			supports_transcoding = excluded.supports_transcoding,
			supports_direct_stream = excluded.supports_direct_stream,
			supports_direct_play = excluded.supports_direct_play,
			supports_probing = excluded.supports_probing,
			updated_at = CURRENT_TIMESTAMP
	`, itemID, source.ID, source.Name, source.Path, int(source.Protocol), source.Container,
		source.Bitrate, source.Size, int(source.Type), int(source.VideoType), v3d,
		boolToInt(source.IsRemote), boolToInt(source.SupportsTranscoding),
		boolToInt(source.SupportsDirectStream), boolToInt(source.SupportsDirectPlay),
		boolToInt(source.SupportsProbing))
	if err != nil {
		return fmt.Errorf("failed to save source %s/%s: %w", itemID, source.ID, err)
	}

	if err := replaceStreamsTx(ctx, tx, itemID, source.ID, source.Streams); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceStreams rewrites the stream rows of one source, used by the metadata
// refresher after a probe.
func (s *Store) ReplaceStreams(ctx context.Context, itemID, sourceID string, streams []types.MediaStream) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := replaceStreamsTx(ctx, tx, itemID, sourceID, streams); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceStreamsTx(ctx context.Context, tx *sql.Tx, itemID, sourceID string, streams []types.MediaStream) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM media_streams WHERE item_id = ? AND source_id = ?", itemID, sourceID); err != nil {
		return fmt.Errorf("failed to clear streams for %s/%s: %w", itemID, sourceID, err)
	}
	for i := range streams {
		st := &streams[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO media_streams (
				item_id, source_id, stream_index, kind, codec, language, title,
				width, height, bit_rate, is_default, is_forced, is_external, is_text_subtitle
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, itemID, sourceID, st.Index, int(st.Kind), st.Codec, st.Language, st.Title,
			st.Width, st.Height, st.BitRate, boolToInt(st.IsDefault), boolToInt(st.IsForced),
			boolToInt(st.IsExternal), boolToInt(st.IsTextSubtitle))
		if err != nil {
			return fmt.Errorf("failed to save stream %d for %s/%s: %w", st.Index, itemID, sourceID, err)
		}
	}
	return nil
}

// UpdateSourceFormat updates the container and bitrate of a source after a
// probe without touching the rest of the row.
func (s *Store) UpdateSourceFormat(ctx context.Context, itemID, sourceID, container string, bitrate int64) error {
	_, err := s.ExecContext(ctx, `
		UPDATE media_sources SET container = ?, bitrate = ?, updated_at = CURRENT_TIMESTAMP
		WHERE item_id = ? AND id = ?
	`, container, bitrate, itemID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to update format for %s/%s: %w", itemID, sourceID, err)
	}
	return nil
}

// LoadStaticSources loads the statically-known sources of an item in stable
// (id) order, with their streams attached. When allowPathSubstitution is set,
// configured path rewrites are applied to file-protocol paths.
func (s *Store) LoadStaticSources(ctx context.Context, itemID string, allowPathSubstitution bool) ([]*types.MediaSource, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, name, path, protocol, container, bitrate, size, type,
		       video_type, video_3d_format, is_remote, supports_transcoding,
		       supports_direct_stream, supports_direct_play, supports_probing
		FROM media_sources WHERE item_id = ? ORDER BY id
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources for %s: %w", itemID, err)
	}
	defer rows.Close()

	var sources []*types.MediaSource
	for rows.Next() {
		var (
			src                                 types.MediaSource
			protocol, srcType, videoType        int
			v3d                                 sql.NullInt64
			remote, transcode, ds, dp, probing  int
		)
		if err := rows.Scan(&src.ID, &src.Name, &src.Path, &protocol, &src.Container,
			&src.Bitrate, &src.Size, &srcType, &videoType, &v3d, &remote,
			&transcode, &ds, &dp, &probing); err != nil {
			return nil, fmt.Errorf("failed to scan source row for %s: %w", itemID, err)
		}
		src.Protocol = types.MediaProtocol(protocol)
		src.Type = types.SourceType(srcType)
		src.VideoType = types.VideoType(videoType)
		if v3d.Valid {
			f := types.Video3DFormat(v3d.Int64)
			src.Video3DFormat = &f
		}
		src.IsRemote = remote != 0
		src.SupportsTranscoding = transcode != 0
		src.SupportsDirectStream = ds != 0
		src.SupportsDirectPlay = dp != 0
		src.SupportsProbing = probing != 0

		if allowPathSubstitution && src.Protocol == types.ProtocolFile {
			src.Path = s.substitute(src.Path)
		}
		sources = append(sources, &src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sources for %s: %w", itemID, err)
	}

	for _, src := range sources {
		streams, err := s.loadStreams(ctx, itemID, src.ID)
		if err != nil {
			return nil, err
		}
		src.Streams = streams
	}
	return sources, nil
}

// LoadStreamsByItem returns every stream row of an item across all of its
// sources, in (source, index) order.
func (s *Store) LoadStreamsByItem(ctx context.Context, itemID string) ([]types.MediaStream, error) {
	return s.queryStreams(ctx,
		"SELECT stream_index, kind, codec, language, title, width, height, bit_rate, is_default, is_forced, is_external, is_text_subtitle FROM media_streams WHERE item_id = ? ORDER BY source_id, stream_index",
		itemID)
}

func (s *Store) loadStreams(ctx context.Context, itemID, sourceID string) ([]types.MediaStream, error) {
	return s.queryStreams(ctx,
		"SELECT stream_index, kind, codec, language, title, width, height, bit_rate, is_default, is_forced, is_external, is_text_subtitle FROM media_streams WHERE item_id = ? AND source_id = ? ORDER BY stream_index",
		itemID, sourceID)
}

func (s *Store) queryStreams(ctx context.Context, query string, args ...interface{}) ([]types.MediaStream, error) {
	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load streams: %w", err)
	}
	defer rows.Close()

	var streams []types.MediaStream
	for rows.Next() {
		var (
			st                       types.MediaStream
			kind                     int
			def, forced, ext, textSub int
		)
		if err := rows.Scan(&st.Index, &kind, &st.Codec, &st.Language, &st.Title,
			&st.Width, &st.Height, &st.BitRate, &def, &forced, &ext, &textSub); err != nil {
			return nil, fmt.Errorf("failed to scan stream row: %w", err)
		}
		st.Kind = types.MediaStreamKind(kind)
		st.IsDefault = def != 0
		st.IsForced = forced != 0
		st.IsExternal = ext != 0
		st.IsTextSubtitle = textSub != 0
		streams = append(streams, st)
	}
	return streams, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
