package store

import (
	"context"
	"database/sql"
	"fmt"
)

const channelColumns = `id, name, topic, visibility, project_id, created_by, created_at, updated_at`

func scanChannel(row interface{ Scan(...any) error }) (Channel, error) {
	var item Channel
	err := row.Scan(
		&item.ID,
		&item.Name,
		&item.Topic,
		&item.Visibility,
		&item.ProjectID,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

// ListChannels returns every channel for staff; client-portal callers only
// see CLIENT-visibility channels.
func (s *PostgresStore) ListChannels(ctx context.Context, includeInternal bool) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+channelColumns+`
		FROM channels
		WHERE ($1::boolean OR visibility='CLIENT')
		ORDER BY name ASC
	`, includeInternal)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	items := make([]Channel, 0)
	for rows.Next() {
		item, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id=$1`, channelID)
	return scanChannel(row)
}

func (s *PostgresStore) InsertChannel(ctx context.Context, item Channel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, name, topic, visibility, project_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.Name, item.Topic, item.Visibility, item.ProjectID, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateChannel(ctx context.Context, channelID, name, topic, visibility string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE channels
		SET name=$2, topic=$3, visibility=$4, updated_at=NOW()
		WHERE id=$1
	`, channelID, name, topic, visibility)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update channel rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteChannel(ctx context.Context, channelID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id=$1`, channelID)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete channel rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const messageColumns = `m.id, m.channel_id, m.author_id, m.body, m.attachment_id, m.edited_at,
	m.created_at, u.display_name, u.avatar_color`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var item Message
	err := row.Scan(
		&item.ID,
		&item.ChannelID,
		&item.AuthorID,
		&item.Body,
		&item.AttachmentID,
		&item.EditedAt,
		&item.CreatedAt,
		&item.AuthorName,
		&item.AuthorColor,
	)
	return item, err
}

// ListMessages returns one reverse-chronological page. An empty beforeID
// starts at the newest message.
func (s *PostgresStore) ListMessages(ctx context.Context, channelID, beforeID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON u.id = m.author_id
		WHERE m.channel_id=$1
		  AND ($2='' OR (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id=$2))
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3
	`, channelID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		item, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON u.id = m.author_id
		WHERE m.id=$1
	`, messageID)
	return scanMessage(row)
}

func (s *PostgresStore) InsertMessage(ctx context.Context, item Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, author_id, body, attachment_id)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.ChannelID, item.AuthorID, item.Body, item.AttachmentID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMessageBody(ctx context.Context, messageID, body string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET body=$2, edited_at=NOW() WHERE id=$1
	`, messageID, body)
	if err != nil {
		return fmt.Errorf("update message body: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message body rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecentChannelParticipants returns the distinct authors of the channel's
// latest messages, for notification fan-out.
func (s *PostgresStore) RecentChannelParticipants(ctx context.Context, channelID string, window int) ([]string, error) {
	if window <= 0 {
		window = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT author_id
		FROM (
			SELECT author_id FROM messages
			WHERE channel_id=$1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
	`, channelID, window)
	if err != nil {
		return nil, fmt.Errorf("list channel participants: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return ids, nil
}

const attachmentColumns = `id, object_key, file_name, content_type, size_bytes, uploaded_by, created_at`

func scanAttachment(row interface{ Scan(...any) error }) (Attachment, error) {
	var item Attachment
	err := row.Scan(
		&item.ID,
		&item.ObjectKey,
		&item.FileName,
		&item.ContentType,
		&item.SizeBytes,
		&item.UploadedBy,
		&item.CreatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, object_key, file_name, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.ObjectKey, item.FileName, item.ContentType, item.SizeBytes, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id=$1`, attachmentID)
	return scanAttachment(row)
}
