package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const ticketColumns = `t.id, t.client_id, t.subject, t.body, t.status, t.priority, t.assignee_id,
	t.attachment_id, t.created_by, t.created_at, t.updated_at,
	COALESCE(c.company, ''), COALESCE(a.display_name, ''), COALESCE(cr.display_name, '')`

const ticketJoins = `
	FROM tickets t
	LEFT JOIN clients c ON c.id = t.client_id
	LEFT JOIN users a ON a.id = t.assignee_id
	LEFT JOIN users cr ON cr.id = t.created_by`

func scanTicket(row interface{ Scan(...any) error }) (Ticket, error) {
	var item Ticket
	err := row.Scan(
		&item.ID,
		&item.ClientID,
		&item.Subject,
		&item.Body,
		&item.Status,
		&item.Priority,
		&item.AssigneeID,
		&item.AttachmentID,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.ClientCompany,
		&item.AssigneeName,
		&item.CreatorName,
	)
	return item, err
}

func (s *PostgresStore) ListTickets(ctx context.Context, status, assigneeID, clientID, createdBy string) ([]Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ticketColumns+ticketJoins+`
		WHERE ($1='' OR t.status=$1)
		  AND ($2='' OR t.assignee_id=$2)
		  AND ($3='' OR t.client_id=$3)
		  AND ($4='' OR t.created_by=$4)
		ORDER BY t.created_at DESC
	`, status, assigneeID, clientID, createdBy)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	items := make([]Ticket, 0)
	for rows.Next() {
		item, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTicket(ctx context.Context, ticketID string) (Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+ticketJoins+` WHERE t.id=$1`, ticketID)
	return scanTicket(row)
}

func (s *PostgresStore) InsertTicket(ctx context.Context, item Ticket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, client_id, subject, body, status, priority, assignee_id, attachment_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.ClientID, item.Subject, item.Body, item.Status, item.Priority, item.AssigneeID, item.AttachmentID, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTicket(ctx context.Context, item Ticket) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tickets
		SET subject=$2, body=$3, priority=$4, client_id=$5, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Subject, item.Body, item.Priority, item.ClientID)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ticket rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateTicketStatus(ctx context.Context, ticketID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET status=$2, updated_at=NOW() WHERE id=$1
	`, ticketID, status)
	if err != nil {
		return fmt.Errorf("update ticket status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ticket status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) AssignTicket(ctx context.Context, ticketID string, assigneeID *string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET assignee_id=$2, updated_at=NOW() WHERE id=$1
	`, ticketID, assigneeID)
	if err != nil {
		return fmt.Errorf("assign ticket: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign ticket rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteTicket(ctx context.Context, ticketID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id=$1`, ticketID)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete ticket rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const notificationColumns = `id, user_id, kind, title, body, entity_type, entity_id, read_at, created_at`

func scanNotification(row interface{ Scan(...any) error }) (Notification, error) {
	var item Notification
	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.Kind,
		&item.Title,
		&item.Body,
		&item.EntityType,
		&item.EntityID,
		&item.ReadAt,
		&item.CreatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id=$1
		  AND (NOT $2::boolean OR read_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		item, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, title, body, entity_type, entity_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.UserID, item.Kind, item.Title, item.Body, item.EntityType, item.EntityID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnreadNotificationCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND read_at IS NULL
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead flips one notification; it only succeeds for the
// owning user.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at=NOW() WHERE id=$1 AND user_id=$2 AND read_at IS NULL
	`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at=NOW() WHERE user_id=$1 AND read_at IS NULL
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read rows: %w", err)
	}
	return affected, nil
}

// PurgeReadNotifications removes read notifications older than the cutoff.
// Invoked by nightly maintenance.
func (s *PostgresStore) PurgeReadNotifications(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE read_at IS NOT NULL AND created_at < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge notifications rows: %w", err)
	}
	return affected, nil
}

// DashboardCounts gathers the overview screen counters in one pass.
func (s *PostgresStore) DashboardCounts(ctx context.Context, userID string) (DashboardSummary, error) {
	var summary DashboardSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM clients WHERE status='active'),
			(SELECT COUNT(*) FROM projects WHERE status IN ('planning', 'in_progress')),
			(SELECT COUNT(*) FROM tasks WHERE status <> 'done' AND due_date IS NOT NULL AND due_date <= CURRENT_DATE + INTERVAL '7 days'),
			(SELECT COUNT(*) FROM tickets WHERE status IN ('open', 'in_progress')),
			(SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND read_at IS NULL),
			(SELECT COUNT(*) FROM phases WHERE status='sent')
	`, userID).Scan(
		&summary.ActiveClients,
		&summary.OpenProjects,
		&summary.TasksDueSoon,
		&summary.OpenTickets,
		&summary.UnreadForUser,
		&summary.PendingPhases,
	)
	if err != nil {
		return DashboardSummary{}, fmt.Errorf("dashboard counts: %w", err)
	}
	return summary, nil
}
