package store

import (
	"context"
	"database/sql"
	"fmt"
)

const taskColumns = `t.id, t.project_id, t.title, t.description, t.status, t.position, t.priority,
	t.assignee_id, t.due_date, t.created_at, t.updated_at, COALESCE(u.display_name, '')`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var item Task
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Title,
		&item.Description,
		&item.Status,
		&item.Position,
		&item.Priority,
		&item.AssigneeID,
		&item.DueDate,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.AssigneeName,
	)
	return item, err
}

func (s *PostgresStore) ListTasks(ctx context.Context, projectID, status, assigneeID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		LEFT JOIN users u ON u.id = t.assignee_id
		WHERE t.project_id=$1
		  AND ($2='' OR t.status=$2)
		  AND ($3='' OR t.assignee_id=$3)
		ORDER BY t.status ASC, t.position ASC
	`, projectID, status, assigneeID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		LEFT JOIN users u ON u.id = t.assignee_id
		WHERE t.id=$1
	`, taskID)
	return scanTask(row)
}

// InsertTask appends the task at the end of its status column.
func (s *PostgresStore) InsertTask(ctx context.Context, item Task) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin insert task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var position int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks WHERE project_id=$1 AND status=$2
	`, item.ProjectID, item.Status).Scan(&position); err != nil {
		return Task{}, fmt.Errorf("count column tasks: %w", err)
	}

	item.Position = position
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status, position, priority, assignee_id, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.ProjectID, item.Title, item.Description, item.Status, item.Position, item.Priority, item.AssigneeID, item.DueDate); err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit insert task: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, item Task) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title=$2, description=$3, priority=$4, assignee_id=$5, due_date=$6, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, item.Priority, item.AssigneeID, item.DueDate)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteTask removes the task and closes the gap in its column.
func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var projectID, status string
	err = tx.QueryRowContext(ctx, `DELETE FROM tasks WHERE id=$1 RETURNING project_id, status`, taskID).Scan(&projectID, &status)
	if err != nil {
		return err
	}

	if err := renumberColumn(ctx, tx, projectID, status); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete task: %w", err)
	}
	return nil
}

// MoveTask removes the task from its current column, splices it into the
// destination column at the requested index, and renumbers both columns.
// Indexes past the end of the destination clamp to the end.
func (s *PostgresStore) MoveTask(ctx context.Context, taskID, newStatus string, position int) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin move task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var projectID, oldStatus string
	err = tx.QueryRowContext(ctx, `
		SELECT project_id, status FROM tasks WHERE id=$1 FOR UPDATE
	`, taskID).Scan(&projectID, &oldStatus)
	if err != nil {
		return Task{}, err
	}

	source, err := lockedIDs(ctx, tx, `
		SELECT id FROM tasks WHERE project_id=$1 AND status=$2 ORDER BY position ASC FOR UPDATE
	`, projectID, oldStatus)
	if err != nil {
		return Task{}, fmt.Errorf("lock source column: %w", err)
	}

	current := indexOf(source, taskID)
	if current < 0 {
		return Task{}, sql.ErrNoRows
	}
	if position < 0 {
		return Task{}, ErrPositionOutOfRange
	}

	if newStatus == oldStatus {
		target := position
		if target >= len(source) {
			target = len(source) - 1
		}
		source = splice(source, current, target)
		if err := renumberIDs(ctx, tx, source); err != nil {
			return Task{}, err
		}
	} else {
		dest, err := lockedIDs(ctx, tx, `
			SELECT id FROM tasks WHERE project_id=$1 AND status=$2 ORDER BY position ASC FOR UPDATE
		`, projectID, newStatus)
		if err != nil {
			return Task{}, fmt.Errorf("lock destination column: %w", err)
		}

		source = append(source[:current], source[current+1:]...)
		target := position
		if target > len(dest) {
			target = len(dest)
		}
		dest = append(dest[:target], append([]string{taskID}, dest[target:]...)...)

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status=$2, updated_at=NOW() WHERE id=$1
		`, taskID, newStatus); err != nil {
			return Task{}, fmt.Errorf("move task status: %w", err)
		}
		if err := renumberIDs(ctx, tx, source); err != nil {
			return Task{}, err
		}
		if err := renumberIDs(ctx, tx, dest); err != nil {
			return Task{}, err
		}
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		LEFT JOIN users u ON u.id = t.assignee_id
		WHERE t.id=$1
	`, taskID)
	moved, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("reload moved task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit move task: %w", err)
	}
	return moved, nil
}

func renumberColumn(ctx context.Context, tx *sql.Tx, projectID, status string) error {
	ids, err := lockedIDs(ctx, tx, `
		SELECT id FROM tasks WHERE project_id=$1 AND status=$2 ORDER BY position ASC FOR UPDATE
	`, projectID, status)
	if err != nil {
		return fmt.Errorf("lock column: %w", err)
	}
	return renumberIDs(ctx, tx, ids)
}

func renumberIDs(ctx context.Context, tx *sql.Tx, ids []string) error {
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET position=$2 WHERE id=$1`, id, i); err != nil {
			return fmt.Errorf("renumber task: %w", err)
		}
	}
	return nil
}
