package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrPositionOutOfRange is returned when a reorder targets an index outside
// the current list bounds.
var ErrPositionOutOfRange = errors.New("position out of range")

const projectColumns = `p.id, p.client_id, p.name, p.description, p.status, p.start_date, p.due_date,
	p.budget_cents, p.created_at, p.updated_at, c.company, TRIM(c.first_name || ' ' || c.last_name)`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var item Project
	err := row.Scan(
		&item.ID,
		&item.ClientID,
		&item.Name,
		&item.Description,
		&item.Status,
		&item.StartDate,
		&item.DueDate,
		&item.BudgetCents,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.ClientCompany,
		&item.ClientContact,
	)
	return item, err
}

func (s *PostgresStore) ListProjects(ctx context.Context, clientID, status string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects p
		JOIN clients c ON c.id = p.client_id
		WHERE ($1='' OR p.client_id=$1)
		  AND ($2='' OR p.status=$2)
		ORDER BY p.created_at DESC
	`, clientID, status)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects p
		JOIN clients c ON c.id = p.client_id
		WHERE p.id=$1
	`, projectID)
	return scanProject(row)
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, client_id, name, description, status, start_date, due_date, budget_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.ClientID, item.Name, item.Description, item.Status, item.StartDate, item.DueDate, item.BudgetCents)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, item Project) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET name=$2, description=$3, status=$4, start_date=$5, due_date=$6, budget_cents=$7, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Name, item.Description, item.Status, item.StartDate, item.DueDate, item.BudgetCents)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const phaseColumns = `id, project_id, name, description, position, status, amount_cents,
	sent_at, decided_at, decision_note, created_at, updated_at`

func scanPhase(row interface{ Scan(...any) error }) (Phase, error) {
	var item Phase
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Name,
		&item.Description,
		&item.Position,
		&item.Status,
		&item.AmountCents,
		&item.SentAt,
		&item.DecidedAt,
		&item.DecisionNote,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListPhases(ctx context.Context, projectID string) ([]Phase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+phaseColumns+`
		FROM phases
		WHERE project_id=$1
		ORDER BY position ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer rows.Close()

	items := make([]Phase, 0)
	for rows.Next() {
		item, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phases: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPhase(ctx context.Context, phaseID string) (Phase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE id=$1`, phaseID)
	return scanPhase(row)
}

// InsertPhase appends the phase at the end of its project's list.
func (s *PostgresStore) InsertPhase(ctx context.Context, item Phase) (Phase, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Phase{}, fmt.Errorf("begin insert phase: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var position int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM phases WHERE project_id=$1`, item.ProjectID).Scan(&position); err != nil {
		return Phase{}, fmt.Errorf("count phases: %w", err)
	}

	item.Position = position
	row := tx.QueryRowContext(ctx, `
		INSERT INTO phases (id, project_id, name, description, position, status, amount_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+phaseColumns+`
	`, item.ID, item.ProjectID, item.Name, item.Description, item.Position, item.Status, item.AmountCents)
	inserted, err := scanPhase(row)
	if err != nil {
		return Phase{}, fmt.Errorf("insert phase: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Phase{}, fmt.Errorf("commit insert phase: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) UpdatePhase(ctx context.Context, phaseID, name, description string, amountCents int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE phases
		SET name=$2, description=$3, amount_cents=$4, updated_at=NOW()
		WHERE id=$1
	`, phaseID, name, description, amountCents)
	if err != nil {
		return fmt.Errorf("update phase: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update phase rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdatePhaseStatus advances the proposal lifecycle and stamps the matching
// timestamp column for the transition.
func (s *PostgresStore) UpdatePhaseStatus(ctx context.Context, phaseID, status, decisionNote string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE phases
		SET status=$2,
			sent_at=CASE WHEN $2='sent' THEN NOW() ELSE sent_at END,
			decided_at=CASE WHEN $2 IN ('approved', 'declined') THEN NOW() ELSE decided_at END,
			decision_note=CASE WHEN $3 <> '' THEN $3 ELSE decision_note END,
			updated_at=NOW()
		WHERE id=$1
	`, phaseID, status, decisionNote)
	if err != nil {
		return fmt.Errorf("update phase status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update phase status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeletePhase removes the phase and renumbers the remainder so positions stay
// contiguous.
func (s *PostgresStore) DeletePhase(ctx context.Context, phaseID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete phase: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var projectID string
	err = tx.QueryRowContext(ctx, `DELETE FROM phases WHERE id=$1 RETURNING project_id`, phaseID).Scan(&projectID)
	if err != nil {
		return err
	}

	if err := renumberPhases(ctx, tx, projectID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete phase: %w", err)
	}
	return nil
}

// ReorderPhase splices the phase to the requested index and renumbers the
// project's list. Returns ErrPositionOutOfRange when the index does not fit
// the current list.
func (s *PostgresStore) ReorderPhase(ctx context.Context, projectID, phaseID string, position int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder phase: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := lockedIDs(ctx, tx, `SELECT id FROM phases WHERE project_id=$1 ORDER BY position ASC FOR UPDATE`, projectID)
	if err != nil {
		return fmt.Errorf("lock phases: %w", err)
	}

	current := indexOf(ids, phaseID)
	if current < 0 {
		return sql.ErrNoRows
	}
	if position < 0 || position >= len(ids) {
		return ErrPositionOutOfRange
	}

	ids = splice(ids, current, position)
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE phases SET position=$2, updated_at=NOW() WHERE id=$1`, id, i); err != nil {
			return fmt.Errorf("renumber phase: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder phase: %w", err)
	}
	return nil
}

func renumberPhases(ctx context.Context, tx *sql.Tx, projectID string) error {
	ids, err := lockedIDs(ctx, tx, `SELECT id FROM phases WHERE project_id=$1 ORDER BY position ASC FOR UPDATE`, projectID)
	if err != nil {
		return fmt.Errorf("lock phases: %w", err)
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE phases SET position=$2 WHERE id=$1`, id, i); err != nil {
			return fmt.Errorf("renumber phase: %w", err)
		}
	}
	return nil
}

// lockedIDs reads an ordered id list inside the transaction, locking the rows
// for the duration of the splice.
func lockedIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func indexOf(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

// splice removes the element at from and reinserts it at to.
func splice(ids []string, from, to int) []string {
	id := ids[from]
	rest := append(append([]string{}, ids[:from]...), ids[from+1:]...)
	out := append(append([]string{}, rest[:to]...), id)
	return append(out, rest[to:]...)
}
