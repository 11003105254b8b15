package store

import (
	"context"
	"database/sql"
	"fmt"
)

const clientColumns = `id, company, first_name, last_name, email, phone, status, notes, created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }) (Client, error) {
	var item Client
	err := row.Scan(
		&item.ID,
		&item.Company,
		&item.FirstName,
		&item.LastName,
		&item.Email,
		&item.Phone,
		&item.Status,
		&item.Notes,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListClients(ctx context.Context, status string) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE ($1='' OR status=$1)
		ORDER BY created_at DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	items := make([]Client, 0)
	for rows.Next() {
		item, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetClient(ctx context.Context, clientID string) (Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id=$1`, clientID)
	return scanClient(row)
}

func (s *PostgresStore) InsertClient(ctx context.Context, item Client) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, company, first_name, last_name, email, phone, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.Company, item.FirstName, item.LastName, item.Email, item.Phone, item.Status, item.Notes)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateClient(ctx context.Context, item Client) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET company=$2, first_name=$3, last_name=$4, email=$5, phone=$6, status=$7, notes=$8, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Company, item.FirstName, item.LastName, item.Email, item.Phone, item.Status, item.Notes)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update client rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteClient(ctx context.Context, clientID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id=$1`, clientID)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete client rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ClientProjectCount(ctx context.Context, clientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE client_id=$1`, clientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count client projects: %w", err)
	}
	return count, nil
}

const credentialColumns = `id, client_id, label, username, secret, url, notes, created_at, updated_at`

func scanCredential(row interface{ Scan(...any) error }) (Credential, error) {
	var item Credential
	err := row.Scan(
		&item.ID,
		&item.ClientID,
		&item.Label,
		&item.Username,
		&item.Secret,
		&item.URL,
		&item.Notes,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListCredentials(ctx context.Context, clientID string) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE client_id=$1
		ORDER BY label ASC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	items := make([]Credential, 0)
	for rows.Next() {
		item, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCredential(ctx context.Context, credentialID string) (Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id=$1`, credentialID)
	return scanCredential(row)
}

func (s *PostgresStore) InsertCredential(ctx context.Context, item Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, client_id, label, username, secret, url, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.ClientID, item.Label, item.Username, item.Secret, item.URL, item.Notes)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCredential(ctx context.Context, item Credential) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET label=$2, username=$3, secret=$4, url=$5, notes=$6, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Label, item.Username, item.Secret, item.URL, item.Notes)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteCredential(ctx context.Context, credentialID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id=$1`, credentialID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
