package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across clients, projects, tasks, and
// tickets using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}

	var subQueries []string

	// Clients sub-query
	if q.FilterType == "" || q.FilterType == ResultClient {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'client'::text AS type, c.id, c.company AS title,
				ts_headline('english', coalesce(c.notes, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS client_id, ''::text AS project_id, c.status,
				ts_rank(c.fts, %s) AS rank
			FROM clients c
			WHERE c.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Projects sub-query
	if q.FilterType == "" || q.FilterType == ResultProject {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.name AS title,
				ts_headline('english', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.client_id, ''::text AS project_id, p.status,
				ts_rank(p.fts, %s) AS rank
			FROM projects p
			WHERE p.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Tasks sub-query
	if q.FilterType == "" || q.FilterType == ResultTask {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS client_id, t.project_id, t.status,
				ts_rank(t.fts, %s) AS rank
			FROM tasks t
			WHERE t.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Tickets sub-query
	if q.FilterType == "" || q.FilterType == ResultTicket {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'ticket'::text AS type, tk.id, tk.subject AS title,
				ts_headline('english', coalesce(tk.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				coalesce(tk.client_id, '') AS client_id, ''::text AS project_id, tk.status,
				ts_rank(tk.fts, %s) AS rank
			FROM tickets tk
			WHERE tk.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, client_id, project_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ClientID, &r.ProjectID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ClientRecord, []ProjectRecord, []TaskRecord, []TicketRecord, error) {
	clientRows, err := p.db.QueryContext(ctx, `
		SELECT id, company, TRIM(coalesce(first_name, '') || ' ' || coalesce(last_name, '')),
			coalesce(email, ''), coalesce(notes, ''), status
		FROM clients
	`)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load clients: %w", err)
	}
	defer clientRows.Close()

	clients := make([]ClientRecord, 0)
	for clientRows.Next() {
		var c ClientRecord
		if err := clientRows.Scan(&c.ID, &c.Company, &c.Contact, &c.Email, &c.Notes, &c.Status); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := clientRows.Err(); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("iterate clients: %w", err)
	}

	projectRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, coalesce(description, ''), client_id, status
		FROM projects
	`)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projectRows.Close()

	projects := make([]ProjectRecord, 0)
	for projectRows.Next() {
		var pr ProjectRecord
		if err := projectRows.Scan(&pr.ID, &pr.Name, &pr.Description, &pr.ClientID, &pr.Status); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, pr)
	}
	if err := projectRows.Err(); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	taskRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(description, ''), project_id, status
		FROM tasks
	`)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var tk TaskRecord
		if err := taskRows.Scan(&tk.ID, &tk.Title, &tk.Description, &tk.ProjectID, &tk.Status); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, tk)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	ticketRows, err := p.db.QueryContext(ctx, `
		SELECT id, subject, coalesce(body, ''), coalesce(client_id, ''), status
		FROM tickets
	`)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load tickets: %w", err)
	}
	defer ticketRows.Close()

	tickets := make([]TicketRecord, 0)
	for ticketRows.Next() {
		var tk TicketRecord
		if err := ticketRows.Scan(&tk.ID, &tk.Subject, &tk.Body, &tk.ClientID, &tk.Status); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, tk)
	}
	if err := ticketRows.Err(); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("iterate tickets: %w", err)
	}

	return clients, projects, tasks, tickets, nil
}
