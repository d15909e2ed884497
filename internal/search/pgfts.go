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

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over projects, tasks and ideas ranked with
// ts_rank, with ts_headline snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
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
	projectFilter := ""
	if q.FilterProjectID != "" {
		args = append(args, q.FilterProjectID)
		projectFilter = fmt.Sprintf(" AND %%s = $%d", len(args))
	}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultProject {
		where := "p.fts @@ " + tsQuery
		if projectFilter != "" {
			where += fmt.Sprintf(projectFilter, "p.id")
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.title,
				ts_headline('english', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS project_id, p.backlog, p.status,
				ts_rank(p.fts, %s) AS rank
			FROM projects p
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultTask {
		where := "t.fts @@ " + tsQuery
		if projectFilter != "" {
			where += fmt.Sprintf(projectFilter, "t.project_id")
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.project_id, t.backlog, t.status,
				ts_rank(t.fts, %s) AS rank
			FROM tasks t
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if (q.FilterType == "" || q.FilterType == ResultIdea) && q.FilterProjectID == "" {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'idea'::text AS type, i.id, i.title,
				ts_headline('english', coalesce(i.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS project_id, ''::text AS backlog, i.status,
				ts_rank(i.fts, %s) AS rank
			FROM ideas i
			WHERE i.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, backlog, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.Backlog, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable row for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []TaskRecord, []IdeaRecord, error) {
	projects := make([]ProjectRecord, 0)
	err := p.scanAll(ctx, `SELECT id, title, description, backlog, status FROM projects`, func(rows *sql.Rows) error {
		var r ProjectRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Backlog, &r.Status); err != nil {
			return err
		}
		projects = append(projects, r)
		return nil
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load projects: %w", err)
	}

	tasks := make([]TaskRecord, 0)
	err = p.scanAll(ctx, `SELECT id, project_id, title, description, backlog, status FROM tasks`, func(rows *sql.Rows) error {
		var r TaskRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Title, &r.Description, &r.Backlog, &r.Status); err != nil {
			return err
		}
		tasks = append(tasks, r)
		return nil
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load tasks: %w", err)
	}

	ideas := make([]IdeaRecord, 0)
	err = p.scanAll(ctx, `SELECT id, title, description, source, status FROM ideas`, func(rows *sql.Rows) error {
		var r IdeaRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Source, &r.Status); err != nil {
			return err
		}
		ideas = append(ideas, r)
		return nil
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load ideas: %w", err)
	}

	return projects, tasks, ideas, nil
}

func (p *PgFTS) scanAll(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
