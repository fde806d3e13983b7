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

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks cards on the generated fts column with ts_rank and builds
// snippets with ts_headline.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	boards := q.scope()
	if strings.TrimSpace(q.Text) == "" || len(boards) == 0 {
		return nil, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	ctx := context.Background()
	const where = `c.fts @@ plainto_tsquery('english', $1) AND c.board_id = ANY($2)`

	var total int
	if err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM cards c WHERE `+where, q.Text, boards,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.id, c.title,
			ts_headline('english', coalesce(c.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30'),
			c.board_id, c.column_id, c.is_done
		FROM cards c
		WHERE %s
		ORDER BY ts_rank(c.fts, plainto_tsquery('english', $1)) DESC, c.updated_at DESC
		LIMIT %d OFFSET %d`, where, q.limit(), offset), q.Text, boards)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.BoardID, &r.ColumnID, &r.IsDone); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllCards returns every card for full reindexing.
func (p *PgFTS) LoadAllCards(ctx context.Context) ([]CardRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, board_id, column_id, is_done
		FROM cards
	`)
	if err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}
	defer rows.Close()

	cards := make([]CardRecord, 0)
	for rows.Next() {
		var c CardRecord
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.BoardID, &c.ColumnID, &c.IsDone); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return cards, nil
}
