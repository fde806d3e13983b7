package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskboard/api/internal/ordering"
)

const columnSelect = `SELECT id, board_id, title, "order", created_by, updated_by, created_at, updated_at FROM columns`

func scanColumn(row rowScanner) (Column, error) {
	var (
		column    Column
		createdBy sql.NullString
		updatedBy sql.NullString
	)
	if err := row.Scan(&column.ID, &column.BoardID, &column.Title, &column.Order, &createdBy, &updatedBy, &column.CreatedAt, &column.UpdatedAt); err != nil {
		return Column{}, err
	}
	column.CreatedBy = createdBy.String
	column.UpdatedBy = updatedBy.String
	return column, nil
}

func (s *PostgresStore) CreateColumn(ctx context.Context, column Column) (Column, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO columns (id, board_id, title, "order", created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING created_at, updated_at
	`, column.ID, column.BoardID, column.Title, column.Order, nullString(column.CreatedBy)).Scan(&column.CreatedAt, &column.UpdatedAt)
	if err != nil {
		return Column{}, fmt.Errorf("insert column: %w", err)
	}
	column.UpdatedBy = column.CreatedBy
	return column, nil
}

func (s *PostgresStore) GetColumn(ctx context.Context, columnID string) (Column, error) {
	column, err := scanColumn(s.db.QueryRowContext(ctx, columnSelect+` WHERE id=$1`, columnID))
	if err != nil {
		return Column{}, notFound(err)
	}
	return column, nil
}

func (s *PostgresStore) ListColumns(ctx context.Context, boardID string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, columnSelect+` WHERE board_id=$1 ORDER BY "order", created_at`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	columns := make([]Column, 0)
	for rows.Next() {
		column, err := scanColumn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func (s *PostgresStore) UpdateColumn(ctx context.Context, columnID, title, updatedBy string) (Column, error) {
	column, err := scanColumn(s.db.QueryRowContext(ctx, `
		UPDATE columns SET title=$2, updated_by=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING id, board_id, title, "order", created_by, updated_by, created_at, updated_at
	`, columnID, title, nullString(updatedBy)))
	if err != nil {
		return Column{}, notFound(err)
	}
	return column, nil
}

// DeleteColumn removes the column and its cards. Sibling orders are left
// untouched.
func (s *PostgresStore) DeleteColumn(ctx context.Context, columnID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM columns WHERE id=$1`, columnID)
	if err != nil {
		return fmt.Errorf("delete column: %w", err)
	}
	return requireRow(res)
}

const cardSelect = `
	SELECT c.id, c.board_id, c.column_id, c.title, c.description, c.deadline, c.is_done, c."order",
		c.created_by, c.updated_by, c.created_at, c.updated_at,
		COALESCE((SELECT string_agg(cm.user_id, ',' ORDER BY cm.user_id) FROM card_members cm WHERE cm.card_id = c.id), '')
	FROM cards c`

func scanCard(row rowScanner) (Card, error) {
	var (
		card      Card
		deadline  sql.NullTime
		createdBy sql.NullString
		updatedBy sql.NullString
		members   string
	)
	err := row.Scan(
		&card.ID,
		&card.BoardID,
		&card.ColumnID,
		&card.Title,
		&card.Description,
		&deadline,
		&card.IsDone,
		&card.Order,
		&createdBy,
		&updatedBy,
		&card.CreatedAt,
		&card.UpdatedAt,
		&members,
	)
	if err != nil {
		return Card{}, err
	}
	if deadline.Valid {
		t := deadline.Time
		card.Deadline = &t
	}
	card.CreatedBy = createdBy.String
	card.UpdatedBy = updatedBy.String
	card.Members = splitIDs(members)
	return card, nil
}

func (s *PostgresStore) queryCards(ctx context.Context, query string, args ...any) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	cards := make([]Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return cards, nil
}

// CreateCard inserts the card with its initial members.
func (s *PostgresStore) CreateCard(ctx context.Context, card Card) (Card, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Card{}, fmt.Errorf("begin card tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO cards (id, board_id, column_id, title, description, deadline, is_done, "order", created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING created_at, updated_at
	`, card.ID, card.BoardID, card.ColumnID, card.Title, card.Description, card.Deadline, card.IsDone, card.Order, nullString(card.CreatedBy)).
		Scan(&card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return Card{}, fmt.Errorf("insert card: %w", err)
	}
	for _, member := range card.Members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO card_members (card_id, user_id) VALUES ($1, $2)
			ON CONFLICT (card_id, user_id) DO NOTHING
		`, card.ID, member); err != nil {
			return Card{}, fmt.Errorf("insert card member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Card{}, fmt.Errorf("commit card tx: %w", err)
	}
	if card.Members == nil {
		card.Members = []string{}
	}
	card.UpdatedBy = card.CreatedBy
	return card, nil
}

func (s *PostgresStore) GetCard(ctx context.Context, cardID string) (Card, error) {
	card, err := scanCard(s.db.QueryRowContext(ctx, cardSelect+` WHERE c.id=$1`, cardID))
	if err != nil {
		return Card{}, notFound(err)
	}
	return card, nil
}

func (s *PostgresStore) ListCardsByColumn(ctx context.Context, columnID string) ([]Card, error) {
	return s.queryCards(ctx, cardSelect+` WHERE c.column_id=$1 ORDER BY c."order", c.created_at`, columnID)
}

func (s *PostgresStore) ListCardsByBoard(ctx context.Context, boardID string) ([]Card, error) {
	return s.queryCards(ctx, cardSelect+` WHERE c.board_id=$1 ORDER BY c."order", c.created_at`, boardID)
}

// ListCardsWithDeadlines returns the cards with a deadline that are assigned
// to the user on boards the user owns or belongs to, soonest first.
func (s *PostgresStore) ListCardsWithDeadlines(ctx context.Context, userID string) ([]Card, error) {
	return s.queryCards(ctx, cardSelect+`
		JOIN boards b ON b.id = c.board_id
		WHERE c.deadline IS NOT NULL
			AND EXISTS (SELECT 1 FROM card_members mine WHERE mine.card_id=c.id AND mine.user_id=$1)
			AND (b.owner_id=$1 OR EXISTS (SELECT 1 FROM board_members bm WHERE bm.board_id=b.id AND bm.user_id=$1))
		ORDER BY c.deadline ASC
	`, userID)
}

// UpdateCard writes the editable fields of card.
func (s *PostgresStore) UpdateCard(ctx context.Context, card Card) (Card, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cards
		SET title=$2, description=$3, deadline=$4, is_done=$5, updated_by=$6, updated_at=NOW()
		WHERE id=$1
	`, card.ID, card.Title, card.Description, card.Deadline, card.IsDone, nullString(card.UpdatedBy))
	if err != nil {
		return Card{}, fmt.Errorf("update card: %w", err)
	}
	if err := requireRow(res); err != nil {
		return Card{}, err
	}
	return s.GetCard(ctx, card.ID)
}

func (s *PostgresStore) DeleteCard(ctx context.Context, cardID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id=$1`, cardID)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) AddCardMember(ctx context.Context, cardID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO card_members (card_id, user_id) VALUES ($1, $2)
		ON CONFLICT (card_id, user_id) DO NOTHING
	`, cardID, userID)
	if err != nil {
		return fmt.Errorf("add card member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyMember
	}
	return nil
}

func (s *PostgresStore) RemoveCardMember(ctx context.Context, cardID, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM card_members WHERE card_id=$1 AND user_id=$2`, cardID, userID)
	if err != nil {
		return fmt.Errorf("remove card member: %w", err)
	}
	return requireRow(res)
}

// ListCardsDueBetween returns undone cards whose deadline falls in [from, to).
func (s *PostgresStore) ListCardsDueBetween(ctx context.Context, from, to time.Time) ([]DueCard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.board_id, c.column_id, c.title, c.deadline,
			COALESCE((SELECT string_agg(cm.user_id, ',' ORDER BY cm.user_id) FROM card_members cm WHERE cm.card_id = c.id), ''),
			b.title, b.owner_id
		FROM cards c
		JOIN boards b ON b.id = c.board_id
		WHERE c.deadline >= $1 AND c.deadline < $2 AND c.is_done = FALSE
		ORDER BY c.deadline
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list due cards: %w", err)
	}
	defer rows.Close()

	due := make([]DueCard, 0)
	for rows.Next() {
		var (
			item     DueCard
			deadline time.Time
			members  string
		)
		if err := rows.Scan(&item.ID, &item.BoardID, &item.ColumnID, &item.Title, &deadline, &members, &item.BoardTitle, &item.OwnerID); err != nil {
			return nil, fmt.Errorf("scan due card: %w", err)
		}
		item.Deadline = &deadline
		item.Members = splitIDs(members)
		due = append(due, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due cards: %w", err)
	}
	return due, nil
}

// ColumnGroups exposes columns to the ordering engine, grouped by board.
func (s *PostgresStore) ColumnGroups() ordering.GroupStore {
	return groupTable{db: s.db, table: "columns", groupColumn: "board_id", parentTable: "boards"}
}

// CardGroups exposes cards to the ordering engine, grouped by column.
func (s *PostgresStore) CardGroups() ordering.GroupStore {
	return groupTable{db: s.db, table: "cards", groupColumn: "column_id", parentTable: "columns"}
}

// groupTable implements ordering.GroupStore over one ordered table. The table
// names are fixed by the constructors above and never come from input.
type groupTable struct {
	db          *sql.DB
	table       string
	groupColumn string
	parentTable string
}

func (g groupTable) GroupExists(ctx context.Context, group string) (bool, error) {
	var exists bool
	err := g.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+g.parentTable+` WHERE id=$1)`, group).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", g.parentTable, err)
	}
	return exists, nil
}

func (g groupTable) Count(ctx context.Context, group string) (int, error) {
	var count int
	err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+g.table+` WHERE `+g.groupColumn+`=$1`, group).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", g.table, err)
	}
	return count, nil
}

func (g groupTable) ListOrdered(ctx context.Context, group string) ([]ordering.Item, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT id, "order" FROM `+g.table+` WHERE `+g.groupColumn+`=$1 ORDER BY "order", created_at`, group)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", g.table, err)
	}
	defer rows.Close()

	items := make([]ordering.Item, 0)
	for rows.Next() {
		var item ordering.Item
		if err := rows.Scan(&item.ID, &item.Order); err != nil {
			return nil, fmt.Errorf("scan %s: %w", g.table, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", g.table, err)
	}
	return items, nil
}

func (g groupTable) SetOrder(ctx context.Context, id string, order int) error {
	res, err := g.db.ExecContext(ctx, `UPDATE `+g.table+` SET "order"=$2, updated_at=NOW() WHERE id=$1`, id, order)
	if err != nil {
		return fmt.Errorf("set %s order: %w", g.table, err)
	}
	return requireRow(res)
}

func (g groupTable) Place(ctx context.Context, id, group string, order int) error {
	res, err := g.db.ExecContext(ctx, `UPDATE `+g.table+` SET `+g.groupColumn+`=$2, "order"=$3, updated_at=NOW() WHERE id=$1`, id, group, order)
	if err != nil {
		return fmt.Errorf("place %s: %w", g.table, err)
	}
	return requireRow(res)
}
