package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const boardSelect = `
	SELECT b.id, b.title, b.description, b.owner_id, b.created_at, b.updated_at,
		COALESCE((SELECT string_agg(bm.user_id, ',' ORDER BY bm.added_at, bm.user_id) FROM board_members bm WHERE bm.board_id = b.id), '')
	FROM boards b`

func scanBoard(row rowScanner) (Board, error) {
	var (
		board   Board
		members string
	)
	if err := row.Scan(&board.ID, &board.Title, &board.Description, &board.OwnerID, &board.CreatedAt, &board.UpdatedAt, &members); err != nil {
		return Board{}, err
	}
	board.Members = splitIDs(members)
	return board, nil
}

// CreateBoard inserts the board and its owner's membership together.
func (s *PostgresStore) CreateBoard(ctx context.Context, board Board) (Board, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Board{}, fmt.Errorf("begin board tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO boards (id, title, description, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, board.ID, board.Title, board.Description, board.OwnerID).Scan(&board.CreatedAt, &board.UpdatedAt)
	if err != nil {
		return Board{}, fmt.Errorf("insert board: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO board_members (board_id, user_id) VALUES ($1, $2)`, board.ID, board.OwnerID); err != nil {
		return Board{}, fmt.Errorf("insert owner membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Board{}, fmt.Errorf("commit board tx: %w", err)
	}
	board.Members = []string{board.OwnerID}
	return board, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	board, err := scanBoard(s.db.QueryRowContext(ctx, boardSelect+` WHERE b.id=$1`, boardID))
	if err != nil {
		return Board{}, notFound(err)
	}
	return board, nil
}

func (s *PostgresStore) BoardExists(ctx context.Context, boardID string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM boards WHERE id=$1)`, boardID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check board: %w", err)
	}
	return exists, nil
}

// ListBoardsForUser returns boards the user owns or belongs to, newest first.
func (s *PostgresStore) ListBoardsForUser(ctx context.Context, userID string) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, boardSelect+`
		WHERE b.owner_id=$1
			OR EXISTS (SELECT 1 FROM board_members m WHERE m.board_id=b.id AND m.user_id=$1)
		ORDER BY b.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	boards := make([]Board, 0)
	for rows.Next() {
		board, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, board)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return boards, nil
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, boardID, title, description string) (Board, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE boards SET title=$2, description=$3, updated_at=NOW()
		WHERE id=$1
	`, boardID, title, description)
	if err != nil {
		return Board{}, fmt.Errorf("update board: %w", err)
	}
	if err := requireRow(res); err != nil {
		return Board{}, err
	}
	return s.GetBoard(ctx, boardID)
}

// DeleteBoard removes the board. Columns, cards, memberships, activities and
// invites go with it through ON DELETE CASCADE.
func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM boards WHERE id=$1`, boardID)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) AddBoardMember(ctx context.Context, boardID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO board_members (board_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (board_id, user_id) DO NOTHING
	`, boardID, userID)
	if err != nil {
		return fmt.Errorf("add board member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyMember
	}
	return nil
}

// RemoveBoardMember drops the membership and every card assignment the user
// held on the board, keeping card members a subset of board members.
func (s *PostgresStore) RemoveBoardMember(ctx context.Context, boardID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin member tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM board_members WHERE board_id=$1 AND user_id=$2`, boardID, userID)
	if err != nil {
		return fmt.Errorf("remove board member: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM card_members
		WHERE user_id=$2 AND card_id IN (SELECT id FROM cards WHERE board_id=$1)
	`, boardID, userID); err != nil {
		return fmt.Errorf("prune card members: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit member tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateInvite(ctx context.Context, invite InviteToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invite_tokens (token, email, board_id, invited_by, expires_at)
		VALUES ($1, LOWER($2), $3, $4, $5)
	`, invite.Token, invite.Email, invite.BoardID, nullString(invite.InvitedBy), invite.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvite(ctx context.Context, token string) (InviteToken, error) {
	var (
		invite     InviteToken
		invitedBy  sql.NullString
		acceptedBy sql.NullString
		acceptedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, email, board_id, invited_by, expires_at, accepted_at, accepted_by, created_at
		FROM invite_tokens WHERE token=$1
	`, token).Scan(&invite.Token, &invite.Email, &invite.BoardID, &invitedBy, &invite.ExpiresAt, &acceptedAt, &acceptedBy, &invite.CreatedAt)
	if err != nil {
		return InviteToken{}, notFound(err)
	}
	invite.InvitedBy = invitedBy.String
	invite.AcceptedBy = acceptedBy.String
	if acceptedAt.Valid {
		t := acceptedAt.Time
		invite.AcceptedAt = &t
	}
	return invite, nil
}

// AcceptInvite consumes the token and inserts the membership it authorizes in
// one transaction. A consumed or expired token yields ErrInviteInvalid.
func (s *PostgresStore) AcceptInvite(ctx context.Context, token, userID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin invite tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var boardID string
	err = tx.QueryRowContext(ctx, `
		UPDATE invite_tokens SET accepted_at=NOW(), accepted_by=$2
		WHERE token=$1 AND accepted_at IS NULL AND expires_at > NOW()
		RETURNING board_id
	`, token, userID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInviteInvalid
	}
	if err != nil {
		return "", fmt.Errorf("consume invite: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO board_members (board_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (board_id, user_id) DO NOTHING
	`, boardID, userID)
	if err != nil {
		return "", fmt.Errorf("insert invited member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrAlreadyMember
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit invite tx: %w", err)
	}
	return boardID, nil
}
