package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertActivity appends an entry to the board's activity log. Entries are
// never updated; the database rejects UPDATE on the table.
func (s *PostgresStore) InsertActivity(ctx context.Context, activity Activity) (Activity, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO activities (id, board_id, user_id, action, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, activity.ID, activity.BoardID, activity.UserID, activity.Action, activity.Detail).Scan(&activity.CreatedAt)
	if err != nil {
		return Activity{}, fmt.Errorf("insert activity: %w", err)
	}
	return activity, nil
}

// ListActivities returns the newest entries of a board with the actor's
// display fields resolved.
func (s *PostgresStore) ListActivities(ctx context.Context, boardID string, limit int) ([]Activity, error) {
	return s.queryActivities(ctx, `
		SELECT a.id, a.board_id, a.user_id, u.username, u.avatar, a.action, a.detail, a.created_at
		FROM activities a
		JOIN users u ON u.id = a.user_id
		WHERE a.board_id=$1
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $2
	`, boardID, limit)
}

// ListActivitiesForUserSince returns entries on every board the user owns or
// belongs to that were recorded at or after since.
func (s *PostgresStore) ListActivitiesForUserSince(ctx context.Context, userID string, since time.Time) ([]Activity, error) {
	return s.queryActivities(ctx, `
		SELECT a.id, a.board_id, a.user_id, u.username, u.avatar, a.action, a.detail, a.created_at
		FROM activities a
		JOIN users u ON u.id = a.user_id
		JOIN boards b ON b.id = a.board_id
		WHERE a.created_at >= $2
			AND (b.owner_id=$1 OR EXISTS (SELECT 1 FROM board_members bm WHERE bm.board_id=b.id AND bm.user_id=$1))
		ORDER BY a.created_at
	`, userID, since)
}

func (s *PostgresStore) queryActivities(ctx context.Context, query string, args ...any) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		var item Activity
		if err := rows.Scan(&item.ID, &item.BoardID, &item.UserID, &item.Username, &item.Avatar, &item.Action, &item.Detail, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return items, nil
}

const notificationColumns = `id, recipient_id, sender_id, board_id, card_id, type, message, is_read, created_at`

func scanNotification(row rowScanner) (Notification, error) {
	var (
		item                    Notification
		sender, boardID, cardID sql.NullString
	)
	if err := row.Scan(&item.ID, &item.RecipientID, &sender, &boardID, &cardID, &item.Type, &item.Message, &item.IsRead, &item.CreatedAt); err != nil {
		return Notification{}, err
	}
	item.SenderID = sender.String
	item.BoardID = boardID.String
	item.CardID = cardID.String
	return item, nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) (Notification, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, recipient_id, sender_id, board_id, card_id, type, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, item.ID, item.RecipientID, nullString(item.SenderID), nullString(item.BoardID), nullString(item.CardID), item.Type, item.Message).Scan(&item.CreatedAt)
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, recipientID, limit)
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

// MarkNotificationRead only touches notifications addressed to recipientID;
// anything else reads as ErrNotFound.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id, recipientID string) (Notification, error) {
	item, err := scanNotification(s.db.QueryRowContext(ctx, `
		UPDATE notifications SET is_read=TRUE
		WHERE id=$1 AND recipient_id=$2
		RETURNING `+notificationColumns, id, recipientID))
	if err != nil {
		return Notification{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read=TRUE WHERE recipient_id=$1 AND is_read=FALSE`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, id, recipientID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id=$1 AND recipient_id=$2`, id, recipientID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return requireRow(res)
}

// ClaimDeadlineAlert records that an alert of the given type was sent for the
// card. It reports false when the alert had already been claimed.
func (s *PostgresStore) ClaimDeadlineAlert(ctx context.Context, cardID, alertType string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO deadline_alerts (card_id, type) VALUES ($1, $2)
		ON CONFLICT (card_id, type) DO NOTHING
	`, cardID, alertType)
	if err != nil {
		return false, fmt.Errorf("claim deadline alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim deadline alert: %w", err)
	}
	return n == 1, nil
}

// ReleaseDeadlineAlert drops a claim so the next scan can try the alert again.
func (s *PostgresStore) ReleaseDeadlineAlert(ctx context.Context, cardID, alertType string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM deadline_alerts WHERE card_id=$1 AND type=$2`, cardID, alertType); err != nil {
		return fmt.Errorf("release deadline alert: %w", err)
	}
	return nil
}
