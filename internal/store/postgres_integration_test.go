package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// openTestStore connects to TEST_DATABASE_URL, resets the public schema and
// applies every migration. Tests using it are skipped without a database.
func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn, PoolConfig{MaxOpenConns: 4, ApplicationName: "taskboard-store-test"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func seedBoard(t *testing.T, s *PostgresStore) (User, Board) {
	t.Helper()
	ctx := context.Background()
	owner := User{ID: "usr_owner", Username: "owner", Email: "owner@example.com", PasswordHash: "x"}
	if err := s.CreateUser(ctx, owner); err != nil {
		t.Fatalf("create user: %v", err)
	}
	board, err := s.CreateBoard(ctx, Board{ID: "brd_1", Title: "Roadmap", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	return owner, board
}

func TestActivityImmutabilityBlocksUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner, board := seedBoard(t, s)

	if _, err := s.InsertActivity(ctx, Activity{ID: "act_1", BoardID: board.ID, UserID: owner.ID, Action: ActionCreateBoard, Detail: "created"}); err != nil {
		t.Fatalf("insert activity should succeed: %v", err)
	}

	_, err := s.DB().ExecContext(ctx, `UPDATE activities SET detail='changed' WHERE id='act_1'`)
	if err == nil {
		t.Fatal("expected UPDATE to be blocked, but it succeeded")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
	}
	if pgErr.Message != "activities is immutable; UPDATE is not allowed" {
		t.Fatalf("unexpected error message: %s", pgErr.Message)
	}

	if err := s.DeleteBoard(ctx, board.ID); err != nil {
		t.Fatalf("board delete must cascade through activities: %v", err)
	}
	var count int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&count); err != nil {
		t.Fatalf("count activities: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected activities to be removed with the board, got %d", count)
	}
}

func TestBoardMembershipRules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner, board := seedBoard(t, s)

	got, err := s.GetBoard(ctx, board.ID)
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if len(got.Members) != 1 || got.Members[0] != owner.ID {
		t.Fatalf("expected owner to be the only member, got %v", got.Members)
	}

	if err := s.AddBoardMember(ctx, board.ID, owner.ID); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}

	member := User{ID: "usr_m", Username: "member", Email: "m@example.com", PasswordHash: "x"}
	if err := s.CreateUser(ctx, member); err != nil {
		t.Fatalf("create member: %v", err)
	}
	if err := s.AddBoardMember(ctx, board.ID, member.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	column, err := s.CreateColumn(ctx, Column{ID: "col_1", BoardID: board.ID, Title: "To Do", CreatedBy: owner.ID})
	if err != nil {
		t.Fatalf("create column: %v", err)
	}
	card, err := s.CreateCard(ctx, Card{ID: "crd_1", BoardID: board.ID, ColumnID: column.ID, Title: "Ship", Members: []string{member.ID}, CreatedBy: owner.ID})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}

	if err := s.RemoveBoardMember(ctx, board.ID, member.ID); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	card, err = s.GetCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if len(card.Members) != 0 {
		t.Fatalf("expected card members pruned with board membership, got %v", card.Members)
	}

	if err := s.CreateUser(ctx, User{ID: "usr_dup", Username: "OWNER", Email: "other@example.com"}); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if err := s.CreateUser(ctx, User{ID: "usr_dup", Username: "other", Email: "Owner@Example.com"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestAcceptInviteIsSingleUse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner, board := seedBoard(t, s)
	guest := User{ID: "usr_g", Username: "guest", Email: "guest@example.com", PasswordHash: "x"}
	if err := s.CreateUser(ctx, guest); err != nil {
		t.Fatalf("create guest: %v", err)
	}

	if err := s.CreateInvite(ctx, InviteToken{Token: "tok", Email: guest.Email, BoardID: board.ID, InvitedBy: owner.ID, ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if err := s.CreateInvite(ctx, InviteToken{Token: "old", Email: guest.Email, BoardID: board.ID, InvitedBy: owner.ID, ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("create expired invite: %v", err)
	}

	boardID, err := s.AcceptInvite(ctx, "tok", guest.ID)
	if err != nil {
		t.Fatalf("accept invite: %v", err)
	}
	if boardID != board.ID {
		t.Fatalf("expected board %s, got %s", board.ID, boardID)
	}
	if _, err := s.AcceptInvite(ctx, "tok", guest.ID); !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("expected second accept to fail with ErrInviteInvalid, got %v", err)
	}
	if _, err := s.AcceptInvite(ctx, "old", guest.ID); !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("expected expired accept to fail with ErrInviteInvalid, got %v", err)
	}
}

func TestClaimDeadlineAlertOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner, board := seedBoard(t, s)
	column, err := s.CreateColumn(ctx, Column{ID: "col_1", BoardID: board.ID, Title: "Doing", CreatedBy: owner.ID})
	if err != nil {
		t.Fatalf("create column: %v", err)
	}
	deadline := time.Now().Add(2 * time.Hour)
	if _, err := s.CreateCard(ctx, Card{ID: "crd_1", BoardID: board.ID, ColumnID: column.ID, Title: "Due", Deadline: &deadline, CreatedBy: owner.ID}); err != nil {
		t.Fatalf("create card: %v", err)
	}

	due, err := s.ListCardsDueBetween(ctx, time.Now(), time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].OwnerID != owner.ID {
		t.Fatalf("unexpected due cards: %+v", due)
	}

	first, err := s.ClaimDeadlineAlert(ctx, "crd_1", NotifyDeadlineSoon)
	if err != nil || !first {
		t.Fatalf("expected first claim to succeed, got %v %v", first, err)
	}
	second, err := s.ClaimDeadlineAlert(ctx, "crd_1", NotifyDeadlineSoon)
	if err != nil || second {
		t.Fatalf("expected second claim to be rejected, got %v %v", second, err)
	}

	if err := s.ReleaseDeadlineAlert(ctx, "crd_1", NotifyDeadlineSoon); err != nil {
		t.Fatalf("release claim: %v", err)
	}
	again, err := s.ClaimDeadlineAlert(ctx, "crd_1", NotifyDeadlineSoon)
	if err != nil || !again {
		t.Fatalf("expected claim after release to succeed, got %v %v", again, err)
	}
}

func TestCardGroupsPlaceAndCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner, board := seedBoard(t, s)
	for i, id := range []string{"col_a", "col_b"} {
		if _, err := s.CreateColumn(ctx, Column{ID: id, BoardID: board.ID, Title: id, Order: i, CreatedBy: owner.ID}); err != nil {
			t.Fatalf("create column: %v", err)
		}
	}
	if _, err := s.CreateCard(ctx, Card{ID: "crd_1", BoardID: board.ID, ColumnID: "col_a", Title: "one", CreatedBy: owner.ID}); err != nil {
		t.Fatalf("create card: %v", err)
	}

	groups := s.CardGroups()
	if err := groups.Place(ctx, "crd_1", "col_b", 3); err != nil {
		t.Fatalf("place: %v", err)
	}
	count, err := groups.Count(ctx, "col_b")
	if err != nil || count != 1 {
		t.Fatalf("expected one card in col_b, got %d %v", count, err)
	}
	items, err := groups.ListOrdered(ctx, "col_b")
	if err != nil || len(items) != 1 || items[0].Order != 3 {
		t.Fatalf("unexpected items: %+v %v", items, err)
	}
	exists, err := groups.GroupExists(ctx, "col_missing")
	if err != nil || exists {
		t.Fatalf("expected missing column, got %v %v", exists, err)
	}
	if err := groups.SetOrder(ctx, "crd_missing", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
