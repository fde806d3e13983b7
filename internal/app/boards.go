package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/export"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

const inviteTTL = 7 * 24 * time.Hour

type BoardInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

// AddMemberInput names the user by id or by email.
type AddMemberInput struct {
	UserID string `json:"userId"`
	Email  string `json:"email" validate:"omitempty,email"`
}

type InviteInput struct {
	Email string `json:"email" validate:"required,email"`
}

type InviteView struct {
	Email     string    `json:"email"`
	BoardID   string    `json:"boardId"`
	ExpiresAt time.Time `json:"expiresAt"`
	InviteURL string    `json:"inviteUrl,omitempty"`
}

func (s *Service) CreateBoard(ctx context.Context, userID string, in BoardInput) (BoardView, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Validate(in); err != nil {
		return BoardView{}, err
	}
	board, err := s.store.CreateBoard(ctx, store.Board{
		ID:          util.NewID("brd"),
		Title:       in.Title,
		Description: in.Description,
		OwnerID:     userID,
	})
	if err != nil {
		return BoardView{}, err
	}
	s.record(ctx, board.ID, userID, store.ActionCreateBoard, fmt.Sprintf("Created board %q", board.Title))
	return s.boardView(ctx, board)
}

func (s *Service) ListBoards(ctx context.Context, userID string) ([]BoardView, error) {
	boards, err := s.store.ListBoardsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([][]string, 0, len(boards)*2)
	for _, b := range boards {
		ids = append(ids, []string{b.OwnerID}, b.Members)
	}
	idx, err := s.loadUsers(ctx, ids...)
	if err != nil {
		return nil, err
	}
	out := make([]BoardView, 0, len(boards))
	for _, b := range boards {
		out = append(out, idx.board(b))
	}
	return out, nil
}

func (s *Service) GetBoard(ctx context.Context, boardID, userID string) (BoardView, error) {
	board, err := s.boardFor(ctx, boardID, userID, rbac.ActionRead)
	if err != nil {
		return BoardView{}, err
	}
	return s.boardView(ctx, board)
}

func (s *Service) UpdateBoard(ctx context.Context, boardID, userID string, in BoardInput) (BoardView, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Validate(in); err != nil {
		return BoardView{}, err
	}
	if _, err := s.boardFor(ctx, boardID, userID, rbac.ActionWrite); err != nil {
		return BoardView{}, err
	}
	board, err := s.store.UpdateBoard(ctx, boardID, in.Title, in.Description)
	if err != nil {
		return BoardView{}, err
	}
	view, err := s.boardView(ctx, board)
	if err != nil {
		return BoardView{}, err
	}
	s.record(ctx, boardID, userID, store.ActionUpdateBoard, fmt.Sprintf("Updated board %q", board.Title))
	s.emitToBoard(boardID, realtime.EventBoardUpdated, map[string]any{"board": view})
	return view, nil
}

// DeleteBoard removes the board with everything on it. Owner only.
func (s *Service) DeleteBoard(ctx context.Context, boardID, userID string) error {
	if _, err := s.boardFor(ctx, boardID, userID, rbac.ActionManage); err != nil {
		return err
	}
	if err := s.store.DeleteBoard(ctx, boardID); err != nil {
		return err
	}
	s.emitToBoard(boardID, realtime.EventBoardDeleted, map[string]any{"boardId": boardID})
	s.unindex("search:delete-board", func(ctx context.Context) error {
		return s.search.DeleteBoard(ctx, boardID)
	})
	return nil
}

// AddMember adds an existing user to the board. Owner only.
func (s *Service) AddMember(ctx context.Context, boardID, userID string, in AddMemberInput) (BoardView, error) {
	if err := s.validate.Validate(in); err != nil {
		return BoardView{}, err
	}
	board, err := s.boardFor(ctx, boardID, userID, rbac.ActionManage)
	if err != nil {
		return BoardView{}, err
	}
	target, err := s.lookupUser(ctx, in)
	if err != nil {
		return BoardView{}, err
	}
	if rbac.IsMember(board.OwnerID, board.Members, target.ID) {
		return BoardView{}, store.ErrAlreadyMember
	}
	if err := s.store.AddBoardMember(ctx, boardID, target.ID); err != nil {
		return BoardView{}, err
	}
	updated, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return BoardView{}, err
	}
	view, err := s.boardView(ctx, updated)
	if err != nil {
		return BoardView{}, err
	}

	s.record(ctx, boardID, userID, store.ActionAddMember, fmt.Sprintf("Added %s to the board", target.Username))
	s.emitToBoard(boardID, realtime.EventMemberAdded, map[string]any{"boardId": boardID, "user": userRef(target)})
	s.notifyAfterCommit(store.Notification{
		RecipientID: target.ID,
		SenderID:    userID,
		BoardID:     boardID,
		Type:        store.NotifyAddToBoard,
		Message:     fmt.Sprintf("You were added to board %q", board.Title),
	})
	return view, nil
}

func (s *Service) lookupUser(ctx context.Context, in AddMemberInput) (store.User, error) {
	var (
		user store.User
		err  error
	)
	switch {
	case in.UserID != "":
		user, err = s.store.GetUserByID(ctx, in.UserID)
	case in.Email != "":
		user, err = s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(in.Email)))
	default:
		return store.User{}, invalidArgument("userId or email is required")
	}
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, notFoundError("User not found")
	}
	return user, err
}

// RemoveMember drops a member and their card assignments. Owner only; the
// owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, boardID, userID, memberID string) error {
	board, err := s.boardFor(ctx, boardID, userID, rbac.ActionManage)
	if err != nil {
		return err
	}
	if memberID == board.OwnerID {
		return invalidArgument("The board owner cannot be removed")
	}
	err = s.store.RemoveBoardMember(ctx, boardID, memberID)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError("User is not a member of this board")
	}
	if err != nil {
		return err
	}
	name := memberID
	if member, err := s.store.GetUserByID(ctx, memberID); err == nil {
		name = member.Username
	}

	s.record(ctx, boardID, userID, store.ActionRemoveMember, fmt.Sprintf("Removed %s from the board", name))
	s.emitToBoard(boardID, realtime.EventMemberRemoved, map[string]any{"boardId": boardID, "userId": memberID})
	s.notifyAfterCommit(store.Notification{
		RecipientID: memberID,
		SenderID:    userID,
		BoardID:     boardID,
		Type:        store.NotifyRemovedFromBoard,
		Message:     fmt.Sprintf("You were removed from board %q", board.Title),
	})
	return nil
}

// LeaveBoard removes the caller from a board they belong to. The owner
// cannot leave.
func (s *Service) LeaveBoard(ctx context.Context, boardID, userID string) error {
	if _, err := s.boardFor(ctx, boardID, userID, rbac.ActionLeave); err != nil {
		return err
	}
	if err := s.store.RemoveBoardMember(ctx, boardID, userID); err != nil {
		return err
	}
	s.record(ctx, boardID, userID, store.ActionLeaveBoard, "Left the board")
	s.emitToBoard(boardID, realtime.EventMemberRemoved, map[string]any{"boardId": boardID, "userId": userID})
	return nil
}

// CreateInvite issues a single-use token bound to the email and the board
// and mails the link.
func (s *Service) CreateInvite(ctx context.Context, boardID, userID string, in InviteInput) (InviteView, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validate.Validate(in); err != nil {
		return InviteView{}, err
	}
	board, err := s.boardFor(ctx, boardID, userID, rbac.ActionWrite)
	if err != nil {
		return InviteView{}, err
	}
	if existing, err := s.store.GetUserByEmail(ctx, in.Email); err == nil {
		if rbac.IsMember(board.OwnerID, board.Members, existing.ID) {
			return InviteView{}, store.ErrAlreadyMember
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return InviteView{}, err
	}

	invite := store.InviteToken{
		Token:     util.RandomToken(32),
		Email:     in.Email,
		BoardID:   boardID,
		InvitedBy: userID,
		ExpiresAt: s.now().Add(inviteTTL),
	}
	if err := s.store.CreateInvite(ctx, invite); err != nil {
		return InviteView{}, err
	}
	link := s.clientLink("/invite?token=" + url.QueryEscape(invite.Token))
	view := InviteView{Email: invite.Email, BoardID: boardID, ExpiresAt: invite.ExpiresAt}

	if s.devBypass() {
		log.WithField("board_id", boardID).Warn("mailer not configured, returning invite link to caller")
		view.InviteURL = link
		return view, nil
	}
	inviter := userID
	if u, err := s.store.GetUserByID(ctx, userID); err == nil {
		inviter = u.Username
	}
	s.sendMail("email:invite", func() error {
		return s.mailer.SendInviteEmail(invite.Email, inviter, board.Title, link)
	})
	return view, nil
}

// AcceptInvite consumes the token for the caller, whose email must match the
// invited address.
func (s *Service) AcceptInvite(ctx context.Context, userID, token string) (BoardView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return BoardView{}, invalidArgument("Token is required")
	}
	invite, err := s.store.GetInvite(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return BoardView{}, store.ErrInviteInvalid
	}
	if err != nil {
		return BoardView{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return BoardView{}, err
	}
	if !strings.EqualFold(user.Email, invite.Email) {
		return BoardView{}, forbidden("This invite was sent to a different email address")
	}
	boardID, err := s.store.AcceptInvite(ctx, token, userID)
	if err != nil {
		return BoardView{}, err
	}
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return BoardView{}, err
	}
	view, err := s.boardView(ctx, board)
	if err != nil {
		return BoardView{}, err
	}
	s.record(ctx, boardID, userID, store.ActionAcceptInvite, fmt.Sprintf("%s joined the board", user.Username))
	s.emitToBoard(boardID, realtime.EventMemberAdded, map[string]any{"boardId": boardID, "user": userRef(user)})
	return view, nil
}

func (s *Service) ExportBoard(ctx context.Context, boardID, userID, format string) (*export.Result, error) {
	if _, err := s.boardFor(ctx, boardID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	parsed, err := export.ParseFormat(strings.ToLower(format))
	if err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	return s.exporter.Export(ctx, export.Request{BoardID: boardID, Format: parsed})
}
