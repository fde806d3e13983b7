package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyMember = errors.New("already a member")
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")
	ErrInviteInvalid = errors.New("invite token is invalid or expired")
	ErrResetInvalid  = errors.New("reset token is invalid or expired")
	ErrVerifyInvalid = errors.New("verification token is invalid or expired")
)

type User struct {
	ID                    string
	Username              string
	Email                 string
	PasswordHash          string
	Avatar                string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Board members always include the owner once it has been created through
// CreateBoard; callers must still treat the owner as a member when the row is
// missing.
type Board struct {
	ID          string
	Title       string
	Description string
	OwnerID     string
	Members     []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Column struct {
	ID        string
	BoardID   string
	Title     string
	Order     int
	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Card struct {
	ID          string
	BoardID     string
	ColumnID    string
	Title       string
	Description string
	Deadline    *time.Time
	IsDone      bool
	Order       int
	Members     []string
	CreatedBy   string
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Activity struct {
	ID        string
	BoardID   string
	UserID    string
	Username  string
	Avatar    string
	Action    string
	Detail    string
	CreatedAt time.Time
}

type Notification struct {
	ID          string
	RecipientID string
	SenderID    string
	BoardID     string
	CardID      string
	Type        string
	Message     string
	IsRead      bool
	CreatedAt   time.Time
}

type InviteToken struct {
	Token      string
	Email      string
	BoardID    string
	InvitedBy  string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	AcceptedBy string
	CreatedAt  time.Time
}

// DueCard is a card picked up by the deadline scan together with the owner
// of its board.
type DueCard struct {
	Card
	BoardTitle string
	OwnerID    string
}

const (
	ActionCreateBoard    = "CREATE_BOARD"
	ActionUpdateBoard    = "UPDATE_BOARD"
	ActionCreateColumn   = "CREATE_COLUMN"
	ActionUpdateColumn   = "UPDATE_COLUMN"
	ActionDeleteColumn   = "DELETE_COLUMN"
	ActionReorderColumns = "REORDER_COLUMNS"
	ActionCreateCard     = "CREATE_CARD"
	ActionUpdateCard     = "UPDATE_CARD"
	ActionDeleteCard     = "DELETE_CARD"
	ActionMoveCard       = "MOVE_CARD"
	ActionReorderCards   = "REORDER_CARDS"
	ActionAddMember      = "ADD_MEMBER"
	ActionRemoveMember   = "REMOVE_MEMBER"
	ActionLeaveBoard     = "LEAVE_BOARD"
	ActionAcceptInvite   = "ACCEPT_INVITE"
)

const (
	NotifyAddToBoard       = "ADD_TO_BOARD"
	NotifyRemovedFromBoard = "REMOVED_FROM_BOARD"
	NotifyAssignedToCard   = "ASSIGNED_TO_CARD"
	NotifyRemovedFromCard  = "REMOVED_FROM_CARD"
	NotifyDeadlineSoon     = "DEADLINE_SOON"
	NotifyGeneric          = "GENERIC"
)
