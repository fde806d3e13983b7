package app

import (
	"context"
	"errors"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/authpw"
	"taskboard/api/internal/config"
	"taskboard/api/internal/export"
	"taskboard/api/internal/hooks"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
	"taskboard/api/internal/validation"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	ListUsersByIDs(context.Context, []string) ([]store.User, error)
	ListUsersNotInBoard(context.Context, string) ([]store.User, error)
	UpdateUserProfile(ctx context.Context, userID, username, email, avatar string) (store.User, error)
	UpdateUserPassword(context.Context, string, string) error
	UpdateUserVerificationToken(context.Context, string, string, time.Time) error
	VerifyUserEmail(context.Context, string) error
	CreatePasswordReset(context.Context, string, string, time.Time) error
	ConsumePasswordReset(context.Context, string, string) (string, error)

	CreateBoard(context.Context, store.Board) (store.Board, error)
	GetBoard(context.Context, string) (store.Board, error)
	ListBoardsForUser(context.Context, string) ([]store.Board, error)
	UpdateBoard(ctx context.Context, boardID, title, description string) (store.Board, error)
	DeleteBoard(context.Context, string) error
	AddBoardMember(context.Context, string, string) error
	RemoveBoardMember(context.Context, string, string) error
	CreateInvite(context.Context, store.InviteToken) error
	GetInvite(context.Context, string) (store.InviteToken, error)
	AcceptInvite(ctx context.Context, token, userID string) (string, error)

	CreateColumn(context.Context, store.Column) (store.Column, error)
	GetColumn(context.Context, string) (store.Column, error)
	ListColumns(context.Context, string) ([]store.Column, error)
	UpdateColumn(ctx context.Context, columnID, title, updatedBy string) (store.Column, error)
	DeleteColumn(context.Context, string) error

	CreateCard(context.Context, store.Card) (store.Card, error)
	GetCard(context.Context, string) (store.Card, error)
	ListCardsByColumn(context.Context, string) ([]store.Card, error)
	ListCardsByBoard(context.Context, string) ([]store.Card, error)
	ListCardsWithDeadlines(context.Context, string) ([]store.Card, error)
	UpdateCard(context.Context, store.Card) (store.Card, error)
	DeleteCard(context.Context, string) error
	AddCardMember(context.Context, string, string) error
	RemoveCardMember(context.Context, string, string) error

	InsertActivity(context.Context, store.Activity) (store.Activity, error)
	ListActivities(ctx context.Context, boardID string, limit int) ([]store.Activity, error)
	ListActivitiesForUserSince(ctx context.Context, userID string, since time.Time) ([]store.Activity, error)
	InsertNotification(context.Context, store.Notification) (store.Notification, error)
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, id, recipientID string) (store.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error)
	DeleteNotification(ctx context.Context, id, recipientID string) error

	ColumnGroups() ordering.GroupStore
	CardGroups() ordering.GroupStore
}

// sessionStore keeps refresh sessions and revoked access tokens. Postgres
// and Redis both implement it.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendInviteEmail(to, inviter, boardTitle, inviteURL string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexCard(ctx context.Context, card search.CardRecord) error
	DeleteCard(ctx context.Context, id string) error
	DeleteColumn(ctx context.Context, columnID string) error
	DeleteBoard(ctx context.Context, boardID string) error
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type avatarUploader interface {
	Upload(ctx context.Context, userID string, r io.Reader) (string, error)
}

type Option func(*Service)

// WithSessions moves refresh sessions and token revocation off the main store.
func WithSessions(sessions sessionStore) Option {
	return func(s *Service) { s.sessions = sessions }
}

func WithEmitter(emitter realtime.Emitter) Option {
	return func(s *Service) { s.emitter = emitter }
}

func WithHooks(dispatcher hooks.Dispatcher) Option {
	return func(s *Service) { s.hooks = dispatcher }
}

func WithMailer(m mailer) Option {
	return func(s *Service) { s.mailer = m }
}

func WithSearch(idx searchIndex) Option {
	return func(s *Service) { s.search = idx }
}

func WithExporter(e exporter) Option {
	return func(s *Service) { s.exporter = e }
}

func WithAvatars(u avatarUploader) Option {
	return func(s *Service) { s.avatars = u }
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

type Service struct {
	cfg        config.Config
	store      dataStore
	sessions   sessionStore
	passwords  *authpw.Service
	columns    *ordering.Engine
	cards      *ordering.Engine
	emitter    realtime.Emitter
	hooks      hooks.Dispatcher
	mailer     mailer
	search     searchIndex
	exporter   exporter
	avatars    avatarUploader
	validate   *validation.Validator
	bcryptCost int
	now        func() time.Time
}

func New(cfg config.Config, data dataStore, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    data,
		emitter:  realtime.Discard{},
		hooks:    hooks.Inline{},
		validate: validation.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessions == nil {
		if ss, ok := data.(sessionStore); ok {
			s.sessions = ss
		}
	}
	s.passwords = authpw.NewService(data, s.bcryptCost)

	var orderingOpts []ordering.Option
	if cfg.SerializeOrdering {
		orderingOpts = append(orderingOpts, ordering.WithSerializedGroups())
	}
	s.columns = ordering.New(data.ColumnGroups(), orderingOpts...)
	s.cards = ordering.New(data.CardGroups(), orderingOpts...)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Sessions

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, errUnauthenticated
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, errUnauthenticated
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.RandomToken(32)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Username,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and rejects revoked ones.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			log.WithError(err).Warn("revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			log.WithError(err).Warn("revoke refresh session")
		}
	}
}

// Access control

// boardFor loads a board and checks that userID may perform action on it.
func (s *Service) boardFor(ctx context.Context, boardID, userID string, action rbac.Action) (store.Board, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Board{}, notFoundError("Board not found")
	}
	if err != nil {
		return store.Board{}, err
	}
	role := rbac.RoleFor(board.OwnerID, board.Members, userID)
	if !rbac.Can(role, action) {
		switch {
		case role == rbac.RoleNone:
			return store.Board{}, forbidden("You are not a member of this board")
		case action == rbac.ActionLeave:
			return store.Board{}, forbidden("The board owner cannot leave the board")
		default:
			return store.Board{}, forbidden("Only the board owner can do that")
		}
	}
	return board, nil
}

func (s *Service) columnFor(ctx context.Context, columnID, userID string, action rbac.Action) (store.Column, store.Board, error) {
	column, err := s.store.GetColumn(ctx, columnID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Column{}, store.Board{}, notFoundError("Column not found")
	}
	if err != nil {
		return store.Column{}, store.Board{}, err
	}
	board, err := s.boardFor(ctx, column.BoardID, userID, action)
	if err != nil {
		return store.Column{}, store.Board{}, err
	}
	return column, board, nil
}

func (s *Service) cardFor(ctx context.Context, cardID, userID string, action rbac.Action) (store.Card, store.Board, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Card{}, store.Board{}, notFoundError("Card not found")
	}
	if err != nil {
		return store.Card{}, store.Board{}, err
	}
	board, err := s.boardFor(ctx, card.BoardID, userID, action)
	if err != nil {
		return store.Card{}, store.Board{}, err
	}
	return card, board, nil
}

// Post-commit side effects

func (s *Service) emitToBoard(boardID, event string, data any) {
	room := realtime.RoomForBoard(boardID)
	s.hooks.Dispatch(event, func(context.Context) error {
		s.emitter.EmitToRoom(room, event, data)
		return nil
	})
}

func (s *Service) indexCard(card store.Card) {
	if s.search == nil {
		return
	}
	record := search.CardRecord{
		ID:          card.ID,
		Title:       card.Title,
		Description: card.Description,
		BoardID:     card.BoardID,
		ColumnID:    card.ColumnID,
		IsDone:      card.IsDone,
	}
	s.hooks.Dispatch("search:index-card", func(ctx context.Context) error {
		return s.search.IndexCard(ctx, record)
	})
}

func (s *Service) unindex(name string, fn func(ctx context.Context) error) {
	if s.search == nil {
		return
	}
	s.hooks.Dispatch(name, fn)
}

func (s *Service) clientLink(path string) string {
	return s.cfg.ClientURL + path
}
