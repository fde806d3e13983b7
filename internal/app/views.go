package app

import (
	"context"
	"time"

	"taskboard/api/internal/store"
)

type UserView struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	Avatar          string    `json:"avatar"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	CreatedAt       time.Time `json:"createdAt"`
}

// UserRef is the resolved form of a user id inside boards, cards and
// activities.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar"`
}

type BoardView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Owner       UserRef   `json:"owner"`
	Members     []UserRef `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ColumnView struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Title     string    `json:"title"`
	Order     int       `json:"order"`
	CreatedBy *UserRef  `json:"createdBy,omitempty"`
	UpdatedBy *UserRef  `json:"updatedBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CardView struct {
	ID          string     `json:"id"`
	BoardID     string     `json:"boardId"`
	ColumnID    string     `json:"columnId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Deadline    *time.Time `json:"deadline"`
	IsDone      bool       `json:"isDone"`
	Order       int        `json:"order"`
	Members     []UserRef  `json:"members"`
	CreatedBy   *UserRef   `json:"createdBy,omitempty"`
	UpdatedBy   *UserRef   `json:"updatedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type ActivityView struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	User      UserRef   `json:"user"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}

type NotificationView struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId,omitempty"`
	BoardID   string    `json:"boardId,omitempty"`
	CardID    string    `json:"cardId,omitempty"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// BoardCardsView groups a board's cards under its columns, both by order.
type BoardCardsView struct {
	BoardID string             `json:"boardId"`
	Columns []ColumnCardsGroup `json:"columns"`
}

type ColumnCardsGroup struct {
	ColumnID string     `json:"columnId"`
	Title    string     `json:"title"`
	Order    int        `json:"order"`
	Cards    []CardView `json:"cards"`
}

func userView(u store.User) UserView {
	return UserView{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		Avatar:          u.Avatar,
		IsEmailVerified: u.IsEmailVerified,
		CreatedAt:       u.CreatedAt,
	}
}

func userRef(u store.User) UserRef {
	return UserRef{ID: u.ID, Username: u.Username, Email: u.Email, Avatar: u.Avatar}
}

func notificationView(n store.Notification) NotificationView {
	return NotificationView{
		ID:        n.ID,
		SenderID:  n.SenderID,
		BoardID:   n.BoardID,
		CardID:    n.CardID,
		Type:      n.Type,
		Message:   n.Message,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func activityView(a store.Activity) ActivityView {
	return ActivityView{
		ID:        a.ID,
		BoardID:   a.BoardID,
		User:      UserRef{ID: a.UserID, Username: a.Username, Avatar: a.Avatar},
		Action:    a.Action,
		Detail:    a.Detail,
		CreatedAt: a.CreatedAt,
	}
}

// userIndex resolves user ids to display fields with one store round trip.
type userIndex map[string]store.User

func (s *Service) loadUsers(ctx context.Context, ids ...[]string) (userIndex, error) {
	seen := make(map[string]bool)
	unique := make([]string, 0)
	for _, group := range ids {
		for _, id := range group {
			if id != "" && !seen[id] {
				seen[id] = true
				unique = append(unique, id)
			}
		}
	}
	index := make(userIndex, len(unique))
	if len(unique) == 0 {
		return index, nil
	}
	users, err := s.store.ListUsersByIDs(ctx, unique)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		index[u.ID] = u
	}
	return index, nil
}

func (idx userIndex) ref(id string) UserRef {
	if u, ok := idx[id]; ok {
		return userRef(u)
	}
	return UserRef{ID: id}
}

func (idx userIndex) refPtr(id string) *UserRef {
	if id == "" {
		return nil
	}
	ref := idx.ref(id)
	return &ref
}

func (idx userIndex) refs(ids []string) []UserRef {
	out := make([]UserRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, idx.ref(id))
	}
	return out
}

func (idx userIndex) board(b store.Board) BoardView {
	members := make([]string, 0, len(b.Members))
	for _, id := range b.Members {
		if id != b.OwnerID {
			members = append(members, id)
		}
	}
	return BoardView{
		ID:          b.ID,
		Title:       b.Title,
		Description: b.Description,
		Owner:       idx.ref(b.OwnerID),
		Members:     idx.refs(append([]string{b.OwnerID}, members...)),
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func (idx userIndex) column(c store.Column) ColumnView {
	return ColumnView{
		ID:        c.ID,
		BoardID:   c.BoardID,
		Title:     c.Title,
		Order:     c.Order,
		CreatedBy: idx.refPtr(c.CreatedBy),
		UpdatedBy: idx.refPtr(c.UpdatedBy),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// columnViews resolves the authors of every column with one user lookup.
func (s *Service) columnViews(ctx context.Context, columns []store.Column) ([]ColumnView, error) {
	ids := make([]string, 0, 2*len(columns))
	for _, c := range columns {
		ids = append(ids, c.CreatedBy, c.UpdatedBy)
	}
	idx, err := s.loadUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]ColumnView, 0, len(columns))
	for _, c := range columns {
		out = append(out, idx.column(c))
	}
	return out, nil
}

func (idx userIndex) card(c store.Card) CardView {
	return CardView{
		ID:          c.ID,
		BoardID:     c.BoardID,
		ColumnID:    c.ColumnID,
		Title:       c.Title,
		Description: c.Description,
		Deadline:    c.Deadline,
		IsDone:      c.IsDone,
		Order:       c.Order,
		Members:     idx.refs(c.Members),
		CreatedBy:   idx.refPtr(c.CreatedBy),
		UpdatedBy:   idx.refPtr(c.UpdatedBy),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func (s *Service) boardView(ctx context.Context, b store.Board) (BoardView, error) {
	idx, err := s.loadUsers(ctx, []string{b.OwnerID}, b.Members)
	if err != nil {
		return BoardView{}, err
	}
	return idx.board(b), nil
}

func (s *Service) cardView(ctx context.Context, c store.Card) (CardView, error) {
	idx, err := s.loadUsers(ctx, c.Members, []string{c.CreatedBy, c.UpdatedBy})
	if err != nil {
		return CardView{}, err
	}
	return idx.card(c), nil
}
