package app

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskboard/api/internal/config"
	"taskboard/api/internal/hooks"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/store"
)

// memStore is an in-memory dataStore and sessionStore for service and HTTP
// tests.
type memStore struct {
	mu sync.Mutex

	users         map[string]store.User
	boards        map[string]store.Board
	columns       map[string]store.Column
	cards         map[string]store.Card
	activities    []store.Activity
	notifications []store.Notification
	invites       map[string]store.InviteToken
	resets        map[string]memReset
	refresh       map[string]string
	revoked       map[string]bool

	pingErr      error
	failSetOrder map[string]error
	seq          int
}

type memReset struct {
	userID    string
	expiresAt time.Time
	used      bool
}

func newMemStore() *memStore {
	return &memStore{
		users:        make(map[string]store.User),
		boards:       make(map[string]store.Board),
		columns:      make(map[string]store.Column),
		cards:        make(map[string]store.Card),
		invites:      make(map[string]store.InviteToken),
		resets:       make(map[string]memReset),
		refresh:      make(map[string]string),
		revoked:      make(map[string]bool),
		failSetOrder: make(map[string]error),
	}
}

// tick returns strictly increasing timestamps so ordering by creation time
// is deterministic.
func (m *memStore) tick() time.Time {
	m.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Second)
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

// Users

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return store.ErrEmailTaken
		}
		if strings.EqualFold(u.Username, user.Username) {
			return store.ErrUsernameTaken
		}
	}
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = m.tick()
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) ListUsers(context.Context) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *memStore) ListUsersByIDs(_ context.Context, ids []string) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) ListUsersNotInBoard(ctx context.Context, boardID string) ([]store.User, error) {
	board, err := m.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	all, _ := m.ListUsers(ctx)
	out := make([]store.User, 0)
	for _, u := range all {
		if u.ID != board.OwnerID && !containsID(board.Members, u.ID) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) UpdateUserProfile(_ context.Context, id, username, email, avatar string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	for _, other := range m.users {
		if other.ID == id {
			continue
		}
		if strings.EqualFold(other.Username, username) {
			return store.User{}, store.ErrUsernameTaken
		}
		if strings.EqualFold(other.Email, email) {
			return store.User{}, store.ErrEmailTaken
		}
	}
	u.Username, u.Email, u.Avatar = username, strings.ToLower(email), avatar
	m.users[id] = u
	return u, nil
}

func (m *memStore) UpdateUserPassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = hash
	m.users[id] = u
	return nil
}

func (m *memStore) UpdateUserVerificationToken(_ context.Context, id, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.VerificationToken = token
	u.VerificationExpiresAt = &expiresAt
	m.users[id] = u
	return nil
}

func (m *memStore) VerifyUserEmail(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if u.VerificationToken == token && u.VerificationExpiresAt != nil && u.VerificationExpiresAt.After(time.Now()) {
			u.IsEmailVerified = true
			u.VerificationToken = ""
			u.VerificationExpiresAt = nil
			m.users[id] = u
			return nil
		}
	}
	return store.ErrVerifyInvalid
}

func (m *memStore) CreatePasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[token] = memReset{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) ConsumePasswordReset(_ context.Context, token, hash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reset, ok := m.resets[token]
	if !ok || reset.used || !reset.expiresAt.After(time.Now()) {
		return "", store.ErrResetInvalid
	}
	reset.used = true
	m.resets[token] = reset
	u := m.users[reset.userID]
	u.PasswordHash = hash
	m.users[reset.userID] = u
	return reset.userID, nil
}

// Boards

func (m *memStore) CreateBoard(_ context.Context, board store.Board) (store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	board.Members = []string{board.OwnerID}
	board.CreatedAt = m.tick()
	board.UpdatedAt = board.CreatedAt
	m.boards[board.ID] = board
	return board, nil
}

func (m *memStore) GetBoard(_ context.Context, id string) (store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[id]
	if !ok {
		return store.Board{}, store.ErrNotFound
	}
	b.Members = append([]string(nil), b.Members...)
	return b, nil
}

func (m *memStore) ListBoardsForUser(_ context.Context, userID string) ([]store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Board, 0)
	for _, b := range m.boards {
		if b.OwnerID == userID || containsID(b.Members, userID) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) UpdateBoard(_ context.Context, id, title, description string) (store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[id]
	if !ok {
		return store.Board{}, store.ErrNotFound
	}
	b.Title, b.Description = title, description
	b.UpdatedAt = m.tick()
	m.boards[id] = b
	return b, nil
}

func (m *memStore) DeleteBoard(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.boards, id)
	for cid, c := range m.columns {
		if c.BoardID == id {
			delete(m.columns, cid)
		}
	}
	for cid, c := range m.cards {
		if c.BoardID == id {
			delete(m.cards, cid)
		}
	}
	kept := m.activities[:0]
	for _, a := range m.activities {
		if a.BoardID != id {
			kept = append(kept, a)
		}
	}
	m.activities = kept
	return nil
}

func (m *memStore) AddBoardMember(_ context.Context, boardID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[boardID]
	if !ok {
		return store.ErrNotFound
	}
	if containsID(b.Members, userID) {
		return store.ErrAlreadyMember
	}
	b.Members = append(b.Members, userID)
	m.boards[boardID] = b
	return nil
}

func (m *memStore) RemoveBoardMember(_ context.Context, boardID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[boardID]
	if !ok || !containsID(b.Members, userID) {
		return store.ErrNotFound
	}
	b.Members = removeID(b.Members, userID)
	m.boards[boardID] = b
	for id, c := range m.cards {
		if c.BoardID == boardID {
			c.Members = removeID(c.Members, userID)
			m.cards[id] = c
		}
	}
	return nil
}

func (m *memStore) CreateInvite(_ context.Context, invite store.InviteToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	invite.Email = strings.ToLower(invite.Email)
	m.invites[invite.Token] = invite
	return nil
}

func (m *memStore) GetInvite(_ context.Context, token string) (store.InviteToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invite, ok := m.invites[token]
	if !ok {
		return store.InviteToken{}, store.ErrNotFound
	}
	return invite, nil
}

func (m *memStore) AcceptInvite(_ context.Context, token, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invite, ok := m.invites[token]
	if !ok || invite.AcceptedAt != nil || !invite.ExpiresAt.After(time.Now()) {
		return "", store.ErrInviteInvalid
	}
	b := m.boards[invite.BoardID]
	if containsID(b.Members, userID) {
		return "", store.ErrAlreadyMember
	}
	now := time.Now()
	invite.AcceptedAt = &now
	invite.AcceptedBy = userID
	m.invites[token] = invite
	b.Members = append(b.Members, userID)
	m.boards[invite.BoardID] = b
	return invite.BoardID, nil
}

// Columns and cards

func (m *memStore) CreateColumn(_ context.Context, column store.Column) (store.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	column.CreatedAt = m.tick()
	column.UpdatedAt = column.CreatedAt
	column.UpdatedBy = column.CreatedBy
	m.columns[column.ID] = column
	return column, nil
}

func (m *memStore) GetColumn(_ context.Context, id string) (store.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.columns[id]
	if !ok {
		return store.Column{}, store.ErrNotFound
	}
	return c, nil
}

func (m *memStore) ListColumns(_ context.Context, boardID string) ([]store.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Column, 0)
	for _, c := range m.columns {
		if c.BoardID == boardID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memStore) UpdateColumn(_ context.Context, id, title, updatedBy string) (store.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.columns[id]
	if !ok {
		return store.Column{}, store.ErrNotFound
	}
	c.Title, c.UpdatedBy = title, updatedBy
	m.columns[id] = c
	return c, nil
}

func (m *memStore) DeleteColumn(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.columns[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.columns, id)
	for cid, c := range m.cards {
		if c.ColumnID == id {
			delete(m.cards, cid)
		}
	}
	return nil
}

func (m *memStore) CreateCard(_ context.Context, card store.Card) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if card.Members == nil {
		card.Members = []string{}
	}
	card.CreatedAt = m.tick()
	card.UpdatedAt = card.CreatedAt
	card.UpdatedBy = card.CreatedBy
	m.cards[card.ID] = card
	return card, nil
}

func (m *memStore) GetCard(_ context.Context, id string) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return store.Card{}, store.ErrNotFound
	}
	c.Members = append([]string{}, c.Members...)
	return c, nil
}

func (m *memStore) listCards(match func(store.Card) bool) []store.Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Card, 0)
	for _, c := range m.cards {
		if match(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *memStore) ListCardsByColumn(_ context.Context, columnID string) ([]store.Card, error) {
	return m.listCards(func(c store.Card) bool { return c.ColumnID == columnID }), nil
}

func (m *memStore) ListCardsByBoard(_ context.Context, boardID string) ([]store.Card, error) {
	return m.listCards(func(c store.Card) bool { return c.BoardID == boardID }), nil
}

func (m *memStore) ListCardsWithDeadlines(_ context.Context, userID string) ([]store.Card, error) {
	cards := m.listCards(func(c store.Card) bool { return c.Deadline != nil && containsID(c.Members, userID) })
	sort.Slice(cards, func(i, j int) bool { return cards[i].Deadline.Before(*cards[j].Deadline) })
	return cards, nil
}

func (m *memStore) UpdateCard(_ context.Context, card store.Card) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.cards[card.ID]
	if !ok {
		return store.Card{}, store.ErrNotFound
	}
	existing.Title = card.Title
	existing.Description = card.Description
	existing.Deadline = card.Deadline
	existing.IsDone = card.IsDone
	existing.UpdatedBy = card.UpdatedBy
	existing.UpdatedAt = m.tick()
	m.cards[card.ID] = existing
	return existing, nil
}

func (m *memStore) DeleteCard(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.cards, id)
	return nil
}

func (m *memStore) AddCardMember(_ context.Context, cardID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return store.ErrNotFound
	}
	if containsID(c.Members, userID) {
		return store.ErrAlreadyMember
	}
	c.Members = append(c.Members, userID)
	m.cards[cardID] = c
	return nil
}

func (m *memStore) RemoveCardMember(_ context.Context, cardID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok || !containsID(c.Members, userID) {
		return store.ErrNotFound
	}
	c.Members = removeID(c.Members, userID)
	m.cards[cardID] = c
	return nil
}

// Feed

func (m *memStore) InsertActivity(_ context.Context, a store.Activity) (store.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = m.tick()
	m.activities = append(m.activities, a)
	return a, nil
}

func (m *memStore) ListActivities(_ context.Context, boardID string, limit int) ([]store.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Activity, 0)
	for i := len(m.activities) - 1; i >= 0 && len(out) < limit; i-- {
		a := m.activities[i]
		if a.BoardID != boardID {
			continue
		}
		if u, ok := m.users[a.UserID]; ok {
			a.Username, a.Avatar = u.Username, u.Avatar
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memStore) ListActivitiesForUserSince(_ context.Context, userID string, since time.Time) ([]store.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Activity, 0)
	for _, a := range m.activities {
		b, ok := m.boards[a.BoardID]
		if !ok || a.CreatedAt.Before(since) {
			continue
		}
		if b.OwnerID == userID || containsID(b.Members, userID) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) InsertNotification(_ context.Context, n store.Notification) (store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.CreatedAt = m.tick()
	m.notifications = append(m.notifications, n)
	return n, nil
}

func (m *memStore) ListNotifications(_ context.Context, recipientID string, limit int) ([]store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Notification, 0)
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if m.notifications[i].RecipientID == recipientID {
			out = append(out, m.notifications[i])
		}
	}
	return out, nil
}

func (m *memStore) MarkNotificationRead(_ context.Context, id, recipientID string) (store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.notifications {
		if n.ID == id && n.RecipientID == recipientID {
			m.notifications[i].IsRead = true
			return m.notifications[i], nil
		}
	}
	return store.Notification{}, store.ErrNotFound
}

func (m *memStore) MarkAllNotificationsRead(_ context.Context, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.notifications {
		if m.notifications[i].RecipientID == recipientID && !m.notifications[i].IsRead {
			m.notifications[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteNotification(_ context.Context, id, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.notifications {
		if n.ID == id && n.RecipientID == recipientID {
			m.notifications = append(m.notifications[:i], m.notifications[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

// Sessions

func (m *memStore) SaveRefreshSession(_ context.Context, hash, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[hash] = userID
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, hash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.refresh[hash]
	if !ok {
		return "", store.ErrNotFound
	}
	return userID, nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, hash)
	return nil
}

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

// Ordering groups

func (m *memStore) ColumnGroups() ordering.GroupStore { return memGroups{m: m, cards: false} }
func (m *memStore) CardGroups() ordering.GroupStore   { return memGroups{m: m, cards: true} }

type memGroups struct {
	m     *memStore
	cards bool
}

func (g memGroups) GroupExists(_ context.Context, group string) (bool, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	if g.cards {
		_, ok := g.m.columns[group]
		return ok, nil
	}
	_, ok := g.m.boards[group]
	return ok, nil
}

func (g memGroups) Count(ctx context.Context, group string) (int, error) {
	items, err := g.ListOrdered(ctx, group)
	return len(items), err
}

func (g memGroups) ListOrdered(_ context.Context, group string) ([]ordering.Item, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	type row struct {
		item    ordering.Item
		created time.Time
	}
	rows := make([]row, 0)
	if g.cards {
		for _, c := range g.m.cards {
			if c.ColumnID == group {
				rows = append(rows, row{ordering.Item{ID: c.ID, Order: c.Order}, c.CreatedAt})
			}
		}
	} else {
		for _, c := range g.m.columns {
			if c.BoardID == group {
				rows = append(rows, row{ordering.Item{ID: c.ID, Order: c.Order}, c.CreatedAt})
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].item.Order != rows[j].item.Order {
			return rows[i].item.Order < rows[j].item.Order
		}
		return rows[i].created.Before(rows[j].created)
	})
	items := make([]ordering.Item, len(rows))
	for i, r := range rows {
		items[i] = r.item
	}
	return items, nil
}

func (g memGroups) SetOrder(_ context.Context, id string, order int) error {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	if err := g.m.failSetOrder[id]; err != nil {
		return err
	}
	if g.cards {
		c, ok := g.m.cards[id]
		if !ok {
			return store.ErrNotFound
		}
		c.Order = order
		g.m.cards[id] = c
		return nil
	}
	c, ok := g.m.columns[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Order = order
	g.m.columns[id] = c
	return nil
}

func (g memGroups) Place(_ context.Context, id, group string, order int) error {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	if g.cards {
		c, ok := g.m.cards[id]
		if !ok {
			return store.ErrNotFound
		}
		c.ColumnID, c.Order = group, order
		g.m.cards[id] = c
		return nil
	}
	c, ok := g.m.columns[id]
	if !ok {
		return store.ErrNotFound
	}
	c.BoardID, c.Order = group, order
	g.m.columns[id] = c
	return nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// emitted is one event captured by recordingEmitter.
type emitted struct {
	target string
	event  string
	data   any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) EmitToRoom(room, event string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{target: room, event: event, data: data})
}

func (e *recordingEmitter) EmitToUser(userID, event string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{target: "user:" + userID, event: event, data: data})
}

func (e *recordingEmitter) EmitGlobal(event string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{target: "*", event: event, data: data})
}

func (e *recordingEmitter) named(event string) []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]emitted, 0)
	for _, ev := range e.events {
		if ev.event == event {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		ClientURL:  "http://client.test",
		Env:        "test",
	}
}

type testEnv struct {
	store   *memStore
	emitter *recordingEmitter
	service *Service
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	ms := newMemStore()
	em := &recordingEmitter{}
	base := []Option{WithEmitter(em), WithHooks(hooks.Inline{Timeout: time.Second}), WithBcryptCost(bcrypt.MinCost)}
	svc := New(testConfig(), ms, append(base, opts...)...)
	return &testEnv{store: ms, emitter: em, service: svc}
}

// addUser creates a verified account directly in the store.
func (e *testEnv) addUser(t *testing.T, id, username string) store.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := store.User{
		ID:              id,
		Username:        username,
		Email:           username + "@example.com",
		PasswordHash:    string(hash),
		IsEmailVerified: true,
	}
	if err := e.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (e *testEnv) addBoard(t *testing.T, ownerID, title string, members ...string) BoardView {
	t.Helper()
	board, err := e.service.CreateBoard(context.Background(), ownerID, BoardInput{Title: title})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	for _, m := range members {
		if err := e.store.AddBoardMember(context.Background(), board.ID, m); err != nil {
			t.Fatalf("add member %s: %v", m, err)
		}
	}
	return board
}

func (e *testEnv) addColumn(t *testing.T, userID, boardID, title string) ColumnView {
	t.Helper()
	column, err := e.service.CreateColumn(context.Background(), userID, CreateColumnInput{BoardID: boardID, Title: title})
	if err != nil {
		t.Fatalf("create column: %v", err)
	}
	return column
}

func (e *testEnv) addCard(t *testing.T, userID, columnID, title string) CardView {
	t.Helper()
	card, err := e.service.CreateCard(context.Background(), userID, CreateCardInput{ColumnID: columnID, Title: title})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	return card
}
