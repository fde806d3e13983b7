package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"taskboard/api/internal/rbac"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type CreateCardInput struct {
	ColumnID    string     `json:"columnId" validate:"required"`
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=5000"`
	Deadline    *time.Time `json:"deadline"`
}

// OptionalTime tells an absent JSON field apart from an explicit null.
type OptionalTime struct {
	Set   bool
	Value *time.Time
}

func (o *OptionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	o.Value = &t
	return nil
}

// UpdateCardInput changes only the fields present in the request.
type UpdateCardInput struct {
	Title       *string      `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string      `json:"description" validate:"omitempty,max=5000"`
	Deadline    OptionalTime `json:"deadline"`
	IsDone      *bool        `json:"isDone"`
}

type MoveCardInput struct {
	ToColumn string `json:"toColumn" validate:"required"`
	NewOrder *int   `json:"newOrder" validate:"omitempty,gte=0"`
}

type ReorderCardsInput struct {
	ColumnID string   `json:"columnId" validate:"required"`
	CardIDs  []string `json:"orderedCardIds" validate:"required,unique"`
}

// CardMoveView is the card:moved payload.
type CardMoveView struct {
	Card         CardView     `json:"card"`
	FromColumnID string       `json:"fromColumnId"`
	ToColumnID   string       `json:"toColumnId"`
	Compacted    []OrderWrite `json:"compacted"`
}

type OrderWrite struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// CreateCard appends a card at the end of its column.
func (s *Service) CreateCard(ctx context.Context, userID string, in CreateCardInput) (CardView, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Validate(in); err != nil {
		return CardView{}, err
	}
	column, _, err := s.columnFor(ctx, in.ColumnID, userID, rbac.ActionWrite)
	if err != nil {
		return CardView{}, err
	}

	var created store.Card
	_, err = s.cards.Append(ctx, column.ID, func(ctx context.Context, order int) error {
		card, err := s.store.CreateCard(ctx, store.Card{
			ID:          util.NewID("crd"),
			BoardID:     column.BoardID,
			ColumnID:    column.ID,
			Title:       in.Title,
			Description: in.Description,
			Deadline:    in.Deadline,
			Order:       order,
			CreatedBy:   userID,
		})
		created = card
		return err
	})
	if err != nil {
		return CardView{}, err
	}

	view, err := s.cardView(ctx, created)
	if err != nil {
		return CardView{}, err
	}
	s.record(ctx, column.BoardID, userID, store.ActionCreateCard, fmt.Sprintf("Created card %q", created.Title))
	s.emitToBoard(column.BoardID, realtime.EventCardCreated, map[string]any{"card": view})
	s.indexCard(created)
	return view, nil
}

func (s *Service) ListCardsByColumn(ctx context.Context, columnID, userID string) ([]CardView, error) {
	if _, _, err := s.columnFor(ctx, columnID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	cards, err := s.store.ListCardsByColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	return s.cardViews(ctx, cards)
}

// BoardCards returns every column of the board with its cards, both by order.
func (s *Service) BoardCards(ctx context.Context, boardID, userID string) (BoardCardsView, error) {
	if _, err := s.boardFor(ctx, boardID, userID, rbac.ActionRead); err != nil {
		return BoardCardsView{}, err
	}
	columns, err := s.store.ListColumns(ctx, boardID)
	if err != nil {
		return BoardCardsView{}, err
	}
	cards, err := s.store.ListCardsByBoard(ctx, boardID)
	if err != nil {
		return BoardCardsView{}, err
	}
	views, err := s.cardViews(ctx, cards)
	if err != nil {
		return BoardCardsView{}, err
	}

	byColumn := make(map[string][]CardView, len(columns))
	for _, card := range views {
		byColumn[card.ColumnID] = append(byColumn[card.ColumnID], card)
	}
	out := BoardCardsView{BoardID: boardID, Columns: make([]ColumnCardsGroup, 0, len(columns))}
	for _, c := range columns {
		grouped := byColumn[c.ID]
		if grouped == nil {
			grouped = []CardView{}
		}
		out.Columns = append(out.Columns, ColumnCardsGroup{ColumnID: c.ID, Title: c.Title, Order: c.Order, Cards: grouped})
	}
	return out, nil
}

func (s *Service) GetCard(ctx context.Context, cardID, userID string) (CardView, error) {
	card, _, err := s.cardFor(ctx, cardID, userID, rbac.ActionRead)
	if err != nil {
		return CardView{}, err
	}
	return s.cardView(ctx, card)
}

func (s *Service) UpdateCard(ctx context.Context, cardID, userID string, in UpdateCardInput) (CardView, error) {
	if in.Title != nil {
		trimmed := strings.TrimSpace(*in.Title)
		in.Title = &trimmed
	}
	if err := s.validate.Validate(in); err != nil {
		return CardView{}, err
	}
	card, _, err := s.cardFor(ctx, cardID, userID, rbac.ActionWrite)
	if err != nil {
		return CardView{}, err
	}

	if in.Title != nil {
		card.Title = *in.Title
	}
	if in.Description != nil {
		card.Description = *in.Description
	}
	if in.Deadline.Set {
		card.Deadline = in.Deadline.Value
	}
	if in.IsDone != nil {
		card.IsDone = *in.IsDone
	}
	card.UpdatedBy = userID

	updated, err := s.store.UpdateCard(ctx, card)
	if err != nil {
		return CardView{}, err
	}
	view, err := s.cardView(ctx, updated)
	if err != nil {
		return CardView{}, err
	}
	s.record(ctx, updated.BoardID, userID, store.ActionUpdateCard, fmt.Sprintf("Updated card %q", updated.Title))
	s.emitToBoard(updated.BoardID, realtime.EventCardUpdated, map[string]any{"card": view})
	s.indexCard(updated)
	return view, nil
}

// DeleteCard removes the card. Its siblings keep their orders.
func (s *Service) DeleteCard(ctx context.Context, cardID, userID string) error {
	card, _, err := s.cardFor(ctx, cardID, userID, rbac.ActionWrite)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCard(ctx, cardID); err != nil {
		return err
	}
	s.record(ctx, card.BoardID, userID, store.ActionDeleteCard, fmt.Sprintf("Deleted card %q", card.Title))
	s.emitToBoard(card.BoardID, realtime.EventCardDeleted, map[string]any{"cardId": cardID, "columnId": card.ColumnID})
	s.unindex("search:delete-card", func(ctx context.Context) error {
		return s.search.DeleteCard(ctx, cardID)
	})
	return nil
}

// MoveCard places the card into toColumn at newOrder, or at the end when
// newOrder is omitted. A cross-column move compacts the source column only.
func (s *Service) MoveCard(ctx context.Context, cardID, userID string, in MoveCardInput) (CardMoveView, error) {
	if err := s.validate.Validate(in); err != nil {
		return CardMoveView{}, err
	}
	card, _, err := s.cardFor(ctx, cardID, userID, rbac.ActionWrite)
	if err != nil {
		return CardMoveView{}, err
	}
	target, err := s.store.GetColumn(ctx, in.ToColumn)
	if errors.Is(err, store.ErrNotFound) {
		return CardMoveView{}, notFoundError("Column not found")
	}
	if err != nil {
		return CardMoveView{}, err
	}
	if target.BoardID != card.BoardID {
		return CardMoveView{}, invalidArgument("Cards can only move between columns of the same board")
	}

	result, err := s.cards.Move(ctx, cardID, card.ColumnID, target.ID, in.NewOrder)
	if err != nil {
		return CardMoveView{}, err
	}

	moved, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return CardMoveView{}, err
	}
	moved.UpdatedBy = userID
	if moved, err = s.store.UpdateCard(ctx, moved); err != nil {
		return CardMoveView{}, err
	}
	view, err := s.cardView(ctx, moved)
	if err != nil {
		return CardMoveView{}, err
	}

	compacted := make([]OrderWrite, 0, len(result.Compacted))
	for _, w := range result.Compacted {
		compacted = append(compacted, OrderWrite{ID: w.ID, Order: w.Order})
	}
	payload := CardMoveView{Card: view, FromColumnID: card.ColumnID, ToColumnID: target.ID, Compacted: compacted}

	s.record(ctx, card.BoardID, userID, store.ActionMoveCard, fmt.Sprintf("Moved card %q to column %q", moved.Title, target.Title))
	s.emitToBoard(card.BoardID, realtime.EventCardMoved, payload)
	s.indexCard(moved)
	return payload, nil
}

// ReorderCards assigns order = position to every listed card of the column.
func (s *Service) ReorderCards(ctx context.Context, userID string, in ReorderCardsInput) error {
	if err := s.validate.Validate(in); err != nil {
		return err
	}
	column, _, err := s.columnFor(ctx, in.ColumnID, userID, rbac.ActionWrite)
	if err != nil {
		return err
	}
	if _, err := s.cards.Reorder(ctx, column.ID, in.CardIDs); err != nil {
		return err
	}
	s.record(ctx, column.BoardID, userID, store.ActionReorderCards, fmt.Sprintf("Reordered cards in column %q", column.Title))
	s.emitToBoard(column.BoardID, realtime.EventCardsReorder, map[string]any{
		"columnId":       column.ID,
		"orderedCardIds": in.CardIDs,
	})
	return nil
}

// AddCardMember assigns a board member to the card.
func (s *Service) AddCardMember(ctx context.Context, cardID, userID string, in AddMemberInput) (CardView, error) {
	if err := s.validate.Validate(in); err != nil {
		return CardView{}, err
	}
	card, board, err := s.cardFor(ctx, cardID, userID, rbac.ActionWrite)
	if err != nil {
		return CardView{}, err
	}
	target, err := s.lookupUser(ctx, in)
	if err != nil {
		return CardView{}, err
	}
	if !rbac.IsMember(board.OwnerID, board.Members, target.ID) {
		return CardView{}, invalidArgument("User is not in this board")
	}
	if err := s.store.AddCardMember(ctx, cardID, target.ID); err != nil {
		return CardView{}, err
	}
	view, err := s.reloadCard(ctx, cardID)
	if err != nil {
		return CardView{}, err
	}

	s.record(ctx, card.BoardID, userID, store.ActionUpdateCard, fmt.Sprintf("Added member %s to card %q", target.Username, card.Title))
	s.emitToBoard(card.BoardID, realtime.EventCardUpdated, map[string]any{"card": view})
	s.notifyAfterCommit(store.Notification{
		RecipientID: target.ID,
		SenderID:    userID,
		BoardID:     card.BoardID,
		CardID:      cardID,
		Type:        store.NotifyAssignedToCard,
		Message:     fmt.Sprintf("You were added to card %q in board %q", card.Title, board.Title),
	})
	return view, nil
}

func (s *Service) RemoveCardMember(ctx context.Context, cardID, userID, memberID string) (CardView, error) {
	card, board, err := s.cardFor(ctx, cardID, userID, rbac.ActionWrite)
	if err != nil {
		return CardView{}, err
	}
	err = s.store.RemoveCardMember(ctx, cardID, memberID)
	if errors.Is(err, store.ErrNotFound) {
		return CardView{}, notFoundError("User is not assigned to this card")
	}
	if err != nil {
		return CardView{}, err
	}
	view, err := s.reloadCard(ctx, cardID)
	if err != nil {
		return CardView{}, err
	}
	name := memberID
	if member, err := s.store.GetUserByID(ctx, memberID); err == nil {
		name = member.Username
	}

	s.record(ctx, card.BoardID, userID, store.ActionUpdateCard, fmt.Sprintf("Removed member %s from card %q", name, card.Title))
	s.emitToBoard(card.BoardID, realtime.EventCardUpdated, map[string]any{"card": view})
	s.notifyAfterCommit(store.Notification{
		RecipientID: memberID,
		SenderID:    userID,
		BoardID:     card.BoardID,
		CardID:      cardID,
		Type:        store.NotifyRemovedFromCard,
		Message:     fmt.Sprintf("You were removed from card %q in board %q", card.Title, board.Title),
	})
	return view, nil
}

func (s *Service) reloadCard(ctx context.Context, cardID string) (CardView, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return CardView{}, err
	}
	return s.cardView(ctx, card)
}

func (s *Service) cardViews(ctx context.Context, cards []store.Card) ([]CardView, error) {
	ids := make([][]string, 0, len(cards)*2)
	for _, c := range cards {
		ids = append(ids, c.Members, []string{c.CreatedBy, c.UpdatedBy})
	}
	idx, err := s.loadUsers(ctx, ids...)
	if err != nil {
		return nil, err
	}
	out := make([]CardView, 0, len(cards))
	for _, c := range cards {
		out = append(out, idx.card(c))
	}
	return out, nil
}

// SearchCards looks for text in the cards of every board the caller can
// read, optionally narrowed to one board.
func (s *Service) SearchCards(ctx context.Context, userID, text, boardID string, limit, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	boards, err := s.store.ListBoardsForUser(ctx, userID)
	if err != nil {
		return search.Response{}, err
	}
	ids := make([]string, 0, len(boards))
	for _, b := range boards {
		ids = append(ids, b.ID)
	}
	return s.search.Search(search.Query{
		Text:     text,
		BoardIDs: ids,
		BoardID:  boardID,
		Limit:    limit,
		Offset:   offset,
	}), nil
}
