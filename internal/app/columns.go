package app

import (
	"context"
	"fmt"
	"strings"

	"taskboard/api/internal/rbac"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type CreateColumnInput struct {
	BoardID string `json:"boardId" validate:"required"`
	Title   string `json:"title" validate:"required,max=200"`
}

type UpdateColumnInput struct {
	Title string `json:"title" validate:"required,max=200"`
}

type ReorderColumnsInput struct {
	BoardID   string   `json:"boardId" validate:"required"`
	ColumnIDs []string `json:"reorderedColumnIds" validate:"required,unique"`
}

// CreateColumn appends a column at the end of the board.
func (s *Service) CreateColumn(ctx context.Context, userID string, in CreateColumnInput) (ColumnView, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Validate(in); err != nil {
		return ColumnView{}, err
	}
	if _, err := s.boardFor(ctx, in.BoardID, userID, rbac.ActionWrite); err != nil {
		return ColumnView{}, err
	}

	var created store.Column
	_, err := s.columns.Append(ctx, in.BoardID, func(ctx context.Context, order int) error {
		column, err := s.store.CreateColumn(ctx, store.Column{
			ID:        util.NewID("col"),
			BoardID:   in.BoardID,
			Title:     in.Title,
			Order:     order,
			CreatedBy: userID,
		})
		created = column
		return err
	})
	if err != nil {
		return ColumnView{}, err
	}

	views, err := s.columnViews(ctx, []store.Column{created})
	if err != nil {
		return ColumnView{}, err
	}
	view := views[0]
	s.record(ctx, in.BoardID, userID, store.ActionCreateColumn, fmt.Sprintf("Created column %q", created.Title))
	s.emitToBoard(in.BoardID, realtime.EventColumnCreated, map[string]any{"column": view})
	return view, nil
}

func (s *Service) ListColumns(ctx context.Context, boardID, userID string) ([]ColumnView, error) {
	if _, err := s.boardFor(ctx, boardID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	columns, err := s.store.ListColumns(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return s.columnViews(ctx, columns)
}

func (s *Service) UpdateColumn(ctx context.Context, columnID, userID string, in UpdateColumnInput) (ColumnView, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Validate(in); err != nil {
		return ColumnView{}, err
	}
	column, _, err := s.columnFor(ctx, columnID, userID, rbac.ActionWrite)
	if err != nil {
		return ColumnView{}, err
	}
	updated, err := s.store.UpdateColumn(ctx, columnID, in.Title, userID)
	if err != nil {
		return ColumnView{}, err
	}

	views, err := s.columnViews(ctx, []store.Column{updated})
	if err != nil {
		return ColumnView{}, err
	}
	view := views[0]
	s.record(ctx, column.BoardID, userID, store.ActionUpdateColumn, fmt.Sprintf("Updated column to %q", updated.Title))
	s.emitToBoard(column.BoardID, realtime.EventColumnUpdated, map[string]any{"column": view})
	return view, nil
}

// DeleteColumn removes the column and its cards. Sibling orders keep their
// gap until the next reorder.
func (s *Service) DeleteColumn(ctx context.Context, columnID, userID string) error {
	column, _, err := s.columnFor(ctx, columnID, userID, rbac.ActionWrite)
	if err != nil {
		return err
	}
	if err := s.store.DeleteColumn(ctx, columnID); err != nil {
		return err
	}

	s.record(ctx, column.BoardID, userID, store.ActionDeleteColumn, fmt.Sprintf("Deleted column %q", column.Title))
	s.emitToBoard(column.BoardID, realtime.EventColumnDeleted, map[string]any{"columnId": columnID, "boardId": column.BoardID})
	s.unindex("search:delete-column", func(ctx context.Context) error {
		return s.search.DeleteColumn(ctx, columnID)
	})
	return nil
}

// ReorderColumns assigns order = position to every listed column.
func (s *Service) ReorderColumns(ctx context.Context, userID string, in ReorderColumnsInput) error {
	if err := s.validate.Validate(in); err != nil {
		return err
	}
	if _, err := s.boardFor(ctx, in.BoardID, userID, rbac.ActionWrite); err != nil {
		return err
	}
	if _, err := s.columns.Reorder(ctx, in.BoardID, in.ColumnIDs); err != nil {
		return err
	}

	s.record(ctx, in.BoardID, userID, store.ActionReorderColumns, "Reordered columns")
	s.emitToBoard(in.BoardID, realtime.EventColumnsReorder, map[string]any{
		"boardId":            in.BoardID,
		"reorderedColumnIds": in.ColumnIDs,
	})
	return nil
}
