package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/store"
)

// DataStore defines the reads an export needs.
type DataStore interface {
	GetBoard(ctx context.Context, boardID string) (store.Board, error)
	ListColumns(ctx context.Context, boardID string) ([]store.Column, error)
	ListCardsByBoard(ctx context.Context, boardID string) ([]store.Card, error)
	ListUsersByIDs(ctx context.Context, ids []string) ([]store.User, error)
}

// PDFRenderer turns an HTML page into a PDF document.
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

// Service provides board export functionality
type Service struct {
	store     DataStore
	renderPDF PDFRenderer
	now       func() time.Time
}

// NewService creates a new export service that prints PDFs with headless
// Chrome.
func NewService(store DataStore) *Service {
	return &Service{store: store, renderPDF: chromePDF, now: time.Now}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	data, err := s.load(ctx, req.BoardID)
	if err != nil {
		return nil, err
	}

	html, err := RenderBoardHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(data.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		pdf, err := s.renderPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{"board_id": req.BoardID, "bytes": len(pdf)}).Info("export: pdf generated")
		return &Result{
			Data:     pdf,
			Filename: sanitizeFilename(data.Title) + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func (s *Service) load(ctx context.Context, boardID string) (TemplateData, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return TemplateData{}, fmt.Errorf("get board: %w", err)
	}
	columns, err := s.store.ListColumns(ctx, boardID)
	if err != nil {
		return TemplateData{}, fmt.Errorf("list columns: %w", err)
	}
	cards, err := s.store.ListCardsByBoard(ctx, boardID)
	if err != nil {
		return TemplateData{}, fmt.Errorf("list cards: %w", err)
	}

	ids := append([]string{board.OwnerID}, board.Members...)
	users, err := s.store.ListUsersByIDs(ctx, ids)
	if err != nil {
		return TemplateData{}, fmt.Errorf("list users: %w", err)
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}
	nameOf := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}

	data := TemplateData{
		Title:       board.Title,
		Description: board.Description,
		Owner:       nameOf(board.OwnerID),
		GeneratedAt: s.now(),
	}
	for _, id := range board.Members {
		if id != board.OwnerID {
			data.Members = append(data.Members, nameOf(id))
		}
	}

	sort.SliceStable(columns, func(i, j int) bool { return columns[i].Order < columns[j].Order })
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].Order < cards[j].Order })

	byColumn := make(map[string][]TemplateCard, len(columns))
	for _, c := range cards {
		card := TemplateCard{
			Title:       c.Title,
			Description: c.Description,
			Deadline:    c.Deadline,
			IsDone:      c.IsDone,
		}
		for _, m := range c.Members {
			card.Members = append(card.Members, nameOf(m))
		}
		byColumn[c.ColumnID] = append(byColumn[c.ColumnID], card)
	}
	for _, col := range columns {
		data.Columns = append(data.Columns, TemplateColumn{Title: col.Title, Cards: byColumn[col.ID]})
	}
	return data, nil
}
