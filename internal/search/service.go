package search

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Index is the write side of the primary search backend.
type Index interface {
	Searcher
	IndexCards(cards []CardRecord) error
	DeleteCard(id string) error
	DeleteByFilter(filter string) error
}

// Loader provides every card for a full reindex.
type Loader interface {
	LoadAllCards(ctx context.Context) ([]CardRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	index    Index
	fallback Searcher
	loader   Loader
}

// NewService creates a search service. index may be nil if Meilisearch is
// not configured.
func NewService(index Index, fallback Searcher, loader Loader) *Service {
	return &Service{index: index, fallback: fallback, loader: loader}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries the index if healthy, otherwise falls back to PG FTS. Errors
// are logged and produce an empty response.
func (s *Service) Search(q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.WithError(err).Warn("search: meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.WithError(err).Error("search: pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCard adds or replaces one card. It is a no-op without a healthy index;
// Postgres keeps its own fts column current.
func (s *Service) IndexCard(_ context.Context, card CardRecord) error {
	if !s.indexReady() {
		return nil
	}
	if err := s.index.IndexCards([]CardRecord{card}); err != nil {
		return fmt.Errorf("index card %s: %w", card.ID, err)
	}
	return nil
}

func (s *Service) DeleteCard(_ context.Context, id string) error {
	if !s.indexReady() {
		return nil
	}
	if err := s.index.DeleteCard(id); err != nil {
		return fmt.Errorf("delete card %s: %w", id, err)
	}
	return nil
}

// DeleteColumn drops the cards of a deleted column.
func (s *Service) DeleteColumn(_ context.Context, columnID string) error {
	if !s.indexReady() {
		return nil
	}
	if err := s.index.DeleteByFilter(fmt.Sprintf("columnId = %q", columnID)); err != nil {
		return fmt.Errorf("delete column %s: %w", columnID, err)
	}
	return nil
}

// DeleteBoard drops the cards of a deleted board.
func (s *Service) DeleteBoard(_ context.Context, boardID string) error {
	if !s.indexReady() {
		return nil
	}
	if err := s.index.DeleteByFilter(fmt.Sprintf("boardId = %q", boardID)); err != nil {
		return fmt.Errorf("delete board %s: %w", boardID, err)
	}
	return nil
}

// ReindexAll reloads every card from Postgres into the index.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.indexReady() || s.loader == nil {
		return
	}
	cards, err := s.loader.LoadAllCards(ctx)
	if err != nil {
		log.WithError(err).Error("search: reindex load failed")
		return
	}
	if err := s.index.IndexCards(cards); err != nil {
		log.WithError(err).Error("search: reindex cards")
		return
	}
	log.WithField("cards", len(cards)).Info("search: reindexed cards")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
