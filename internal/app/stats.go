package app

import (
	"context"
	"math"
	"slices"
	"time"
)

const activityStatsDays = 7

type BoardStatsView struct {
	Overall OverallStats `json:"overall"`
	Boards  []BoardStats `json:"boards"`
}

type OverallStats struct {
	TotalBoards           int `json:"totalBoards"`
	TotalCards            int `json:"totalCards"`
	TotalCompleted        int `json:"totalCompleted"`
	OverallCompletionRate int `json:"overallCompletionRate"`
}

type BoardStats struct {
	BoardID        string                 `json:"boardId"`
	BoardTitle     string                 `json:"boardTitle"`
	TotalCards     int                    `json:"totalCards"`
	CompletedCards int                    `json:"completedCards"`
	CompletionRate int                    `json:"completionRate"`
	CardsByColumn  map[string]ColumnStats `json:"cardsByColumn"`
	ColumnCount    int                    `json:"columnCount"`
	MemberCount    int                    `json:"memberCount"`
}

type ColumnStats struct {
	Total        int `json:"total"`
	Completed    int `json:"completed"`
	NotCompleted int `json:"notCompleted"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type DeadlineCard struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Deadline     *time.Time `json:"deadline"`
	IsCompleted  bool       `json:"isCompleted"`
	IsNotStarted bool       `json:"isNotStarted"`
	BoardTitle   string     `json:"boardTitle"`
	BoardID      string     `json:"boardId"`
}

// BoardStats counts the cards assigned to the caller on every board they
// own or belong to.
func (s *Service) BoardStats(ctx context.Context, userID string) (BoardStatsView, error) {
	boards, err := s.store.ListBoardsForUser(ctx, userID)
	if err != nil {
		return BoardStatsView{}, err
	}

	out := BoardStatsView{Boards: make([]BoardStats, 0, len(boards))}
	for _, board := range boards {
		columns, err := s.store.ListColumns(ctx, board.ID)
		if err != nil {
			return BoardStatsView{}, err
		}
		cards, err := s.store.ListCardsByBoard(ctx, board.ID)
		if err != nil {
			return BoardStatsView{}, err
		}

		stats := BoardStats{
			BoardID:       board.ID,
			BoardTitle:    board.Title,
			CardsByColumn: make(map[string]ColumnStats, len(columns)),
			ColumnCount:   len(columns),
			MemberCount:   memberCount(board.OwnerID, board.Members),
		}
		perColumn := make(map[string]ColumnStats, len(columns))
		for _, card := range cards {
			if !slices.Contains(card.Members, userID) {
				continue
			}
			stats.TotalCards++
			col := perColumn[card.ColumnID]
			col.Total++
			if card.IsDone {
				stats.CompletedCards++
				col.Completed++
			} else {
				col.NotCompleted++
			}
			perColumn[card.ColumnID] = col
		}
		for _, column := range columns {
			stats.CardsByColumn[column.Title] = perColumn[column.ID]
		}
		stats.CompletionRate = percent(stats.CompletedCards, stats.TotalCards)

		out.Overall.TotalCards += stats.TotalCards
		out.Overall.TotalCompleted += stats.CompletedCards
		out.Boards = append(out.Boards, stats)
	}
	out.Overall.TotalBoards = len(boards)
	out.Overall.OverallCompletionRate = percent(out.Overall.TotalCompleted, out.Overall.TotalCards)
	return out, nil
}

// ActivityStats returns one entry per UTC day for the last seven days,
// oldest first, counting activity on the caller's boards.
func (s *Service) ActivityStats(ctx context.Context, userID string) ([]DayCount, error) {
	today := s.now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(activityStatsDays - 1))

	entries, err := s.store.ListActivitiesForUserSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, activityStatsDays)
	for _, entry := range entries {
		counts[entry.CreatedAt.UTC().Format(time.DateOnly)]++
	}

	days := make([]DayCount, 0, activityStatsDays)
	for i := 0; i < activityStatsDays; i++ {
		date := since.AddDate(0, 0, i).Format(time.DateOnly)
		days = append(days, DayCount{Date: date, Count: counts[date]})
	}
	return days, nil
}

func (s *Service) CardsWithDeadlines(ctx context.Context, userID string) ([]DeadlineCard, error) {
	cards, err := s.store.ListCardsWithDeadlines(ctx, userID)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]string)
	out := make([]DeadlineCard, 0, len(cards))
	for _, card := range cards {
		title, ok := titles[card.BoardID]
		if !ok {
			if board, err := s.store.GetBoard(ctx, card.BoardID); err == nil {
				title = board.Title
			}
			titles[card.BoardID] = title
		}
		out = append(out, DeadlineCard{
			ID:           card.ID,
			Title:        card.Title,
			Deadline:     card.Deadline,
			IsCompleted:  card.IsDone,
			IsNotStarted: !card.IsDone,
			BoardTitle:   title,
			BoardID:      card.BoardID,
		})
	}
	return out, nil
}

func memberCount(ownerID string, members []string) int {
	unique := map[string]bool{ownerID: true}
	for _, m := range members {
		unique[m] = true
	}
	return len(unique)
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}
