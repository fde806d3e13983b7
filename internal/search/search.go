// Package search finds cards by title and description. Meilisearch is used
// when it is configured and reachable; Postgres full-text search covers the
// rest.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	BoardID  string `json:"boardId"`
	ColumnID string `json:"columnId"`
	IsDone   bool   `json:"isDone"`
}

// Query describes a search request. BoardIDs restricts hits to the boards the
// caller can read; an empty list matches nothing.
type Query struct {
	Text     string
	BoardIDs []string
	BoardID  string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// CardRecord is the data we index for a card.
type CardRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	BoardID     string `json:"boardId"`
	ColumnID    string `json:"columnId"`
	IsDone      bool   `json:"isDone"`
}

// scope returns the board ids a query may see, narrowed by the optional
// single-board filter.
func (q Query) scope() []string {
	if q.BoardID == "" {
		return q.BoardIDs
	}
	for _, id := range q.BoardIDs {
		if id == q.BoardID {
			return []string{id}
		}
	}
	return nil
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}
