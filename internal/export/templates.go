package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var boardTemplate = template.Must(
	template.New("board.html").Funcs(template.FuncMap{
		"join": strings.Join,
		"formatDate": func(t any, layout string) string {
			switch v := t.(type) {
			case time.Time:
				return v.UTC().Format(layout)
			case *time.Time:
				if v == nil {
					return ""
				}
				return v.UTC().Format(layout)
			default:
				return ""
			}
		},
	}).ParseFS(templateFS, "templates/board.html"),
)

// TemplateData holds data for board template rendering
type TemplateData struct {
	Title       string
	Description string
	Owner       string
	Members     []string
	GeneratedAt time.Time
	Columns     []TemplateColumn
}

// TemplateColumn holds one column and its cards in order.
type TemplateColumn struct {
	Title string
	Cards []TemplateCard
}

// TemplateCard holds card data for the template
type TemplateCard struct {
	Title       string
	Description string
	Deadline    *time.Time
	IsDone      bool
	Members     []string
}

// RenderBoardHTML renders the board template with provided data
func RenderBoardHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := boardTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
