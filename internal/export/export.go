// Package export renders a room's section mapping into a standalone HTML
// report artifact for download.
package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/Maheshnath09/duoreport/internal/document"
)

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>DuoReport {{.RoomID}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; color: #374151; margin: 2em auto; max-width: 46em; }
h1 { text-align: center; color: #1a1a1a; }
h2 { color: #2563eb; }
.meta { text-align: center; color: #6b7280; }
.empty { font-style: italic; }
</style>
</head>
<body>
<h1>DuoReport</h1>
<p class="meta">Room ID: {{.RoomID}}</p>
<p class="meta">Generated: {{.Generated}}</p>
{{range .Sections}}<h2>{{.Title}}</h2>
{{if .Content}}<p>{{.Content}}</p>{{else}}<p class="empty">No content</p>{{end}}
{{end}}</body>
</html>
`))

type reportSection struct {
	Title   string
	Content string
}

type reportData struct {
	RoomID    string
	Generated string
	Sections  []reportSection
}

// Render produces the report artifact for a section mapping. Sections
// appear in template order; markup inside section values is stripped so
// the artifact holds plain text.
func Render(roomID string, sections map[string]string) ([]byte, error) {
	data := reportData{
		RoomID:    roomID,
		Generated: time.Now().Format("2006-01-02 15:04:05"),
	}
	for _, name := range document.SectionNames() {
		data.Sections = append(data.Sections, reportSection{
			Title:   document.Title(name),
			Content: document.StripTags(sections[name]),
		})
	}
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}
