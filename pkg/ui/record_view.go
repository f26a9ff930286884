package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/Dicklesworthstone/treenav/pkg/model"
)

// RecordViewModel shows one record read-only.
type RecordViewModel struct {
	id       int
	title    string
	url      string
	record   model.Record
	viewport viewport.Model
	width    int
	height   int
	theme    Theme
}

// NewRecordView creates an empty view sized width x height.
func NewRecordView(theme Theme, width, height int) RecordViewModel {
	vp := viewport.New(width, max(1, height-2))
	vp.SetContent("Loading…")
	return RecordViewModel{viewport: vp, width: width, height: height, theme: theme}
}

func fetchRecordCmd(svc TreeService, tree string, id int) tea.Cmd {
	return func() tea.Msg {
		rec, err := svc.Record(context.Background(), id)
		return recordLoadedMsg{tree: tree, id: id, record: rec, err: err}
	}
}

// SetRecord renders rec into the viewport.
func (v *RecordViewModel) SetRecord(id int, rec model.Record, viewURL string) {
	v.id = id
	v.record = rec
	v.url = viewURL
	v.title = rec.String("fullname")
	if v.title == "" {
		v.title = rec.String("name")
	}

	md := recordMarkdown(v.title, rec, viewURL)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(20, v.width-4)),
	)
	if err != nil {
		v.viewport.SetContent(md)
		return
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		v.viewport.SetContent(fmt.Sprintf("Error rendering record: %v", err))
		return
	}
	v.viewport.SetContent(rendered)
	v.viewport.GotoTop()
}

// SetSize resizes the viewport.
func (v *RecordViewModel) SetSize(width, height int) {
	v.width = width
	v.height = height
	v.viewport.Width = width
	v.viewport.Height = max(1, height-2)
}

// Update scrolls the viewport.
func (v RecordViewModel) Update(msg tea.Msg) (RecordViewModel, tea.Cmd) {
	var cmd tea.Cmd
	v.viewport, cmd = v.viewport.Update(msg)
	return v, cmd
}

// View renders the record with a title line and key hints.
func (v RecordViewModel) View() string {
	r := v.theme.Renderer
	title := r.NewStyle().Foreground(v.theme.Primary).Bold(true).Render(v.title)
	hint := r.NewStyle().Foreground(v.theme.Muted).Italic(true).Render("j/k: scroll | esc: back")
	return title + "\n" + v.viewport.View() + "\n" + hint
}

// recordMarkdown lays the scalar fields of rec out as a table. Nested
// objects and lists are left out.
func recordMarkdown(title string, rec model.Record, viewURL string) string {
	keys := make([]string, 0, len(rec))
	for k, val := range rec {
		switch val.(type) {
		case map[string]any, []any:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("# " + title + "\n\n")
	sb.WriteString("| Field | Value |\n|---|---|\n")
	for _, k := range keys {
		val := rec[k]
		if val == nil {
			val = ""
		}
		cell := strings.ReplaceAll(fmt.Sprint(val), "|", `\|`)
		sb.WriteString(fmt.Sprintf("| %s | %s |\n", k, cell))
	}
	if viewURL != "" {
		sb.WriteString("\n[Open form](" + viewURL + ")\n")
	}
	return sb.String()
}
