package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"

	"github.com/Dicklesworthstone/treenav/pkg/model"
)

// TreeEntry holds display data for one tree in the picker.
type TreeEntry struct {
	Ref      model.TreeRef
	Num      int  // 1-9 quick switch key, 0 = none
	IsActive bool // currently shown
}

// SwitchTreeMsg is sent when the user picks another tree.
type SwitchTreeMsg struct {
	Index int
}

// TreePickerModel is the always-visible header listing the configured trees.
// Trees are switched with number keys 1-9 or through filter mode.
type TreePickerModel struct {
	entries     []TreeEntry
	filtered    []int // indices into entries
	cursor      int   // only used during filter mode
	width       int
	filterInput textinput.Model
	filtering   bool
	theme       Theme
}

// NewTreePicker creates a picker over refs with active highlighted.
func NewTreePicker(refs []model.TreeRef, active int, theme Theme) TreePickerModel {
	ti := textinput.New()
	ti.Placeholder = "type to filter..."
	ti.CharLimit = 50
	ti.Width = 30

	entries := make([]TreeEntry, len(refs))
	indices := make([]int, len(refs))
	for i, ref := range refs {
		entries[i] = TreeEntry{Ref: ref, IsActive: i == active}
		if i < 9 {
			entries[i].Num = i + 1
		}
		indices[i] = i
	}

	return TreePickerModel{
		entries:     entries,
		filtered:    indices,
		filterInput: ti,
		theme:       theme,
	}
}

// SetSize updates the picker width.
func (m *TreePickerModel) SetSize(w int) {
	m.width = w
}

// SetActive marks entry i as the shown tree.
func (m *TreePickerModel) SetActive(i int) {
	for j := range m.entries {
		m.entries[j].IsActive = j == i
	}
}

// Update handles keyboard input for the picker.
func (m TreePickerModel) Update(msg tea.Msg) (TreePickerModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if m.filtering {
			return m.updateFiltering(msg)
		}
		return m.updateNormal(msg)
	}
	return m, nil
}

func (m TreePickerModel) updateNormal(msg tea.KeyMsg) (TreePickerModel, tea.Cmd) {
	switch msg.String() {
	case "t":
		m.filtering = true
		m.cursor = 0
		m.filterInput.SetValue("")
		m.filterInput.Focus()
		m.applyFilter()
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		n := int(msg.String()[0] - '0')
		for i, entry := range m.entries {
			if entry.Num == n && !entry.IsActive {
				idx := i
				return m, func() tea.Msg { return SwitchTreeMsg{Index: idx} }
			}
		}
	}
	return m, nil
}

func (m TreePickerModel) updateFiltering(msg tea.KeyMsg) (TreePickerModel, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.filtering = false
		m.filterInput.SetValue("")
		m.filterInput.Blur()
		m.applyFilter()
		return m, nil
	case "enter":
		m.filtering = false
		m.filterInput.Blur()
		var cmd tea.Cmd
		if len(m.filtered) > 0 && m.cursor < len(m.filtered) {
			idx := m.filtered[m.cursor]
			cmd = func() tea.Msg { return SwitchTreeMsg{Index: idx} }
		}
		m.filterInput.SetValue("")
		m.applyFilter()
		return m, cmd
	case "up":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down":
		if m.cursor < len(m.filtered)-1 {
			m.cursor++
		}
		return m, nil
	default:
		var cmd tea.Cmd
		m.filterInput, cmd = m.filterInput.Update(msg)
		m.applyFilter()
		return m, cmd
	}
}

// applyFilter updates the filtered indices from the filter input.
func (m *TreePickerModel) applyFilter() {
	query := strings.TrimSpace(m.filterInput.Value())
	if query == "" {
		m.filtered = make([]int, len(m.entries))
		for i := range m.entries {
			m.filtered[i] = i
		}
	} else {
		names := make([]string, len(m.entries))
		for i, e := range m.entries {
			names[i] = e.Ref.Name + " " + e.Ref.Table
		}
		matches := fuzzy.Find(query, names)
		m.filtered = make([]int, len(matches))
		for i, match := range matches {
			m.filtered[i] = match.Index
		}
	}
	if m.cursor >= len(m.filtered) {
		m.cursor = max(0, len(m.filtered)-1)
	}
}

// View renders the shortcut bar, the tree chips and the title bar.
func (m *TreePickerModel) View() string {
	w := m.width
	if w == 0 {
		w = 80
	}
	t := m.theme

	sections := []string{m.renderShortcutBar()}
	if m.filtering {
		sections = append(sections, t.Renderer.NewStyle().
			Foreground(t.Primary).
			Render("  t "+m.filterInput.View()))
	}
	if len(m.filtered) == 0 {
		sections = append(sections, t.Renderer.NewStyle().
			Foreground(t.Secondary).
			Italic(true).
			Render("  No trees match."))
	} else {
		sections = append(sections, m.renderChips())
	}
	sections = append(sections, m.renderTitleBar(w))
	return strings.Join(sections, "\n")
}

// Height returns the number of terminal lines the picker uses.
func (m *TreePickerModel) Height() int {
	lines := 3 // shortcut bar, chips, title bar
	if m.filtering {
		lines++
	}
	return lines
}

func (m *TreePickerModel) renderShortcutBar() string {
	t := m.theme
	keyStyle := t.Renderer.NewStyle().Foreground(t.Highlight).Bold(true)
	descStyle := t.Renderer.NewStyle().Foreground(t.Subtext)

	shortcuts := []struct {
		key  string
		desc string
	}{
		{"<1-9>", "Switch Tree"},
		{"<t>", "Filter"},
		{"<.>", "Menu"},
		{"<m>", "Move"},
		{"</>", "Reveal"},
		{"<?>", "Help"},
	}
	parts := make([]string, 0, len(shortcuts))
	for _, s := range shortcuts {
		parts = append(parts, keyStyle.Render(s.key)+" "+descStyle.Render(s.desc))
	}
	return " " + strings.Join(parts, "  ")
}

func (m *TreePickerModel) renderChips() string {
	t := m.theme
	chips := make([]string, 0, len(m.filtered))
	for i, idx := range m.filtered {
		entry := m.entries[idx]
		num := " "
		if entry.Num > 0 {
			num = fmt.Sprint(entry.Num)
		}
		text := num + " " + entry.Ref.Name
		style := t.Renderer.NewStyle().Foreground(t.Base.GetForeground())
		if entry.IsActive || (m.filtering && i == m.cursor) {
			style = t.Renderer.NewStyle().Foreground(t.Primary).Bold(true)
		}
		chips = append(chips, style.Render(text))
	}
	return "  " + strings.Join(chips, "  ")
}

// renderTitleBar renders a divider carrying the active tree and count.
func (m *TreePickerModel) renderTitleBar(w int) string {
	t := m.theme

	label := "trees"
	if m.filtering && m.filterInput.Value() != "" {
		label = fmt.Sprintf("trees(%s)", m.filterInput.Value())
	} else {
		for _, entry := range m.entries {
			if entry.IsActive {
				label = fmt.Sprintf("trees(%s)", entry.Ref.Name)
				break
			}
		}
	}
	count := fmt.Sprintf("[%d]", len(m.filtered))
	title := t.Renderer.NewStyle().Foreground(t.Primary).Bold(true).Render(label) +
		t.Renderer.NewStyle().Foreground(t.Highlight).Render(count)

	titleLen := lipgloss.Width(label + count)
	leftPad := (w - titleLen - 4) / 2
	rightPad := w - titleLen - 4 - leftPad
	if leftPad < 1 {
		leftPad = 1
	}
	if rightPad < 1 {
		rightPad = 1
	}
	sep := t.Renderer.NewStyle().Foreground(t.Border)
	return sep.Render(strings.Repeat("─", leftPad)) + " " + title + " " + sep.Render(strings.Repeat("─", rightPad))
}

// Filtering returns whether the picker is in filter mode.
func (m *TreePickerModel) Filtering() bool {
	return m.filtering
}

// FilteredCount returns the number of entries matching the current filter.
func (m *TreePickerModel) FilteredCount() int {
	return len(m.filtered)
}
