package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Menu action keys.
const (
	MenuOpen     = "open"
	MenuQuery    = "query"
	MenuAddChild = "add-child"
	MenuMove     = "move"
	MenuReceive  = "receive"
	MenuCancel   = "cancelAction"
)

// MenuItem is one entry of the node context menu.
type MenuItem struct {
	Key   string
	Label string
}

// MenuItems lists the entries offered for node given the pending action.
func MenuItems(action *ActionMachine, node *TreeNode) []MenuItem {
	if !action.Pending() {
		return []MenuItem{
			{Key: MenuOpen, Label: "Edit"},
			{Key: MenuQuery, Label: "Query"},
			{Key: MenuAddChild, Label: "Add child"},
			{Key: MenuMove, Label: "Move"},
		}
	}
	var items []MenuItem
	if action.CanReceive(node) {
		_, name := action.Source()
		items = append(items, MenuItem{Key: MenuReceive, Label: "Move " + name + " here"})
	}
	return append(items, MenuItem{Key: MenuCancel, Label: "Cancel"})
}

// ContextMenuModel is the modal shown for a node on right click or ".".
type ContextMenuModel struct {
	node          *TreeNode
	items         []MenuItem
	selectedIndex int
	width         int
	height        int
	theme         Theme
}

// NewContextMenu builds the menu for node.
func NewContextMenu(node *TreeNode, action *ActionMachine, theme Theme) ContextMenuModel {
	return ContextMenuModel{
		node:  node,
		items: MenuItems(action, node),
		theme: theme,
	}
}

// SetSize updates the menu dimensions
func (m *ContextMenuModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// MoveUp moves selection up
func (m *ContextMenuModel) MoveUp() {
	if m.selectedIndex > 0 {
		m.selectedIndex--
	}
}

// MoveDown moves selection down
func (m *ContextMenuModel) MoveDown() {
	if m.selectedIndex < len(m.items)-1 {
		m.selectedIndex++
	}
}

// SelectedKey returns the key of the highlighted item.
func (m *ContextMenuModel) SelectedKey() string {
	if m.selectedIndex >= 0 && m.selectedIndex < len(m.items) {
		return m.items[m.selectedIndex].Key
	}
	return ""
}

// Node returns the node the menu was opened on.
func (m *ContextMenuModel) Node() *TreeNode {
	return m.node
}

// Items returns the menu entries.
func (m *ContextMenuModel) Items() []MenuItem {
	return m.items
}

// View renders the menu overlay
func (m *ContextMenuModel) View() string {
	if m.width == 0 {
		m.width = 60
	}
	if m.height == 0 {
		m.height = 20
	}

	t := m.theme

	boxWidth := 35
	if m.width < 45 {
		boxWidth = m.width - 10
	}
	if boxWidth < 25 {
		boxWidth = 25
	}

	var lines []string

	title := "Node"
	if m.node != nil {
		title = m.node.Name
	}
	titleStyle := t.Renderer.NewStyle().
		Foreground(t.Primary).
		Bold(true)
	lines = append(lines, titleStyle.Render(title))
	if m.node != nil && m.node.FullName != "" && m.node.FullName != m.node.Name {
		lines = append(lines, t.Renderer.NewStyle().Foreground(t.Muted).Render(m.node.FullName))
	}
	lines = append(lines, "")

	for i, item := range m.items {
		itemStyle := t.Renderer.NewStyle()
		prefix := "  "
		if i == m.selectedIndex {
			itemStyle = itemStyle.Foreground(t.Primary).Bold(true)
			prefix = "> "
		} else {
			itemStyle = itemStyle.Foreground(t.Base.GetForeground())
		}
		lines = append(lines, itemStyle.Render(prefix+item.Label))
	}

	lines = append(lines, "")
	footerStyle := t.Renderer.NewStyle().
		Foreground(t.Secondary).
		Italic(true)
	lines = append(lines, footerStyle.Render("j/k: navigate | enter: apply | esc: close"))

	box := t.Renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Primary).
		Padding(1, 2).
		Width(boxWidth).
		Render(strings.Join(lines, "\n"))

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		box,
	)
}
