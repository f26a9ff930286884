package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Context names the part of the UI that has focus.
type Context string

const (
	ContextTree       Context = "tree"
	ContextMenu       Context = "menu"
	ContextRecord     Context = "record"
	ContextAddChild   Context = "add-child"
	ContextReveal     Context = "reveal"
	ContextTreeFilter Context = "tree-filter"
	ContextMoving     Context = "moving"
)

// ContextHelpContent contains compact help content for each context.
// Content should fit on one screen (~20 lines) without scrolling.
var ContextHelpContent = map[Context]string{
	ContextTree:   contextHelpTree,
	ContextMenu:   contextHelpMenu,
	ContextRecord: contextHelpRecord,
	ContextMoving: contextHelpMoving,
}

// GetContextHelp returns the help content for a given context.
// Falls back to the tree help if the context has no specific content.
func GetContextHelp(ctx Context) string {
	if content, ok := ContextHelpContent[ctx]; ok {
		return content
	}
	return contextHelpTree
}

// RenderContextHelp renders the context-specific help modal.
func RenderContextHelp(ctx Context, theme Theme, width, height int) string {
	content := GetContextHelp(ctx)

	r := theme.Renderer

	modalWidth := 60
	if modalWidth > width-4 {
		modalWidth = width - 4
	}
	if modalWidth < 20 {
		modalWidth = 20
	}

	titleStyle := r.NewStyle().
		Bold(true).
		Foreground(theme.Primary)
	contentStyle := r.NewStyle().
		Foreground(theme.Subtext)
	footerStyle := r.NewStyle().
		Foreground(theme.Muted).
		Italic(true)

	var b strings.Builder
	b.WriteString(titleStyle.Render("Quick Reference"))
	b.WriteString("\n")
	b.WriteString(r.NewStyle().Foreground(theme.Border).Render(strings.Repeat("─", modalWidth-4)))
	b.WriteString("\n\n")
	b.WriteString(contentStyle.Render(content))
	b.WriteString("\n\n")
	b.WriteString(footerStyle.Render("Esc or ? to close"))

	modal := r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.Secondary).
		Padding(1, 2).
		Width(modalWidth).
		Render(b.String())

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, modal)
}

const contextHelpTree = `## Tree

**Navigation**
  j/k       Move up/down
  g/G       Jump to top/bottom
  Ctrl+d/u  Half page down/up
  l/→       Expand, or go to first child
  h/←       Collapse, or go to parent
  Space     Toggle expand
  Z         Collapse all

**Actions**
  .         Node menu (or right click)
  m         Move selected node
  r         Reload children
  /         Reveal a node by id
  y         Copy location
  1-9, t    Switch tree`

const contextHelpMenu = `## Node Menu

  j/k       Choose entry
  Enter     Apply
  Esc       Close

**Entries**
  Edit       Show the record
  Query      Copy a query URL for the subtree
  Add child  Create a record under the node
  Move       Pick the node up`

const contextHelpRecord = `## Record

  j/k       Scroll
  Esc       Back to the tree`

const contextHelpMoving = `## Moving a node

Pick a receiver ranked above the node and
choose "Move ... here" from its menu
(or press Enter on it).

  Esc       Cancel the move

Receivers you can use are highlighted.`
