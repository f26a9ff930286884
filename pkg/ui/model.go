package ui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/treenav/pkg/location"
	"github.com/Dicklesworthstone/treenav/pkg/model"
	"github.com/Dicklesworthstone/treenav/pkg/treeapi"
)

// writeClipboard is swapped out in tests.
var writeClipboard = clipboard.WriteAll

// TreeChoice is one tree the user can switch to.
type TreeChoice struct {
	Ref   model.TreeRef
	Ranks model.RankSchema // empty: fetched from the server
}

// Options configures the UI.
type Options struct {
	Trees      []TreeChoice
	Initial    int
	NewService func(model.TreeRef) (TreeService, error)
	Store      LocationStore

	// Location, when set, replaces the stored location of the initial tree.
	Location *location.Location
}

// Model is the root bubbletea model.
type Model struct {
	opts   Options
	theme  Theme
	picker TreePickerModel
	tree   TreeModel
	active int

	menu       ContextMenuModel
	showMenu   bool
	addChild   *AddChildModel
	record     RecordViewModel
	showRecord bool
	reveal     textinput.Model
	showReveal bool
	showHelp   bool

	statusText    string
	statusIsError bool

	width    int
	height   int
	ready    bool
	err      error
	startCmd tea.Cmd // first fetch of the initial tree
}

// NewModel builds the UI with the initial tree opened.
func NewModel(opts Options) Model {
	theme := DefaultTheme(lipgloss.DefaultRenderer())
	return newModel(opts, theme)
}

func newModel(opts Options, theme Theme) Model {
	refs := make([]model.TreeRef, len(opts.Trees))
	for i, c := range opts.Trees {
		refs[i] = c.Ref
	}

	ti := textinput.New()
	ti.Placeholder = "node id"
	ti.CharLimit = 12
	ti.Width = 14
	ti.Prompt = "Reveal: "

	m := Model{
		opts:   opts,
		theme:  theme,
		picker: NewTreePicker(refs, opts.Initial, theme),
		reveal: ti,
	}
	if len(opts.Trees) == 0 {
		m.err = errors.New("no trees configured")
		return m
	}
	if opts.Initial < 0 || opts.Initial >= len(opts.Trees) {
		m.err = fmt.Errorf("tree index %d out of range", opts.Initial)
		return m
	}
	m.startCmd, m.err = m.openTree(opts.Initial, opts.Location)
	return m
}

// openTree replaces the shown tree with tree i and returns its first fetch.
func (m *Model) openTree(i int, override *location.Location) (tea.Cmd, error) {
	choice := m.opts.Trees[i]
	svc, err := m.opts.NewService(choice.Ref)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", choice.Ref.Title(), err)
	}

	var loc location.Location
	switch {
	case override != nil:
		loc = *override
	case m.opts.Store != nil:
		loc, err = m.opts.Store.Load(context.Background(), choice.Ref.Key())
		if err != nil {
			log.Printf("warning: failed to load location of %s: %v", choice.Ref.Key(), err)
			loc = location.Location{}
		}
	}

	m.tree = NewTreeModel(m.theme, TreeOptions{
		Tree:     choice.Ref,
		Service:  svc,
		Store:    m.opts.Store,
		Location: loc,
		Ranks:    choice.Ranks,
	})
	m.active = i
	m.picker.SetActive(i)
	m.showMenu = false
	m.showRecord = false
	m.addChild = nil
	m.resize()
	return m.tree.Init(), nil
}

// Init loads the initial tree.
func (m Model) Init() tea.Cmd {
	if m.err != nil {
		return nil
	}
	return m.startCmd
}

// Update routes messages to the tree, overlays and key handlers.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	next, cmd := m.update(msg)
	// View works on a copy, so scrolling is settled here.
	next.tree.ensureCursorVisible()
	return next, cmd
}

func (m Model) update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resize()
		return m, nil

	case statusMsg:
		m.statusText = msg.text
		m.statusIsError = msg.isError
		return m, nil

	case SwitchTreeMsg:
		if msg.Index == m.active || msg.Index < 0 || msg.Index >= len(m.opts.Trees) {
			return m, nil
		}
		if m.tree.Action().Pending() {
			m.setStatus("Finish or cancel the move first", true)
			return m, nil
		}
		cmd, err := m.openTree(msg.Index, nil)
		if err != nil {
			m.setStatus(err.Error(), true)
			return m, nil
		}
		m.statusText = ""
		return m, cmd

	case moveResultMsg:
		if msg.tree != m.tree.key {
			m.reportElsewhere(msg.tree, "move", "Moved", msg.err)
			return m, nil
		}
		return m, m.tree.Update(msg)

	case childCreatedMsg:
		if msg.tree != m.tree.key {
			m.reportElsewhere(msg.tree, "add "+msg.name, "Added "+msg.name, msg.err)
			return m, nil
		}
		return m, m.tree.Update(msg)

	case childrenLoadedMsg, ranksLoadedMsg, pathLoadedMsg:
		return m, m.tree.Update(msg)

	case recordLoadedMsg:
		if msg.tree != m.tree.key || !m.showRecord {
			return m, nil
		}
		if msg.err != nil {
			m.showRecord = false
			log.Printf("warning: failed to load record %d: %v", msg.id, msg.err)
			m.setStatus(fmt.Sprintf("Could not open %d: %s", msg.id, treeapi.Reason(msg.err)), true)
			return m, nil
		}
		m.record.SetRecord(msg.id, msg.record, m.tree.Service().RecordViewURL(msg.id))
		return m, nil

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	// Anything else (cursor blinks, form internals) goes to the active input.
	switch {
	case m.addChild != nil:
		return m, m.updateAddChild(msg)
	case m.showReveal:
		var cmd tea.Cmd
		m.reveal, cmd = m.reveal.Update(msg)
		return m, cmd
	case m.picker.Filtering():
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)
		return m, cmd
	}
	return m, nil
}

// reportElsewhere shows the outcome of a save that finished after its tree
// was closed.
func (m *Model) reportElsewhere(tree, what, done string, err error) {
	if err != nil {
		log.Printf("warning: %s in %s failed: %v", what, tree, err)
		m.setStatus(fmt.Sprintf("Could not %s in %s: %s", what, tree, treeapi.Reason(err)), true)
		return
	}
	m.setStatus(fmt.Sprintf("%s in %s", done, tree), false)
}

func (m *Model) setStatus(text string, isError bool) {
	m.statusText = text
	m.statusIsError = isError
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	switch {
	case m.addChild != nil:
		return m, m.updateAddChild(msg)

	case m.showReveal:
		return m.updateReveal(msg)

	case m.picker.Filtering():
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)
		return m, cmd

	case m.showHelp:
		switch msg.String() {
		case "esc", "?", "q":
			m.showHelp = false
		}
		return m, nil

	case m.showRecord:
		switch msg.String() {
		case "esc", "q":
			m.showRecord = false
			return m, nil
		}
		var cmd tea.Cmd
		m.record, cmd = m.record.Update(msg)
		return m, cmd

	case m.showMenu:
		switch msg.String() {
		case "j", "down":
			m.menu.MoveDown()
		case "k", "up":
			m.menu.MoveUp()
		case "enter":
			m.showMenu = false
			return m, m.Dispatch(m.menu.SelectedKey(), m.menu.Node())
		case "esc", "q":
			m.showMenu = false
		}
		return m, nil
	}

	if m.err != nil {
		if msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "?":
		m.showHelp = true
	case "j", "down":
		m.tree.MoveDown()
	case "k", "up":
		m.tree.MoveUp()
	case "ctrl+d", "pgdown":
		m.tree.PageDown()
	case "ctrl+u", "pgup":
		m.tree.PageUp()
	case "g", "home":
		m.tree.JumpToTop()
	case "G", "end":
		m.tree.JumpToBottom()
	case " ":
		return m, m.tree.ToggleExpand()
	case "enter":
		if m.tree.Action().State() == ActionArmed {
			return m, m.receiveMove(m.tree.SelectedNode())
		}
		return m, m.tree.ToggleExpand()
	case "l", "right":
		return m, m.tree.ExpandOrMoveToChild()
	case "h", "left":
		m.tree.CollapseOrJumpToParent()
	case "Z":
		m.tree.CollapseAll()
	case ".":
		m.openMenu(m.tree.SelectedNode())
	case "m":
		return m, m.armMove(m.tree.SelectedNode())
	case "esc":
		return m, m.cancelAction(nil)
	case "r":
		return m, m.tree.Refresh()
	case "/":
		m.showReveal = true
		m.reveal.SetValue("")
		return m, m.reveal.Focus()
	case "y":
		m.copyLocation()
	default:
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateReveal(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.showReveal = false
		m.reveal.Blur()
		return m, nil
	case "enter":
		m.showReveal = false
		m.reveal.Blur()
		id, err := strconv.Atoi(strings.TrimSpace(m.reveal.Value()))
		if err != nil || id <= 0 {
			m.setStatus(fmt.Sprintf("Not a node id: %q", m.reveal.Value()), true)
			return m, nil
		}
		m.setStatus(fmt.Sprintf("Revealing %d…", id), false)
		return m, m.tree.RevealNode(id)
	}
	var cmd tea.Cmd
	m.reveal, cmd = m.reveal.Update(msg)
	return m, cmd
}

func (m *Model) updateAddChild(msg tea.Msg) tea.Cmd {
	a := m.addChild
	cmd := a.Update(msg)
	switch {
	case a.Done():
		m.addChild = nil
		rank, ok := a.rank()
		if !ok {
			m.setStatus("No rank chosen", true)
			return cmd
		}
		m.setStatus(fmt.Sprintf("Adding %s…", strings.TrimSpace(a.name)), false)
		return tea.Batch(cmd, createChildCmd(m.tree.Service(), m.tree.key, a.Parent(), a.name, rank))
	case a.Aborted():
		m.addChild = nil
		return nil
	}
	return cmd
}

func (m Model) handleMouse(msg tea.MouseMsg) (Model, tea.Cmd) {
	if m.err != nil || m.showMenu || m.showRecord || m.showHelp || m.addChild != nil {
		return m, nil
	}
	if msg.Action != tea.MouseActionPress {
		return m, nil
	}
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.tree.MoveUp()
		return m, nil
	case tea.MouseButtonWheelDown:
		m.tree.MoveDown()
		return m, nil
	case tea.MouseButtonLeft, tea.MouseButtonRight:
	default:
		return m, nil
	}

	node, idx := m.tree.NodeAtRow(msg.Y - m.treeTop())
	if node == nil {
		return m, nil
	}
	m.tree.SelectIndex(idx)
	if msg.Button == tea.MouseButtonRight {
		m.openMenu(node)
	}
	return m, nil
}

// treeTop is the screen row of the first tree row: the picker, then the
// rank header.
func (m *Model) treeTop() int {
	return m.picker.Height() + 1
}

func (m *Model) bodyHeight() int {
	h := m.height - m.picker.Height() - 1
	if h < 3 {
		h = 3
	}
	return h
}

func (m *Model) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	m.picker.SetSize(m.width)
	m.tree.SetSize(m.width, m.bodyHeight())
	m.record.SetSize(m.width, m.bodyHeight())
	m.menu.SetSize(m.width, m.bodyHeight())
}

func (m *Model) openMenu(node *TreeNode) {
	if node == nil {
		return
	}
	m.menu = NewContextMenu(node, m.tree.Action(), m.theme)
	m.menu.SetSize(m.width, m.bodyHeight())
	m.showMenu = true
}

var menuHandlers = map[string]func(*Model, *TreeNode) tea.Cmd{
	MenuOpen:     (*Model).openRecord,
	MenuQuery:    (*Model).copyQuery,
	MenuAddChild: (*Model).startAddChild,
	MenuMove:     (*Model).armMove,
	MenuReceive:  (*Model).receiveMove,
	MenuCancel:   (*Model).cancelAction,
}

// Dispatch runs the menu action named key on node. Unknown keys are logged
// and ignored.
func (m *Model) Dispatch(key string, node *TreeNode) tea.Cmd {
	handler, ok := menuHandlers[key]
	if !ok {
		log.Printf("error: unknown menu action %q", key)
		return nil
	}
	return handler(m, node)
}

func (m *Model) openRecord(node *TreeNode) tea.Cmd {
	if node == nil {
		return nil
	}
	m.record = NewRecordView(m.theme, m.width, m.bodyHeight())
	m.showRecord = true
	return fetchRecordCmd(m.tree.Service(), m.tree.key, node.ID)
}

func (m *Model) copyQuery(node *TreeNode) tea.Cmd {
	if node == nil {
		return nil
	}
	url := m.tree.Service().QueryURL(node.ID)
	if err := writeClipboard(url); err != nil {
		log.Printf("warning: clipboard unavailable: %v", err)
		m.setStatus("Query URL: "+url, false)
		return nil
	}
	m.setStatus("Copied query URL for "+node.Name, false)
	return nil
}

func (m *Model) copyLocation() {
	loc := m.tree.Location().String()
	if loc == "" {
		m.setStatus("Nothing expanded", false)
		return
	}
	if err := writeClipboard(loc); err != nil {
		log.Printf("warning: clipboard unavailable: %v", err)
		m.setStatus("Location: "+loc, false)
		return
	}
	m.setStatus("Copied location", false)
}

func (m *Model) startAddChild(node *TreeNode) tea.Cmd {
	a, err := NewAddChild(node, m.tree.Ranks(), m.theme)
	if err != nil {
		m.setStatus("Cannot add child: "+err.Error(), true)
		return nil
	}
	m.addChild = a
	return a.Init()
}

func (m *Model) armMove(node *TreeNode) tea.Cmd {
	if err := m.tree.ArmMove(node); err != nil {
		m.setStatus("Cannot move: "+err.Error(), true)
		return nil
	}
	m.setStatus(fmt.Sprintf("Moving %s: pick a new parent (esc cancels)", node.Name), false)
	return nil
}

func (m *Model) receiveMove(node *TreeNode) tea.Cmd {
	cmd, err := m.tree.ReceiveMove(node)
	if err != nil {
		m.setStatus("Cannot move here: "+err.Error(), true)
		return nil
	}
	_, name := m.tree.Action().Source()
	m.setStatus(fmt.Sprintf("Moving %s under %s…", name, node.Name), false)
	return cmd
}

func (m *Model) cancelAction(*TreeNode) tea.Cmd {
	if m.tree.CancelAction() {
		m.setStatus("Move cancelled", false)
	}
	return nil
}

func (m Model) helpContext() Context {
	switch {
	case m.showMenu:
		return ContextMenu
	case m.showRecord:
		return ContextRecord
	case m.tree.Action().Pending():
		return ContextMoving
	}
	return ContextTree
}

// View renders the picker header, the active body and the status bar.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.err != nil {
		return m.theme.Renderer.NewStyle().Foreground(m.theme.Error).Render("Error: "+m.err.Error()) +
			"\n\nPress q to quit."
	}

	h := m.bodyHeight()
	var body string
	switch {
	case m.showHelp:
		body = RenderContextHelp(m.helpContext(), m.theme, m.width, h)
	case m.addChild != nil:
		box := m.theme.Renderer.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(m.theme.Primary).
			Padding(1, 2).
			Render(m.addChild.View())
		body = lipgloss.Place(m.width, h, lipgloss.Center, lipgloss.Center, box)
	case m.showRecord:
		body = m.record.View()
	case m.showMenu:
		body = m.menu.View()
	default:
		body = m.tree.View()
	}
	body = m.theme.Renderer.NewStyle().Height(h).MaxHeight(h).Render(body)

	return lipgloss.JoinVertical(lipgloss.Left, m.picker.View(), body, m.renderFooter())
}

func (m Model) renderFooter() string {
	t := m.theme
	r := t.Renderer

	if m.showReveal {
		return r.NewStyle().Foreground(t.Primary).Render(m.reveal.View())
	}

	titleSection := r.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1).Render(m.tree.Ref().Title())
	var actionSection string
	if action := m.tree.Action(); action.Pending() {
		_, name := action.Source()
		label := "⇢ moving " + name
		if action.State() == ActionReconciling {
			label += " (saving)"
		}
		actionSection = r.NewStyle().Foreground(t.Secondary).Bold(true).Padding(0, 1).Render(label)
	}

	var statusSection string
	switch {
	case m.statusText != "" && m.statusIsError:
		statusSection = r.NewStyle().Foreground(t.Error).Padding(0, 1).Render(m.statusText)
	case m.statusText != "":
		statusSection = r.NewStyle().Foreground(t.Success).Padding(0, 1).Render(m.statusText)
	}

	loc := m.tree.Location().String()
	room := m.width - lipgloss.Width(titleSection) - lipgloss.Width(actionSection) - lipgloss.Width(statusSection) - 2
	if room < 0 {
		room = 0
	}
	if lipgloss.Width(loc) > room {
		if room > 1 {
			loc = loc[:room-1] + "…"
		} else {
			loc = ""
		}
	}
	locSection := r.NewStyle().Foreground(t.Muted).Width(room + 2).Render(" " + loc)

	return lipgloss.JoinHorizontal(lipgloss.Bottom, titleSection, actionSection, locSection, statusSection)
}

// Tree exposes the active tree (for tests and the CLI).
func (m *Model) Tree() *TreeModel {
	return &m.tree
}

// Status returns the status bar text and whether it is an error.
func (m Model) Status() (string, bool) {
	return m.statusText, m.statusIsError
}

// Err returns the startup error, if any.
func (m Model) Err() error {
	return m.err
}
