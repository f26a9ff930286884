// tree.go - lazily loaded rank-column tree view
package ui

import (
	"context"
	"fmt"
	"log"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/Dicklesworthstone/treenav/pkg/conformation"
	"github.com/Dicklesworthstone/treenav/pkg/location"
	"github.com/Dicklesworthstone/treenav/pkg/model"
	"github.com/Dicklesworthstone/treenav/pkg/treeapi"
)

type loadState int

const (
	notLoaded loadState = iota
	loading
	loaded
	loadFailed
)

// TreeNode is one record in the tree. Children are fetched on first expand.
type TreeNode struct {
	ID          int
	Rank        int
	Name        string
	FullName    string
	HasChildren bool
	Children    []*TreeNode // owned; server order
	Expanded    bool        // the user's wish, honored once children arrive

	parentID int // model.TopOfTree for root-level nodes
	state    loadState
	loadErr  error
	gen      int // bumped on every fetch; older responses are dropped
}

// ParentID returns the id of the node's parent, or model.TopOfTree.
func (n *TreeNode) ParentID() int {
	return n.parentID
}

// Loaded reports whether the children have been fetched.
func (n *TreeNode) Loaded() bool {
	return n.state == loaded
}

// Loading reports whether a children fetch is in flight.
func (n *TreeNode) Loading() bool {
	return n.state == loading
}

// LoadErr returns the error of the last failed children fetch.
func (n *TreeNode) LoadErr() error {
	return n.loadErr
}

// TreeOptions configures a TreeModel.
type TreeOptions struct {
	Tree     model.TreeRef
	Service  TreeService
	Store    LocationStore     // may be nil
	Location location.Location // restored on first load
	Ranks    model.RankSchema  // fetched from the server when empty
}

type stepKind int

const (
	stepApply  stepKind = iota // expand the slots of conf among parentID's children
	stepExpand                 // expand nodeID, then apply conf inside it
	stepSelect                 // move the cursor to nodeID
)

// revealStep is one unit of queued reveal work. Steps run in order, one
// fetch at a time.
type revealStep struct {
	kind      stepKind
	nodeID    int
	parentID  int
	conf      conformation.Conformation
	started   bool
	attempted bool
}

// TreeModel owns the nodes of one tree, the pending action and the location.
type TreeModel struct {
	ref      model.TreeRef
	key      string
	svc      TreeService
	store    LocationStore
	location location.Location
	ranks    model.RankSchema
	action   ActionMachine

	roots     []*TreeNode
	index     map[int]*TreeNode
	rootState loadState
	rootErr   error
	rootGen   int
	restored  bool // the location's conformation has been queued

	flatList       []*TreeNode // visible nodes in document order
	cursor         int
	width          int
	height         int
	viewportOffset int
	theme          Theme

	reveal    []revealStep
	waitingOn int // node whose children the reveal is waiting for
}

// NewTreeModel creates a tree with nothing loaded. Call Init to fetch.
func NewTreeModel(theme Theme, opts TreeOptions) TreeModel {
	return TreeModel{
		ref:      opts.Tree,
		key:      opts.Tree.Key(),
		svc:      opts.Service,
		store:    opts.Store,
		location: opts.Location,
		ranks:    opts.Ranks,
		index:    make(map[int]*TreeNode),
		theme:    theme,
	}
}

// SetSize updates the available dimensions for the tree view
func (t *TreeModel) SetSize(width, height int) {
	t.width = width
	t.height = height
}

// Init fetches the rank schema (unless configured) and the root rows.
func (t *TreeModel) Init() tea.Cmd {
	var cmds []tea.Cmd
	if len(t.ranks) == 0 {
		cmds = append(cmds, t.fetchRanksCmd())
	}
	cmds = append(cmds, t.loadRoots())
	return tea.Batch(cmds...)
}

// Update handles the results of the tree's own commands.
func (t *TreeModel) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case childrenLoadedMsg:
		if msg.tree == t.key {
			return t.handleChildren(msg)
		}
	case ranksLoadedMsg:
		if msg.tree == t.key {
			return t.handleRanks(msg)
		}
	case pathLoadedMsg:
		if msg.tree == t.key {
			return t.handlePath(msg)
		}
	case moveResultMsg:
		if msg.tree == t.key {
			return t.handleMoveResult(msg)
		}
	case childCreatedMsg:
		if msg.tree == t.key {
			return t.handleChildCreated(msg)
		}
	}
	return nil
}

func (t *TreeModel) fetchRanksCmd() tea.Cmd {
	svc, key := t.svc, t.key
	return func() tea.Msg {
		ranks, err := svc.Ranks(context.Background())
		return ranksLoadedMsg{tree: key, ranks: ranks, err: err}
	}
}

func (t *TreeModel) fetchChildrenCmd(parentID, gen int) tea.Cmd {
	svc, key := t.svc, t.key
	return func() tea.Msg {
		rows, err := svc.Children(context.Background(), parentID)
		return childrenLoadedMsg{tree: key, parentID: parentID, gen: gen, rows: rows, err: err}
	}
}

func (t *TreeModel) loadRoots() tea.Cmd {
	t.rootState = loading
	t.rootGen++
	return t.fetchChildrenCmd(model.TopOfTree, t.rootGen)
}

func (t *TreeModel) loadChildren(node *TreeNode) tea.Cmd {
	node.state = loading
	node.loadErr = nil
	node.gen++
	return t.fetchChildrenCmd(node.ID, node.gen)
}

func (t *TreeModel) handleRanks(msg ranksLoadedMsg) tea.Cmd {
	if msg.err != nil {
		log.Printf("warning: failed to load ranks for %s: %v", t.key, msg.err)
		return statusCmd("Could not load ranks: "+treeapi.Reason(msg.err), true)
	}
	t.ranks = msg.ranks
	return nil
}

func (t *TreeModel) handleChildren(msg childrenLoadedMsg) tea.Cmd {
	if msg.parentID == model.TopOfTree {
		if msg.gen != t.rootGen {
			return nil
		}
		if msg.err != nil {
			t.rootState = loadFailed
			t.rootErr = msg.err
			log.Printf("warning: failed to load roots of %s: %v", t.key, msg.err)
			return statusCmd("Could not load tree: "+treeapi.Reason(msg.err), true)
		}
		t.roots = t.adopt(nil, t.roots, msg.rows)
		t.rootState = loaded
		t.rootErr = nil
		if !t.restored {
			t.restored = true
			t.queueConformation(t.location.Conformation())
		}
		t.rebuildFlatList()
		return t.pumpReveal()
	}

	node := t.index[msg.parentID]
	if node == nil || msg.gen != node.gen {
		return nil
	}
	var status tea.Cmd
	if msg.err != nil {
		node.state = loadFailed
		node.loadErr = msg.err
		log.Printf("warning: failed to load children of %d in %s: %v", node.ID, t.key, msg.err)
		status = statusCmd(fmt.Sprintf("Could not load %s: %s", node.Name, treeapi.Reason(msg.err)), true)
	} else {
		node.Children = t.adopt(node, node.Children, msg.rows)
		node.HasChildren = len(node.Children) > 0
		node.state = loaded
	}
	t.rebuildFlatList()
	if t.waitingOn == node.ID {
		t.waitingOn = 0
		return tea.Batch(status, t.pumpReveal())
	}
	return status
}

// adopt turns fetched rows into the new child list of parent (nil for the
// roots). Nodes already known by id are reused so their expansion survives.
func (t *TreeModel) adopt(parent *TreeNode, old []*TreeNode, rows []model.Row) []*TreeNode {
	parentID := model.TopOfTree
	if parent != nil {
		parentID = parent.ID
	}

	keep := make(map[int]bool, len(rows))
	out := make([]*TreeNode, 0, len(rows))
	for _, row := range rows {
		if parent != nil && row.Rank <= parent.Rank {
			log.Printf("warning: %s node %d (rank %d) is not below its parent %d (rank %d)",
				t.key, row.ID, row.Rank, parent.ID, parent.Rank)
		}
		n := t.index[row.ID]
		if n == nil {
			n = &TreeNode{ID: row.ID}
			t.index[row.ID] = n
		}
		n.Rank = row.Rank
		n.Name = row.Name
		n.FullName = row.FullName
		n.HasChildren = row.HasChildren
		n.parentID = parentID
		if !row.HasChildren && len(n.Children) > 0 {
			for _, c := range n.Children {
				t.unindex(c, n.ID)
			}
			n.Children = nil
			n.state = notLoaded
		}
		keep[row.ID] = true
		out = append(out, n)
	}
	for _, o := range old {
		if !keep[o.ID] {
			t.unindex(o, parentID)
		}
	}
	return out
}

// unindex forgets n and its subtree, unless n has since moved elsewhere.
func (t *TreeModel) unindex(n *TreeNode, parentID int) {
	if n.parentID != parentID || t.index[n.ID] != n {
		return
	}
	delete(t.index, n.ID)
	for _, c := range n.Children {
		t.unindex(c, n.ID)
	}
}

// Expand shows the children of node, fetching them first if needed.
func (t *TreeModel) Expand(node *TreeNode) tea.Cmd {
	if node == nil || !node.HasChildren {
		return nil
	}
	node.Expanded = true
	var cmd tea.Cmd
	if node.state == notLoaded || node.state == loadFailed {
		cmd = t.loadChildren(node)
	}
	t.rebuildFlatList()
	t.updateLocation()
	return cmd
}

// Collapse hides the children of node. They stay loaded.
func (t *TreeModel) Collapse(node *TreeNode) {
	if node == nil || !node.Expanded {
		return
	}
	node.Expanded = false
	t.rebuildFlatList()
	t.updateLocation()
}

// ToggleExpand expands or collapses the currently selected node.
func (t *TreeModel) ToggleExpand() tea.Cmd {
	node := t.SelectedNode()
	if node == nil {
		return nil
	}
	if node.Expanded {
		t.Collapse(node)
		return nil
	}
	return t.Expand(node)
}

// CollapseAll collapses every node.
func (t *TreeModel) CollapseAll() {
	var walk func(nodes []*TreeNode)
	walk = func(nodes []*TreeNode) {
		for _, n := range nodes {
			n.Expanded = false
			walk(n.Children)
		}
	}
	walk(t.roots)
	t.rebuildFlatList()
	t.updateLocation()
}

// Refresh re-fetches the children of the selected node, or the roots when
// nothing is selected.
func (t *TreeModel) Refresh() tea.Cmd {
	node := t.SelectedNode()
	if node == nil {
		return t.loadRoots()
	}
	if node.state == notLoaded {
		return nil
	}
	return t.loadChildren(node)
}

// childAdded invalidates node's children after something was put under it.
func (t *TreeModel) childAdded(node *TreeNode) tea.Cmd {
	if node == nil {
		return nil
	}
	node.HasChildren = true
	if node.state == notLoaded {
		return nil
	}
	return t.loadChildren(node)
}

// childRemoved invalidates the children of parentID after one left.
func (t *TreeModel) childRemoved(parentID int) tea.Cmd {
	if parentID == model.TopOfTree {
		return t.loadRoots()
	}
	node := t.index[parentID]
	if node == nil || node.state == notLoaded {
		return nil
	}
	return t.loadChildren(node)
}

// detach splices n out of its parent's child list.
func (t *TreeModel) detach(n *TreeNode) {
	remove := func(list []*TreeNode) []*TreeNode {
		out := list[:0]
		for _, c := range list {
			if c != n {
				out = append(out, c)
			}
		}
		return out
	}
	if n.parentID == model.TopOfTree {
		t.roots = remove(t.roots)
		return
	}
	if parent := t.index[n.parentID]; parent != nil {
		parent.Children = remove(parent.Children)
	}
}

// CurrentConformation describes which nodes are expanded right now.
func (t *TreeModel) CurrentConformation() conformation.Conformation {
	return currentConformation(t.roots)
}

func currentConformation(nodes []*TreeNode) conformation.Conformation {
	var c conformation.Conformation
	for i, n := range nodes {
		if n.Expanded && n.HasChildren {
			c = append(c, conformation.Branch{Slot: i, Children: currentConformation(n.Children)})
		}
	}
	return c
}

// updateLocation writes the current conformation into the location and
// replaces the stored copy. Nothing expanded removes the field.
func (t *TreeModel) updateLocation() {
	enc := ""
	if conf := t.CurrentConformation(); !conf.IsEmpty() {
		enc = conformation.Encode(conf)
	}
	t.location = t.location.WithConformation(enc)
	if t.store == nil {
		return
	}
	if err := t.store.Replace(context.Background(), t.key, t.location); err != nil {
		log.Printf("warning: failed to save location of %s: %v", t.key, err)
	}
}

func (t *TreeModel) queueConformation(enc string) {
	if enc == "" {
		return
	}
	conf, err := conformation.Decode(enc)
	if err != nil {
		log.Printf("warning: ignoring location of %s: %v", t.key, err)
		return
	}
	if conf.IsEmpty() {
		return
	}
	t.reveal = append(t.reveal, revealStep{kind: stepApply, parentID: model.TopOfTree, conf: conf})
}

// ApplyConformation expands the branches named by conf, one level at a time.
func (t *TreeModel) ApplyConformation(conf conformation.Conformation) tea.Cmd {
	if conf.IsEmpty() {
		return nil
	}
	t.reveal = append(t.reveal, revealStep{kind: stepApply, parentID: model.TopOfTree, conf: conf})
	return t.pumpReveal()
}

// RevealNode expands the ancestors of id and selects it.
func (t *TreeModel) RevealNode(id int) tea.Cmd {
	svc, key := t.svc, t.key
	return func() tea.Msg {
		entries, err := svc.Path(context.Background(), id)
		return pathLoadedMsg{tree: key, id: id, entries: entries, err: err}
	}
}

func (t *TreeModel) handlePath(msg pathLoadedMsg) tea.Cmd {
	if msg.err != nil {
		log.Printf("warning: failed to load path of %d in %s: %v", msg.id, t.key, msg.err)
		return statusCmd(fmt.Sprintf("Could not find %d: %s", msg.id, treeapi.Reason(msg.err)), true)
	}
	ids := model.PathIDs(model.SortPath(msg.entries))
	if len(ids) == 0 {
		return statusCmd(fmt.Sprintf("No path to %d", msg.id), true)
	}
	return t.openPath(ids)
}

// openPath expands ids[0] among the roots, then ids[1] inside it, and so on,
// and finally selects the last id.
func (t *TreeModel) openPath(ids []int) tea.Cmd {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		t.reveal = append(t.reveal, revealStep{kind: stepExpand, nodeID: id})
	}
	t.reveal = append(t.reveal, revealStep{kind: stepSelect, nodeID: ids[len(ids)-1]})
	return t.pumpReveal()
}

// pumpReveal runs queued reveal steps until one has to wait for a fetch.
func (t *TreeModel) pumpReveal() tea.Cmd {
	if t.waitingOn != 0 || t.rootState != loaded || len(t.reveal) == 0 {
		return nil
	}

	for len(t.reveal) > 0 {
		step := &t.reveal[0]
		switch step.kind {
		case stepApply:
			conf, parentID := step.conf, step.parentID
			t.reveal = t.reveal[1:]
			siblings := t.childrenOf(parentID)
			var next []revealStep
			for _, b := range conf {
				if b.Slot >= len(siblings) {
					log.Printf("warning: %s conformation slot %d out of range under %d", t.key, b.Slot, parentID)
					continue
				}
				next = append(next, revealStep{kind: stepExpand, nodeID: siblings[b.Slot].ID, conf: b.Children})
			}
			t.reveal = append(next, t.reveal...)

		case stepExpand:
			node := t.index[step.nodeID]
			if node == nil || !node.HasChildren {
				t.reveal = t.reveal[1:]
				continue
			}
			if !step.started {
				step.started = true
				node.Expanded = true
			} else if !node.Expanded {
				// Collapsed while its children were loading.
				t.reveal = t.reveal[1:]
				continue
			}
			switch node.state {
			case loaded:
				conf := step.conf
				t.reveal = t.reveal[1:]
				if !conf.IsEmpty() {
					t.reveal = append([]revealStep{{kind: stepApply, parentID: node.ID, conf: conf}}, t.reveal...)
				}
			case loading:
				t.waitingOn = node.ID
				t.rebuildFlatList()
				return nil
			default:
				if node.state == loadFailed && step.attempted {
					t.reveal = t.reveal[1:]
					continue
				}
				step.attempted = true
				t.waitingOn = node.ID
				cmd := t.loadChildren(node)
				t.rebuildFlatList()
				return cmd
			}

		case stepSelect:
			id := step.nodeID
			t.reveal = t.reveal[1:]
			t.rebuildFlatList()
			t.SelectByID(id)
		}
	}

	t.rebuildFlatList()
	t.updateLocation()
	return nil
}

// Revealing reports whether queued reveal work remains.
func (t *TreeModel) Revealing() bool {
	return len(t.reveal) > 0
}

func (t *TreeModel) childrenOf(parentID int) []*TreeNode {
	if parentID == model.TopOfTree {
		return t.roots
	}
	if n := t.index[parentID]; n != nil {
		return n.Children
	}
	return nil
}

// ArmMove picks node up as the source of a move.
func (t *TreeModel) ArmMove(node *TreeNode) error {
	return t.action.Arm(node)
}

// CancelAction drops an armed move.
func (t *TreeModel) CancelAction() bool {
	return t.action.Cancel()
}

// ReceiveMove starts moving the armed source under node.
func (t *TreeModel) ReceiveMove(node *TreeNode) (tea.Cmd, error) {
	if err := t.action.BeginReceive(node); err != nil {
		return nil, err
	}
	sourceID, _ := t.action.Source()
	former := model.TopOfTree
	if src := t.index[sourceID]; src != nil {
		former = src.parentID
	}
	return reconcileCmd(t.svc, t.key, sourceID, node.ID, former), nil
}

func (t *TreeModel) handleMoveResult(msg moveResultMsg) tea.Cmd {
	_, name := t.action.Source()
	t.action.Finish()
	if msg.err != nil {
		log.Printf("warning: move of %d under %d in %s failed: %v", msg.sourceID, msg.receiverID, t.key, msg.err)
		return statusCmd(fmt.Sprintf("Could not move %s: %s", name, treeapi.Reason(msg.err)), true)
	}

	if src := t.index[msg.sourceID]; src != nil {
		t.detach(src)
		src.parentID = msg.receiverID
	}
	receiver := t.index[msg.receiverID]
	receiverName := fmt.Sprint(msg.receiverID)
	if receiver != nil {
		receiverName = receiver.Name
	}
	cmds := []tea.Cmd{
		t.childAdded(receiver),
		t.childRemoved(msg.formerParentID),
	}
	t.rebuildFlatList()
	t.updateLocation()
	cmds = append(cmds, statusCmd(fmt.Sprintf("Moved %s under %s", name, receiverName), false))
	return tea.Batch(cmds...)
}

// handleChildCreated reloads and opens the parent so the new child shows.
func (t *TreeModel) handleChildCreated(msg childCreatedMsg) tea.Cmd {
	if msg.err != nil {
		log.Printf("warning: creating %q under %d in %s failed: %v", msg.name, msg.parentID, t.key, msg.err)
		return statusCmd(fmt.Sprintf("Could not add %s: %s", msg.name, treeapi.Reason(msg.err)), true)
	}
	status := statusCmd(fmt.Sprintf("Added %s", msg.name), false)
	parent := t.index[msg.parentID]
	if parent == nil {
		return status
	}
	parent.HasChildren = true
	if parent.state == notLoaded {
		return tea.Batch(t.Expand(parent), status)
	}
	parent.Expanded = true
	cmd := t.childAdded(parent)
	t.rebuildFlatList()
	t.updateLocation()
	return tea.Batch(cmd, status)
}

// View renders the rank header and the visible rows.
func (t *TreeModel) View() string {
	if len(t.roots) == 0 {
		return t.renderEmptyState()
	}

	var sb strings.Builder
	sb.WriteString(t.renderHeader())
	sb.WriteString("\n")

	t.ensureCursorVisible()
	start, end := t.visibleRange()
	for i := start; i < end; i++ {
		sb.WriteString(t.renderNode(t.flatList[i], i == t.cursor))
		if i < end-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (t *TreeModel) renderEmptyState() string {
	r := t.theme.Renderer
	titleStyle := r.NewStyle().Foreground(t.theme.Primary).Bold(true)
	mutedStyle := r.NewStyle().Foreground(t.theme.Muted)

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(t.ref.Title()))
	sb.WriteString("\n\n")
	switch t.rootState {
	case loading, notLoaded:
		sb.WriteString(mutedStyle.Render("Loading…"))
	case loadFailed:
		sb.WriteString(r.NewStyle().Foreground(t.theme.Error).Render("Could not load tree: " + treeapi.Reason(t.rootErr)))
		sb.WriteString("\n\n")
		sb.WriteString(mutedStyle.Render("Press r to retry."))
	default:
		sb.WriteString(mutedStyle.Render("This tree is empty."))
	}
	return sb.String()
}

func (t *TreeModel) columnWidth() int {
	w := t.width
	if w <= 0 {
		w = 80
	}
	cols := len(t.ranks)
	if cols == 0 {
		cols = 1
	}
	cw := w / cols
	if cw < 4 {
		cw = 4
	}
	return cw
}

// column returns the display column of node: its rank's column, or its depth
// until the ranks are known.
func (t *TreeModel) column(node *TreeNode) int {
	if len(t.ranks) > 0 {
		return t.ranks.Column(node.Rank)
	}
	depth := 0
	for p := t.index[node.parentID]; p != nil && depth < 32; p = t.index[p.parentID] {
		depth++
	}
	return depth
}

func (t *TreeModel) renderHeader() string {
	r := t.theme.Renderer
	style := r.NewStyle().Foreground(t.theme.Subtext).Bold(true).Underline(true)
	cw := t.columnWidth()
	if len(t.ranks) == 0 {
		return style.Render(runewidth.Truncate(t.ref.Title(), cw, "…"))
	}
	var sb strings.Builder
	for _, rank := range t.ranks {
		name := runewidth.Truncate(rank.Name, cw-1, "…")
		sb.WriteString(style.Render(name))
		sb.WriteString(strings.Repeat(" ", cw-runewidth.StringWidth(name)))
	}
	return strings.TrimRight(sb.String(), " ")
}

func (t *TreeModel) renderNode(node *TreeNode, isSelected bool) string {
	r := t.theme.Renderer
	width := t.width
	if width <= 0 {
		width = 80
	}

	offset := t.column(node) * t.columnWidth()
	if offset > width-8 {
		offset = max(0, width-8)
	}

	label := t.getExpandIndicator(node) + " " + node.Name
	switch {
	case node.state == loading && node.Expanded:
		label += " (loading…)"
	case node.state == loadFailed:
		label += " (failed: " + treeapi.Reason(node.loadErr) + ")"
	}
	srcID, _ := t.action.Source()
	if t.action.Pending() && node.ID == srcID {
		label = "⇢ " + label
	}
	label = runewidth.Truncate(label, width-offset, "…")

	style := r.NewStyle().Foreground(t.theme.Base.GetForeground())
	switch {
	case t.action.Pending() && node.ID == srcID:
		style = style.Foreground(t.theme.Secondary).Bold(true)
	case t.action.CanReceive(node):
		style = style.Foreground(t.theme.Highlight)
	case node.state == loadFailed:
		style = style.Foreground(t.theme.Error)
	}

	line := strings.Repeat(" ", offset) + label
	if isSelected {
		return t.theme.Selected.Render(runewidth.FillRight(line, width))
	}
	return strings.Repeat(" ", offset) + style.Render(label)
}

func (t *TreeModel) getExpandIndicator(node *TreeNode) string {
	switch {
	case !node.HasChildren:
		return "•"
	case node.state == loadFailed:
		return "!"
	case node.Expanded:
		return "▾"
	default:
		return "▸"
	}
}

// SelectedNode returns the currently selected tree node, or nil if none.
func (t *TreeModel) SelectedNode() *TreeNode {
	if t.cursor >= 0 && t.cursor < len(t.flatList) {
		return t.flatList[t.cursor]
	}
	return nil
}

// MoveDown moves the cursor down in the flat list.
func (t *TreeModel) MoveDown() {
	if t.cursor < len(t.flatList)-1 {
		t.cursor++
	}
}

// MoveUp moves the cursor up in the flat list.
func (t *TreeModel) MoveUp() {
	if t.cursor > 0 {
		t.cursor--
	}
}

// JumpToTop moves cursor to the first node.
func (t *TreeModel) JumpToTop() {
	t.cursor = 0
}

// JumpToBottom moves cursor to the last node.
func (t *TreeModel) JumpToBottom() {
	if len(t.flatList) > 0 {
		t.cursor = len(t.flatList) - 1
	}
}

// JumpToParent moves cursor to the parent of the currently selected node.
func (t *TreeModel) JumpToParent() {
	node := t.SelectedNode()
	if node == nil || node.parentID == model.TopOfTree {
		return
	}
	t.SelectByID(node.parentID)
}

// ExpandOrMoveToChild handles the → / l key:
// - collapsed node with children: expand it
// - expanded node with children: move to first child
// - leaf: nothing
func (t *TreeModel) ExpandOrMoveToChild() tea.Cmd {
	node := t.SelectedNode()
	if node == nil || !node.HasChildren {
		return nil
	}
	if !node.Expanded {
		return t.Expand(node)
	}
	if len(node.Children) > 0 && node.state == loaded {
		t.SelectByID(node.Children[0].ID)
	}
	return nil
}

// CollapseOrJumpToParent handles the ← / h key.
func (t *TreeModel) CollapseOrJumpToParent() {
	node := t.SelectedNode()
	if node == nil {
		return
	}
	if node.HasChildren && node.Expanded {
		t.Collapse(node)
		return
	}
	t.JumpToParent()
}

func (t *TreeModel) pageSize() int {
	pageSize := t.height / 2
	if pageSize < 1 {
		pageSize = 5
	}
	return pageSize
}

// PageDown moves cursor down by half a viewport.
func (t *TreeModel) PageDown() {
	t.cursor += t.pageSize()
	if t.cursor >= len(t.flatList) {
		t.cursor = len(t.flatList) - 1
	}
	if t.cursor < 0 {
		t.cursor = 0
	}
}

// PageUp moves cursor up by half a viewport.
func (t *TreeModel) PageUp() {
	t.cursor -= t.pageSize()
	if t.cursor < 0 {
		t.cursor = 0
	}
}

// bodyHeight is the number of rows below the rank header.
func (t *TreeModel) bodyHeight() int {
	h := t.height - 1
	if h <= 0 {
		h = 20
	}
	return h
}

func (t *TreeModel) ensureCursorVisible() {
	h := t.bodyHeight()
	if t.cursor < t.viewportOffset {
		t.viewportOffset = t.cursor
	}
	if t.cursor >= t.viewportOffset+h {
		t.viewportOffset = t.cursor - h + 1
	}
	if t.viewportOffset < 0 {
		t.viewportOffset = 0
	}
}

// visibleRange returns the [start, end) slice of flatList on screen.
func (t *TreeModel) visibleRange() (start, end int) {
	if len(t.flatList) == 0 {
		return 0, 0
	}
	visibleCount := t.bodyHeight()
	start = t.viewportOffset
	end = start + visibleCount
	if end > len(t.flatList) {
		end = len(t.flatList)
		start = max(0, end-visibleCount)
	}
	return start, end
}

// NodeAtRow returns the node drawn on body row y (0 = first row under the
// header).
func (t *TreeModel) NodeAtRow(y int) (*TreeNode, int) {
	start, end := t.visibleRange()
	idx := start + y
	if y < 0 || idx >= end {
		return nil, -1
	}
	return t.flatList[idx], idx
}

// SelectIndex moves the cursor to flat-list index i.
func (t *TreeModel) SelectIndex(i int) {
	if i >= 0 && i < len(t.flatList) {
		t.cursor = i
	}
}

// SelectByID moves cursor to the visible node with the given id.
func (t *TreeModel) SelectByID(id int) bool {
	for i, node := range t.flatList {
		if node.ID == id {
			t.cursor = i
			return true
		}
	}
	return false
}

// GetSelectedID returns the id of the selected node, or 0.
func (t *TreeModel) GetSelectedID() int {
	if node := t.SelectedNode(); node != nil {
		return node.ID
	}
	return 0
}

// rebuildFlatList rebuilds the flattened list of visible nodes.
func (t *TreeModel) rebuildFlatList() {
	selected := t.GetSelectedID()
	t.flatList = t.flatList[:0]
	for _, root := range t.roots {
		t.appendVisible(root)
	}
	if selected != 0 && t.SelectByID(selected) {
		return
	}
	if t.cursor >= len(t.flatList) {
		t.cursor = len(t.flatList) - 1
	}
	if t.cursor < 0 {
		t.cursor = 0
	}
}

// appendVisible adds a node and its visible descendants to flatList.
func (t *TreeModel) appendVisible(node *TreeNode) {
	t.flatList = append(t.flatList, node)
	if node.Expanded && node.state == loaded {
		for _, child := range node.Children {
			t.appendVisible(child)
		}
	}
}

// Node returns the loaded node with id.
func (t *TreeModel) Node(id int) *TreeNode {
	return t.index[id]
}

// Roots returns the root-level nodes.
func (t *TreeModel) Roots() []*TreeNode {
	return t.roots
}

// Ranks returns the rank schema.
func (t *TreeModel) Ranks() model.RankSchema {
	return t.ranks
}

// Location returns the current location identifier.
func (t *TreeModel) Location() location.Location {
	return t.location
}

// Action returns the pending-action slot.
func (t *TreeModel) Action() *ActionMachine {
	return &t.action
}

// Ref returns the tree this model shows.
func (t *TreeModel) Ref() model.TreeRef {
	return t.ref
}

// Service returns the server collaborator.
func (t *TreeModel) Service() TreeService {
	return t.svc
}

// NodeCount returns the total number of visible nodes.
func (t *TreeModel) NodeCount() int {
	return len(t.flatList)
}

// RootCount returns the number of root nodes.
func (t *TreeModel) RootCount() int {
	return len(t.roots)
}
