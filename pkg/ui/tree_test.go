package ui

import (
	"bytes"
	"errors"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/Dicklesworthstone/treenav/pkg/conformation"
	"github.com/Dicklesworthstone/treenav/pkg/model"
)

// TestTreeInitLoadsRootsAndRanks verifies the first fetch fills the roots
// without touching any children.
func TestTreeInitLoadsRootsAndRanks(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "")
	drainTree(t, tree, tree.Init())

	if tree.RootCount() != 2 {
		t.Fatalf("expected 2 roots, got %d", tree.RootCount())
	}
	if len(tree.Ranks()) != 4 {
		t.Errorf("expected 4 ranks, got %d", len(tree.Ranks()))
	}
	for _, root := range tree.Roots() {
		if root.Loaded() || root.Expanded {
			t.Errorf("root %s should be collapsed and unloaded", root.Name)
		}
		if root.ParentID() != model.TopOfTree {
			t.Errorf("root %s parent = %d", root.Name, root.ParentID())
		}
	}
	if svc.calls(1) != 0 || svc.calls(2) != 0 {
		t.Error("children fetched before any expand")
	}
	if !tree.Location().IsEmpty() {
		t.Errorf("location should stay empty, got %q", tree.Location().String())
	}
}

// TestTreeExpandFetchesOnce verifies children are fetched on first expand
// and kept across collapse.
func TestTreeExpandFetchesOnce(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "")
	drainTree(t, tree, tree.Init())

	animalia := tree.Node(1)
	cmd := tree.Expand(animalia)
	if cmd == nil {
		t.Fatal("expected a fetch on first expand")
	}
	if !animalia.Loading() {
		t.Error("node should be loading while the fetch runs")
	}
	drainTree(t, tree, cmd)

	if !animalia.Loaded() || len(animalia.Children) != 2 {
		t.Fatalf("expected 2 loaded children, got %d (loaded=%v)", len(animalia.Children), animalia.Loaded())
	}
	if animalia.Children[0].Name != "Arthropoda" || animalia.Children[1].Name != "Chordata" {
		t.Errorf("children out of server order: %s, %s", animalia.Children[0].Name, animalia.Children[1].Name)
	}
	if want := []int{1, 6, 5, 2}; !equalInts(visibleIDs(tree), want) {
		t.Errorf("visible = %v, want %v", visibleIDs(tree), want)
	}

	tree.Collapse(animalia)
	if got := tree.Expand(animalia); got != nil {
		t.Error("re-expanding a loaded node must not fetch")
	}
	if svc.calls(1) != 1 {
		t.Errorf("expected 1 children fetch, got %d", svc.calls(1))
	}
}

func TestTreeExpandLeafIsNoop(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "")
	drainTree(t, tree, tree.Init())
	drainTree(t, tree, tree.Expand(tree.Node(2)))

	leaf := tree.Node(7)
	if leaf == nil || leaf.HasChildren {
		t.Fatalf("expected leaf Tracheophyta, got %+v", leaf)
	}
	if cmd := tree.Expand(leaf); cmd != nil {
		t.Error("expanding a leaf should not fetch")
	}
	if leaf.Expanded {
		t.Error("leaf should not be marked expanded")
	}
}

// TestTreeStaleChildrenDropped verifies an older response never overwrites
// a newer one.
func TestTreeStaleChildrenDropped(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "")
	drainTree(t, tree, tree.Init())

	animalia := tree.Node(1)
	first := tree.Expand(animalia)
	second := tree.Refresh()
	if second == nil {
		t.Fatal("refresh of a loading node should refetch")
	}

	oldMsg := first()
	svc.nodes[30] = &fakeNode{id: 30, parent: 1, rank: 20, name: "Annelida"}
	newMsg := second()

	tree.Update(newMsg)
	tree.Update(oldMsg)

	if len(animalia.Children) != 3 {
		t.Fatalf("stale response replaced children: got %d, want 3", len(animalia.Children))
	}
	if animalia.Children[0].Name != "Annelida" {
		t.Errorf("first child = %s, want Annelida", animalia.Children[0].Name)
	}
}

func TestTreeChildrenFailure(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "")
	drainTree(t, tree, tree.Init())

	svc.failLoad[1] = errors.New("children unavailable")
	animalia := tree.Node(1)
	statuses := drainTree(t, tree, tree.Expand(animalia))

	if animalia.LoadErr() == nil || animalia.Loaded() {
		t.Fatal("expected a failed load")
	}
	if len(statuses) != 1 || !statuses[0].isError {
		t.Fatalf("expected one error status, got %+v", statuses)
	}
	if !strings.Contains(tree.View(), "(failed: children unavailable)") {
		t.Errorf("failed row not shown:\n%s", tree.View())
	}

	delete(svc.failLoad, 1)
	drainTree(t, tree, tree.Expand(animalia))
	if !animalia.Loaded() || animalia.LoadErr() != nil {
		t.Error("retry should load the children")
	}
}

func TestTreeRootFailureShowsRetry(t *testing.T) {
	svc := newFakeService()
	svc.failLoad[model.TopOfTree] = errors.New("server down")
	tree := newTestTree(t, svc, "")
	drainTree(t, tree, tree.Init())

	view := tree.View()
	if !strings.Contains(view, "server down") || !strings.Contains(view, "Press r to retry") {
		t.Errorf("unexpected empty state:\n%s", view)
	}

	delete(svc.failLoad, model.TopOfTree)
	drainTree(t, tree, tree.Refresh())
	if tree.RootCount() != 2 {
		t.Errorf("retry should load roots, got %d", tree.RootCount())
	}
}

// TestTreeRankWarning verifies a child that does not rank below its parent
// is kept but logged.
func TestTreeRankWarning(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	svc := newFakeService()
	svc.nodes[40] = &fakeNode{id: 40, parent: 5, rank: 20, name: "Misplaced"}
	tree := newTestTree(t, svc, "")
	drainTree(t, tree, tree.Init())
	drainTree(t, tree, tree.Expand(tree.Node(1)))
	drainTree(t, tree, tree.Expand(tree.Node(5)))

	if tree.Node(40) == nil {
		t.Fatal("misranked child should still be shown")
	}
	if !strings.Contains(buf.String(), "is not below its parent") {
		t.Errorf("expected rank warning, log was %q", buf.String())
	}
}

// TestTreeRestoresConformation verifies a stored location reopens the same
// branches with exactly one fetch per expanded node.
func TestTreeRestoresConformation(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "?conformation=~~0~1---")
	drainTree(t, tree, tree.Init())

	if want := []int{1, 6, 5, 11, 10, 2}; !equalInts(visibleIDs(tree), want) {
		t.Errorf("visible = %v, want %v", visibleIDs(tree), want)
	}
	if svc.calls(model.TopOfTree) != 1 || svc.calls(1) != 1 || svc.calls(5) != 1 {
		t.Errorf("unexpected fetch counts: top=%d 1=%d 5=%d",
			svc.calls(model.TopOfTree), svc.calls(1), svc.calls(5))
	}
	if svc.calls(6) != 0 || svc.calls(10) != 0 {
		t.Error("collapsed branches should not be fetched")
	}
	if got := tree.Location().Conformation(); got != "~~0~1---" {
		t.Errorf("conformation = %q, want ~~0~1---", got)
	}
	if tree.Revealing() {
		t.Error("reveal queue should be empty")
	}
}

func TestTreeConformationSlotOutOfRange(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "?conformation=~~0~7---")
	drainTree(t, tree, tree.Init())

	if !tree.Node(1).Expanded {
		t.Error("in-range branch should still expand")
	}
	if got := tree.Location().Conformation(); got != "~~0--" {
		t.Errorf("conformation = %q, want ~~0--", got)
	}
}

func TestTreeMalformedConformationIgnored(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "?conformation=~~0")
	drainTree(t, tree, tree.Init())

	if tree.RootCount() != 2 {
		t.Fatalf("roots should load, got %d", tree.RootCount())
	}
	if tree.NodeCount() != 2 {
		t.Errorf("nothing should be expanded, %d visible", tree.NodeCount())
	}
	if svc.calls(1) != 0 {
		t.Error("malformed conformation caused a fetch")
	}
}

// TestTreeCollapseDuringReveal verifies a collapse issued while a restore
// fetch is in flight wins over the queued expansion.
func TestTreeCollapseDuringReveal(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "?conformation=~~0--")

	var pending []func()
	for _, msg := range execCmd(tree.Init()) {
		msg := msg
		if cmd := tree.Update(msg); cmd != nil {
			pending = append(pending, func() { drainTree(t, tree, cmd) })
		}
	}
	animalia := tree.Node(1)
	if animalia == nil || !animalia.Loading() {
		t.Fatal("restore should be fetching Animalia")
	}

	tree.Collapse(animalia)
	for _, run := range pending {
		run()
	}

	if animalia.Expanded {
		t.Error("collapse during the fetch should win")
	}
	if !animalia.Loaded() {
		t.Error("children should still be kept")
	}
	if got := tree.Location().Conformation(); got != "" {
		t.Errorf("conformation = %q, want none", got)
	}
}

func TestTreeApplyConformation(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "")
	drainTree(t, tree, tree.Init())

	conf := conformation.Conformation{{Slot: 0}, {Slot: 1}}
	drainTree(t, tree, tree.ApplyConformation(conf))

	if !tree.Node(1).Expanded || !tree.Node(2).Expanded {
		t.Error("both roots should be expanded")
	}
	if !tree.CurrentConformation().Equal(conf) {
		t.Errorf("CurrentConformation = %#v", tree.CurrentConformation())
	}
	if got := tree.Location().Conformation(); got != "~~0-~1--" {
		t.Errorf("conformation = %q, want ~~0-~1--", got)
	}
}

// TestTreeRevealNode verifies the path is sorted by rank, rankless entries
// are skipped and the target ends up selected.
func TestTreeRevealNode(t *testing.T) {
	svc := newFakeService()
	r10, r20, r30, r40 := 10, 20, 30, 40
	svc.pathEntries[20] = []model.PathEntry{
		{ID: 20, Rank: &r40, Name: "Primates"},
		{ID: 5, Rank: &r20, Name: "Chordata"},
		{ID: 99, Name: "Life"},
		{ID: 1, Rank: &r10, Name: "Animalia"},
		{ID: 10, Rank: &r30, Name: "Mammalia"},
	}
	tree := newTestTree(t, svc, "")
	drainTree(t, tree, tree.Init())
	drainTree(t, tree, tree.RevealNode(20))

	if got := tree.GetSelectedID(); got != 20 {
		t.Errorf("selected = %d, want 20", got)
	}
	for _, id := range []int{1, 5, 10} {
		if !tree.Node(id).Expanded {
			t.Errorf("ancestor %d should be expanded", id)
		}
	}
	if got := tree.Location().Conformation(); got != "~~0~1~1----" {
		t.Errorf("conformation = %q, want ~~0~1~1----", got)
	}
}

func TestTreeRevealUnknownNode(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "")
	drainTree(t, tree, tree.Init())

	statuses := drainTree(t, tree, tree.RevealNode(404))
	if len(statuses) != 1 || !statuses[0].isError {
		t.Fatalf("expected an error status, got %+v", statuses)
	}
	if tree.NodeCount() != 2 {
		t.Error("a failed reveal should not change the tree")
	}
}

func TestTreeCollapseAllClearsLocation(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "?conformation=~~0~1---")
	drainTree(t, tree, tree.Init())

	tree.CollapseAll()
	if tree.NodeCount() != 2 {
		t.Errorf("expected 2 visible after collapse all, got %d", tree.NodeCount())
	}
	if !tree.Location().IsEmpty() {
		t.Errorf("location = %q, want empty", tree.Location().String())
	}
	store := tree.store.(*memStore)
	if store.locs[testTreeRef.Key()].Conformation() != "" {
		t.Error("stored location should drop the conformation")
	}
}

func TestTreeLocationKeepsOtherParameters(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "?focus=12")
	drainTree(t, tree, tree.Init())
	drainTree(t, tree, tree.Expand(tree.Node(2)))

	loc := tree.Location()
	if loc.Get("focus") != "12" {
		t.Errorf("focus parameter lost: %q", loc.String())
	}
	if loc.Conformation() != "~~1--" {
		t.Errorf("conformation = %q, want ~~1--", loc.Conformation())
	}
}

// TestTreeNavigation verifies the cursor keys over a partly expanded tree.
func TestTreeNavigation(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "?conformation=~~0~1---")
	drainTree(t, tree, tree.Init())
	// Animalia, Arthropoda, Chordata, Aves, Mammalia, Plantae

	tree.JumpToTop()
	if tree.GetSelectedID() != 1 {
		t.Errorf("top = %d", tree.GetSelectedID())
	}
	tree.MoveDown()
	tree.MoveDown()
	tree.MoveDown()
	if tree.GetSelectedID() != 11 {
		t.Errorf("after 3 downs = %d, want 11", tree.GetSelectedID())
	}
	tree.JumpToParent()
	if tree.GetSelectedID() != 5 {
		t.Errorf("parent = %d, want 5", tree.GetSelectedID())
	}
	tree.CollapseOrJumpToParent()
	if tree.Node(5).Expanded {
		t.Error("h on an expanded node should collapse it")
	}
	tree.CollapseOrJumpToParent()
	if tree.GetSelectedID() != 1 {
		t.Errorf("h on a collapsed node should jump to parent, got %d", tree.GetSelectedID())
	}
	tree.JumpToBottom()
	if tree.GetSelectedID() != 2 {
		t.Errorf("bottom = %d, want 2", tree.GetSelectedID())
	}
	tree.MoveDown()
	if tree.GetSelectedID() != 2 {
		t.Error("MoveDown past the end should stay put")
	}

	tree.JumpToTop()
	if cmd := tree.ExpandOrMoveToChild(); cmd != nil {
		t.Error("expanded node should move to its child, not fetch")
	}
	if tree.GetSelectedID() != 6 {
		t.Errorf("first child = %d, want 6", tree.GetSelectedID())
	}
}

func TestTreeNodeAtRow(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "?conformation=~~0--")
	drainTree(t, tree, tree.Init())

	node, idx := tree.NodeAtRow(2)
	if node == nil || node.ID != 5 || idx != 2 {
		t.Errorf("row 2 = %+v (%d), want Chordata", node, idx)
	}
	if node, _ := tree.NodeAtRow(10); node != nil {
		t.Error("row past the end should be empty")
	}
	if node, _ := tree.NodeAtRow(-1); node != nil {
		t.Error("negative row should be empty")
	}
}

// TestTreeViewRankColumns verifies rows are indented by rank column.
func TestTreeViewRankColumns(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "?conformation=~~0--")
	drainTree(t, tree, tree.Init())

	lines := strings.Split(tree.View(), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected header + 4 rows, got %d:\n%s", len(lines), tree.View())
	}
	for _, name := range []string{"Kingdom", "Phylum", "Class", "Order"} {
		if !strings.Contains(lines[0], name) {
			t.Errorf("header missing %s: %q", name, lines[0])
		}
	}
	// 80 columns over 4 ranks: phylum rows start at column 20.
	row := lines[2]
	if !strings.HasPrefix(row, strings.Repeat(" ", 20)+"▸ Arthropoda") {
		t.Errorf("Arthropoda row = %q", row)
	}
	if !strings.Contains(lines[1], "▾ Animalia") {
		t.Errorf("Animalia row = %q", lines[1])
	}
}

func TestTreeColumnFallsBackToDepth(t *testing.T) {
	svc := newFakeService()
	tree := newTestTree(t, svc, "")
	tree.SetSize(80, 30)
	// Roots only; ranks never arrive.
	for _, msg := range execCmd(tree.Init()) {
		if _, ok := msg.(ranksLoadedMsg); ok {
			continue
		}
		drainTree(t, tree, tree.Update(msg))
	}
	drainTree(t, tree, tree.Expand(tree.Node(1)))

	if got := tree.column(tree.Node(5)); got != 1 {
		t.Errorf("column = %d, want depth 1", got)
	}
	if got := tree.column(tree.Node(1)); got != 0 {
		t.Errorf("root column = %d, want 0", got)
	}
}

func TestExpandIndicator(t *testing.T) {
	tree := NewTreeModel(TestTheme(), TreeOptions{Tree: testTreeRef})
	tests := []struct {
		name string
		node TreeNode
		want string
	}{
		{"leaf", TreeNode{}, "•"},
		{"collapsed", TreeNode{HasChildren: true}, "▸"},
		{"expanded", TreeNode{HasChildren: true, Expanded: true}, "▾"},
		{"failed", TreeNode{HasChildren: true, state: loadFailed}, "!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tree.getExpandIndicator(&tt.node); got != tt.want {
				t.Errorf("indicator = %q, want %q", got, tt.want)
			}
		})
	}
}
