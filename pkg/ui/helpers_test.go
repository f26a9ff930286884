package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/treenav/pkg/location"
	"github.com/Dicklesworthstone/treenav/pkg/model"
)

type fakeNode struct {
	id, parent, rank int
	name             string
}

// fakeService is an in-memory TreeService. Children are ordered by name.
type fakeService struct {
	mu          sync.Mutex
	table       string
	nodes       map[int]*fakeNode
	ranks       model.RankSchema
	failLoad    map[int]error
	saveErr     error
	childCalls  map[int]int
	saved       []model.Record
	created     []model.Record
	nextID      int
	pathEntries map[int][]model.PathEntry
}

func newFakeService() *fakeService {
	s := &fakeService{
		table: "taxon",
		nodes: make(map[int]*fakeNode),
		ranks: model.NewRankSchema([]model.Rank{
			{ID: 1, RankID: 10, Name: "Kingdom"},
			{ID: 2, RankID: 20, Name: "Phylum"},
			{ID: 3, RankID: 30, Name: "Class"},
			{ID: 4, RankID: 40, Name: "Order"},
		}),
		failLoad:    make(map[int]error),
		childCalls:  make(map[int]int),
		nextID:      1000,
		pathEntries: make(map[int][]model.PathEntry),
	}
	for _, n := range []fakeNode{
		{1, 0, 10, "Animalia"},
		{2, 0, 10, "Plantae"},
		{5, 1, 20, "Chordata"},
		{6, 1, 20, "Arthropoda"},
		{7, 2, 20, "Tracheophyta"},
		{10, 5, 30, "Mammalia"},
		{11, 5, 30, "Aves"},
		{12, 6, 30, "Insecta"},
		{20, 10, 40, "Primates"},
	} {
		n := n
		s.nodes[n.id] = &n
	}
	return s
}

func (s *fakeService) childrenLocked(parentID int) []*fakeNode {
	var out []*fakeNode
	for _, n := range s.nodes {
		if n.parent == parentID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (s *fakeService) Children(_ context.Context, parentID int) ([]model.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.childCalls[parentID]++
	if err := s.failLoad[parentID]; err != nil {
		return nil, err
	}
	var rows []model.Row
	for _, n := range s.childrenLocked(parentID) {
		rows = append(rows, model.Row{
			ID:          n.id,
			Rank:        n.rank,
			Name:        n.name,
			FullName:    n.name,
			HasChildren: len(s.childrenLocked(n.id)) > 0,
		})
	}
	return rows, nil
}

func (s *fakeService) Path(_ context.Context, id int) ([]model.PathEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entries, ok := s.pathEntries[id]; ok {
		return entries, nil
	}
	n := s.nodes[id]
	if n == nil {
		return nil, fmt.Errorf("no node %d", id)
	}
	var entries []model.PathEntry
	for ; n != nil; n = s.nodes[n.parent] {
		rank := n.rank
		entries = append(entries, model.PathEntry{ID: n.id, Rank: &rank, Name: n.name})
	}
	return entries, nil
}

func (s *fakeService) Ranks(context.Context) (model.RankSchema, error) {
	return s.ranks, nil
}

func (s *fakeService) Record(_ context.Context, id int) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nodes[id]
	if n == nil {
		return nil, fmt.Errorf("no record %d", id)
	}
	rec := model.Record{
		"id":           float64(n.id),
		"name":         n.name,
		"rankid":       float64(n.rank),
		"version":      float64(1),
		"resource_uri": s.RecordURI(n.id),
	}
	if n.parent != model.TopOfTree {
		rec["parent"] = s.RecordURI(n.parent)
	}
	return rec, nil
}

func (s *fakeService) SaveRecord(_ context.Context, rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, rec)
	n := s.nodes[rec.ID()]
	if n == nil {
		return errors.New("no such record")
	}
	n.parent = s.idFromURI(rec.Parent())
	return nil
}

func (s *fakeService) CreateRecord(_ context.Context, rec model.Record) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, rec)
	s.nextID++
	s.nodes[s.nextID] = &fakeNode{
		id:     s.nextID,
		parent: s.idFromURI(rec.Parent()),
		rank:   rec.Int("rankid"),
		name:   rec.String("name"),
	}
	out := rec.Clone()
	out["id"] = float64(s.nextID)
	return out, nil
}

func (s *fakeService) idFromURI(uri string) int {
	id, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(uri, "/api/specify/"+s.table+"/"), "/"))
	return id
}

func (s *fakeService) RecordURI(id int) string {
	return fmt.Sprintf("/api/specify/%s/%d/", s.table, id)
}

func (s *fakeService) RankURI(rank model.Rank) string {
	return fmt.Sprintf("/api/specify/%streedefitem/%d/", s.table, rank.ID)
}

func (s *fakeService) RecordViewURL(id int) string {
	return fmt.Sprintf("https://specify.example.org/specify/view/%s/%d/", s.table, id)
}

func (s *fakeService) QueryURL(id int) string {
	return fmt.Sprintf("https://specify.example.org/specify/query/fromtree/%s/%d/", s.table, id)
}

func (s *fakeService) calls(parentID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.childCalls[parentID]
}

// memStore is an in-memory LocationStore.
type memStore struct {
	locs     map[string]location.Location
	replaces int
	err      error
}

func newMemStore() *memStore {
	return &memStore{locs: make(map[string]location.Location)}
}

func (m *memStore) Replace(_ context.Context, tree string, loc location.Location) error {
	if m.err != nil {
		return m.err
	}
	m.replaces++
	m.locs[tree] = loc
	return nil
}

func (m *memStore) Load(_ context.Context, tree string) (location.Location, error) {
	return m.locs[tree], nil
}

var testTreeRef = model.TreeRef{Name: "taxon", Table: "taxon", TreeDef: 1}

func newTestTree(t *testing.T, svc *fakeService, loc string) *TreeModel {
	t.Helper()
	parsed, err := location.Parse(loc)
	if err != nil {
		t.Fatalf("parse location %q: %v", loc, err)
	}
	tree := NewTreeModel(TestTheme(), TreeOptions{
		Tree:     testTreeRef,
		Service:  svc,
		Store:    newMemStore(),
		Location: parsed,
	})
	tree.SetSize(80, 30)
	return &tree
}

// execCmd runs cmd and flattens batches into the messages they produce.
func execCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, execCmd(c)...)
		}
		return out
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

// drainTree feeds every message produced by cmd back into tree until no
// work remains, and returns the status messages seen along the way.
func drainTree(t *testing.T, tree *TreeModel, cmd tea.Cmd) []statusMsg {
	t.Helper()
	var statuses []statusMsg
	queue := execCmd(cmd)
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 200 {
			t.Fatal("tree did not settle")
		}
		msg := queue[0]
		queue = queue[1:]
		if s, ok := msg.(statusMsg); ok {
			statuses = append(statuses, s)
			continue
		}
		queue = append(queue, execCmd(tree.Update(msg))...)
	}
	return statuses
}

func visibleIDs(tree *TreeModel) []int {
	ids := make([]int, len(tree.flatList))
	for i, n := range tree.flatList {
		ids[i] = n.ID
	}
	return ids
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
