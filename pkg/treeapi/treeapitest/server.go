// Package treeapitest provides an in-memory tree server speaking the same
// routes as the real one, for tests.
package treeapitest

import (
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/Dicklesworthstone/treenav/pkg/model"
)

// Route names used by Calls.
const (
	RouteChildren = "children"
	RoutePath     = "path"
	RouteRanks    = "ranks"
	RouteGet      = "get"
	RoutePut      = "put"
	RoutePost     = "post"
)

// Node is one stored tree record.
type Node struct {
	ID       int
	ParentID int
	RankID   int
	Name     string
	Version  int
	Remarks  string
}

// Server is a concurrency-safe fake of the tree endpoints for a single table.
type Server struct {
	Table   string
	TreeDef int

	mu     sync.Mutex
	nodes  map[int]*Node
	ranks  model.RankSchema
	nextID int
	calls  map[string]int

	// FailSave makes every PUT fail with a 400 carrying this message.
	FailSave string
	// FailChildren makes children requests for these parent ids fail with 500.
	FailChildren map[int]bool
}

// New returns an empty server for table.
func New(table string, treeDef int, ranks []model.Rank) *Server {
	return &Server{
		Table:        strings.ToLower(table),
		TreeDef:      treeDef,
		nodes:        make(map[int]*Node),
		ranks:        model.NewRankSchema(ranks),
		nextID:       1000,
		calls:        make(map[string]int),
		FailChildren: make(map[int]bool),
	}
}

// SampleTaxonomy returns a small taxon tree:
//
//	Animalia(1) ─┬─ Chordata(5) ─┬─ Mammalia(10) ── Primates(20)
//	             │               └─ Aves(11)
//	             └─ Arthropoda(6) ── Insecta(12)
//	Plantae(2) ──── Tracheophyta(7)
func SampleTaxonomy() *Server {
	s := New("taxon", 1, []model.Rank{
		{ID: 1, RankID: 10, Name: "Kingdom"},
		{ID: 2, RankID: 20, Name: "Phylum"},
		{ID: 3, RankID: 30, Name: "Class"},
		{ID: 4, RankID: 40, Name: "Order"},
	})
	s.AddNode(1, model.TopOfTree, 10, "Animalia")
	s.AddNode(2, model.TopOfTree, 10, "Plantae")
	s.AddNode(5, 1, 20, "Chordata")
	s.AddNode(6, 1, 20, "Arthropoda")
	s.AddNode(7, 2, 20, "Tracheophyta")
	s.AddNode(10, 5, 30, "Mammalia")
	s.AddNode(11, 5, 30, "Aves")
	s.AddNode(12, 6, 30, "Insecta")
	s.AddNode(20, 10, 40, "Primates")
	return s
}

// AddNode stores a node.
func (s *Server) AddNode(id, parentID, rankID int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = &Node{ID: id, ParentID: parentID, RankID: rankID, Name: name, Version: 1}
}

// Ranks returns the configured rank schema.
func (s *Server) Ranks() model.RankSchema {
	return s.ranks
}

// ParentOf returns the stored parent of id.
func (s *Server) ParentOf(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[id]; ok {
		return n.ParentID
	}
	return -1
}

// Calls returns how many requests hit route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// ResetCalls zeroes the request counters.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

// Handler returns the chi router serving the tree routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/specify_tree/"+s.Table, func(r chi.Router) {
		r.Get("/{node}/path/", s.handlePath)
		r.Get("/{node}/{parent}/", s.handleChildren)
	})
	r.Get("/api/specify/"+s.Table+"treedefitem/", s.handleRanks)
	r.Route("/api/specify/"+s.Table, func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/{id}/", s.handleGet)
		r.Put("/{id}/", s.handlePut)
	})
	return r
}

func (s *Server) count(route string) {
	s.calls[route]++
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count(RouteChildren)

	if chi.URLParam(r, "node") != strconv.Itoa(s.TreeDef) {
		writeError(w, http.StatusNotFound, "unknown tree definition")
		return
	}
	parentID := model.TopOfTree
	if raw := chi.URLParam(r, "parent"); raw != "null" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid parent id: "+raw)
			return
		}
		parentID = id
	}
	if s.FailChildren[parentID] {
		writeError(w, http.StatusInternalServerError, "children unavailable")
		return
	}

	rows := []model.Row{}
	for _, n := range s.childrenOf(parentID) {
		rows = append(rows, model.Row{
			ID:          n.ID,
			Rank:        n.RankID,
			Name:        n.Name,
			FullName:    s.fullName(n),
			HasChildren: len(s.childrenOf(n.ID)) > 0,
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count(RoutePath)

	id, err := strconv.Atoi(chi.URLParam(r, "node"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	n, ok := s.nodes[id]
	if !ok {
		writeError(w, http.StatusNotFound, "no such node")
		return
	}
	out := map[string]any{"resource_uri": s.uri(id)}
	for cur := n; cur != nil; cur = s.nodes[cur.ParentID] {
		key := strconv.Itoa(cur.RankID)
		if rank, ok := s.ranks.Lookup(cur.RankID); ok {
			key = rank.Name
		}
		out[key] = map[string]any{"id": cur.ID, "rankid": cur.RankID, "name": cur.Name}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRanks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count(RouteRanks)

	if r.URL.Query().Get("treedef") != strconv.Itoa(s.TreeDef) {
		writeJSON(w, http.StatusOK, map[string]any{"objects": []model.Rank{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": s.ranks})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count(RouteGet)

	n, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.record(n))
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count(RoutePut)

	n, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if s.FailSave != "" {
		writeError(w, http.StatusBadRequest, s.FailSave)
		return
	}
	var body struct {
		Parent  *string `json:"parent"`
		Name    string  `json:"name"`
		Version int     `json:"version"`
		Remarks string  `json:"remarks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if body.Version != n.Version {
		writeError(w, http.StatusConflict, fmt.Sprintf("stale version %d, current is %d", body.Version, n.Version))
		return
	}

	newParent := model.TopOfTree
	if body.Parent != nil {
		id, err := s.idFromURI(*body.Parent)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		newParent = id
	}
	if newParent != model.TopOfTree {
		p, ok := s.nodes[newParent]
		if !ok {
			writeError(w, http.StatusBadRequest, "parent does not exist")
			return
		}
		if s.isDescendant(newParent, n.ID) {
			writeError(w, http.StatusBadRequest, "move would create a cycle")
			return
		}
		if p.RankID >= n.RankID {
			writeError(w, http.StatusBadRequest, "parent rank must be above the node's rank")
			return
		}
	}

	n.ParentID = newParent
	if body.Name != "" {
		n.Name = body.Name
	}
	n.Remarks = body.Remarks
	n.Version++
	writeJSON(w, http.StatusOK, s.record(n))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count(RoutePost)

	var body struct {
		Name   string `json:"name"`
		Parent string `json:"parent"`
		RankID int    `json:"rankid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	parentID, err := s.idFromURI(body.Parent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	parent, ok := s.nodes[parentID]
	if !ok {
		writeError(w, http.StatusBadRequest, "parent does not exist")
		return
	}
	if body.RankID <= parent.RankID {
		writeError(w, http.StatusBadRequest, "child rank must be below the parent's rank")
		return
	}
	s.nextID++
	n := &Node{ID: s.nextID, ParentID: parentID, RankID: body.RankID, Name: body.Name, Version: 1}
	s.nodes[n.ID] = n
	writeJSON(w, http.StatusCreated, s.record(n))
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Node, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}
	n, ok := s.nodes[id]
	if !ok {
		writeError(w, http.StatusNotFound, "no such record")
		return nil, false
	}
	return n, true
}

func (s *Server) childrenOf(parentID int) []*Node {
	var out []*Node
	for _, n := range s.nodes {
		if n.ParentID == parentID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) isDescendant(id, ancestor int) bool {
	for cur, ok := s.nodes[id]; ok; cur, ok = s.nodes[cur.ParentID] {
		if cur.ID == ancestor {
			return true
		}
	}
	return false
}

func (s *Server) fullName(n *Node) string {
	var parts []string
	for cur, ok := n, true; ok; cur, ok = s.nodes[cur.ParentID] {
		parts = append([]string{cur.Name}, parts...)
	}
	return strings.Join(parts, " ")
}

func (s *Server) uri(id int) string {
	return fmt.Sprintf("/api/specify/%s/%d/", s.Table, id)
}

func (s *Server) idFromURI(uri string) (int, error) {
	prefix := "/api/specify/" + s.Table + "/"
	if !strings.HasPrefix(uri, prefix) {
		return 0, fmt.Errorf("invalid resource uri %q", uri)
	}
	id, err := strconv.Atoi(strings.Trim(strings.TrimPrefix(uri, prefix), "/"))
	if err != nil {
		return 0, fmt.Errorf("invalid resource uri %q", uri)
	}
	return id, nil
}

func (s *Server) record(n *Node) map[string]any {
	var parent any
	if n.ParentID != model.TopOfTree {
		parent = s.uri(n.ParentID)
	}
	rec := map[string]any{
		"id":           n.ID,
		"name":         n.Name,
		"fullname":     s.fullName(n),
		"rankid":       n.RankID,
		"parent":       parent,
		"version":      n.Version,
		"remarks":      n.Remarks,
		"resource_uri": s.uri(n.ID),
	}
	if rank, ok := s.ranks.Lookup(n.RankID); ok {
		rec["definitionitem"] = fmt.Sprintf("/api/specify/%streedefitem/%d/", s.Table, rank.ID)
	}
	return rec
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("treeapitest: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
