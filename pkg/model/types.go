package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// TopOfTree is the parent id used to request the root-level rows of a tree.
// Record ids are positive, so zero never names a real node.
const TopOfTree = 0

// TreeRef identifies one hierarchy on the server: the tree table (taxon,
// geography, storage, ...) and the tree definition the rows belong to.
type TreeRef struct {
	Name    string `json:"name" yaml:"name"`
	Table   string `json:"table" yaml:"table"`
	TreeDef int    `json:"treedef" yaml:"treedef"`
}

// Key is the stable identifier used to store per-tree state.
func (r TreeRef) Key() string {
	return fmt.Sprintf("%s/%d", strings.ToLower(r.Table), r.TreeDef)
}

// Title returns the display title for the tree, e.g. "Taxon Tree".
func (r TreeRef) Title() string {
	name := r.Name
	if name == "" {
		name = r.Table
	}
	if name == "" {
		return "Tree"
	}
	return strings.ToUpper(name[:1]) + name[1:] + " Tree"
}

// Row is one child row as returned by the children endpoint.
type Row struct {
	ID          int    `json:"id"`
	Rank        int    `json:"rank"`
	Name        string `json:"name"`
	FullName    string `json:"fullName"`
	HasChildren bool   `json:"hasChildren"`
}

// Rank is one level of a tree definition.
type Rank struct {
	ID     int    `json:"id" yaml:"id"`         // tree definition item id
	RankID int    `json:"rankid" yaml:"rankid"` // ordering value shared by all nodes at this level
	Name   string `json:"name" yaml:"name"`
}

// RankSchema is the ordered set of ranks of a tree, lowest rank id first.
// Each rank occupies one display column.
type RankSchema []Rank

// NewRankSchema sorts ranks ascending by rank id and drops duplicates.
func NewRankSchema(ranks []Rank) RankSchema {
	out := make(RankSchema, 0, len(ranks))
	seen := make(map[int]bool, len(ranks))
	for _, r := range ranks {
		if seen[r.RankID] {
			continue
		}
		seen[r.RankID] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RankID < out[j].RankID })
	return out
}

// Column returns the display column for rankID. Rank ids missing from the
// schema fall into the nearest lower column; ids below the first rank map to
// column 0.
func (s RankSchema) Column(rankID int) int {
	idx := sort.Search(len(s), func(i int) bool { return s[i].RankID > rankID })
	if idx == 0 {
		return 0
	}
	return idx - 1
}

// Lookup returns the rank with the given rank id.
func (s RankSchema) Lookup(rankID int) (Rank, bool) {
	for _, r := range s {
		if r.RankID == rankID {
			return r, true
		}
	}
	return Rank{}, false
}

// Below returns the ranks strictly below rankID (higher rank ids), i.e. the
// levels a child of a node at rankID may occupy.
func (s RankSchema) Below(rankID int) []Rank {
	var out []Rank
	for _, r := range s {
		if r.RankID > rankID {
			out = append(out, r)
		}
	}
	return out
}

// PathEntry is one ancestor returned by the path endpoint.
type PathEntry struct {
	ID   int    `json:"id"`
	Rank *int   `json:"rankid"`
	Name string `json:"name"`
}

// SortPath orders path entries root first (ascending rank) and drops entries
// that carry no rank.
func SortPath(entries []PathEntry) []PathEntry {
	out := make([]PathEntry, 0, len(entries))
	for _, e := range entries {
		if e.Rank != nil {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].Rank < *out[j].Rank })
	return out
}

// PathIDs returns the ids of a sorted path.
func PathIDs(entries []PathEntry) []int {
	ids := make([]int, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// Record is a full server record. Fields the navigator does not know about
// are carried through unchanged so a save never drops them.
type Record map[string]any

// ID returns the record id, or 0 when absent or malformed.
func (r Record) ID() int {
	return r.Int("id")
}

// Int reads an integer field stored as a JSON number.
func (r Record) Int(field string) int {
	switch v := r[field].(type) {
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0
		}
		return n
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// String reads a string field.
func (r Record) String(field string) string {
	if s, ok := r[field].(string); ok {
		return s
	}
	return ""
}

// Parent returns the parent resource URI.
func (r Record) Parent() string {
	return r.String("parent")
}

// SetParent points the record at a new parent resource URI.
func (r Record) SetParent(uri string) {
	r["parent"] = uri
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
