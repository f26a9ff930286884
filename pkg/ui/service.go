package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/treenav/pkg/location"
	"github.com/Dicklesworthstone/treenav/pkg/model"
)

// TreeService is the server side of one tree. *treeapi.Client implements it.
type TreeService interface {
	Children(ctx context.Context, parentID int) ([]model.Row, error)
	Path(ctx context.Context, id int) ([]model.PathEntry, error)
	Ranks(ctx context.Context) (model.RankSchema, error)
	Record(ctx context.Context, id int) (model.Record, error)
	SaveRecord(ctx context.Context, rec model.Record) error
	CreateRecord(ctx context.Context, rec model.Record) (model.Record, error)

	RecordURI(id int) string
	RankURI(rank model.Rank) string
	RecordViewURL(id int) string
	QueryURL(id int) string
}

// LocationStore persists the current location of each tree.
// *location.Store implements it.
type LocationStore interface {
	Replace(ctx context.Context, tree string, loc location.Location) error
	Load(ctx context.Context, tree string) (location.Location, error)
}

// Messages produced by the async commands. Each carries the key of the tree
// that issued it so results that arrive after a tree switch are ignored.

type childrenLoadedMsg struct {
	tree     string
	parentID int
	gen      int
	rows     []model.Row
	err      error
}

type ranksLoadedMsg struct {
	tree  string
	ranks model.RankSchema
	err   error
}

type pathLoadedMsg struct {
	tree    string
	id      int
	entries []model.PathEntry
	err     error
}

type moveResultMsg struct {
	tree           string
	sourceID       int
	receiverID     int
	formerParentID int
	err            error
}

type childCreatedMsg struct {
	tree     string
	parentID int
	name     string
	record   model.Record
	err      error
}

type recordLoadedMsg struct {
	tree   string
	id     int
	record model.Record
	err    error
}

// statusMsg sets the status bar text.
type statusMsg struct {
	text    string
	isError bool
}

func statusCmd(text string, isError bool) tea.Cmd {
	return func() tea.Msg {
		return statusMsg{text: text, isError: isError}
	}
}
