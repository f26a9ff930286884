package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/Dicklesworthstone/treenav/pkg/model"
)

// AddChildModel is the dialog that creates a new record under a node.
type AddChildModel struct {
	parent *TreeNode
	ranks  []model.Rank
	form   *huh.Form

	name   string
	rankID int
}

// NewAddChild builds the dialog for parent. It fails when no rank sits below
// the parent's.
func NewAddChild(parent *TreeNode, schema model.RankSchema, theme Theme) (*AddChildModel, error) {
	if parent == nil {
		return nil, errors.New("no node selected")
	}
	ranks := schema.Below(parent.Rank)
	if len(ranks) == 0 {
		return nil, fmt.Errorf("nothing ranks below %s", parent.Name)
	}

	a := &AddChildModel{parent: parent, ranks: ranks, rankID: ranks[0].RankID}
	options := make([]huh.Option[int], len(ranks))
	for i, r := range ranks {
		options[i] = huh.NewOption(r.Name, r.RankID)
	}
	a.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Add child under " + parent.Name).
				Placeholder("name").
				Value(&a.name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("name is required")
					}
					return nil
				}),
			huh.NewSelect[int]().
				Title("Rank").
				Options(options...).
				Value(&a.rankID),
		),
	).WithShowHelp(true).WithTheme(huh.ThemeCharm())
	return a, nil
}

// Init starts the form.
func (a *AddChildModel) Init() tea.Cmd {
	return a.form.Init()
}

// Update forwards input to the form.
func (a *AddChildModel) Update(msg tea.Msg) tea.Cmd {
	f, cmd := a.form.Update(msg)
	if form, ok := f.(*huh.Form); ok {
		a.form = form
	}
	return cmd
}

// Done reports whether the form was submitted.
func (a *AddChildModel) Done() bool {
	return a.form.State == huh.StateCompleted
}

// Aborted reports whether the user backed out.
func (a *AddChildModel) Aborted() bool {
	return a.form.State == huh.StateAborted
}

// View renders the form.
func (a *AddChildModel) View() string {
	return a.form.View()
}

// Parent returns the node the child goes under.
func (a *AddChildModel) Parent() *TreeNode {
	return a.parent
}

// Ranks returns the rank choices offered.
func (a *AddChildModel) Ranks() []model.Rank {
	return a.ranks
}

func (a *AddChildModel) rank() (model.Rank, bool) {
	for _, r := range a.ranks {
		if r.RankID == a.rankID {
			return r, true
		}
	}
	return model.Rank{}, false
}

// createChildCmd posts the new record under parent.
func createChildCmd(svc TreeService, tree string, parent *TreeNode, name string, rank model.Rank) tea.Cmd {
	parentID := parent.ID
	rec := model.Record{
		"name":           strings.TrimSpace(name),
		"parent":         svc.RecordURI(parentID),
		"rankid":         rank.RankID,
		"definitionitem": svc.RankURI(rank),
	}
	return func() tea.Msg {
		created, err := svc.CreateRecord(context.Background(), rec)
		return childCreatedMsg{tree: tree, parentID: parentID, name: rec.String("name"), record: created, err: err}
	}
}
