package ui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/treenav/pkg/model"
)

// ActionState is the phase of the tree-wide pending action.
type ActionState int

const (
	ActionIdle        ActionState = iota // nothing pending
	ActionArmed                          // a node is picked up, waiting for a receiver
	ActionReconciling                    // the new parent is being saved
)

func (s ActionState) String() string {
	switch s {
	case ActionIdle:
		return "idle"
	case ActionArmed:
		return "armed"
	case ActionReconciling:
		return "reconciling"
	default:
		return fmt.Sprintf("ActionState(%d)", int(s))
	}
}

var (
	// ErrActionPending is returned when an action is started while another
	// one has not finished.
	ErrActionPending = errors.New("another action is pending")
	// ErrRankOrder is returned when the receiver does not rank strictly above
	// the node being moved.
	ErrRankOrder = errors.New("receiver must rank above the node being moved")
	// ErrNotArmed is returned by BeginReceive when nothing was picked up.
	ErrNotArmed = errors.New("no move is pending")
)

// ActionMachine is the single pending-action slot of a tree. It records ids
// only; the nodes themselves stay owned by the tree.
type ActionMachine struct {
	state      ActionState
	sourceID   int
	sourceRank int
	sourceName string
	receiverID int
}

// State returns the current phase.
func (a *ActionMachine) State() ActionState {
	return a.state
}

// Pending reports whether an action is armed or reconciling.
func (a *ActionMachine) Pending() bool {
	return a.state != ActionIdle
}

// Source returns the id and name of the node being moved.
func (a *ActionMachine) Source() (int, string) {
	return a.sourceID, a.sourceName
}

// Receiver returns the id of the chosen receiver while reconciling.
func (a *ActionMachine) Receiver() int {
	return a.receiverID
}

// Arm picks node up as the source of a move.
func (a *ActionMachine) Arm(node *TreeNode) error {
	if a.state != ActionIdle {
		return ErrActionPending
	}
	if node == nil {
		return errors.New("no node selected")
	}
	a.state = ActionArmed
	a.sourceID = node.ID
	a.sourceRank = node.Rank
	a.sourceName = node.Name
	a.receiverID = 0
	return nil
}

// Cancel drops an armed action. It does nothing while reconciling.
func (a *ActionMachine) Cancel() bool {
	if a.state != ActionArmed {
		return false
	}
	a.reset()
	return true
}

// CanReceive reports whether node may become the new parent of the source.
func (a *ActionMachine) CanReceive(node *TreeNode) bool {
	return a.state == ActionArmed &&
		node != nil &&
		node.ID != a.sourceID &&
		node.Rank < a.sourceRank
}

// BeginReceive commits node as the receiver.
func (a *ActionMachine) BeginReceive(node *TreeNode) error {
	switch a.state {
	case ActionIdle:
		return ErrNotArmed
	case ActionReconciling:
		return ErrActionPending
	}
	if !a.CanReceive(node) {
		return ErrRankOrder
	}
	a.state = ActionReconciling
	a.receiverID = node.ID
	return nil
}

// Finish returns to idle once reconciliation is done, whatever the outcome.
func (a *ActionMachine) Finish() {
	a.reset()
}

func (a *ActionMachine) reset() {
	*a = ActionMachine{}
}

// reconcileCmd moves sourceID under receiverID on the server. Both records
// are fetched fresh so the save never works from stale local data.
func reconcileCmd(svc TreeService, tree string, sourceID, receiverID, formerParentID int) tea.Cmd {
	return func() tea.Msg {
		result := moveResultMsg{
			tree:           tree,
			sourceID:       sourceID,
			receiverID:     receiverID,
			formerParentID: formerParentID,
		}

		var receiver, target model.Record
		g, ctx := errgroup.WithContext(context.Background())
		g.Go(func() error {
			rec, err := svc.Record(ctx, receiverID)
			receiver = rec
			return err
		})
		g.Go(func() error {
			rec, err := svc.Record(ctx, sourceID)
			target = rec
			return err
		})
		if err := g.Wait(); err != nil {
			result.err = err
			return result
		}

		uri := receiver.String("resource_uri")
		if uri == "" {
			uri = svc.RecordURI(receiverID)
		}
		if target.Parent() == uri {
			// Already there; reload only.
			return result
		}
		target = target.Clone()
		target.SetParent(uri)
		result.err = svc.SaveRecord(context.Background(), target)
		return result
	}
}
