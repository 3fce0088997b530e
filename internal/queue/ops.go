package queue

import (
	"fmt"

	"climbSync/internal/domain"
)

type Kind string

const (
	ReplaceQueue Kind = "replace-queue"
	AddItem      Kind = "add-item"
	RemoveItem   Kind = "remove-item"
	ReorderItem  Kind = "reorder-item"
	SetCurrent   Kind = "set-current-item"
	ToggleMirror Kind = "toggle-mirror"
	ReplaceItem  Kind = "replace-item"
)

// Op is one queue mutation. Which fields are read depends on Kind:
//
//	ReplaceQueue  Queue, Item (new current item, may be nil)
//	AddItem       Item, Position (nil appends)
//	RemoveItem    UUID
//	ReorderItem   UUID, From, To
//	SetCurrent    Item (nil clears), AddToQueue
//	ToggleMirror  Mirrored
//	ReplaceItem   UUID, Item
type Op struct {
	Kind       Kind
	Queue      []domain.QueueItem
	Item       *domain.QueueItem
	Position   *int
	UUID       string
	From, To   int
	Mirrored   bool
	AddToQueue bool
}

// Outcome is the state produced by Apply. QueueChanged and CurrentChanged
// decide which write path is used; when both are false nothing is written.
type Outcome struct {
	Queue          []domain.QueueItem
	Current        *domain.QueueItem
	QueueChanged   bool
	CurrentChanged bool
}

// Apply computes the result of op against st without touching st.
func Apply(st domain.QueueState, op Op) (Outcome, error) {
	out := Outcome{
		Queue:   domain.CloneItems(st.Queue),
		Current: domain.CloneItem(st.CurrentItem),
	}

	switch op.Kind {
	case ReplaceQueue:
		out.Queue = domain.CloneItems(op.Queue)
		out.Current = domain.CloneItem(op.Item)
		out.QueueChanged, out.CurrentChanged = true, true

	case AddItem:
		if op.Item == nil || op.Item.UUID == "" {
			return Outcome{}, fmt.Errorf("%s: %w: item with uuid required", op.Kind, domain.ErrInvalidOp)
		}
		if domain.IndexOf(out.Queue, op.Item.UUID) >= 0 {
			return out, nil
		}
		it := op.Item.Clone()
		if op.Position != nil && *op.Position >= 0 && *op.Position < len(out.Queue) {
			p := *op.Position
			out.Queue = append(out.Queue[:p], append([]domain.QueueItem{it}, out.Queue[p:]...)...)
		} else {
			out.Queue = append(out.Queue, it)
		}
		out.QueueChanged = true

	case RemoveItem:
		if op.UUID == "" {
			return Outcome{}, fmt.Errorf("%s: %w: uuid required", op.Kind, domain.ErrInvalidOp)
		}
		if i := domain.IndexOf(out.Queue, op.UUID); i >= 0 {
			out.Queue = append(out.Queue[:i], out.Queue[i+1:]...)
			out.QueueChanged = true
		}
		if out.Current != nil && out.Current.UUID == op.UUID {
			out.Current = nil
			out.CurrentChanged = true
		}

	case ReorderItem:
		n := len(out.Queue)
		if op.From < 0 || op.From >= n || op.To < 0 || op.To >= n || op.From == op.To {
			return out, nil
		}
		if op.UUID != "" && out.Queue[op.From].UUID != op.UUID {
			return out, nil
		}
		moved := out.Queue[op.From]
		rest := append(out.Queue[:op.From:op.From], out.Queue[op.From+1:]...)
		out.Queue = append(rest[:op.To:op.To], append([]domain.QueueItem{moved}, rest[op.To:]...)...)
		out.QueueChanged = true

	case SetCurrent:
		out.Current = domain.CloneItem(op.Item)
		out.CurrentChanged = true
		if op.AddToQueue && op.Item != nil && domain.IndexOf(out.Queue, op.Item.UUID) < 0 {
			out.Queue = append(out.Queue, op.Item.Clone())
			out.QueueChanged = true
		}

	case ToggleMirror:
		if out.Current == nil {
			return out, nil
		}
		out.Current.Climb.Mirrored = op.Mirrored
		out.CurrentChanged = true
		if i := domain.IndexOf(out.Queue, out.Current.UUID); i >= 0 {
			out.Queue[i].Climb.Mirrored = op.Mirrored
			out.QueueChanged = true
		}

	case ReplaceItem:
		if op.UUID == "" || op.Item == nil {
			return Outcome{}, fmt.Errorf("%s: %w: uuid and item required", op.Kind, domain.ErrInvalidOp)
		}
		if i := domain.IndexOf(out.Queue, op.UUID); i >= 0 {
			out.Queue[i] = op.Item.Clone()
			out.QueueChanged = true
		}
		if out.Current != nil && out.Current.UUID == op.UUID {
			out.Current = domain.CloneItem(op.Item)
			out.CurrentChanged = true
		}

	default:
		return Outcome{}, fmt.Errorf("%q: %w", op.Kind, domain.ErrInvalidOp)
	}
	return out, nil
}
