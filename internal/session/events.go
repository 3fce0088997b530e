package session

import (
	"encoding/json"

	"climbSync/internal/domain"
	"climbSync/internal/queue"
	"climbSync/internal/rooms"
)

// Outbound event types.
const (
	EventSessionJoined     = "session-joined"
	EventSessionEnded      = "session-ended"
	EventMemberJoined      = "member-joined"
	EventMemberLeft        = "member-left"
	EventMemberUpdated     = "member-updated"
	EventLeaderChanged     = "leader-changed"
	EventQueueItemAdded    = "queue-item-added"
	EventQueueItemRemoved  = "queue-item-removed"
	EventQueueReordered    = "queue-reordered"
	EventCurrentChanged    = "current-item-changed"
	EventQueueReplaced     = "queue-replaced"
	EventQueueItemReplaced = "queue-item-replaced"
	EventMirrorToggled     = "mirror-toggled"
	EventFullResync        = "full-resync"
	EventsReplay           = "events-replay"
)

// Envelope is the frame written to clients for every outbound event.
type Envelope struct {
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type sessionJoined struct {
	ClientID     string            `json:"clientId"`
	RoomID       string            `json:"roomId"`
	Members      []rooms.Member    `json:"members"`
	Queue        domain.QueueState `json:"queueState"`
	IsLeader     bool              `json:"isLeader"`
	RoomSwitched bool              `json:"roomSwitched"`
}

type sessionEnded struct {
	Reason    string `json:"reason"`
	RoomID    string `json:"roomId"`
	NewRoomID string `json:"newRoomId,omitempty"`
	BoardPath string `json:"boardPath,omitempty"`
}

type memberJoined struct {
	Member rooms.Member `json:"member"`
}

type memberLeft struct {
	ClientID string `json:"clientId"`
}

type leaderChanged struct {
	LeaderID string `json:"leaderId"`
}

type replay struct {
	Events  []queue.Event `json:"events"`
	Version int64         `json:"version"`
}

// queueEvent describes the broadcast for a successful mutation.
func queueEvent(op queue.Op, before domain.QueueState, after domain.QueueState) (string, any) {
	switch op.Kind {
	case queue.AddItem:
		return EventQueueItemAdded, struct {
			Item     domain.QueueItem `json:"item"`
			Position int              `json:"position"`
		}{Item: *op.Item, Position: domain.IndexOf(after.Queue, op.Item.UUID)}
	case queue.RemoveItem:
		return EventQueueItemRemoved, struct {
			UUID           string `json:"uuid"`
			CurrentCleared bool   `json:"currentCleared"`
		}{UUID: op.UUID, CurrentCleared: before.CurrentItem != nil && after.CurrentItem == nil}
	case queue.ReorderItem:
		moved := ""
		if op.To >= 0 && op.To < len(after.Queue) {
			moved = after.Queue[op.To].UUID
		}
		return EventQueueReordered, struct {
			UUID     string `json:"uuid"`
			OldIndex int    `json:"oldIndex"`
			NewIndex int    `json:"newIndex"`
		}{UUID: moved, OldIndex: op.From, NewIndex: op.To}
	case queue.SetCurrent:
		return EventCurrentChanged, struct {
			Item         *domain.QueueItem `json:"item"`
			AddedToQueue bool              `json:"addedToQueue"`
		}{Item: after.CurrentItem, AddedToQueue: len(after.Queue) > len(before.Queue)}
	case queue.ToggleMirror:
		return EventMirrorToggled, struct {
			Mirrored bool              `json:"mirrored"`
			Item     *domain.QueueItem `json:"item"`
		}{Mirrored: op.Mirrored, Item: after.CurrentItem}
	case queue.ReplaceItem:
		return EventQueueItemReplaced, struct {
			UUID string           `json:"uuid"`
			Item domain.QueueItem `json:"item"`
		}{UUID: op.UUID, Item: *op.Item}
	default:
		return EventQueueReplaced, after
	}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
