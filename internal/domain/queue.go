// Package domain holds the value types shared by the room and queue layers.
package domain

import "encoding/json"

// Climb is an opaque reference to climb content. Only Mirrored is
// interpreted here; Data is carried through untouched.
type Climb struct {
	UUID     string          `json:"uuid"`
	Mirrored bool            `json:"mirrored"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type QueueItem struct {
	UUID      string   `json:"uuid"`
	Climb     Climb    `json:"climb"`
	AddedBy   string   `json:"addedBy,omitempty"`
	TickedBy  []string `json:"tickedBy,omitempty"`
	Suggested bool     `json:"suggested"`
}

func (it QueueItem) Clone() QueueItem {
	out := it
	if it.TickedBy != nil {
		out.TickedBy = append([]string(nil), it.TickedBy...)
	}
	if it.Climb.Data != nil {
		out.Climb.Data = append(json.RawMessage(nil), it.Climb.Data...)
	}
	return out
}

// QueueState is the durable per-room queue. Version is 0 until the first
// successful write.
type QueueState struct {
	Queue       []QueueItem `json:"queue"`
	CurrentItem *QueueItem  `json:"currentItem"`
	Version     int64       `json:"version"`
}

func (s QueueState) Clone() QueueState {
	out := QueueState{Version: s.Version, Queue: CloneItems(s.Queue)}
	out.CurrentItem = CloneItem(s.CurrentItem)
	return out
}

func CloneItems(items []QueueItem) []QueueItem {
	out := make([]QueueItem, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}

func CloneItem(it *QueueItem) *QueueItem {
	if it == nil {
		return nil
	}
	c := it.Clone()
	return &c
}

// IndexOf returns the position of the item with the given uuid, or -1.
func IndexOf(items []QueueItem, uuid string) int {
	for i := range items {
		if items[i].UUID == uuid {
			return i
		}
	}
	return -1
}
