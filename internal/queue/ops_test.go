package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climbSync/internal/domain"
)

func it(id string) domain.QueueItem {
	return domain.QueueItem{UUID: id, Climb: domain.Climb{UUID: "climb-" + id}}
}

func uuids(items []domain.QueueItem) []string {
	out := make([]string, len(items))
	for i := range items {
		out[i] = items[i].UUID
	}
	return out
}

func state(ids ...string) domain.QueueState {
	st := domain.QueueState{Queue: []domain.QueueItem{}, Version: 4}
	for _, id := range ids {
		st.Queue = append(st.Queue, it(id))
	}
	return st
}

func intp(v int) *int { return &v }

func TestApply_AddItem(t *testing.T) {
	n := it("n")

	out, err := Apply(state("a", "b"), Op{Kind: AddItem, Item: &n})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "n"}, uuids(out.Queue))
	assert.True(t, out.QueueChanged)
	assert.False(t, out.CurrentChanged)

	out, err = Apply(state("a", "b"), Op{Kind: AddItem, Item: &n, Position: intp(0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "a", "b"}, uuids(out.Queue))

	out, err = Apply(state("a", "b"), Op{Kind: AddItem, Item: &n, Position: intp(9)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "n"}, uuids(out.Queue))

	dup := it("a")
	out, err = Apply(state("a", "b"), Op{Kind: AddItem, Item: &dup})
	require.NoError(t, err)
	assert.False(t, out.QueueChanged)
	assert.Equal(t, []string{"a", "b"}, uuids(out.Queue))

	_, err = Apply(state(), Op{Kind: AddItem})
	assert.ErrorIs(t, err, domain.ErrInvalidOp)
}

func TestApply_RemoveItem(t *testing.T) {
	st := state("a", "b", "c")
	cur := it("b")
	st.CurrentItem = &cur

	out, err := Apply(st, Op{Kind: RemoveItem, UUID: "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, uuids(out.Queue))
	assert.Nil(t, out.Current)
	assert.True(t, out.CurrentChanged)

	out, err = Apply(st, Op{Kind: RemoveItem, UUID: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, uuids(out.Queue))
	assert.False(t, out.CurrentChanged)

	assert.Equal(t, []string{"a", "b", "c"}, uuids(st.Queue), "input must not be mutated")
}

func TestApply_Reorder(t *testing.T) {
	cases := []struct {
		name    string
		op      Op
		want    []string
		changed bool
	}{
		{"forward", Op{Kind: ReorderItem, UUID: "a", From: 0, To: 2}, []string{"b", "c", "a", "d"}, true},
		{"backward", Op{Kind: ReorderItem, UUID: "d", From: 3, To: 1}, []string{"a", "d", "b", "c"}, true},
		{"to end", Op{Kind: ReorderItem, From: 1, To: 3}, []string{"a", "c", "d", "b"}, true},
		{"out of range", Op{Kind: ReorderItem, From: 0, To: 4}, []string{"a", "b", "c", "d"}, false},
		{"negative", Op{Kind: ReorderItem, From: -1, To: 0}, []string{"a", "b", "c", "d"}, false},
		{"uuid mismatch", Op{Kind: ReorderItem, UUID: "z", From: 0, To: 1}, []string{"a", "b", "c", "d"}, false},
		{"same index", Op{Kind: ReorderItem, From: 2, To: 2}, []string{"a", "b", "c", "d"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Apply(state("a", "b", "c", "d"), tc.op)
			require.NoError(t, err)
			assert.Equal(t, tc.want, uuids(out.Queue))
			assert.Equal(t, tc.changed, out.QueueChanged)
			assert.False(t, out.CurrentChanged)
		})
	}
}

func TestApply_SetCurrentLeavesQueue(t *testing.T) {
	n := it("x")
	out, err := Apply(state("a", "b"), Op{Kind: SetCurrent, Item: &n})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, uuids(out.Queue))
	assert.False(t, out.QueueChanged)
	require.NotNil(t, out.Current)
	assert.Equal(t, "x", out.Current.UUID)

	out, err = Apply(state("a"), Op{Kind: SetCurrent, Item: &n, AddToQueue: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "x"}, uuids(out.Queue))
	assert.True(t, out.QueueChanged)

	out, err = Apply(state("a"), Op{Kind: SetCurrent})
	require.NoError(t, err)
	assert.Nil(t, out.Current)
	assert.True(t, out.CurrentChanged)
}

func TestApply_ToggleMirror(t *testing.T) {
	st := state("a", "b")
	cur := it("b")
	st.CurrentItem = &cur

	out, err := Apply(st, Op{Kind: ToggleMirror, Mirrored: true})
	require.NoError(t, err)
	assert.True(t, out.Current.Climb.Mirrored)
	assert.True(t, out.Queue[1].Climb.Mirrored)
	assert.False(t, out.Queue[0].Climb.Mirrored)
	assert.False(t, st.CurrentItem.Climb.Mirrored)

	out, err = Apply(state("a"), Op{Kind: ToggleMirror, Mirrored: true})
	require.NoError(t, err)
	assert.False(t, out.QueueChanged || out.CurrentChanged)
}

func TestApply_ReplaceItem(t *testing.T) {
	st := state("a", "b")
	cur := it("a")
	st.CurrentItem = &cur
	repl := domain.QueueItem{UUID: "a2", Climb: domain.Climb{UUID: "other"}}

	out, err := Apply(st, Op{Kind: ReplaceItem, UUID: "a", Item: &repl})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "b"}, uuids(out.Queue))
	assert.Equal(t, "a2", out.Current.UUID)

	_, err = Apply(st, Op{Kind: ReplaceItem, UUID: "a"})
	assert.ErrorIs(t, err, domain.ErrInvalidOp)
}

func TestApply_ReplaceQueueAndUnknown(t *testing.T) {
	cur := it("q")
	out, err := Apply(state("a"), Op{Kind: ReplaceQueue, Queue: []domain.QueueItem{it("q"), it("r")}, Item: &cur})
	require.NoError(t, err)
	assert.Equal(t, []string{"q", "r"}, uuids(out.Queue))
	assert.Equal(t, "q", out.Current.UUID)

	_, err = Apply(state(), Op{Kind: "shuffle"})
	assert.ErrorIs(t, err, domain.ErrInvalidOp)
}
