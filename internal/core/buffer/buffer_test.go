package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/netsync/internal/core/models"
)

func entry(entity models.Uid, component models.ComponentID, frame models.CommandFrame, command string) Entry[string] {
	return Entry[string]{
		Entity:    entity,
		Component: component,
		Frame:     frame,
		Command:   command,
		Unchanged: []byte(command + "-before"),
		Changed:   []byte(command + "-after"),
	}
}

func commands(entries []*Entry[string]) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Command
	}
	return out
}

func TestCommandBuffer_IterIsNewestFirst(t *testing.T) {
	b := NewCommandBuffer[string](8)
	b.Push(entry(1, 1, 10, "a"))
	b.Push(entry(1, 1, 10, "b"))
	b.Push(entry(2, 1, 11, "c"))

	assert.Equal(t, []string{"c", "b", "a"}, commands(b.Iter()))
}

func TestCommandBuffer_Groups(t *testing.T) {
	b := NewCommandBuffer[string](16)
	b.Push(entry(1, 1, 10, "a1"))
	b.Push(entry(2, 1, 10, "b1"))
	b.Push(entry(1, 2, 10, "a-other"))
	b.Push(entry(1, 1, 10, "a2"))
	b.Push(entry(1, 1, 11, "a-next"))

	groups := b.Groups(10)
	require.Len(t, groups, 3)

	assert.EqualValues(t, 1, groups[0].Entity)
	assert.EqualValues(t, 1, groups[0].Component)
	assert.Equal(t, []string{"a1", "a2"}, commands(groups[0].Entries))
	assert.Equal(t, "a1", groups[0].Oldest().Command)
	assert.Equal(t, "a2", groups[0].Newest().Command)

	assert.EqualValues(t, 2, groups[1].Entity)
	assert.EqualValues(t, 2, groups[2].Component)

	assert.Empty(t, b.Groups(99))
}

func TestCommandBuffer_EvictsOldest(t *testing.T) {
	b := NewCommandBuffer[string](2)
	b.Push(entry(1, 1, 1, "a"))
	b.Push(entry(2, 1, 2, "b"))
	b.Push(entry(1, 1, 3, "c"))

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []string{"c", "b"}, commands(b.Iter()))
	assert.Equal(t, []string{"c"}, commands(b.History(1, 0)))
}

func TestCommandBuffer_HistoryAndPending(t *testing.T) {
	b := NewCommandBuffer[string](16)
	b.Push(entry(1, 1, 8, "old"))
	b.Push(entry(1, 1, 10, "at"))
	b.Push(entry(2, 1, 11, "other"))
	b.Push(entry(1, 1, 12, "after"))
	b.Push(entry(1, 2, 14, "other component"))

	assert.Equal(t, []string{"at", "after", "other component"}, commands(b.History(1, 10)))
	assert.True(t, b.HasPending(1, 1, 12))
	assert.False(t, b.HasPending(1, 1, 13))
	assert.True(t, b.HasPending(1, 2, 13))
	assert.False(t, b.HasPending(1, 3, 0))
	assert.False(t, b.HasPending(3, 1, 0))
}

func TestCommandBuffer_HistoryAcrossFrameWrap(t *testing.T) {
	b := NewCommandBuffer[string](4)
	b.Push(entry(1, 1, models.CommandFrame(^uint32(0)), "last"))
	b.Push(entry(1, 1, 0, "wrapped"))

	assert.Equal(t, []string{"last", "wrapped"}, commands(b.History(1, models.CommandFrame(^uint32(0)))))
}

func TestCommandBuffer_UnsentAndForget(t *testing.T) {
	b := NewCommandBuffer[string](16)
	first := b.Push(entry(1, 1, 1, "a"))
	b.Push(entry(2, 1, 1, "b"))
	first.Sent = true

	assert.Equal(t, []string{"b"}, commands(b.Unsent()))

	b.Forget(2)
	assert.Empty(t, b.Unsent())
	assert.Equal(t, 1, b.Len())
	assert.Empty(t, b.History(2, 0))
}

func TestResimulationBuffer_DrainOnce(t *testing.T) {
	b := NewCommandBuffer[string](4)
	e := b.Push(entry(1, 1, 10, "a"))

	r := NewResimulationBuffer[string]()
	r.Push(10, 14, []*Entry[string]{e})
	e.Command = "mutated"

	require.Equal(t, 1, r.Len())
	drained := r.Drain()
	require.Len(t, drained, 1)
	assert.EqualValues(t, 10, drained[0].ServerFrame)
	assert.EqualValues(t, 14, drained[0].ClientFrame)
	assert.Equal(t, "a", drained[0].Entries[0].Command)

	assert.Empty(t, r.Drain())
	assert.Zero(t, r.Len())
}

func TestCommandBuffer_RewriteFromCopy(t *testing.T) {
	b := NewCommandBuffer[string](8)
	b.Push(entry(1, 1, 10, "a"))
	live := b.Push(entry(1, 1, 10, "b"))

	r := NewResimulationBuffer[string]()
	r.Push(9, 12, b.History(1, 10))
	copied := r.Drain()[0].Entries[1]

	require.True(t, b.Rewrite(copied, []byte("b-before-2"), []byte("b-after-2")))
	assert.Equal(t, []byte("b-before-2"), live.Unchanged)
	assert.Equal(t, []byte("b-after-2"), live.Changed)
	assert.Equal(t, []byte("a-after"), b.Groups(10)[0].Oldest().Changed, "sibling untouched")

	b.Forget(1)
	assert.False(t, b.Rewrite(copied, nil, nil))
}
