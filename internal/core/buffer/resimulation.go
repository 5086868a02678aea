package buffer

import (
	"github.com/zeusync/netsync/internal/core/models"
)

// ResimulationEntry asks the simulation to replay Entries from the server's accepted state.
type ResimulationEntry[C any] struct {
	ServerFrame models.CommandFrame
	// ClientFrame is the client frame when the misprediction was detected.
	ClientFrame models.CommandFrame
	// Entries are copies in chronological order.
	Entries []Entry[C]
}

// ResimulationBuffer queues replay requests until the simulation drains them.
type ResimulationBuffer[C any] struct {
	entries []ResimulationEntry[C]
}

func NewResimulationBuffer[C any]() *ResimulationBuffer[C] {
	return &ResimulationBuffer[C]{}
}

// Push copies the entries so later buffer mutations cannot alter a queued replay.
func (b *ResimulationBuffer[C]) Push(serverFrame, clientFrame models.CommandFrame, entries []*Entry[C]) {
	copied := make([]Entry[C], len(entries))
	for i, e := range entries {
		copied[i] = *e
	}
	b.entries = append(b.entries, ResimulationEntry[C]{
		ServerFrame: serverFrame,
		ClientFrame: clientFrame,
		Entries:     copied,
	})
}

// Drain hands every queued entry over exactly once.
func (b *ResimulationBuffer[C]) Drain() []ResimulationEntry[C] {
	out := b.entries
	b.entries = nil
	return out
}

func (b *ResimulationBuffer[C]) Len() int {
	return len(b.entries)
}
