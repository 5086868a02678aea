package postbox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/netsync/internal/core/protocol"
)

func TestPostBox_DrainInboxKeepsOrder(t *testing.T) {
	p := New[int, string]()
	for i := 1; i <= 6; i++ {
		require.NoError(t, p.Deliver(i))
	}

	even := p.DrainInbox(func(v int) bool { return v%2 == 0 })
	assert.Equal(t, []int{2, 4, 6}, even)

	rest := p.DrainInbox(nil)
	assert.Equal(t, []int{1, 3, 5}, rest)
	assert.False(t, p.HasMessages())
}

func TestPostBox_SendNotifiesAndDrains(t *testing.T) {
	p := New[int, string]()

	require.NoError(t, p.Send("a"))
	require.NoError(t, p.Send("b"))

	select {
	case <-p.Notify():
	default:
		t.Fatal("expected notification")
	}

	assert.Equal(t, []string{"a", "b"}, p.DrainOutbox())
	assert.Empty(t, p.DrainOutbox())
}

func TestPostBox_Close(t *testing.T) {
	p := New[int, string]()
	require.NoError(t, p.Deliver(1))

	p.Close()
	p.Close()

	assert.True(t, p.Closed())
	<-p.Done()

	assert.ErrorIs(t, p.Send("x"), protocol.ErrPostBoxClosed)
	assert.ErrorIs(t, p.Deliver(2), protocol.ErrPostBoxClosed)
	assert.Equal(t, []int{1}, p.DrainInbox(nil), "delivered messages survive close")
}

func TestPostBox_ConcurrentDeliver(t *testing.T) {
	p := New[int, string]()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = p.Deliver(j)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, p.DrainInbox(nil), 800)
	assert.NotEqual(t, New[int, string]().ID(), p.ID())
}
