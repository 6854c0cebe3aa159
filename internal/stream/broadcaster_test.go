package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishAll(t *testing.T, b *Broadcaster, id string, phrases int) {
	t.Helper()
	seq := int64(1)
	_, err := b.Publish(id, seq, models.MetaPayload{Intent: "x"})
	require.NoError(t, err)
	for i := 0; i < phrases; i++ {
		seq++
		_, err = b.Publish(id, seq, models.PhrasePayload{Phrase: models.Phrase{PhraseID: "p"}})
		require.NoError(t, err)
	}
	seq++
	_, err = b.Publish(id, seq, models.DonePayload{Status: models.DoneReady, PhraseCount: phrases})
	require.NoError(t, err)
}

func drain(t *testing.T, c *Cursor) []models.EventEnvelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out []models.EventEnvelope
	for {
		env, err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		if env.IsHeartbeat() {
			continue
		}
		out = append(out, env)
	}
}

func sequences(envs []models.EventEnvelope) []int64 {
	out := make([]int64, len(envs))
	for i, e := range envs {
		out[i] = e.Sequence
	}
	return out
}

func TestReplayFromSequence(t *testing.T) {
	b := NewBroadcaster(time.Second)
	b.Open("v1", "proj", "10")
	publishAll(t, b, "v1", 3)

	tests := []struct {
		name string
		from int64
		want []int64
	}{
		{"from zero", 0, []int64{1, 2, 3, 4, 5}},
		{"from two", 2, []int64{3, 4, 5}},
		{"from last", 5, nil},
		{"past the end", 9, nil},
		{"negative", -3, []int64{1, 2, 3, 4, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := b.Subscribe("v1", tt.from)
			require.NoError(t, err)
			defer c.Close()

			got := drain(t, c)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, sequences(got))
		})
	}
}

func TestEnvelopesCarryRoutingMetadata(t *testing.T) {
	b := NewBroadcaster(time.Second)
	b.Open("v1", "proj", "10")
	publishAll(t, b, "v1", 1)

	c, err := b.Subscribe("v1", 0)
	require.NoError(t, err)
	defer c.Close()

	for _, env := range drain(t, c) {
		assert.Equal(t, "v1", env.VariationID)
		assert.Equal(t, "proj", env.ProjectID)
		assert.Equal(t, "10", env.BaseStateID)
		assert.NotZero(t, env.TimestampMs)
	}
}

func TestLiveAndLateSubscribersSeeSameOrder(t *testing.T) {
	b := NewBroadcaster(time.Second)
	b.Open("v1", "proj", "10")

	const live = 5
	results := make([][]int64, live)
	var wg sync.WaitGroup
	for i := 0; i < live; i++ {
		c, err := b.Subscribe("v1", 0)
		require.NoError(t, err)
		wg.Add(1)
		go func(i int, c *Cursor) {
			defer wg.Done()
			defer c.Close()
			results[i] = sequences(drain(t, c))
		}(i, c)
	}

	publishAll(t, b, "v1", 20)
	wg.Wait()

	late, err := b.Subscribe("v1", 7)
	require.NoError(t, err)
	defer late.Close()
	lateSeqs := sequences(drain(t, late))

	for i := 0; i < live; i++ {
		require.Len(t, results[i], 22)
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, results[0][7:], lateSeqs)
}

func TestAppendRejectsOutOfOrder(t *testing.T) {
	b := NewBroadcaster(time.Second)
	b.Open("v1", "proj", "10")

	_, err := b.Publish("v1", 1, models.MetaPayload{})
	require.NoError(t, err)
	_, err = b.Publish("v1", 1, models.PhrasePayload{})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	_, err = b.Publish("v1", 0, models.PhrasePayload{})
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestDoneClosesLog(t *testing.T) {
	b := NewBroadcaster(time.Second)
	b.Open("v1", "proj", "10")
	publishAll(t, b, "v1", 0)

	l, ok := b.Lookup("v1")
	require.True(t, ok)
	assert.True(t, l.Closed())

	_, err := b.Publish("v1", 10, models.PhrasePayload{})
	assert.ErrorIs(t, err, ErrLogClosed)
}

func TestHeartbeatOnIdle(t *testing.T) {
	b := NewBroadcaster(20 * time.Millisecond)
	b.Open("v1", "proj", "10")
	_, err := b.Publish("v1", 1, models.MetaPayload{})
	require.NoError(t, err)

	c, err := b.Subscribe("v1", 0)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.EventMeta, first.Type)

	hb, err := c.Next(ctx)
	require.NoError(t, err)
	assert.True(t, hb.IsHeartbeat())
	assert.Zero(t, hb.Sequence)
	assert.Equal(t, "v1", hb.VariationID)

	// A heartbeat does not advance the cursor.
	_, err = b.Publish("v1", 2, models.DonePayload{Status: models.DoneReady})
	require.NoError(t, err)
	next, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Sequence)
}

func TestNextHonoursContext(t *testing.T) {
	b := NewBroadcaster(time.Minute)
	b.Open("v1", "proj", "10")
	c, err := b.Subscribe("v1", 0)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseWithoutDoneEndsCursors(t *testing.T) {
	b := NewBroadcaster(time.Minute)
	b.Open("v1", "proj", "10")
	c, err := b.Subscribe("v1", 0)
	require.NoError(t, err)
	defer c.Close()

	b.Close("v1")
	assert.Empty(t, drain(t, c))
}

func TestSubscribeUnknown(t *testing.T) {
	b := NewBroadcaster(time.Second)
	_, err := b.Subscribe("missing", 0)
	assert.ErrorIs(t, err, ErrUnknownVariation)
}

func TestSubscriberCount(t *testing.T) {
	b := NewBroadcaster(time.Second)
	b.Open("v1", "proj", "10")
	c1, _ := b.Subscribe("v1", 0)
	c2, _ := b.Subscribe("v1", 0)
	assert.Equal(t, int64(2), b.Subscribers())
	c1.Close()
	c1.Close()
	assert.Equal(t, int64(1), b.Subscribers())
	c2.Close()
	assert.Equal(t, int64(0), b.Subscribers())

	b.Remove("v1")
	_, ok := b.Lookup("v1")
	assert.False(t, ok)
}
