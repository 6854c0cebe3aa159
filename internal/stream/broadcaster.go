package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
)

// DefaultHeartbeatInterval is used when none is configured.
const DefaultHeartbeatInterval = 15 * time.Second

// ErrUnknownVariation is returned by Subscribe for variations without a log.
var ErrUnknownVariation = errors.New("no event log for variation")

// Broadcaster holds one Log per variation.
type Broadcaster struct {
	heartbeat time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	logs map[string]*Log

	subscribers atomic.Int64
}

// NewBroadcaster creates a broadcaster that sends heartbeats after heartbeat of idle time.
func NewBroadcaster(heartbeat time.Duration) *Broadcaster {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Broadcaster{
		heartbeat: heartbeat,
		now:       time.Now,
		logs:      make(map[string]*Log),
	}
}

// Open creates the log for a variation, or returns the existing one.
func (b *Broadcaster) Open(variationID, projectID, baseStateID string) *Log {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.logs[variationID]; ok {
		return l
	}
	l := newLog(variationID, projectID, baseStateID)
	b.logs[variationID] = l
	return l
}

// Lookup returns the log of a variation.
func (b *Broadcaster) Lookup(variationID string) (*Log, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.logs[variationID]
	return l, ok
}

// Publish wraps payload in an envelope carrying the log's routing metadata and appends it.
func (b *Broadcaster) Publish(variationID string, sequence int64, payload models.EventPayload) (models.EventEnvelope, error) {
	l, ok := b.Lookup(variationID)
	if !ok {
		return models.EventEnvelope{}, fmt.Errorf("%w %s", ErrUnknownVariation, variationID)
	}
	env := models.EventEnvelope{
		Type:        payload.EventType(),
		Sequence:    sequence,
		VariationID: l.variationID,
		ProjectID:   l.projectID,
		BaseStateID: l.baseStateID,
		TimestampMs: b.now().UnixMilli(),
		Payload:     payload,
	}
	if err := l.Append(env); err != nil {
		return models.EventEnvelope{}, err
	}
	return env, nil
}

// Close ends a variation's log without a done event.
func (b *Broadcaster) Close(variationID string) {
	if l, ok := b.Lookup(variationID); ok {
		l.Close()
	}
}

// Remove drops a variation's log. Open cursors finish what they already hold.
func (b *Broadcaster) Remove(variationID string) {
	b.mu.Lock()
	l, ok := b.logs[variationID]
	delete(b.logs, variationID)
	b.mu.Unlock()
	if ok {
		l.Close()
	}
}

// Subscribers returns the number of open cursors.
func (b *Broadcaster) Subscribers() int64 {
	return b.subscribers.Load()
}

// Subscribe returns a cursor positioned after fromSequence.
func (b *Broadcaster) Subscribe(variationID string, fromSequence int64) (*Cursor, error) {
	l, ok := b.Lookup(variationID)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownVariation, variationID)
	}
	if fromSequence < 0 {
		fromSequence = 0
	}
	b.subscribers.Add(1)
	return &Cursor{
		b:         b,
		log:       l,
		pos:       l.indexAfter(fromSequence),
		heartbeat: b.heartbeat,
	}, nil
}

// Cursor is one subscriber's position in a Log.
type Cursor struct {
	b         *Broadcaster
	log       *Log
	pos       int
	heartbeat time.Duration
	closed    atomic.Bool
}

// Next blocks until the next envelope is available, the idle timer fires, or ctx ends.
// An idle timeout yields a heartbeat envelope. A closed and drained log yields io.EOF.
func (c *Cursor) Next(ctx context.Context) (models.EventEnvelope, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		env, ok, closed, wait := c.log.read(c.pos)
		if ok {
			c.pos++
			return env, nil
		}
		if closed {
			return models.EventEnvelope{}, io.EOF
		}

		if timer == nil {
			timer = time.NewTimer(c.heartbeat)
		}
		select {
		case <-ctx.Done():
			return models.EventEnvelope{}, ctx.Err()
		case <-wait:
		case <-timer.C:
			return c.heartbeatEnvelope(), nil
		}
	}
}

// Close releases the cursor.
func (c *Cursor) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.b.subscribers.Add(-1)
	}
}

func (c *Cursor) heartbeatEnvelope() models.EventEnvelope {
	return models.EventEnvelope{
		Type:        models.EventHeartbeat,
		VariationID: c.log.variationID,
		ProjectID:   c.log.projectID,
		BaseStateID: c.log.baseStateID,
		TimestampMs: c.b.now().UnixMilli(),
		Payload:     models.HeartbeatPayload{},
	}
}
