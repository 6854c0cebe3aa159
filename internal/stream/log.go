// Package stream fans variation events out to SSE subscribers.
//
// Each variation has an append-only Log. Subscribers read it through their own
// Cursor, so replay of old envelopes and following new ones are the same loop.
package stream

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
)

var (
	ErrLogClosed  = errors.New("event log closed")
	ErrOutOfOrder = errors.New("event sequence out of order")
)

// Log is the retained event history of one variation.
// One writer appends; any number of cursors read.
type Log struct {
	variationID string
	projectID   string
	baseStateID string

	mu        sync.Mutex
	envelopes []models.EventEnvelope
	lastSeq   int64
	closed    bool
	// changed is closed and replaced on every append and on Close.
	changed chan struct{}
}

func newLog(variationID, projectID, baseStateID string) *Log {
	return &Log{
		variationID: variationID,
		projectID:   projectID,
		baseStateID: baseStateID,
		changed:     make(chan struct{}),
	}
}

// Append adds an envelope. Sequences must strictly increase.
func (l *Log) Append(env models.EventEnvelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}
	if env.Sequence <= l.lastSeq {
		return fmt.Errorf("%w: %d after %d", ErrOutOfOrder, env.Sequence, l.lastSeq)
	}
	l.envelopes = append(l.envelopes, env)
	l.lastSeq = env.Sequence
	if env.Type == models.EventDone {
		l.closed = true
	}
	l.wake()
	return nil
}

// Close ends the log without a done event. Cursors drain and then see io.EOF.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.wake()
}

// Closed reports whether the log accepts no more envelopes.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// LastSequence returns the highest appended sequence.
func (l *Log) LastSequence() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Snapshot returns a copy of every retained envelope.
func (l *Log) Snapshot() []models.EventEnvelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.EventEnvelope(nil), l.envelopes...)
}

// indexAfter returns the position of the first envelope with sequence > seq.
func (l *Log) indexAfter(seq int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sort.Search(len(l.envelopes), func(i int) bool {
		return l.envelopes[i].Sequence > seq
	})
}

// read returns the envelope at pos if present, or the channel to wait on.
func (l *Log) read(pos int) (env models.EventEnvelope, ok bool, closed bool, wait <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos < len(l.envelopes) {
		return l.envelopes[pos], true, false, nil
	}
	return models.EventEnvelope{}, false, l.closed, l.changed
}

func (l *Log) wake() {
	close(l.changed)
	l.changed = make(chan struct{})
}
