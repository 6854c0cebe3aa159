package variation

import "sync/atomic"

// SequenceCounter hands out strictly increasing event sequence numbers for one variation.
// The zero value starts at 0, so the first Next returns 1.
type SequenceCounter struct {
	n atomic.Int64
}

// NewSequenceCounter resumes a counter at last.
func NewSequenceCounter(last int64) *SequenceCounter {
	c := &SequenceCounter{}
	c.n.Store(last)
	return c
}

// Next returns the previous value plus one.
func (c *SequenceCounter) Next() int64 {
	return c.n.Add(1)
}

// Last returns the most recently issued value, or 0.
func (c *SequenceCounter) Last() int64 {
	return c.n.Load()
}
