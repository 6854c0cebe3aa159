package metrics

import (
	"context"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/llm"
)

// Outcomes shared by proposals, generation tasks and commits
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
	OutcomeConflict  = "conflict"
	OutcomeRejected  = "rejected"
)

// Recorder receives every metric the service emits.
type Recorder interface {
	RecordAPIRequest(ctx context.Context, endpoint string, statusCode int, duration time.Duration)
	RecordProposal(ctx context.Context, outcome string)
	RecordGeneration(ctx context.Context, generator string, duration time.Duration, outcome string)
	RecordTokenUsage(ctx context.Context, model string, usage llm.Usage)
	RecordPhrases(ctx context.Context, count int)
	RecordCommit(ctx context.Context, outcome string, phrases int)
	RecordDiscard(ctx context.Context, outcome string)
	StreamOpened()
	StreamClosed()
}

// Multi fans every call out to each recorder in order.
type Multi []Recorder

func (m Multi) RecordAPIRequest(ctx context.Context, endpoint string, statusCode int, duration time.Duration) {
	for _, r := range m {
		r.RecordAPIRequest(ctx, endpoint, statusCode, duration)
	}
}

func (m Multi) RecordProposal(ctx context.Context, outcome string) {
	for _, r := range m {
		r.RecordProposal(ctx, outcome)
	}
}

func (m Multi) RecordGeneration(ctx context.Context, generator string, duration time.Duration, outcome string) {
	for _, r := range m {
		r.RecordGeneration(ctx, generator, duration, outcome)
	}
}

func (m Multi) RecordTokenUsage(ctx context.Context, model string, usage llm.Usage) {
	for _, r := range m {
		r.RecordTokenUsage(ctx, model, usage)
	}
}

func (m Multi) RecordPhrases(ctx context.Context, count int) {
	for _, r := range m {
		r.RecordPhrases(ctx, count)
	}
}

func (m Multi) RecordCommit(ctx context.Context, outcome string, phrases int) {
	for _, r := range m {
		r.RecordCommit(ctx, outcome, phrases)
	}
}

func (m Multi) RecordDiscard(ctx context.Context, outcome string) {
	for _, r := range m {
		r.RecordDiscard(ctx, outcome)
	}
}

func (m Multi) StreamOpened() {
	for _, r := range m {
		r.StreamOpened()
	}
}

func (m Multi) StreamClosed() {
	for _, r := range m {
		r.StreamClosed()
	}
}
