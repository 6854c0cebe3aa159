package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/llm"
	"github.com/getsentry/sentry-go"
)

const (
	// HTTP status code threshold for considering a request successful
	successStatusCodeThreshold = http.StatusBadRequest
)

// SentryMetrics records metrics as spans and transaction tags
type SentryMetrics struct {
	enabled bool
}

// NewSentryMetrics creates a new Sentry metrics client
func NewSentryMetrics(enabled bool) *SentryMetrics {
	return &SentryMetrics{enabled: enabled}
}

// RecordAPIRequest records API request metrics
func (m *SentryMetrics) RecordAPIRequest(ctx context.Context, endpoint string, statusCode int, duration time.Duration) {
	if !m.enabled {
		return
	}

	span := sentry.StartSpan(ctx, "api.request")
	defer span.Finish()

	span.SetTag("endpoint", endpoint)
	span.SetTag("status_code", fmt.Sprintf("%d", statusCode))
	span.SetTag("success", fmt.Sprintf("%t", statusCode < successStatusCodeThreshold))
	span.SetData("duration_ms", duration.Milliseconds())

	if statusCode < successStatusCodeThreshold {
		span.Status = sentry.SpanStatusOK
	} else {
		span.Status = sentry.SpanStatusInternalError
	}
	span.Description = fmt.Sprintf("API Request: %s", endpoint)
}

// RecordProposal tags the request transaction with the propose outcome
func (m *SentryMetrics) RecordProposal(ctx context.Context, outcome string) {
	if !m.enabled {
		return
	}
	if transaction := sentry.TransactionFromContext(ctx); transaction != nil {
		transaction.SetTag("variation.propose", outcome)
	}
}

// RecordGeneration records one generation task
func (m *SentryMetrics) RecordGeneration(ctx context.Context, generator string, duration time.Duration, outcome string) {
	if !m.enabled {
		return
	}

	span := sentry.StartSpan(ctx, "variation.generation")
	defer span.Finish()

	span.SetTag("generator", generator)
	span.SetTag("outcome", outcome)
	span.SetData("duration_ms", duration.Milliseconds())

	if outcome == OutcomeFailed {
		span.Status = sentry.SpanStatusInternalError
	} else {
		span.Status = sentry.SpanStatusOK
	}
	span.Description = fmt.Sprintf("Generation: %s (%s)", generator, outcome)
}

// RecordTokenUsage records LLM token usage metrics
func (m *SentryMetrics) RecordTokenUsage(ctx context.Context, model string, usage llm.Usage) {
	if !m.enabled {
		return
	}

	span := sentry.StartSpan(ctx, "llm.token_usage")
	defer span.Finish()

	span.SetTag("model", model)
	span.SetData("total_tokens", usage.TotalTokens)
	span.SetData("input_tokens", usage.InputTokens)
	span.SetData("output_tokens", usage.OutputTokens)
	span.SetData("reasoning_tokens", usage.ReasoningTokens)

	span.Status = sentry.SpanStatusOK
	span.Description = fmt.Sprintf("Token Usage: %s", model)
}

// RecordPhrases adds the phrase count to the current transaction
func (m *SentryMetrics) RecordPhrases(ctx context.Context, count int) {
	if !m.enabled {
		return
	}
	if transaction := sentry.TransactionFromContext(ctx); transaction != nil {
		transaction.SetData("variation.phrases", count)
	}
}

// RecordCommit records a commit attempt
func (m *SentryMetrics) RecordCommit(ctx context.Context, outcome string, phrases int) {
	if !m.enabled {
		return
	}

	span := sentry.StartSpan(ctx, "variation.commit")
	defer span.Finish()

	span.SetTag("outcome", outcome)
	span.SetData("accepted_phrases", phrases)
	if outcome == OutcomeOK {
		span.Status = sentry.SpanStatusOK
	} else {
		span.Status = sentry.SpanStatusAborted
	}
}

// RecordDiscard tags the request transaction with the discard outcome
func (m *SentryMetrics) RecordDiscard(ctx context.Context, outcome string) {
	if !m.enabled {
		return
	}
	if transaction := sentry.TransactionFromContext(ctx); transaction != nil {
		transaction.SetTag("variation.discard", outcome)
	}
}

func (m *SentryMetrics) StreamOpened() {}

func (m *SentryMetrics) StreamClosed() {}
