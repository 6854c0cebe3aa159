package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/canonical"
	"github.com/Conceptual-Machines/magda-variations/internal/diff"
	"github.com/Conceptual-Machines/magda-variations/internal/generator"
	"github.com/Conceptual-Machines/magda-variations/internal/logger"
	"github.com/Conceptual-Machines/magda-variations/internal/metrics"
	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/Conceptual-Machines/magda-variations/internal/variation"
)

// Error codes carried by error events
const (
	codeGenerationFailed  = "generation_failed"
	codeInvalidOutput     = "invalid_output"
	codeTimeout           = "timeout"
	codeRegionUnavailable = "region_unavailable"
	codeShutdown          = "shutdown"
)

// ErrShuttingDown is returned by Propose once Shutdown has started.
var ErrShuttingDown = errors.New("service is shutting down")

const shutdownMessage = "interrupted by shutdown"

// generationError is a failure the task reports on the stream.
type generationError struct {
	code string
	err  error
}

func (e *generationError) Error() string { return e.err.Error() }

func (e *generationError) Unwrap() error { return e.err }

func failed(code string, err error) error {
	return &generationError{code: code, err: fmt.Errorf("%w: %w", variation.ErrGeneration, err)}
}

// start registers the task and runs it in the background.
func (s *VariationService) start(v *models.Variation) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = s.abandon(v, models.StatusFailed)
		return ErrShuttingDown
	}
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.tasks[v.VariationID] = t
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, v, t)
	return nil
}

// run is the generation task. It is the only writer of the variation's phrases,
// sequence counter and event log until it emits done.
func (s *VariationService) run(ctx context.Context, v *models.Variation, t *task) {
	defer func() {
		t.cancel()
		s.mu.Lock()
		delete(s.tasks, v.VariationID)
		s.mu.Unlock()
		close(t.done)
		s.wg.Done()
	}()

	started := time.Now()
	seq := variation.NewSequenceCounter(0)
	fields := logger.ForVariation(v)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.finishCancelled(v, seq, false)
		s.recordGeneration(started, s.cancelOutcome(), fields)
		return
	}
	defer s.sem.Release(1)

	if err := s.store.CompareAndSetStatus(v.VariationID, models.StatusCreated, models.StatusStreaming); err != nil {
		s.finishCancelled(v, seq, false)
		s.recordGeneration(started, metrics.OutcomeDiscarded, fields)
		return
	}
	s.publish(v.VariationID, seq, metaPayload(v))

	phrases, explanation, err := s.generate(ctx, v, seq)
	switch {
	case err == nil:
		switch {
		case s.finishReady(ctx, v, seq, phrases, explanation):
			s.recordGeneration(started, metrics.OutcomeOK, fields.With(logger.Fields{"phrases": phrases}))
		case ctx.Err() != nil:
			s.recordGeneration(started, s.cancelOutcome(), fields)
		default:
			s.recordGeneration(started, metrics.OutcomeFailed, fields)
		}
	case ctx.Err() != nil:
		s.finishCancelled(v, seq, true)
		s.recordGeneration(started, s.cancelOutcome(), fields)
	default:
		s.finishFailed(v, seq, err)
		s.recordGeneration(started, metrics.OutcomeFailed, fields.With(logger.Fields{"error": err.Error()}))
	}
}

// regionPhrases are the phrases diffed from one scope region.
type regionPhrases struct {
	order   int
	phrases []models.Phrase
}

// generate invokes the generator once per scope region, then merges every region's phrases
// and publishes them in ascending absolute startBeat. Ties keep region order.
func (s *VariationService) generate(ctx context.Context, v *models.Variation, seq *variation.SequenceCounter) (int, string, error) {
	regions := append([]models.ScopeRegion{}, v.Scope.Regions...)
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].StartBeat < regions[j].StartBeat
	})

	engine := s.diffEngine(v.Options)
	var explanations []string
	diffed := make([]regionPhrases, 0, len(regions))

	for i, region := range regions {
		if err := ctx.Err(); err != nil {
			return 0, "", err
		}

		var existing []models.Note
		if !region.IsNew {
			r, err := s.canonical.GetRegion(ctx, v.ProjectID, region.RegionID)
			if err != nil {
				if errors.Is(err, canonical.ErrRegionNotFound) {
					return 0, "", failed(codeRegionUnavailable, err)
				}
				return 0, "", failed(codeGenerationFailed, err)
			}
			existing = r.Notes
		}

		res, err := s.callGenerator(ctx, &generator.Request{
			Intent:      v.Intent,
			Region:      region,
			Existing:    existing,
			BeatsPerBar: s.beatsPerBar(v.Options),
			Model:       v.Options.Model,
			Provider:    v.Options.Provider,
			Owner:       v.Owner,
			VariationID: v.VariationID,
		})
		if err != nil {
			return 0, "", err
		}
		if res.Usage.TotalTokens > 0 {
			s.metrics.RecordTokenUsage(ctx, res.Model, res.Usage)
		}
		if res.Explanation != "" {
			explanations = append(explanations, res.Explanation)
		}

		diffed = append(diffed, regionPhrases{
			order: i,
			phrases: engine.Diff(diff.RegionInput{
				Region:      region,
				Before:      existing,
				After:       res.Notes,
				Controllers: res.Controllers,
				Explanation: res.Explanation,
			}),
		})
	}

	count := 0
	for _, p := range mergePhrases(diffed) {
		if err := ctx.Err(); err != nil {
			return count, "", err
		}
		// The sequence is only consumed once the phrase is stored, so a failed append leaves no gap.
		p.Sequence = seq.Last() + 1
		if err := s.store.AppendPhrase(v.VariationID, p); err != nil {
			return count, "", failed(codeGenerationFailed, err)
		}
		if n := seq.Next(); n != p.Sequence {
			return count, "", failed(codeGenerationFailed, fmt.Errorf("sequence moved from %d to %d", p.Sequence, n))
		}
		s.publishAt(v.VariationID, p.Sequence, models.PhrasePayload{Phrase: p})
		count++
	}
	return count, strings.Join(explanations, " "), nil
}

// mergePhrases orders the phrases of all regions by absolute startBeat.
func mergePhrases(diffed []regionPhrases) []models.Phrase {
	type ranked struct {
		order  int
		within int
		phrase models.Phrase
	}
	var all []ranked
	for _, r := range diffed {
		for i, p := range r.phrases {
			all = append(all, ranked{order: r.order, within: i, phrase: p})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.phrase.StartBeat != b.phrase.StartBeat {
			return a.phrase.StartBeat < b.phrase.StartBeat
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.within < b.within
	})

	out := make([]models.Phrase, len(all))
	for i, r := range all {
		out[i] = r.phrase
	}
	return out
}

// callGenerator runs the generator under the generation timeout. A cancelled
// task stops waiting at once; a late result is dropped.
func (s *VariationService) callGenerator(ctx context.Context, req *generator.Request) (*generator.Result, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.settings.GenerationTimeout)
	defer cancel()

	type outcome struct {
		res *generator.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := s.generator.Generate(genCtx, req)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-genCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failed(codeTimeout, fmt.Errorf("generator did not answer within %s", s.settings.GenerationTimeout))
	case out := <-ch:
		if out.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			code := codeGenerationFailed
			switch {
			case errors.Is(out.err, generator.ErrInvalidOutput):
				code = codeInvalidOutput
			case errors.Is(out.err, context.DeadlineExceeded):
				code = codeTimeout
			}
			return nil, failed(code, out.err)
		}
		return out.res, nil
	}
}

func (s *VariationService) finishReady(ctx context.Context, v *models.Variation, seq *variation.SequenceCounter, phrases int, explanation string) bool {
	// A discard or shutdown that lands after the last phrase still wins over READY.
	if ctx.Err() != nil {
		s.finishCancelled(v, seq, true)
		return false
	}
	if explanation != "" {
		if err := s.store.SetExplanation(v.VariationID, explanation); err != nil {
			logger.Warn("Failed to store explanation", logger.ForVariation(v).With(logger.Fields{"error": err.Error()}))
		}
	}
	if err := s.store.CompareAndSetStatus(v.VariationID, models.StatusStreaming, models.StatusReady); err != nil {
		if ctx.Err() != nil {
			s.finishCancelled(v, seq, true)
			return false
		}
		s.finishFailed(v, seq, failed(codeGenerationFailed, err))
		return false
	}

	current, err := s.store.Get(v.VariationID)
	if err != nil {
		current = v
	}
	s.publish(v.VariationID, seq, models.DonePayload{
		Status:        models.DoneReady,
		PhraseCount:   phrases,
		NoteCounts:    current.NoteCounts,
		AIExplanation: explanation,
	})
	s.metrics.RecordPhrases(s.ctx, phrases)
	return true
}

func (s *VariationService) finishFailed(v *models.Variation, seq *variation.SequenceCounter, err error) {
	code := codeGenerationFailed
	var ge *generationError
	if errors.As(err, &ge) {
		code = ge.code
	}

	s.publish(v.VariationID, seq, models.ErrorPayload{Message: err.Error(), Code: code})
	if serr := s.store.SetError(v.VariationID, err.Error()); serr != nil {
		logger.Warn("Failed to store generation error", logger.ForVariation(v).With(logger.Fields{"error": serr.Error()}))
	}
	if serr := s.store.SetStatus(v.VariationID, models.StatusFailed); serr != nil {
		logger.Error("Failed to mark variation failed", serr, logger.ForVariation(v))
	}
	logger.Error("❌ Generation failed", err, logger.ForVariation(v).With(logger.Fields{"code": code}))

	current, gerr := s.store.Get(v.VariationID)
	if gerr != nil {
		current = v
	}
	s.publish(v.VariationID, seq, models.DonePayload{
		Status:      models.DoneFailed,
		PhraseCount: len(current.Phrases),
		NoteCounts:  current.NoteCounts,
	})
}

// finishCancelled ends a task stopped by discard or shutdown. Shutdown fails the variation;
// discard marks it DISCARDED. The log always ends with exactly one done.
func (s *VariationService) finishCancelled(v *models.Variation, seq *variation.SequenceCounter, metaSent bool) {
	if s.isClosing() {
		if !metaSent {
			s.publish(v.VariationID, seq, metaPayload(v))
		}
		s.finishFailed(v, seq, &generationError{code: codeShutdown, err: errors.New(shutdownMessage)})
		return
	}

	current, err := s.store.Get(v.VariationID)
	if err != nil {
		logger.Error("Cancelled variation disappeared", err, logger.ForVariation(v))
		s.events.Close(v.VariationID)
		return
	}
	if current.Status == models.StatusCreated || current.Status == models.StatusStreaming {
		if err := s.store.CompareAndSetStatus(v.VariationID, current.Status, models.StatusDiscarded); err != nil {
			logger.Error("Failed to mark variation discarded", err, logger.ForVariation(v))
		}
	}

	if !metaSent {
		s.publish(v.VariationID, seq, metaPayload(v))
	}
	s.publish(v.VariationID, seq, models.DonePayload{
		Status:      models.DoneDiscarded,
		PhraseCount: len(current.Phrases),
		NoteCounts:  current.NoteCounts,
	})
}

func (s *VariationService) cancelOutcome() string {
	if s.isClosing() {
		return metrics.OutcomeFailed
	}
	return metrics.OutcomeDiscarded
}

func (s *VariationService) recordGeneration(started time.Time, outcome string, fields logger.Fields) {
	duration := time.Since(started)
	s.metrics.RecordGeneration(s.ctx, s.generator.Name(), duration, outcome)
	logger.LogGeneration(s.ctx, s.generator.Name(), duration, outcome, fields)
}

func (s *VariationService) publish(variationID string, seq *variation.SequenceCounter, payload models.EventPayload) {
	s.publishAt(variationID, seq.Next(), payload)
}

func (s *VariationService) publishAt(variationID string, n int64, payload models.EventPayload) {
	if _, err := s.events.Publish(variationID, n, payload); err != nil {
		logger.Error("Failed to publish event", err, logger.Fields{
			"variation_id": variationID,
			"sequence":     n,
			"type":         string(payload.EventType()),
		})
		return
	}
	if err := s.store.MarkLastSequence(variationID, n); err != nil && !errors.Is(err, variation.ErrNotFound) {
		logger.Warn("Failed to mark last sequence", logger.Fields{"variation_id": variationID, "error": err.Error()})
	}
}

func metaPayload(v *models.Variation) models.MetaPayload {
	return models.MetaPayload{
		Intent:          v.Intent,
		AIExplanation:   v.AIExplanation,
		AffectedTracks:  append([]string{}, v.AffectedTracks...),
		AffectedRegions: append([]string{}, v.AffectedRegions...),
		NoteCounts:      v.NoteCounts,
	}
}

func (s *VariationService) beatsPerBar(o models.Options) int {
	if o.BeatsPerBar > 0 {
		return o.BeatsPerBar
	}
	return s.settings.BeatsPerBar
}

func (s *VariationService) diffEngine(o models.Options) *diff.Engine {
	bars := s.settings.PhraseBars
	if o.PhraseBars > 0 {
		bars = o.PhraseBars
	}
	tolerance := s.settings.MatchToleranceBeats
	if o.ToleranceBeats > 0 {
		tolerance = o.ToleranceBeats
	}
	return diff.NewEngine(tolerance, bars, s.beatsPerBar(o))
}
