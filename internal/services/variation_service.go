package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/canonical"
	"github.com/Conceptual-Machines/magda-variations/internal/generator"
	"github.com/Conceptual-Machines/magda-variations/internal/logger"
	"github.com/Conceptual-Machines/magda-variations/internal/metrics"
	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/Conceptual-Machines/magda-variations/internal/stream"
	"github.com/Conceptual-Machines/magda-variations/internal/variation"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const anonymousOwner = "anonymous"

const refundTimeout = 5 * time.Second

// ErrDiscardTimeout is returned when a cancelled generation task does not finish in time.
var ErrDiscardTimeout = errors.New("timed out waiting for generation to stop")

// Caller identifies who is making a request.
type Caller struct {
	Owner     string
	Role      string
	RequestID string
}

// ProposeRequest is the body of POST /variation/propose
type ProposeRequest struct {
	ProjectID   string         `json:"projectId" binding:"required"`
	BaseStateID string         `json:"baseStateId" binding:"required"`
	Intent      string         `json:"intent"`
	Scope       *models.Scope  `json:"scope,omitempty"`
	Options     models.Options `json:"options"`
}

// ProposeResponse is returned as soon as the variation exists. Content follows on the stream.
type ProposeResponse struct {
	VariationID   string `json:"variationId"`
	ProjectID     string `json:"projectId"`
	BaseStateID   string `json:"baseStateId"`
	Intent        string `json:"intent"`
	AIExplanation string `json:"aiExplanation"`
	StreamURL     string `json:"streamUrl"`
}

// DiscardRequest is the body of POST /variation/discard
type DiscardRequest struct {
	ProjectID   string `json:"projectId" binding:"required"`
	VariationID string `json:"variationId" binding:"required"`
}

// Deps are the collaborators of a VariationService.
type Deps struct {
	Store     variation.Store
	Canonical canonical.Store
	Events    *stream.Broadcaster
	Generator generator.Generator
	Budget    Budget
	Metrics   metrics.Recorder
}

// task is a running generation.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// VariationService runs the propose, stream, discard and expiry side of the protocol.
type VariationService struct {
	store     variation.Store
	canonical canonical.Store
	events    *stream.Broadcaster
	generator generator.Generator
	budget    Budget
	metrics   metrics.Recorder
	settings  Settings
	commits   *CommitEngine

	locks *keyedLocks
	sem   *semaphore.Weighted
	now   func() time.Time

	// ctx is the parent of every generation task; cancelled on Shutdown.
	ctx      context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	tasks    map[string]*task
	limiters map[string]*rate.Limiter
	closing  bool
	wg       sync.WaitGroup
}

func NewVariationService(deps Deps, settings Settings) *VariationService {
	if deps.Budget == nil {
		deps.Budget = Unlimited{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Multi{}
	}
	settings = settings.withDefaults()

	ctx, stop := context.WithCancel(context.Background())
	locks := newKeyedLocks()
	return &VariationService{
		store:     deps.Store,
		canonical: deps.Canonical,
		events:    deps.Events,
		generator: deps.Generator,
		budget:    deps.Budget,
		metrics:   deps.Metrics,
		settings:  settings,
		commits:   NewCommitEngine(deps.Store, deps.Canonical, deps.Metrics, locks),
		locks:     locks,
		sem:       semaphore.NewWeighted(settings.MaxConcurrentGenerations),
		now:       time.Now,
		ctx:       ctx,
		stop:      stop,
		tasks:     make(map[string]*task),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Commits returns the commit engine sharing this service's per-variation locks.
func (s *VariationService) Commits() *CommitEngine {
	return s.commits
}

// Propose validates the request, records a CREATED variation and starts its generation task.
// Checks run in order: intent, project, base state, scope, rate limit, budget.
func (s *VariationService) Propose(ctx context.Context, caller Caller, req ProposeRequest) (*ProposeResponse, error) {
	resp, err := s.propose(ctx, caller, req)
	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, variation.ErrConflict):
		outcome = metrics.OutcomeConflict
	case err != nil:
		outcome = metrics.OutcomeRejected
	}
	s.metrics.RecordProposal(ctx, outcome)
	return resp, err
}

func (s *VariationService) propose(ctx context.Context, caller Caller, req ProposeRequest) (*ProposeResponse, error) {
	if s.isClosing() {
		return nil, ErrShuttingDown
	}
	intent := strings.TrimSpace(req.Intent)
	if intent == "" {
		return nil, variation.BadRequest("intent is required")
	}
	if err := validateOptions(req.Options); err != nil {
		return nil, err
	}

	current, err := s.canonical.CurrentVersion(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, canonical.ErrProjectNotFound) {
			return nil, variation.NotFound("project", req.ProjectID)
		}
		return nil, err
	}
	if req.BaseStateID != current {
		return nil, variation.NewConflict(variation.ReasonStaleBase,
			"project is at state %s, not %s", current, req.BaseStateID)
	}

	scope, err := s.resolveScope(ctx, req.ProjectID, req.Scope, req.Options)
	if err != nil {
		return nil, err
	}

	if !s.allow(caller.Owner) {
		return nil, fmt.Errorf("%w: at most %d proposals per minute", variation.ErrRateLimited, s.settings.ProposeRatePerMinute)
	}
	if err := s.budget.Charge(ctx, caller.Owner, caller.Role, s.settings.CreditsPerProposal); err != nil {
		return nil, err
	}

	v, err := s.store.Create(variation.CreateParams{
		ProjectID:   req.ProjectID,
		BaseStateID: current,
		Intent:      intent,
		Scope:       scope,
		Options:     req.Options,
		Owner:       caller.Owner,
	})
	if err != nil {
		s.refund(caller, err)
		return nil, err
	}

	s.events.Open(v.VariationID, v.ProjectID, v.BaseStateID)
	if err := s.start(v); err != nil {
		s.refund(caller, err)
		return nil, err
	}

	if caller.Owner != "" {
		usage := &models.UsageLog{
			Owner:          caller.Owner,
			VariationID:    v.VariationID,
			ProjectID:      v.ProjectID,
			Model:          s.modelFor(req.Options),
			CreditsCharged: s.settings.CreditsPerProposal,
			RequestID:      caller.RequestID,
		}
		if err := s.budget.LogUsage(ctx, usage); err != nil {
			logger.Warn("Failed to log usage", logger.ForVariation(v).With(logger.Fields{"error": err.Error()}))
		}
	}

	logger.Info("🎵 Variation proposed", logger.ForVariation(v).With(logger.Fields{
		"regions":    len(scope.Regions),
		"request_id": caller.RequestID,
	}))

	return &ProposeResponse{
		VariationID:   v.VariationID,
		ProjectID:     v.ProjectID,
		BaseStateID:   v.BaseStateID,
		Intent:        v.Intent,
		AIExplanation: v.AIExplanation,
		StreamURL:     StreamURL(v.VariationID),
	}, nil
}

// refund returns the proposal charge when the variation never started.
func (s *VariationService) refund(caller Caller, cause error) {
	// Detached from the request context.
	ctx, cancel := context.WithTimeout(context.Background(), refundTimeout)
	defer cancel()
	if err := s.budget.Refund(ctx, caller.Owner, caller.Role, s.settings.CreditsPerProposal); err != nil {
		logger.Error("Failed to refund proposal", err, logger.Fields{
			"owner": caller.Owner,
			"cause": cause.Error(),
		})
	}
}

// StreamURL is where a client follows a variation's events.
func StreamURL(variationID string) string {
	return fmt.Sprintf("/variation/stream?variationId=%s&fromSequence=0", variationID)
}

func validateOptions(o models.Options) error {
	if o.PhraseBars < 0 || o.BeatsPerBar < 0 || o.ToleranceBeats < 0 {
		return variation.BadRequest("options must not be negative")
	}
	if o.BeatsPerBar > 32 {
		return variation.BadRequest("beatsPerBar %d is too large", o.BeatsPerBar)
	}
	return nil
}

func (s *VariationService) modelFor(o models.Options) string {
	if o.Model != "" {
		return o.Model
	}
	return s.generator.Name()
}

// phraseWindow is the length in beats of one phrase for these options.
func (s *VariationService) phraseWindow(o models.Options) float64 {
	bars, beats := s.settings.PhraseBars, s.settings.BeatsPerBar
	if o.PhraseBars > 0 {
		bars = o.PhraseBars
	}
	if o.BeatsPerBar > 0 {
		beats = o.BeatsPerBar
	}
	return float64(bars * beats)
}

// resolveScope fills in ids and marks regions missing from canonical state as new.
// An omitted scope becomes one new region at beat 0 spanning one phrase window.
func (s *VariationService) resolveScope(ctx context.Context, projectID string, in *models.Scope, opts models.Options) (models.Scope, error) {
	if in == nil || len(in.Regions) == 0 {
		return models.Scope{Regions: []models.ScopeRegion{{
			TrackID:       uuid.New().String(),
			RegionID:      uuid.New().String(),
			DurationBeats: s.phraseWindow(opts),
			Name:          newRegionName,
			IsNew:         true,
		}}}, nil
	}

	seen := map[string]bool{}
	out := models.Scope{Regions: make([]models.ScopeRegion, 0, len(in.Regions))}
	for _, r := range in.Regions {
		if r.RegionID == "" {
			r.RegionID = uuid.New().String()
		}
		if seen[r.RegionID] {
			return models.Scope{}, variation.BadRequest("region %s appears twice in scope", r.RegionID)
		}
		seen[r.RegionID] = true

		existing, err := s.canonical.GetRegion(ctx, projectID, r.RegionID)
		switch {
		case err == nil:
			if r.TrackID != "" && r.TrackID != existing.TrackID {
				return models.Scope{}, variation.BadRequest("region %s is on track %s, not %s", r.RegionID, existing.TrackID, r.TrackID)
			}
			r.TrackID = existing.TrackID
			r.StartBeat = existing.StartBeat
			r.DurationBeats = existing.DurationBeats
			r.Name = existing.Name
			r.IsNew = false
		case errors.Is(err, canonical.ErrRegionNotFound):
			if r.TrackID == "" {
				r.TrackID = uuid.New().String()
			}
			if r.StartBeat < 0 || r.DurationBeats < 0 {
				return models.Scope{}, variation.BadRequest("region %s has a negative position", r.RegionID)
			}
			if r.DurationBeats == 0 {
				r.DurationBeats = s.phraseWindow(opts)
			}
			r.IsNew = true
		default:
			return models.Scope{}, err
		}
		out.Regions = append(out.Regions, r)
	}
	return out, nil
}

// allow applies the per-owner propose rate limit.
func (s *VariationService) allow(owner string) bool {
	if s.settings.ProposeRatePerMinute <= 0 {
		return true
	}
	if owner == "" {
		owner = anonymousOwner
	}

	s.mu.Lock()
	limiter, ok := s.limiters[owner]
	if !ok {
		perMinute := s.settings.ProposeRatePerMinute
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		s.limiters[owner] = limiter
	}
	s.mu.Unlock()

	return limiter.Allow()
}

// Get returns a snapshot of a variation.
func (s *VariationService) Get(variationID string) (*models.Variation, error) {
	return s.store.Get(variationID)
}

// Subscribe opens a cursor on a variation's events after fromSequence.
func (s *VariationService) Subscribe(variationID string, fromSequence int64) (*stream.Cursor, error) {
	if _, err := s.store.Get(variationID); err != nil {
		return nil, err
	}
	cursor, err := s.events.Subscribe(variationID, fromSequence)
	if errors.Is(err, stream.ErrUnknownVariation) {
		return nil, variation.NotFound("variation", variationID)
	}
	if err != nil {
		return nil, err
	}
	s.metrics.StreamOpened()
	return cursor, nil
}

// StreamClosed is called by the transport when a subscriber goes away.
func (s *VariationService) StreamClosed(cursor *stream.Cursor) {
	cursor.Close()
	s.metrics.StreamClosed()
}

// Discard cancels or drops a variation.
// STREAMING and CREATED variations are stopped by their task, which emits done(discarded).
// READY goes straight to DISCARDED. Discarding twice succeeds.
func (s *VariationService) Discard(ctx context.Context, req DiscardRequest) error {
	err := s.discard(ctx, req)
	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, variation.ErrConflict):
		outcome = metrics.OutcomeConflict
	case err != nil:
		outcome = metrics.OutcomeRejected
	}
	s.metrics.RecordDiscard(ctx, outcome)
	return err
}

func (s *VariationService) discard(ctx context.Context, req DiscardRequest) error {
	v, err := s.store.Get(req.VariationID)
	if err != nil {
		return err
	}
	if v.ProjectID != req.ProjectID {
		return variation.NotFound("variation", req.VariationID)
	}

	if v.Status == models.StatusCreated || v.Status == models.StatusStreaming {
		if t := s.task(v.VariationID); t != nil {
			t.cancel()
			if err := s.awaitTask(ctx, t); err != nil {
				return err
			}
		} else if err := s.abandon(v, models.StatusDiscarded); err != nil && !errors.Is(err, variation.ErrConflict) {
			return err
		}
	}

	unlock := s.locks.Lock(v.VariationID)
	defer unlock()

	v, err = s.store.Get(v.VariationID)
	if err != nil {
		return err
	}
	switch v.Status {
	case models.StatusDiscarded:
	case models.StatusReady:
		if err := s.store.CompareAndSetStatus(v.VariationID, models.StatusReady, models.StatusDiscarded); err != nil {
			return err
		}
	default:
		return variation.NewConflict(variation.ReasonTerminalState, "variation %s is %s", v.VariationID, v.Status)
	}

	logger.Info("🗑️ Variation discarded", logger.ForVariation(v))
	return nil
}

func (s *VariationService) awaitTask(ctx context.Context, t *task) error {
	timer := time.NewTimer(s.settings.DiscardTimeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return nil
	case <-timer.C:
		return ErrDiscardTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *VariationService) task(variationID string) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[variationID]
}

// abandon ends a variation that has no running task. Its log gets meta and done.
func (s *VariationService) abandon(v *models.Variation, next models.Status) error {
	if err := s.store.CompareAndSetStatus(v.VariationID, v.Status, next); err != nil {
		return err
	}
	log, ok := s.events.Lookup(v.VariationID)
	if !ok || log.Closed() {
		return nil
	}
	done := models.DoneDiscarded
	if next != models.StatusDiscarded {
		done = models.DoneFailed
	}
	seq := variation.NewSequenceCounter(log.LastSequence())
	if log.LastSequence() == 0 {
		s.publish(v.VariationID, seq, metaPayload(v))
	}
	s.publish(v.VariationID, seq, models.DonePayload{
		Status:      done,
		PhraseCount: len(v.Phrases),
		NoteCounts:  v.NoteCounts,
	})
	return nil
}

// RunJanitor expires and deletes variations until ctx ends.
func (s *VariationService) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.settings.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep expires idle READY variations and deletes terminal ones past retention.
func (s *VariationService) Sweep() (expired, deleted int) {
	all, err := s.store.List()
	if err != nil {
		logger.Error("Janitor failed to list variations", err, nil)
		return 0, 0
	}
	now := s.now()

	for _, v := range all {
		idle := now.Sub(v.UpdatedAt)
		switch {
		case v.Status.IsTerminal():
			if s.settings.VariationRetention > 0 && idle > s.settings.VariationRetention {
				if err := s.store.Delete(v.VariationID); err != nil {
					logger.Warn("Janitor failed to delete variation", logger.ForVariation(v).With(logger.Fields{"error": err.Error()}))
					continue
				}
				s.events.Remove(v.VariationID)
				deleted++
			}
		case v.Status == models.StatusReady:
			if s.settings.VariationTTL > 0 && idle > s.settings.VariationTTL && s.expire(v) {
				expired++
			}
		}
	}

	if expired > 0 || deleted > 0 {
		logger.Info("🧹 Janitor sweep", logger.Fields{"expired": expired, "deleted": deleted})
	}
	return expired, deleted
}

func (s *VariationService) expire(v *models.Variation) bool {
	unlock := s.locks.Lock(v.VariationID)
	defer unlock()
	if err := s.store.CompareAndSetStatus(v.VariationID, models.StatusReady, models.StatusExpired); err != nil {
		return false
	}
	logger.Info("⌛ Variation expired", logger.ForVariation(v))
	return true
}

// RestoreLogs rebuilds replay logs for variations loaded from a durable store.
// The replay holds meta, the recorded phrases and a closing done.
func (s *VariationService) RestoreLogs() int {
	all, err := s.store.List()
	if err != nil {
		logger.Error("Failed to list variations for restore", err, nil)
		return 0
	}

	restored := 0
	for _, v := range all {
		if _, ok := s.events.Lookup(v.VariationID); ok {
			continue
		}
		s.events.Open(v.VariationID, v.ProjectID, v.BaseStateID)

		s.replayAt(v.VariationID, 1, metaPayload(v))
		last := int64(1)
		for _, p := range v.Phrases {
			n := p.Sequence
			if n <= last {
				n = last + 1
			}
			s.replayAt(v.VariationID, n, models.PhrasePayload{Phrase: p})
			last = n
		}

		switch v.Status {
		case models.StatusCreated, models.StatusStreaming:
			// still owned by a task; nothing to close
			continue
		case models.StatusFailed:
			last++
			s.replayAt(v.VariationID, last, models.ErrorPayload{Message: v.ErrorMessage, Code: codeGenerationFailed})
		}
		s.replayAt(v.VariationID, last+1, models.DonePayload{
			Status:        doneStatusFor(v.Status),
			PhraseCount:   len(v.Phrases),
			NoteCounts:    v.NoteCounts,
			AIExplanation: v.AIExplanation,
		})
		restored++
	}

	if restored > 0 {
		logger.Info("♻️ Restored variation event logs", logger.Fields{"count": restored})
	}
	return restored
}

func (s *VariationService) replayAt(variationID string, n int64, payload models.EventPayload) {
	if _, err := s.events.Publish(variationID, n, payload); err != nil {
		logger.Warn("Failed to replay event", logger.Fields{"variation_id": variationID, "sequence": n, "error": err.Error()})
	}
}

func doneStatusFor(status models.Status) models.DoneStatus {
	switch status {
	case models.StatusFailed:
		return models.DoneFailed
	case models.StatusDiscarded:
		return models.DoneDiscarded
	}
	return models.DoneReady
}

// Shutdown stops accepting proposals, fails running tasks and waits for them.
func (s *VariationService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *VariationService) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Stats is a point-in-time view of the service for the runtime metrics endpoint.
type Stats struct {
	Generator          string `json:"generator"`
	RunningGenerations int    `json:"running_generations"`
	OpenStreams        int64  `json:"open_streams"`
	ShuttingDown       bool   `json:"shutting_down"`
}

func (s *VariationService) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Generator:          s.generator.Name(),
		RunningGenerations: len(s.tasks),
		OpenStreams:        s.events.Subscribers(),
		ShuttingDown:       s.closing,
	}
}

// List returns every variation, optionally filtered by project and status.
func (s *VariationService) List(projectID string, status models.Status) ([]*models.Variation, error) {
	all, err := s.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]*models.Variation, 0, len(all))
	for _, v := range all {
		if projectID != "" && v.ProjectID != projectID {
			continue
		}
		if status != "" && v.Status != status {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
