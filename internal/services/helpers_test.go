package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/canonical"
	"github.com/Conceptual-Machines/magda-variations/internal/generator"
	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/Conceptual-Machines/magda-variations/internal/stream"
	"github.com/Conceptual-Machines/magda-variations/internal/variation"
	"github.com/stretchr/testify/require"
)

const (
	testProject = "p1"
	testTrack   = "t1"
	testRegion  = "r1"
)

// staticGenerator returns the same after-state for every region.
type staticGenerator struct {
	notes       []models.NoteSnapshot
	controllers []models.ControllerChange
	explanation string
}

func (g *staticGenerator) Name() string { return "static" }

func (g *staticGenerator) Generate(ctx context.Context, _ *generator.Request) (*generator.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &generator.Result{
		Notes:       append([]models.NoteSnapshot{}, g.notes...),
		Controllers: append([]models.ControllerChange{}, g.controllers...),
		Explanation: g.explanation,
		Model:       "static",
	}, nil
}

// blockingGenerator waits until its context ends.
type blockingGenerator struct {
	started chan struct{}
	once    sync.Once
}

func newBlockingGenerator() *blockingGenerator {
	return &blockingGenerator{started: make(chan struct{})}
}

func (g *blockingGenerator) Name() string { return "blocking" }

func (g *blockingGenerator) Generate(ctx context.Context, _ *generator.Request) (*generator.Result, error) {
	g.once.Do(func() { close(g.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingGenerator struct{ err error }

func (g *failingGenerator) Name() string { return "failing" }

func (g *failingGenerator) Generate(context.Context, *generator.Request) (*generator.Result, error) {
	return nil, g.err
}

type denyBudget struct{}

func (denyBudget) Charge(context.Context, string, string, int) error {
	return variation.ErrBudget
}

func (denyBudget) Refund(context.Context, string, string, int) error { return nil }

func (denyBudget) LogUsage(context.Context, *models.UsageLog) error { return nil }

type harness struct {
	svc       *VariationService
	store     *variation.MemoryStore
	canonical *canonical.MemoryStore
	events    *stream.Broadcaster
}

func testSettings() Settings {
	return Settings{
		PhraseBars:        1,
		BeatsPerBar:       4,
		GenerationTimeout: 5 * time.Second,
		DiscardTimeout:    5 * time.Second,
		VariationTTL:      time.Hour,
		JanitorInterval:   time.Hour,
	}
}

func newHarness(t *testing.T, gen generator.Generator, settings Settings) *harness {
	t.Helper()
	return newHarnessWith(t, gen, settings, nil, nil)
}

// newHarnessWith lets a test wrap the variation store and pick the budget.
func newHarnessWith(t *testing.T, gen generator.Generator, settings Settings, wrap func(variation.Store) variation.Store, budget Budget) *harness {
	t.Helper()
	h := &harness{
		store:     variation.NewMemoryStore(),
		canonical: canonical.NewMemoryStore(),
		events:    stream.NewBroadcaster(time.Second),
	}
	var store variation.Store = h.store
	if wrap != nil {
		store = wrap(h.store)
	}
	h.svc = NewVariationService(Deps{
		Store:     store,
		Canonical: h.canonical,
		Events:    h.events,
		Generator: gen,
		Budget:    budget,
	}, settings)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.svc.Shutdown(ctx)
	})
	return h
}

// hookedStore runs hooks around phrase appends and creation.
type hookedStore struct {
	variation.Store
	onAppend func(variationID string, appended int) error
	onCreate func() error
	appended int
	mu       sync.Mutex
}

func (s *hookedStore) AppendPhrase(variationID string, phrase models.Phrase) error {
	s.mu.Lock()
	n := s.appended + 1
	s.mu.Unlock()
	if s.onAppend != nil {
		if err := s.onAppend(variationID, n); err != nil {
			return err
		}
	}
	if err := s.Store.AppendPhrase(variationID, phrase); err != nil {
		return err
	}
	s.mu.Lock()
	s.appended = n
	s.mu.Unlock()
	return nil
}

func (s *hookedStore) Create(params variation.CreateParams) (*models.Variation, error) {
	if s.onCreate != nil {
		if err := s.onCreate(); err != nil {
			return nil, err
		}
	}
	return s.Store.Create(params)
}

// countingBudget records charges and refunds.
type countingBudget struct {
	mu       sync.Mutex
	charged  int
	refunded int
	logged   int
}

func (b *countingBudget) Charge(_ context.Context, _, _ string, credits int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.charged += credits
	return nil
}

func (b *countingBudget) Refund(_ context.Context, _, _ string, credits int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refunded += credits
	return nil
}

func (b *countingBudget) LogUsage(context.Context, *models.UsageLog) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logged++
	return nil
}

func note(pitch int, start float64, velocity int) models.NoteSnapshot {
	return models.NoteSnapshot{Pitch: pitch, StartBeat: start, DurationBeats: 1, Velocity: velocity}
}

// seed creates a project with one 3-bar region holding a note in each bar.
// The project ends at state "2".
func (h *harness) seed(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	_, err := h.canonical.CreateProject(ctx, testProject, "Song")
	require.NoError(t, err)
	version, _, err := h.canonical.ApplyChanges(ctx, testProject, "1", []canonical.ChangeSet{{
		TrackID:  testTrack,
		RegionID: testRegion,
		Create:   &models.RegionCreation{StartBeat: 0, DurationBeats: 12, Name: "Keys"},
		AddNotes: []models.Note{
			{ID: "n1", NoteSnapshot: note(60, 0, 100)},
			{ID: "n2", NoteSnapshot: note(62, 4, 100)},
			{ID: "n3", NoteSnapshot: note(64, 8, 100)},
		},
	}})
	require.NoError(t, err)
	return version
}

// threePhraseGenerator modifies bar 1, adds to bar 2 and empties bar 3 of the seeded region.
func threePhraseGenerator() *staticGenerator {
	return &staticGenerator{
		notes: []models.NoteSnapshot{
			note(60, 0, 80),
			note(62, 4, 100),
			note(67, 5, 90),
		},
		explanation: "Softer start, a fifth in bar two, bar three left empty",
	}
}

func (h *harness) propose(t *testing.T, base string) *ProposeResponse {
	t.Helper()
	resp, err := h.svc.Propose(context.Background(), Caller{Owner: "u1"}, ProposeRequest{
		ProjectID:   testProject,
		BaseStateID: base,
		Intent:      "rework the keys",
		Scope:       &models.Scope{Regions: []models.ScopeRegion{{TrackID: testTrack, RegionID: testRegion}}},
	})
	require.NoError(t, err)
	return resp
}

// collect reads a variation's stream from fromSequence until done, skipping heartbeats.
func (h *harness) collect(t *testing.T, variationID string, fromSequence int64) []models.EventEnvelope {
	t.Helper()
	cursor, err := h.svc.Subscribe(variationID, fromSequence)
	require.NoError(t, err)
	defer h.svc.StreamClosed(cursor)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []models.EventEnvelope
	for {
		env, err := cursor.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		if env.Type == models.EventHeartbeat {
			continue
		}
		out = append(out, env)
	}
}

func eventTypes(envs []models.EventEnvelope) []models.EventType {
	out := make([]models.EventType, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

func waitStarted(t *testing.T, g *blockingGenerator) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(5 * time.Second):
		t.Fatal("generator never started")
	}
}
