package services

import (
	"sync"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/config"
	"github.com/Conceptual-Machines/magda-variations/internal/diff"
)

// Settings are the service-wide defaults and limits.
type Settings struct {
	PhraseBars          int
	BeatsPerBar         int
	MatchToleranceBeats float64

	MaxConcurrentGenerations int64
	GenerationTimeout        time.Duration
	DiscardTimeout           time.Duration
	VariationTTL             time.Duration
	VariationRetention       time.Duration
	JanitorInterval          time.Duration

	CreditsPerProposal   int
	ProposeRatePerMinute int
}

// SettingsFromConfig copies the relevant configuration values.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		PhraseBars:               cfg.PhraseBars,
		BeatsPerBar:              cfg.BeatsPerBar,
		MatchToleranceBeats:      cfg.MatchToleranceBeats,
		MaxConcurrentGenerations: cfg.MaxConcurrentGenerations,
		GenerationTimeout:        cfg.GenerationTimeout,
		DiscardTimeout:           cfg.DiscardTimeout,
		VariationTTL:             cfg.VariationTTL,
		VariationRetention:       cfg.VariationRetention,
		JanitorInterval:          cfg.JanitorInterval,
		CreditsPerProposal:       cfg.CreditsPerProposal,
		ProposeRatePerMinute:     cfg.ProposeRatePerMinute,
	}
}

func (s Settings) withDefaults() Settings {
	if s.PhraseBars <= 0 {
		s.PhraseBars = 4
	}
	if s.BeatsPerBar <= 0 {
		s.BeatsPerBar = 4
	}
	if s.MatchToleranceBeats <= 0 {
		s.MatchToleranceBeats = diff.DefaultToleranceBeats
	}
	if s.MaxConcurrentGenerations <= 0 {
		s.MaxConcurrentGenerations = 8
	}
	if s.GenerationTimeout <= 0 {
		s.GenerationTimeout = 2 * time.Minute
	}
	if s.DiscardTimeout <= 0 {
		s.DiscardTimeout = 10 * time.Second
	}
	if s.JanitorInterval <= 0 {
		s.JanitorInterval = time.Minute
	}
	if s.CreditsPerProposal <= 0 {
		s.CreditsPerProposal = 1
	}
	return s
}

// keyedLocks hands out one mutex per variation id.
// Commit, discard and expiry hold it while they move a READY variation.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*refLock)}
}

// Lock blocks until id is free and returns the unlock function.
func (k *keyedLocks) Lock(id string) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
