package aicontext

import (
	"context"
	"sort"
	"time"

	"github.com/beaglenote/wikidex/internal/debug"
	"github.com/beaglenote/wikidex/internal/errors"
	"github.com/beaglenote/wikidex/internal/types"
)

// SettingsSource yields the stored LLM settings for a user, unmasked.
type SettingsSource interface {
	RawAISettings(userID string) (*types.AISettings, error)
}

// Scheduler drives periodic context generation. Each tick groups registered
// spaces by owner and generates for the owners that have AI enabled. The
// generator's single-flight flag keeps overlapping ticks and manual triggers
// from running concurrently.
type Scheduler struct {
	gen      *Generator
	settings SettingsSource
	interval time.Duration
	provider func(*types.AISettings) (Provider, error)
}

// NewScheduler builds a scheduler. A non-positive interval disables it.
func NewScheduler(gen *Generator, settings SettingsSource, interval time.Duration) *Scheduler {
	return &Scheduler{
		gen:      gen,
		settings: settings,
		interval: interval,
		provider: NewProvider,
	}
}

// Start launches the tick loop. It returns immediately; the loop stops when
// ctx is cancelled. A scheduler with no interval never ticks.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.RunOnce(ctx); err != nil {
					debug.LogAIContext("scheduled run failed: %v", err)
				}
			}
		}
	}()
}

// RunOnce performs one scheduled pass over all owners. Owners without AI
// enabled are skipped; a run already in flight skips the whole tick.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	byOwner := make(map[string][]int64)
	for _, space := range s.gen.reg.All() {
		byOwner[space.OwnerID] = append(byOwner[space.OwnerID], space.ID)
	}
	owners := make([]string, 0, len(byOwner))
	for owner := range byOwner {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return err
		}
		settings, err := s.settings.RawAISettings(owner)
		if err != nil {
			debug.LogAIContext("settings read for owner %s failed: %v", owner, err)
			continue
		}
		if !settings.Enabled {
			continue
		}
		provider, err := s.provider(settings)
		if err != nil {
			debug.LogAIContext("provider for owner %s unavailable: %v", owner, err)
			continue
		}
		if _, err := s.gen.Run(ctx, provider, byOwner[owner]...); err != nil {
			if errors.Is(err, errors.KindBusy) {
				debug.LogAIContext("skipping tick, generation already running")
				return nil
			}
			debug.LogAIContext("scheduled run for owner %s failed: %v", owner, err)
		}
	}
	return nil
}
