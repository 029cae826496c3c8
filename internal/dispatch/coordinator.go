package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postforge/autopost/internal/adapter"
	"github.com/postforge/autopost/internal/models"
	"github.com/postforge/autopost/internal/store"
)

// Config bounds one dispatch cycle. Values come from the process
// configuration, never from the environment mid-run.
type Config struct {
	// AdvanceInterval is the fixed delta added to a claimed rule's
	// next_run_at. Cadence descriptors stay informational.
	AdvanceInterval time.Duration

	// MaxConcurrency bounds how many rules dispatch at once. Platforms
	// within one rule always run sequentially in stored order.
	MaxConcurrency int

	Logger *log.Logger
}

// Coordinator fans each eligible rule out to its platform adapters and
// records every attempt in the run ledger. One RunOnce call is one bounded
// unit of work driven by an external trigger; the coordinator owns no
// timer.
type Coordinator struct {
	store    store.Store
	registry *adapter.Registry
	interval time.Duration
	workers  int
	logger   *log.Logger
	now      func() time.Time
}

func NewCoordinator(st store.Store, reg *adapter.Registry, cfg Config) *Coordinator {
	interval := cfg.AdvanceInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	workers := cfg.MaxConcurrency
	if workers <= 0 {
		workers = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[dispatch] ", log.LstdFlags)
	}
	return &Coordinator{
		store:    st,
		registry: reg,
		interval: interval,
		workers:  workers,
		logger:   logger,
		now:      time.Now,
	}
}

type counters struct {
	mu         sync.Mutex
	dispatched int
	succeeded  int
	failed     int
}

func (c *counters) record(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatched++
	if success {
		c.succeeded++
	} else {
		c.failed++
	}
}

// RunOnce executes one dispatch cycle and returns the persisted run
// summary. Adapter and per-rule store failures are recorded, never
// propagated; only failure to read the rule set or write the run row
// itself surfaces as an error.
func (c *Coordinator) RunOnce(ctx context.Context, trigger string, dryRun bool) (models.Run, error) {
	startedAt := c.now().UTC()
	run, err := c.store.CreateRun(ctx, store.RunInput{
		ID:        uuid.New(),
		Trigger:   trigger,
		DryRun:    dryRun,
		StartedAt: startedAt,
	})
	if err != nil {
		return models.Run{}, fmt.Errorf("create run: %w", err)
	}

	rules, err := c.store.ListRules(ctx)
	if err != nil {
		return models.Run{}, fmt.Errorf("list rules: %w", err)
	}
	eligible := SelectEligible(rules, startedAt)
	c.logger.Printf("run %s: scanned=%d eligible=%d dry_run=%v", run.ID, len(rules), len(eligible), dryRun)

	var (
		tally counters
		wg    sync.WaitGroup
		sem   = make(chan struct{}, c.workers)
	)
	for _, rule := range eligible {
		sem <- struct{}{}
		wg.Add(1)
		go func(rule models.Rule) {
			defer func() {
				<-sem
				wg.Done()
			}()
			c.processRule(ctx, run, rule, dryRun, &tally)
		}(rule)
	}
	wg.Wait()

	tally.mu.Lock()
	finish := store.FinishRunInput{
		ID:            run.ID,
		RulesScanned:  len(rules),
		RulesEligible: len(eligible),
		Dispatched:    tally.dispatched,
		Succeeded:     tally.succeeded,
		Failed:        tally.failed,
		FinishedAt:    c.now().UTC(),
	}
	tally.mu.Unlock()

	finished, err := c.store.FinishRun(ctx, finish)
	if err != nil {
		return models.Run{}, fmt.Errorf("finish run: %w", err)
	}
	c.logger.Printf("run %s: dispatched=%d succeeded=%d failed=%d", finished.ID, finished.Dispatched, finished.Succeeded, finished.Failed)
	return finished, nil
}

// processRule claims a rule's dispatch cycle, then walks its platform set
// in stored order. A lost claim means an overlapping run owns this cycle.
func (c *Coordinator) processRule(ctx context.Context, run models.Run, rule models.Rule, dryRun bool, tally *counters) {
	claimedAt := c.now().UTC()
	err := c.store.ClaimRuleForDispatch(ctx, rule.ID, rule.LastRunAt, claimedAt, claimedAt.Add(c.interval))
	if errors.Is(err, store.ErrAlreadyClaimed) {
		c.logger.Printf("run %s: rule %s claimed by another run, skipping", run.ID, rule.ID)
		return
	}
	if err != nil {
		// A stuck rule must not stall the run.
		c.logger.Printf("run %s: claim rule %s: %v", run.ID, rule.ID, err)
		return
	}

	for _, platformID := range rule.Platforms {
		result := c.dispatchOne(ctx, run, rule, platformID, dryRun)
		if _, err := c.store.InsertDispatchResult(ctx, result); err != nil {
			c.logger.Printf("run %s: record result rule=%s platform=%s: %v", run.ID, rule.ID, platformID, err)
		}
		tally.record(result.Success)
	}
}

func (c *Coordinator) dispatchOne(ctx context.Context, run models.Run, rule models.Rule, platformID string, dryRun bool) store.DispatchResultInput {
	result := store.DispatchResultInput{
		RunID:    run.ID,
		RuleID:   rule.ID,
		UserID:   rule.UserID,
		Platform: platformID,
	}

	a, ok := c.registry.Resolve(platformID)
	if !ok {
		result.ErrorCode = models.CodeUnsupportedPlatform
		result.ErrorMessage = fmt.Sprintf("no adapter registered for platform %q", platformID)
		return result
	}

	if dryRun {
		// Rehearsal: deterministic placeholder, no adapter contact.
		result.Success = true
		result.PlatformPostID = dryRunPostID(rule.ID, platformID, run.StartedAt)
		return result
	}

	res, err := a.Dispatch(ctx, adapter.Request{
		Mode:         "live",
		RuleID:       rule.ID,
		UserID:       rule.UserID,
		Platform:     platformID,
		Timezone:     rule.Timezone,
		Intensity:    rule.Intensity,
		Tones:        rule.Tones,
		Cadence:      rule.Cadence,
		TimeSlots:    rule.TimeSlots,
		PostsPerDay:  rule.PostsPerDay,
		RevenueSplit: rule.RevenueSplit,
	})
	if err != nil {
		result.ErrorCode = models.CodePlatformDispatchError
		result.ErrorMessage = err.Error()
		return result
	}
	result.Success = res.OK
	result.PlatformPostID = res.PlatformPostID
	result.ErrorCode = res.ErrorCode
	result.ErrorMessage = res.ErrorMessage
	if !res.OK && result.ErrorCode == "" {
		result.ErrorCode = models.CodePlatformDispatchError
	}
	return result
}

func dryRunPostID(ruleID uuid.UUID, platformID string, startedAt time.Time) string {
	return fmt.Sprintf("dry-%s-%s-%d", ruleID.String()[:8], platformID, startedAt.Unix())
}
