package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postforge/autopost/internal/models"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	rules   map[uuid.UUID]models.Rule
	runs    map[uuid.UUID]models.Run
	results map[uuid.UUID]models.DispatchResult
	// ledger key (run, rule, platform) -> result id, for idempotent appends
	resultKeys map[resultKey]uuid.UUID
	seq        int
	resultSeq  map[uuid.UUID]int
}

type resultKey struct {
	runID    uuid.UUID
	ruleID   uuid.UUID
	platform string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:      map[uuid.UUID]models.Rule{},
		runs:       map[uuid.UUID]models.Run{},
		results:    map[uuid.UUID]models.DispatchResult{},
		resultKeys: map[resultKey]uuid.UUID{},
		resultSeq:  map[uuid.UUID]int{},
	}
}

func copyJSON(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return append(json.RawMessage(nil), raw...)
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func (m *MemoryStore) CreateRule(ctx context.Context, in RuleInput) (models.Rule, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	now := time.Now().UTC()
	rule := models.Rule{
		ID:              in.ID,
		UserID:          in.UserID,
		Platforms:       copyStrings(in.Platforms),
		Intensity:       in.Intensity,
		Tones:           copyStrings(in.Tones),
		Cadence:         in.Cadence,
		Timezone:        in.Timezone,
		TimeSlots:       copyStrings(in.TimeSlots),
		PostsPerDay:     in.PostsPerDay,
		RevenueSplit:    copyJSON(in.RevenueSplit, "{}"),
		Enabled:         in.Enabled,
		ApprovalState:   models.ApprovalDraft,
		AdmissionState:  in.AdmissionState,
		AdmissionReason: in.AdmissionReason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = rule
	return rule, nil
}

func (m *MemoryStore) GetRule(ctx context.Context, id uuid.UUID) (models.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[id]
	if !ok {
		return models.Rule{}, ErrNotFound
	}
	return rule, nil
}

func (m *MemoryStore) ListRules(ctx context.Context) ([]models.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rules := make([]models.Rule, 0, len(m.rules))
	for _, rule := range m.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].ID.String() < rules[j].ID.String()
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

func (m *MemoryStore) ListRulesByUser(ctx context.Context, userID uuid.UUID) ([]models.Rule, error) {
	all, err := m.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	var rules []models.Rule
	for _, rule := range all {
		if rule.UserID == userID {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func (m *MemoryStore) SetApproved(ctx context.Context, id uuid.UUID, approvedAt, nextRunAt time.Time) (models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return models.Rule{}, ErrNotFound
	}
	rule.ApprovalState = models.ApprovalApproved
	at := approvedAt
	rule.ApprovedAt = &at
	if rule.NextRunAt == nil {
		next := nextRunAt
		rule.NextRunAt = &next
	}
	rule.UpdatedAt = time.Now().UTC()
	m.rules[id] = rule
	return rule, nil
}

func (m *MemoryStore) SetPaused(ctx context.Context, id uuid.UUID, pausedAt *time.Time) (models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return models.Rule{}, ErrNotFound
	}
	if pausedAt != nil {
		at := *pausedAt
		rule.PausedAt = &at
	} else {
		rule.PausedAt = nil
	}
	rule.UpdatedAt = time.Now().UTC()
	m.rules[id] = rule
	return rule, nil
}

func (m *MemoryStore) SetRevoked(ctx context.Context, id uuid.UUID, revokedAt time.Time) (models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return models.Rule{}, ErrNotFound
	}
	rule.ApprovalState = models.ApprovalRevoked
	at := revokedAt
	rule.RevokedAt = &at
	rule.UpdatedAt = time.Now().UTC()
	m.rules[id] = rule
	return rule, nil
}

func (m *MemoryStore) ClaimRuleForDispatch(ctx context.Context, id uuid.UUID, seenLastRunAt *time.Time, lastRunAt, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	if !sameTime(rule.LastRunAt, seenLastRunAt) {
		return ErrAlreadyClaimed
	}
	last := lastRunAt
	next := nextRunAt
	rule.LastRunAt = &last
	rule.NextRunAt = &next
	rule.UpdatedAt = time.Now().UTC()
	m.rules[id] = rule
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (m *MemoryStore) CreateRun(ctx context.Context, in RunInput) (models.Run, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	run := models.Run{
		ID:        in.ID,
		Trigger:   in.Trigger,
		DryRun:    in.DryRun,
		StartedAt: in.StartedAt,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return run, nil
}

func (m *MemoryStore) FinishRun(ctx context.Context, in FinishRunInput) (models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[in.ID]
	if !ok {
		return models.Run{}, ErrNotFound
	}
	run.RulesScanned = in.RulesScanned
	run.RulesEligible = in.RulesEligible
	run.Dispatched = in.Dispatched
	run.Succeeded = in.Succeeded
	run.Failed = in.Failed
	at := in.FinishedAt
	run.FinishedAt = &at
	m.runs[in.ID] = run
	return run, nil
}

func (m *MemoryStore) GetRun(ctx context.Context, id uuid.UUID) (models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return models.Run{}, ErrNotFound
	}
	return run, nil
}

func (m *MemoryStore) InsertDispatchResult(ctx context.Context, in DispatchResultInput) (models.DispatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := resultKey{runID: in.RunID, ruleID: in.RuleID, platform: in.Platform}
	if existing, ok := m.resultKeys[key]; ok {
		return m.results[existing], nil
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	res := models.DispatchResult{
		ID:             in.ID,
		RunID:          in.RunID,
		RuleID:         in.RuleID,
		UserID:         in.UserID,
		Platform:       in.Platform,
		Success:        in.Success,
		PlatformPostID: in.PlatformPostID,
		ErrorCode:      in.ErrorCode,
		ErrorMessage:   in.ErrorMessage,
		CreatedAt:      time.Now().UTC(),
		StreamStatus:   models.StreamPending,
	}
	m.seq++
	m.results[res.ID] = res
	m.resultKeys[key] = res.ID
	m.resultSeq[res.ID] = m.seq
	return res, nil
}

func (m *MemoryStore) ListDispatchResultsByRun(ctx context.Context, runID uuid.UUID) ([]models.DispatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var results []models.DispatchResult
	for _, res := range m.results {
		if res.RunID == runID {
			results = append(results, res)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return m.resultSeq[results[i].ID] < m.resultSeq[results[j].ID]
	})
	return results, nil
}

func (m *MemoryStore) FetchPendingResultsForStreaming(ctx context.Context, limit int) ([]models.DispatchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []models.DispatchResult
	for _, res := range m.results {
		if res.StreamStatus == models.StreamPending {
			pending = append(pending, res)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return m.resultSeq[pending[i].ID] < m.resultSeq[pending[j].ID]
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	for i, res := range pending {
		res.StreamStatus = models.StreamInProgress
		res.StreamAttempts++
		m.results[res.ID] = res
		pending[i] = res
	}
	return pending, nil
}

func (m *MemoryStore) MarkResultStreamResult(ctx context.Context, id uuid.UUID, streamed bool, archivedKey *string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[id]
	if !ok {
		return ErrNotFound
	}
	if streamed {
		res.StreamStatus = models.StreamStreamed
		now := time.Now().UTC()
		res.StreamedAt = &now
	} else {
		res.StreamStatus = models.StreamFailed
	}
	if archivedKey != nil {
		key := *archivedKey
		res.ArchivedKey = &key
	}
	m.results[id] = res
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// RunCount reports how many run rows exist. Test helper.
func (m *MemoryStore) RunCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}
