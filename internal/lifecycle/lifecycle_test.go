package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/postforge/autopost/internal/lifecycle"
	"github.com/postforge/autopost/internal/models"
	"github.com/postforge/autopost/internal/store"
)

var allAcks = models.Acknowledgments{AutoPosting: true, RevenueTerms: true, PauseControl: true}

func newDraft(t *testing.T, st *store.MemoryStore) models.Rule {
	t.Helper()
	rule, err := st.CreateRule(context.Background(), store.RuleInput{
		UserID:      uuid.New(),
		Platforms:   []string{"onlyfans"},
		Intensity:   3,
		Cadence:     models.CadenceDaily,
		TimeSlots:   []string{"09:00"},
		PostsPerDay: 1,
		Enabled:     true,
	})
	require.NoError(t, err)
	return rule
}

func TestApproveRequiresAllAcks(t *testing.T) {
	st := store.NewMemoryStore()
	ctrl := lifecycle.NewController(st, time.Minute)
	rule := newDraft(t, st)

	_, err := ctrl.Approve(context.Background(), rule.ID, models.Acknowledgments{AutoPosting: true})
	le, ok := lifecycle.AsError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeAckRequired, le.Code)

	// Guard violation mutates nothing.
	got, err := st.GetRule(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalDraft, got.ApprovalState)
}

func TestApproveSeedsNextRun(t *testing.T) {
	st := store.NewMemoryStore()
	ctrl := lifecycle.NewController(st, time.Minute)
	rule := newDraft(t, st)

	approved, err := ctrl.Approve(context.Background(), rule.ID, allAcks)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, approved.ApprovalState)
	require.NotNil(t, approved.ApprovedAt)
	require.NotNil(t, approved.NextRunAt)
	assert.True(t, approved.NextRunAt.After(*approved.ApprovedAt))
}

func TestApproveIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	ctrl := lifecycle.NewController(st, time.Minute)
	rule := newDraft(t, st)

	first, err := ctrl.Approve(context.Background(), rule.ID, allAcks)
	require.NoError(t, err)

	second, err := ctrl.Approve(context.Background(), rule.ID, allAcks)
	require.NoError(t, err)
	assert.Equal(t, first.ApprovedAt, second.ApprovedAt)
	assert.Equal(t, first.NextRunAt, second.NextRunAt)
}

func TestPauseAndResume(t *testing.T) {
	st := store.NewMemoryStore()
	ctrl := lifecycle.NewController(st, time.Minute)
	rule := newDraft(t, st)

	// Pausing a draft is an invalid transition.
	_, err := ctrl.Pause(context.Background(), rule.ID)
	le, ok := lifecycle.AsError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeInvalidTransition, le.Code)

	_, err = ctrl.Approve(context.Background(), rule.ID, allAcks)
	require.NoError(t, err)

	paused, err := ctrl.Pause(context.Background(), rule.ID)
	require.NoError(t, err)
	require.NotNil(t, paused.PausedAt)
	assert.Equal(t, models.ApprovalApproved, paused.ApprovalState)

	// Pause again: idempotent, marker unchanged.
	again, err := ctrl.Pause(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, paused.PausedAt, again.PausedAt)

	resumed, err := ctrl.Resume(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Nil(t, resumed.PausedAt)

	// Resume again: idempotent.
	_, err = ctrl.Resume(context.Background(), rule.ID)
	assert.NoError(t, err)
}

func TestRevokeIsTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	ctrl := lifecycle.NewController(st, time.Minute)
	rule := newDraft(t, st)

	revoked, err := ctrl.Revoke(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRevoked, revoked.ApprovalState)
	require.NotNil(t, revoked.RevokedAt)

	// Revoke again: idempotent.
	_, err = ctrl.Revoke(context.Background(), rule.ID)
	assert.NoError(t, err)

	// No transition leads out of revoked.
	_, err = ctrl.Approve(context.Background(), rule.ID, allAcks)
	le, ok := lifecycle.AsError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeInvalidTransition, le.Code)

	_, err = ctrl.Pause(context.Background(), rule.ID)
	le, ok = lifecycle.AsError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeInvalidTransition, le.Code)

	_, err = ctrl.Resume(context.Background(), rule.ID)
	le, ok = lifecycle.AsError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeInvalidTransition, le.Code)
}

func TestUnknownRule(t *testing.T) {
	st := store.NewMemoryStore()
	ctrl := lifecycle.NewController(st, time.Minute)

	_, err := ctrl.Approve(context.Background(), uuid.New(), allAcks)
	le, ok := lifecycle.AsError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeRuleNotFound, le.Code)
}
