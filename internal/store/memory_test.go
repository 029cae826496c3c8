package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postforge/autopost/internal/models"
)

func TestMemoryInsertDispatchResultIdempotent(t *testing.T) {
	st := NewMemoryStore()
	in := DispatchResultInput{
		RunID:          uuid.New(),
		RuleID:         uuid.New(),
		UserID:         uuid.New(),
		Platform:       "onlyfans",
		Success:        true,
		PlatformPostID: "post-1",
	}

	first, err := st.InsertDispatchResult(context.Background(), in)
	require.NoError(t, err)

	// Replaying the same (run, rule, platform) returns the original row,
	// even with different outcome fields.
	in.Success = false
	in.PlatformPostID = ""
	second, err := st.InsertDispatchResult(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Success)
	assert.Equal(t, "post-1", second.PlatformPostID)

	results, err := st.ListDispatchResultsByRun(context.Background(), in.RunID)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestMemoryClaimRuleForDispatch(t *testing.T) {
	st := NewMemoryStore()
	rule, err := st.CreateRule(context.Background(), RuleInput{UserID: uuid.New(), Platforms: []string{"onlyfans"}})
	require.NoError(t, err)

	now := time.Now().UTC()
	next := now.Add(30 * time.Minute)

	// First claim against a never-run rule.
	require.NoError(t, st.ClaimRuleForDispatch(context.Background(), rule.ID, nil, now, next))

	// A second claimer that read the rule before the first claim loses.
	err = st.ClaimRuleForDispatch(context.Background(), rule.ID, nil, now.Add(time.Second), next)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	// A claimer that saw the current last_run_at wins.
	require.NoError(t, st.ClaimRuleForDispatch(context.Background(), rule.ID, &now, now.Add(time.Minute), next))

	got, err := st.GetRule(context.Background(), rule.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(now.Add(time.Minute)))
}

func TestMemoryFetchPendingClaimsBatch(t *testing.T) {
	st := NewMemoryStore()
	for i := 0; i < 3; i++ {
		_, err := st.InsertDispatchResult(context.Background(), DispatchResultInput{
			RunID:    uuid.New(),
			RuleID:   uuid.New(),
			UserID:   uuid.New(),
			Platform: "onlyfans",
		})
		require.NoError(t, err)
	}

	batch, err := st.FetchPendingResultsForStreaming(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	for _, res := range batch {
		assert.Equal(t, models.StreamInProgress, res.StreamStatus)
		assert.Equal(t, 1, res.StreamAttempts)
	}

	// Claimed rows stay claimed; only the remainder is pending.
	batch, err = st.FetchPendingResultsForStreaming(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}

func TestMemorySetApprovedKeepsExistingSchedule(t *testing.T) {
	st := NewMemoryStore()
	rule, err := st.CreateRule(context.Background(), RuleInput{UserID: uuid.New()})
	require.NoError(t, err)

	now := time.Now().UTC()
	first, err := st.SetApproved(context.Background(), rule.ID, now, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, first.NextRunAt)

	// Re-approval must not reset an already seeded next_run_at.
	again, err := st.SetApproved(context.Background(), rule.ID, now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, again.NextRunAt.Equal(*first.NextRunAt))
}
