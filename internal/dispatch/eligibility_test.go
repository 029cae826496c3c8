package dispatch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/postforge/autopost/internal/dispatch"
	"github.com/postforge/autopost/internal/models"
)

func eligibleRule(now time.Time) models.Rule {
	due := now.Add(-time.Minute)
	return models.Rule{
		ApprovalState: models.ApprovalApproved,
		Enabled:       true,
		NextRunAt:     &due,
	}
}

func TestEligibleBaseCase(t *testing.T) {
	now := time.Now().UTC()
	assert.True(t, dispatch.Eligible(eligibleRule(now), now))
}

func TestEligibleToggleEachField(t *testing.T) {
	now := time.Now().UTC()

	rule := eligibleRule(now)
	rule.ApprovalState = models.ApprovalDraft
	assert.False(t, dispatch.Eligible(rule, now))

	rule = eligibleRule(now)
	rule.Enabled = false
	assert.False(t, dispatch.Eligible(rule, now))

	rule = eligibleRule(now)
	paused := now.Add(-time.Hour)
	rule.PausedAt = &paused
	assert.False(t, dispatch.Eligible(rule, now))

	rule = eligibleRule(now)
	revoked := now.Add(-time.Hour)
	rule.RevokedAt = &revoked
	assert.False(t, dispatch.Eligible(rule, now))

	rule = eligibleRule(now)
	rule.NextRunAt = nil
	assert.False(t, dispatch.Eligible(rule, now))

	rule = eligibleRule(now)
	future := now.Add(time.Minute)
	rule.NextRunAt = &future
	assert.False(t, dispatch.Eligible(rule, now))
}

func TestEligibleDueExactlyNow(t *testing.T) {
	now := time.Now().UTC()
	rule := eligibleRule(now)
	rule.NextRunAt = &now
	assert.True(t, dispatch.Eligible(rule, now))
}

func TestSelectEligible(t *testing.T) {
	now := time.Now().UTC()
	ok := eligibleRule(now)
	draft := eligibleRule(now)
	draft.ApprovalState = models.ApprovalDraft

	selected := dispatch.SelectEligible([]models.Rule{ok, draft}, now)
	assert.Len(t, selected, 1)
}
