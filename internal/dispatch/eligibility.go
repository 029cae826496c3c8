package dispatch

import (
	"time"

	"github.com/postforge/autopost/internal/models"
)

// Eligible reports whether a rule may run at now. A rule must be approved,
// enabled, not paused, not revoked, and have a due next_run_at; a nil
// next_run_at means never eligible.
func Eligible(rule models.Rule, now time.Time) bool {
	if rule.ApprovalState != models.ApprovalApproved {
		return false
	}
	if !rule.Enabled {
		return false
	}
	if rule.RevokedAt != nil || rule.PausedAt != nil {
		return false
	}
	if rule.NextRunAt == nil {
		return false
	}
	return !rule.NextRunAt.After(now)
}

// SelectEligible filters rules down to the runnable subset. Pure; performs
// no writes.
func SelectEligible(rules []models.Rule, now time.Time) []models.Rule {
	var eligible []models.Rule
	for _, rule := range rules {
		if Eligible(rule, now) {
			eligible = append(eligible, rule)
		}
	}
	return eligible
}
