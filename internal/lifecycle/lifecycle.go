package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/postforge/autopost/internal/models"
	"github.com/postforge/autopost/internal/store"
)

// Error is a lifecycle guard violation with a stable machine code. Nothing
// is mutated when one of these is returned.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func guardErr(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError unwraps a lifecycle guard error, if err is one.
func AsError(err error) (*Error, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// Controller enacts rule state transitions with guard conditions. All
// transitions are idempotent under retry: repeating one with the rule
// already in the target state succeeds without side effects.
type Controller struct {
	store store.Store
	// seed for next_run_at when a rule is first approved
	approveDelay time.Duration
	now          func() time.Time
}

func NewController(st store.Store, approveDelay time.Duration) *Controller {
	if approveDelay <= 0 {
		approveDelay = time.Minute
	}
	return &Controller{store: st, approveDelay: approveDelay, now: time.Now}
}

func (c *Controller) load(ctx context.Context, id uuid.UUID) (models.Rule, error) {
	rule, err := c.store.GetRule(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Rule{}, guardErr(models.CodeRuleNotFound, "rule %s not found", id)
	}
	if err != nil {
		return models.Rule{}, err
	}
	return rule, nil
}

// Approve moves a draft rule to approved. All three acknowledgment flags
// must be set. Approval seeds next_run_at so the rule can become eligible.
func (c *Controller) Approve(ctx context.Context, id uuid.UUID, acks models.Acknowledgments) (models.Rule, error) {
	rule, err := c.load(ctx, id)
	if err != nil {
		return models.Rule{}, err
	}
	if !acks.Complete() {
		return models.Rule{}, guardErr(models.CodeAckRequired, "all three acknowledgments are required to approve")
	}
	switch rule.ApprovalState {
	case models.ApprovalApproved:
		return rule, nil
	case models.ApprovalDraft:
		now := c.now().UTC()
		return c.store.SetApproved(ctx, id, now, now.Add(c.approveDelay))
	default:
		return models.Rule{}, guardErr(models.CodeInvalidTransition, "cannot approve rule in state %q", rule.ApprovalState)
	}
}

// Pause excludes an approved rule from eligibility until resumed. The
// approval state itself is untouched.
func (c *Controller) Pause(ctx context.Context, id uuid.UUID) (models.Rule, error) {
	rule, err := c.load(ctx, id)
	if err != nil {
		return models.Rule{}, err
	}
	if rule.ApprovalState != models.ApprovalApproved {
		return models.Rule{}, guardErr(models.CodeInvalidTransition, "cannot pause rule in state %q", rule.ApprovalState)
	}
	if rule.PausedAt != nil {
		return rule, nil
	}
	now := c.now().UTC()
	return c.store.SetPaused(ctx, id, &now)
}

// Resume clears a pause marker.
func (c *Controller) Resume(ctx context.Context, id uuid.UUID) (models.Rule, error) {
	rule, err := c.load(ctx, id)
	if err != nil {
		return models.Rule{}, err
	}
	if rule.ApprovalState != models.ApprovalApproved {
		return models.Rule{}, guardErr(models.CodeInvalidTransition, "cannot resume rule in state %q", rule.ApprovalState)
	}
	if rule.PausedAt == nil {
		return rule, nil
	}
	return c.store.SetPaused(ctx, id, nil)
}

// Revoke terminates a rule. Legal from any non-revoked state and
// irreversible: no transition leads out of revoked.
func (c *Controller) Revoke(ctx context.Context, id uuid.UUID) (models.Rule, error) {
	rule, err := c.load(ctx, id)
	if err != nil {
		return models.Rule{}, err
	}
	if rule.ApprovalState == models.ApprovalRevoked {
		return rule, nil
	}
	return c.store.SetRevoked(ctx, id, c.now().UTC())
}
