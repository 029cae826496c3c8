package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Approval states for a Rule.
const (
	ApprovalDraft    = "draft"
	ApprovalApproved = "approved"
	ApprovalRevoked  = "revoked"
)

// Cadence descriptors. Informational only: the dispatcher advances every
// eligible rule by a fixed interval regardless of cadence.
const (
	CadenceManual = "manual"
	CadenceHourly = "hourly"
	CadenceDaily  = "daily"
	CadenceWeekly = "weekly"
)

// Admission verdict states.
const (
	AdmissionReady        = "READY"
	AdmissionPartialReady = "PARTIAL_READY"
	AdmissionBlocked      = "BLOCKED"
)

// Stream statuses for dispatch result rows awaiting ledger streaming.
const (
	StreamPending    = "pending"
	StreamInProgress = "in_progress"
	StreamStreamed   = "streamed"
	StreamFailed     = "failed"
)

// Machine-readable error codes surfaced to callers and recorded in the ledger.
const (
	CodeAckRequired             = "ACK_REQUIRED"
	CodeInvalidTransition       = "INVALID_TRANSITION"
	CodeRuleNotFound            = "RULE_NOT_FOUND"
	CodeUnsupportedPlatform     = "UNSUPPORTED_PLATFORM"
	CodePlatformDispatchError   = "PLATFORM_DISPATCH_ERROR"
	CodePlatformDispatchHTTPErr = "PLATFORM_DISPATCH_HTTP_ERROR"
	CodeInvalidTimeSlots        = "INVALID_TIME_SLOTS"
	CodeInvalidPostsPerDay      = "INVALID_POSTS_PER_DAY"
	CodePlatformMismatch        = "PLATFORM_MISMATCH"
	CodeUnauthenticated         = "UNAUTHENTICATED"
)

// Rule is the unit of scheduled work: what to post, where, and under what
// lifecycle state. Rules are never deleted, only revoked.
type Rule struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"userId"`

	Platforms    pq.StringArray  `json:"platforms"`
	Intensity    int             `json:"intensity"`
	Tones        pq.StringArray  `json:"tones"`
	Cadence      string          `json:"cadence"`
	Timezone     string          `json:"timezone"`
	TimeSlots    pq.StringArray  `json:"timeSlots"`
	PostsPerDay  int             `json:"postsPerDay"`
	RevenueSplit json.RawMessage `json:"revenueSplit,omitempty"`

	Enabled       bool       `json:"enabled"`
	ApprovalState string     `json:"approvalState"`
	ApprovedAt    *time.Time `json:"approvedAt,omitempty"`
	PausedAt      *time.Time `json:"pausedAt,omitempty"`
	RevokedAt     *time.Time `json:"revokedAt,omitempty"`

	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`

	AdmissionState  string `json:"admissionState,omitempty"`
	AdmissionReason string `json:"admissionReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Run is one invocation of the dispatch coordinator and its aggregate outcome.
type Run struct {
	ID            uuid.UUID  `json:"id"`
	Trigger       string     `json:"trigger"`
	DryRun        bool       `json:"dryRun"`
	RulesScanned  int        `json:"rulesScanned"`
	RulesEligible int        `json:"rulesEligible"`
	Dispatched    int        `json:"dispatched"`
	Succeeded     int        `json:"succeeded"`
	Failed        int        `json:"failed"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// DispatchResult is one immutable audit row per rule x platform attempt
// within a run. Rows are appended once and never mutated, apart from the
// ledger streaming bookkeeping columns.
type DispatchResult struct {
	ID             uuid.UUID `json:"id"`
	RunID          uuid.UUID `json:"runId"`
	RuleID         uuid.UUID `json:"ruleId"`
	UserID         uuid.UUID `json:"userId"`
	Platform       string    `json:"platform"`
	Success        bool      `json:"success"`
	PlatformPostID string    `json:"platformPostId,omitempty"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`

	StreamStatus   string     `json:"streamStatus,omitempty"`
	StreamAttempts int        `json:"streamAttempts,omitempty"`
	StreamedAt     *time.Time `json:"streamedAt,omitempty"`
	ArchivedKey    *string    `json:"archivedKey,omitempty"`
}

// Acknowledgments are the three flags a creator must confirm before a rule
// can be approved for automated posting.
type Acknowledgments struct {
	AutoPosting  bool `json:"acceptAutoPosting"`
	RevenueTerms bool `json:"acceptRevenueTerms"`
	PauseControl bool `json:"understandPauseControl"`
}

// Complete reports whether every acknowledgment flag is set.
func (a Acknowledgments) Complete() bool {
	return a.AutoPosting && a.RevenueTerms && a.PauseControl
}
