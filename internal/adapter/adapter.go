package adapter

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Request is the dispatch payload handed to a platform adapter. The
// revenue split percentages are passed through for the adapter's own
// accounting and not interpreted here.
type Request struct {
	Mode         string          `json:"mode"` // "live" or "dry_run"
	RuleID       uuid.UUID       `json:"ruleId"`
	UserID       uuid.UUID       `json:"userId"`
	Platform     string          `json:"platform"`
	Timezone     string          `json:"timezone"`
	Intensity    int             `json:"intensity"`
	Tones        []string        `json:"tones"`
	Cadence      string          `json:"cadence"`
	TimeSlots    []string        `json:"timeSlots"`
	PostsPerDay  int             `json:"postsPerDay"`
	RevenueSplit json.RawMessage `json:"revenueSplit,omitempty"`
}

// Result is the adapter response envelope. An adapter must always produce
// this shape; an ambiguous or missing ok is treated by the coordinator as
// a dispatch failure.
type Result struct {
	OK             bool   `json:"ok"`
	PlatformPostID string `json:"platform_post_id,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Adapter translates a generic dispatch request into a platform-specific
// publish action. A returned error means the adapter could not be reached
// or did not answer in shape; a Result with OK=false is a platform-level
// rejection.
type Adapter interface {
	Dispatch(ctx context.Context, req Request) (Result, error)
}

// Registry is a fixed map of platform id to adapter handle. Lookups are
// static; an unregistered platform id surfaces at dispatch time as an
// UNSUPPORTED_PLATFORM result, never a silent drop.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register binds an adapter to a platform id, replacing any previous
// binding for the same id.
func (r *Registry) Register(platformID string, a Adapter) {
	if _, exists := r.adapters[platformID]; !exists {
		r.order = append(r.order, platformID)
	}
	r.adapters[platformID] = a
}

// Resolve returns the adapter registered for the platform id.
func (r *Registry) Resolve(platformID string) (Adapter, bool) {
	a, ok := r.adapters[platformID]
	return a, ok
}

// Platforms returns registered platform ids in registration order.
func (r *Registry) Platforms() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
