package preview

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/postforge/autopost/internal/models"
	"github.com/postforge/autopost/internal/platform"
)

// Config is the draft rule configuration under evaluation. It mirrors the
// fields a Rule will eventually hold; nothing here is persisted.
type Config struct {
	UserID    uuid.UUID `json:"userId"`
	Platforms []string  `json:"platforms"`
	Intensity int       `json:"intensity"`
	Tones     []string  `json:"tones"`
	Cadence   string    `json:"cadence"`
	Enabled   bool      `json:"enabled"`
}

// Payload carries the evaluator's working figures alongside the verdict so
// callers can show the creator what would actually run.
type Payload struct {
	RequestedIntensity int      `json:"requestedIntensity"`
	EffectiveIntensity int      `json:"effectiveIntensity"`
	LimitingPlatform   string   `json:"limitingPlatform,omitempty"`
	Unconnected        []string `json:"unconnectedPlatforms,omitempty"`
}

// Verdict is the admission outcome. It is advisory: a rule may still be
// persisted as a draft after a non-READY verdict, with the verdict stored
// alongside it for audit.
type Verdict struct {
	State   string   `json:"state"`
	Reason  string   `json:"reason,omitempty"`
	Payload *Payload `json:"payload,omitempty"`
}

// Evaluator computes readiness verdicts over draft configurations. It is a
// pure function of the supplied config plus read-only platform metadata.
type Evaluator struct {
	catalog     *platform.Catalog
	connections platform.Connections
}

func New(catalog *platform.Catalog, connections platform.Connections) *Evaluator {
	return &Evaluator{catalog: catalog, connections: connections}
}

// Evaluate gates what a rule is allowed to contain before it may be
// created. Checks run in order; a BLOCKED verdict short-circuits.
func (e *Evaluator) Evaluate(cfg Config) Verdict {
	if !cfg.Enabled {
		return Verdict{State: models.AdmissionBlocked, Reason: "rule is disabled"}
	}
	if len(cfg.Platforms) == 0 {
		return Verdict{State: models.AdmissionBlocked, Reason: "no platform selected"}
	}
	for _, id := range cfg.Platforms {
		if _, ok := e.catalog.Lookup(id); !ok {
			return Verdict{State: models.AdmissionBlocked, Reason: fmt.Sprintf("unknown platform %q", id)}
		}
	}

	payload := &Payload{
		RequestedIntensity: cfg.Intensity,
		EffectiveIntensity: cfg.Intensity,
	}

	ceiling, limiting, ok := e.catalog.EffectiveCeiling(cfg.Platforms)
	if ok && cfg.Intensity > ceiling {
		// Clamp rather than silently accept an unsafe value.
		payload.EffectiveIntensity = ceiling
		payload.LimitingPlatform = limiting
	}

	for _, id := range cfg.Platforms {
		if e.connections != nil && !e.connections.Connected(cfg.UserID, id) {
			payload.Unconnected = append(payload.Unconnected, id)
		}
	}

	switch {
	case payload.LimitingPlatform != "" && len(payload.Unconnected) > 0:
		return Verdict{
			State:   models.AdmissionPartialReady,
			Reason:  fmt.Sprintf("intensity clamped to %d by %s; %d platform(s) not connected", payload.EffectiveIntensity, payload.LimitingPlatform, len(payload.Unconnected)),
			Payload: payload,
		}
	case payload.LimitingPlatform != "":
		return Verdict{
			State:   models.AdmissionPartialReady,
			Reason:  fmt.Sprintf("intensity clamped to %d by %s", payload.EffectiveIntensity, payload.LimitingPlatform),
			Payload: payload,
		}
	case len(payload.Unconnected) > 0:
		return Verdict{
			State:   models.AdmissionPartialReady,
			Reason:  fmt.Sprintf("%d platform(s) not connected", len(payload.Unconnected)),
			Payload: payload,
		}
	}
	return Verdict{State: models.AdmissionReady, Payload: payload}
}
