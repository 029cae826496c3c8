package platform

import "github.com/google/uuid"

// Platform describes a publishing surface the dispatcher can target.
// MaxIntensity is the explicitness ceiling the platform tolerates; the
// effective ceiling for a multi-platform rule is the minimum across its
// selected platforms.
type Platform struct {
	ID           string
	Name         string
	MaxIntensity int
}

// Catalog is the fixed registry of known platforms. Adapter resolution and
// admission both key off this set; an id outside it is a configuration
// error, never silently dropped.
type Catalog struct {
	platforms map[string]Platform
	order     []string
}

// Default returns the catalog of platforms this deployment supports.
func Default() *Catalog {
	return NewCatalog(
		Platform{ID: "onlyfans", Name: "OnlyFans", MaxIntensity: 5},
		Platform{ID: "fansly", Name: "Fansly", MaxIntensity: 5},
		Platform{ID: "fanvue", Name: "Fanvue", MaxIntensity: 4},
		Platform{ID: "x", Name: "X", MaxIntensity: 2},
	)
}

func NewCatalog(platforms ...Platform) *Catalog {
	c := &Catalog{platforms: make(map[string]Platform, len(platforms))}
	for _, p := range platforms {
		if _, dup := c.platforms[p.ID]; dup {
			continue
		}
		c.platforms[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c
}

// Lookup returns the platform for id, if registered.
func (c *Catalog) Lookup(id string) (Platform, bool) {
	p, ok := c.platforms[id]
	return p, ok
}

// IDs returns the registered platform ids in registration order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// EffectiveCeiling computes the minimum intensity ceiling across the given
// platform ids and the id of the platform imposing it. Unknown ids are
// skipped; ok is false when no known platform was supplied.
func (c *Catalog) EffectiveCeiling(ids []string) (ceiling int, limiting string, ok bool) {
	for _, id := range ids {
		p, known := c.platforms[id]
		if !known {
			continue
		}
		if !ok || p.MaxIntensity < ceiling {
			ceiling = p.MaxIntensity
			limiting = p.ID
			ok = true
		}
	}
	return ceiling, limiting, ok
}

// Connections reports which platforms a user has connected and authorized
// for automated posting. The admission evaluator treats an unconnected
// platform as a readiness gap, not a hard block.
type Connections interface {
	Connected(userID uuid.UUID, platformID string) bool
}

// StaticConnections marks a fixed set of platform ids as connected for
// every user. The service configures this from the environment; tests use
// it directly.
type StaticConnections map[string]bool

func (s StaticConnections) Connected(_ uuid.UUID, platformID string) bool {
	return s[platformID]
}
