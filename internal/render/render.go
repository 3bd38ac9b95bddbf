package render

import (
	"context"
	"fmt"
	"sort"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"pinger/internal/storage"
)

// Categories group renderers for webhook subscription. The misspelling
// in the structure-attack category is load-bearing: destinations have
// subscribed to it for years.
const (
	CategorySecureAlert   = "secure-alert"
	CategoryMoonsComplete = "moons-completed"
	CategoryMoonsStarted  = "moons-started"
	CategoryStructure     = "sturucture-attack"
	CategorySov           = "sov-attack"
	CategoryAllianceAdmin = "alliance-admin"
	CategoryOrbital       = "orbital-attack"
)

type renderFunc func(r *Renderer, ctx context.Context, n storage.Notification, obs Observer) (Message, error)

var renderers = map[string]renderFunc{
	"AllAnchoringMsg":              (*Renderer).allAnchoring,
	"MoonminingExtractionFinished": (*Renderer).moonExtractionFinished,
	"MoonminingAutomaticFracture":  (*Renderer).moonAutoFracture,
	"MoonminingLaserFired":         (*Renderer).moonLaserFired,
	"MoonminingExtractionStarted":  (*Renderer).moonExtractionStarted,
	"StructureLostShields":         (*Renderer).structureLostShields,
	"StructureLostArmor":           (*Renderer).structureLostArmor,
	"StructureUnderAttack":         (*Renderer).structureUnderAttack,
	"SovStructureReinforced":       (*Renderer).sovReinforced,
	"EntosisCaptureStarted":        (*Renderer).entosisStarted,
	"OwnershipTransferred":         (*Renderer).ownershipTransferred,
	"OrbitalAttacked":              (*Renderer).orbitalAttacked,
	"OrbitalReinforced":            (*Renderer).orbitalReinforced,
}

// Supported returns the notification type names the renderer handles,
// sorted. The fanout queries storage with exactly this set.
func Supported() []string {
	out := make([]string, 0, len(renderers))
	for name := range renderers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Renderer resolves and renders notifications. The clock is injectable
// for the renderers that show time remaining until a future event.
type Renderer struct {
	lk  Lookup
	now func() time.Time
}

func New(lk Lookup) *Renderer {
	return NewAt(lk, time.Now)
}

func NewAt(lk Lookup, now func() time.Time) *Renderer {
	return &Renderer{lk: lk, now: now}
}

// ErrUnknownType reports a notification type without a renderer.
type ErrUnknownType struct{ Type string }

func (e ErrUnknownType) Error() string {
	return fmt.Sprintf("render: no renderer for notification type %q", e.Type)
}

// Render builds the message for one notification.
func (r *Renderer) Render(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	fn, ok := renderers[n.Type]
	if !ok {
		return Message{}, ErrUnknownType{Type: n.Type}
	}
	return fn(r, ctx, n, obs)
}

func (r *Renderer) decode(n storage.Notification, dst any) error {
	if err := yaml.Unmarshal([]byte(n.Payload), dst); err != nil {
		return fmt.Errorf("render: bad %s payload for notification %d: %w", n.Type, n.ID, err)
	}
	return nil
}

// oreNames resolves item type names for an ore volume map.
func (r *Renderer) oreNames(ctx context.Context, volumes map[int64]float64) (map[int64]string, error) {
	names := make(map[int64]string, len(volumes))
	for id := range volumes {
		it, err := r.lk.ItemType(ctx, id)
		if err != nil {
			return nil, err
		}
		names[id] = it.Name
	}
	return names, nil
}

// structureName falls back to Unknown when the structure id has no
// known name, matching what the pings have always shown.
func (r *Renderer) structureName(ctx context.Context, id int64) string {
	name, err := r.lk.Structure(ctx, id)
	if err != nil || name == "" {
		return "Unknown"
	}
	return name
}
