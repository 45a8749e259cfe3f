// Package artifact defines the marketing artifact and its degradation tiers.
package artifact

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zot/qrcanvas/internal/scene"
)

// Tier is the fidelity of an artifact's persisted assets.
type Tier string

const (
	TierNone        Tier = "none"
	TierThumbnail   Tier = "thumbnail"
	TierAggressive  Tier = "aggressive"
	TierUnavailable Tier = "unavailable"
)

var tierRank = map[Tier]int{
	TierNone:        0,
	TierThumbnail:   1,
	TierAggressive:  2,
	TierUnavailable: 3,
}

// transitions lists the demotions each tier allows. Promotion happens only
// through a re-upload, which resets the artifact to TierNone.
var transitions = map[Tier][]Tier{
	TierNone:        {TierThumbnail, TierAggressive, TierUnavailable},
	TierThumbnail:   {TierAggressive, TierUnavailable},
	TierAggressive:  {TierUnavailable},
	TierUnavailable: {},
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Below reports whether t is a lower fidelity than other.
func (t Tier) Below(other Tier) bool {
	return tierRank[t] > tierRank[other]
}

// Label is the user-facing indicator for a tier.
func (t Tier) Label() string {
	switch t {
	case TierThumbnail:
		return "reduced quality"
	case TierAggressive:
		return "low quality"
	case TierUnavailable:
		return "source unavailable"
	default:
		return ""
	}
}

// CanDemote reports whether from may move to to.
func CanDemote(from, to Tier) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// MimeCategory is the kind of source an artifact was created from.
type MimeCategory string

const (
	CategoryImage    MimeCategory = "image"
	CategoryDocument MimeCategory = "document"
)

// Artifact is one composed marketing piece.
type Artifact struct {
	ID                string
	OwnerID           string
	Name              string
	MimeCategory      MimeCategory
	SourceRef         string // asset ref of the original upload, "" once dropped
	Preview           []byte // small JPEG, never empty once saved
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Tier              Tier
	OriginalSizeBytes int64
	SizeHistory       []string

	// Reset is set by ResetTier and cleared by the next successful save.
	// Without it a save never raises the stored tier.
	Reset bool

	// Graph is the live scene; it is never written as is.
	Graph *scene.Graph
}

// New creates an artifact over g at full fidelity.
func New(ownerID, name string, category MimeCategory, g *scene.Graph) *Artifact {
	now := time.Now().UTC()
	return &Artifact{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Name:         name,
		MimeCategory: category,
		CreatedAt:    now,
		UpdatedAt:    now,
		Tier:         TierNone,
		Graph:        g,
	}
}

// Demote moves a to tier and records note in its size history.
func (a *Artifact) Demote(tier Tier, note string) error {
	if !CanDemote(a.Tier, tier) {
		return fmt.Errorf("artifact %s: cannot move from tier %s to %s", a.ID, a.Tier, tier)
	}
	a.Tier = tier
	if note != "" {
		a.SizeHistory = append(a.SizeHistory, note)
	}
	return nil
}

// ResetTier returns a to full fidelity after its source was uploaded again.
func (a *Artifact) ResetTier(note string) {
	a.Tier = TierNone
	a.Reset = true
	if note != "" {
		a.SizeHistory = append(a.SizeHistory, note)
	}
}

// Editable reports whether the source is still available for re-editing.
func (a *Artifact) Editable() bool {
	return a.Tier != TierUnavailable
}

// Summary is the list view of an artifact.
type Summary struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	MimeCategory MimeCategory `json:"mimeCategory"`
	Tier         Tier         `json:"degradationTier"`
	TierLabel    string       `json:"tierLabel,omitempty"`
	Editable     bool         `json:"editable"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	SizeHistory  []string     `json:"sizeHistory,omitempty"`
	Preview      []byte       `json:"preview"`
}

// Summarize returns the list view of a.
func (a *Artifact) Summarize() Summary {
	return Summary{
		ID:           a.ID,
		Name:         a.Name,
		MimeCategory: a.MimeCategory,
		Tier:         a.Tier,
		TierLabel:    a.Tier.Label(),
		Editable:     a.Editable(),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		SizeHistory:  append([]string(nil), a.SizeHistory...),
		Preview:      a.Preview,
	}
}
