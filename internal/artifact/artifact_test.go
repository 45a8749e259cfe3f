package artifact

import (
	"testing"

	"github.com/zot/qrcanvas/internal/scene"
)

// TestTierTransitions verifies tiers only move toward lower fidelity
func TestTierTransitions(t *testing.T) {
	a := New("owner", "flyer", CategoryImage, scene.New(900, 630))

	if err := a.Demote(TierThumbnail, "reduced to thumbnail"); err != nil {
		t.Fatalf("Demote failed: %v", err)
	}
	if err := a.Demote(TierNone, ""); err == nil {
		t.Error("Expected promotion through Demote to fail")
	}
	if err := a.Demote(TierThumbnail, ""); err == nil {
		t.Error("Expected same-tier demotion to fail")
	}
	if err := a.Demote(TierUnavailable, "source dropped"); err != nil {
		t.Fatalf("Demote failed: %v", err)
	}
	if a.Editable() {
		t.Error("Unavailable artifacts are not editable")
	}
	if len(a.SizeHistory) != 2 {
		t.Errorf("Expected 2 notes, got %v", a.SizeHistory)
	}

	a.ResetTier("source uploaded again")
	if a.Tier != TierNone || !a.Editable() || !a.Reset {
		t.Errorf("Expected reset to none pending a save, got %s reset=%v", a.Tier, a.Reset)
	}
}

// TestTierOrdering verifies Below and labels
func TestTierOrdering(t *testing.T) {
	if !TierAggressive.Below(TierThumbnail) {
		t.Error("Expected aggressive below thumbnail")
	}
	if TierNone.Below(TierNone) {
		t.Error("A tier is not below itself")
	}
	if TierNone.Label() != "" || TierThumbnail.Label() == "" {
		t.Error("Only degraded tiers carry a label")
	}
	if Tier("bogus").Valid() {
		t.Error("Unknown tiers are invalid")
	}
}

// TestSummarize verifies the list view carries the tier indicator
func TestSummarize(t *testing.T) {
	a := New("owner", "flyer", CategoryDocument, scene.New(900, 630))
	a.Demote(TierAggressive, "low quality")
	s := a.Summarize()

	if s.ID != a.ID || s.Tier != TierAggressive || s.TierLabel != "low quality" || !s.Editable {
		t.Errorf("Unexpected summary %+v", s)
	}
}
