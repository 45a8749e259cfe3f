package scene

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func addText(t *testing.T, g *Graph, value string) *Element {
	t.Helper()
	el, err := g.Add(Draft{Kind: KindText, X: 10, Y: 20, Width: 200, Height: 40,
		Props: map[string]any{PropValue: value}})
	if err != nil {
		t.Fatalf("Add text failed: %v", err)
	}
	return el
}

// TestNewGraphHasBackground verifies a fresh graph holds exactly one unselectable background
func TestNewGraphHasBackground(t *testing.T) {
	g := New(900, 630)

	if g.Len() != 1 {
		t.Fatalf("Expected 1 element, got %d", g.Len())
	}
	bg := g.Background()
	if bg.Kind != KindBackground {
		t.Errorf("Expected background kind, got %s", bg.Kind)
	}
	if bg.Selectable || bg.Evented {
		t.Error("Background should not be selectable or evented")
	}
	if bg.Width != 900 || bg.Height != 630 {
		t.Errorf("Expected background 900x630, got %vx%v", bg.Width, bg.Height)
	}
}

// TestAddAssignsIncreasingZ verifies each added element lands above the previous one
func TestAddAssignsIncreasingZ(t *testing.T) {
	g := New(900, 630)
	a := addText(t, g, "first")
	b := addText(t, g, "second")

	if a.ZIndex <= g.Background().ZIndex {
		t.Errorf("Expected first element above background, got z=%d", a.ZIndex)
	}
	if b.ZIndex != a.ZIndex+1 {
		t.Errorf("Expected z=%d, got %d", a.ZIndex+1, b.ZIndex)
	}
	if !a.Selectable || !a.Evented {
		t.Error("Added elements should be selectable and evented")
	}
	if a.String(PropColor) != "#000000" {
		t.Errorf("Expected default text color, got %q", a.String(PropColor))
	}
}

// TestAddValidation verifies malformed elements are rejected without mutation
func TestAddValidation(t *testing.T) {
	g := New(900, 630)

	cases := []struct {
		name  string
		draft Draft
		want  error
	}{
		{"qr without content", Draft{Kind: KindQR, Width: 100, Height: 100}, ErrInvalidElement},
		{"text without value", Draft{Kind: KindText, Props: map[string]any{PropFontSize: 12}}, ErrInvalidElement},
		{"bad color", Draft{Kind: KindText, Props: map[string]any{PropValue: "x", PropColor: "red"}}, ErrInvalidElement},
		{"unknown shape", Draft{Kind: KindShape, Props: map[string]any{PropShapeType: "star"}}, ErrInvalidElement},
		{"image without asset", Draft{Kind: KindImage, Props: map[string]any{PropRasterRef: "b3:missing"}}, ErrInvalidElement},
		{"negative size", Draft{Kind: KindShape, Width: -1, Props: map[string]any{PropShapeType: ShapeRect}}, ErrInvalidElement},
		{"second background", Draft{Kind: KindBackground}, ErrInvariantViolation},
		{"unknown kind", Draft{Kind: "sticker"}, ErrInvalidElement},
		{"blank qr content", Draft{Kind: KindQR, Width: 100, Height: 100, Props: map[string]any{PropContent: "  \t"}}, ErrInvalidElement},
		{"oversized box", Draft{Kind: KindShape, Width: 1e9, Height: 1e9, Props: map[string]any{PropShapeType: ShapeRect}}, ErrInvalidElement},
		{"far offset", Draft{Kind: KindShape, X: -2 * MaxExtent, Width: 10, Height: 10, Props: map[string]any{PropShapeType: ShapeRect}}, ErrInvalidElement},
		{"huge font", Draft{Kind: KindText, Props: map[string]any{PropValue: "x", PropFontSize: MaxFontSize + 1}}, ErrInvalidElement},
	}
	for _, tc := range cases {
		if _, err := g.Add(tc.draft); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if g.Len() != 1 {
		t.Errorf("Expected graph unchanged with 1 element, got %d", g.Len())
	}
}

// TestRemoveBackgroundFails verifies the background can't be removed
func TestRemoveBackgroundFails(t *testing.T) {
	g := New(900, 630)
	addText(t, g, "hello")
	before := g.Serialize()

	err := g.Remove(g.Background().ID)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("Expected ErrInvariantViolation, got %v", err)
	}
	if diff := cmp.Diff(before, g.Serialize()); diff != "" {
		t.Errorf("Graph changed after failed remove (-before +after):\n%s", diff)
	}
}

// TestRemoveUnknown verifies removing a missing id reports not found
func TestRemoveUnknown(t *testing.T) {
	g := New(900, 630)
	if err := g.Remove("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestUpdateBackgroundInvariants verifies the background stays unselectable and lowest
func TestUpdateBackgroundInvariants(t *testing.T) {
	g := New(900, 630)
	text := addText(t, g, "hello")
	bgID := g.Background().ID

	yes := true
	if err := g.Update(bgID, Patch{Selectable: &yes}); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("Expected ErrInvariantViolation for selectable background, got %v", err)
	}
	z := text.ZIndex + 5
	if err := g.Update(bgID, Patch{ZIndex: &z}); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("Expected ErrInvariantViolation for raised background, got %v", err)
	}
	low := g.Background().ZIndex
	if err := g.Update(text.ID, Patch{ZIndex: &low}); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("Expected ErrInvariantViolation for element at background z, got %v", err)
	}
	color := "#FF0000"
	if err := g.Update(bgID, Patch{Props: map[string]any{PropFillColor: color}}); err != nil {
		t.Errorf("Expected fill color update to succeed, got %v", err)
	}
	if got := g.Background().String(PropFillColor); got != color {
		t.Errorf("Expected fill %s, got %s", color, got)
	}
}

// TestUpdatePartial verifies only patched fields change
func TestUpdatePartial(t *testing.T) {
	g := New(900, 630)
	text := addText(t, g, "hello")

	x := 300.0
	err := g.Update(text.ID, Patch{X: &x, Props: map[string]any{PropBold: true, PropUnderline: nil}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, _ := g.Element(text.ID)
	if got.X != 300 || got.Y != text.Y {
		t.Errorf("Expected x=300 y=%v, got x=%v y=%v", text.Y, got.X, got.Y)
	}
	if !got.Bool(PropBold) {
		t.Error("Expected bold to be set")
	}
	if _, ok := got.Props[PropUnderline]; ok {
		t.Error("Expected underline to be deleted")
	}

	bad := "#12"
	if err := g.Update(text.ID, Patch{Props: map[string]any{PropColor: bad}}); !errors.Is(err, ErrInvalidElement) {
		t.Errorf("Expected ErrInvalidElement, got %v", err)
	}
	after, _ := g.Element(text.ID)
	if after.String(PropColor) == bad {
		t.Error("Failed update should leave the element unchanged")
	}
}

// TestSelect verifies selection rules
func TestSelect(t *testing.T) {
	g := New(900, 630)
	text := addText(t, g, "hello")

	if err := g.Select(text.ID); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if g.Selected() != text.ID {
		t.Errorf("Expected selected %s, got %s", text.ID, g.Selected())
	}
	if err := g.Select(g.Background().ID); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("Expected ErrInvariantViolation selecting background, got %v", err)
	}
	if err := g.Select(""); err != nil || g.Selected() != "" {
		t.Errorf("Expected cleared selection, got %q (err %v)", g.Selected(), err)
	}
	g.Select(text.ID)
	g.Remove(text.ID)
	if g.Selected() != "" {
		t.Error("Removing the selected element should clear the selection")
	}
}

// TestReorder verifies bring-to-front and send-to-back
func TestReorder(t *testing.T) {
	g := New(900, 630)
	a := addText(t, g, "a")
	b := addText(t, g, "b")
	c := addText(t, g, "c")

	if err := g.BringToFront(a.ID); err != nil {
		t.Fatalf("BringToFront failed: %v", err)
	}
	els := g.Elements()
	if els[len(els)-1].ID != a.ID {
		t.Errorf("Expected %s on top, got %s", a.ID, els[len(els)-1].ID)
	}

	if err := g.SendToBack(c.ID); err != nil {
		t.Fatalf("SendToBack failed: %v", err)
	}
	els = g.Elements()
	if els[0].Kind != KindBackground {
		t.Fatal("Background must stay first")
	}
	if els[1].ID != c.ID {
		t.Errorf("Expected %s directly above background, got %s", c.ID, els[1].ID)
	}
	if els[2].ID != b.ID || els[3].ID != a.ID {
		t.Errorf("Expected order c,b,a; got %s,%s,%s", els[1].ID, els[2].ID, els[3].ID)
	}
	for i := 1; i < len(els); i++ {
		if els[i].ZIndex <= els[i-1].ZIndex {
			t.Errorf("Expected strictly increasing z, got %d after %d", els[i].ZIndex, els[i-1].ZIndex)
		}
	}
}

// TestRecorderCalls verifies which operations record snapshots
func TestRecorderCalls(t *testing.T) {
	g := New(900, 630)
	var snaps int
	g.SetRecorder(func([]byte) { snaps++ })

	text := addText(t, g, "hello")
	if snaps != 1 {
		t.Errorf("Expected 1 snapshot after add, got %d", snaps)
	}
	x := 5.0
	g.Update(text.ID, Patch{X: &x})
	g.Select(text.ID)
	if snaps != 1 {
		t.Errorf("Update and select should not snapshot, got %d", snaps)
	}
	g.Commit()
	g.Remove(text.ID)
	if snaps != 3 {
		t.Errorf("Expected 3 snapshots, got %d", snaps)
	}
}

// TestRoundTripPreservesExtras verifies serialize/deserialize is lossless, unknown keys included
func TestRoundTripPreservesExtras(t *testing.T) {
	g := New(900, 630)
	ref := g.PutAsset([]byte("pixels"), "image/png")
	addText(t, g, "hello")
	g.Add(Draft{Kind: KindShape, Width: 50, Height: 50,
		Props: map[string]any{PropShapeType: ShapeCircle, PropFillColor: "#00FF00"}})
	g.Add(Draft{Kind: KindImage, Width: 10, Height: 10, Rotation: 45, Props: map[string]any{PropRasterRef: ref}})
	g.Add(Draft{Kind: KindQR, Width: 128, Height: 128,
		Props: map[string]any{PropContent: "https://example.com", PropRasterRef: ref}})

	data, err := g.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	// Simulate a newer writer adding keys this version doesn't know about.
	var raw map[string]any
	json.Unmarshal(data, &raw)
	raw["theme"] = map[string]any{"name": "dark"}
	raw["elements"].([]any)[1].(map[string]any)["shadow"] = "soft"
	data, _ = json.Marshal(raw)

	doc, err := DecodeDocument(data)
	if err != nil {
		t.Fatalf("DecodeDocument failed: %v", err)
	}
	g2, err := Deserialize(doc, g.ReferencedAssets())
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	out, _ := g2.Snapshot()

	var want, got map[string]any
	json.Unmarshal(data, &want)
	json.Unmarshal(out, &got)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Round trip mismatch (-want +got):\n%s", diff)
	}
	if g2.Len() != g.Len() {
		t.Errorf("Expected %d elements, got %d", g.Len(), g2.Len())
	}
}

// TestDeserializeRejectsBrokenInvariants verifies background rules on load
func TestDeserializeRejectsBrokenInvariants(t *testing.T) {
	g := New(900, 630)
	addText(t, g, "hello")
	doc := g.Serialize()

	noBg := doc
	noBg.Elements = doc.Elements[1:]
	if _, err := Deserialize(noBg, nil); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("Expected ErrInvariantViolation without background, got %v", err)
	}

	twoBg := doc
	extra := doc.Elements[0].Clone()
	extra.ID = "other"
	twoBg.Elements = append([]*Element{extra}, doc.Elements...)
	if _, err := Deserialize(twoBg, nil); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("Expected ErrInvariantViolation with two backgrounds, got %v", err)
	}
}

// TestRestore verifies a snapshot can be restored in place
func TestRestore(t *testing.T) {
	g := New(900, 630)
	snap, _ := g.Snapshot()
	text := addText(t, g, "hello")
	g.Select(text.ID)

	if err := g.Restore(snap); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("Expected 1 element after restore, got %d", g.Len())
	}
	if g.Selected() != "" {
		t.Error("Expected selection cleared after restore")
	}
}

// TestAssetRefsAreContentAddressed verifies identical bytes share one ref
func TestAssetRefsAreContentAddressed(t *testing.T) {
	g := New(10, 10)
	a := g.PutAsset([]byte("same"), "image/png")
	b := g.PutAsset([]byte("same"), "image/png")
	c := g.PutAsset([]byte("different"), "image/png")
	if a != b {
		t.Errorf("Expected equal refs, got %s and %s", a, b)
	}
	if a == c {
		t.Error("Expected different refs for different bytes")
	}
	if len(a) != len("b3:")+64 {
		t.Errorf("Unexpected ref format %s", a)
	}
}
