// Package scene implements the canvas scene graph: an ordered set of positioned
// elements over exactly one background, with selection and a lossless document form.
package scene

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Recorder receives a serialized snapshot after each committed mutation.
type Recorder func(snapshot []byte)

// Graph is a z-ordered element graph. It is safe for concurrent use.
type Graph struct {
	width    int
	height   int
	elements []*Element // sorted by ZIndex, background first
	assets   map[string]Asset
	selected string
	extra    map[string]json.RawMessage // unknown document keys carried across round trips
	recorder Recorder
	mu       sync.RWMutex
}

// New creates a graph whose background is a flat white fill covering the canvas.
func New(width, height int) *Graph {
	g := &Graph{
		width:  width,
		height: height,
		assets: make(map[string]Asset),
	}
	bg := &Element{
		ID:     uuid.NewString(),
		Kind:   KindBackground,
		Width:  float64(width),
		Height: float64(height),
		Props:  map[string]any{PropFillColor: "#FFFFFF"},
	}
	g.elements = []*Element{bg}
	return g
}

// Size returns the canvas dimensions.
func (g *Graph) Size() (int, int) {
	return g.width, g.height
}

// SetRecorder attaches the snapshot receiver. Pass nil to detach.
func (g *Graph) SetRecorder(r Recorder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recorder = r
}

// Background returns a copy of the background element.
func (g *Graph) Background() *Element {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.elements[0].Clone()
}

// Element returns a copy of the element with id.
func (g *Graph) Element(id string) (*Element, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, el := g.find(id)
	if el == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return el.Clone(), nil
}

// Elements returns copies of all elements in z order, background first.
func (g *Graph) Elements() []*Element {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Element, len(g.elements))
	for i, el := range g.elements {
		out[i] = el.Clone()
	}
	return out
}

// Len returns the number of elements, background included.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.elements)
}

// Add validates draft and inserts it above every existing element.
func (g *Graph) Add(draft Draft) (*Element, error) {
	if draft.Kind == KindBackground {
		return nil, fmt.Errorf("%w: backgrounds are installed with SwapBackground", ErrInvariantViolation)
	}
	props, err := normalizeProps(draft.Props)
	if err != nil {
		return nil, err
	}
	el := &Element{
		ID:         uuid.NewString(),
		Kind:       draft.Kind,
		X:          draft.X,
		Y:          draft.Y,
		Width:      draft.Width,
		Height:     draft.Height,
		Rotation:   draft.Rotation,
		Selectable: true,
		Evented:    true,
		Props:      props,
	}
	applyDefaults(el)

	g.mu.Lock()
	if err := validate(el, g.hasAsset); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	el.ZIndex = g.maxZ() + 1
	g.elements = append(g.elements, el)
	out := el.Clone()
	g.commitLocked()
	return out, nil
}

// Update applies patch to the element with id. It never records a snapshot;
// callers commit once the edit (or gesture) is complete.
func (g *Graph) Update(id string, patch Patch) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, el := g.find(id)
	if el == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next, err := patch.apply(el)
	if err != nil {
		return err
	}
	if err := validate(next, g.hasAsset); err != nil {
		return err
	}
	if next.Kind == KindBackground {
		if next.Selectable || next.Evented {
			return fmt.Errorf("%w: background cannot be selectable or evented", ErrInvariantViolation)
		}
		if len(g.elements) > 1 && next.ZIndex >= g.minOtherZ() {
			return fmt.Errorf("%w: background must stay below every element", ErrInvariantViolation)
		}
	} else if next.ZIndex <= g.elements[0].ZIndex {
		return fmt.Errorf("%w: z-index %d is not above the background", ErrInvariantViolation, next.ZIndex)
	}
	g.elements[i] = next
	if next.ZIndex != el.ZIndex {
		g.sortLocked()
	}
	return nil
}

// Remove deletes the element with id. The background cannot be removed.
func (g *Graph) Remove(id string) error {
	g.mu.Lock()
	i, el := g.find(id)
	if el == nil {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if el.Kind == KindBackground {
		g.mu.Unlock()
		return fmt.Errorf("%w: the background cannot be removed", ErrInvariantViolation)
	}
	g.elements = append(g.elements[:i], g.elements[i+1:]...)
	if g.selected == id {
		g.selected = ""
	}
	g.commitLocked()
	return nil
}

// Select makes id the current selection. An empty id clears it.
func (g *Graph) Select(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id == "" {
		g.selected = ""
		return nil
	}
	_, el := g.find(id)
	if el == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !el.Selectable {
		return fmt.Errorf("%w: %s %s is not selectable", ErrInvariantViolation, el.Kind, id)
	}
	g.selected = id
	return nil
}

// Selected returns the selected element id, or "".
func (g *Graph) Selected() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.selected
}

// BringToFront moves id above every other element.
func (g *Graph) BringToFront(id string) error {
	g.mu.Lock()
	_, el := g.find(id)
	if el == nil {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if el.Kind == KindBackground {
		g.mu.Unlock()
		return fmt.Errorf("%w: the background stays at the bottom", ErrInvariantViolation)
	}
	if el.ZIndex != g.maxZ() || g.countZ(el.ZIndex) > 1 {
		el.ZIndex = g.maxZ() + 1
		g.sortLocked()
	}
	g.commitLocked()
	return nil
}

// SendToBack moves id directly above the background.
func (g *Graph) SendToBack(id string) error {
	g.mu.Lock()
	i, el := g.find(id)
	if el == nil {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if el.Kind == KindBackground {
		g.mu.Unlock()
		return fmt.Errorf("%w: the background stays at the bottom", ErrInvariantViolation)
	}
	rest := make([]*Element, 0, len(g.elements)-2)
	for j, other := range g.elements[1:] {
		if j+1 != i {
			rest = append(rest, other)
		}
	}
	z := g.elements[0].ZIndex + 1
	el.ZIndex = z
	for _, other := range rest {
		z++
		other.ZIndex = z
	}
	g.elements = append([]*Element{g.elements[0], el}, rest...)
	g.commitLocked()
	return nil
}

// SwapBackground replaces the background with bg in place. bg keeps the
// background slot: lowest z, not selectable, not evented.
func (g *Graph) SwapBackground(bg Element) (*Element, error) {
	if bg.Kind != KindBackground {
		return nil, fmt.Errorf("%w: %s is not a background", ErrInvalidElement, bg.Kind)
	}
	props, err := normalizeProps(bg.Props)
	if err != nil {
		return nil, err
	}
	next := bg.Clone()
	next.Props = props
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	next.Selectable = false
	next.Evented = false
	applyDefaults(next)

	g.mu.Lock()
	if err := validate(next, g.hasAsset); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	next.ZIndex = g.elements[0].ZIndex
	g.elements[0] = next
	out := next.Clone()
	g.commitLocked()
	return out, nil
}

// Commit records a snapshot of the current state.
func (g *Graph) Commit() {
	g.mu.Lock()
	g.commitLocked()
}

// Snapshot returns the serialized element document.
func (g *Graph) Snapshot() ([]byte, error) {
	return g.Serialize().Encode()
}

// Restore replaces the elements with the ones in snapshot. Assets are untouched
// and the selection is cleared if its element is gone.
func (g *Graph) Restore(snapshot []byte) error {
	doc, err := DecodeDocument(snapshot)
	if err != nil {
		return err
	}
	elements, err := checkElements(doc.Elements)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.elements = elements
	if g.selected != "" {
		if _, el := g.find(g.selected); el == nil {
			g.selected = ""
		}
	}
	return nil
}

// commitLocked releases the lock and hands a snapshot to the recorder.
func (g *Graph) commitLocked() {
	rec := g.recorder
	var snap []byte
	if rec != nil {
		snap, _ = g.serializeLocked().Encode()
	}
	g.mu.Unlock()
	if rec != nil && snap != nil {
		rec(snap)
	}
}

func (g *Graph) find(id string) (int, *Element) {
	for i, el := range g.elements {
		if el.ID == id {
			return i, el
		}
	}
	return -1, nil
}

func (g *Graph) hasAsset(ref string) bool {
	_, ok := g.assets[ref]
	return ok
}

func (g *Graph) maxZ() int {
	return g.elements[len(g.elements)-1].ZIndex
}

func (g *Graph) minOtherZ() int {
	return g.elements[1].ZIndex
}

func (g *Graph) countZ(z int) int {
	n := 0
	for _, el := range g.elements {
		if el.ZIndex == z {
			n++
		}
	}
	return n
}

func (g *Graph) sortLocked() {
	sort.SliceStable(g.elements, func(i, j int) bool {
		if g.elements[i].Kind == KindBackground {
			return g.elements[j].Kind != KindBackground
		}
		if g.elements[j].Kind == KindBackground {
			return false
		}
		return g.elements[i].ZIndex < g.elements[j].ZIndex
	})
}
