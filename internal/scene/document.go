package scene

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DocumentVersion is the element document format written by this package.
const DocumentVersion = 1

// Document is the serialized form of a graph's elements. Asset bytes are not part of it.
type Document struct {
	Version  int        `json:"version"`
	Width    int        `json:"width"`
	Height   int        `json:"height"`
	Elements []*Element `json:"elements"`

	// Extra holds unknown document-level keys.
	Extra map[string]json.RawMessage `json:"-"`
}

type documentAlias Document

var documentKeys = knownKeys(documentAlias{})

// MarshalJSON writes the document with its extra keys merged in.
func (d Document) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(documentAlias(d), d.Extra)
}

// UnmarshalJSON reads the document and keeps unknown keys in Extra.
func (d *Document) UnmarshalJSON(data []byte) error {
	var a documentAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := extraKeys(data, documentKeys)
	if err != nil {
		return err
	}
	*d = Document(a)
	d.Extra = extra
	return nil
}

// Encode returns the JSON form of the document.
func (d Document) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// DecodeDocument parses a document produced by Encode.
func DecodeDocument(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidElement, err)
	}
	return d, nil
}

// Serialize returns a deep copy of the graph's elements as a document.
func (g *Graph) Serialize() Document {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.serializeLocked()
}

func (g *Graph) serializeLocked() Document {
	d := Document{
		Version:  DocumentVersion,
		Width:    g.width,
		Height:   g.height,
		Elements: make([]*Element, len(g.elements)),
		Extra:    g.extra,
	}
	for i, el := range g.elements {
		d.Elements[i] = el.Clone()
	}
	return d
}

// Deserialize builds a graph from doc. Image and QR asset references are
// checked against assets when it is non-nil.
func Deserialize(doc Document, assets map[string]Asset) (*Graph, error) {
	if doc.Width <= 0 || doc.Height <= 0 {
		return nil, fmt.Errorf("%w: canvas size %dx%d", ErrInvalidElement, doc.Width, doc.Height)
	}
	elements, err := checkElements(doc.Elements)
	if err != nil {
		return nil, err
	}
	g := &Graph{
		width:    doc.Width,
		height:   doc.Height,
		elements: elements,
		assets:   make(map[string]Asset, len(assets)),
		extra:    doc.Extra,
	}
	for ref, a := range assets {
		g.assets[ref] = a
	}
	if assets != nil {
		for _, el := range elements {
			if err := validate(el, g.hasAsset); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// checkElements validates a decoded element list and returns sorted copies.
func checkElements(in []*Element) ([]*Element, error) {
	var bg *Element
	seen := make(map[string]bool, len(in))
	rest := make([]*Element, 0, len(in))
	for _, el := range in {
		if el == nil || el.ID == "" {
			return nil, fmt.Errorf("%w: element without id", ErrInvalidElement)
		}
		if seen[el.ID] {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidElement, el.ID)
		}
		seen[el.ID] = true
		c := el.Clone()
		if c.Props == nil {
			c.Props = map[string]any{}
		}
		if err := validate(c, nil); err != nil {
			return nil, err
		}
		if c.Kind == KindBackground {
			if bg != nil {
				return nil, fmt.Errorf("%w: more than one background", ErrInvariantViolation)
			}
			if c.Selectable {
				return nil, fmt.Errorf("%w: background is selectable", ErrInvariantViolation)
			}
			bg = c
			continue
		}
		rest = append(rest, c)
	}
	if bg == nil {
		return nil, fmt.Errorf("%w: no background", ErrInvariantViolation)
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].ZIndex < rest[j].ZIndex })
	if len(rest) > 0 && rest[0].ZIndex <= bg.ZIndex {
		return nil, fmt.Errorf("%w: background is not the lowest element", ErrInvariantViolation)
	}
	return append([]*Element{bg}, rest...), nil
}
