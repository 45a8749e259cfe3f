package scene

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Kind identifies what an element draws.
type Kind string

const (
	KindBackground Kind = "background"
	KindQR         Kind = "qr"
	KindText       Kind = "text"
	KindShape      Kind = "shape"
	KindImage      Kind = "image"
)

// Property keys shared by producers and the renderer.
const (
	PropContent         = "contentString"
	PropRasterRef       = "rasterRef"
	PropErrorCorrection = "errorCorrection"
	PropValue           = "value"
	PropFontSize        = "fontSize"
	PropColor           = "color"
	PropFontFamily      = "fontFamily"
	PropAlign           = "align"
	PropBold            = "bold"
	PropItalic          = "italic"
	PropUnderline       = "underline"
	PropShapeType       = "shapeType"
	PropFillColor       = "fillColor"
	PropStrokeColor     = "strokeColor"
	PropStrokeWidth     = "strokeWidth"
	PropScale           = "scale"
	PropPlaceholder     = "placeholder"
)

// Shape types.
const (
	ShapeRect     = "rect"
	ShapeCircle   = "circle"
	ShapeTriangle = "triangle"
	ShapeLine     = "line"
)

// Geometry limits in canvas units.
const (
	MaxExtent   = 1 << 20 // |x|, |y|, width, height and stroke width
	MaxFontSize = 1024
)

// BlankContent reports whether s has nothing a QR code could encode.
func BlankContent(s string) bool {
	return strings.TrimSpace(s) == ""
}

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Element is one positioned item on the canvas.
type Element struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Width      float64        `json:"width"`
	Height     float64        `json:"height"`
	Rotation   float64        `json:"rotationDegrees"`
	ZIndex     int            `json:"zIndex"`
	Selectable bool           `json:"selectable"`
	Evented    bool           `json:"evented"`
	Props      map[string]any `json:"properties"`

	// Extra holds keys this version doesn't know about. They are written back unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

type elementAlias Element

var elementKeys = knownKeys(elementAlias{})

// MarshalJSON writes the element with its extra keys merged in.
func (e Element) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(elementAlias(e), e.Extra)
}

// UnmarshalJSON reads the element and keeps unknown keys in Extra.
func (e *Element) UnmarshalJSON(data []byte) error {
	var a elementAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := extraKeys(data, elementKeys)
	if err != nil {
		return err
	}
	*e = Element(a)
	e.Extra = extra
	return nil
}

// Clone returns a deep copy.
func (e *Element) Clone() *Element {
	c := *e
	c.Props = cloneProps(e.Props)
	if e.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(e.Extra))
		for k, v := range e.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// String returns the property as a string, or "" if absent or not a string.
func (e *Element) String(key string) string {
	s, _ := e.Props[key].(string)
	return s
}

// Number returns the property as a float64, or def if absent.
func (e *Element) Number(key string, def float64) float64 {
	if v, ok := e.Props[key].(float64); ok {
		return v
	}
	return def
}

// Bool returns the property as a bool.
func (e *Element) Bool(key string) bool {
	b, _ := e.Props[key].(bool)
	return b
}

// Draft describes an element to add. The graph assigns id, z and flags.
type Draft struct {
	Kind     Kind           `json:"kind"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Width    float64        `json:"width"`
	Height   float64        `json:"height"`
	Rotation float64        `json:"rotationDegrees"`
	Props    map[string]any `json:"properties"`
}

// Patch is a partial update. Nil fields are left alone; a nil value in Props deletes the key.
type Patch struct {
	X          *float64       `json:"x,omitempty"`
	Y          *float64       `json:"y,omitempty"`
	Width      *float64       `json:"width,omitempty"`
	Height     *float64       `json:"height,omitempty"`
	Rotation   *float64       `json:"rotationDegrees,omitempty"`
	ZIndex     *int           `json:"zIndex,omitempty"`
	Selectable *bool          `json:"selectable,omitempty"`
	Evented    *bool          `json:"evented,omitempty"`
	Props      map[string]any `json:"properties,omitempty"`
}

// apply returns a copy of el with the patch applied.
func (p Patch) apply(el *Element) (*Element, error) {
	c := el.Clone()
	if p.X != nil {
		c.X = *p.X
	}
	if p.Y != nil {
		c.Y = *p.Y
	}
	if p.Width != nil {
		c.Width = *p.Width
	}
	if p.Height != nil {
		c.Height = *p.Height
	}
	if p.Rotation != nil {
		c.Rotation = *p.Rotation
	}
	if p.ZIndex != nil {
		c.ZIndex = *p.ZIndex
	}
	if p.Selectable != nil {
		c.Selectable = *p.Selectable
	}
	if p.Evented != nil {
		c.Evented = *p.Evented
	}
	if len(p.Props) > 0 {
		props, err := normalizeProps(p.Props)
		if err != nil {
			return nil, err
		}
		if c.Props == nil {
			c.Props = map[string]any{}
		}
		for k, v := range props {
			if v == nil {
				delete(c.Props, k)
			} else {
				c.Props[k] = v
			}
		}
	}
	return c, nil
}

// applyDefaults fills in the kind's default properties.
func applyDefaults(el *Element) {
	if el.Props == nil {
		el.Props = map[string]any{}
	}
	def := func(key string, v any) {
		if _, ok := el.Props[key]; !ok {
			el.Props[key] = v
		}
	}
	switch el.Kind {
	case KindQR:
		def(PropErrorCorrection, "M")
	case KindText:
		def(PropFontSize, 32.0)
		def(PropColor, "#000000")
		def(PropFontFamily, "sans-serif")
		def(PropAlign, "left")
		def(PropBold, false)
		def(PropItalic, false)
		def(PropUnderline, false)
	case KindShape:
		def(PropFillColor, "#3B82F6")
		def(PropStrokeColor, "#000000")
		if el.String(PropShapeType) == ShapeLine {
			def(PropStrokeWidth, 2.0)
		} else {
			def(PropStrokeWidth, 0.0)
		}
	case KindBackground:
		def(PropFillColor, "#FFFFFF")
	}
}

// validate checks geometry and kind-specific properties.
// hasAsset is nil when asset references should not be checked.
func validate(el *Element, hasAsset func(string) bool) error {
	for _, v := range []float64{el.X, el.Y, el.Width, el.Height, el.Rotation} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s %s has a non-finite coordinate", ErrInvalidElement, el.Kind, el.ID)
		}
	}
	if el.Width < 0 || el.Height < 0 {
		return fmt.Errorf("%w: %s %s has negative size", ErrInvalidElement, el.Kind, el.ID)
	}
	for _, v := range []float64{el.X, el.Y, el.Width, el.Height} {
		if math.Abs(v) > MaxExtent {
			return fmt.Errorf("%w: %s %s exceeds the %d unit extent", ErrInvalidElement, el.Kind, el.ID, MaxExtent)
		}
	}
	checkColor := func(key string) error {
		v, ok := el.Props[key]
		if !ok {
			return nil
		}
		s, isString := v.(string)
		if !isString || !hexColor.MatchString(s) {
			return fmt.Errorf("%w: %s must be a #RRGGBB color, got %v", ErrInvalidElement, key, v)
		}
		return nil
	}
	checkNumber := func(key string, min, max float64) error {
		v, ok := el.Props[key]
		if !ok {
			return nil
		}
		n, isNumber := v.(float64)
		if !isNumber || n < min || n > max {
			return fmt.Errorf("%w: %s must be a number in [%g, %g], got %v", ErrInvalidElement, key, min, max, v)
		}
		return nil
	}
	checkBool := func(key string) error {
		if v, ok := el.Props[key]; ok {
			if _, isBool := v.(bool); !isBool {
				return fmt.Errorf("%w: %s must be a boolean, got %v", ErrInvalidElement, key, v)
			}
		}
		return nil
	}
	checkRef := func(required bool) error {
		v, ok := el.Props[PropRasterRef]
		if !ok {
			if required {
				return fmt.Errorf("%w: %s requires %s", ErrInvalidElement, el.Kind, PropRasterRef)
			}
			return nil
		}
		ref, isString := v.(string)
		if !isString || ref == "" {
			return fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidElement, PropRasterRef)
		}
		if hasAsset != nil && !hasAsset(ref) {
			return fmt.Errorf("%w: unknown asset %s", ErrInvalidElement, ref)
		}
		return nil
	}

	var errs []error
	switch el.Kind {
	case KindQR:
		if s, ok := el.Props[PropContent].(string); !ok || BlankContent(s) {
			return fmt.Errorf("%w: qr requires a non-empty %s", ErrInvalidElement, PropContent)
		}
		switch el.String(PropErrorCorrection) {
		case "L", "M", "Q", "H":
		default:
			return fmt.Errorf("%w: %s must be one of L, M, Q, H", ErrInvalidElement, PropErrorCorrection)
		}
		errs = append(errs, checkRef(true))
	case KindText:
		if _, ok := el.Props[PropValue].(string); !ok {
			return fmt.Errorf("%w: text %s must be a string", ErrInvalidElement, PropValue)
		}
		if v, ok := el.Props[PropFontFamily]; ok {
			if _, isString := v.(string); !isString {
				return fmt.Errorf("%w: %s must be a string", ErrInvalidElement, PropFontFamily)
			}
		}
		switch el.String(PropAlign) {
		case "left", "center", "right":
		default:
			return fmt.Errorf("%w: %s must be left, center or right", ErrInvalidElement, PropAlign)
		}
		errs = append(errs, checkNumber(PropFontSize, 1, MaxFontSize), checkColor(PropColor),
			checkBool(PropBold), checkBool(PropItalic), checkBool(PropUnderline))
	case KindShape:
		switch el.String(PropShapeType) {
		case ShapeRect, ShapeCircle, ShapeTriangle, ShapeLine:
		default:
			return fmt.Errorf("%w: unknown %s %v", ErrInvalidElement, PropShapeType, el.Props[PropShapeType])
		}
		errs = append(errs, checkColor(PropFillColor), checkColor(PropStrokeColor), checkNumber(PropStrokeWidth, 0, MaxExtent))
	case KindImage:
		errs = append(errs, checkRef(true))
	case KindBackground:
		errs = append(errs, checkRef(false), checkColor(PropFillColor), checkNumber(PropScale, 0, math.MaxFloat64), checkBool(PropPlaceholder))
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidElement, el.Kind)
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// normalizeProps converts property values to their JSON-native forms so that
// in-memory and deserialized graphs compare equal.
func normalizeProps(props map[string]any) (map[string]any, error) {
	if props == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidElement, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidElement, err)
	}
	return out, nil
}

func cloneProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	c := make(map[string]any, len(props))
	for k, v := range props {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneProps(t)
	case []any:
		c := make([]any, len(t))
		for i, item := range t {
			c[i] = cloneValue(item)
		}
		return c
	default:
		return v
	}
}

// knownKeys lists the JSON field names of a struct value.
func knownKeys(v any) map[string]bool {
	data, _ := json.Marshal(v)
	var m map[string]json.RawMessage
	json.Unmarshal(data, &m)
	keys := make(map[string]bool, len(m))
	for k := range m {
		keys[k] = true
	}
	return keys
}

// extraKeys returns the top-level keys of data that aren't in known.
func extraKeys(data []byte, known map[string]bool) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	var extra map[string]json.RawMessage
	for k, v := range m {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return extra, nil
}

// marshalWithExtra encodes v and merges extra keys that don't collide with its own.
func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			m[k] = extra[k]
		}
	}
	return json.Marshal(m)
}
