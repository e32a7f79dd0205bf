// Package strategy defines the recursive strategy tree and its
// variable token model. A tree is a list of elements, each one of
// five kinds (ticker, weight, gate, scale, sort). Any substitutable
// field may hold a variable token like "$rsi_period" instead of a
// literal; tokens are bound to values at batch run time.
package strategy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Element kinds, used as the "type" discriminator on the wire
const (
	KindTicker = "ticker"
	KindWeight = "weight"
	KindGate   = "gate"
	KindScale  = "scale"
	KindSort   = "sort"
)

var variablePattern = regexp.MustCompile(`^\$[A-Za-z0-9_]+$`)

// Scalar is a field value that is either a literal (string or number)
// or a variable token. It round-trips JSON strings and numbers without
// losing the distinction.
type Scalar struct {
	Raw     string
	Numeric bool
	Present bool
}

// String builds a literal string scalar
func String(s string) Scalar {
	return Scalar{Raw: s, Present: true}
}

// Number builds a literal numeric scalar
func Number(f float64) Scalar {
	return Scalar{Raw: strconv.FormatFloat(f, 'f', -1, 64), Numeric: true, Present: true}
}

// IsVariable reports whether the scalar is a variable token ($name)
func (s Scalar) IsVariable() bool {
	return s.Present && !s.Numeric && variablePattern.MatchString(s.Raw)
}

// VariableName returns the normalized variable name: token without
// the leading $, lower-cased. Empty string if not a variable.
func (s Scalar) VariableName() string {
	if !s.IsVariable() {
		return ""
	}
	return strings.ToLower(s.Raw[1:])
}

// Float parses the scalar as a number
func (s Scalar) Float() (float64, error) {
	return strconv.ParseFloat(s.Raw, 64)
}

// UnmarshalJSON accepts a JSON string, number, or null
func (s *Scalar) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = Scalar{}
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Scalar{Raw: str, Present: true}
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("scalar must be a string, number, or null: %w", err)
	}
	*s = Number(num)
	return nil
}

// MarshalJSON writes numbers as numbers and everything else as strings
func (s Scalar) MarshalJSON() ([]byte, error) {
	if !s.Present {
		return []byte("null"), nil
	}
	if s.Numeric {
		return []byte(s.Raw), nil
	}
	return json.Marshal(s.Raw)
}

// Element is a node in the strategy tree
type Element interface {
	Kind() string
}

// Ticker is a leaf holding a single instrument
type Ticker struct {
	ID     string `json:"id"`
	Ticker Scalar `json:"ticker"`
	Weight Scalar `json:"weight"`
}

func (t *Ticker) Kind() string { return KindTicker }

// Weight groups children under a single allocation
type Weight struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Weight     Scalar    `json:"weight"`
	WeightMode string    `json:"weightMode"`
	Children   []Element `json:"children"`
}

func (w *Weight) Kind() string { return KindWeight }

// Condition is one gate predicate. Every field may independently be
// absent or a variable token.
type Condition struct {
	Ticker    Scalar `json:"ticker"`
	Indicator Scalar `json:"indicator"`
	Period    Scalar `json:"period"`
	Threshold Scalar `json:"threshold"`
	Operator  string `json:"operator,omitempty"`
}

// Gate branches between two subtrees based on its conditions
type Gate struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Weight       Scalar      `json:"weight"`
	Conditions   []Condition `json:"conditions"`
	ThenChildren []Element   `json:"thenChildren"`
	ElseChildren []Element   `json:"elseChildren"`
}

func (g *Gate) Kind() string { return KindGate }

// ScaleConfig parameterizes a scale element's indicator ramp
type ScaleConfig struct {
	Ticker    Scalar `json:"ticker"`
	Indicator Scalar `json:"indicator"`
	Period    Scalar `json:"period"`
	Min       Scalar `json:"min"`
	Max       Scalar `json:"max"`
}

// Scale blends between two subtrees proportionally to an indicator
type Scale struct {
	ID           string      `json:"id"`
	Config       ScaleConfig `json:"config"`
	FromChildren []Element   `json:"fromChildren"`
	ToChildren   []Element   `json:"toChildren"`
}

func (s *Scale) Kind() string { return KindScale }

// Sort ranks its children by an indicator and keeps the top or
// bottom count of them
type Sort struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Direction string            `json:"direction"`
	Count     Scalar            `json:"count"`
	Indicator string            `json:"indicator"`
	Params    map[string]Scalar `json:"params,omitempty"`
	Children  []Element         `json:"children"`
}

func (s *Sort) Kind() string { return KindSort }

// Tree is a list of root elements with a JSON codec that dispatches
// on each element's "type" field
type Tree []Element

type elementEnvelope struct {
	Type string `json:"type"`
}

// UnmarshalElement decodes a single element from its JSON form
func UnmarshalElement(data []byte) (Element, error) {
	var env elementEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("element missing type discriminator: %w", err)
	}

	var el Element
	switch env.Type {
	case KindTicker:
		el = &Ticker{}
	case KindWeight:
		el = &Weight{}
	case KindGate:
		el = &Gate{}
	case KindScale:
		el = &Scale{}
	case KindSort:
		el = &Sort{}
	default:
		return nil, fmt.Errorf("unknown element type %q", env.Type)
	}

	if err := json.Unmarshal(data, el); err != nil {
		return nil, fmt.Errorf("failed to decode %s element: %w", env.Type, err)
	}
	return el, nil
}

// UnmarshalJSON decodes a list of tagged elements
func (t *Tree) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	out := make(Tree, 0, len(raws))
	for i, raw := range raws {
		el, err := UnmarshalElement(raw)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, el)
	}
	*t = out
	return nil
}

// MarshalJSON encodes each element with its type discriminator
func (t Tree) MarshalJSON() ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(t))
	for _, el := range t {
		raw, err := marshalElement(el)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	return json.Marshal(raws)
}

func marshalElement(el Element) ([]byte, error) {
	body, err := json.Marshal(el)
	if err != nil {
		return nil, err
	}

	// Splice the discriminator into the object
	tag, _ := json.Marshal(el.Kind())
	if string(body) == "{}" {
		return []byte(`{"type":` + string(tag) + `}`), nil
	}
	return append([]byte(`{"type":`+string(tag)+`,`), body[1:]...), nil
}

// nested element lists also need the tagged codec

// UnmarshalJSON for element slices inside concrete types
func unmarshalChildren(data []byte) ([]Element, error) {
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

type weightAlias Weight
type gateAlias Gate
type scaleAlias Scale
type sortAlias Sort

// UnmarshalJSON decodes a weight element including its tagged children
func (w *Weight) UnmarshalJSON(data []byte) error {
	var aux struct {
		weightAlias
		Children json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*w = Weight(aux.weightAlias)
	if len(aux.Children) > 0 {
		children, err := unmarshalChildren(aux.Children)
		if err != nil {
			return err
		}
		w.Children = children
	}
	return nil
}

// MarshalJSON encodes a weight element including its tagged children
func (w *Weight) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		weightAlias
		Children Tree `json:"children"`
	}{weightAlias(*w), Tree(w.Children)})
}

func (g *Gate) UnmarshalJSON(data []byte) error {
	var aux struct {
		gateAlias
		ThenChildren json.RawMessage `json:"thenChildren"`
		ElseChildren json.RawMessage `json:"elseChildren"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*g = Gate(aux.gateAlias)
	if len(aux.ThenChildren) > 0 {
		children, err := unmarshalChildren(aux.ThenChildren)
		if err != nil {
			return err
		}
		g.ThenChildren = children
	}
	if len(aux.ElseChildren) > 0 {
		children, err := unmarshalChildren(aux.ElseChildren)
		if err != nil {
			return err
		}
		g.ElseChildren = children
	}
	return nil
}

func (g *Gate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		gateAlias
		ThenChildren Tree `json:"thenChildren"`
		ElseChildren Tree `json:"elseChildren"`
	}{gateAlias(*g), Tree(g.ThenChildren), Tree(g.ElseChildren)})
}

func (s *Scale) UnmarshalJSON(data []byte) error {
	var aux struct {
		scaleAlias
		FromChildren json.RawMessage `json:"fromChildren"`
		ToChildren   json.RawMessage `json:"toChildren"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = Scale(aux.scaleAlias)
	if len(aux.FromChildren) > 0 {
		children, err := unmarshalChildren(aux.FromChildren)
		if err != nil {
			return err
		}
		s.FromChildren = children
	}
	if len(aux.ToChildren) > 0 {
		children, err := unmarshalChildren(aux.ToChildren)
		if err != nil {
			return err
		}
		s.ToChildren = children
	}
	return nil
}

func (s *Scale) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		scaleAlias
		FromChildren Tree `json:"fromChildren"`
		ToChildren   Tree `json:"toChildren"`
	}{scaleAlias(*s), Tree(s.FromChildren), Tree(s.ToChildren)})
}

func (s *Sort) UnmarshalJSON(data []byte) error {
	var aux struct {
		sortAlias
		Children json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = Sort(aux.sortAlias)
	if len(aux.Children) > 0 {
		children, err := unmarshalChildren(aux.Children)
		if err != nil {
			return err
		}
		s.Children = children
	}
	return nil
}

func (s *Sort) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		sortAlias
		Children Tree `json:"children"`
	}{sortAlias(*s), Tree(s.Children)})
}
