package strategy

import (
	"strconv"
	"strings"
)

// Field coercion kinds. A bound value is always a string; the field
// it lands in decides how the literal is shaped.
type fieldKind int

const (
	fieldTicker fieldKind = iota // upper-cased instrument symbol
	fieldNumber                  // parsed as a number when possible
	fieldText                    // used verbatim
)

// Assignment binds normalized variable names to literal values
type Assignment map[string]string

// Substitute returns a new tree with every variable token that has a
// binding in the assignment replaced by its literal value. The input
// tree is never mutated. Tokens with no binding pass through
// unchanged.
func Substitute(tree []Element, assignment Assignment) []Element {
	out := make([]Element, 0, len(tree))
	for _, el := range tree {
		out = append(out, substituteElement(el, assignment))
	}
	return out
}

func substituteElement(el Element, a Assignment) Element {
	switch e := el.(type) {
	case *Ticker:
		return &Ticker{
			ID:     e.ID,
			Ticker: resolve(e.Ticker, a, fieldTicker),
			Weight: resolve(e.Weight, a, fieldNumber),
		}

	case *Weight:
		return &Weight{
			ID:         e.ID,
			Name:       e.Name,
			Weight:     resolve(e.Weight, a, fieldNumber),
			WeightMode: e.WeightMode,
			Children:   Substitute(e.Children, a),
		}

	case *Gate:
		conditions := make([]Condition, 0, len(e.Conditions))
		for _, cond := range e.Conditions {
			conditions = append(conditions, Condition{
				Ticker:    resolve(cond.Ticker, a, fieldTicker),
				Indicator: resolve(cond.Indicator, a, fieldText),
				Period:    resolve(cond.Period, a, fieldNumber),
				Threshold: resolve(cond.Threshold, a, fieldNumber),
				Operator:  cond.Operator,
			})
		}
		return &Gate{
			ID:           e.ID,
			Name:         e.Name,
			Weight:       resolve(e.Weight, a, fieldNumber),
			Conditions:   conditions,
			ThenChildren: Substitute(e.ThenChildren, a),
			ElseChildren: Substitute(e.ElseChildren, a),
		}

	case *Scale:
		return &Scale{
			ID: e.ID,
			Config: ScaleConfig{
				Ticker:    resolve(e.Config.Ticker, a, fieldTicker),
				Indicator: resolve(e.Config.Indicator, a, fieldText),
				Period:    resolve(e.Config.Period, a, fieldNumber),
				Min:       resolve(e.Config.Min, a, fieldNumber),
				Max:       resolve(e.Config.Max, a, fieldNumber),
			},
			FromChildren: Substitute(e.FromChildren, a),
			ToChildren:   Substitute(e.ToChildren, a),
		}

	case *Sort:
		var params map[string]Scalar
		if e.Params != nil {
			params = make(map[string]Scalar, len(e.Params))
			for k, v := range e.Params {
				params[k] = resolve(v, a, fieldNumber)
			}
		}
		return &Sort{
			ID:        e.ID,
			Name:      e.Name,
			Direction: e.Direction,
			Count:     resolve(e.Count, a, fieldNumber),
			Indicator: e.Indicator,
			Params:    params,
			Children:  Substitute(e.Children, a),
		}
	}

	return el
}

// resolve replaces a variable scalar with its bound literal, coerced
// to the field's kind. Non-variable scalars and unbound tokens are
// returned as-is.
func resolve(s Scalar, a Assignment, kind fieldKind) Scalar {
	if !s.IsVariable() {
		return s
	}
	value, ok := a[s.VariableName()]
	if !ok {
		return s
	}

	switch kind {
	case fieldTicker:
		return String(strings.ToUpper(value))
	case fieldNumber:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return Number(f)
		}
		return String(value)
	default:
		return String(value)
	}
}
