package strategy

import "strings"

// ExtractVariables walks the tree and collects every variable token,
// normalized (no leading $, lower-cased). Each element kind's
// substitutable fields are enumerated explicitly.
func ExtractVariables(tree []Element) map[string]struct{} {
	vars := make(map[string]struct{})
	for _, el := range tree {
		extractFromElement(el, vars)
	}
	return vars
}

func extractFromElement(el Element, vars map[string]struct{}) {
	switch e := el.(type) {
	case *Ticker:
		collect(vars, e.Ticker, e.Weight)

	case *Weight:
		collect(vars, e.Weight)
		for _, child := range e.Children {
			extractFromElement(child, vars)
		}

	case *Gate:
		collect(vars, e.Weight)
		for _, cond := range e.Conditions {
			collect(vars, cond.Ticker, cond.Indicator, cond.Period, cond.Threshold)
		}
		for _, child := range e.ThenChildren {
			extractFromElement(child, vars)
		}
		for _, child := range e.ElseChildren {
			extractFromElement(child, vars)
		}

	case *Scale:
		collect(vars, e.Config.Ticker, e.Config.Indicator, e.Config.Period, e.Config.Min, e.Config.Max)
		for _, child := range e.FromChildren {
			extractFromElement(child, vars)
		}
		for _, child := range e.ToChildren {
			extractFromElement(child, vars)
		}

	case *Sort:
		collect(vars, e.Count)
		for _, param := range e.Params {
			collect(vars, param)
		}
		for _, child := range e.Children {
			extractFromElement(child, vars)
		}
	}
}

func collect(vars map[string]struct{}, scalars ...Scalar) {
	for _, s := range scalars {
		if s.IsVariable() {
			vars[s.VariableName()] = struct{}{}
		}
	}
}

// ValidateBindings returns the variable names referenced by the tree
// that have no matching list in knownLists. Name comparison is
// case-insensitive. A non-empty result blocks batch execution.
func ValidateBindings(tree []Element, knownLists []string) []string {
	known := make(map[string]struct{}, len(knownLists))
	for _, name := range knownLists {
		known[strings.ToLower(name)] = struct{}{}
	}

	var missing []string
	for name := range ExtractVariables(tree) {
		if _, ok := known[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
