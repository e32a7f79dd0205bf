package batch

import "github.com/aristath/sweep/internal/modules/strategy"

// Generate enumerates the cartesian product of the detail entries'
// value lists as a depth-first walk: entries in array order, values
// within each entry in array order. Enumeration stops as soon as cap
// assignments have been produced, so combinatorially huge products
// are never materialized. Truncated is true iff the true product
// size exceeds cap.
//
// An entry with an empty value list absorbs the whole product: there
// is nothing to bind it to, so zero assignments are returned. This
// intentionally differs from DisplayTotal, which substitutes 1 for
// empty lists to keep the human-readable estimate finite.
func Generate(detail []DetailEntry, cap int) ([]strategy.Assignment, bool) {
	if cap <= 0 {
		return []strategy.Assignment{}, false
	}
	for _, entry := range detail {
		if len(entry.Values) == 0 {
			return []strategy.Assignment{}, false
		}
	}

	assignments := make([]strategy.Assignment, 0)
	truncated := false

	// Iterative backtracking over value indices, one per entry
	indices := make([]int, len(detail))
	for {
		if len(assignments) == cap {
			truncated = true
			break
		}

		current := make(strategy.Assignment, len(detail))
		for i, entry := range detail {
			current[entry.Name] = entry.Values[indices[i]]
		}
		assignments = append(assignments, current)

		// Advance the rightmost index, carrying leftward
		pos := len(detail) - 1
		for pos >= 0 {
			indices[pos]++
			if indices[pos] < len(detail[pos].Values) {
				break
			}
			indices[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}

	return assignments, truncated
}

// DisplayTotal is the human-readable sweep size estimate: the product
// of max(count, 1) over all entries. It can disagree with the number
// of assignments Generate produces when a value list is empty; that
// case is rejected up front by ValidateDetail.
func DisplayTotal(detail []DetailEntry) int {
	total := 1
	for _, entry := range detail {
		count := entry.Count
		if count < 1 {
			count = 1
		}
		total *= count
	}
	return total
}

// ValidateDetail rejects detail arrays the generator would silently
// collapse to zero assignments
func ValidateDetail(detail []DetailEntry) error {
	for _, entry := range detail {
		if len(entry.Values) == 0 {
			return Validationf("variable %q has no values", entry.Name)
		}
	}
	return nil
}
