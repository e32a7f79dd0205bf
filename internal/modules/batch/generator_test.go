package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sweep/internal/modules/strategy"
)

func entry(name string, values ...string) DetailEntry {
	return DetailEntry{Name: name, Count: len(values), Values: values}
}

func TestGenerateSingleVariable(t *testing.T) {
	detail := []DetailEntry{entry("rsi_period", "10", "14", "20")}

	assignments, truncated := Generate(detail, 10000)

	assert.False(t, truncated)
	assert.Equal(t, 3, DisplayTotal(detail))
	require.Len(t, assignments, 3)
	assert.Equal(t, strategy.Assignment{"rsi_period": "10"}, assignments[0])
	assert.Equal(t, strategy.Assignment{"rsi_period": "14"}, assignments[1])
	assert.Equal(t, strategy.Assignment{"rsi_period": "20"}, assignments[2])
}

func TestGenerateTruncatesAtCap(t *testing.T) {
	detail := []DetailEntry{
		entry("a", "1", "2"),
		entry("b", "x", "y"),
	}

	assignments, truncated := Generate(detail, 3)

	assert.Equal(t, 4, DisplayTotal(detail))
	assert.True(t, truncated)
	require.Len(t, assignments, 3)
	assert.Equal(t, strategy.Assignment{"a": "1", "b": "x"}, assignments[0])
	assert.Equal(t, strategy.Assignment{"a": "1", "b": "y"}, assignments[1])
	assert.Equal(t, strategy.Assignment{"a": "2", "b": "x"}, assignments[2])
}

func TestGenerateExactlyCapIsNotTruncated(t *testing.T) {
	detail := []DetailEntry{
		entry("a", "1", "2"),
		entry("b", "x", "y"),
	}

	assignments, truncated := Generate(detail, 4)

	assert.False(t, truncated)
	assert.Len(t, assignments, 4)
}

func TestGenerateEmptyValueListAbsorbsProduct(t *testing.T) {
	detail := []DetailEntry{
		entry("a", "1", "2"),
		entry("b"),
		entry("c", "x", "y", "z"),
	}

	assignments, truncated := Generate(detail, 10000)

	assert.Empty(t, assignments)
	assert.False(t, truncated)

	// The display estimate disagrees on purpose
	assert.Equal(t, 6, DisplayTotal(detail))

	err := ValidateDetail(detail)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), `variable "b" has no values`)
}

func TestGenerateIsDeterministic(t *testing.T) {
	detail := []DetailEntry{
		entry("a", "1", "2", "3"),
		entry("b", "x", "y"),
		entry("c", "p", "q"),
	}

	first, firstTruncated := Generate(detail, 7)
	second, secondTruncated := Generate(detail, 7)

	assert.Equal(t, first, second)
	assert.Equal(t, firstTruncated, secondTruncated)
	assert.True(t, firstTruncated)
	assert.Len(t, first, 7)
}

func TestGenerateHugeProductStopsEarly(t *testing.T) {
	// 10 variables x 5 values would be ~9.8M assignments if
	// materialized fully
	detail := make([]DetailEntry, 10)
	for i := range detail {
		detail[i] = entry(string(rune('a'+i)), "1", "2", "3", "4", "5")
	}

	assignments, truncated := Generate(detail, 100)

	assert.True(t, truncated)
	assert.Len(t, assignments, 100)
}

func TestGenerateNoVariables(t *testing.T) {
	assignments, truncated := Generate(nil, 100)

	assert.False(t, truncated)
	require.Len(t, assignments, 1)
	assert.Empty(t, assignments[0])
	assert.Equal(t, 1, DisplayTotal(nil))
}
