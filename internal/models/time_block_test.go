package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseDay = time.Date(2026, 11, 14, 9, 0, 0, 0, time.UTC)

func block(id string, startMin, lenMin int) TimeBlock {
	start := baseDay.Add(time.Duration(startMin) * time.Minute)
	return TimeBlock{ID: id, Start: start, End: start.Add(time.Duration(lenMin) * time.Minute)}
}

func TestTotalLength(t *testing.T) {
	blocks := []TimeBlock{block("a", 0, 50), block("b", 60, 50), block("c", 180, 60)}
	assert.Equal(t, 160*time.Minute, TotalLength(blocks))
	assert.Zero(t, TotalLength(nil))
}

func TestCollapseMergesWithinTolerance(t *testing.T) {
	blocks := []TimeBlock{block("c", 180, 60), block("a", 0, 50), block("b", 60, 50)}

	merged := Collapse(blocks, 10*time.Minute)
	require.Len(t, merged, 2)
	assert.Equal(t, "a", merged[0].ID)
	assert.Equal(t, baseDay, merged[0].Start)
	assert.Equal(t, baseDay.Add(110*time.Minute), merged[0].End)
	assert.Equal(t, "c", merged[1].ID)

	assert.Len(t, Collapse(blocks, 5*time.Minute), 3)
}

func TestCollapseIsIdempotent(t *testing.T) {
	cases := [][]TimeBlock{
		nil,
		{block("a", 0, 60)},
		{block("a", 0, 50), block("b", 60, 50), block("c", 120, 50)},
		{block("a", 0, 50), block("b", 65, 50), block("c", 200, 10), block("d", 205, 30)},
		{block("a", 0, 120), block("b", 30, 30)},
	}
	for _, tol := range []time.Duration{0, 10 * time.Minute, 15 * time.Minute} {
		for _, blocks := range cases {
			once := Collapse(blocks, tol)
			assert.Equal(t, once, Collapse(once, tol))
		}
	}
}

func TestGroupContiguous(t *testing.T) {
	blocks := []TimeBlock{block("b", 60, 60), block("a", 0, 60), block("d", 240, 60), block("c", 130, 60)}

	groups := GroupContiguous(blocks)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"a", "b"}, BlockIDs(groups[0]))
	assert.Equal(t, []string{"c"}, BlockIDs(groups[1]))
	assert.Equal(t, []string{"d"}, BlockIDs(groups[2]))
	assert.Nil(t, GroupContiguous(nil))
}

func TestContainsBlock(t *testing.T) {
	blocks := []TimeBlock{block("a", 0, 60)}
	assert.True(t, ContainsBlock(blocks, "a"))
	assert.False(t, ContainsBlock(blocks, "b"))
}
