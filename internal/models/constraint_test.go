package models

import (
	"testing"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(p PredicateKind, ids ...string) ConstraintNode {
	return ConstraintNode{Op: OpLeaf, Predicate: p, IDs: ids}
}

func TestConstraintNodeEvaluate(t *testing.T) {
	sm := NewScheduleMap("stu-1", "prog-1")
	sm.AddSection("sec-1", "subj-1", []string{"tb-1", "tb-2"})
	sm.AddSection("sec-9", "subj-9", []string{"tb-4"})

	cases := []struct {
		name string
		node ConstraintNode
		want bool
	}{
		{"true leaf", leaf(PredicateTrue), true},
		{"section present", leaf(PredicateEnrolledInSection, "sec-1"), true},
		{"subject absent", leaf(PredicateEnrolledInSubject, "subj-2"), false},
		{"all blocks", leaf(PredicateOccupiesBlocks, "tb-1", "tb-2"), true},
		{"missing block", leaf(PredicateOccupiesBlocks, "tb-1", "tb-3"), false},
		{"any block", leaf(PredicateOccupiesAnyBlock, "tb-3", "tb-4"), true},
		{"and", ConstraintNode{Op: OpAnd, Children: []ConstraintNode{leaf(PredicateTrue), leaf(PredicateOccupiesBlocks, "tb-3")}}, false},
		{"or", ConstraintNode{Op: OpOr, Children: []ConstraintNode{leaf(PredicateOccupiesBlocks, "tb-3"), leaf(PredicateTrue)}}, true},
		{"not", ConstraintNode{Op: OpNot, Children: []ConstraintNode{leaf(PredicateOccupiesBlocks, "tb-3")}}, true},
		{"xor one", ConstraintNode{Op: OpXor, Children: []ConstraintNode{leaf(PredicateEnrolledInSubject, "subj-1"), leaf(PredicateEnrolledInSubject, "subj-2")}}, true},
		{"xor two", ConstraintNode{Op: OpXor, Children: []ConstraintNode{leaf(PredicateEnrolledInSubject, "subj-1"), leaf(PredicateEnrolledInSubject, "subj-9")}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, tc.node.Validate())
			assert.Equal(t, tc.want, tc.node.Evaluate(sm))
		})
	}
}

func TestConstraintNodeValidate(t *testing.T) {
	assert.Error(t, ConstraintNode{Op: OpNot}.Validate())
	assert.Error(t, ConstraintNode{Op: OpAnd}.Validate())
	assert.Error(t, leaf("made_up", "x").Validate())
	assert.Error(t, leaf(PredicateOccupiesBlocks).Validate())
	assert.Error(t, ConstraintNode{Op: "EVAL"}.Validate())
}

func TestScheduleConstraintConditional(t *testing.T) {
	// Lunch rule: whoever takes a class at tb-2 must leave tb-3 free.
	c := ScheduleConstraint{
		ID:          "c-1",
		Label:       "keep a lunch block free",
		Condition:   types.JSONText(`{"op":"LEAF","predicate":"occupies_blocks","ids":["tb-2"]}`),
		Requirement: types.JSONText(`{"op":"NOT","children":[{"op":"LEAF","predicate":"occupies_blocks","ids":["tb-3"]}]}`),
	}

	sm := NewScheduleMap("stu-1", "prog-1")
	sm.AddSection("sec-1", "subj-1", []string{"tb-3"})
	ok, err := c.Evaluate(sm)
	require.NoError(t, err)
	assert.True(t, ok, "condition does not hold so the constraint is vacuous")

	sm.AddSection("sec-2", "subj-2", []string{"tb-2"})
	ok, err = c.Evaluate(sm)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ScheduleConstraint{ID: "bad", Requirement: types.JSONText(`{"op":"NOT"}`)}.Evaluate(sm)
	assert.Error(t, err)
}

func TestScheduleMapDeduplicates(t *testing.T) {
	sm := NewScheduleMap("stu-1", "prog-1")
	sm.AddSection("sec-1", "subj-1", []string{"tb-1"})
	sm.AddSection("sec-1", "subj-1", []string{"tb-1"})
	assert.Len(t, sm.At("tb-1"), 1)
	assert.Equal(t, []string{"tb-1"}, sm.BlockIDs())
	assert.False(t, sm.Occupied("tb-2"))
}

func TestScheduleMapKeepsSectionsWithoutBlocks(t *testing.T) {
	sm := NewScheduleMap("stu-1", "prog-1")
	sm.AddSection("sec-9", "subj-9", nil)

	assert.True(t, sm.HasSection("sec-9"))
	assert.True(t, sm.HasSubject("subj-9"))
	assert.Empty(t, sm.BlockIDs())

	node := ConstraintNode{Op: OpAnd, Children: []ConstraintNode{
		leaf(PredicateEnrolledInSection, "sec-9"),
		leaf(PredicateEnrolledInSubject, "subj-9"),
	}}
	assert.True(t, node.Evaluate(sm))
}
