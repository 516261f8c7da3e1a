package models

import (
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx/types"
)

// ConstraintOp is the node type of a constraint expression.
type ConstraintOp string

const (
	OpAnd  ConstraintOp = "AND"
	OpOr   ConstraintOp = "OR"
	OpNot  ConstraintOp = "NOT"
	OpXor  ConstraintOp = "XOR"
	OpLeaf ConstraintOp = "LEAF"
)

// PredicateKind is the test applied by a leaf node.
type PredicateKind string

const (
	PredicateTrue              PredicateKind = "true"
	PredicateEnrolledInSection PredicateKind = "enrolled_in_section"
	PredicateEnrolledInSubject PredicateKind = "enrolled_in_subject"
	PredicateOccupiesBlocks    PredicateKind = "occupies_blocks"
	PredicateOccupiesAnyBlock  PredicateKind = "occupies_any_block"
)

// ConstraintNode is a boolean expression over a ScheduleMap.
type ConstraintNode struct {
	Op        ConstraintOp     `json:"op"`
	Children  []ConstraintNode `json:"children,omitempty"`
	Predicate PredicateKind    `json:"predicate,omitempty"`
	IDs       []string         `json:"ids,omitempty"`
}

// Validate checks arity and predicate names recursively.
func (n ConstraintNode) Validate() error {
	switch n.Op {
	case OpAnd, OpOr, OpXor:
		if len(n.Children) == 0 {
			return fmt.Errorf("%s node requires children", n.Op)
		}
	case OpNot:
		if len(n.Children) != 1 {
			return fmt.Errorf("NOT node requires exactly one child, got %d", len(n.Children))
		}
	case OpLeaf:
		switch n.Predicate {
		case PredicateTrue:
		case PredicateEnrolledInSection, PredicateEnrolledInSubject, PredicateOccupiesBlocks, PredicateOccupiesAnyBlock:
			if len(n.IDs) == 0 {
				return fmt.Errorf("predicate %s requires ids", n.Predicate)
			}
		default:
			return fmt.Errorf("unknown predicate %q", n.Predicate)
		}
	default:
		return fmt.Errorf("unknown constraint op %q", n.Op)
	}
	for _, child := range n.Children {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate interprets the expression against a schedule.
func (n ConstraintNode) Evaluate(sm *ScheduleMap) bool {
	switch n.Op {
	case OpAnd:
		for _, c := range n.Children {
			if !c.Evaluate(sm) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range n.Children {
			if c.Evaluate(sm) {
				return true
			}
		}
		return false
	case OpXor:
		count := 0
		for _, c := range n.Children {
			if c.Evaluate(sm) {
				count++
				if count > 1 {
					return false
				}
			}
		}
		return count == 1
	case OpNot:
		return len(n.Children) == 1 && !n.Children[0].Evaluate(sm)
	case OpLeaf:
		return n.evaluateLeaf(sm)
	}
	return false
}

func (n ConstraintNode) evaluateLeaf(sm *ScheduleMap) bool {
	switch n.Predicate {
	case PredicateTrue:
		return true
	case PredicateEnrolledInSection:
		for _, id := range n.IDs {
			if sm.HasSection(id) {
				return true
			}
		}
		return false
	case PredicateEnrolledInSubject:
		for _, id := range n.IDs {
			if sm.HasSubject(id) {
				return true
			}
		}
		return false
	case PredicateOccupiesBlocks:
		for _, id := range n.IDs {
			if !sm.Occupied(id) {
				return false
			}
		}
		return true
	case PredicateOccupiesAnyBlock:
		for _, id := range n.IDs {
			if sm.Occupied(id) {
				return true
			}
		}
		return false
	}
	return false
}

// ScheduleConstraint requires Requirement to hold whenever Condition holds.
// A missing condition applies to every schedule. Label describes the requirement.
type ScheduleConstraint struct {
	ID          string         `db:"id" json:"id"`
	ProgramID   string         `db:"program_id" json:"program_id"`
	Label       string         `db:"requirement_label" json:"label"`
	Condition   types.JSONText `db:"condition" json:"condition,omitempty"`
	Requirement types.JSONText `db:"requirement" json:"requirement"`
}

// Evaluate reports whether sm satisfies the constraint.
func (c ScheduleConstraint) Evaluate(sm *ScheduleMap) (bool, error) {
	if len(c.Condition) > 0 && string(c.Condition) != "null" {
		var cond ConstraintNode
		if err := json.Unmarshal(c.Condition, &cond); err != nil {
			return false, fmt.Errorf("decode constraint %s condition: %w", c.ID, err)
		}
		if err := cond.Validate(); err != nil {
			return false, fmt.Errorf("constraint %s condition: %w", c.ID, err)
		}
		if !cond.Evaluate(sm) {
			return true, nil
		}
	}
	var req ConstraintNode
	if err := json.Unmarshal(c.Requirement, &req); err != nil {
		return false, fmt.Errorf("decode constraint %s requirement: %w", c.ID, err)
	}
	if err := req.Validate(); err != nil {
		return false, fmt.Errorf("constraint %s requirement: %w", c.ID, err)
	}
	return req.Evaluate(sm), nil
}
