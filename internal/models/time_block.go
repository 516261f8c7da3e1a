package models

import (
	"sort"
	"time"
)

// TimeBlock is an atomic schedulable interval of a program. Blocks are shared
// between sections and never owned by one.
type TimeBlock struct {
	ID          string    `db:"id" json:"id"`
	ProgramID   string    `db:"program_id" json:"program_id"`
	Start       time.Time `db:"start_at" json:"start"`
	End         time.Time `db:"end_at" json:"end"`
	Description string    `db:"description" json:"description,omitempty"`
}

// Duration returns the length of the block.
func (b TimeBlock) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// Valid reports whether the block starts before it ends.
func (b TimeBlock) Valid() bool {
	return b.Start.Before(b.End)
}

// SortBlocks returns a copy of blocks ordered by start time, then ID.
func SortBlocks(blocks []TimeBlock) []TimeBlock {
	sorted := make([]TimeBlock, len(blocks))
	copy(sorted, blocks)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})
	return sorted
}

// TotalLength sums the lengths of the given blocks.
func TotalLength(blocks []TimeBlock) time.Duration {
	var total time.Duration
	for _, b := range blocks {
		total += b.Duration()
	}
	return total
}

// Collapse merges blocks whose gap is at most tol into continuous spans. A
// merged span keeps the ID of its earliest block.
func Collapse(blocks []TimeBlock, tol time.Duration) []TimeBlock {
	if len(blocks) == 0 {
		return nil
	}
	sorted := SortBlocks(blocks)
	merged := []TimeBlock{sorted[0]}
	for _, next := range sorted[1:] {
		cur := &merged[len(merged)-1]
		if next.Start.Sub(cur.End) <= tol {
			if next.End.After(cur.End) {
				cur.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// GroupContiguous partitions blocks into maximal runs with no gap between
// consecutive members. Runs and their members are chronological.
func GroupContiguous(blocks []TimeBlock) [][]TimeBlock {
	if len(blocks) == 0 {
		return nil
	}
	sorted := SortBlocks(blocks)
	groups := [][]TimeBlock{{sorted[0]}}
	for _, next := range sorted[1:] {
		last := groups[len(groups)-1]
		if next.Start.After(last[len(last)-1].End) {
			groups = append(groups, []TimeBlock{next})
			continue
		}
		groups[len(groups)-1] = append(last, next)
	}
	return groups
}

// BlockIDs returns the IDs of blocks in order.
func BlockIDs(blocks []TimeBlock) []string {
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.ID
	}
	return ids
}

// ContainsBlock reports whether blocks holds a block with the given ID.
func ContainsBlock(blocks []TimeBlock, id string) bool {
	for _, b := range blocks {
		if b.ID == id {
			return true
		}
	}
	return false
}

// Label renders the block for human-readable messages.
func (b TimeBlock) Label() string {
	return b.Start.Format("Mon 3:04 PM") + " to " + b.End.Format("3:04 PM")
}
