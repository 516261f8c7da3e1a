package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-scheduling-api/internal/models"
)

// AvailabilityRepository stores teacher availability and reads teaching load.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository constructs an AvailabilityRepository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

func (r *AvailabilityRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ReplaceBlocks sets the teacher's availability within the program to
// blockIDs. Availability in other programs is untouched.
func (r *AvailabilityRepository) ReplaceBlocks(ctx context.Context, exec sqlx.ExtContext, userID, programID string, blockIDs []string) error {
	target := r.exec(exec)
	const clear = "DELETE FROM teacher_availability ta USING time_blocks tb WHERE tb.id = ta.time_block_id AND ta.user_id = $1 AND tb.program_id = $2"
	if _, err := target.ExecContext(ctx, clear, userID, programID); err != nil {
		return fmt.Errorf("clear teacher availability: %w", err)
	}
	if len(blockIDs) == 0 {
		return nil
	}
	const insert = "INSERT INTO teacher_availability (user_id, time_block_id) SELECT $1, unnest($2::text[]) ON CONFLICT DO NOTHING"
	if _, err := target.ExecContext(ctx, insert, userID, pq.Array(blockIDs)); err != nil {
		return fmt.Errorf("insert teacher availability: %w", err)
	}
	return nil
}

// ListAvailableBlocks returns blocks the teacher marked available.
func (r *AvailabilityRepository) ListAvailableBlocks(ctx context.Context, userID, programID string) ([]models.TimeBlock, error) {
	query := "SELECT " + timeBlockColumns + " FROM time_blocks tb JOIN teacher_availability ta ON ta.time_block_id = tb.id WHERE ta.user_id = $1 AND tb.program_id = $2 ORDER BY tb.start_at ASC, tb.id ASC"
	var blocks []models.TimeBlock
	if err := r.db.SelectContext(ctx, &blocks, query, userID, programID); err != nil {
		return nil, fmt.Errorf("list teacher availability: %w", err)
	}
	return blocks, nil
}

// ListTeachingSlots returns the blocks at which the teacher meets a
// non-cancelled section in the program. A non-empty blockIDs narrows the
// result to those blocks.
func (r *AvailabilityRepository) ListTeachingSlots(ctx context.Context, userID, programID string, blockIDs []string, at time.Time) ([]models.TeachingSlot, error) {
	query := `SELECT s.id AS section_id, sub.code AS subject_code, s.section_index, tb.id AS time_block_id, tb.start_at AS block_start, tb.end_at AS block_end FROM permissions p JOIN subjects sub ON sub.anchor = p.anchor JOIN sections s ON s.subject_id = sub.id JOIN section_meetings m ON m.section_id = s.id JOIN time_blocks tb ON tb.id = m.time_block_id WHERE p.user_id = $1 AND p.verb = $2 AND sub.program_id = $3 AND p.start_date <= $4 AND p.end_date >= $4 AND s.status >= 0`
	args := []interface{}{userID, models.VerbTeacher, programID, at}
	if len(blockIDs) > 0 {
		query += " AND tb.id = ANY($5)"
		args = append(args, pq.Array(blockIDs))
	}
	query += " ORDER BY tb.start_at ASC, s.id ASC"
	var slots []models.TeachingSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list teaching slots: %w", err)
	}
	return slots, nil
}
