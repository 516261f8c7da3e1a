package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-scheduling-api/internal/models"
)

const timeBlockColumns = "tb.id, tb.program_id, tb.start_at, tb.end_at, tb.description"

// TimeBlockRepository reads program time blocks and section meeting times.
type TimeBlockRepository struct {
	db *sqlx.DB
}

// NewTimeBlockRepository constructs a TimeBlockRepository.
func NewTimeBlockRepository(db *sqlx.DB) *TimeBlockRepository {
	return &TimeBlockRepository{db: db}
}

func (r *TimeBlockRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListByProgram returns the program's block universe in chronological order.
func (r *TimeBlockRepository) ListByProgram(ctx context.Context, programID string) ([]models.TimeBlock, error) {
	query := "SELECT " + timeBlockColumns + " FROM time_blocks tb WHERE tb.program_id = $1 ORDER BY tb.start_at ASC, tb.id ASC"
	var blocks []models.TimeBlock
	if err := r.db.SelectContext(ctx, &blocks, query, programID); err != nil {
		return nil, fmt.Errorf("list program time blocks: %w", err)
	}
	return blocks, nil
}

// FindByID fetches a single block.
func (r *TimeBlockRepository) FindByID(ctx context.Context, id string) (*models.TimeBlock, error) {
	query := "SELECT " + timeBlockColumns + " FROM time_blocks tb WHERE tb.id = $1"
	var block models.TimeBlock
	if err := r.db.GetContext(ctx, &block, query, id); err != nil {
		return nil, err
	}
	return &block, nil
}

// ListBySection returns the section's meeting times in chronological order.
func (r *TimeBlockRepository) ListBySection(ctx context.Context, sectionID string) ([]models.TimeBlock, error) {
	query := "SELECT " + timeBlockColumns + " FROM time_blocks tb JOIN section_meetings m ON m.time_block_id = tb.id WHERE m.section_id = $1 ORDER BY tb.start_at ASC, tb.id ASC"
	var blocks []models.TimeBlock
	if err := r.db.SelectContext(ctx, &blocks, query, sectionID); err != nil {
		return nil, fmt.Errorf("list section meetings: %w", err)
	}
	return blocks, nil
}

type sectionBlock struct {
	SectionID string `db:"section_id"`
	models.TimeBlock
}

// ListBySections returns meeting times keyed by section ID.
func (r *TimeBlockRepository) ListBySections(ctx context.Context, sectionIDs []string) (map[string][]models.TimeBlock, error) {
	result := make(map[string][]models.TimeBlock, len(sectionIDs))
	if len(sectionIDs) == 0 {
		return result, nil
	}
	query := "SELECT m.section_id, " + timeBlockColumns + " FROM time_blocks tb JOIN section_meetings m ON m.time_block_id = tb.id WHERE m.section_id = ANY($1) ORDER BY tb.start_at ASC, tb.id ASC"
	var rows []sectionBlock
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(sectionIDs)); err != nil {
		return nil, fmt.Errorf("list meetings by sections: %w", err)
	}
	for _, row := range rows {
		result[row.SectionID] = append(result[row.SectionID], row.TimeBlock)
	}
	return result, nil
}

// ReplaceSectionMeetings sets the section's meeting times to blockIDs.
func (r *TimeBlockRepository) ReplaceSectionMeetings(ctx context.Context, exec sqlx.ExtContext, sectionID string, blockIDs []string) error {
	target := r.exec(exec)
	if _, err := target.ExecContext(ctx, "DELETE FROM section_meetings WHERE section_id = $1", sectionID); err != nil {
		return fmt.Errorf("clear section meetings: %w", err)
	}
	if len(blockIDs) == 0 {
		return nil
	}
	const query = "INSERT INTO section_meetings (section_id, time_block_id) SELECT $1, unnest($2::text[])"
	if _, err := target.ExecContext(ctx, query, sectionID, pq.Array(blockIDs)); err != nil {
		return fmt.Errorf("insert section meetings: %w", err)
	}
	return nil
}
