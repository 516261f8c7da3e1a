package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-scheduling-api/internal/models"
)

// ConstraintRepository reads programwide schedule constraints.
type ConstraintRepository struct {
	db *sqlx.DB
}

// NewConstraintRepository constructs a ConstraintRepository.
func NewConstraintRepository(db *sqlx.DB) *ConstraintRepository {
	return &ConstraintRepository{db: db}
}

// ListByProgram returns a program's constraints.
func (r *ConstraintRepository) ListByProgram(ctx context.Context, programID string) ([]models.ScheduleConstraint, error) {
	const query = "SELECT id, program_id, requirement_label, condition, requirement FROM schedule_constraints WHERE program_id = $1 ORDER BY id ASC"
	var constraints []models.ScheduleConstraint
	if err := r.db.SelectContext(ctx, &constraints, query, programID); err != nil {
		return nil, fmt.Errorf("list schedule constraints: %w", err)
	}
	return constraints, nil
}
