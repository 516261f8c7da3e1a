package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-scheduling-api/internal/models"
)

// AssignmentRepository claims and releases resource instances.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs an AssignmentRepository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (r *AssignmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Claim inserts the assignment unless the resource instance is already held.
// It reports false when another section holds the instance.
func (r *AssignmentRepository) Claim(ctx context.Context, exec sqlx.ExtContext, assignment *models.ResourceAssignment) (bool, error) {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO resource_assignments (id, resource_id, section_id, created_at) VALUES (:id, :resource_id, :section_id, :created_at) ON CONFLICT (resource_id) DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, assignment)
	if err != nil {
		return false, fmt.Errorf("claim resource: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim resource rows: %w", err)
	}
	return rows == 1, nil
}

// DeleteBySection releases a section's assignments of kind, or of every kind
// when kind is empty.
func (r *AssignmentRepository) DeleteBySection(ctx context.Context, exec sqlx.ExtContext, sectionID string, kind models.ResourceKind) (int64, error) {
	query := "DELETE FROM resource_assignments WHERE section_id = $1"
	args := []interface{}{sectionID}
	if kind != "" {
		query = "DELETE FROM resource_assignments ra USING resources r WHERE ra.resource_id = r.id AND ra.section_id = $1 AND r.kind = $2"
		args = append(args, kind)
	}
	res, err := r.exec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("release section resources: %w", err)
	}
	return res.RowsAffected()
}
