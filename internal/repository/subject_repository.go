package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-scheduling-api/internal/models"
)

const subjectColumns = `sub.id, sub.program_id, sub.anchor, sub.code, sub.title, sub.category_id, COALESCE(cat.symbol, '?') AS category_symbol, sub.grade_min, sub.grade_max, sub.class_size_min, sub.class_size_optimal, sub.class_size_max, sub.allow_lateness, sub.status, sub.blocked_student_types, sub.created_at, sub.updated_at`

const subjectFrom = " FROM subjects sub LEFT JOIN class_categories cat ON cat.id = sub.category_id"

// SubjectRepository manages class subjects.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository constructs a SubjectRepository.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

func (r *SubjectRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID fetches a subject with its category symbol.
func (r *SubjectRepository) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	query := "SELECT " + subjectColumns + subjectFrom + " WHERE sub.id = $1"
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, err
	}
	return &subject, nil
}

// ListCatalog returns the program's subjects matching filter in ID order.
func (r *SubjectRepository) ListCatalog(ctx context.Context, filter models.CatalogFilter) ([]models.Subject, error) {
	query := "SELECT " + subjectColumns + subjectFrom + " WHERE sub.program_id = $1"
	args := []interface{}{filter.ProgramID}
	if !filter.ForceAll {
		query += " AND sub.status > 0"
	}
	if filter.TimeBlockID != "" {
		args = append(args, filter.TimeBlockID)
		query += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM sections s JOIN section_meetings m ON m.section_id = s.id WHERE s.subject_id = sub.id AND m.time_block_id = $%d)", len(args))
	}
	query += " ORDER BY sub.id ASC"

	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, args...); err != nil {
		return nil, fmt.Errorf("list catalog subjects: %w", err)
	}
	return subjects, nil
}

// ListSizeRanges returns the allowable size ranges chosen for a subject.
func (r *SubjectRepository) ListSizeRanges(ctx context.Context, subjectID string) ([]models.ClassSizeRange, error) {
	const query = "SELECT csr.id, csr.program_id, csr.range_min, csr.range_max FROM class_size_ranges csr JOIN subject_size_ranges ssr ON ssr.range_id = csr.id WHERE ssr.subject_id = $1 ORDER BY csr.range_max DESC"
	var ranges []models.ClassSizeRange
	if err := r.db.SelectContext(ctx, &ranges, query, subjectID); err != nil {
		return nil, fmt.Errorf("list subject size ranges: %w", err)
	}
	return ranges, nil
}

// UpdateStatus sets a subject's review status.
func (r *SubjectRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.ClassStatus) error {
	const query = "UPDATE subjects SET status = $1, updated_at = $2 WHERE id = $3"
	res, err := r.exec(exec).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update subject status: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("update subject status: subject %s not found", id)
	}
	return nil
}

// Delete removes a subject row.
func (r *SubjectRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	if _, err := r.exec(exec).ExecContext(ctx, "DELETE FROM subjects WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	return nil
}
