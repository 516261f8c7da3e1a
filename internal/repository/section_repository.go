package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-scheduling-api/internal/models"
)

const sectionColumns = "s.id, s.subject_id, s.program_id, s.anchor, s.section_index, s.status, s.registration_status, s.duration, s.max_capacity, s.created_at, s.updated_at"

// SectionRepository manages class sections.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs a SectionRepository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

func (r *SectionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID fetches a section.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.Section, error) {
	query := "SELECT " + sectionColumns + " FROM sections s WHERE s.id = $1"
	var section models.Section
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// ListBySubject returns a subject's sections ordered by index.
func (r *SectionRepository) ListBySubject(ctx context.Context, subjectID string) ([]models.Section, error) {
	query := "SELECT " + sectionColumns + " FROM sections s WHERE s.subject_id = $1 ORDER BY s.section_index ASC"
	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, query, subjectID); err != nil {
		return nil, fmt.Errorf("list sections by subject: %w", err)
	}
	return sections, nil
}

// ListBySubjects returns the sections of several subjects.
func (r *SectionRepository) ListBySubjects(ctx context.Context, subjectIDs []string) ([]models.Section, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	query := "SELECT " + sectionColumns + " FROM sections s WHERE s.subject_id = ANY($1) ORDER BY s.subject_id ASC, s.section_index ASC"
	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, query, pq.Array(subjectIDs)); err != nil {
		return nil, fmt.Errorf("list sections by subjects: %w", err)
	}
	return sections, nil
}

// UpdateStatus sets a section's review status.
func (r *SectionRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.ClassStatus) error {
	const query = "UPDATE sections SET status = $1, updated_at = $2 WHERE id = $3"
	res, err := r.exec(exec).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update section status: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("update section status: section %s not found", id)
	}
	return nil
}

// UpdateStatusWhere moves a subject's sections from one status to another
// and returns how many changed. A nil from matches every section.
func (r *SectionRepository) UpdateStatusWhere(ctx context.Context, exec sqlx.ExtContext, subjectID string, from *models.ClassStatus, to models.ClassStatus) (int64, error) {
	query := "UPDATE sections SET status = $1, updated_at = $2 WHERE subject_id = $3"
	args := []interface{}{to, time.Now().UTC(), subjectID}
	if from != nil {
		query += " AND status = $4"
		args = append(args, *from)
	}
	res, err := r.exec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cascade section status: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes a section row. Meetings, requests and assignments cascade.
func (r *SectionRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	if _, err := r.exec(exec).ExecContext(ctx, "DELETE FROM sections WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete section: %w", err)
	}
	return nil
}
