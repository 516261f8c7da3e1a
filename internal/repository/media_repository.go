package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-scheduling-api/internal/models"
)

// MediaRepository counts and removes documents attached to class anchors.
type MediaRepository struct {
	db *sqlx.DB
}

// NewMediaRepository constructs a MediaRepository.
func NewMediaRepository(db *sqlx.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

func (r *MediaRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// CountBySubjects counts media attached to each subject's anchor.
func (r *MediaRepository) CountBySubjects(ctx context.Context, subjectIDs []string) ([]models.SubjectCount, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	const query = "SELECT sub.id AS subject_id, COUNT(m.id) AS count FROM subjects sub JOIN media m ON m.anchor = sub.anchor WHERE sub.id = ANY($1) GROUP BY sub.id"
	var rows []models.SubjectCount
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(subjectIDs)); err != nil {
		return nil, fmt.Errorf("count subject media: %w", err)
	}
	return rows, nil
}

// DeleteByAnchor removes media attached to anchor or anywhere below it.
func (r *MediaRepository) DeleteByAnchor(ctx context.Context, exec sqlx.ExtContext, anchor string) error {
	if _, err := r.exec(exec).ExecContext(ctx, "DELETE FROM media WHERE anchor = $1 OR anchor LIKE $1 || '/%'", anchor); err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}
