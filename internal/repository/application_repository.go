package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ApplicationRepository tracks student applications to a program.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs an ApplicationRepository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// MarkIncomplete creates the student's application if missing and flags it
// as not done.
func (r *ApplicationRepository) MarkIncomplete(ctx context.Context, studentID, programID string) error {
	const query = "INSERT INTO student_applications (id, student_id, program_id, done) VALUES ($1, $2, $3, FALSE) ON CONFLICT (student_id, program_id) DO UPDATE SET done = FALSE"
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), studentID, programID); err != nil {
		return fmt.Errorf("mark application incomplete: %w", err)
	}
	return nil
}

// DeleteBlankResponses removes the student's empty answers to a subject's
// application questions.
func (r *ApplicationRepository) DeleteBlankResponses(ctx context.Context, studentID, subjectID string) (int64, error) {
	const query = "DELETE FROM application_responses ar USING student_applications sa WHERE ar.application_id = sa.id AND sa.student_id = $1 AND ar.subject_id = $2 AND TRIM(ar.response) = ''"
	res, err := r.db.ExecContext(ctx, query, studentID, subjectID)
	if err != nil {
		return 0, fmt.Errorf("delete blank application responses: %w", err)
	}
	return res.RowsAffected()
}
