package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-scheduling-api/internal/models"
)

// RegistrationRepository stores student registrations as an append-only log
// of validity intervals. The only update ever issued closes an interval.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

func (r *RegistrationRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create appends a registration.
func (r *RegistrationRepository) Create(ctx context.Context, exec sqlx.ExtContext, reg *models.Registration) error {
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	if reg.EndDate.IsZero() {
		reg.EndDate = models.OpenEnded
	}
	const query = `INSERT INTO registrations (id, student_id, section_id, relationship, start_date, end_date) VALUES (:id, :student_id, :section_id, :relationship, :start_date, :end_date)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, reg); err != nil {
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

// ExistsActive reports whether the student holds relationship with the
// section at.
func (r *RegistrationRepository) ExistsActive(ctx context.Context, exec sqlx.ExtContext, studentID, sectionID, relationship string, at time.Time) (bool, error) {
	const query = "SELECT EXISTS (SELECT 1 FROM registrations WHERE student_id = $1 AND section_id = $2 AND relationship = $3 AND start_date <= $4 AND end_date >= $4)"
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, studentID, sectionID, relationship, at); err != nil {
		return false, fmt.Errorf("check active registration: %w", err)
	}
	return exists, nil
}

// EndActive closes the student's registrations with the section that are
// still open at at, including ones that have not started yet. An empty
// relationship closes every verb.
func (r *RegistrationRepository) EndActive(ctx context.Context, exec sqlx.ExtContext, studentID, sectionID, relationship string, at time.Time) (int64, error) {
	query := "UPDATE registrations SET end_date = $1 WHERE student_id = $2 AND section_id = $3 AND end_date >= $1"
	args := []interface{}{at, studentID, sectionID}
	if relationship != "" {
		query += " AND relationship = $4"
		args = append(args, relationship)
	}
	res, err := r.exec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("end registrations: %w", err)
	}
	return res.RowsAffected()
}

// EndActiveBySection closes every registration with the section that is
// still open at at.
func (r *RegistrationRepository) EndActiveBySection(ctx context.Context, exec sqlx.ExtContext, sectionID string, at time.Time) (int64, error) {
	const query = "UPDATE registrations SET end_date = $1 WHERE section_id = $2 AND end_date >= $1"
	res, err := r.exec(exec).ExecContext(ctx, query, at, sectionID)
	if err != nil {
		return 0, fmt.Errorf("end section registrations: %w", err)
	}
	return res.RowsAffected()
}

type sectionCount struct {
	SectionID string `db:"section_id"`
	Count     int    `db:"count"`
}

// CountActiveBySections counts distinct students holding any of verbs with
// each section at at.
func (r *RegistrationRepository) CountActiveBySections(ctx context.Context, sectionIDs, verbs []string, at time.Time) (map[string]int, error) {
	counts := make(map[string]int, len(sectionIDs))
	if len(sectionIDs) == 0 {
		return counts, nil
	}
	const query = "SELECT section_id, COUNT(DISTINCT student_id) AS count FROM registrations WHERE section_id = ANY($1) AND relationship = ANY($2) AND start_date <= $3 AND end_date >= $3 GROUP BY section_id"
	var rows []sectionCount
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(sectionIDs), pq.Array(verbs), at); err != nil {
		return nil, fmt.Errorf("count section registrations: %w", err)
	}
	for _, row := range rows {
		counts[row.SectionID] = row.Count
	}
	return counts, nil
}

// CountActiveBySubjects counts distinct active students per subject.
func (r *RegistrationRepository) CountActiveBySubjects(ctx context.Context, subjectIDs, verbs []string, at time.Time) ([]models.SubjectCount, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	const query = "SELECT s.subject_id, COUNT(DISTINCT reg.student_id) AS count FROM registrations reg JOIN sections s ON s.id = reg.section_id WHERE s.subject_id = ANY($1) AND reg.relationship = ANY($2) AND reg.start_date <= $3 AND reg.end_date >= $3 GROUP BY s.subject_id"
	var rows []models.SubjectCount
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(subjectIDs), pq.Array(verbs), at); err != nil {
		return nil, fmt.Errorf("count subject registrations: %w", err)
	}
	return rows, nil
}

// ListActiveByStudent returns the student's active registrations in a
// program, joined with each section's subject.
func (r *RegistrationRepository) ListActiveByStudent(ctx context.Context, studentID, programID string, verbs []string, at time.Time) ([]models.SectionRegistration, error) {
	const query = "SELECT reg.id, reg.student_id, reg.section_id, reg.relationship, reg.start_date, reg.end_date, s.subject_id FROM registrations reg JOIN sections s ON s.id = reg.section_id WHERE reg.student_id = $1 AND s.program_id = $2 AND reg.relationship = ANY($3) AND reg.start_date <= $4 AND reg.end_date >= $4 ORDER BY reg.start_date ASC"
	var regs []models.SectionRegistration
	if err := r.db.SelectContext(ctx, &regs, query, studentID, programID, pq.Array(verbs), at); err != nil {
		return nil, fmt.Errorf("list student registrations: %w", err)
	}
	return regs, nil
}

// ListRoster returns students actively registered with the section.
func (r *RegistrationRepository) ListRoster(ctx context.Context, sectionID string, verbs []string, at time.Time) ([]models.RosterEntry, error) {
	const query = "SELECT u.id AS student_id, u.name, u.email, u.grade, reg.relationship FROM registrations reg JOIN users u ON u.id = reg.student_id WHERE reg.section_id = $1 AND reg.relationship = ANY($2) AND reg.start_date <= $3 AND reg.end_date >= $3 ORDER BY u.name ASC, u.id ASC"
	var roster []models.RosterEntry
	if err := r.db.SelectContext(ctx, &roster, query, sectionID, pq.Array(verbs), at); err != nil {
		return nil, fmt.Errorf("list section roster: %w", err)
	}
	return roster, nil
}

// CountHistory counts every registration row, open or closed, between a
// student and a section.
func (r *RegistrationRepository) CountHistory(ctx context.Context, studentID, sectionID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM registrations WHERE student_id = $1 AND section_id = $2", studentID, sectionID); err != nil {
		return 0, fmt.Errorf("count registration history: %w", err)
	}
	return count, nil
}

// CountProgramStudents counts distinct students with an active registration
// in the program.
func (r *RegistrationRepository) CountProgramStudents(ctx context.Context, programID string, verbs []string, at time.Time) (int, error) {
	const query = "SELECT COUNT(DISTINCT reg.student_id) FROM registrations reg JOIN sections s ON s.id = reg.section_id WHERE s.program_id = $1 AND reg.relationship = ANY($2) AND reg.start_date <= $3 AND reg.end_date >= $3"
	var count int
	if err := r.db.GetContext(ctx, &count, query, programID, pq.Array(verbs), at); err != nil {
		return 0, fmt.Errorf("count program students: %w", err)
	}
	return count, nil
}

// LockStudent takes a transaction-scoped advisory lock on the student so
// concurrent registrations for the same student serialise.
func (r *RegistrationRepository) LockStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) error {
	if _, err := r.exec(exec).ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", studentID); err != nil {
		return fmt.Errorf("lock student registrations: %w", err)
	}
	return nil
}
