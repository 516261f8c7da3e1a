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

// PermissionRepository is the claim store of (user, anchor, verb, window)
// grants.
type PermissionRepository struct {
	db *sqlx.DB
}

// NewPermissionRepository constructs a PermissionRepository.
func NewPermissionRepository(db *sqlx.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

func (r *PermissionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListUserIDs returns users holding verb on anchor at.
func (r *PermissionRepository) ListUserIDs(ctx context.Context, anchor, verb string, at time.Time) ([]string, error) {
	const query = "SELECT DISTINCT user_id FROM permissions WHERE anchor = $1 AND verb = $2 AND start_date <= $3 AND end_date >= $3 ORDER BY user_id ASC"
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, anchor, verb, at); err != nil {
		return nil, fmt.Errorf("list permission holders: %w", err)
	}
	return ids, nil
}

// ListUsers returns the users holding verb on anchor at.
func (r *PermissionRepository) ListUsers(ctx context.Context, anchor, verb string, at time.Time) ([]models.Teacher, error) {
	const query = "SELECT DISTINCT u.id, u.name, u.email FROM permissions p JOIN users u ON u.id = p.user_id WHERE p.anchor = $1 AND p.verb = $2 AND p.start_date <= $3 AND p.end_date >= $3 ORDER BY u.id ASC"
	var users []models.Teacher
	if err := r.db.SelectContext(ctx, &users, query, anchor, verb, at); err != nil {
		return nil, fmt.Errorf("list permission users: %w", err)
	}
	return users, nil
}

// HasPermission reports whether the user holds verb on any of anchors at.
func (r *PermissionRepository) HasPermission(ctx context.Context, userID, verb string, anchors []string, at time.Time) (bool, error) {
	if len(anchors) == 0 {
		return false, nil
	}
	const query = "SELECT EXISTS (SELECT 1 FROM permissions WHERE user_id = $1 AND verb = $2 AND anchor = ANY($3) AND start_date <= $4 AND end_date >= $4)"
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, userID, verb, pq.Array(anchors), at); err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	return ok, nil
}

// ListTeachersBySubjects returns the teachers of each subject at.
func (r *PermissionRepository) ListTeachersBySubjects(ctx context.Context, subjectIDs []string, at time.Time) ([]models.SubjectTeacher, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	const query = "SELECT DISTINCT sub.id AS subject_id, p.user_id FROM subjects sub JOIN permissions p ON p.anchor = sub.anchor WHERE sub.id = ANY($1) AND p.verb = $2 AND p.start_date <= $3 AND p.end_date >= $3 ORDER BY sub.id ASC, p.user_id ASC"
	var rows []models.SubjectTeacher
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(subjectIDs), models.VerbTeacher, at); err != nil {
		return nil, fmt.Errorf("list subject teachers: %w", err)
	}
	return rows, nil
}

// Grant records a new permission.
func (r *PermissionRepository) Grant(ctx context.Context, exec sqlx.ExtContext, perm *models.Permission) error {
	if perm.ID == "" {
		perm.ID = uuid.NewString()
	}
	const query = `INSERT INTO permissions (id, user_id, anchor, verb, start_date, end_date) VALUES (:id, :user_id, :anchor, :verb, :start_date, :end_date)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, perm); err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	return nil
}

// Revoke closes the user's verb on exactly anchor, returning how many
// permissions were still valid at at.
func (r *PermissionRepository) Revoke(ctx context.Context, exec sqlx.ExtContext, userID, anchor, verb string, at time.Time) (int64, error) {
	const query = "UPDATE permissions SET end_date = $1 WHERE user_id = $2 AND anchor = $3 AND verb = $4 AND end_date >= $1"
	res, err := r.exec(exec).ExecContext(ctx, query, at, userID, anchor, verb)
	if err != nil {
		return 0, fmt.Errorf("revoke permission: %w", err)
	}
	return res.RowsAffected()
}

// ExpireUnder closes every permission on anchor or below it that is still
// valid at at.
func (r *PermissionRepository) ExpireUnder(ctx context.Context, exec sqlx.ExtContext, anchor string, at time.Time) (int64, error) {
	const query = "UPDATE permissions SET end_date = $1 WHERE (anchor = $2 OR anchor LIKE $2 || '/%') AND end_date >= $1"
	res, err := r.exec(exec).ExecContext(ctx, query, at, anchor)
	if err != nil {
		return 0, fmt.Errorf("expire permissions: %w", err)
	}
	return res.RowsAffected()
}
