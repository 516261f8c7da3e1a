package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-scheduling-api/internal/models"
)

const programTagUpsert = `INSERT INTO program_tags (program_id, key, value, updated_by, updated_at)
VALUES (:program_id, :key, :value, :updated_by, :updated_at)
ON CONFLICT (program_id, key)
DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`

// ProgramTagRepository persists per-program tunables.
type ProgramTagRepository struct {
	db *sqlx.DB
}

// NewProgramTagRepository constructs the repository.
func NewProgramTagRepository(db *sqlx.DB) *ProgramTagRepository {
	return &ProgramTagRepository{db: db}
}

// ListByProgram returns every tag of a program.
func (r *ProgramTagRepository) ListByProgram(ctx context.Context, programID string) ([]models.ProgramTag, error) {
	const query = "SELECT program_id, key, value, updated_by, updated_at FROM program_tags WHERE program_id = $1 ORDER BY key ASC"
	var tags []models.ProgramTag
	if err := r.db.SelectContext(ctx, &tags, query, programID); err != nil {
		return nil, fmt.Errorf("list program tags: %w", err)
	}
	return tags, nil
}

// ListByKeys returns a program's tags whose key is in keys.
func (r *ProgramTagRepository) ListByKeys(ctx context.Context, programID string, keys []string) ([]models.ProgramTag, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT program_id, key, value, updated_by, updated_at FROM program_tags WHERE program_id = $1 AND key IN (%s) ORDER BY key ASC", placeholders(2, len(keys)))
	args := make([]interface{}, 0, len(keys)+1)
	args = append(args, programID)
	for _, key := range keys {
		args = append(args, key)
	}
	var tags []models.ProgramTag
	if err := r.db.SelectContext(ctx, &tags, query, args...); err != nil {
		return nil, fmt.Errorf("list program tags by key: %w", err)
	}
	return tags, nil
}

// Get fetches a single tag.
func (r *ProgramTagRepository) Get(ctx context.Context, programID, key string) (*models.ProgramTag, error) {
	const query = "SELECT program_id, key, value, updated_by, updated_at FROM program_tags WHERE program_id = $1 AND key = $2"
	var tag models.ProgramTag
	if err := r.db.GetContext(ctx, &tag, query, programID, key); err != nil {
		return nil, err
	}
	return &tag, nil
}

// Upsert inserts or updates a tag.
func (r *ProgramTagRepository) Upsert(ctx context.Context, tag *models.ProgramTag) error {
	tag.UpdatedAt = time.Now().UTC()
	if _, err := r.db.NamedExecContext(ctx, programTagUpsert, tag); err != nil {
		return fmt.Errorf("upsert program tag: %w", err)
	}
	return nil
}

// BulkUpsert performs upserts within a transaction.
func (r *ProgramTagRepository) BulkUpsert(ctx context.Context, tags []models.ProgramTag) error {
	if len(tags) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk program tag tx: %w", err)
	}
	for i := range tags {
		tags[i].UpdatedAt = time.Now().UTC()
		if _, err := tx.NamedExecContext(ctx, programTagUpsert, tags[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bulk upsert program tag: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk program tag tx: %w", err)
	}
	return nil
}

// placeholders renders n positional parameters starting at $from.
func placeholders(from, n int) string {
	values := make([]string, n)
	for i := 0; i < n; i++ {
		values[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(values, ",")
}
