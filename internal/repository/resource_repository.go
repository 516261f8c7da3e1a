package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-scheduling-api/internal/models"
)

const resourceColumns = "r.id, r.program_id, r.name, r.kind, r.time_block_id, r.capacity, r.features"

// ResourceRepository reads rooms, floating resources and section requests.
type ResourceRepository struct {
	db *sqlx.DB
}

// NewResourceRepository constructs a ResourceRepository.
func NewResourceRepository(db *sqlx.DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

func (r *ResourceRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListFreeInstances returns instances of kind at any of blockIDs that are
// unclaimed or already held by sectionID.
func (r *ResourceRepository) ListFreeInstances(ctx context.Context, programID string, kind models.ResourceKind, blockIDs []string, sectionID string) ([]models.Resource, error) {
	if len(blockIDs) == 0 {
		return nil, nil
	}
	query := "SELECT " + resourceColumns + " FROM resources r LEFT JOIN resource_assignments ra ON ra.resource_id = r.id WHERE r.program_id = $1 AND r.kind = $2 AND r.time_block_id = ANY($3) AND (ra.id IS NULL OR ra.section_id = $4) ORDER BY r.name ASC, r.time_block_id ASC"
	var resources []models.Resource
	if err := r.db.SelectContext(ctx, &resources, query, programID, kind, pq.Array(blockIDs), sectionID); err != nil {
		return nil, fmt.Errorf("list free resource instances: %w", err)
	}
	return resources, nil
}

// ListInstances returns the instances of a named resource of kind at
// blockIDs, claimed or not.
func (r *ResourceRepository) ListInstances(ctx context.Context, programID, name string, kind models.ResourceKind, blockIDs []string) ([]models.Resource, error) {
	if len(blockIDs) == 0 {
		return nil, nil
	}
	query := "SELECT " + resourceColumns + " FROM resources r JOIN time_blocks tb ON tb.id = r.time_block_id WHERE r.program_id = $1 AND r.name = $2 AND r.kind = $3 AND r.time_block_id = ANY($4) ORDER BY tb.start_at ASC"
	var resources []models.Resource
	if err := r.db.SelectContext(ctx, &resources, query, programID, name, kind, pq.Array(blockIDs)); err != nil {
		return nil, fmt.Errorf("list resource instances: %w", err)
	}
	return resources, nil
}

// ListAssigned returns the resource instances a section holds. An empty kind
// returns every kind.
func (r *ResourceRepository) ListAssigned(ctx context.Context, sectionID string, kind models.ResourceKind) ([]models.Resource, error) {
	query := "SELECT " + resourceColumns + " FROM resources r JOIN resource_assignments ra ON ra.resource_id = r.id JOIN time_blocks tb ON tb.id = r.time_block_id WHERE ra.section_id = $1"
	args := []interface{}{sectionID}
	if kind != "" {
		query += " AND r.kind = $2"
		args = append(args, kind)
	}
	query += " ORDER BY tb.start_at ASC, r.name ASC"
	var resources []models.Resource
	if err := r.db.SelectContext(ctx, &resources, query, args...); err != nil {
		return nil, fmt.Errorf("list assigned resources: %w", err)
	}
	return resources, nil
}

// ListRequests returns a section's resource requests.
func (r *ResourceRepository) ListRequests(ctx context.Context, sectionID string) ([]models.ResourceRequest, error) {
	const query = "SELECT id, section_id, resource_type FROM resource_requests WHERE section_id = $1 ORDER BY resource_type ASC"
	var requests []models.ResourceRequest
	if err := r.db.SelectContext(ctx, &requests, query, sectionID); err != nil {
		return nil, fmt.Errorf("list resource requests: %w", err)
	}
	return requests, nil
}

// FindOccupant returns the section holding a resource instance.
func (r *ResourceRepository) FindOccupant(ctx context.Context, exec sqlx.ExtContext, resourceID string) (*models.Occupancy, error) {
	const query = `SELECT ra.resource_id, ra.section_id, sub.code AS subject_code, s.section_index, tb.start_at AS block_start, tb.end_at AS block_end FROM resource_assignments ra JOIN sections s ON s.id = ra.section_id JOIN subjects sub ON sub.id = s.subject_id JOIN resources r ON r.id = ra.resource_id JOIN time_blocks tb ON tb.id = r.time_block_id WHERE ra.resource_id = $1`
	var occ models.Occupancy
	if err := sqlx.GetContext(ctx, r.exec(exec), &occ, query, resourceID); err != nil {
		return nil, err
	}
	return &occ, nil
}

// DeleteRequests removes a section's resource requests.
func (r *ResourceRepository) DeleteRequests(ctx context.Context, exec sqlx.ExtContext, sectionID string) error {
	if _, err := r.exec(exec).ExecContext(ctx, "DELETE FROM resource_requests WHERE section_id = $1", sectionID); err != nil {
		return fmt.Errorf("delete resource requests: %w", err)
	}
	return nil
}
