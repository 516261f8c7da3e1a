package models

import (
	"time"

	"github.com/lib/pq"
)

// ResourceKind distinguishes rooms from floating resources.
type ResourceKind string

const (
	ResourceClassroom ResourceKind = "Classroom"
	ResourceFloating  ResourceKind = "Floating"
)

// Resource is one assignable instance of a room or floating resource at a
// single time block. Instances sharing a name are identical resources.
type Resource struct {
	ID          string         `db:"id" json:"id"`
	ProgramID   string         `db:"program_id" json:"program_id"`
	Name        string         `db:"name" json:"name"`
	Kind        ResourceKind   `db:"kind" json:"kind"`
	TimeBlockID string         `db:"time_block_id" json:"time_block_id"`
	Capacity    int            `db:"capacity" json:"capacity"`
	Features    pq.StringArray `db:"features" json:"features,omitempty"`
}

// HasFeature reports whether the resource provides feature.
func (r Resource) HasFeature(feature string) bool {
	for _, f := range r.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// ResourceRequest is a section's request for a room feature or floating resource.
type ResourceRequest struct {
	ID           string `db:"id" json:"id"`
	SectionID    string `db:"section_id" json:"section_id"`
	ResourceType string `db:"resource_type" json:"resource_type"`
}

// ResourceAssignment claims a resource instance for a section.
type ResourceAssignment struct {
	ID         string    `db:"id" json:"id"`
	ResourceID string    `db:"resource_id" json:"resource_id"`
	SectionID  string    `db:"section_id" json:"section_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Occupancy names the section holding a resource instance.
type Occupancy struct {
	ResourceID  string    `db:"resource_id" json:"resource_id"`
	SectionID   string    `db:"section_id" json:"section_id"`
	SubjectCode string    `db:"subject_code" json:"subject_code"`
	Index       int       `db:"section_index" json:"section_index"`
	BlockStart  time.Time `db:"block_start" json:"block_start"`
	BlockEnd    time.Time `db:"block_end" json:"block_end"`
}

// SatisfiesRequests checks a room against a section's requests and the
// capacity it needs. It returns the requests left unmet, which may include
// requests served by floating resources already assigned.
func SatisfiesRequests(room Resource, needed int, requests []ResourceRequest, floating []Resource) (bool, []ResourceRequest) {
	var unmet []ResourceRequest
	for _, req := range requests {
		if room.HasFeature(req.ResourceType) {
			continue
		}
		served := false
		for _, f := range floating {
			if f.Name == req.ResourceType || f.HasFeature(req.ResourceType) {
				served = true
				break
			}
		}
		if !served {
			unmet = append(unmet, req)
		}
	}
	return len(unmet) == 0 && room.Capacity >= needed, unmet
}
