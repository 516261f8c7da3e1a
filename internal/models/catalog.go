package models

import "time"

// CatalogFilter selects catalog entries.
type CatalogFilter struct {
	ProgramID   string `json:"program_id"`
	TimeBlockID string `json:"time_block_id,omitempty"`
	ForceAll    bool   `json:"force_all"`
}

// CatalogSection summarises one section inside a catalog entry.
type CatalogSection struct {
	ID                 string             `json:"id"`
	Index              int                `json:"index"`
	Status             ClassStatus        `json:"status"`
	RegistrationStatus RegistrationStatus `json:"registration_status"`
	TimeBlockIDs       []string           `json:"time_block_ids"`
	FirstStart         *time.Time         `json:"first_start,omitempty"`
	Capacity           int                `json:"capacity"`
	NumStudents        int                `json:"num_students"`
	IsFull             bool               `json:"is_full"`
}

// CatalogEntry is a subject annotated for catalog display.
type CatalogEntry struct {
	Subject      Subject          `json:"subject"`
	Sections     []CatalogSection `json:"sections"`
	TeacherIDs   []string         `json:"teacher_ids"`
	NumStudents  int              `json:"num_students"`
	MediaCount   int              `json:"media_count"`
	IsNearlyFull bool             `json:"is_nearly_full"`
}

// FirstStart returns the earliest meeting start across the entry's sections.
func (e CatalogEntry) FirstStart() *time.Time {
	var first *time.Time
	for _, s := range e.Sections {
		if s.FirstStart != nil && (first == nil || s.FirstStart.Before(*first)) {
			first = s.FirstStart
		}
	}
	return first
}

// CatalogRow is the flat CSV export shape of a section.
type CatalogRow struct {
	SubjectCode string `csv:"code"`
	Section     string `csv:"section"`
	Title       string `csv:"title"`
	Category    string `csv:"category"`
	Grades      string `csv:"grades"`
	Status      int    `csv:"status"`
	Capacity    int    `csv:"capacity"`
	Enrolled    int    `csv:"enrolled"`
	Teachers    int    `csv:"teachers"`
	FirstStart  string `csv:"first_start"`
}

// SubjectCount aggregates a per-subject number, e.g. students or media.
type SubjectCount struct {
	SubjectID string `db:"subject_id" json:"subject_id"`
	Count     int    `db:"count" json:"count"`
}

// SubjectTeacher links a subject to one of its teachers.
type SubjectTeacher struct {
	SubjectID string `db:"subject_id" json:"subject_id"`
	UserID    string `db:"user_id" json:"user_id"`
}
