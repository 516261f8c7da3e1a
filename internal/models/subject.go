package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// Subject is a course offering split into one or more sections.
type Subject struct {
	ID                 string         `db:"id" json:"id"`
	ProgramID          string         `db:"program_id" json:"program_id"`
	Anchor             string         `db:"anchor" json:"anchor"`
	Code               string         `db:"code" json:"code"`
	Title              string         `db:"title" json:"title"`
	CategoryID         string         `db:"category_id" json:"category_id"`
	CategorySymbol     string         `db:"category_symbol" json:"category_symbol"`
	GradeMin           int            `db:"grade_min" json:"grade_min"`
	GradeMax           int            `db:"grade_max" json:"grade_max"`
	ClassSizeMin       *int           `db:"class_size_min" json:"class_size_min,omitempty"`
	ClassSizeOptimal   *int           `db:"class_size_optimal" json:"class_size_optimal,omitempty"`
	ClassSizeMax       *int           `db:"class_size_max" json:"class_size_max,omitempty"`
	AllowLateness      bool           `db:"allow_lateness" json:"allow_lateness"`
	Status             ClassStatus    `db:"status" json:"status"`
	BlockedStudentType pq.StringArray `db:"blocked_student_types" json:"blocked_student_types,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// IsAccepted reports whether the subject was accepted.
func (s Subject) IsAccepted() bool { return s.Status > 0 }

// EmailCode returns the catalog code, e.g. M101.
func (s Subject) EmailCode() string {
	if s.Code != "" {
		return s.Code
	}
	return s.CategorySymbol + s.ID
}

// ClassSizeRange is an allowable class size band a teacher may pick.
type ClassSizeRange struct {
	ID        string  `db:"id" json:"id"`
	ProgramID *string `db:"program_id" json:"program_id,omitempty"`
	RangeMin  int     `db:"range_min" json:"range_min"`
	RangeMax  int     `db:"range_max" json:"range_max"`
}

// Program is a registration event such as a term or a weekend.
type Program struct {
	ID            string    `db:"id" json:"id"`
	Anchor        string    `db:"anchor" json:"anchor"`
	Name          string    `db:"name" json:"name"`
	DirectorEmail string    `db:"director_email" json:"director_email"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// MailingListName returns the program-wide student list, built from the last
// two anchor segments (Q/Programs/Splash/2026 gives Splash_2026-students).
func (p Program) MailingListName() string {
	parts := strings.Split(strings.Trim(p.Anchor, "/"), "/")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return strings.Join(parts, "_") + "-students"
}
