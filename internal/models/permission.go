package models

import "time"

// Permission verbs stored in the claim store.
const (
	VerbTeacher       = "V/Flags/Registration/Teacher"
	VerbAdminister    = "V/Administer"
	VerbGradeOverride = "V/Flags/Registration/GradeOverride"
	VerbFullProgram   = "V/Flags/Registration/FullProgram"
)

// Permission grants verb on anchor to a user for a validity window.
type Permission struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Anchor    string    `db:"anchor" json:"anchor"`
	Verb      string    `db:"verb" json:"verb"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
}

// NotExpired reports whether the permission holds at t.
func (p Permission) NotExpired(t time.Time) bool {
	return !p.StartDate.After(t) && !p.EndDate.Before(t)
}

// Teacher is a user teaching at least one class.
type Teacher struct {
	ID    string `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
}

// TeachingSlot is a block at which a teacher already teaches a section.
type TeachingSlot struct {
	SectionID   string    `db:"section_id" json:"section_id"`
	SubjectCode string    `db:"subject_code" json:"subject_code"`
	Index       int       `db:"section_index" json:"section_index"`
	TimeBlockID string    `db:"time_block_id" json:"time_block_id"`
	BlockStart  time.Time `db:"block_start" json:"block_start"`
	BlockEnd    time.Time `db:"block_end" json:"block_end"`
}
