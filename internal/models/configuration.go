package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProgramTag is a per-program key/value tunable.
type ProgramTag struct {
	ProgramID string    `db:"program_id" json:"program_id"`
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedBy *string   `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Program tag keys.
const (
	TagClassCapMultiplier  = "class_cap_multiplier"
	TagClassCapOffset      = "class_cap_offset"
	TagUsePriority         = "use_priority"
	TagPriorityLimit       = "priority_limit"
	TagSignupVerb          = "signup_verb"
	TagNearlyFullThreshold = "nearly_full_threshold"
	TagCatalogSortFields   = "catalog_sort_fields"
	TagAllowedStudentTypes = "allowed_student_types"
	TagTemporarilyFullText = "temporarily_full_text"
	TagProgramSizeMax      = "program_size_max"
)

// ProgramSettings is the decoded set of program tags with defaults applied.
type ProgramSettings struct {
	ProgramID           string          `json:"program_id"`
	ClassCapMultiplier  decimal.Decimal `json:"class_cap_multiplier"`
	ClassCapOffset      decimal.Decimal `json:"class_cap_offset"`
	UsePriority         bool            `json:"use_priority"`
	PriorityLimit       int             `json:"priority_limit"`
	SignupVerb          string          `json:"signup_verb"`
	NearlyFullThreshold float64         `json:"nearly_full_threshold"`
	CatalogSortFields   []string        `json:"catalog_sort_fields"`
	AllowedStudentTypes []string        `json:"allowed_student_types,omitempty"`
	TemporarilyFullText string          `json:"temporarily_full_text"`
	ProgramSizeMax      int             `json:"program_size_max"`
}

// DefaultProgramSettings returns the settings used when a program sets no tags.
func DefaultProgramSettings(programID string) ProgramSettings {
	return ProgramSettings{
		ProgramID:           programID,
		ClassCapMultiplier:  decimal.NewFromInt(1),
		ClassCapOffset:      decimal.Zero,
		PriorityLimit:       1,
		SignupVerb:          RelationshipEnrolled,
		NearlyFullThreshold: 0.75,
		CatalogSortFields:   []string{"category", "start", "num_students", "id"},
		TemporarilyFullText: "Class temporarily full; please check back later.",
	}
}

// SignupVerbs returns the relationships counted as a student's selections.
func (s ProgramSettings) SignupVerbs() []string {
	if s.UsePriority {
		return []string{s.SignupVerb}
	}
	return []string{RelationshipEnrolled}
}
