package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ClassStatus is the review state shared by subjects and sections.
type ClassStatus int

const (
	StatusUnreviewed ClassStatus = 0
	StatusAccepted   ClassStatus = 10
	StatusRejected   ClassStatus = -10
	StatusCancelled  ClassStatus = -20
)

// RegistrationStatus controls whether students may join a section.
type RegistrationStatus int

const (
	RegistrationOpen   RegistrationStatus = 0
	RegistrationClosed RegistrationStatus = 10
)

// SchedulingStatus is the derived progress of a section through scheduling.
type SchedulingStatus string

const (
	SchedulingNeedsTime      SchedulingStatus = "Needs time"
	SchedulingNeedsRoom      SchedulingStatus = "Needs room"
	SchedulingNeedsResources SchedulingStatus = "Needs resources"
	SchedulingHappy          SchedulingStatus = "Happy"
)

// DurationTolerance is how far short of its duration a section may fall and
// still count as long enough.
const DurationTolerance = 15 * time.Minute

var defaultDuration = decimal.NewFromInt(1)

// Section is one schedulable instance of a subject.
type Section struct {
	ID                 string              `db:"id" json:"id"`
	SubjectID          string              `db:"subject_id" json:"subject_id"`
	ProgramID          string              `db:"program_id" json:"program_id"`
	Anchor             string              `db:"anchor" json:"anchor"`
	Index              int                 `db:"section_index" json:"index"`
	Status             ClassStatus         `db:"status" json:"status"`
	RegistrationStatus RegistrationStatus  `db:"registration_status" json:"registration_status"`
	Duration           decimal.NullDecimal `db:"duration" json:"duration"`
	MaxCapacity        *int                `db:"max_capacity" json:"max_capacity,omitempty"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updated_at"`
}

// IsAccepted reports whether the section was accepted.
func (s Section) IsAccepted() bool { return s.Status == StatusAccepted }

// IsRegOpen reports whether registration is open.
func (s Section) IsRegOpen() bool { return s.RegistrationStatus == RegistrationOpen }

// DurationHours returns the section duration, defaulting to one hour when unset.
func (s Section) DurationHours() decimal.Decimal {
	if !s.Duration.Valid || s.Duration.Decimal.IsZero() {
		return defaultDuration
	}
	return s.Duration.Decimal
}

// SufficientLength reports whether blocks cover the section duration within
// DurationTolerance.
func (s Section) SufficientLength(blocks []TimeBlock) bool {
	covered := decimal.NewFromFloat((TotalLength(blocks) + DurationTolerance).Seconds())
	needed := s.DurationHours().Mul(decimal.NewFromInt(3600))
	return covered.GreaterThanOrEqual(needed)
}

// EmailCode returns the short code used in mail subjects and list names.
func (s Section) EmailCode(subject Subject) string {
	return fmt.Sprintf("%ss%d", subject.EmailCode(), s.Index)
}
