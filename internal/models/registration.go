package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	RelationshipEnrolled   = "Enrolled"
	RelationshipWaitlisted = "Waitlisted"
	RelationshipOnSite     = "OnSite/ChangedClasses"
	priorityPrefix         = "Priority/"
)

// OpenEnded is the end date of a registration that has not been closed.
var OpenEnded = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// PriorityRelationship returns the verb for a priority tier.
func PriorityRelationship(tier int) string {
	return fmt.Sprintf("%s%d", priorityPrefix, tier)
}

// PriorityTier extracts N from Priority/N.
func PriorityTier(relationship string) (int, bool) {
	if !strings.HasPrefix(relationship, priorityPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(relationship, priorityPrefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Registration is an immutable fact that a student held a relationship with a
// section during [StartDate, EndDate]. Dropping a class closes the interval.
type Registration struct {
	ID           string    `db:"id" json:"id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	SectionID    string    `db:"section_id" json:"section_id"`
	Relationship string    `db:"relationship" json:"relationship"`
	StartDate    time.Time `db:"start_date" json:"start_date"`
	EndDate      time.Time `db:"end_date" json:"end_date"`
}

// ActiveAt reports whether the registration is in force at t.
func (r Registration) ActiveAt(t time.Time) bool {
	return !r.StartDate.After(t) && !r.EndDate.Before(t)
}

// SectionRegistration is an active registration joined with its section's
// subject and meeting blocks, as used for conflict checks.
type SectionRegistration struct {
	Registration
	SubjectID    string   `db:"subject_id" json:"subject_id"`
	TimeBlockIDs []string `db:"-" json:"time_block_ids"`
}
