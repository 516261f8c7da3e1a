package models

import "github.com/lib/pq"

// Student is the registration-relevant view of a user.
type Student struct {
	ID           string         `db:"id" json:"id"`
	Name         string         `db:"name" json:"name"`
	Email        string         `db:"email" json:"email"`
	Grade        int            `db:"grade" json:"grade"`
	IsStudent    bool           `db:"is_student" json:"is_student"`
	StudentTypes pq.StringArray `db:"student_types" json:"student_types,omitempty"`
}

// HasAnyType reports whether the student carries one of types.
func (s Student) HasAnyType(types []string) bool {
	for _, want := range types {
		for _, have := range s.StudentTypes {
			if want == have {
				return true
			}
		}
	}
	return false
}

// RosterEntry is one line of a section roster.
type RosterEntry struct {
	StudentID    string `db:"student_id" json:"student_id"`
	Name         string `db:"name" json:"name"`
	Email        string `db:"email" json:"email"`
	Grade        int    `db:"grade" json:"grade"`
	Relationship string `db:"relationship" json:"relationship"`
}
