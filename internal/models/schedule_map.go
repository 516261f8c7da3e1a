package models

import "sort"

// ScheduledSection is a section placed on a student's schedule.
type ScheduledSection struct {
	SectionID string `json:"section_id"`
	SubjectID string `json:"subject_id"`
}

// ScheduleMap projects a student's active registrations onto time blocks. It
// is built per request and never stored.
type ScheduleMap struct {
	StudentID string
	ProgramID string
	slots     map[string][]ScheduledSection
	sections  map[string]ScheduledSection
}

// NewScheduleMap returns an empty map for a student.
func NewScheduleMap(studentID, programID string) *ScheduleMap {
	return &ScheduleMap{
		StudentID: studentID,
		ProgramID: programID,
		slots:     make(map[string][]ScheduledSection),
		sections:  make(map[string]ScheduledSection),
	}
}

// AddSection places a section at every one of its blocks. A section without
// blocks is still on the schedule.
func (m *ScheduleMap) AddSection(sectionID, subjectID string, blockIDs []string) {
	entry := ScheduledSection{SectionID: sectionID, SubjectID: subjectID}
	m.sections[sectionID] = entry
	for _, id := range blockIDs {
		if m.holds(id, sectionID) {
			continue
		}
		m.slots[id] = append(m.slots[id], entry)
	}
}

func (m *ScheduleMap) holds(blockID, sectionID string) bool {
	for _, s := range m.slots[blockID] {
		if s.SectionID == sectionID {
			return true
		}
	}
	return false
}

// At returns the sections occupying a block.
func (m *ScheduleMap) At(blockID string) []ScheduledSection {
	return m.slots[blockID]
}

// Occupied reports whether any section sits at the block.
func (m *ScheduleMap) Occupied(blockID string) bool {
	return len(m.slots[blockID]) > 0
}

// HasSection reports whether the section appears anywhere on the schedule.
func (m *ScheduleMap) HasSection(sectionID string) bool {
	_, ok := m.sections[sectionID]
	return ok
}

// HasSubject reports whether any section of the subject is on the schedule.
func (m *ScheduleMap) HasSubject(subjectID string) bool {
	for _, s := range m.sections {
		if s.SubjectID == subjectID {
			return true
		}
	}
	return false
}

// BlockIDs lists occupied blocks in lexical order.
func (m *ScheduleMap) BlockIDs() []string {
	ids := make([]string, 0, len(m.slots))
	for id, secs := range m.slots {
		if len(secs) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
