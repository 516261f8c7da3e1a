package dto

// TeacherRequest names the user to add as a teacher.
type TeacherRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// TeacherChangeResponse reports whether a teacher was added or removed.
type TeacherChangeResponse struct {
	Changed bool   `json:"changed"`
	UserID  string `json:"userId"`
}

// AvailabilityRequest replaces a teacher's available time blocks.
type AvailabilityRequest struct {
	TimeBlockIDs []string `json:"timeBlockIds"`
}
