package dto

// AssignRoomRequest asks for a room to be claimed at every meeting of a section.
type AssignRoomRequest struct {
	RoomName     string `json:"roomName" binding:"required"`
	Compromise   bool   `json:"compromise"`
	ClearOthers  bool   `json:"clearOthers"`
	AllowPartial bool   `json:"allowPartial"`
}

// StartTimeRequest moves a section to the blocks starting at TimeBlockID.
type StartTimeRequest struct {
	TimeBlockID string `json:"timeBlockId" binding:"required"`
	Force       bool   `json:"force"`
}

// RegistrationRequest registers a student in a section or subject.
type RegistrationRequest struct {
	StudentID    string `json:"studentId" binding:"required"`
	OverrideFull bool   `json:"overrideFull"`
	FastForce    bool   `json:"fastForce"`
	Priority     int    `json:"priority"`
}

// EligibilityResponse answers whether a student may register.
type EligibilityResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CancelRequest carries the message sent to students of a cancelled class.
type CancelRequest struct {
	Explanation   string `json:"explanation"`
	EmailStudents bool   `json:"emailStudents"`
}

// StatusChangeResponse reports whether a status transition changed anything.
type StatusChangeResponse struct {
	Changed bool   `json:"changed"`
	Status  string `json:"status"`
}

// DeleteResponse reports whether a delete went through.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// HistoryResponse counts a student's registrations with a section, ended ones included.
type HistoryResponse struct {
	StudentID string `json:"studentId"`
	SectionID string `json:"sectionId"`
	Count     int    `json:"count"`
}

// RemovedResponse reports how many rows an operation removed.
type RemovedResponse struct {
	Removed int64 `json:"removed"`
}
