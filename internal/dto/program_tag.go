package dto

// ProgramTagItem is a program tag exposed via API.
type ProgramTagItem struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// UpdateProgramTagRequest sets one tag.
type UpdateProgramTagRequest struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value" validate:"required"`
}

// BulkUpdateProgramTagRequest holds multiple tag updates.
type BulkUpdateProgramTagRequest struct {
	Items []UpdateProgramTagRequest `json:"items" validate:"required,min=1,dive"`
}
