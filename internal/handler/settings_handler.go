package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-scheduling-api/internal/dto"
	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
	"github.com/noah-isme/course-scheduling-api/pkg/response"
)

type settingsService interface {
	List(ctx context.Context, programID string) ([]dto.ProgramTagItem, error)
	BulkUpdate(ctx context.Context, programID string, req dto.BulkUpdateProgramTagRequest, actorID string) ([]dto.ProgramTagItem, error)
	Update(ctx context.Context, programID string, req dto.UpdateProgramTagRequest, actorID string) (*dto.ProgramTagItem, error)
}

// SettingsHandler exposes per-program tags.
type SettingsHandler struct {
	service settingsService
}

// NewSettingsHandler builds a new handler.
func NewSettingsHandler(service settingsService) *SettingsHandler {
	return &SettingsHandler{service: service}
}

// List godoc
// @Summary List program settings
// @Tags Settings
// @Produce json
// @Param programID path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Router /programs/{programID}/settings [get]
func (h *SettingsHandler) List(c *gin.Context) {
	items, err := h.service.List(c.Request.Context(), c.Param("programID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// BulkUpdate godoc
// @Summary Update program settings
// @Tags Settings
// @Accept json
// @Produce json
// @Param programID path string true "Program ID"
// @Param payload body dto.BulkUpdateProgramTagRequest true "Settings payload"
// @Success 200 {object} response.Envelope
// @Router /programs/{programID}/settings [put]
func (h *SettingsHandler) BulkUpdate(c *gin.Context) {
	var req dto.BulkUpdateProgramTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid settings payload"))
		return
	}
	items, err := h.service.BulkUpdate(c.Request.Context(), c.Param("programID"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Update godoc
// @Summary Update one program setting
// @Tags Settings
// @Accept json
// @Produce json
// @Param programID path string true "Program ID"
// @Param key path string true "Setting key"
// @Param payload body dto.UpdateProgramTagRequest true "Setting value"
// @Success 200 {object} response.Envelope
// @Router /programs/{programID}/settings/{key} [put]
func (h *SettingsHandler) Update(c *gin.Context) {
	var req dto.UpdateProgramTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid setting payload"))
		return
	}
	req.Key = c.Param("key")
	item, err := h.service.Update(c.Request.Context(), c.Param("programID"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}
