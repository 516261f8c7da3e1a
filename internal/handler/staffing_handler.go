package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-scheduling-api/internal/dto"
	"github.com/noah-isme/course-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
	"github.com/noah-isme/course-scheduling-api/pkg/response"
)

type staffingService interface {
	Teachers(ctx context.Context, subjectID string) ([]string, error)
	AddTeacher(ctx context.Context, subjectID, userID string) (bool, error)
	RemoveTeacher(ctx context.Context, subjectID, userID string) (bool, error)
	Availability(ctx context.Context, programID, userID string) ([]models.TimeBlock, error)
	SetAvailability(ctx context.Context, programID, userID string, blockIDs []string) ([]models.TimeBlock, error)
}

// StaffingHandler manages subject teachers and teacher availability.
type StaffingHandler struct {
	service staffingService
}

// NewStaffingHandler constructs a StaffingHandler.
func NewStaffingHandler(service staffingService) *StaffingHandler {
	return &StaffingHandler{service: service}
}

// Teachers godoc
// @Summary List the teachers of a subject
// @Tags Staffing
// @Produce json
// @Param id path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Router /subjects/{id}/teachers [get]
func (h *StaffingHandler) Teachers(c *gin.Context) {
	ids, err := h.service.Teachers(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ids, nil)
}

// AddTeacher godoc
// @Summary Make a user a teacher of a subject
// @Tags Staffing
// @Accept json
// @Produce json
// @Param id path string true "Subject ID"
// @Param payload body dto.TeacherRequest true "Teacher"
// @Success 200 {object} response.Envelope
// @Router /subjects/{id}/teachers [post]
func (h *StaffingHandler) AddTeacher(c *gin.Context) {
	var req dto.TeacherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid teacher payload"))
		return
	}
	added, err := h.service.AddTeacher(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.TeacherChangeResponse{Changed: added, UserID: req.UserID}, nil)
}

// RemoveTeacher godoc
// @Summary Stop a user teaching a subject
// @Tags Staffing
// @Produce json
// @Param id path string true "Subject ID"
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /subjects/{id}/teachers/{userId} [delete]
func (h *StaffingHandler) RemoveTeacher(c *gin.Context) {
	userID := c.Param("userId")
	removed, err := h.service.RemoveTeacher(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.TeacherChangeResponse{Changed: removed, UserID: userID}, nil)
}

// Availability godoc
// @Summary List the blocks a teacher is available in a program
// @Tags Staffing
// @Produce json
// @Param programID path string true "Program ID"
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /programs/{programID}/availability/{userId} [get]
func (h *StaffingHandler) Availability(c *gin.Context) {
	blocks, err := h.service.Availability(c.Request.Context(), c.Param("programID"), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, blocks, nil)
}

// SetAvailability godoc
// @Summary Replace a teacher's availability in a program
// @Tags Staffing
// @Accept json
// @Produce json
// @Param programID path string true "Program ID"
// @Param userId path string true "User ID"
// @Param payload body dto.AvailabilityRequest true "Available time blocks"
// @Success 200 {object} response.Envelope
// @Router /programs/{programID}/availability/{userId} [put]
func (h *StaffingHandler) SetAvailability(c *gin.Context) {
	var req dto.AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid availability payload"))
		return
	}
	blocks, err := h.service.SetAvailability(c.Request.Context(), c.Param("programID"), c.Param("userId"), req.TimeBlockIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, blocks, nil)
}
