package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-scheduling-api/internal/dto"
	"github.com/noah-isme/course-scheduling-api/internal/models"
	"github.com/noah-isme/course-scheduling-api/internal/service"
	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
	"github.com/noah-isme/course-scheduling-api/pkg/response"
)

type schedulingService interface {
	SectionTimes(ctx context.Context, sectionID string) ([]models.TimeBlock, error)
	ViableTimes(ctx context.Context, sectionID string, ignoreClasses bool) ([]models.TimeBlock, error)
	ViableRooms(ctx context.Context, sectionID string) ([]models.Resource, error)
	AssignRoom(ctx context.Context, sectionID string, req service.AssignRoomRequest) (*service.AssignRoomResult, error)
	AssignStartTime(ctx context.Context, sectionID, firstBlockID string, force bool) (*service.StartTimeResult, error)
	SchedulingStatus(ctx context.Context, sectionID string) (models.SchedulingStatus, error)
	ClearRooms(ctx context.Context, sectionID string) (int64, error)
	ClearFloatingResources(ctx context.Context, sectionID string) (int64, error)
}

// SchedulingHandler exposes time and room placement for sections.
type SchedulingHandler struct {
	service schedulingService
}

// NewSchedulingHandler constructs a SchedulingHandler.
func NewSchedulingHandler(service schedulingService) *SchedulingHandler {
	return &SchedulingHandler{service: service}
}

// Times godoc
// @Summary List the meeting times of a section
// @Tags Scheduling
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/times [get]
func (h *SchedulingHandler) Times(c *gin.Context) {
	blocks, err := h.service.SectionTimes(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, blocks, nil)
}

// Status godoc
// @Summary Scheduling stage of a section
// @Tags Scheduling
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/scheduling-status [get]
func (h *SchedulingHandler) Status(c *gin.Context) {
	status, err := h.service.SchedulingStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": status}, nil)
}

// ViableTimes godoc
// @Summary List start times a section could move to
// @Tags Scheduling
// @Produce json
// @Param id path string true "Section ID"
// @Param ignoreClasses query bool false "Ignore teachers' other classes"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/viable-times [get]
func (h *SchedulingHandler) ViableTimes(c *gin.Context) {
	blocks, err := h.service.ViableTimes(c.Request.Context(), c.Param("id"), boolQuery(c, "ignoreClasses"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, blocks, nil)
}

// ViableRooms godoc
// @Summary List rooms free at every meeting of a section
// @Tags Scheduling
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/viable-rooms [get]
func (h *SchedulingHandler) ViableRooms(c *gin.Context) {
	rooms, err := h.service.ViableRooms(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rooms, nil)
}

// AssignRoom godoc
// @Summary Assign a room to a section
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param payload body dto.AssignRoomRequest true "Room payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sections/{id}/rooms [post]
func (h *SchedulingHandler) AssignRoom(c *gin.Context) {
	var req dto.AssignRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid room payload"))
		return
	}
	result, err := h.service.AssignRoom(c.Request.Context(), c.Param("id"), service.AssignRoomRequest{
		RoomName:     req.RoomName,
		Compromise:   req.Compromise,
		ClearOthers:  req.ClearOthers,
		AllowPartial: req.AllowPartial,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	response.JSON(c, status, result, nil)
}

// ClearRooms godoc
// @Summary Release every room held by a section
// @Tags Scheduling
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/rooms [delete]
func (h *SchedulingHandler) ClearRooms(c *gin.Context) {
	n, err := h.service.ClearRooms(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RemovedResponse{Removed: n}, nil)
}

// ClearFloatingResources godoc
// @Summary Release floating resources held by a section
// @Tags Scheduling
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/floating-resources [delete]
func (h *SchedulingHandler) ClearFloatingResources(c *gin.Context) {
	n, err := h.service.ClearFloatingResources(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RemovedResponse{Removed: n}, nil)
}

// AssignStartTime godoc
// @Summary Move a section to a new start time
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param payload body dto.StartTimeRequest true "Start time payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sections/{id}/start-time [post]
func (h *SchedulingHandler) AssignStartTime(c *gin.Context) {
	var req dto.StartTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid start time payload"))
		return
	}
	result, err := h.service.AssignStartTime(c.Request.Context(), c.Param("id"), req.TimeBlockID, req.Force)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Reason != "" {
		response.JSON(c, http.StatusConflict, result, nil)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
