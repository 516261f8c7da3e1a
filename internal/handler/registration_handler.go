package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-scheduling-api/internal/dto"
	"github.com/noah-isme/course-scheduling-api/internal/models"
	"github.com/noah-isme/course-scheduling-api/internal/service"
	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
	"github.com/noah-isme/course-scheduling-api/pkg/response"
)

type registrationService interface {
	CannotAddSection(ctx context.Context, studentID, sectionID string) (string, error)
	HoldsSection(ctx context.Context, studentID, sectionID string) (bool, error)
	CannotAddSubject(ctx context.Context, studentID, subjectID string) (string, error)
	PreregisterSection(ctx context.Context, studentID, sectionID string, opts service.PreregisterOptions) (bool, error)
	UnpreregisterSection(ctx context.Context, studentID, sectionID, relationship string) (int64, error)
	RegistrationHistory(ctx context.Context, studentID, sectionID string) (int, error)
	PreregisterSubject(ctx context.Context, studentID, subjectID string, overrideFull bool) (*models.Section, error)
	UnpreregisterSubject(ctx context.Context, studentID, subjectID string) (int64, error)
}

// RegistrationHandler serves student eligibility checks and registrations.
type RegistrationHandler struct {
	service registrationService
}

// NewRegistrationHandler constructs a RegistrationHandler.
func NewRegistrationHandler(service registrationService) *RegistrationHandler {
	return &RegistrationHandler{service: service}
}

// SectionEligibility godoc
// @Summary Check whether a student may join a section
// @Tags Registration
// @Produce json
// @Param id path string true "Section ID"
// @Param studentId query string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/eligibility [get]
func (h *RegistrationHandler) SectionEligibility(c *gin.Context) {
	studentID, ok := requireStudent(c)
	if !ok {
		return
	}
	reason, err := h.service.CannotAddSection(c.Request.Context(), studentID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.EligibilityResponse{Allowed: reason == "", Reason: reason}, nil)
}

// SubjectEligibility godoc
// @Summary Check whether a student may join a subject
// @Tags Registration
// @Produce json
// @Param id path string true "Subject ID"
// @Param studentId query string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /subjects/{id}/eligibility [get]
func (h *RegistrationHandler) SubjectEligibility(c *gin.Context) {
	studentID, ok := requireStudent(c)
	if !ok {
		return
	}
	reason, err := h.service.CannotAddSubject(c.Request.Context(), studentID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.EligibilityResponse{Allowed: reason == "", Reason: reason}, nil)
}

// RegisterSection godoc
// @Summary Register a student in a section
// @Tags Registration
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param payload body dto.RegistrationRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sections/{id}/registrations [post]
func (h *RegistrationHandler) RegisterSection(c *gin.Context) {
	var req dto.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	ctx := c.Request.Context()
	sectionID := c.Param("id")

	if !req.FastForce {
		held, err := h.service.HoldsSection(ctx, req.StudentID, sectionID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if !held {
			reason, err := h.service.CannotAddSection(ctx, req.StudentID, sectionID)
			if err != nil {
				response.Error(c, err)
				return
			}
			if reason != "" {
				response.Error(c, appErrors.Refused(reason))
				return
			}
		}
	}

	added, err := h.service.PreregisterSection(ctx, req.StudentID, sectionID, service.PreregisterOptions{
		OverrideFull: req.OverrideFull,
		FastForce:    req.FastForce,
		Priority:     req.Priority,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if !added {
		response.Error(c, appErrors.Clone(appErrors.ErrFull, "section is full"))
		return
	}
	response.Created(c, gin.H{"sectionId": sectionID, "studentId": req.StudentID})
}

// UnregisterSection godoc
// @Summary Remove a student from a section
// @Tags Registration
// @Produce json
// @Param id path string true "Section ID"
// @Param studentId path string true "Student ID"
// @Param relationship query string false "Only end this relationship"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/registrations/{studentId} [delete]
func (h *RegistrationHandler) UnregisterSection(c *gin.Context) {
	ended, err := h.service.UnpreregisterSection(c.Request.Context(), c.Param("studentId"), c.Param("id"), c.Query("relationship"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RemovedResponse{Removed: ended}, nil)
}

// RegistrationHistory godoc
// @Summary Count a student's registrations with a section, ended ones included
// @Tags Registration
// @Produce json
// @Param id path string true "Section ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/registrations/{studentId}/history [get]
func (h *RegistrationHandler) RegistrationHistory(c *gin.Context) {
	studentID, sectionID := c.Param("studentId"), c.Param("id")
	count, err := h.service.RegistrationHistory(c.Request.Context(), studentID, sectionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.HistoryResponse{StudentID: studentID, SectionID: sectionID, Count: count}, nil)
}

// RegisterSubject godoc
// @Summary Register a student in the best section of a subject
// @Tags Registration
// @Accept json
// @Produce json
// @Param id path string true "Subject ID"
// @Param payload body dto.RegistrationRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /subjects/{id}/registrations [post]
func (h *RegistrationHandler) RegisterSubject(c *gin.Context) {
	var req dto.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	ctx := c.Request.Context()
	subjectID := c.Param("id")

	if !req.OverrideFull {
		reason, err := h.service.CannotAddSubject(ctx, req.StudentID, subjectID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if reason != "" {
			response.Error(c, appErrors.Refused(reason))
			return
		}
	}

	section, err := h.service.PreregisterSubject(ctx, req.StudentID, subjectID, req.OverrideFull)
	if err != nil {
		response.Error(c, err)
		return
	}
	if section == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrFull, "no section of this class fits the student's schedule"))
		return
	}
	response.Created(c, section)
}

// UnregisterSubject godoc
// @Summary Remove a student from every section of a subject
// @Tags Registration
// @Produce json
// @Param id path string true "Subject ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /subjects/{id}/registrations/{studentId} [delete]
func (h *RegistrationHandler) UnregisterSubject(c *gin.Context) {
	ended, err := h.service.UnpreregisterSubject(c.Request.Context(), c.Param("studentId"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RemovedResponse{Removed: ended}, nil)
}

func requireStudent(c *gin.Context) (string, bool) {
	studentID := strings.TrimSpace(c.Query("studentId"))
	if studentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "studentId is required"))
		return "", false
	}
	return studentID, true
}
