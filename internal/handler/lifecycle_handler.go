package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-scheduling-api/internal/dto"
	appErrors "github.com/noah-isme/course-scheduling-api/pkg/errors"
	"github.com/noah-isme/course-scheduling-api/pkg/response"
)

type lifecycleService interface {
	AcceptSubject(ctx context.Context, subjectID string) (bool, error)
	ProposeSubject(ctx context.Context, subjectID string) error
	RejectSubject(ctx context.Context, subjectID string) error
	CancelSubject(ctx context.Context, subjectID, explanation string, emailStudents bool) error
	AcceptSection(ctx context.Context, sectionID string) (bool, error)
	ProposeSection(ctx context.Context, sectionID string) error
	RejectSection(ctx context.Context, sectionID string) error
	CancelSection(ctx context.Context, sectionID, explanation string, emailStudents bool) error
	DeleteSection(ctx context.Context, sectionID string, adminOverride bool) (bool, error)
	DeleteSubject(ctx context.Context, subjectID string, adminOverride bool) (bool, error)
}

// Status transitions accepted on the status routes.
const (
	ActionAccept  = "accept"
	ActionPropose = "propose"
	ActionReject  = "reject"
	ActionCancel  = "cancel"
)

// LifecycleHandler moves subjects and sections through review and removes them.
type LifecycleHandler struct {
	service lifecycleService
}

// NewLifecycleHandler constructs a LifecycleHandler.
func NewLifecycleHandler(service lifecycleService) *LifecycleHandler {
	return &LifecycleHandler{service: service}
}

type transitions struct {
	accept  func(ctx context.Context, id string) (bool, error)
	propose func(ctx context.Context, id string) error
	reject  func(ctx context.Context, id string) error
	cancel  func(ctx context.Context, id, explanation string, emailStudents bool) error
}

// SubjectStatus godoc
// @Summary Change the review status of a subject
// @Tags Lifecycle
// @Accept json
// @Produce json
// @Param id path string true "Subject ID"
// @Param action path string true "accept, propose, reject or cancel"
// @Param payload body dto.CancelRequest false "Cancellation message"
// @Success 200 {object} response.Envelope
// @Router /subjects/{id}/status/{action} [post]
func (h *LifecycleHandler) SubjectStatus(c *gin.Context) {
	h.changeStatus(c, transitions{
		accept:  h.service.AcceptSubject,
		propose: h.service.ProposeSubject,
		reject:  h.service.RejectSubject,
		cancel:  h.service.CancelSubject,
	})
}

// SectionStatus godoc
// @Summary Change the review status of a section
// @Tags Lifecycle
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param action path string true "accept, propose, reject or cancel"
// @Param payload body dto.CancelRequest false "Cancellation message"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/status/{action} [post]
func (h *LifecycleHandler) SectionStatus(c *gin.Context) {
	h.changeStatus(c, transitions{
		accept:  h.service.AcceptSection,
		propose: h.service.ProposeSection,
		reject:  h.service.RejectSection,
		cancel:  h.service.CancelSection,
	})
}

func (h *LifecycleHandler) changeStatus(c *gin.Context, t transitions) {
	ctx := c.Request.Context()
	id := c.Param("id")
	action := c.Param("action")

	changed := true
	var err error
	switch action {
	case ActionAccept:
		changed, err = t.accept(ctx, id)
	case ActionPropose:
		err = t.propose(ctx, id)
	case ActionReject:
		err = t.reject(ctx, id)
	case ActionCancel:
		var req dto.CancelRequest
		if bindErr := c.ShouldBindJSON(&req); bindErr != nil && !errors.Is(bindErr, io.EOF) {
			response.Error(c, appErrors.Wrap(bindErr, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid cancel payload"))
			return
		}
		err = t.cancel(ctx, id, req.Explanation, req.EmailStudents)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown status action "+action))
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.StatusChangeResponse{Changed: changed, Status: action}, nil)
}

// DeleteSection godoc
// @Summary Delete a section
// @Tags Lifecycle
// @Produce json
// @Param id path string true "Section ID"
// @Param adminOverride query bool false "Delete even with students registered"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sections/{id} [delete]
func (h *LifecycleHandler) DeleteSection(c *gin.Context) {
	h.remove(c, h.service.DeleteSection, "section has registered students")
}

// DeleteSubject godoc
// @Summary Delete a subject and all of its sections
// @Tags Lifecycle
// @Produce json
// @Param id path string true "Subject ID"
// @Param adminOverride query bool false "Delete even with students registered"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /subjects/{id} [delete]
func (h *LifecycleHandler) DeleteSubject(c *gin.Context) {
	h.remove(c, h.service.DeleteSubject, "subject has registered students")
}

func (h *LifecycleHandler) remove(c *gin.Context, del func(ctx context.Context, id string, adminOverride bool) (bool, error), blocked string) {
	deleted, err := del(c.Request.Context(), c.Param("id"), boolQuery(c, "adminOverride"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !deleted {
		response.Error(c, appErrors.Clone(appErrors.ErrConflict, blocked))
		return
	}
	response.JSON(c, http.StatusOK, dto.DeleteResponse{Deleted: true}, nil)
}
