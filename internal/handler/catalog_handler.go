package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-scheduling-api/internal/models"
	"github.com/noah-isme/course-scheduling-api/pkg/response"
)

type catalogService interface {
	Catalog(ctx context.Context, filter models.CatalogFilter) ([]models.CatalogEntry, error)
	ExportCSV(ctx context.Context, filter models.CatalogFilter) ([]byte, error)
	RosterPDF(ctx context.Context, sectionID string) ([]byte, string, error)
}

// CatalogHandler serves the program catalog and its exports.
type CatalogHandler struct {
	service catalogService
}

// NewCatalogHandler constructs a CatalogHandler.
func NewCatalogHandler(service catalogService) *CatalogHandler {
	return &CatalogHandler{service: service}
}

func catalogFilter(c *gin.Context) models.CatalogFilter {
	return models.CatalogFilter{
		ProgramID:   c.Param("programID"),
		TimeBlockID: c.Query("timeBlockId"),
		ForceAll:    boolQuery(c, "forceAll"),
	}
}

// Catalog godoc
// @Summary List the catalog of a program
// @Tags Catalog
// @Produce json
// @Param programID path string true "Program ID"
// @Param timeBlockId query string false "Only subjects meeting at this block"
// @Param forceAll query bool false "Include unreviewed and rejected classes"
// @Success 200 {object} response.Envelope
// @Router /programs/{programID}/catalog [get]
func (h *CatalogHandler) Catalog(c *gin.Context) {
	entries, err := h.service.Catalog(c.Request.Context(), catalogFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil, map[string]interface{}{"count": len(entries)})
}

// ExportCSV godoc
// @Summary Download the catalog as CSV
// @Tags Catalog
// @Produce text/csv
// @Param programID path string true "Program ID"
// @Success 200 {file} file
// @Router /programs/{programID}/catalog/export.csv [get]
func (h *CatalogHandler) ExportCSV(c *gin.Context) {
	filter := catalogFilter(c)
	payload, err := h.service.ExportCSV(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, fmt.Sprintf("catalog-%s.csv", filter.ProgramID), "text/csv", payload)
}

// RosterPDF godoc
// @Summary Download the roster of a section as PDF
// @Tags Catalog
// @Produce application/pdf
// @Param id path string true "Section ID"
// @Success 200 {file} file
// @Router /sections/{id}/roster.pdf [get]
func (h *CatalogHandler) RosterPDF(c *gin.Context) {
	payload, name, err := h.service.RosterPDF(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, name, "application/pdf", payload)
}
