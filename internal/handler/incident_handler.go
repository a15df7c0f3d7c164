package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
	"github.com/CristianBACSCol/ERP-BACS/pkg/response"
)

const (
	attachmentsField = "attachments"
	layoutField      = "layout"
)

type incidentService interface {
	List(ctx context.Context, claims *models.JWTClaims, filter models.IncidentFilter) ([]models.Incident, *models.Pagination, error)
	ByClient(ctx context.Context, claims *models.JWTClaims, clientID int64, filter models.IncidentFilter) ([]models.Incident, *models.Pagination, error)
	Get(ctx context.Context, claims *models.JWTClaims, id int64) (*models.Incident, error)
	Stats(ctx context.Context, claims *models.JWTClaims) (*models.IncidentStats, error)
	Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateIncidentRequest, meta models.LoginRequest) (*models.Incident, error)
	Update(ctx context.Context, claims *models.JWTClaims, id int64, req dto.UpdateIncidentRequest, meta models.LoginRequest) (*models.Incident, error)
}

// IncidentHandler exposes incident tracking endpoints.
type IncidentHandler struct {
	service incidentService
}

// NewIncidentHandler constructs an incident handler.
func NewIncidentHandler(svc incidentService) *IncidentHandler {
	return &IncidentHandler{service: svc}
}

func incidentFilter(c *gin.Context) models.IncidentFilter {
	filter := models.IncidentFilter{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 10),
		Search:   c.Query("search"),
	}
	if state := c.Query("state"); state != "" {
		s := models.IncidentState(state)
		filter.State = &s
	}
	return filter
}

// List godoc
// @Summary List incidents
// @Description Incidents visible to the caller, newest first
// @Tags Incidents
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param state query string false "State filter"
// @Param search query string false "Search term"
// @Success 200 {object} response.Envelope
// @Router /incidents [get]
func (h *IncidentHandler) List(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	incidents, pagination, err := h.service.List(c.Request.Context(), claims, incidentFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, incidents, pagination)
}

// ByClient godoc
// @Summary List incidents of a client
// @Tags Incidents
// @Produce json
// @Param id path int true "Client ID"
// @Success 200 {object} response.Envelope
// @Router /clients/{id}/incidents [get]
func (h *IncidentHandler) ByClient(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	clientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	incidents, pagination, err := h.service.ByClient(c.Request.Context(), claims, clientID, incidentFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, incidents, pagination)
}

// Get godoc
// @Summary Get incident
// @Tags Incidents
// @Produce json
// @Param id path int true "Incident ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /incidents/{id} [get]
func (h *IncidentHandler) Get(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	incident, err := h.service.Get(c.Request.Context(), claims, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, incident, nil)
}

// Dashboard godoc
// @Summary Incident statistics
// @Description Counts by state and the five most recent visible incidents
// @Tags Incidents
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard [get]
func (h *IncidentHandler) Dashboard(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Create godoc
// @Summary Create incident
// @Description Multipart form with incident fields, "attachments" files, parallel "captions" and an optional "layout" JSON
// @Tags Incidents
// @Accept multipart/form-data
// @Produce json
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /incidents [post]
func (h *IncidentHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateIncidentRequest
	uploads, layout, err := bindIncident(c, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	req.Uploads = uploads
	if layout != nil {
		req.Layout = layout
	}
	req.AssignedTechnicianID = nonZero(req.AssignedTechnicianID)

	incident, err := h.service.Create(c.Request.Context(), claims, req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, incident)
}

// Update godoc
// @Summary Update incident
// @Description New attachments are appended; technician reassignment requires a manager
// @Tags Incidents
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "Incident ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /incidents/{id} [put]
func (h *IncidentHandler) Update(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateIncidentRequest
	uploads, layout, err := bindIncident(c, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	req.Uploads = uploads
	if layout != nil {
		req.Layout = layout
	}
	req.AssignedTechnicianID = nonZero(req.AssignedTechnicianID)

	incident, err := h.service.Update(c.Request.Context(), claims, id, req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, incident, nil)
}

// bindIncident fills dst from a multipart form or a JSON body.
func bindIncident(c *gin.Context, dst interface{}) ([]dto.Upload, *models.ImageLayout, error) {
	if !isMultipart(c) {
		if err := c.ShouldBindJSON(dst); err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload")
		}
		return nil, nil, nil
	}
	form, err := multipartForm(c)
	if err != nil {
		return nil, nil, err
	}
	if err := c.ShouldBind(dst); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid form")
	}
	var layout *models.ImageLayout
	if err := decodeFormJSON(form, layoutField, &layout); err != nil {
		return nil, nil, err
	}
	uploads, err := readUploads(form.File[attachmentsField])
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read attachments")
	}
	return uploads, layout, nil
}

func nonZero(id *int64) *int64 {
	if id == nil || *id <= 0 {
		return nil
	}
	return id
}
