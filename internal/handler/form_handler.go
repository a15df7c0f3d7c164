package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	"github.com/CristianBACSCol/ERP-BACS/pkg/response"
)

type formService interface {
	ListTemplates(ctx context.Context, claims *models.JWTClaims, includeInactive bool) ([]models.FormTemplate, error)
	GetTemplate(ctx context.Context, claims *models.JWTClaims, id int64) (*models.FormTemplate, error)
	CreateTemplate(ctx context.Context, claims *models.JWTClaims, req dto.FormTemplateRequest) (*models.FormTemplate, error)
	UpdateTemplate(ctx context.Context, id int64, req dto.UpdateFormTemplateRequest) (*models.FormTemplate, error)
	DeleteTemplate(ctx context.Context, id int64) error
	AddField(ctx context.Context, templateID int64, req dto.FieldRequest) (*models.FormField, error)
	UpdateField(ctx context.Context, id int64, req dto.FieldRequest) (*models.FormField, error)
	DeleteField(ctx context.Context, id int64) error
}

// FormHandler manages form templates and their fields.
type FormHandler struct {
	service formService
}

// NewFormHandler constructs a form handler.
func NewFormHandler(svc formService) *FormHandler {
	return &FormHandler{service: svc}
}

// List godoc
// @Summary List form templates
// @Tags Forms
// @Produce json
// @Param all query bool false "Include inactive templates (Administrator)"
// @Success 200 {object} response.Envelope
// @Router /forms [get]
func (h *FormHandler) List(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	templates, err := h.service.ListTemplates(c.Request.Context(), claims, !activeOnly(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, templates, nil)
}

// Get godoc
// @Summary Get form template with ordered fields
// @Tags Forms
// @Produce json
// @Param id path int true "Template ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forms/{id} [get]
func (h *FormHandler) Get(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	template, err := h.service.GetTemplate(c.Request.Context(), claims, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, template, nil)
}

// Create godoc
// @Summary Create form template
// @Tags Forms
// @Accept json
// @Produce json
// @Param payload body dto.FormTemplateRequest true "Template"
// @Success 201 {object} response.Envelope
// @Router /forms [post]
func (h *FormHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.FormTemplateRequest
	if !bindJSON(c, &req) {
		return
	}
	template, err := h.service.CreateTemplate(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, template)
}

// Update godoc
// @Summary Update form template
// @Tags Forms
// @Accept json
// @Produce json
// @Param id path int true "Template ID"
// @Param payload body dto.UpdateFormTemplateRequest true "Template"
// @Success 200 {object} response.Envelope
// @Router /forms/{id} [put]
func (h *FormHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateFormTemplateRequest
	if !bindJSON(c, &req) {
		return
	}
	template, err := h.service.UpdateTemplate(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, template, nil)
}

// Delete godoc
// @Summary Deactivate form template
// @Description Rejected while responses exist
// @Tags Forms
// @Param id path int true "Template ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /forms/{id} [delete]
func (h *FormHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteTemplate(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddField godoc
// @Summary Add field to template
// @Tags Forms
// @Accept json
// @Produce json
// @Param id path int true "Template ID"
// @Param payload body dto.FieldRequest true "Field"
// @Success 201 {object} response.Envelope
// @Router /forms/{id}/fields [post]
func (h *FormHandler) AddField(c *gin.Context) {
	templateID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.FieldRequest
	if !bindJSON(c, &req) {
		return
	}
	field, err := h.service.AddField(c.Request.Context(), templateID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, field)
}

// UpdateField godoc
// @Summary Update field
// @Tags Forms
// @Accept json
// @Produce json
// @Param id path int true "Field ID"
// @Param payload body dto.FieldRequest true "Field"
// @Success 200 {object} response.Envelope
// @Router /fields/{id} [put]
func (h *FormHandler) UpdateField(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.FieldRequest
	if !bindJSON(c, &req) {
		return
	}
	field, err := h.service.UpdateField(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, field, nil)
}

// DeleteField godoc
// @Summary Delete field
// @Tags Forms
// @Param id path int true "Field ID"
// @Success 204 {object} response.Envelope
// @Router /fields/{id} [delete]
func (h *FormHandler) DeleteField(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteField(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
