package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/service"
	"github.com/CristianBACSCol/ERP-BACS/pkg/response"
)

type sequenceService interface {
	List(ctx context.Context) ([]service.SequenceIndexView, error)
	Create(ctx context.Context, req dto.SequenceIndexRequest) (*service.SequenceIndexView, error)
	Update(ctx context.Context, id int64, req dto.SequenceIndexRequest) (*service.SequenceIndexView, error)
	Delete(ctx context.Context, id int64) error
}

// SequenceHandler manages incident code prefixes.
type SequenceHandler struct {
	service sequenceService
}

// NewSequenceHandler constructs a sequence handler.
func NewSequenceHandler(svc sequenceService) *SequenceHandler {
	return &SequenceHandler{service: svc}
}

// List godoc
// @Summary List sequence indices
// @Tags Indices
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /indices [get]
func (h *SequenceHandler) List(c *gin.Context) {
	items, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Create godoc
// @Summary Create sequence index
// @Tags Indices
// @Accept json
// @Produce json
// @Param payload body dto.SequenceIndexRequest true "Index"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /indices [post]
func (h *SequenceHandler) Create(c *gin.Context) {
	var req dto.SequenceIndexRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// Update godoc
// @Summary Update sequence index
// @Tags Indices
// @Accept json
// @Produce json
// @Param id path int true "Index ID"
// @Param payload body dto.SequenceIndexRequest true "Index"
// @Success 200 {object} response.Envelope
// @Router /indices/{id} [put]
func (h *SequenceHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.SequenceIndexRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := h.service.Update(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Delete godoc
// @Summary Delete sequence index
// @Description Rejected while incident codes use the prefix
// @Tags Indices
// @Param id path int true "Index ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /indices/{id} [delete]
func (h *SequenceHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
