package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	"github.com/CristianBACSCol/ERP-BACS/pkg/response"
)

type catalogService interface {
	ListClients(ctx context.Context, activeOnly bool) ([]models.Client, error)
	GetClient(ctx context.Context, id int64) (*models.Client, error)
	CreateClient(ctx context.Context, req dto.ClientRequest) (*models.Client, error)
	UpdateClient(ctx context.Context, id int64, req dto.ClientRequest) (*models.Client, error)
	DeactivateClient(ctx context.Context, id int64) error
	ListSites(ctx context.Context, clientID int64, activeOnly bool) ([]models.Site, error)
	CreateSite(ctx context.Context, clientID int64, req dto.SiteRequest) (*models.Site, error)
	UpdateSite(ctx context.Context, id int64, req dto.SiteRequest) (*models.Site, error)
	DeactivateSite(ctx context.Context, id int64) error
	ListSystems(ctx context.Context, activeOnly bool) ([]models.System, error)
	CreateSystem(ctx context.Context, req dto.SystemRequest) (*models.System, error)
	UpdateSystem(ctx context.Context, id int64, req dto.SystemRequest) (*models.System, error)
	DeactivateSystem(ctx context.Context, id int64) error
}

// CatalogHandler exposes clients, their sites and system categories.
type CatalogHandler struct {
	service catalogService
}

// NewCatalogHandler constructs a catalog handler.
func NewCatalogHandler(svc catalogService) *CatalogHandler {
	return &CatalogHandler{service: svc}
}

// ListClients godoc
// @Summary List clients
// @Tags Catalog
// @Produce json
// @Param all query bool false "Include inactive clients"
// @Success 200 {object} response.Envelope
// @Router /clients [get]
func (h *CatalogHandler) ListClients(c *gin.Context) {
	clients, err := h.service.ListClients(c.Request.Context(), activeOnly(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, clients, nil)
}

// GetClient godoc
// @Summary Get client
// @Tags Catalog
// @Produce json
// @Param id path int true "Client ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /clients/{id} [get]
func (h *CatalogHandler) GetClient(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	client, err := h.service.GetClient(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, client, nil)
}

// CreateClient godoc
// @Summary Create client
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body dto.ClientRequest true "Client"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /clients [post]
func (h *CatalogHandler) CreateClient(c *gin.Context) {
	var req dto.ClientRequest
	if !bindJSON(c, &req) {
		return
	}
	client, err := h.service.CreateClient(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, client)
}

// UpdateClient godoc
// @Summary Update client
// @Tags Catalog
// @Accept json
// @Produce json
// @Param id path int true "Client ID"
// @Param payload body dto.ClientRequest true "Client"
// @Success 200 {object} response.Envelope
// @Router /clients/{id} [put]
func (h *CatalogHandler) UpdateClient(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.ClientRequest
	if !bindJSON(c, &req) {
		return
	}
	client, err := h.service.UpdateClient(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, client, nil)
}

// DeactivateClient godoc
// @Summary Deactivate client
// @Description Rejected while incidents reference the client
// @Tags Catalog
// @Param id path int true "Client ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /clients/{id} [delete]
func (h *CatalogHandler) DeactivateClient(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeactivateClient(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListSites godoc
// @Summary List sites of a client
// @Tags Catalog
// @Produce json
// @Param id path int true "Client ID"
// @Param all query bool false "Include inactive sites"
// @Success 200 {object} response.Envelope
// @Router /clients/{id}/sites [get]
func (h *CatalogHandler) ListSites(c *gin.Context) {
	clientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	sites, err := h.service.ListSites(c.Request.Context(), clientID, activeOnly(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sites, nil)
}

// CreateSite godoc
// @Summary Create site
// @Tags Catalog
// @Accept json
// @Produce json
// @Param id path int true "Client ID"
// @Param payload body dto.SiteRequest true "Site"
// @Success 201 {object} response.Envelope
// @Router /clients/{id}/sites [post]
func (h *CatalogHandler) CreateSite(c *gin.Context) {
	clientID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.SiteRequest
	if !bindJSON(c, &req) {
		return
	}
	site, err := h.service.CreateSite(c.Request.Context(), clientID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, site)
}

// UpdateSite godoc
// @Summary Update site
// @Tags Catalog
// @Accept json
// @Produce json
// @Param id path int true "Site ID"
// @Param payload body dto.SiteRequest true "Site"
// @Success 200 {object} response.Envelope
// @Router /sites/{id} [put]
func (h *CatalogHandler) UpdateSite(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.SiteRequest
	if !bindJSON(c, &req) {
		return
	}
	site, err := h.service.UpdateSite(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, site, nil)
}

// DeactivateSite godoc
// @Summary Deactivate site
// @Tags Catalog
// @Param id path int true "Site ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sites/{id} [delete]
func (h *CatalogHandler) DeactivateSite(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeactivateSite(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListSystems godoc
// @Summary List systems
// @Tags Catalog
// @Produce json
// @Param all query bool false "Include inactive systems"
// @Success 200 {object} response.Envelope
// @Router /systems [get]
func (h *CatalogHandler) ListSystems(c *gin.Context) {
	systems, err := h.service.ListSystems(c.Request.Context(), activeOnly(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, systems, nil)
}

// CreateSystem godoc
// @Summary Create system
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body dto.SystemRequest true "System"
// @Success 201 {object} response.Envelope
// @Router /systems [post]
func (h *CatalogHandler) CreateSystem(c *gin.Context) {
	var req dto.SystemRequest
	if !bindJSON(c, &req) {
		return
	}
	system, err := h.service.CreateSystem(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, system)
}

// UpdateSystem godoc
// @Summary Update system
// @Tags Catalog
// @Accept json
// @Produce json
// @Param id path int true "System ID"
// @Param payload body dto.SystemRequest true "System"
// @Success 200 {object} response.Envelope
// @Router /systems/{id} [put]
func (h *CatalogHandler) UpdateSystem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.SystemRequest
	if !bindJSON(c, &req) {
		return
	}
	system, err := h.service.UpdateSystem(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, system, nil)
}

// DeactivateSystem godoc
// @Summary Deactivate system
// @Tags Catalog
// @Param id path int true "System ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /systems/{id} [delete]
func (h *CatalogHandler) DeactivateSystem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeactivateSystem(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
