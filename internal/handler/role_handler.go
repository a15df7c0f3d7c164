package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	"github.com/CristianBACSCol/ERP-BACS/internal/service"
	"github.com/CristianBACSCol/ERP-BACS/pkg/response"
)

type roleService interface {
	List(ctx context.Context) ([]models.Role, error)
	Create(ctx context.Context, req service.RoleRequest, actorID int64, meta models.LoginRequest) (*models.Role, error)
	Update(ctx context.Context, id int64, req service.RoleRequest, actorID int64, meta models.LoginRequest) (*models.Role, error)
	Delete(ctx context.Context, id int64, actorID int64, meta models.LoginRequest) error
}

// RoleHandler manages permission tiers.
type RoleHandler struct {
	service roleService
}

// NewRoleHandler constructs a role handler.
func NewRoleHandler(svc roleService) *RoleHandler {
	return &RoleHandler{service: svc}
}

// List godoc
// @Summary List roles
// @Tags Roles
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /roles [get]
func (h *RoleHandler) List(c *gin.Context) {
	roles, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roles, nil)
}

// Create godoc
// @Summary Create role
// @Tags Roles
// @Accept json
// @Produce json
// @Param payload body service.RoleRequest true "Role"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /roles [post]
func (h *RoleHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.RoleRequest
	if !bindJSON(c, &req) {
		return
	}
	role, err := h.service.Create(c.Request.Context(), req, claims.UserID, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, role)
}

// Update godoc
// @Summary Update role
// @Tags Roles
// @Accept json
// @Produce json
// @Param id path int true "Role ID"
// @Param payload body service.RoleRequest true "Role"
// @Success 200 {object} response.Envelope
// @Router /roles/{id} [put]
func (h *RoleHandler) Update(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.RoleRequest
	if !bindJSON(c, &req) {
		return
	}
	role, err := h.service.Update(c.Request.Context(), id, req, claims.UserID, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, role, nil)
}

// Delete godoc
// @Summary Delete role
// @Description Rejected while any user holds the role
// @Tags Roles
// @Param id path int true "Role ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /roles/{id} [delete]
func (h *RoleHandler) Delete(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id, claims.UserID, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
