package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/CristianBACSCol/ERP-BACS/internal/middleware"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
	"github.com/CristianBACSCol/ERP-BACS/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.Claims(c)
}

// requireClaims writes 401 and returns nil when the route ran without authentication.
func requireClaims(c *gin.Context) *models.JWTClaims {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
	}
	return claims
}

func requestMeta(c *gin.Context) models.LoginRequest {
	return models.LoginRequest{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

// pathID parses a numeric route parameter, writing a validation error on failure.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErrors.FieldError(name, "invalid identifier"))
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	if v, err := strconv.Atoi(c.Query(name)); err == nil {
		return v
	}
	return fallback
}

func queryInt64(c *gin.Context, name string) *int64 {
	if v, err := strconv.ParseInt(c.Query(name), 10, 64); err == nil {
		return &v
	}
	return nil
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

func activeOnly(c *gin.Context) bool {
	all, _ := strconv.ParseBool(c.Query("all"))
	return !all
}
