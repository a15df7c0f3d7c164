package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
)

type staticValidator map[string]*models.JWTClaims

func (v staticValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := v[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type recordingAudit struct {
	logs []*models.AuditLog
}

func (r *recordingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func newRouter(validator TokenValidator, audit AuditWriter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("", JWT(validator))
	api.GET("/users/:id", RBAC(models.RoleAdministrator, Self), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	api.PUT("/clients/:id", RequireRoles(models.RoleAdministrator, models.RoleCoordinator),
		Audit(audit, models.AuditActionCatalogChange, "clients"), func(c *gin.Context) {
			if c.Query("fail") != "" {
				c.Status(http.StatusBadRequest)
				return
			}
			c.Status(http.StatusOK)
		})
	return r
}

func serve(r *gin.Engine, method, path, token string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w.Code
}

func TestJWTAndRBAC(t *testing.T) {
	validator := staticValidator{
		"admin": {UserID: 1, Role: models.RoleAdministrator},
		"tech":  {UserID: 7, Role: models.RoleTechnician},
	}
	r := newRouter(validator, nil)

	require.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/users/7", ""))
	require.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/users/7", "bogus"))
	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/users/7", "tech"))
	require.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/users/8", "tech"))
	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/users/8", "admin"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/7", nil)
	req.Header.Set("Authorization", "Basic abc")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	audit := &recordingAudit{}
	validator := staticValidator{
		"coord": {UserID: 3, Role: models.RoleCoordinator},
		"tech":  {UserID: 7, Role: models.RoleTechnician},
	}
	r := newRouter(validator, audit)

	require.Equal(t, http.StatusOK, serve(r, http.MethodPut, "/clients/4", "coord"))
	require.Equal(t, http.StatusBadRequest, serve(r, http.MethodPut, "/clients/4?fail=1", "coord"))
	require.Equal(t, http.StatusForbidden, serve(r, http.MethodPut, "/clients/4", "tech"))

	require.Len(t, audit.logs, 1)
	log := audit.logs[0]
	require.Equal(t, models.AuditActionCatalogChange, log.Action)
	require.Equal(t, "clients", log.Resource)
	require.Equal(t, int64(3), *log.UserID)
	require.Equal(t, "4", *log.ResourceID)
}

func TestBodyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BodyLimit(8))
	r.POST("/", func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("tiny")))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("well beyond eight bytes")))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
