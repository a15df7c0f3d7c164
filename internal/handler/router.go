package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/CristianBACSCol/ERP-BACS/internal/middleware"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
)

// Handlers groups every HTTP handler mounted under the API prefix.
type Handlers struct {
	Auth       *AuthHandler
	Users      *UserHandler
	Roles      *RoleHandler
	Catalog    *CatalogHandler
	Sequences  *SequenceHandler
	Incidents  *IncidentHandler
	Forms      *FormHandler
	Submission *SubmissionHandler
	Reports    *ReportHandler
	Files      *FileHandler
}

// RegisterRoutes mounts the API. Everything except login, refresh and signed downloads
// requires a bearer token.
func RegisterRoutes(api *gin.RouterGroup, h Handlers, tokens middleware.TokenValidator, audit middleware.AuditWriter) {
	admin := middleware.RequireRoles(models.RoleAdministrator)
	managers := middleware.RequireRoles(models.RoleAdministrator, models.RoleCoordinator)

	auth := api.Group("/auth")
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)

	api.GET("/downloads/:token", h.Reports.Download)

	secured := api.Group("", middleware.JWT(tokens))
	secured.POST("/auth/logout", h.Auth.Logout)
	secured.PUT("/auth/password", h.Auth.ChangePassword)
	secured.GET("/auth/me", h.Auth.Me)

	users := secured.Group("/users")
	users.GET("", admin, h.Users.List)
	users.POST("", admin, h.Users.Create)
	users.GET("/:id", middleware.RBAC(models.RoleAdministrator, middleware.Self), h.Users.Get)
	users.PUT("/:id", admin, h.Users.Update)
	users.DELETE("/:id", admin, h.Users.Delete)

	roles := secured.Group("/roles", admin)
	roles.GET("", h.Roles.List)
	roles.POST("", h.Roles.Create)
	roles.PUT("/:id", h.Roles.Update)
	roles.DELETE("/:id", h.Roles.Delete)

	catalogAudit := middleware.Audit(audit, models.AuditActionCatalogChange, "catalog")
	secured.GET("/clients", h.Catalog.ListClients)
	secured.GET("/clients/:id", h.Catalog.GetClient)
	secured.GET("/clients/:id/sites", h.Catalog.ListSites)
	secured.GET("/systems", h.Catalog.ListSystems)
	secured.GET("/clients/:id/incidents", managers, h.Incidents.ByClient)

	catalog := secured.Group("", managers, catalogAudit)
	catalog.POST("/clients", h.Catalog.CreateClient)
	catalog.PUT("/clients/:id", h.Catalog.UpdateClient)
	catalog.DELETE("/clients/:id", h.Catalog.DeactivateClient)
	catalog.POST("/clients/:id/sites", h.Catalog.CreateSite)
	catalog.PUT("/sites/:id", h.Catalog.UpdateSite)
	catalog.DELETE("/sites/:id", h.Catalog.DeactivateSite)
	catalog.POST("/systems", h.Catalog.CreateSystem)
	catalog.PUT("/systems/:id", h.Catalog.UpdateSystem)
	catalog.DELETE("/systems/:id", h.Catalog.DeactivateSystem)

	indices := secured.Group("/indices", admin)
	indices.GET("", h.Sequences.List)
	indexAudit := middleware.Audit(audit, models.AuditActionIndexChange, "sequence_indices")
	indices.POST("", indexAudit, h.Sequences.Create)
	indices.PUT("/:id", indexAudit, h.Sequences.Update)
	indices.DELETE("/:id", indexAudit, h.Sequences.Delete)

	secured.GET("/dashboard", h.Incidents.Dashboard)
	incidents := secured.Group("/incidents")
	incidents.GET("", h.Incidents.List)
	incidents.POST("", h.Incidents.Create)
	incidents.GET("/:id", h.Incidents.Get)
	incidents.PUT("/:id", h.Incidents.Update)

	secured.GET("/forms", h.Forms.List)
	secured.GET("/forms/:id", h.Forms.Get)
	secured.POST("/forms/:id/responses", h.Submission.Submit)
	formAudit := middleware.Audit(audit, models.AuditActionFormChange, "form_templates")
	forms := secured.Group("", admin, formAudit)
	forms.POST("/forms", h.Forms.Create)
	forms.PUT("/forms/:id", h.Forms.Update)
	forms.DELETE("/forms/:id", h.Forms.Delete)
	forms.POST("/forms/:id/fields", h.Forms.AddField)
	forms.PUT("/fields/:id", h.Forms.UpdateField)
	forms.DELETE("/fields/:id", h.Forms.DeleteField)

	responses := secured.Group("/responses")
	responses.GET("", h.Submission.List)
	responses.GET("/:id", h.Submission.Get)
	responses.GET("/:id/pdf", h.Reports.ResponsePDF)
	responses.POST("/:id/pdf-link", h.Reports.PDFLink)

	reports := secured.Group("/reports/incidents", managers)
	reports.POST("/pdf", h.Reports.IncidentPDF)
	reports.POST("/csv", h.Reports.IncidentCSV)
	reports.POST("/xlsx", h.Reports.IncidentXLSX)

	secured.GET("/files/*path", h.Files.Serve)
}
