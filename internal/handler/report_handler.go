package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	"github.com/CristianBACSCol/ERP-BACS/pkg/response"
)

type reportService interface {
	IncidentPDF(ctx context.Context, claims *models.JWTClaims, req dto.IncidentReportRequest, meta models.LoginRequest) (*dto.FileResult, error)
	IncidentCSV(ctx context.Context, claims *models.JWTClaims, req dto.IncidentExportRequest, meta models.LoginRequest) (*dto.FileResult, error)
	IncidentXLSX(ctx context.Context, claims *models.JWTClaims, req dto.IncidentExportRequest, meta models.LoginRequest) (*dto.FileResult, error)
	ResponsePDF(ctx context.Context, claims *models.JWTClaims, id int64) (*dto.FileResult, error)
	SignedLink(ctx context.Context, claims *models.JWTClaims, id int64, baseURL string) (*dto.SignedLinkResponse, error)
	ResolveSignedLink(ctx context.Context, token string) (*dto.FileResult, error)
}

// ReportHandler exposes incident reports, exports and form response PDFs.
type ReportHandler struct {
	service   reportService
	apiPrefix string
}

// NewReportHandler constructs handler. apiPrefix is prepended to signed download links.
func NewReportHandler(svc reportService, apiPrefix string) *ReportHandler {
	return &ReportHandler{service: svc, apiPrefix: apiPrefix}
}

// IncidentPDF godoc
// @Summary Incident activity report
// @Description Structured PDF for the visible subset of the selected incidents
// @Tags Reports
// @Accept json
// @Produce application/pdf
// @Param payload body dto.IncidentReportRequest true "Report request"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /reports/incidents/pdf [post]
func (h *ReportHandler) IncidentPDF(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.IncidentReportRequest
	if !bindJSON(c, &req) {
		return
	}
	file, err := h.service.IncidentPDF(c.Request.Context(), claims, req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// IncidentCSV godoc
// @Summary Incident CSV export
// @Tags Reports
// @Accept json
// @Produce text/csv
// @Param payload body dto.IncidentExportRequest true "Export request"
// @Success 200 {file} file
// @Router /reports/incidents/csv [post]
func (h *ReportHandler) IncidentCSV(c *gin.Context) {
	h.export(c, h.service.IncidentCSV)
}

// IncidentXLSX godoc
// @Summary Incident XLSX export
// @Tags Reports
// @Accept json
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param payload body dto.IncidentExportRequest true "Export request"
// @Success 200 {file} file
// @Router /reports/incidents/xlsx [post]
func (h *ReportHandler) IncidentXLSX(c *gin.Context) {
	h.export(c, h.service.IncidentXLSX)
}

type exportFunc func(ctx context.Context, claims *models.JWTClaims, req dto.IncidentExportRequest, meta models.LoginRequest) (*dto.FileResult, error)

func (h *ReportHandler) export(c *gin.Context, fn exportFunc) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.IncidentExportRequest
	if !bindJSON(c, &req) {
		return
	}
	file, err := fn(c.Request.Context(), claims, req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// ResponsePDF godoc
// @Summary Download a form response PDF
// @Description Streams the stored PDF, rendering and storing it when missing
// @Tags Responses
// @Produce application/pdf
// @Param id path int true "Response ID"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /responses/{id}/pdf [get]
func (h *ReportHandler) ResponsePDF(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	file, err := h.service.ResponsePDF(c.Request.Context(), claims, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// PDFLink godoc
// @Summary Create a signed download link
// @Description Shareable URL for a response PDF that works without a bearer token until it expires
// @Tags Responses
// @Produce json
// @Param id path int true "Response ID"
// @Success 200 {object} response.Envelope
// @Router /responses/{id}/pdf-link [post]
func (h *ReportHandler) PDFLink(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	link, err := h.service.SignedLink(c.Request.Context(), claims, id, strings.TrimSuffix(h.apiPrefix, "/"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download through a signed link
// @Tags Responses
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /downloads/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	file, err := h.service.ResolveSignedLink(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}
