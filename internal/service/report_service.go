package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
	"github.com/CristianBACSCol/ERP-BACS/pkg/export"
	"github.com/CristianBACSCol/ERP-BACS/pkg/jobs"
	"github.com/CristianBACSCol/ERP-BACS/pkg/storage"
)

const (
	// FormPDFJobType identifies asynchronous form PDF renders on the jobs queue.
	FormPDFJobType = "form_pdf"

	responseSubjectPrefix = "response:"
	pdfContentType        = "application/pdf"
	csvContentType        = "text/csv; charset=utf-8"
	xlsxContentType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var incidentExportHeaders = []string{
	"Índice", "Título", "Descripción", "Cliente", "Sede", "Estado",
	"Fecha Inicio", "Fecha Cambio Estado", "Técnico Asignado", "Creado Por",
}

type incidentSelector interface {
	Visible(ctx context.Context, claims *models.JWTClaims, ids []int64) ([]models.Incident, error)
}

type pdfStore interface {
	Upload(ctx context.Context, data []byte, logicalPath, contentType string) error
	Download(ctx context.Context, logicalPath string) ([]byte, error)
	Exists(ctx context.Context, logicalPath string) (bool, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// ReportService produces incident reports and exports, and serves form response PDFs.
type ReportService struct {
	incidents incidentSelector
	responses responseRepository
	templates templateReader
	renderer  *ReportRenderer
	store     pdfStore
	signer    *storage.SignedURLSigner
	queue     jobDispatcher
	audit     auditWriter
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewReportService constructs the report service. store may be nil, in which case response
// PDFs are rendered on every download.
func NewReportService(incidents incidentSelector, responses responseRepository, templates templateReader, renderer *ReportRenderer, store pdfStore, signer *storage.SignedURLSigner, audit auditWriter, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ReportService{
		incidents: incidents,
		responses: responses,
		templates: templates,
		renderer:  renderer,
		store:     store,
		signer:    signer,
		audit:     audit,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// SetQueue attaches the dispatcher used for asynchronous PDF pre-rendering.
func (s *ReportService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// IncidentPDF renders the structured activity report for the caller's visible incidents.
func (s *ReportService) IncidentPDF(ctx context.Context, claims *models.JWTClaims, req dto.IncidentReportRequest, meta models.LoginRequest) (*dto.FileResult, error) {
	incidents, err := s.selectIncidents(ctx, claims, req)
	if err != nil {
		return nil, err
	}
	report, err := s.renderer.RenderIncidents(ctx, incidents, req)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render incident report")
	}
	if report.Missing > 0 {
		s.logger.Warn("incident report rendered with missing images", zap.Int("missing", report.Missing))
	}
	s.recordExport(ctx, claims, "pdf", len(incidents), meta)
	return &dto.FileResult{
		Filename:    s.exportFilename("pdf"),
		ContentType: pdfContentType,
		Data:        report.Data,
	}, nil
}

// IncidentCSV exports the selected incidents as UTF-8 CSV with a BOM.
func (s *ReportService) IncidentCSV(ctx context.Context, claims *models.JWTClaims, req dto.IncidentExportRequest, meta models.LoginRequest) (*dto.FileResult, error) {
	return s.exportIncidents(ctx, claims, req, meta, "csv", csvContentType, export.NewCSVExporter().Render)
}

// IncidentXLSX exports the selected incidents as a spreadsheet.
func (s *ReportService) IncidentXLSX(ctx context.Context, claims *models.JWTClaims, req dto.IncidentExportRequest, meta models.LoginRequest) (*dto.FileResult, error) {
	return s.exportIncidents(ctx, claims, req, meta, "xlsx", xlsxContentType, export.NewXLSXExporter("Incidencias").Render)
}

func (s *ReportService) exportIncidents(ctx context.Context, claims *models.JWTClaims, req dto.IncidentExportRequest, meta models.LoginRequest, format, contentType string, render func(export.Dataset) ([]byte, error)) (*dto.FileResult, error) {
	incidents, err := s.selectIncidents(ctx, claims, dto.IncidentReportRequest{IDs: req.IDs})
	if err != nil {
		return nil, err
	}
	data, err := render(IncidentDataset(incidents))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export incidents")
	}
	s.recordExport(ctx, claims, format, len(incidents), meta)
	return &dto.FileResult{Filename: s.exportFilename(format), ContentType: contentType, Data: data}, nil
}

func (s *ReportService) selectIncidents(ctx context.Context, claims *models.JWTClaims, req dto.IncidentReportRequest) ([]models.Incident, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !claims.IsManager() {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid report request")
	}
	return s.incidents.Visible(ctx, claims, req.IDs)
}

// IncidentDataset flattens incidents into the export columns.
func IncidentDataset(incidents []models.Incident) export.Dataset {
	rows := make([][]string, 0, len(incidents))
	for _, inc := range incidents {
		rows = append(rows, []string{
			inc.Code,
			inc.Title,
			inc.Description,
			inc.ClientName,
			inc.SiteName,
			string(inc.State),
			inc.StartedAt.Format("2006-01-02 15:04"),
			inc.StateChangedAt.Format("2006-01-02 15:04"),
			fallback(inc.TechnicianName, "Sin asignar"),
			inc.CreatorName,
		})
	}
	return export.Dataset{Headers: incidentExportHeaders, Rows: rows}
}

func (s *ReportService) exportFilename(ext string) string {
	return fmt.Sprintf("informe_incidencias_%s.%s", s.now().Format("20060102_1504"), ext)
}

func (s *ReportService) recordExport(ctx context.Context, claims *models.JWTClaims, format string, count int, meta models.LoginRequest) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{"format": format, "incidents": count})
	entry := &models.AuditLog{
		UserID:    &claims.UserID,
		Action:    models.AuditActionReportExport,
		Resource:  "incidents",
		NewValues: payload,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

// ResponsePDF returns the PDF of a form response the caller may read. A stored PDF is served
// as is; otherwise the document is rendered and stored for next time.
func (s *ReportService) ResponsePDF(ctx context.Context, claims *models.JWTClaims, id int64) (*dto.FileResult, error) {
	resp, err := s.loadResponse(ctx, claims, id)
	if err != nil {
		return nil, err
	}
	return s.pdfFor(ctx, resp)
}

// SignedLink issues a shareable download URL under baseURL for a response PDF.
func (s *ReportService) SignedLink(ctx context.Context, claims *models.JWTClaims, id int64, baseURL string) (*dto.SignedLinkResponse, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "signed links are not configured")
	}
	resp, err := s.loadResponse(ctx, claims, id)
	if err != nil {
		return nil, err
	}
	file, err := s.pdfFor(ctx, resp)
	if err != nil {
		return nil, err
	}
	target := models.Deref(resp.PDFPath)
	if target == "" {
		target = file.Filename
	}
	token, expiresAt, err := s.signer.Generate(responseSubject(resp.ID), target)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &dto.SignedLinkResponse{
		URL:       strings.TrimRight(baseURL, "/") + "/downloads/" + token,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// ResolveSignedLink serves the PDF a signed token points at.
func (s *ReportService) ResolveSignedLink(ctx context.Context, token string) (*dto.FileResult, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "download link not found")
	}
	parsed, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	id, ok := parseResponseSubject(parsed.Subject)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	resp, err := s.responses.FindByID(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "form response not found", "failed to load form response")
	}
	return s.pdfFor(ctx, resp)
}

// SchedulePDF queues an asynchronous render. Repeated requests for the same response coalesce.
func (s *ReportService) SchedulePDF(responseID int64) {
	if s.queue == nil {
		return
	}
	err := s.queue.Enqueue(jobs.Job{ID: responseSubject(responseID), Type: FormPDFJobType, Payload: responseID})
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrDuplicate):
		s.logger.Debug("form pdf render already queued", zap.Int64("response_id", responseID))
	default:
		s.logger.Warn("failed to queue form pdf render", zap.Int64("response_id", responseID), zap.Error(err))
	}
}

// HandleJob renders and stores a response PDF unless a stored copy already exists.
func (s *ReportService) HandleJob(ctx context.Context, job jobs.Job) error {
	id, ok := parseResponseSubject(job.ID)
	if !ok {
		return fmt.Errorf("unexpected job id %q", job.ID)
	}
	resp, err := s.responses.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load form response %d: %w", id, err)
	}
	if resp.PDFPath != nil && s.store != nil {
		if ok, err := s.store.Exists(ctx, *resp.PDFPath); err == nil && ok {
			return nil
		}
	}
	if _, err := s.pdfFor(ctx, resp); err != nil {
		return err
	}
	return nil
}

func (s *ReportService) loadResponse(ctx context.Context, claims *models.JWTClaims, id int64) (*models.FormResponse, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	resp, err := s.responses.FindByID(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "form response not found", "failed to load form response")
	}
	if !claims.IsManager() && resp.SubmittedBy != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "form response belongs to another user")
	}
	return resp, nil
}

// pdfFor serves the stored PDF or renders a fresh one. A rendered PDF is stored and its path
// recorded; when storage refuses it, any stale path is cleared so the next download renders again.
func (s *ReportService) pdfFor(ctx context.Context, resp *models.FormResponse) (*dto.FileResult, error) {
	filename := fmt.Sprintf("documento_%d_%s.pdf", resp.ID, s.now().Format(assetTimestamp))
	if resp.PDFPath != nil && s.store != nil {
		data, err := s.store.Download(ctx, *resp.PDFPath)
		if err == nil {
			return &dto.FileResult{Filename: filename, ContentType: pdfContentType, Data: data}, nil
		}
		s.logger.Warn("stored pdf unavailable, rendering again", zap.Int64("response_id", resp.ID), zap.String("path", *resp.PDFPath), zap.Error(err))
	}

	fields, err := s.templates.ListFields(ctx, resp.TemplateID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load form fields")
	}
	report, err := s.renderer.RenderResponse(ctx, resp, fields)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render form response")
	}
	// One object per response: a queued render and a download racing on the same response overwrite it.
	logicalPath := ResponsePDFPath(resp.TemplateName, fmt.Sprintf("documento_%d.pdf", resp.ID))

	var recorded *string
	if s.store != nil {
		if err := s.store.Upload(ctx, report.Data, logicalPath, pdfContentType); err != nil {
			s.logger.Warn("failed to store form pdf", zap.Int64("response_id", resp.ID), zap.Error(err))
		} else {
			recorded = &logicalPath
		}
	}
	if recorded == nil {
		s.metrics.RecordStorageFallback("form_pdf")
	}
	if recorded != nil || resp.PDFPath != nil {
		if err := s.responses.SetPDFPath(ctx, resp.ID, recorded); err != nil {
			s.logger.Warn("failed to record form pdf path", zap.Int64("response_id", resp.ID), zap.Error(err))
		} else {
			resp.PDFPath = recorded
		}
	}
	return &dto.FileResult{Filename: filename, ContentType: pdfContentType, Data: report.Data}, nil
}

// ResponsePDFPath is the logical location of a rendered response PDF.
func ResponsePDFPath(templateName, filename string) string {
	folder := storage.SecureFilename(templateName)
	if folder == "" {
		folder = "formulario"
	}
	return "Forms/" + folder + "/" + filename
}

func responseSubject(id int64) string {
	return responseSubjectPrefix + strconv.FormatInt(id, 10)
}

func parseResponseSubject(subject string) (int64, bool) {
	if !strings.HasPrefix(subject, responseSubjectPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(subject, responseSubjectPrefix), 10, 64)
	return id, err == nil && id > 0
}
