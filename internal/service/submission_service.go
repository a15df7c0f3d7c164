package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	"github.com/CristianBACSCol/ERP-BACS/internal/repository"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
	"github.com/CristianBACSCol/ERP-BACS/pkg/imageproc"
	"github.com/CristianBACSCol/ERP-BACS/pkg/storage"
)

const (
	// SignaturePrefix and PhotoPrefix are the logical folders of submission assets.
	SignaturePrefix = "Forms/signatures/"
	PhotoPrefix     = "Forms/images/"

	inlineSignatureLimit = 100000
	truncationMarker     = "... [TRUNCADO]"
	assetTimestamp       = "20060102_150405"
	dateLayout           = "2006-01-02"
)

var (
	textRules = map[models.TextValidation]struct {
		pattern *regexp.Regexp
		message string
	}{
		models.ValidationIDNumber:     {regexp.MustCompile(`^\d{7,11}$`), "id number must contain 7 to 11 digits"},
		models.ValidationPhone:        {regexp.MustCompile(`^\d{7,15}$`), "phone must contain 7 to 15 digits"},
		models.ValidationEmail:        {regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`), "enter a valid email address"},
		models.ValidationNumeric:      {regexp.MustCompile(`^\d+$`), "only digits are accepted"},
		models.ValidationAlphanumeric: {regexp.MustCompile(`^[a-zA-Z0-9\s]+$`), "only letters, digits and spaces are accepted"},
	}
	signerPhonePattern    = regexp.MustCompile(`^[\d\s+\-()]+$`)
	signerDocumentPattern = regexp.MustCompile(`^[\d\s.\-]+$`)
	nonDigits             = regexp.MustCompile(`\D`)
)

type responseRepository interface {
	CreateResponse(ctx context.Context, resp *models.FormResponse, build repository.AnswerBuilder) error
	FindByID(ctx context.Context, id int64) (*models.FormResponse, error)
	List(ctx context.Context, filter models.ResponseFilter) ([]models.FormResponse, int, error)
	SetPDFPath(ctx context.Context, id int64, path *string) error
}

type templateReader interface {
	FindTemplate(ctx context.Context, id int64) (*models.FormTemplate, error)
	ListFields(ctx context.Context, templateID int64) ([]models.FormField, error)
}

type pdfScheduler interface {
	SchedulePDF(responseID int64)
}

// SubmissionServiceConfig bounds photo handling.
type SubmissionServiceConfig struct {
	PhotoMaxFileSize int64
	PhotoWorkers     int
	Image            imageproc.Options
}

// SubmissionService validates and stores form submissions.
type SubmissionService struct {
	responses responseRepository
	templates templateReader
	store     objectUploader
	audit     auditWriter
	metrics   *MetricsService
	scheduler pdfScheduler
	logger    *zap.Logger
	cfg       SubmissionServiceConfig
	now       func() time.Time
}

// NewSubmissionService constructs a SubmissionService. store may be nil, in which case
// signatures are kept inline and photos are dropped with a warning.
func NewSubmissionService(responses responseRepository, templates templateReader, store objectUploader, audit auditWriter, metrics *MetricsService, logger *zap.Logger, cfg SubmissionServiceConfig) *SubmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PhotoMaxFileSize <= 0 {
		cfg.PhotoMaxFileSize = 10 << 20
	}
	if cfg.PhotoWorkers <= 0 {
		cfg.PhotoWorkers = 4
	}
	return &SubmissionService{
		responses: responses,
		templates: templates,
		store:     store,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetScheduler registers the asynchronous PDF pre-renderer.
func (s *SubmissionService) SetScheduler(scheduler pdfScheduler) {
	s.scheduler = scheduler
}

// preparedAnswer is a validated answer waiting for the response id.
type preparedAnswer struct {
	field     models.FormField
	answer    models.FieldResponse
	signature *preparedSignature
	photos    []processedPhoto
	hasPhotos bool
}

type preparedSignature struct {
	raw string
	png []byte
}

type processedPhoto struct {
	index int
	name  string
	data  []byte
	ext   string
	info  imageproc.Info
	err   error
}

// Submit validates every answer before anything is written. Text, date, select and signer
// violations reject the whole submission; photo problems become warnings.
func (s *SubmissionService) Submit(ctx context.Context, claims *models.JWTClaims, templateID int64, req dto.SubmissionRequest, meta models.LoginRequest) (*dto.SubmissionResult, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	tpl, err := s.templates.FindTemplate(ctx, templateID)
	if err != nil {
		return nil, persistenceError(err, "form not found", "failed to load form")
	}
	if !tpl.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "form not found")
	}
	fields, err := s.templates.ListFields(ctx, templateID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load form fields")
	}

	plan, warnings, err := s.prepare(fields, req)
	if err != nil {
		s.metrics.RecordFormSubmission(OutcomeRejected)
		return nil, err
	}

	now := s.now()
	resp := &models.FormResponse{
		TemplateID:    tpl.ID,
		TemplateName:  tpl.Name,
		TemplateDesc:  tpl.Description,
		SubmittedBy:   claims.UserID,
		SubmitterName: claims.FullName,
		SubmittedAt:   now.UTC(),
		Status:        models.ResponseCompleted,
	}
	build := func(responseID int64) ([]models.FieldResponse, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		answers := make([]models.FieldResponse, 0, len(plan))
		for i := range plan {
			answers = append(answers, s.materialize(ctx, responseID, now, &plan[i]))
		}
		return answers, nil
	}
	if err := s.responses.CreateResponse(ctx, resp, build); err != nil {
		s.metrics.RecordFormSubmission(OutcomeFailed)
		return nil, persistenceError(err, "form not found", "failed to save form response")
	}
	resp.TemplateName = tpl.Name
	resp.TemplateDesc = tpl.Description
	resp.SubmitterName = claims.FullName
	s.metrics.RecordFormSubmission(OutcomeSuccess)

	payload, _ := json.Marshal(map[string]interface{}{"template_id": tpl.ID, "answers": len(resp.Answers), "warnings": len(warnings)})
	s.record(ctx, &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     models.AuditActionFormSubmit,
		Resource:   "form_responses",
		ResourceID: idString(resp.ID),
		NewValues:  payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	s.logger.Info("form submitted", zap.Int64("response_id", resp.ID), zap.Int64("template_id", tpl.ID),
		zap.Int("answers", len(resp.Answers)), zap.Int("warnings", len(warnings)))
	if s.scheduler != nil {
		s.scheduler.SchedulePDF(resp.ID)
	}
	return &dto.SubmissionResult{Response: resp, Warnings: warnings}, nil
}

// List returns one page of responses. Managers see every response; other roles their own.
func (s *SubmissionService) List(ctx context.Context, claims *models.JWTClaims, filter models.ResponseFilter) ([]models.FormResponse, *models.Pagination, error) {
	if claims == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if !claims.IsManager() {
		own := claims.UserID
		filter.SubmittedBy = &own
	}
	responses, total, err := s.responses.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list form responses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return responses, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a response with its answers when the caller may read it.
func (s *SubmissionService) Get(ctx context.Context, claims *models.JWTClaims, id int64) (*models.FormResponse, error) {
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

func (s *SubmissionService) prepare(fields []models.FormField, req dto.SubmissionRequest) ([]preparedAnswer, []string, error) {
	plan := make([]preparedAnswer, 0, len(fields))
	var warnings []string
	for _, field := range fields {
		if !field.Type.Captures() {
			continue
		}
		key := fmt.Sprintf("field_%d", field.ID)
		raw := req.Values[field.ID]
		item := preparedAnswer{field: field, answer: models.FieldResponse{FieldID: field.ID}}

		switch field.Type {
		case models.FieldText:
			value := strings.TrimSpace(raw)
			if value == "" && field.Required {
				return nil, nil, appErrors.FieldError(key, fmt.Sprintf("%q is required", field.Title))
			}
			if rule, ok := textRules[field.Config.Validation]; ok && value != "" && !rule.pattern.MatchString(value) {
				return nil, nil, appErrors.FieldError(key, fmt.Sprintf("%q: %s", field.Title, rule.message))
			}
			item.answer.TextValue = &value
		case models.FieldTextarea:
			if strings.TrimSpace(raw) == "" && field.Required {
				return nil, nil, appErrors.FieldError(key, fmt.Sprintf("%q is required", field.Title))
			}
			value := raw
			item.answer.TextValue = &value
		case models.FieldSingleSelect:
			value := strings.TrimSpace(raw)
			var selected []string
			if value != "" {
				selected = []string{value}
			}
			if err := checkOptions(field, key, selected); err != nil {
				return nil, nil, err
			}
			item.answer.TextValue = &value
		case models.FieldMultiSelect:
			selected := parseSelection(raw, field.Config.Options)
			if err := checkOptions(field, key, selected); err != nil {
				return nil, nil, err
			}
			joined := strings.Join(selected, ", ")
			item.answer.TextValue = &joined
			encoded, err := json.Marshal(selected)
			if err != nil {
				return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode selection")
			}
			item.answer.JSONValue = encoded
		case models.FieldDate:
			value := strings.TrimSpace(raw)
			if value == "" {
				if field.Required {
					return nil, nil, appErrors.FieldError(key, fmt.Sprintf("%q is required", field.Title))
				}
				break
			}
			date, err := time.Parse(dateLayout, value)
			if err != nil {
				return nil, nil, appErrors.FieldError(key, fmt.Sprintf("%q must use the YYYY-MM-DD format", field.Title))
			}
			item.answer.DateValue = &date
		case models.FieldSignature:
			payload := strings.TrimSpace(raw)
			if payload == "" {
				if field.Required {
					return nil, nil, appErrors.FieldError(key, fmt.Sprintf("%q must be signed", field.Title))
				}
				break
			}
			signer, err := cleanSigner(key, req.Signers[field.ID])
			if err != nil {
				return nil, nil, err
			}
			item.answer.SignerInfo = signer
			item.signature = &preparedSignature{raw: payload}
			if normalized, err := imageproc.NormalizeSignature(payload); err != nil {
				s.logger.Warn("signature could not be decoded, keeping it inline", zap.Int64("field_id", field.ID), zap.Error(err))
			} else {
				item.signature.png = normalized
			}
		case models.FieldPhoto:
			uploads := nonEmptyUploads(req.Photos[field.ID])
			if len(uploads) == 0 {
				if field.Required {
					return nil, nil, appErrors.FieldError(key, fmt.Sprintf("%q requires at least one photo", field.Title))
				}
				item.hasPhotos = true
				break
			}
			if limit := field.Config.MaxPhotos; limit > 0 && len(uploads) > limit {
				warnings = append(warnings, fmt.Sprintf("%s: only the first %d photos were kept", field.Title, limit))
				uploads = uploads[:limit]
			}
			item.hasPhotos = true
			item.photos = s.processPhotos(uploads)
			for _, photo := range item.photos {
				if photo.err != nil {
					warnings = append(warnings, fmt.Sprintf("%s: %s: %s", field.Title, photo.name, appErrors.FromError(photo.err).Message))
				}
			}
		}
		plan = append(plan, item)
	}
	return plan, warnings, nil
}

// processPhotos runs the image pipeline over a bounded worker pool. Results keep the
// submission order.
func (s *SubmissionService) processPhotos(uploads []dto.Upload) []processedPhoto {
	mapper := iter.Mapper[dto.Upload, processedPhoto]{MaxGoroutines: s.cfg.PhotoWorkers}
	results := mapper.Map(uploads, func(upload *dto.Upload) processedPhoto {
		return s.processPhoto(*upload)
	})
	for i := range results {
		results[i].index = i
		switch {
		case results[i].err == nil:
			s.metrics.RecordPhoto(OutcomeSuccess)
		case errors.Is(results[i].err, appErrors.ErrImageDecode):
			s.metrics.RecordPhoto(OutcomeFailed)
		default:
			s.metrics.RecordPhoto(OutcomeRejected)
		}
	}
	return results
}

func (s *SubmissionService) processPhoto(upload dto.Upload) processedPhoto {
	out := processedPhoto{name: storage.SecureFilename(upload.Filename)}
	if out.name == "" {
		out.name = "photo"
	}
	if int64(len(upload.Data)) > s.cfg.PhotoMaxFileSize {
		out.err = appErrors.FieldError("photos", fmt.Sprintf("file is %.2f MB, the limit is %.0f MB",
			float64(len(upload.Data))/(1<<20), float64(s.cfg.PhotoMaxFileSize)/(1<<20)))
		return out
	}
	if !imageproc.IsImageAllowed(upload.Filename, upload.ContentType) {
		out.err = appErrors.Clone(appErrors.ErrUnsupportedFormat, "allowed formats: JPG, PNG, GIF, WebP, HEIC, HEIF, BMP, TIFF")
		return out
	}
	data, info, err := imageproc.Process(upload.Data, upload.Filename, s.cfg.Image)
	if err != nil {
		switch {
		case errors.Is(err, imageproc.ErrUnsupportedFormat):
			out.err = appErrors.Clone(appErrors.ErrUnsupportedFormat, "format cannot be decoded on this server")
		default:
			out.err = appErrors.Wrap(err, appErrors.ErrImageDecode.Code, appErrors.ErrImageDecode.Status, "image could not be decoded")
		}
		return out
	}
	out.data = data
	out.info = info
	out.ext = ".jpg"
	// Skipped images are stored untouched, so they keep their own extension.
	if info.Skipped {
		if ext := strings.ToLower(filepath.Ext(upload.Filename)); ext != ".jpeg" && ext != "" {
			out.ext = ext
		}
	}
	if info.SizeWarning {
		s.logger.Warn("photo still exceeds target size", zap.String("file", out.name), zap.Int64("size", info.OptimizedSize))
	}
	return out
}

// materialize uploads the assets of one prepared answer and returns the row to insert.
func (s *SubmissionService) materialize(ctx context.Context, responseID int64, now time.Time, item *preparedAnswer) models.FieldResponse {
	answer := item.answer
	stamp := now.Format(assetTimestamp)
	switch {
	case item.signature != nil:
		value := s.storeSignature(ctx, responseID, stamp, item)
		answer.FileValue = &value
	case item.hasPhotos:
		var stored []string
		for _, photo := range item.photos {
			if photo.err != nil || len(photo.data) == 0 {
				continue
			}
			logicalPath := fmt.Sprintf("%s%d_%d_%s_%d%s", PhotoPrefix, item.field.ID, responseID, stamp, photo.index+1, photo.ext)
			if !s.put(ctx, photo.data, logicalPath, "photo") {
				continue
			}
			stored = append(stored, logicalPath)
		}
		joined := models.JoinList(stored)
		answer.FileValue = &joined
	}
	return answer
}

// storeSignature uploads the normalised PNG and returns its logical path. Without storage, or
// when the payload cannot be decoded, the raw payload is kept inline.
func (s *SubmissionService) storeSignature(ctx context.Context, responseID int64, stamp string, item *preparedAnswer) string {
	sig := item.signature
	if sig.png != nil {
		logicalPath := fmt.Sprintf("%s%d_%d_%s.png", SignaturePrefix, item.field.ID, responseID, stamp)
		if s.put(ctx, sig.png, logicalPath, "signature") {
			return logicalPath
		}
	}
	s.metrics.RecordStorageFallback("signature")
	return InlineSignature(sig.raw)
}

// InlineSignature bounds a signature payload kept in the database.
func InlineSignature(raw string) string {
	if len(raw) > inlineSignatureLimit {
		return raw[:inlineSignatureLimit] + truncationMarker
	}
	return raw
}

func (s *SubmissionService) put(ctx context.Context, data []byte, logicalPath, kind string) bool {
	if s.store == nil {
		s.logger.Warn("storage unavailable", zap.String("kind", kind), zap.String("path", logicalPath))
		return false
	}
	if err := s.store.Upload(ctx, data, logicalPath, storage.ContentTypeFor(logicalPath)); err != nil {
		s.logger.Warn("upload failed", zap.String("kind", kind), zap.String("path", logicalPath), zap.Error(err))
		return false
	}
	if ok, err := s.store.Exists(ctx, logicalPath); err != nil || !ok {
		s.logger.Warn("object not visible after upload", zap.String("path", logicalPath), zap.Error(err))
	}
	return true
}

func (s *SubmissionService) record(ctx context.Context, entry *models.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

// cleanSigner trims the signer record and keeps only the digits of document and phone.
func cleanSigner(key string, in dto.SignerInput) (models.SignerInfo, error) {
	document := strings.TrimSpace(in.Document)
	if document != "" {
		if !signerDocumentPattern.MatchString(document) {
			return models.SignerInfo{}, appErrors.FieldError(key+"_document", "document may only contain digits")
		}
		document = nonDigits.ReplaceAllString(document, "")
	}
	phone := strings.TrimSpace(in.Phone)
	if phone != "" {
		if !signerPhonePattern.MatchString(phone) {
			return models.SignerInfo{}, appErrors.FieldError(key+"_phone", "phone may only contain digits, spaces, +, - and parentheses")
		}
		phone = nonDigits.ReplaceAllString(phone, "")
	}
	return models.SignerInfo{
		Name:     models.StringPtr(strings.TrimSpace(in.Name)),
		Document: models.StringPtr(document),
		Phone:    models.StringPtr(phone),
		Company:  models.StringPtr(strings.TrimSpace(in.Company)),
		Title:    models.StringPtr(strings.TrimSpace(in.Title)),
	}, nil
}

// parseSelection accepts a JSON array, a single option verbatim, or a comma separated list.
// List items are matched against the options longest first, so option text may contain commas.
func parseSelection(raw string, options []string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}
	}
	if strings.HasPrefix(raw, "[") {
		var values []string
		if json.Unmarshal([]byte(raw), &values) == nil {
			return trimSelection(values)
		}
	}
	known := make(map[string]struct{}, len(options))
	for _, opt := range options {
		known[opt] = struct{}{}
	}
	if _, ok := known[raw]; ok {
		return []string{raw}
	}

	parts := strings.Split(raw, ",")
	out := []string{}
	for i := 0; i < len(parts); {
		next := i + 1
		value := strings.TrimSpace(parts[i])
		for j := len(parts); j > i+1; j-- {
			candidate := strings.TrimSpace(strings.Join(parts[i:j], ","))
			if _, ok := known[candidate]; ok {
				value, next = candidate, j
				break
			}
		}
		if value != "" {
			out = append(out, value)
		}
		i = next
	}
	return out
}

func trimSelection(values []string) []string {
	out := []string{}
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func checkOptions(field models.FormField, key string, selected []string) error {
	if len(selected) == 0 {
		if field.Required {
			return appErrors.FieldError(key, fmt.Sprintf("select an option for %q", field.Title))
		}
		return nil
	}
	allowed := make(map[string]struct{}, len(field.Config.Options))
	for _, opt := range field.Config.Options {
		allowed[opt] = struct{}{}
	}
	for _, value := range selected {
		if _, ok := allowed[value]; !ok {
			return appErrors.FieldError(key, fmt.Sprintf("%q is not an option of %q", value, field.Title))
		}
	}
	return nil
}

func nonEmptyUploads(uploads []dto.Upload) []dto.Upload {
	out := make([]dto.Upload, 0, len(uploads))
	for _, upload := range uploads {
		if len(upload.Data) > 0 {
			out = append(out, upload)
		}
	}
	return out
}
