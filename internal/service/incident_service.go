package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
	"github.com/CristianBACSCol/ERP-BACS/pkg/storage"
)

// IncidentAttachmentPrefix is the logical folder holding incident attachments.
const IncidentAttachmentPrefix = "Incidents/"

type incidentRepository interface {
	List(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, int, error)
	Select(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error)
	FindByID(ctx context.Context, id int64) (*models.Incident, error)
	Create(ctx context.Context, incident *models.Incident, indexID int64) error
	Update(ctx context.Context, incident *models.Incident) error
	Stats(ctx context.Context, visibleTo *int64) (*models.IncidentStats, error)
}

type incidentCatalog interface {
	FindClient(ctx context.Context, id int64) (*models.Client, error)
	FindSite(ctx context.Context, id int64) (*models.Site, error)
	FindSystem(ctx context.Context, id int64) (*models.System, error)
}

type userFinder interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

type objectUploader interface {
	Upload(ctx context.Context, data []byte, logicalPath, contentType string) error
	Exists(ctx context.Context, logicalPath string) (bool, error)
}

// IncidentServiceConfig bounds attachment uploads.
type IncidentServiceConfig struct {
	MaxFileSize int64
}

// IncidentService implements the incident workflows with role-scoped visibility.
type IncidentService struct {
	repo      incidentRepository
	catalog   incidentCatalog
	users     userFinder
	store     objectUploader
	audit     auditWriter
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       IncidentServiceConfig
	now       func() time.Time
}

// NewIncidentService constructs an IncidentService.
func NewIncidentService(repo incidentRepository, catalog incidentCatalog, users userFinder, store objectUploader, audit auditWriter, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg IncidentServiceConfig) *IncidentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 << 20
	}
	return &IncidentService{
		repo:      repo,
		catalog:   catalog,
		users:     users,
		store:     store,
		audit:     audit,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// VisibleTo returns the technician restriction for the caller, nil for managers.
func VisibleTo(claims *models.JWTClaims) *int64 {
	if claims.IsManager() {
		return nil
	}
	var id int64
	if claims != nil {
		id = claims.UserID
	}
	return &id
}

// List returns the caller's visible incidents, newest first.
func (s *IncidentService) List(ctx context.Context, claims *models.JWTClaims, filter models.IncidentFilter) ([]models.Incident, *models.Pagination, error) {
	filter.VisibleTo = VisibleTo(claims)
	if filter.State != nil && !filter.State.Valid() {
		return nil, nil, appErrors.FieldError("state", "unknown incident state")
	}
	incidents, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list incidents")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}
	return incidents, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// ByClient lists the incidents of one client.
func (s *IncidentService) ByClient(ctx context.Context, claims *models.JWTClaims, clientID int64, filter models.IncidentFilter) ([]models.Incident, *models.Pagination, error) {
	if !claims.IsManager() {
		return nil, nil, appErrors.ErrForbidden
	}
	if _, err := s.catalog.FindClient(ctx, clientID); err != nil {
		return nil, nil, persistenceError(err, "client not found", "failed to load client")
	}
	filter.ClientID = &clientID
	return s.List(ctx, claims, filter)
}

// Get returns one incident when it is visible to the caller.
func (s *IncidentService) Get(ctx context.Context, claims *models.JWTClaims, id int64) (*models.Incident, error) {
	incident, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "incident not found", "failed to load incident")
	}
	if !canSee(claims, incident) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "incident is not assigned to you")
	}
	return incident, nil
}

// Visible loads the requested incidents restricted to the caller's visible set, preserving the
// requested order. Ids outside the set are dropped.
func (s *IncidentService) Visible(ctx context.Context, claims *models.JWTClaims, ids []int64) ([]models.Incident, error) {
	if len(ids) == 0 {
		return nil, appErrors.FieldError("ids", "select at least one incident")
	}
	rows, err := s.repo.Select(ctx, models.IncidentFilter{VisibleTo: VisibleTo(claims), IDs: ids})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load incidents")
	}
	byID := make(map[int64]models.Incident, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	ordered := make([]models.Incident, 0, len(rows))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if row, ok := byID[id]; ok {
			ordered = append(ordered, row)
		}
	}
	if len(ordered) == 0 {
		return nil, appErrors.FieldError("ids", "none of the selected incidents are visible")
	}
	if len(ordered) < len(seen) {
		s.logger.Warn("dropped incidents outside the visible set",
			zap.Int("requested", len(seen)), zap.Int("visible", len(ordered)))
	}
	return ordered, nil
}

// Stats summarises the caller's visible incidents.
func (s *IncidentService) Stats(ctx context.Context, claims *models.JWTClaims) (*models.IncidentStats, error) {
	stats, err := s.repo.Stats(ctx, VisibleTo(claims))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load incident statistics")
	}
	return stats, nil
}

// Create opens an incident, minting its code from the chosen index. Attachments that fail to
// upload are dropped from the list.
func (s *IncidentService) Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateIncidentRequest, meta models.LoginRequest) (*models.Incident, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid incident payload")
	}
	if err := s.checkReferences(ctx, req.ClientID, req.SiteID, req.SystemID); err != nil {
		return nil, err
	}

	var technician *int64
	if claims.IsManager() {
		var err error
		if technician, err = s.resolveTechnician(ctx, req.AssignedTechnicianID); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	incident := &models.Incident{
		Title:                strings.TrimSpace(req.Title),
		Description:          strings.TrimSpace(req.Description),
		State:                models.IncidentOpen,
		StartedAt:            now,
		StateChangedAt:       now,
		AssignedTechnicianID: technician,
		CreatedBy:            claims.UserID,
		ClientID:             req.ClientID,
		SiteID:               req.SiteID,
		SystemID:             req.SystemID,
	}

	stored := s.storeAttachments(ctx, req.Uploads, req.Captions, 0, now)
	incident.Attachments = models.JoinList(stored.files)
	incident.AttachmentCaptions = models.JoinList(stored.captions)
	incident.ImageLayout = resolveLayout(req.Layout, nil, stored)

	if err := s.repo.Create(ctx, incident, req.IndexID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.FieldError("index_id", "index does not exist")
		}
		return nil, persistenceError(err, "incident not found", "failed to create incident")
	}

	payload, _ := json.Marshal(map[string]interface{}{"code": incident.Code, "state": incident.State, "attachments": len(stored.files)})
	s.record(ctx, &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     models.AuditActionIncidentCreate,
		Resource:   "incidents",
		ResourceID: idString(incident.ID),
		NewValues:  payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	s.logger.Info("incident created", zap.Int64("incident_id", incident.ID), zap.String("code", incident.Code),
		zap.Int("attachments", len(stored.files)), zap.Int("dropped", stored.dropped))
	return s.reload(ctx, incident), nil
}

// Update edits an incident. Managers may edit any incident and reassign it; technicians may edit
// the incidents assigned to them. New uploads are appended to the existing attachments.
func (s *IncidentService) Update(ctx context.Context, claims *models.JWTClaims, id int64, req dto.UpdateIncidentRequest, meta models.LoginRequest) (*models.Incident, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	incident, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "incident not found", "failed to load incident")
	}
	if !canSee(claims, incident) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot edit this incident")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid incident payload")
	}
	if !req.State.Valid() {
		return nil, appErrors.FieldError("state", "unknown incident state")
	}
	if err := s.checkReferences(ctx, req.ClientID, req.SiteID, req.SystemID); err != nil {
		return nil, err
	}
	if claims.IsManager() {
		technician, err := s.resolveTechnician(ctx, req.AssignedTechnicianID)
		if err != nil {
			return nil, err
		}
		incident.AssignedTechnicianID = technician
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"state": incident.State, "technician": incident.AssignedTechnicianID})
	now := s.now().UTC()
	if req.State != incident.State {
		incident.State = req.State
		incident.StateChangedAt = now
	}
	incident.Title = strings.TrimSpace(req.Title)
	incident.Description = strings.TrimSpace(req.Description)
	incident.ClientID = req.ClientID
	incident.SiteID = req.SiteID
	incident.SystemID = req.SystemID

	existing := incident.AttachmentList()
	captions := incident.CaptionList()
	stored := s.storeAttachments(ctx, req.Uploads, req.Captions, len(existing), now)
	if len(stored.files) > 0 {
		captions = padCaptions(captions, existing)
		incident.Attachments = models.JoinList(append(existing, stored.files...))
		incident.AttachmentCaptions = models.JoinList(append(captions, stored.captions...))
	}
	switch {
	case req.Layout != nil:
		incident.ImageLayout = resolveLayout(req.Layout, existing, stored)
	case incident.ImageLayout != nil && len(stored.files) > 0:
		layout := *incident.ImageLayout
		for i, file := range stored.files {
			layout.Standalone = append(layout.Standalone, models.LayoutImage{File: file, Title: stored.captions[i]})
		}
		incident.ImageLayout = &layout
	}

	if err := s.repo.Update(ctx, incident); err != nil {
		return nil, persistenceError(err, "incident not found", "failed to update incident")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"state": incident.State, "technician": incident.AssignedTechnicianID, "new_attachments": len(stored.files)})
	s.record(ctx, &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     models.AuditActionIncidentUpdate,
		Resource:   "incidents",
		ResourceID: idString(incident.ID),
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return s.reload(ctx, incident), nil
}

func canSee(claims *models.JWTClaims, incident *models.Incident) bool {
	if claims.IsManager() {
		return true
	}
	return claims != nil && incident.AssignedTechnicianID != nil && *incident.AssignedTechnicianID == claims.UserID
}

func (s *IncidentService) checkReferences(ctx context.Context, clientID, siteID, systemID int64) error {
	if _, err := s.catalog.FindClient(ctx, clientID); err != nil {
		return referenceError(err, "client_id", "client does not exist")
	}
	site, err := s.catalog.FindSite(ctx, siteID)
	if err != nil {
		return referenceError(err, "site_id", "site does not exist")
	}
	if site.ClientID != clientID {
		return appErrors.FieldError("site_id", "site does not belong to the selected client")
	}
	if _, err := s.catalog.FindSystem(ctx, systemID); err != nil {
		return referenceError(err, "system_id", "system does not exist")
	}
	return nil
}

func (s *IncidentService) resolveTechnician(ctx context.Context, id *int64) (*int64, error) {
	if id == nil || *id <= 0 {
		return nil, nil
	}
	user, err := s.users.FindByID(ctx, *id)
	if err != nil {
		return nil, referenceError(err, "assigned_technician_id", "technician does not exist")
	}
	if !user.Active {
		return nil, appErrors.FieldError("assigned_technician_id", "technician is inactive")
	}
	techID := user.ID
	return &techID, nil
}

func referenceError(err error, field, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.FieldError(field, message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+strings.TrimSuffix(field, "_id"))
}

type storedAttachments struct {
	files    []string
	captions []string
	// refs maps the names a client may use in a layout (upload position or original
	// filename) to the stored name.
	refs    map[string]string
	dropped int
}

// storeAttachments uploads each file as Incidents/{unix}_{offset+i}{ext}. Oversized or failed
// uploads are skipped.
func (s *IncidentService) storeAttachments(ctx context.Context, uploads []dto.Upload, captions []string, offset int, now time.Time) storedAttachments {
	out := storedAttachments{refs: map[string]string{}}
	for i, upload := range uploads {
		if len(upload.Data) == 0 {
			continue
		}
		original := storage.SecureFilename(upload.Filename)
		if int64(len(upload.Data)) > s.cfg.MaxFileSize {
			s.logger.Warn("attachment exceeds size limit", zap.String("file", original), zap.Int("size", len(upload.Data)))
			out.dropped++
			continue
		}
		name := fmt.Sprintf("%d_%d%s", now.Unix(), offset+i, strings.ToLower(path.Ext(original)))
		if !s.upload(ctx, upload, IncidentAttachmentPrefix+name) {
			out.dropped++
			continue
		}
		caption := ""
		if i < len(captions) {
			caption = sanitizeCaption(captions[i])
		}
		if caption == "" {
			caption = sanitizeCaption(original)
		}
		out.files = append(out.files, name)
		out.captions = append(out.captions, caption)
		out.refs[strconv.Itoa(i)] = name
		if upload.Filename != "" {
			out.refs[upload.Filename] = name
		}
		out.refs[name] = name
	}
	return out
}

func (s *IncidentService) upload(ctx context.Context, upload dto.Upload, logicalPath string) bool {
	if s.store == nil {
		s.metrics.RecordStorageFallback("incident_attachment")
		s.logger.Warn("storage unavailable, attachment dropped", zap.String("path", logicalPath))
		return false
	}
	contentType := upload.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeFor(logicalPath)
	}
	if err := s.store.Upload(ctx, upload.Data, logicalPath, contentType); err != nil {
		s.metrics.RecordStorageFallback("incident_attachment")
		s.logger.Warn("attachment upload failed", zap.String("path", logicalPath), zap.Error(err))
		return false
	}
	if ok, err := s.store.Exists(ctx, logicalPath); err != nil || !ok {
		s.logger.Warn("attachment not visible after upload", zap.String("path", logicalPath), zap.Error(err))
	}
	return true
}

// resolveLayout maps a requested layout onto stored names. Entries that point at files which
// were never stored are dropped.
func resolveLayout(requested *models.ImageLayout, existing []string, stored storedAttachments) *models.ImageLayout {
	if requested == nil {
		return nil
	}
	refs := make(map[string]string, len(existing)+len(stored.refs))
	for _, name := range existing {
		refs[name] = name
	}
	for k, v := range stored.refs {
		refs[k] = v
	}
	titles := make(map[string]string, len(stored.files))
	for i, file := range stored.files {
		titles[file] = stored.captions[i]
	}

	layout := models.ImageLayout{Standalone: []models.LayoutImage{}, Collages: []models.Collage{}}
	for _, img := range requested.Standalone {
		file, ok := refs[strings.TrimSpace(img.File)]
		if !ok {
			continue
		}
		title := sanitizeCaption(img.Title)
		if title == "" {
			title = titles[file]
		}
		layout.Standalone = append(layout.Standalone, models.LayoutImage{File: file, Title: title})
	}
	for _, collage := range requested.Collages {
		title := strings.TrimSpace(collage.Title)
		if title == "" {
			continue
		}
		var images []string
		for _, ref := range collage.Images {
			if file, ok := refs[strings.TrimSpace(ref)]; ok {
				images = append(images, file)
			}
		}
		if len(images) > 0 {
			layout.Collages = append(layout.Collages, models.Collage{Title: title, Images: images})
		}
	}
	if len(layout.Standalone) == 0 && len(layout.Collages) == 0 {
		return nil
	}
	return &layout
}

// sanitizeCaption strips the list separator so captions stay parallel to attachments.
func sanitizeCaption(caption string) string {
	return strings.TrimSpace(strings.ReplaceAll(caption, ",", " "))
}

// padCaptions keeps captions parallel to the attachment list before appending.
func padCaptions(captions, files []string) []string {
	out := make([]string, len(files))
	for i, file := range files {
		if i < len(captions) && captions[i] != "" {
			out[i] = captions[i]
			continue
		}
		out[i] = file
	}
	return out
}

func (s *IncidentService) reload(ctx context.Context, incident *models.Incident) *models.Incident {
	fresh, err := s.repo.FindByID(ctx, incident.ID)
	if err != nil {
		s.logger.Warn("failed to reload incident", zap.Int64("incident_id", incident.ID), zap.Error(err))
		return incident
	}
	return fresh
}

func (s *IncidentService) record(ctx context.Context, entry *models.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}
