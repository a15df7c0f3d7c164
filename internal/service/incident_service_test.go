package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
)

type stubIncidentRepo struct {
	incidents  map[int64]*models.Incident
	lastFilter models.IncidentFilter
	createErr  error
	counter    int64
}

func newStubIncidentRepo() *stubIncidentRepo {
	return &stubIncidentRepo{incidents: map[int64]*models.Incident{}}
}

func (s *stubIncidentRepo) List(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, int, error) {
	s.lastFilter = filter
	rows, _ := s.Select(ctx, filter)
	return rows, len(rows), nil
}

func (s *stubIncidentRepo) Select(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	s.lastFilter = filter
	var out []models.Incident
	for id := int64(1); id <= int64(len(s.incidents)); id++ {
		inc, ok := s.incidents[id]
		if !ok {
			continue
		}
		if filter.VisibleTo != nil && (inc.AssignedTechnicianID == nil || *inc.AssignedTechnicianID != *filter.VisibleTo) {
			continue
		}
		if len(filter.IDs) > 0 && !containsID(filter.IDs, id) {
			continue
		}
		out = append(out, *inc)
	}
	return out, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (s *stubIncidentRepo) FindByID(ctx context.Context, id int64) (*models.Incident, error) {
	if inc, ok := s.incidents[id]; ok {
		copy := *inc
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubIncidentRepo) Create(ctx context.Context, incident *models.Incident, indexID int64) error {
	if s.createErr != nil {
		return s.createErr
	}
	if indexID != 1 {
		return sql.ErrNoRows
	}
	s.counter++
	incident.Code = models.SequenceIndex{Prefix: "INC", Width: 6}.Format(s.counter)
	incident.ID = int64(len(s.incidents) + 1)
	copy := *incident
	s.incidents[incident.ID] = &copy
	return nil
}

func (s *stubIncidentRepo) Update(ctx context.Context, incident *models.Incident) error {
	copy := *incident
	s.incidents[incident.ID] = &copy
	return nil
}

func (s *stubIncidentRepo) Stats(ctx context.Context, visibleTo *int64) (*models.IncidentStats, error) {
	s.lastFilter = models.IncidentFilter{VisibleTo: visibleTo}
	return &models.IncidentStats{Total: len(s.incidents)}, nil
}

type stubIncidentCatalog struct{}

func (stubIncidentCatalog) FindClient(ctx context.Context, id int64) (*models.Client, error) {
	if id == 1 || id == 2 {
		return &models.Client{ID: id, Name: "ACME", Active: true}, nil
	}
	return nil, sql.ErrNoRows
}

func (stubIncidentCatalog) FindSite(ctx context.Context, id int64) (*models.Site, error) {
	switch id {
	case 10:
		return &models.Site{ID: 10, ClientID: 1}, nil
	case 20:
		return &models.Site{ID: 20, ClientID: 2}, nil
	}
	return nil, sql.ErrNoRows
}

func (stubIncidentCatalog) FindSystem(ctx context.Context, id int64) (*models.System, error) {
	if id == 5 {
		return &models.System{ID: 5, Name: "CCTV"}, nil
	}
	return nil, sql.ErrNoRows
}

type memoryUploader struct {
	objects map[string][]byte
	failOn  string
}

func newMemoryUploader() *memoryUploader {
	return &memoryUploader{objects: map[string][]byte{}}
}

func (m *memoryUploader) Upload(ctx context.Context, data []byte, logicalPath, contentType string) error {
	if m.failOn != "" && strings.Contains(logicalPath, m.failOn) {
		return errors.New("bucket unavailable")
	}
	m.objects[logicalPath] = data
	return nil
}

func (m *memoryUploader) Exists(ctx context.Context, logicalPath string) (bool, error) {
	_, ok := m.objects[logicalPath]
	return ok, nil
}

func (m *memoryUploader) Download(ctx context.Context, logicalPath string) ([]byte, error) {
	data, ok := m.objects[logicalPath]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

var (
	adminClaims = &models.JWTClaims{UserID: 1, Role: models.RoleAdministrator}
	techClaims  = &models.JWTClaims{UserID: 7, Role: models.RoleTechnician}
	otherTech   = &models.JWTClaims{UserID: 8, Role: models.RoleTechnician}
)

func newIncidentFixture(t *testing.T) (*IncidentService, *stubIncidentRepo, *memoryUploader, *stubAudit) {
	t.Helper()
	repo := newStubIncidentRepo()
	users := &mockUserRepo{users: map[int64]*models.User{
		7: {ID: 7, FullName: "Tecnico Uno", Active: true},
		9: {ID: 9, FullName: "Tecnico Inactivo", Active: false},
	}}
	store := newMemoryUploader()
	audit := &stubAudit{}
	svc := NewIncidentService(repo, stubIncidentCatalog{}, users, store, audit, nil, nil, nil, IncidentServiceConfig{MaxFileSize: 1024})
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return svc, repo, store, audit
}

func baseCreateRequest() dto.CreateIncidentRequest {
	return dto.CreateIncidentRequest{
		IndexID:     1,
		Title:       "Cámara sin señal",
		Description: "La cámara del lobby no transmite",
		ClientID:    1,
		SiteID:      10,
		SystemID:    5,
	}
}

func TestIncidentServiceCreateStoresAttachments(t *testing.T) {
	svc, repo, store, audit := newIncidentFixture(t)
	store.failOn = "_1.png"
	tech := int64(7)
	req := baseCreateRequest()
	req.AssignedTechnicianID = &tech
	req.Uploads = []dto.Upload{
		{Filename: "lobby.JPG", ContentType: "image/jpeg", Data: []byte("jpeg-1")},
		{Filename: "fallida.png", ContentType: "image/png", Data: []byte("png")},
		{Filename: "grande.jpg", Data: make([]byte, 2048)},
		{Filename: "pasillo.jpg", Data: []byte("jpeg-2")},
	}
	req.Captions = []string{"Lobby, entrada", "", "", ""}
	req.Layout = &models.ImageLayout{
		Standalone: []models.LayoutImage{{File: "0"}},
		Collages:   []models.Collage{{Title: "Recorrido", Images: []string{"pasillo.jpg", "1"}}},
	}

	incident, err := svc.Create(context.Background(), adminClaims, req, models.LoginRequest{IP: "127.0.0.1"})
	require.NoError(t, err)
	require.Equal(t, "INC_000001", incident.Code)
	require.Equal(t, models.IncidentOpen, incident.State)
	require.Equal(t, int64(7), *incident.AssignedTechnicianID)
	require.Equal(t, []string{"1700000000_0.jpg", "1700000000_3.jpg"}, incident.AttachmentList())
	require.Equal(t, []string{"Lobby  entrada", "pasillo.jpg"}, incident.CaptionList())
	require.Contains(t, store.objects, "Incidents/1700000000_0.jpg")
	require.NotContains(t, store.objects, "Incidents/1700000000_1.png")

	require.NotNil(t, incident.ImageLayout)
	require.Equal(t, []models.LayoutImage{{File: "1700000000_0.jpg", Title: "Lobby  entrada"}}, incident.ImageLayout.Standalone)
	require.Equal(t, []models.Collage{{Title: "Recorrido", Images: []string{"1700000000_3.jpg"}}}, incident.ImageLayout.Collages)
	require.NoError(t, incident.ImageLayout.Validate(incident.AttachmentList()))

	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionIncidentCreate, audit.logs[0].Action)
	require.Len(t, repo.incidents, 1)
}

func TestIncidentServiceCreateByTechnicianIgnoresAssignment(t *testing.T) {
	svc, _, _, _ := newIncidentFixture(t)
	other := int64(7)
	req := baseCreateRequest()
	req.AssignedTechnicianID = &other

	incident, err := svc.Create(context.Background(), techClaims, req, models.LoginRequest{})
	require.NoError(t, err)
	require.Nil(t, incident.AssignedTechnicianID)
	require.Equal(t, int64(7), incident.CreatedBy)
}

func TestIncidentServiceCreateValidation(t *testing.T) {
	svc, _, _, _ := newIncidentFixture(t)
	ctx := context.Background()

	req := baseCreateRequest()
	req.IndexID = 3
	_, err := svc.Create(ctx, adminClaims, req, models.LoginRequest{})
	require.Equal(t, "index_id", appErrors.FromError(err).Field)

	req = baseCreateRequest()
	req.SiteID = 20
	_, err = svc.Create(ctx, adminClaims, req, models.LoginRequest{})
	require.Equal(t, "site_id", appErrors.FromError(err).Field)

	req = baseCreateRequest()
	inactive := int64(9)
	req.AssignedTechnicianID = &inactive
	_, err = svc.Create(ctx, adminClaims, req, models.LoginRequest{})
	require.Equal(t, "assigned_technician_id", appErrors.FromError(err).Field)

	req = baseCreateRequest()
	req.Title = ""
	_, err = svc.Create(ctx, adminClaims, req, models.LoginRequest{})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestIncidentServiceVisibility(t *testing.T) {
	svc, repo, _, _ := newIncidentFixture(t)
	ctx := context.Background()
	tech := int64(7)
	repo.incidents[1] = &models.Incident{ID: 1, Code: "INC_000001", AssignedTechnicianID: &tech}
	repo.incidents[2] = &models.Incident{ID: 2, Code: "INC_000002"}

	rows, page, err := svc.List(ctx, techClaims, models.IncidentFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(7), *repo.lastFilter.VisibleTo)
	require.Equal(t, 10, page.PageSize)

	rows, _, err = svc.List(ctx, adminClaims, models.IncidentFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Nil(t, repo.lastFilter.VisibleTo)

	_, err = svc.Get(ctx, techClaims, 2)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	got, err := svc.Get(ctx, techClaims, 1)
	require.NoError(t, err)
	require.Equal(t, "INC_000001", got.Code)

	_, err = svc.Stats(ctx, otherTech)
	require.NoError(t, err)
	require.Equal(t, int64(8), *repo.lastFilter.VisibleTo)

	_, _, err = svc.ByClient(ctx, techClaims, 1, models.IncidentFilter{})
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestIncidentServiceVisibleKeepsRequestedOrder(t *testing.T) {
	svc, repo, _, _ := newIncidentFixture(t)
	tech := int64(7)
	repo.incidents[1] = &models.Incident{ID: 1, AssignedTechnicianID: &tech}
	repo.incidents[2] = &models.Incident{ID: 2}
	repo.incidents[3] = &models.Incident{ID: 3, AssignedTechnicianID: &tech}

	rows, err := svc.Visible(context.Background(), adminClaims, []int64{3, 1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 1, 2}, []int64{rows[0].ID, rows[1].ID, rows[2].ID})

	rows, err = svc.Visible(context.Background(), techClaims, []int64{2, 3})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(3), rows[0].ID)

	_, err = svc.Visible(context.Background(), techClaims, []int64{2})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestIncidentServiceUpdateStateAndPermissions(t *testing.T) {
	svc, repo, _, audit := newIncidentFixture(t)
	ctx := context.Background()
	tech := int64(7)
	started := time.Unix(1600000000, 0).UTC()
	repo.incidents[1] = &models.Incident{
		ID: 1, Code: "INC_000001", State: models.IncidentOpen, StartedAt: started, StateChangedAt: started,
		AssignedTechnicianID: &tech, ClientID: 1, SiteID: 10, SystemID: 5,
		Attachments: "1600000000_0.jpg", AttachmentCaptions: "Fachada",
	}
	req := dto.UpdateIncidentRequest{
		Title: "Cámara sin señal", Description: "Revisada", ClientID: 1, SiteID: 10, SystemID: 5,
		State: models.IncidentOpen,
	}

	_, err := svc.Update(ctx, otherTech, 1, req, models.LoginRequest{})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	updated, err := svc.Update(ctx, techClaims, 1, req, models.LoginRequest{})
	require.NoError(t, err)
	require.Equal(t, started, updated.StateChangedAt)

	req.State = models.IncidentInProgress
	req.AssignedTechnicianID = nil
	req.Uploads = []dto.Upload{{Filename: "nuevo.jpg", Data: []byte("jpeg")}}
	updated, err = svc.Update(ctx, techClaims, 1, req, models.LoginRequest{})
	require.NoError(t, err)
	require.Equal(t, models.IncidentInProgress, updated.State)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), updated.StateChangedAt)
	require.Equal(t, int64(7), *updated.AssignedTechnicianID)
	require.Equal(t, []string{"1600000000_0.jpg", "1700000000_1.jpg"}, updated.AttachmentList())
	require.Equal(t, []string{"Fachada", "nuevo.jpg"}, updated.CaptionList())

	updated, err = svc.Update(ctx, adminClaims, 1, req, models.LoginRequest{})
	require.NoError(t, err)
	require.Nil(t, updated.AssignedTechnicianID)

	req.State = "Pausada"
	_, err = svc.Update(ctx, adminClaims, 1, req, models.LoginRequest{})
	require.Equal(t, "state", appErrors.FromError(err).Field)
	require.Len(t, audit.logs, 3)
}
