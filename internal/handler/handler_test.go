package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/middleware"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
)

var (
	adminClaims = &models.JWTClaims{UserID: 1, Role: models.RoleAdministrator}
	techClaims  = &models.JWTClaims{UserID: 7, Role: models.RoleTechnician}
)

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

type multipartBody struct {
	buf    *bytes.Buffer
	writer *multipart.Writer
}

func newMultipart() *multipartBody {
	buf := &bytes.Buffer{}
	return &multipartBody{buf: buf, writer: multipart.NewWriter(buf)}
}

func (m *multipartBody) field(t *testing.T, key, value string) *multipartBody {
	t.Helper()
	require.NoError(t, m.writer.WriteField(key, value))
	return m
}

func (m *multipartBody) file(t *testing.T, key, name string, data []byte) *multipartBody {
	t.Helper()
	part, err := m.writer.CreateFormFile(key, name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	return m
}

func (m *multipartBody) context(t *testing.T, method, path string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	require.NoError(t, m.writer.Close())
	c, w := newGinContext(method, path, m.buf.Bytes())
	c.Request.Header.Set("Content-Type", m.writer.FormDataContentType())
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

type incidentServiceStub struct {
	created dto.CreateIncidentRequest
	updated dto.UpdateIncidentRequest
	filter  models.IncidentFilter
}

func (s *incidentServiceStub) List(ctx context.Context, claims *models.JWTClaims, filter models.IncidentFilter) ([]models.Incident, *models.Pagination, error) {
	s.filter = filter
	return []models.Incident{{ID: 1, Code: "INC_000001"}}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: 1}, nil
}

func (s *incidentServiceStub) ByClient(ctx context.Context, claims *models.JWTClaims, clientID int64, filter models.IncidentFilter) ([]models.Incident, *models.Pagination, error) {
	return nil, nil, appErrors.ErrForbidden
}

func (s *incidentServiceStub) Get(ctx context.Context, claims *models.JWTClaims, id int64) (*models.Incident, error) {
	if id != 1 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "incident not found")
	}
	return &models.Incident{ID: 1}, nil
}

func (s *incidentServiceStub) Stats(ctx context.Context, claims *models.JWTClaims) (*models.IncidentStats, error) {
	return &models.IncidentStats{Total: 3}, nil
}

func (s *incidentServiceStub) Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateIncidentRequest, meta models.LoginRequest) (*models.Incident, error) {
	s.created = req
	return &models.Incident{ID: 9, Code: "INC_000009"}, nil
}

func (s *incidentServiceStub) Update(ctx context.Context, claims *models.JWTClaims, id int64, req dto.UpdateIncidentRequest, meta models.LoginRequest) (*models.Incident, error) {
	s.updated = req
	return &models.Incident{ID: id}, nil
}

func TestIncidentHandlerCreateMultipart(t *testing.T) {
	svc := &incidentServiceStub{}
	handler := NewIncidentHandler(svc)

	body := newMultipart().
		field(t, "index_id", "1").
		field(t, "title", "Cámara sin señal").
		field(t, "description", "Lobby").
		field(t, "client_id", "2").
		field(t, "site_id", "3").
		field(t, "system_id", "4").
		field(t, "assigned_technician_id", "").
		field(t, "captions", "Frente").
		field(t, "captions", "Lateral").
		field(t, "layout", `{"standalone":[{"file":"a.jpg","title":"Vista"}]}`).
		file(t, "attachments", "a.jpg", []byte("jpeg-a")).
		file(t, "attachments", "b.jpg", []byte("jpeg-b"))
	c, w := body.context(t, http.MethodPost, "/incidents")
	c.Set(middleware.ContextUserKey, techClaims)

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, int64(1), svc.created.IndexID)
	require.Equal(t, "Cámara sin señal", svc.created.Title)
	require.Nil(t, svc.created.AssignedTechnicianID)
	require.Equal(t, []string{"Frente", "Lateral"}, svc.created.Captions)
	require.Len(t, svc.created.Uploads, 2)
	require.Equal(t, "a.jpg", svc.created.Uploads[0].Filename)
	require.Equal(t, []byte("jpeg-b"), svc.created.Uploads[1].Data)
	require.NotNil(t, svc.created.Layout)
	require.Equal(t, "Vista", svc.created.Layout.Standalone[0].Title)
}

func TestIncidentHandlerRejectsBadLayout(t *testing.T) {
	handler := NewIncidentHandler(&incidentServiceStub{})
	c, w := newMultipart().field(t, "title", "x").field(t, "layout", "{not json").context(t, http.MethodPut, "/incidents/1")
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Set(middleware.ContextUserKey, techClaims)

	handler.Update(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	envelope := decodeEnvelope(t, w)
	require.Equal(t, "layout", envelope["error"].(map[string]interface{})["field"])
}

func TestIncidentHandlerListAndGet(t *testing.T) {
	svc := &incidentServiceStub{}
	handler := NewIncidentHandler(svc)

	c, w := newGinContext(http.MethodGet, "/incidents?page=2&state=Abierta", nil)
	c.Set(middleware.ContextUserKey, techClaims)
	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 2, svc.filter.Page)
	require.Equal(t, 10, svc.filter.PageSize)
	require.Equal(t, models.IncidentOpen, *svc.filter.State)

	c, w = newGinContext(http.MethodGet, "/incidents/abc", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	c.Set(middleware.ContextUserKey, techClaims)
	handler.Get(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodGet, "/incidents/5", nil)
	c.Params = gin.Params{{Key: "id", Value: "5"}}
	c.Set(middleware.ContextUserKey, techClaims)
	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)

	c, w = newGinContext(http.MethodGet, "/incidents", nil)
	handler.List(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

type submissionServiceStub struct {
	templateID int64
	req        dto.SubmissionRequest
}

func (s *submissionServiceStub) Submit(ctx context.Context, claims *models.JWTClaims, templateID int64, req dto.SubmissionRequest, meta models.LoginRequest) (*dto.SubmissionResult, error) {
	s.templateID = templateID
	s.req = req
	return &dto.SubmissionResult{Response: &models.FormResponse{ID: 11}, Warnings: []string{"photo.heic: unsupported"}}, nil
}

func (s *submissionServiceStub) List(ctx context.Context, claims *models.JWTClaims, filter models.ResponseFilter) ([]models.FormResponse, *models.Pagination, error) {
	return nil, &models.Pagination{}, nil
}

func (s *submissionServiceStub) Get(ctx context.Context, claims *models.JWTClaims, id int64) (*models.FormResponse, error) {
	return nil, appErrors.ErrForbidden
}

func TestSubmissionHandlerParsesMultipart(t *testing.T) {
	svc := &submissionServiceStub{}
	handler := NewSubmissionHandler(svc)

	body := newMultipart().
		field(t, "field_1", "a@b.com").
		field(t, "field_5", "DVR").
		field(t, "field_5", "NVR").
		field(t, "field_3", "data:image/png;base64,AAAA").
		field(t, "signer_name_3", "Ana Ruiz").
		field(t, "signer_document_3", "1.020.304").
		field(t, "signer_unknown_3", "ignored").
		field(t, "other", "ignored").
		file(t, "field_2", "one.jpg", []byte("1")).
		file(t, "field_2", "two.jpg", []byte("2"))
	c, w := body.context(t, http.MethodPost, "/forms/4/responses")
	c.Params = gin.Params{{Key: "id", Value: "4"}}
	c.Set(middleware.ContextUserKey, techClaims)

	handler.Submit(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, int64(4), svc.templateID)
	require.Equal(t, "a@b.com", svc.req.Values[1])
	require.JSONEq(t, `["DVR","NVR"]`, svc.req.Values[5])
	require.Equal(t, "Ana Ruiz", svc.req.Signers[3].Name)
	require.Equal(t, "1.020.304", svc.req.Signers[3].Document)
	require.Len(t, svc.req.Photos[2], 2)
	require.Equal(t, "one.jpg", svc.req.Photos[2][0].Filename)

	envelope := decodeEnvelope(t, w)
	warnings := envelope["meta"].(map[string]interface{})["warnings"].([]interface{})
	require.Len(t, warnings, 1)
}

func TestSubmissionHandlerAcceptsJSON(t *testing.T) {
	svc := &submissionServiceStub{}
	handler := NewSubmissionHandler(svc)

	c, w := newGinContext(http.MethodPost, "/forms/4/responses", []byte(`{"values":{"1":"a@b.com"}}`))
	c.Params = gin.Params{{Key: "id", Value: "4"}}
	c.Set(middleware.ContextUserKey, techClaims)

	handler.Submit(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "a@b.com", svc.req.Values[1])
}

type reportServiceStub struct {
	token   string
	baseURL string
}

func (s *reportServiceStub) IncidentPDF(ctx context.Context, claims *models.JWTClaims, req dto.IncidentReportRequest, meta models.LoginRequest) (*dto.FileResult, error) {
	return &dto.FileResult{Filename: "informe.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}, nil
}

func (s *reportServiceStub) IncidentCSV(ctx context.Context, claims *models.JWTClaims, req dto.IncidentExportRequest, meta models.LoginRequest) (*dto.FileResult, error) {
	if len(req.IDs) == 0 {
		return nil, appErrors.FieldError("ids", "select at least one incident")
	}
	return &dto.FileResult{Filename: "informe_incidencias_20240305_1430.csv", ContentType: "text/csv; charset=utf-8", Data: []byte("a,b")}, nil
}

func (s *reportServiceStub) IncidentXLSX(ctx context.Context, claims *models.JWTClaims, req dto.IncidentExportRequest, meta models.LoginRequest) (*dto.FileResult, error) {
	return nil, appErrors.ErrForbidden
}

func (s *reportServiceStub) ResponsePDF(ctx context.Context, claims *models.JWTClaims, id int64) (*dto.FileResult, error) {
	return &dto.FileResult{Filename: "documento_1.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}, nil
}

func (s *reportServiceStub) SignedLink(ctx context.Context, claims *models.JWTClaims, id int64, baseURL string) (*dto.SignedLinkResponse, error) {
	s.baseURL = baseURL
	return &dto.SignedLinkResponse{URL: baseURL + "/downloads/tok", Token: "tok"}, nil
}

func (s *reportServiceStub) ResolveSignedLink(ctx context.Context, token string) (*dto.FileResult, error) {
	s.token = token
	if token != "tok" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "link expired")
	}
	return &dto.FileResult{Filename: "documento_1.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}, nil
}

func TestReportHandlerExports(t *testing.T) {
	svc := &reportServiceStub{}
	handler := NewReportHandler(svc, "/api/v1/")

	c, w := newGinContext(http.MethodPost, "/reports/incidents/csv", []byte(`{"ids":[1,2]}`))
	c.Set(middleware.ContextUserKey, adminClaims)
	handler.IncidentCSV(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, `attachment; filename="informe_incidencias_20240305_1430.csv"`, w.Header().Get("Content-Disposition"))
	require.Equal(t, "a,b", w.Body.String())

	c, w = newGinContext(http.MethodPost, "/reports/incidents/csv", []byte(`{"ids":[]}`))
	c.Set(middleware.ContextUserKey, adminClaims)
	handler.IncidentCSV(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodPost, "/reports/incidents/xlsx", []byte(`{"ids":[1]}`))
	c.Set(middleware.ContextUserKey, adminClaims)
	handler.IncidentXLSX(c)
	require.Equal(t, http.StatusForbidden, w.Code)

	c, w = newGinContext(http.MethodPost, "/responses/1/pdf-link", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Set(middleware.ContextUserKey, techClaims)
	handler.PDFLink(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "/api/v1", svc.baseURL)
}

type fileServiceStub struct {
	presigned bool
}

func (s *fileServiceStub) Fetch(ctx context.Context, claims *models.JWTClaims, logicalPath string) (*dto.FileResult, error) {
	if logicalPath != "/Incidents/1_0.jpg" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	return &dto.FileResult{Filename: "1_0.jpg", ContentType: "image/jpeg", Data: []byte("jpeg")}, nil
}

func (s *fileServiceStub) Presign(ctx context.Context, claims *models.JWTClaims, logicalPath string) (*dto.SignedLinkResponse, bool, error) {
	if !s.presigned {
		return nil, false, nil
	}
	return &dto.SignedLinkResponse{URL: "https://bucket.example/Incidents/1_0.jpg?sig=1"}, true, nil
}

func TestFileHandlerServe(t *testing.T) {
	svc := &fileServiceStub{}
	handler := NewFileHandler(svc)

	c, w := newGinContext(http.MethodGet, "/files/Incidents/1_0.jpg?presign=true", nil)
	c.Params = gin.Params{{Key: "path", Value: "/Incidents/1_0.jpg"}}
	c.Set(middleware.ContextUserKey, techClaims)
	handler.Serve(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	require.Equal(t, "jpeg", w.Body.String())

	svc.presigned = true
	c, w = newGinContext(http.MethodGet, "/files/Incidents/1_0.jpg?presign=true", nil)
	c.Params = gin.Params{{Key: "path", Value: "/Incidents/1_0.jpg"}}
	c.Set(middleware.ContextUserKey, techClaims)
	handler.Serve(c)
	require.Equal(t, http.StatusTemporaryRedirect, w.Code)
	require.Contains(t, w.Header().Get("Location"), "bucket.example")
}
