package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	"github.com/CristianBACSCol/ERP-BACS/internal/repository"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
)

type stubResponseRepo struct {
	responses map[int64]*models.FormResponse
	builds    int
	lastList  models.ResponseFilter
	pdfPaths  map[int64]*string
}

func newStubResponseRepo() *stubResponseRepo {
	return &stubResponseRepo{responses: map[int64]*models.FormResponse{}, pdfPaths: map[int64]*string{}}
}

func (s *stubResponseRepo) CreateResponse(ctx context.Context, resp *models.FormResponse, build repository.AnswerBuilder) error {
	s.builds++
	id := int64(len(s.responses) + 1)
	answers, err := build(id)
	if err != nil {
		return err
	}
	resp.ID = id
	for i := range answers {
		answers[i].ID = int64(i + 1)
		answers[i].ResponseID = id
	}
	resp.Answers = answers
	copy := *resp
	s.responses[id] = &copy
	return nil
}

func (s *stubResponseRepo) FindByID(ctx context.Context, id int64) (*models.FormResponse, error) {
	if resp, ok := s.responses[id]; ok {
		copy := *resp
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubResponseRepo) List(ctx context.Context, filter models.ResponseFilter) ([]models.FormResponse, int, error) {
	s.lastList = filter
	var out []models.FormResponse
	for id := int64(1); id <= int64(len(s.responses)); id++ {
		resp := s.responses[id]
		if filter.SubmittedBy != nil && resp.SubmittedBy != *filter.SubmittedBy {
			continue
		}
		out = append(out, *resp)
	}
	return out, len(out), nil
}

func (s *stubResponseRepo) SetPDFPath(ctx context.Context, id int64, path *string) error {
	if _, ok := s.responses[id]; !ok {
		return sql.ErrNoRows
	}
	s.pdfPaths[id] = path
	s.responses[id].PDFPath = path
	return nil
}

type recordingScheduler struct{ ids []int64 }

func (r *recordingScheduler) SchedulePDF(responseID int64) { r.ids = append(r.ids, responseID) }

func testJPEG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, img, &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

func testSignature(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for x := 5; x < 35; x++ {
		img.Set(x, 10, color.NRGBA{A: 255})
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// inspectionTemplate: 1 email text, 2 photo, 3 signature, 4 informational, 5 multi-select, 6 date.
func inspectionTemplate() *stubFormRepo {
	repo := newStubFormRepo()
	repo.templates[1] = &models.FormTemplate{ID: 1, Name: "Inspección", Active: true}
	repo.templates[2] = &models.FormTemplate{ID: 2, Name: "Retirado", Active: false}
	repo.fields[1] = &models.FormField{ID: 1, TemplateID: 1, Type: models.FieldText, Title: "Correo", Required: true, Position: 1,
		Config: models.FieldConfig{Validation: models.ValidationEmail}}
	repo.fields[2] = &models.FormField{ID: 2, TemplateID: 1, Type: models.FieldPhoto, Title: "Evidencia", Position: 2}
	repo.fields[3] = &models.FormField{ID: 3, TemplateID: 1, Type: models.FieldSignature, Title: "Firma cliente", Position: 3}
	repo.fields[4] = &models.FormField{ID: 4, TemplateID: 1, Type: models.FieldInformational, Title: "Aviso", Position: 4}
	repo.fields[5] = &models.FormField{ID: 5, TemplateID: 1, Type: models.FieldMultiSelect, Title: "Equipos", Position: 5,
		Config: models.FieldConfig{Options: []string{"DVR", "Cámara", "NVR"}}}
	repo.fields[6] = &models.FormField{ID: 6, TemplateID: 1, Type: models.FieldDate, Title: "Fecha", Position: 6}
	return repo
}

func newSubmissionFixture(t *testing.T) (*SubmissionService, *stubResponseRepo, *memoryUploader, *recordingScheduler) {
	t.Helper()
	responses := newStubResponseRepo()
	store := newMemoryUploader()
	scheduler := &recordingScheduler{}
	svc := NewSubmissionService(responses, inspectionTemplate(), store, &stubAudit{}, nil, nil, SubmissionServiceConfig{PhotoMaxFileSize: 64 * 1024, PhotoWorkers: 2})
	svc.now = func() time.Time { return time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC) }
	svc.SetScheduler(scheduler)
	return svc, responses, store, scheduler
}

func answerFor(resp *models.FormResponse, fieldID int64) *models.FieldResponse {
	for i := range resp.Answers {
		if resp.Answers[i].FieldID == fieldID {
			return &resp.Answers[i]
		}
	}
	return nil
}

func TestSubmissionServiceStoresAnswersInOrder(t *testing.T) {
	svc, responses, store, scheduler := newSubmissionFixture(t)
	req := dto.SubmissionRequest{
		Values: map[int64]string{
			1: " a@b.com ",
			3: testSignature(t),
			5: `["NVR","DVR"]`,
			6: "2024-03-01",
		},
		Signers: map[int64]dto.SignerInput{3: {Name: " Ana Ruiz ", Document: "1.020.304", Phone: "+57 (300) 123-4567"}},
		Photos: map[int64][]dto.Upload{2: {
			{Filename: "frente.jpg", ContentType: "image/jpeg", Data: testJPEG(t, 32, 24, 10)},
			{Filename: "notas.txt", ContentType: "text/plain", Data: []byte("hola")},
			{Filename: "dañada.jpg", ContentType: "image/jpeg", Data: []byte("not an image")},
			{Filename: "lateral.jpg", ContentType: "image/jpeg", Data: testJPEG(t, 24, 32, 200)},
		}},
	}

	result, err := svc.Submit(context.Background(), techClaims, 1, req, models.LoginRequest{})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 2)
	require.Equal(t, []int64{1}, scheduler.ids)

	saved := responses.responses[result.Response.ID]
	require.Len(t, saved.Answers, 5)
	require.Nil(t, answerFor(saved, 4))
	require.Equal(t, "a@b.com", answerFor(saved, 1).Text())

	photos := answerFor(saved, 2).Files()
	require.Equal(t, []string{
		"Forms/images/2_1_20240305_143000_1.jpg",
		"Forms/images/2_1_20240305_143000_4.jpg",
	}, photos)
	for _, p := range photos {
		require.Contains(t, store.objects, p)
	}

	sig := answerFor(saved, 3)
	require.Equal(t, "Forms/signatures/3_1_20240305_143000.png", *sig.FileValue)
	require.Contains(t, store.objects, *sig.FileValue)
	require.Equal(t, "Ana Ruiz", *sig.Name)
	require.Equal(t, "1020304", *sig.Document)
	require.Equal(t, "573001234567", *sig.Phone)
	require.Nil(t, sig.Company)

	multi := answerFor(saved, 5)
	require.Equal(t, "NVR, DVR", multi.Text())
	require.JSONEq(t, `["NVR","DVR"]`, string(multi.JSONValue))
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *answerFor(saved, 6).DateValue)
}

func TestSubmissionServiceSmallPhotosKeepTheirFormat(t *testing.T) {
	svc, responses, store, _ := newSubmissionFixture(t)
	img := image.NewNRGBA(image.Rect(0, 0, 16, 12))
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	small := buf.Bytes()

	req := dto.SubmissionRequest{
		Values: map[int64]string{1: "a@b.com"},
		Photos: map[int64][]dto.Upload{2: {
			{Filename: "plano.PNG", ContentType: "image/png", Data: small},
			{Filename: "frente.jpeg", ContentType: "image/jpeg", Data: testJPEG(t, 16, 12, 30)},
		}},
	}
	result, err := svc.Submit(context.Background(), techClaims, 1, req, models.LoginRequest{})
	require.NoError(t, err)

	photos := answerFor(responses.responses[result.Response.ID], 2).Files()
	require.Equal(t, []string{
		"Forms/images/2_1_20240305_143000_1.png",
		"Forms/images/2_1_20240305_143000_2.jpg",
	}, photos)
	require.Equal(t, small, store.objects[photos[0]])
}

func TestSubmissionServiceRejectsInvalidEmailWithoutPersisting(t *testing.T) {
	svc, responses, store, scheduler := newSubmissionFixture(t)
	req := dto.SubmissionRequest{
		Values: map[int64]string{1: "not-an-email"},
		Photos: map[int64][]dto.Upload{2: {{Filename: "a.jpg", Data: testJPEG(t, 8, 8, 1)}}},
	}
	_, err := svc.Submit(context.Background(), techClaims, 1, req, models.LoginRequest{})
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.Equal(t, "field_1", appErr.Field)
	require.Zero(t, responses.builds)
	require.Empty(t, responses.responses)
	require.Empty(t, store.objects)
	require.Empty(t, scheduler.ids)

	_, err = svc.Submit(context.Background(), techClaims, 1, dto.SubmissionRequest{}, models.LoginRequest{})
	require.Equal(t, "field_1", appErrors.FromError(err).Field)
}

func TestSubmissionServiceFieldRules(t *testing.T) {
	svc, responses, _, _ := newSubmissionFixture(t)
	ctx := context.Background()
	base := func() map[int64]string { return map[int64]string{1: "a@b.com"} }

	values := base()
	values[3] = testSignature(t)
	_, err := svc.Submit(ctx, techClaims, 1, dto.SubmissionRequest{
		Values:  values,
		Signers: map[int64]dto.SignerInput{3: {Phone: "300-ABC"}},
	}, models.LoginRequest{})
	require.Equal(t, "field_3_phone", appErrors.FromError(err).Field)

	_, err = svc.Submit(ctx, techClaims, 1, dto.SubmissionRequest{
		Values:  values,
		Signers: map[int64]dto.SignerInput{3: {Document: "CC12345"}},
	}, models.LoginRequest{})
	require.Equal(t, "field_3_document", appErrors.FromError(err).Field)

	values = base()
	values[5] = "DVR, Alarma"
	_, err = svc.Submit(ctx, techClaims, 1, dto.SubmissionRequest{Values: values}, models.LoginRequest{})
	require.Equal(t, "field_5", appErrors.FromError(err).Field)

	values = base()
	values[6] = "01/03/2024"
	_, err = svc.Submit(ctx, techClaims, 1, dto.SubmissionRequest{Values: values}, models.LoginRequest{})
	require.Equal(t, "field_6", appErrors.FromError(err).Field)
	require.Empty(t, responses.responses)

	_, err = svc.Submit(ctx, techClaims, 2, dto.SubmissionRequest{Values: base()}, models.LoginRequest{})
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	result, err := svc.Submit(ctx, techClaims, 1, dto.SubmissionRequest{Values: base()}, models.LoginRequest{})
	require.NoError(t, err)
	saved := responses.responses[result.Response.ID]
	require.Nil(t, answerFor(saved, 6).DateValue)
	require.Equal(t, "", *answerFor(saved, 2).FileValue)
	require.Nil(t, answerFor(saved, 3).FileValue)
}

func TestSubmissionServiceMultiSelectKeepsCommaOptions(t *testing.T) {
	repo := newStubFormRepo()
	repo.templates[1] = &models.FormTemplate{ID: 1, Name: "Revisión", Active: true}
	repo.fields[1] = &models.FormField{ID: 1, TemplateID: 1, Type: models.FieldMultiSelect, Title: "Estado", Required: true, Position: 1,
		Config: models.FieldConfig{Options: []string{"Sí, con observaciones", "No", "Pendiente"}}}
	responses := newStubResponseRepo()
	svc := NewSubmissionService(responses, repo, newMemoryUploader(), &stubAudit{}, nil, nil, SubmissionServiceConfig{})
	ctx := context.Background()

	cases := []struct {
		raw  string
		want string
	}{
		{"Sí, con observaciones", `["Sí, con observaciones"]`},
		{"Sí, con observaciones, Pendiente", `["Sí, con observaciones","Pendiente"]`},
		{"No,Sí, con observaciones", `["No","Sí, con observaciones"]`},
		{`["Sí, con observaciones","No"]`, `["Sí, con observaciones","No"]`},
	}
	for _, tc := range cases {
		result, err := svc.Submit(ctx, techClaims, 1, dto.SubmissionRequest{Values: map[int64]string{1: tc.raw}}, models.LoginRequest{})
		require.NoError(t, err, tc.raw)
		answer := answerFor(responses.responses[result.Response.ID], 1)
		require.JSONEq(t, tc.want, string(answer.JSONValue), tc.raw)
	}

	_, err := svc.Submit(ctx, techClaims, 1, dto.SubmissionRequest{Values: map[int64]string{1: "Sí"}}, models.LoginRequest{})
	require.Equal(t, "field_1", appErrors.FromError(err).Field)
}

func TestSubmissionServiceSignatureFallsBackInline(t *testing.T) {
	svc, responses, store, _ := newSubmissionFixture(t)
	store.failOn = "Forms/signatures/"
	signature := testSignature(t)

	result, err := svc.Submit(context.Background(), techClaims, 1, dto.SubmissionRequest{
		Values: map[int64]string{1: "a@b.com", 3: signature},
	}, models.LoginRequest{})
	require.NoError(t, err)
	require.Equal(t, signature, *answerFor(responses.responses[result.Response.ID], 3).FileValue)

	svc.store = nil
	result, err = svc.Submit(context.Background(), techClaims, 1, dto.SubmissionRequest{
		Values: map[int64]string{1: "a@b.com", 3: "garbage-that-is-not-base64"},
	}, models.LoginRequest{})
	require.NoError(t, err)
	require.Equal(t, "garbage-that-is-not-base64", *answerFor(responses.responses[result.Response.ID], 3).FileValue)
}

func TestInlineSignatureTruncates(t *testing.T) {
	long := strings.Repeat("A", inlineSignatureLimit+50)
	got := InlineSignature(long)
	require.Len(t, got, inlineSignatureLimit+len(truncationMarker))
	require.True(t, strings.HasSuffix(got, "... [TRUNCADO]"))
	require.Equal(t, "short", InlineSignature("short"))
}

func TestSubmissionServiceVisibility(t *testing.T) {
	svc, responses, _, _ := newSubmissionFixture(t)
	responses.responses[1] = &models.FormResponse{ID: 1, TemplateID: 1, SubmittedBy: 7}
	responses.responses[2] = &models.FormResponse{ID: 2, TemplateID: 1, SubmittedBy: 8}
	ctx := context.Background()

	rows, page, err := svc.List(ctx, techClaims, models.ResponseFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(7), *responses.lastList.SubmittedBy)
	require.Equal(t, 20, page.PageSize)

	rows, _, err = svc.List(ctx, adminClaims, models.ResponseFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	_, err = svc.Get(ctx, techClaims, 2)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	got, err := svc.Get(ctx, otherTech, 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.ID)
	_, err = svc.Get(ctx, adminClaims, 9)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}
