package service

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
)

func TestReportRendererSkipsCorruptAttachment(t *testing.T) {
	store := newMemoryUploader()
	store.objects["Incidents/1_0.jpg"] = testJPEG(t, 40, 30, 20)
	store.objects["Incidents/1_1.jpg"] = []byte("corrupted bytes")
	store.objects["Incidents/1_2.jpg"] = testJPEG(t, 30, 40, 90)
	renderer := NewReportRenderer(store, nil, nil, RendererConfig{})

	incidents := []models.Incident{{
		ID: 1, Code: "INC_000001", Title: "Cámara sin señal", State: models.IncidentOpen,
		ClientName: "Edificio Norte", SiteName: "Lobby", SystemName: "CCTV",
		Attachments: "1_0.jpg,1_1.jpg,1_2.jpg", AttachmentCaptions: "Frente,Dañada,Lateral",
	}}
	report, err := renderer.RenderIncidents(context.Background(), incidents, dto.IncidentReportRequest{
		IDs: []int64{1}, Introduction: "Visita de mantenimiento", Conclusion: "Sin novedades",
	})
	require.NoError(t, err)
	require.Equal(t, ReportIncidentSet, report.Kind)
	require.True(t, bytes.HasPrefix(report.Data, []byte("%PDF")))
	require.Equal(t, 2, report.Images)
	require.Equal(t, 1, report.Missing)
}

func TestReportRendererIncidentSummary(t *testing.T) {
	incidents := []models.Incident{
		{ID: 2, Code: "INC_000002", Title: "Puerta forzada", SiteName: "Bodega", State: models.IncidentClosed, TechnicianName: "Luis"},
		{ID: 1, Code: "INC_000001", Title: "Cámara sin señal", State: models.IncidentOpen},
	}
	summary := incidentSummary(incidents)
	require.Equal(t, []string{"Código", "Título", "Sede", "Estado", "Técnico"}, summary.Headers)
	require.Equal(t, [][]string{
		{"INC_000002", "Puerta forzada", "Bodega", "Cerrada", "Luis"},
		{"INC_000001", "Cámara sin señal", "-", "Abierta", "-"},
	}, summary.Rows)

	renderer := NewReportRenderer(newMemoryUploader(), nil, nil, RendererConfig{})
	report, err := renderer.RenderIncidents(context.Background(), incidents, dto.IncidentReportRequest{IDs: []int64{2, 1}})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(report.Data, []byte("%PDF")))
}

func TestReportRendererGroupsAndLayouts(t *testing.T) {
	store := newMemoryUploader()
	for _, name := range []string{"Incidents/a.jpg", "Incidents/b.jpg", "Incidents/c.jpg"} {
		store.objects[name] = testJPEG(t, 20, 20, 50)
	}
	renderer := NewReportRenderer(store, nil, nil, RendererConfig{})
	incidents := []models.Incident{
		{ID: 2, Code: "INC_000002", Title: "Cerrada", State: models.IncidentClosed, Attachments: "c.jpg"},
		{ID: 1, Code: "INC_000001", Title: "Abierta", State: models.IncidentOpen, Attachments: "a.jpg,b.jpg",
			ImageLayout: &models.ImageLayout{
				Standalone: []models.LayoutImage{{File: "a.jpg", Title: "Vista general"}},
				Collages:   []models.Collage{{Title: "Detalle", Images: []string{"a.jpg", "b.jpg", "falta.jpg"}}},
			}},
	}
	report, err := renderer.RenderIncidents(context.Background(), incidents, dto.IncidentReportRequest{IDs: []int64{2, 1}, GroupByState: true})
	require.NoError(t, err)
	require.Equal(t, 3, report.Images)
	require.Equal(t, 1, report.Missing)

	groups := groupByState(append(incidents, models.Incident{ID: 3, State: models.IncidentOpen}))
	require.Len(t, groups, 2)
	require.Equal(t, models.IncidentOpen, groups[0].state)
	require.Equal(t, []int64{1, 3}, []int64{groups[0].incidents[0].ID, groups[0].incidents[1].ID})
}

func responseFixture(t *testing.T, store *memoryUploader, photos int) (*models.FormResponse, []models.FormField) {
	t.Helper()
	var files []string
	for i := 0; i < photos; i++ {
		name := fmt.Sprintf("Forms/images/2_1_20240305_143000_%d.jpg", i+1)
		store.objects[name] = testJPEG(t, 32, 24, uint8(i*40))
		files = append(files, name)
	}
	email := "a@b.com"
	joined := models.JoinList(files)
	signature := testSignature(t)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	resp := &models.FormResponse{
		ID: 1, TemplateID: 1, TemplateName: "Inspección", SubmitterName: "Tecnico Uno",
		SubmittedAt: time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC),
		Answers: []models.FieldResponse{
			{FieldID: 1, TextValue: &email},
			{FieldID: 2, FileValue: &joined},
			{FieldID: 3, FileValue: &signature, SignerInfo: models.SignerInfo{Name: models.StringPtr("Ana Ruiz")}},
			{FieldID: 6, DateValue: &date},
		},
	}
	fields, err := inspectionTemplate().ListFields(context.Background(), 1)
	require.NoError(t, err)
	return resp, fields
}

func TestReportRendererFormResponse(t *testing.T) {
	store := newMemoryUploader()
	renderer := NewReportRenderer(store, nil, nil, RendererConfig{})
	resp, fields := responseFixture(t, store, 2)

	report, err := renderer.RenderResponse(context.Background(), resp, fields)
	require.NoError(t, err)
	require.Equal(t, ReportFormResponse, report.Kind)
	require.True(t, bytes.HasPrefix(report.Data, []byte("%PDF")))
	require.Equal(t, 2, report.Images)
	require.Zero(t, report.Missing)
}

func TestReportRendererCapsPhotosAndSurvivesLostSignature(t *testing.T) {
	store := newMemoryUploader()
	renderer := NewReportRenderer(store, nil, nil, RendererConfig{MaxPhotosPerField: 2})
	resp, fields := responseFixture(t, store, 3)
	lost := "Forms/signatures/3_1_20240305_143000.png"
	resp.Answers[2].FileValue = &lost

	report, err := renderer.RenderResponse(context.Background(), resp, fields)
	require.NoError(t, err)
	require.Equal(t, 2, report.Images)
	require.Equal(t, 1, report.Missing)

	truncated := testSignature(t)[:80] + truncationMarker
	resp.Answers[2].FileValue = &truncated
	report, err = renderer.RenderResponse(context.Background(), resp, fields)
	require.NoError(t, err)
	require.Equal(t, 1, report.Missing)
}

func TestReportRendererWithoutStorage(t *testing.T) {
	renderer := NewReportRenderer(nil, nil, nil, RendererConfig{})
	resp, fields := responseFixture(t, newMemoryUploader(), 1)
	report, err := renderer.RenderResponse(context.Background(), resp, fields)
	require.NoError(t, err)
	require.Zero(t, report.Images)
	require.Equal(t, 1, report.Missing)
}
