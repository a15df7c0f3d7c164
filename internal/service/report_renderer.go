package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	"github.com/CristianBACSCol/ERP-BACS/pkg/export"
	"github.com/CristianBACSCol/ERP-BACS/pkg/imageproc"
)

// ReportKind selects one of the two document layouts produced by ReportRenderer.
type ReportKind string

const (
	ReportIncidentSet  ReportKind = "incident_set"
	ReportFormResponse ReportKind = "form_response"
)

const placeholderWidth, placeholderHeight = 60.0, 20.0

type objectReader interface {
	Download(ctx context.Context, logicalPath string) ([]byte, error)
	Exists(ctx context.Context, logicalPath string) (bool, error)
}

// RendererConfig carries the shared header assets and render bounds.
type RendererConfig struct {
	Logo              []byte
	Footer            string
	Author            string
	MaxPhotosPerField int
	Workers           int
}

// RenderedReport is a finished PDF plus what went into it.
type RenderedReport struct {
	Kind    ReportKind
	Data    []byte
	Images  int
	Missing int
}

// ReportRenderer builds incident-set and form-response PDFs on one document builder. Missing
// or corrupt images become placeholders; they never fail the document.
type ReportRenderer struct {
	store   objectReader
	metrics *MetricsService
	logger  *zap.Logger
	cfg     RendererConfig
	now     func() time.Time
}

// NewReportRenderer constructs a ReportRenderer. store may be nil, in which case every image
// renders as a placeholder.
func NewReportRenderer(store objectReader, metrics *MetricsService, logger *zap.Logger, cfg RendererConfig) *ReportRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPhotosPerField <= 0 {
		cfg.MaxPhotosPerField = 20
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &ReportRenderer{store: store, metrics: metrics, logger: logger, cfg: cfg, now: time.Now}
}

// renderState tracks one document while it is being built.
type renderState struct {
	doc     *export.Document
	images  map[string][]byte
	missing int
}

func (r *ReportRenderer) render(ctx context.Context, kind ReportKind, opts export.DocumentOptions, paths []string, body func(*renderState)) (*RenderedReport, error) {
	start := time.Now()
	opts.Logo = r.cfg.Logo
	opts.Footer = r.cfg.Footer
	opts.Author = r.cfg.Author
	state := &renderState{doc: export.NewDocument(opts), images: r.prefetch(ctx, paths)}
	body(state)
	data, err := state.doc.Bytes()
	if err != nil {
		r.metrics.ObservePDFRender(string(kind), OutcomeFailed, time.Since(start))
		return nil, err
	}
	outcome := OutcomeSuccess
	if state.missing > 0 {
		outcome = OutcomeFallback
	}
	r.metrics.ObservePDFRender(string(kind), outcome, time.Since(start))
	return &RenderedReport{Kind: kind, Data: data, Images: state.doc.ImageCount(), Missing: state.missing}, nil
}

// prefetch downloads every distinct path over a bounded pool. Paths that do not exist or fail
// to download are absent from the result.
func (r *ReportRenderer) prefetch(ctx context.Context, paths []string) map[string][]byte {
	unique := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if _, dup := seen[p]; dup || p == "" {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}
	out := make(map[string][]byte, len(unique))
	if r.store == nil || len(unique) == 0 {
		return out
	}
	mapper := iter.Mapper[string, []byte]{MaxGoroutines: r.cfg.Workers}
	results := mapper.Map(unique, func(p *string) []byte {
		ok, err := r.store.Exists(ctx, *p)
		if err != nil || !ok {
			r.logger.Warn("report image missing", zap.String("path", *p), zap.Error(err))
			return nil
		}
		data, err := r.store.Download(ctx, *p)
		if err != nil {
			r.logger.Warn("report image download failed", zap.String("path", *p), zap.Error(err))
			return nil
		}
		return data
	})
	for i, data := range results {
		if data != nil {
			out[unique[i]] = data
		}
	}
	return out
}

// image embeds a prefetched image or draws a placeholder in its place.
func (r *ReportRenderer) image(state *renderState, logicalPath, caption string, sizing export.Sizing) {
	if data, ok := state.images[logicalPath]; ok {
		err := state.doc.Image(data, caption, sizing)
		if err == nil {
			return
		}
		r.logger.Warn("report image could not be decoded", zap.String("path", logicalPath), zap.Error(err))
	}
	state.missing++
	state.doc.Placeholder("[Imagen no disponible: "+caption+"]", placeholderWidth, placeholderHeight)
}

// RenderIncidents renders the incident-set report in the given order, optionally grouped by state.
func (r *ReportRenderer) RenderIncidents(ctx context.Context, incidents []models.Incident, meta dto.IncidentReportRequest) (*RenderedReport, error) {
	date := strings.TrimSpace(meta.Date)
	if date == "" {
		date = r.now().Format("2006-01-02")
	}
	var paths []string
	for _, inc := range incidents {
		for _, file := range inc.AttachmentList() {
			paths = append(paths, IncidentAttachmentPrefix+file)
		}
	}
	opts := export.DocumentOptions{Title: "INFORME TÉCNICO DE ACTIVIDADES", Date: date}
	return r.render(ctx, ReportIncidentSet, opts, paths, func(state *renderState) {
		doc := state.doc
		client, contact, title := meta.ClientName, meta.ContactName, meta.ContactTitle
		if len(incidents) > 0 {
			client = fallback(client, incidents[0].ClientName)
			contact = fallback(contact, incidents[0].ClientContact)
			title = fallback(title, incidents[0].ContactTitle)
		}
		doc.KeyValueTable([][2]string{
			{"Cliente", fallback(client, "-")},
			{"Contacto", fallback(contact, "-")},
			{"Cargo", fallback(title, "-")},
			{"Alcance", fallback(meta.Scope, "-")},
			{"Fecha", date},
		})
		if text := strings.TrimSpace(meta.Introduction); text != "" {
			doc.Heading("Introducción")
			doc.Paragraph(text)
		}

		if len(incidents) > 1 {
			doc.Heading("Resumen")
			if err := doc.Table(incidentSummary(incidents)); err != nil {
				r.logger.Warn("incident summary skipped", zap.Error(err))
			}
		}

		doc.Heading("Actividades")
		if meta.GroupByState {
			for _, group := range groupByState(incidents) {
				doc.Subheading(fmt.Sprintf("Estado: %s (%d)", group.state, len(group.incidents)))
				for _, inc := range group.incidents {
					r.incidentBlock(state, inc)
				}
			}
		} else {
			for _, inc := range incidents {
				r.incidentBlock(state, inc)
			}
		}

		if text := strings.TrimSpace(meta.Conclusion); text != "" {
			doc.Heading("Conclusiones")
			doc.Paragraph(text)
		}
		doc.Spacer(4)
		doc.Note(fmt.Sprintf("Imágenes incluidas en el informe: %d", doc.ImageCount()))
	})
}

func (r *ReportRenderer) incidentBlock(state *renderState, inc models.Incident) {
	doc := state.doc
	doc.Subheading(fmt.Sprintf("%s - %s", inc.Code, inc.Title))
	doc.Field("Cliente", inc.ClientName)
	doc.Field("Sede", inc.SiteName)
	doc.Field("Sistema", inc.SystemName)
	doc.Field("Estado", string(inc.State))
	if inc.TechnicianName != "" {
		doc.Field("Técnico", inc.TechnicianName)
	}
	if inc.Description != "" {
		doc.Paragraph(inc.Description)
	}

	files := inc.AttachmentList()
	if inc.ImageLayout != nil {
		for _, img := range inc.ImageLayout.Standalone {
			r.image(state, IncidentAttachmentPrefix+img.File, fallback(img.Title, img.File), export.ReportSizing)
		}
		for _, collage := range inc.ImageLayout.Collages {
			images := make([][]byte, 0, len(collage.Images))
			for _, file := range collage.Images {
				images = append(images, state.images[IncidentAttachmentPrefix+file])
			}
			if skipped := doc.Collage(images, collage.Title); skipped > 0 {
				state.missing += skipped
				r.logger.Warn("collage images skipped", zap.String("collage", collage.Title), zap.Int("skipped", skipped))
			}
		}
		return
	}
	captions := inc.CaptionList()
	for i, file := range files {
		caption := file
		if i < len(captions) && captions[i] != "" {
			caption = captions[i]
		}
		r.image(state, IncidentAttachmentPrefix+file, caption, export.ReportSizing)
	}
}

type stateGroup struct {
	state     models.IncidentState
	incidents []models.Incident
}

// groupByState buckets incidents by workflow state, keeping input order inside each bucket.
// incidentSummary lists one row per incident in request order.
func incidentSummary(incidents []models.Incident) export.Dataset {
	data := export.Dataset{Headers: []string{"Código", "Título", "Sede", "Estado", "Técnico"}}
	for _, inc := range incidents {
		data.Rows = append(data.Rows, []string{
			inc.Code,
			inc.Title,
			fallback(inc.SiteName, "-"),
			string(inc.State),
			fallback(inc.TechnicianName, "-"),
		})
	}
	return data
}

func groupByState(incidents []models.Incident) []stateGroup {
	order := []models.IncidentState{models.IncidentOpen, models.IncidentInProgress, models.IncidentClosed}
	buckets := make(map[models.IncidentState][]models.Incident, len(order))
	for _, inc := range incidents {
		buckets[inc.State] = append(buckets[inc.State], inc)
	}
	var groups []stateGroup
	for _, state := range order {
		if len(buckets[state]) > 0 {
			groups = append(groups, stateGroup{state: state, incidents: buckets[state]})
		}
	}
	return groups
}

// RenderResponse renders one completed form response in template field order.
func (r *ReportRenderer) RenderResponse(ctx context.Context, resp *models.FormResponse, fields []models.FormField) (*RenderedReport, error) {
	answers := make(map[int64]models.FieldResponse, len(resp.Answers))
	var paths []string
	for _, answer := range resp.Answers {
		answers[answer.FieldID] = answer
	}
	for _, field := range fields {
		answer, ok := answers[field.ID]
		if !ok {
			continue
		}
		switch field.Type {
		case models.FieldSignature:
			if ref := models.Deref(answer.FileValue); isStoredPath(ref) {
				paths = append(paths, ref)
			}
		case models.FieldPhoto:
			files := answer.Files()
			if len(files) > r.cfg.MaxPhotosPerField {
				files = files[:r.cfg.MaxPhotosPerField]
			}
			paths = append(paths, files...)
		}
	}

	opts := export.DocumentOptions{Title: resp.TemplateName, Date: resp.SubmittedAt.Format("2006-01-02")}
	return r.render(ctx, ReportFormResponse, opts, paths, func(state *renderState) {
		doc := state.doc
		if desc := strings.TrimSpace(resp.TemplateDesc); desc != "" {
			doc.Paragraph(desc)
		}
		doc.Field("Diligenciado por", fallback(resp.SubmitterName, "-"))
		doc.Field("Fecha de diligenciamiento", resp.SubmittedAt.Format("2006-01-02 15:04"))
		doc.Spacer(2)

		for _, field := range fields {
			answer := answers[field.ID]
			switch field.Type {
			case models.FieldInformational:
				doc.Subheading(field.Title)
				if field.Config.Content != "" {
					doc.Note(field.Config.Content)
				}
			case models.FieldDate:
				value := "-"
				if answer.DateValue != nil {
					value = answer.DateValue.Format("02/01/2006")
				}
				doc.Field(field.Title, value)
			case models.FieldSignature:
				doc.Subheading(field.Title)
				doc.SignatureBlock([][2]string{
					{"Nombre", fallback(models.Deref(answer.Name), "-")},
					{"Documento", fallback(models.Deref(answer.Document), "-")},
					{"Teléfono", fallback(models.Deref(answer.Phone), "-")},
					{"Empresa", fallback(models.Deref(answer.Company), "-")},
					{"Cargo", fallback(models.Deref(answer.Title), "-")},
				}, r.resolveSignature(state, field, models.Deref(answer.FileValue)))
			case models.FieldPhoto:
				r.photoBlock(state, field, answer.Files())
			default:
				doc.Field(field.Title, fallback(strings.TrimSpace(answer.Text()), "-"))
			}
		}
	})
}

func (r *ReportRenderer) photoBlock(state *renderState, field models.FormField, files []string) {
	doc := state.doc
	doc.Subheading(field.Title)
	if len(files) == 0 {
		doc.Note("Sin fotos adjuntas")
		return
	}
	omitted := 0
	if len(files) > r.cfg.MaxPhotosPerField {
		omitted = len(files) - r.cfg.MaxPhotosPerField
		files = files[:r.cfg.MaxPhotosPerField]
	}
	for i, file := range files {
		r.image(state, file, fmt.Sprintf("%s %d", field.Title, i+1), export.PhotoSizing)
	}
	if omitted > 0 {
		r.logger.Warn("photos omitted from report", zap.Int64("field_id", field.ID), zap.Int("omitted", omitted))
		doc.Note(fmt.Sprintf("Se omitieron %d fotos adicionales de este campo", omitted))
	}
}

// resolveSignature returns decodable signature bytes from the stored PNG, else from the inline
// payload, else nil so the block draws a placeholder.
func (r *ReportRenderer) resolveSignature(state *renderState, field models.FormField, ref string) []byte {
	if ref == "" {
		return nil
	}
	if isStoredPath(ref) {
		if data, ok := state.images[ref]; ok {
			if _, err := imageproc.Decode(data); err == nil {
				return data
			}
		}
		r.logger.Warn("stored signature unavailable", zap.Int64("field_id", field.ID), zap.String("path", ref))
		state.missing++
		return nil
	}
	data, err := imageproc.DecodeDataURL(ref)
	if err == nil {
		if _, err = imageproc.Decode(data); err == nil {
			return data
		}
	}
	r.logger.Warn("inline signature unrecoverable", zap.Int64("field_id", field.ID), zap.Error(err))
	state.missing++
	return nil
}

func isStoredPath(ref string) bool {
	return strings.HasPrefix(ref, SignaturePrefix) || strings.HasPrefix(ref, PhotoPrefix)
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
