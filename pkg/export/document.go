package export

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/CristianBACSCol/ERP-BACS/pkg/imageproc"
)

const (
	pageMarginLeft   = 15.0
	pageMarginTop    = 15.0
	pageMarginRight  = 15.0
	pageMarginBottom = 18.0
	lineHeight       = 5.5
	maxTallHeight    = 120.0
)

// DocumentOptions configure the shared header and footer of every generated report.
type DocumentOptions struct {
	Title   string
	Logo    []byte
	Version string
	Date    string
	Footer  string
	Author  string
}

// Sizing constrains how an embedded image is scaled, in millimetres.
type Sizing struct {
	MaxWidth  float64
	MaxHeight float64
	// Orientation applies the photo rule: wide images are bounded by WideHeight, tall images by
	// TallWidth and near-square images by MaxWidth x MaxHeight.
	Orientation bool
	WideHeight  float64
	TallWidth   float64
}

// PhotoSizing bounds form photos by orientation (4cm caps, 5x5cm for near-square images).
var PhotoSizing = Sizing{MaxWidth: 50, MaxHeight: 50, Orientation: true, WideHeight: 40, TallWidth: 40}

// ReportSizing bounds incident report images to a 6cm box.
var ReportSizing = Sizing{MaxWidth: 60, MaxHeight: 60}

// Document is an A4 portrait report built from flow content on top of gofpdf.
type Document struct {
	pdf      *gofpdf.Fpdf
	tr       func(string) string
	opts     DocumentOptions
	images   int
	imageSeq int
}

// NewDocument starts a document and renders the standard header table on the first page.
func NewDocument(opts DocumentOptions) *Document {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMarginLeft, pageMarginTop, pageMarginRight)
	pdf.SetAutoPageBreak(true, pageMarginBottom)
	pdf.AliasNbPages("")
	d := &Document{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor(""), opts: opts}
	pdf.SetTitle(opts.Title, true)
	if opts.Author != "" {
		pdf.SetAuthor(opts.Author, true)
	}
	pdf.SetFooterFunc(d.footer)
	pdf.AddPage()
	d.header()
	return d
}

func (d *Document) header() {
	pdf := d.pdf
	width := d.contentWidth()
	logoW, infoW := 40.0, 45.0
	nameW := width - logoW - infoW
	height := 22.0
	x, y := pdf.GetX(), pdf.GetY()

	pdf.SetDrawColor(0, 0, 0)
	pdf.Rect(x, y, logoW, height, "D")
	if len(d.opts.Logo) > 0 {
		if name, w, h, err := d.register(d.opts.Logo); err == nil {
			iw, ih := fitBox(w, h, logoW-4, height-4)
			pdf.ImageOptions(name, x+(logoW-iw)/2, y+(height-ih)/2, iw, ih, false, gofpdf.ImageOptions{ImageType: "JPG"}, 0, "")
		}
	}

	pdf.SetXY(x+logoW, y)
	pdf.SetFont("Arial", "B", 13)
	pdf.CellFormat(nameW, height, d.tr(d.opts.Title), "1", 0, "CM", false, 0, "")

	version := d.opts.Version
	if version == "" {
		version = "1"
	}
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(infoW, height/2, d.tr("Versión: "+version), "1", 2, "CM", false, 0, "")
	pdf.CellFormat(infoW, height/2, d.tr("Fecha: "+d.opts.Date), "1", 0, "CM", false, 0, "")
	pdf.SetXY(x, y+height)
	pdf.Ln(6)
}

func (d *Document) footer() {
	pdf := d.pdf
	pdf.SetY(-12)
	pdf.SetFont("Arial", "I", 8)
	pdf.SetTextColor(110, 110, 110)
	text := fmt.Sprintf("Página %d de {nb}", pdf.PageNo())
	if d.opts.Footer != "" {
		text = d.opts.Footer + " | " + text
	}
	pdf.CellFormat(0, 8, d.tr(text), "", 0, "C", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
}

// Heading writes a section heading.
func (d *Document) Heading(text string) {
	d.ensureSpace(14)
	d.pdf.Ln(2)
	d.pdf.SetFont("Arial", "B", 12)
	d.pdf.CellFormat(0, 7, d.tr(text), "", 1, "L", false, 0, "")
	d.pdf.Ln(1)
}

// Subheading writes a smaller bold label.
func (d *Document) Subheading(text string) {
	d.ensureSpace(10)
	d.pdf.SetFont("Arial", "B", 10)
	d.pdf.MultiCell(0, lineHeight, d.tr(text), "", "L", false)
}

// Paragraph writes wrapped body text.
func (d *Document) Paragraph(text string) {
	d.pdf.SetFont("Arial", "", 10)
	d.pdf.MultiCell(0, lineHeight, d.tr(text), "", "J", false)
	d.pdf.Ln(1)
}

// Note writes a muted italic line.
func (d *Document) Note(text string) {
	d.pdf.SetFont("Arial", "I", 9)
	d.pdf.SetTextColor(110, 110, 110)
	d.pdf.MultiCell(0, lineHeight, d.tr(text), "", "L", false)
	d.pdf.SetTextColor(0, 0, 0)
}

// Field writes a bold label followed by its value.
func (d *Document) Field(label, value string) {
	d.pdf.SetFont("Arial", "B", 10)
	labelText := d.tr(label + ": ")
	w := d.pdf.GetStringWidth(labelText) + 1
	d.pdf.CellFormat(w, lineHeight, labelText, "", 0, "L", false, 0, "")
	d.pdf.SetFont("Arial", "", 10)
	d.pdf.MultiCell(0, lineHeight, d.tr(value), "", "L", false)
}

// KeyValueTable renders two-column rows with bold labels and a border.
func (d *Document) KeyValueTable(rows [][2]string) {
	labelW := 45.0
	valueW := d.contentWidth() - labelW
	for _, row := range rows {
		d.ensureSpace(7)
		d.pdf.SetFont("Arial", "B", 9)
		d.pdf.SetFillColor(235, 235, 235)
		d.pdf.CellFormat(labelW, 7, d.tr(row[0]), "1", 0, "L", true, 0, "")
		d.pdf.SetFont("Arial", "", 9)
		d.pdf.CellFormat(valueW, 7, d.tr(truncate(row[1], 95)), "1", 1, "L", false, 0, "")
	}
	d.pdf.Ln(3)
}

// Table renders a dataset as a bordered grid with equal column widths.
func (d *Document) Table(data Dataset) error {
	if len(data.Headers) == 0 {
		return fmt.Errorf("pdf table requires at least one header")
	}
	colWidth := d.contentWidth() / float64(len(data.Headers))
	maxChars := int(colWidth / 1.8)
	d.pdf.SetFont("Arial", "B", 9)
	d.pdf.SetFillColor(220, 220, 220)
	for _, header := range data.Headers {
		d.pdf.CellFormat(colWidth, 7, d.tr(header), "1", 0, "C", true, 0, "")
	}
	d.pdf.Ln(-1)
	d.pdf.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		d.ensureSpace(6)
		for i := range data.Headers {
			value := ""
			if i < len(row) {
				value = row[i]
			}
			d.pdf.CellFormat(colWidth, 6, d.tr(truncate(value, maxChars)), "1", 0, "", false, 0, "")
		}
		d.pdf.Ln(-1)
	}
	d.pdf.Ln(3)
	return nil
}

// Image embeds an image centred with a border, preceded by a numbered caption
// "Imagen N. caption". It returns imageproc.ErrImageDecode when the bytes cannot be decoded, in
// which case nothing is drawn.
func (d *Document) Image(data []byte, caption string, sizing Sizing) error {
	name, pxW, pxH, err := d.register(data)
	if err != nil {
		return err
	}
	w, h := d.size(pxW, pxH, sizing)
	d.ensureSpace(h + 12)
	d.images++
	d.pdf.SetFont("Arial", "B", 9)
	d.pdf.MultiCell(0, lineHeight, d.tr(fmt.Sprintf("Imagen %d. %s", d.images, caption)), "", "C", false)
	d.placeCentered(name, w, h)
	return nil
}

// Placeholder draws a labelled empty frame where an unrecoverable image would have been.
func (d *Document) Placeholder(label string, width, height float64) {
	d.ensureSpace(height + 4)
	x := pageMarginLeft + (d.contentWidth()-width)/2
	y := d.pdf.GetY()
	d.pdf.SetDrawColor(150, 150, 150)
	d.pdf.SetFillColor(240, 240, 240)
	d.pdf.Rect(x, y, width, height, "FD")
	d.pdf.SetXY(x, y+height/2-3)
	d.pdf.SetFont("Arial", "I", 8)
	d.pdf.SetTextColor(110, 110, 110)
	d.pdf.CellFormat(width, 6, d.tr(label), "", 0, "C", false, 0, "")
	d.pdf.SetTextColor(0, 0, 0)
	d.pdf.SetDrawColor(0, 0, 0)
	d.pdf.SetXY(pageMarginLeft, y+height+3)
}

// Collage lays images out on a square grid (2x2 up to 4 images, 3x3 up to 9, 4x4 otherwise)
// under a single numbered caption. Undecodable images leave an empty cell and are counted in
// the returned skipped total.
func (d *Document) Collage(images [][]byte, caption string) (skipped int) {
	if len(images) == 0 {
		return 0
	}
	cols := 2
	switch {
	case len(images) > 9:
		cols = 4
	case len(images) > 4:
		cols = 3
	}
	if len(images) > cols*cols {
		images = images[:cols*cols]
	}
	rows := (len(images) + cols - 1) / cols
	gridW := 120.0
	cell := gridW / float64(cols)
	gridH := cell * float64(rows)

	d.ensureSpace(gridH + 12)
	d.images++
	d.pdf.SetFont("Arial", "B", 9)
	d.pdf.MultiCell(0, lineHeight, d.tr(fmt.Sprintf("Imagen %d. %s", d.images, caption)), "", "C", false)

	originX := pageMarginLeft + (d.contentWidth()-gridW)/2
	originY := d.pdf.GetY()
	d.pdf.Rect(originX, originY, gridW, gridH, "D")
	for i, data := range images {
		name, pxW, pxH, err := d.register(data)
		if err != nil {
			skipped++
			continue
		}
		w, h := fitBox(pxW, pxH, cell-2, cell-2)
		cx := originX + float64(i%cols)*cell
		cy := originY + float64(i/cols)*cell
		d.pdf.ImageOptions(name, cx+(cell-w)/2, cy+(cell-h)/2, w, h, false, gofpdf.ImageOptions{ImageType: "JPG"}, 0, "")
	}
	d.pdf.SetXY(pageMarginLeft, originY+gridH+4)
	return skipped
}

// SignatureBlock renders the signer details table beside the signature image. When the image is
// nil or cannot be decoded a placeholder frame is drawn instead.
func (d *Document) SignatureBlock(rows [][2]string, signature []byte) {
	boxW, boxH := 60.0, 30.0
	tableW := d.contentWidth() - boxW - 5
	labelW := 28.0
	needed := boxH
	if rowsH := float64(len(rows)) * 6; rowsH > needed {
		needed = rowsH
	}
	d.ensureSpace(needed + 4)
	startX, startY := d.pdf.GetX(), d.pdf.GetY()

	for i, row := range rows {
		d.pdf.SetXY(startX, startY+float64(i)*6)
		d.pdf.SetFont("Arial", "B", 9)
		d.pdf.CellFormat(labelW, 6, d.tr(row[0]), "1", 0, "L", false, 0, "")
		d.pdf.SetFont("Arial", "", 9)
		d.pdf.CellFormat(tableW-labelW, 6, d.tr(truncate(row[1], 50)), "1", 0, "L", false, 0, "")
	}

	boxX := startX + tableW + 5
	d.pdf.Rect(boxX, startY, boxW, boxH, "D")
	drawn := false
	if len(signature) > 0 {
		if name, pxW, pxH, err := d.register(signature); err == nil {
			w, h := fitBox(pxW, pxH, boxW-4, boxH-4)
			d.pdf.ImageOptions(name, boxX+(boxW-w)/2, startY+(boxH-h)/2, w, h, false, gofpdf.ImageOptions{ImageType: "JPG"}, 0, "")
			drawn = true
		}
	}
	if !drawn {
		d.pdf.SetXY(boxX, startY+boxH/2-3)
		d.pdf.SetFont("Arial", "I", 8)
		d.pdf.SetTextColor(110, 110, 110)
		d.pdf.CellFormat(boxW, 6, d.tr("[Firma no disponible]"), "", 0, "C", false, 0, "")
		d.pdf.SetTextColor(0, 0, 0)
	}
	d.pdf.SetXY(pageMarginLeft, startY+needed+4)
}

// Spacer adds vertical whitespace.
func (d *Document) Spacer(mm float64) {
	d.pdf.Ln(mm)
}

// ImageCount reports how many numbered images (single or collage) were placed.
func (d *Document) ImageCount() int {
	return d.images
}

// Bytes finalises the document.
func (d *Document) Bytes() ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := d.pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// register normalises data to an opaque JPEG and registers it with gofpdf, so a malformed input
// never poisons the document's error state.
func (d *Document) register(data []byte) (name string, width, height int, err error) {
	if len(data) == 0 {
		return "", 0, 0, fmt.Errorf("%w: empty image", imageproc.ErrImageDecode)
	}
	img, err := imageproc.Decode(data)
	if err != nil {
		return "", 0, 0, err
	}
	flat := imageproc.FlattenOnWhite(img)
	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, flat, &jpeg.Options{Quality: 85}); err != nil {
		return "", 0, 0, fmt.Errorf("%w: %v", imageproc.ErrImageDecode, err)
	}
	d.imageSeq++
	name = fmt.Sprintf("img-%d", d.imageSeq)
	d.pdf.RegisterImageOptionsReader(name, gofpdf.ImageOptions{ImageType: "JPG"}, buf)
	if d.pdf.Err() {
		return "", 0, 0, errors.Join(imageproc.ErrImageDecode, d.pdf.Error())
	}
	b := flat.Bounds()
	return name, b.Dx(), b.Dy(), nil
}

func (d *Document) placeCentered(name string, w, h float64) {
	x := pageMarginLeft + (d.contentWidth()-w)/2
	y := d.pdf.GetY() + 1
	d.pdf.ImageOptions(name, x, y, w, h, false, gofpdf.ImageOptions{ImageType: "JPG"}, 0, "")
	d.pdf.SetDrawColor(80, 80, 80)
	d.pdf.Rect(x, y, w, h, "D")
	d.pdf.SetDrawColor(0, 0, 0)
	d.pdf.SetXY(pageMarginLeft, y+h+4)
}

func (d *Document) size(pxW, pxH int, s Sizing) (float64, float64) {
	if pxW <= 0 || pxH <= 0 {
		return s.MaxWidth, s.MaxHeight
	}
	maxW := s.MaxWidth
	if cw := d.contentWidth(); maxW <= 0 || maxW > cw {
		maxW = cw
	}
	if !s.Orientation {
		return fitBox(pxW, pxH, maxW, s.MaxHeight)
	}
	aspect := float64(pxW) / float64(pxH)
	switch {
	case aspect > 1.1:
		h := s.WideHeight
		w := h * aspect
		if w > d.contentWidth() {
			w = d.contentWidth()
			h = w / aspect
		}
		return w, h
	case aspect < 0.9:
		w, h := s.TallWidth, s.TallWidth/aspect
		if h > maxTallHeight {
			h = maxTallHeight
			w = h * aspect
		}
		return w, h
	default:
		return fitBox(pxW, pxH, s.MaxWidth, s.MaxHeight)
	}
}

func (d *Document) contentWidth() float64 {
	pageW, _ := d.pdf.GetPageSize()
	return pageW - pageMarginLeft - pageMarginRight
}

func (d *Document) ensureSpace(h float64) {
	_, pageH := d.pdf.GetPageSize()
	if d.pdf.GetY()+h > pageH-pageMarginBottom {
		d.pdf.AddPage()
	}
}

// fitBox scales pixel dimensions to fit inside maxW x maxH millimetres preserving aspect ratio.
func fitBox(pxW, pxH int, maxW, maxH float64) (float64, float64) {
	if pxW <= 0 || pxH <= 0 {
		return maxW, maxH
	}
	ratio := float64(pxW) / float64(pxH)
	w, h := maxW, maxW/ratio
	if h > maxH {
		h = maxH
		w = maxH * ratio
	}
	return w, h
}

func truncate(value string, max int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	runes := []rune(value)
	if max <= 3 || len(runes) <= max {
		return value
	}
	return string(runes[:max-3]) + "..."
}
