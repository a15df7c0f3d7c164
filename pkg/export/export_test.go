package export

import (
	"bytes"
	"encoding/csv"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleDataset() Dataset {
	return Dataset{
		Headers: []string{"Índice", "Título", "Estado"},
		Rows: [][]string{
			{"INC_000001", "Cámara sin señal", "Abierta"},
			{"INC_000002", "Control de acceso"},
		},
	}
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, img, nil))
	return buf.Bytes()
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, utf8BOM))

	records, err := csv.NewReader(bytes.NewReader(out[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Índice", records[0][0])
	assert.Equal(t, []string{"INC_000002", "Control de acceso", ""}, records[2])

	_, err = NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestXLSXExporterRender(t *testing.T) {
	out, err := NewXLSXExporter("Incidencias").Render(sampleDataset())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	rows, err := f.GetRows("Incidencias")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Título", rows[0][1])
	assert.Equal(t, "Cámara sin señal", rows[1][1])
}

func TestDocumentRendersContentAndSkipsBrokenImages(t *testing.T) {
	doc := NewDocument(DocumentOptions{Title: "INFORME DE ACTIVIDADES", Date: "01/01/2024", Logo: testJPEG(t, 80, 40)})
	doc.KeyValueTable([][2]string{{"Cliente", "ACME"}, {"Atención", "Ana"}})
	doc.Heading("1. Actividades Realizadas")
	doc.Paragraph("Descripción con tildes: acción, revisión, señal.")
	require.NoError(t, doc.Image(testJPEG(t, 300, 100), "panorámica", PhotoSizing))
	require.NoError(t, doc.Image(testJPEG(t, 100, 300), "vertical", PhotoSizing))

	err := doc.Image([]byte("corrupt"), "rota", ReportSizing)
	require.Error(t, err)
	doc.Placeholder("[Imagen no disponible]", 60, 30)

	skipped := doc.Collage([][]byte{testJPEG(t, 50, 50), []byte("bad"), testJPEG(t, 60, 40)}, "collage")
	assert.Equal(t, 1, skipped)
	doc.SignatureBlock([][2]string{{"Nombre", "Ana"}, {"Documento", "1234567"}}, nil)
	require.NoError(t, doc.Table(sampleDataset()))

	assert.Equal(t, 3, doc.ImageCount())
	out, err := doc.Bytes()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestDocumentSizing(t *testing.T) {
	doc := NewDocument(DocumentOptions{Title: "x"})
	w, h := doc.size(400, 100, PhotoSizing)
	assert.InDelta(t, 40.0, h, 0.01)
	assert.InDelta(t, 160.0, w, 0.01)

	w, h = doc.size(100, 200, PhotoSizing)
	assert.InDelta(t, 40.0, w, 0.01)
	assert.InDelta(t, 80.0, h, 0.01)

	w, h = doc.size(100, 1000, PhotoSizing)
	assert.InDelta(t, 12.0, w, 0.01)
	assert.InDelta(t, 120.0, h, 0.01)

	w, h = doc.size(100, 100, PhotoSizing)
	assert.InDelta(t, 50.0, w, 0.01)
	assert.InDelta(t, 50.0, h, 0.01)

	w, h = doc.size(1000, 500, ReportSizing)
	assert.InDelta(t, 60.0, w, 0.01)
	assert.InDelta(t, 30.0, h, 0.01)
}
