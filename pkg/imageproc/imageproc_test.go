package imageproc

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func noiseImage(w, h int) *image.RGBA {
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	_, _ = rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func TestIsImageAllowed(t *testing.T) {
	assert.True(t, IsImageAllowed("foto.JPG", ""))
	assert.True(t, IsImageAllowed("foto.jpeg", "image/jpeg"))
	assert.True(t, IsImageAllowed("scan.tif", "image/tiff"))
	assert.True(t, IsImageAllowed("foto.heic", "image/heic"))
	assert.False(t, IsImageAllowed("foto.jpg", "application/pdf"))
	assert.False(t, IsImageAllowed("doc.pdf", ""))
	assert.False(t, IsImageAllowed("", "image/png"))
}

func TestProcessFastPathReturnsInputUnchanged(t *testing.T) {
	data := encodeTestJPEG(t, image.NewRGBA(image.Rect(0, 0, 64, 48)), 90)

	out, info, err := Process(data, "small.jpg", Options{TargetSize: DefaultTargetSize})
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.True(t, info.Skipped)
	assert.Equal(t, 64, info.Width)
	assert.Equal(t, 48, info.Height)
}

func TestProcessBoundsLargeNoise(t *testing.T) {
	data := encodeTestJPEG(t, noiseImage(2400, 2400), 95)
	target := int64(256 * 1024)

	out, info, err := Process(data, "noise.jpg", Options{TargetSize: target, MaxDimension: 2000})
	require.NoError(t, err)
	assert.False(t, info.Skipped)
	if !info.SizeWarning {
		assert.LessOrEqual(t, int64(len(out)), target)
	}
	assert.Equal(t, int64(len(out)), info.OptimizedSize)
	assert.LessOrEqual(t, info.Width, 2000)
	_, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestProcessFlattensTransparency(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, src))

	out, info, err := Process(buf.Bytes(), "clear.bmp", Options{})
	require.NoError(t, err)
	assert.False(t, info.Skipped)
	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	r, g, b, _ := img.At(5, 5).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestProcessRejectsCorruptAndHEIC(t *testing.T) {
	_, _, err := Process([]byte("definitely not an image"), "broken.jpg", Options{})
	require.ErrorIs(t, err, ErrImageDecode)

	_, _, err = Process([]byte("definitely not an image"), "broken.tiff", Options{})
	require.ErrorIs(t, err, ErrImageDecode)

	_, _, err = Process([]byte{0x00, 0x01}, "IMG_0001.HEIC", Options{})
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, _, err = Process(nil, "empty.jpg", Options{})
	require.ErrorIs(t, err, ErrImageDecode)
}

func TestNormalizeSignature(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	src.Set(1, 1, color.NRGBA{A: 255})
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, src))
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	out, err := NormalizeSignature(payload)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, color.NRGBAModel.Convert(color.White), color.NRGBAModel.Convert(img.At(10, 5)))
	r, _, _, _ := img.At(1, 1).RGBA()
	assert.Zero(t, r)

	_, err = NormalizeSignature("data:image/png;base64,@@@@")
	require.ErrorIs(t, err, ErrImageDecode)
	_, err = NormalizeSignature(base64.StdEncoding.EncodeToString([]byte("not a png")))
	require.ErrorIs(t, err, ErrImageDecode)
}
