// Package imageproc validates uploaded photos and normalises them into size-bounded JPEGs.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // register decoder
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp" // register decoder
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrImageDecode signals corrupt or truncated image data.
	ErrImageDecode = errors.New("image could not be decoded")
	// ErrUnsupportedFormat signals a disallowed type or one without a decoder (HEIC/HEIF).
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

const (
	DefaultTargetSize   int64 = 512 * 1024
	DefaultMaxDimension       = 2000

	lastResortDimension = 800
	lastResortQuality   = 60
)

var (
	allowedExtensions = map[string]struct{}{
		".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {},
		".heic": {}, ".heif": {}, ".bmp": {}, ".tiff": {}, ".tif": {},
	}
	allowedMIMETypes = map[string]struct{}{
		"image/jpeg": {}, "image/jpg": {}, "image/png": {}, "image/gif": {}, "image/webp": {},
		"image/heic": {}, "image/heif": {}, "image/bmp": {}, "image/tiff": {},
	}
	webExtensions = map[string]struct{}{
		".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {}, ".gif": {},
	}

	qualityLadder = []int{95, 90, 85, 80}
	scaleLadder   = []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3}
	scaleQuality  = []int{85, 75}
)

// Options bound the output of Process.
type Options struct {
	TargetSize   int64
	MaxDimension int
}

// Info describes what Process did to an image.
type Info struct {
	OriginalSize  int64   `json:"original_size"`
	OptimizedSize int64   `json:"optimized_size"`
	Quality       int     `json:"quality"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	ReductionPct  float64 `json:"reduction_pct"`
	Skipped       bool    `json:"skipped"`
	SizeWarning   bool    `json:"size_warning"`
}

// IsImageAllowed requires a supported extension and, when mime is non-empty, a supported MIME type.
func IsImageAllowed(filename, mime string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[ext]; !ok {
		return false
	}
	if mime == "" {
		return true
	}
	mime = strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	_, ok := allowedMIMETypes[mime]
	return ok
}

// IsHEIC reports whether the filename carries an HEIC/HEIF extension.
func IsHEIC(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".heic" || ext == ".heif"
}

// Process normalises data into a JPEG no larger than opts.TargetSize.
//
// Inputs that already fit and are in a web format are returned unchanged with Info.Skipped set,
// so callers must not assume the output is JPEG. When no encoding fits, the smallest attempt is
// returned with Info.SizeWarning set.
func Process(data []byte, filename string, opts Options) ([]byte, Info, error) {
	if opts.TargetSize <= 0 {
		opts.TargetSize = DefaultTargetSize
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	info := Info{OriginalSize: int64(len(data))}
	if len(data) == 0 {
		return nil, info, fmt.Errorf("%w: empty input", ErrImageDecode)
	}
	if IsHEIC(filename) {
		return nil, info, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if _, web := webExtensions[ext]; web && info.OriginalSize <= opts.TargetSize {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, info, fmt.Errorf("%w: %v", ErrImageDecode, err)
		}
		info.OptimizedSize = info.OriginalSize
		info.Width, info.Height = cfg.Width, cfg.Height
		info.Skipped = true
		return data, info, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, info, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	img = FlattenOnWhite(img)
	if b := img.Bounds(); b.Dx() > opts.MaxDimension || b.Dy() > opts.MaxDimension {
		img = imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
	}

	out, quality, err := searchQuality(img, qualityLadder, opts.TargetSize)
	if err != nil {
		return nil, info, err
	}
	final := img
	if int64(len(out)) > opts.TargetSize {
		bounds := img.Bounds()
		for _, scale := range scaleLadder {
			w := int(float64(bounds.Dx()) * scale)
			h := int(float64(bounds.Dy()) * scale)
			if w < 1 || h < 1 {
				break
			}
			scaled := imaging.Resize(img, w, h, imaging.Lanczos)
			candidate, q, err := searchQuality(scaled, scaleQuality, opts.TargetSize)
			if err != nil {
				return nil, info, err
			}
			if len(candidate) < len(out) {
				out, quality, final = candidate, q, scaled
			}
			if int64(len(candidate)) <= opts.TargetSize {
				break
			}
		}
	}
	if int64(len(out)) > opts.TargetSize {
		small := imaging.Fit(img, lastResortDimension, lastResortDimension, imaging.Lanczos)
		candidate, err := encodeJPEG(small, lastResortQuality)
		if err != nil {
			return nil, info, err
		}
		if len(candidate) < len(out) {
			out, quality, final = candidate, lastResortQuality, small
		}
		info.SizeWarning = int64(len(out)) > opts.TargetSize
	}

	info.OptimizedSize = int64(len(out))
	info.Quality = quality
	info.Width, info.Height = final.Bounds().Dx(), final.Bounds().Dy()
	if info.OriginalSize > 0 {
		pct := float64(info.OriginalSize-info.OptimizedSize) / float64(info.OriginalSize) * 100
		info.ReductionPct = float64(int(pct*10)) / 10
	}
	return out, info, nil
}

// searchQuality returns the first encoding within limit, or the smallest attempt.
func searchQuality(img image.Image, qualities []int, limit int64) ([]byte, int, error) {
	var best []byte
	bestQuality := 0
	for _, q := range qualities {
		encoded, err := encodeJPEG(img, q)
		if err != nil {
			return nil, 0, err
		}
		if best == nil || len(encoded) < len(best) {
			best, bestQuality = encoded, q
		}
		if int64(len(encoded)) <= limit {
			return encoded, q, nil
		}
	}
	return best, bestQuality, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// FlattenOnWhite composites img over an opaque white canvas of the same size.
func FlattenOnWhite(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	canvas := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), img, bounds.Min, draw.Over)
	return canvas
}
