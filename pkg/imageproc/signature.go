package imageproc

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"strings"
)

// DecodeDataURL strips an optional "data:image/...;base64," prefix and decodes the payload.
func DecodeDataURL(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrImageDecode)
	}
	if strings.HasPrefix(payload, "data:") {
		idx := strings.Index(payload, ",")
		if idx < 0 {
			return nil, fmt.Errorf("%w: malformed data url", ErrImageDecode)
		}
		payload = payload[idx+1:]
	}
	payload = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' {
			return -1
		}
		return r
	}, payload)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
		}
	}
	return data, nil
}

// Decode strictly decodes any registered raster format.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return img, nil
}

// NormalizeSignature decodes a signature payload, flattens it onto white and re-encodes it as PNG.
func NormalizeSignature(payload string) ([]byte, error) {
	raw, err := DecodeDataURL(payload)
	if err != nil {
		return nil, err
	}
	img, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, FlattenOnWhite(img)); err != nil {
		return nil, fmt.Errorf("encode signature png: %w", err)
	}
	return buf.Bytes(), nil
}
