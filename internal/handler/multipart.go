package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
)

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/")
}

// multipartForm parses the request body, mapping an oversized body to 413.
func multipartForm(c *gin.Context) (*multipart.Form, error) {
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, appErrors.ErrPayloadTooLarge
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid multipart form")
	}
	return form, nil
}

// readUploads loads every non-empty file part in order.
func readUploads(headers []*multipart.FileHeader) ([]dto.Upload, error) {
	uploads := make([]dto.Upload, 0, len(headers))
	for _, header := range headers {
		if header == nil || header.Filename == "" {
			continue
		}
		file, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", header.Filename, err)
		}
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", header.Filename, err)
		}
		uploads = append(uploads, dto.Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return uploads, nil
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// decodeFormJSON unmarshals an optional JSON-encoded form value.
func decodeFormJSON(form *multipart.Form, key string, dst interface{}) error {
	raw := strings.TrimSpace(formValue(form, key))
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return appErrors.FieldError(key, "invalid JSON")
	}
	return nil
}
