package handler

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	"github.com/CristianBACSCol/ERP-BACS/pkg/response"
)

type fileService interface {
	Fetch(ctx context.Context, claims *models.JWTClaims, logicalPath string) (*dto.FileResult, error)
	Presign(ctx context.Context, claims *models.JWTClaims, logicalPath string) (*dto.SignedLinkResponse, bool, error)
}

// FileHandler serves stored attachments, photos and signatures.
type FileHandler struct {
	service fileService
}

// NewFileHandler constructs a file handler.
func NewFileHandler(svc fileService) *FileHandler {
	return &FileHandler{service: svc}
}

// Serve godoc
// @Summary Fetch a stored file
// @Description With presign=true on the S3 backend, redirects to a time-limited bucket URL
// @Tags Files
// @Produce octet-stream
// @Param path path string true "Logical path, e.g. Incidents/1700000000_0.jpg"
// @Param presign query bool false "Redirect to a presigned URL when available"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /files/{path} [get]
func (h *FileHandler) Serve(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	logicalPath := c.Param("path")

	if presign, _ := strconv.ParseBool(c.Query("presign")); presign {
		link, ok, err := h.service.Presign(c.Request.Context(), claims, logicalPath)
		if err != nil {
			response.Error(c, err)
			return
		}
		if ok {
			c.Redirect(http.StatusTemporaryRedirect, link.URL)
			return
		}
	}

	file, err := h.service.Fetch(c.Request.Context(), claims, logicalPath)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Stream(c, file.Filename, file.ContentType, int64(len(file.Data)), bytes.NewReader(file.Data))
}
