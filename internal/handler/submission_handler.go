package handler

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/CristianBACSCol/ERP-BACS/internal/dto"
	"github.com/CristianBACSCol/ERP-BACS/internal/models"
	appErrors "github.com/CristianBACSCol/ERP-BACS/pkg/errors"
	"github.com/CristianBACSCol/ERP-BACS/pkg/response"
)

const (
	answerPrefix = "field_"
	signerPrefix = "signer_"
)

type submissionService interface {
	Submit(ctx context.Context, claims *models.JWTClaims, templateID int64, req dto.SubmissionRequest, meta models.LoginRequest) (*dto.SubmissionResult, error)
	List(ctx context.Context, claims *models.JWTClaims, filter models.ResponseFilter) ([]models.FormResponse, *models.Pagination, error)
	Get(ctx context.Context, claims *models.JWTClaims, id int64) (*models.FormResponse, error)
}

// SubmissionHandler accepts filled forms and lists stored responses.
type SubmissionHandler struct {
	service submissionService
}

// NewSubmissionHandler constructs a submission handler.
func NewSubmissionHandler(svc submissionService) *SubmissionHandler {
	return &SubmissionHandler{service: svc}
}

// Submit godoc
// @Summary Submit a form response
// @Description Multipart form: "field_{id}" values (repeat for multi-select) and photo files, "signer_{name|document|phone|company|title}_{id}" for signatures
// @Tags Responses
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "Template ID"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /forms/{id}/responses [post]
func (h *SubmissionHandler) Submit(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	templateID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.SubmissionRequest
	if isMultipart(c) {
		form, err := multipartForm(c)
		if err != nil {
			response.Error(c, err)
			return
		}
		parsed, err := submissionFromForm(form)
		if err != nil {
			response.Error(c, err)
			return
		}
		req = *parsed
	} else if !bindJSON(c, &req) {
		return
	}

	result, err := h.service.Submit(c.Request.Context(), claims, templateID, req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	var meta map[string]interface{}
	if len(result.Warnings) > 0 {
		meta = map[string]interface{}{"warnings": result.Warnings}
	}
	response.JSON(c, http.StatusCreated, result.Response, nil, meta)
}

// List godoc
// @Summary List form responses
// @Description Managers see every response, other roles only their own
// @Tags Responses
// @Produce json
// @Param template_id query int false "Template filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /responses [get]
func (h *SubmissionHandler) List(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	filter := models.ResponseFilter{
		TemplateID: queryInt64(c, "template_id"),
		Page:       queryInt(c, "page", 1),
		PageSize:   queryInt(c, "page_size", 20),
	}
	responses, pagination, err := h.service.List(c.Request.Context(), claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, responses, pagination)
}

// Get godoc
// @Summary Get form response with answers
// @Tags Responses
// @Produce json
// @Param id path int true "Response ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /responses/{id} [get]
func (h *SubmissionHandler) Get(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	resp, err := h.service.Get(c.Request.Context(), claims, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// submissionFromForm maps the multipart naming scheme onto a SubmissionRequest.
func submissionFromForm(form *multipart.Form) (*dto.SubmissionRequest, error) {
	req := &dto.SubmissionRequest{
		Values:  map[int64]string{},
		Signers: map[int64]dto.SignerInput{},
		Photos:  map[int64][]dto.Upload{},
	}
	for key, values := range form.Value {
		switch {
		case strings.HasPrefix(key, answerPrefix):
			id, ok := keyID(strings.TrimPrefix(key, answerPrefix))
			if !ok || len(values) == 0 {
				continue
			}
			if len(values) == 1 {
				req.Values[id] = values[0]
				continue
			}
			encoded, _ := json.Marshal(values)
			req.Values[id] = string(encoded)
		case strings.HasPrefix(key, signerPrefix):
			attr, rawID, found := strings.Cut(strings.TrimPrefix(key, signerPrefix), "_")
			id, ok := keyID(rawID)
			if !found || !ok || len(values) == 0 {
				continue
			}
			signer := req.Signers[id]
			switch attr {
			case "name":
				signer.Name = values[0]
			case "document":
				signer.Document = values[0]
			case "phone":
				signer.Phone = values[0]
			case "company":
				signer.Company = values[0]
			case "title":
				signer.Title = values[0]
			default:
				continue
			}
			req.Signers[id] = signer
		}
	}
	for key, headers := range form.File {
		id, ok := keyID(strings.TrimPrefix(key, answerPrefix))
		if !strings.HasPrefix(key, answerPrefix) || !ok {
			continue
		}
		uploads, err := readUploads(headers)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read photos")
		}
		if len(uploads) > 0 {
			req.Photos[id] = uploads
		}
	}
	return req, nil
}

func keyID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}
