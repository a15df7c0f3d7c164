package dto

import "github.com/CristianBACSCol/ERP-BACS/internal/models"

// FormTemplateRequest creates a template, optionally with its initial fields.
type FormTemplateRequest struct {
	Name        string         `json:"name" validate:"required,max=200"`
	Description string         `json:"description"`
	Fields      []FieldRequest `json:"fields" validate:"dive"`
}

// UpdateFormTemplateRequest edits template metadata.
type UpdateFormTemplateRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description"`
	Active      *bool  `json:"active"`
}

// FieldRequest creates or updates a field. A nil Position appends the field.
type FieldRequest struct {
	Type        models.FieldType   `json:"field_type" validate:"required"`
	Title       string             `json:"title" validate:"required,max=200"`
	Description string             `json:"description"`
	Required    bool               `json:"required"`
	Position    *int               `json:"position" validate:"omitempty,min=0"`
	Config      models.FieldConfig `json:"config"`
}

// SignerInput is the identity captured next to a signature.
type SignerInput struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Phone    string `json:"phone"`
	Company  string `json:"company"`
	Title    string `json:"title"`
}

// SubmissionRequest carries one answer set keyed by field id.
type SubmissionRequest struct {
	Values  map[int64]string      `json:"values"`
	Signers map[int64]SignerInput `json:"signers"`
	Photos  map[int64][]Upload    `json:"-"`
}

// SubmissionResult reports the saved response and per-file photo problems.
type SubmissionResult struct {
	Response *models.FormResponse `json:"response"`
	Warnings []string             `json:"warnings,omitempty"`
}
