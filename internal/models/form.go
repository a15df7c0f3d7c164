package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FieldType identifies how a form field is captured and rendered.
type FieldType string

const (
	FieldText          FieldType = "texto"
	FieldTextarea      FieldType = "textarea"
	FieldDate          FieldType = "fecha"
	FieldSingleSelect  FieldType = "seleccion"
	FieldMultiSelect   FieldType = "seleccion_multiple"
	FieldSignature     FieldType = "firma"
	FieldPhoto         FieldType = "foto"
	FieldInformational FieldType = "texto_informativo"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldTextarea, FieldDate, FieldSingleSelect, FieldMultiSelect,
		FieldSignature, FieldPhoto, FieldInformational:
		return true
	}
	return false
}

// Captures reports whether the field type stores an answer.
func (t FieldType) Captures() bool {
	return t.Valid() && t != FieldInformational
}

// TextValidation is the optional format check applied to text fields.
type TextValidation string

const (
	ValidationNone         TextValidation = ""
	ValidationIDNumber     TextValidation = "cedula"
	ValidationPhone        TextValidation = "telefono"
	ValidationEmail        TextValidation = "email"
	ValidationNumeric      TextValidation = "numero"
	ValidationAlphanumeric TextValidation = "alfanumerico"
)

// Valid reports whether v is a known validation mode.
func (v TextValidation) Valid() bool {
	switch v {
	case ValidationNone, ValidationIDNumber, ValidationPhone, ValidationEmail, ValidationNumeric, ValidationAlphanumeric:
		return true
	}
	return false
}

// FieldConfig holds the type-specific settings of a field. Only the members relevant to the
// field's type survive Normalize; the rest are dropped at the boundary.
type FieldConfig struct {
	Validation  TextValidation `json:"validation,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	Options     []string       `json:"options,omitempty"`
	MaxPhotos   int            `json:"max_photos,omitempty"`
	Content     string         `json:"content,omitempty"`
}

// Normalize validates cfg for the field type and returns the type-relevant subset.
func (c FieldConfig) Normalize(t FieldType) (FieldConfig, error) {
	switch t {
	case FieldText:
		if !c.Validation.Valid() {
			return FieldConfig{}, fmt.Errorf("unknown validation mode %q", c.Validation)
		}
		return FieldConfig{Validation: c.Validation, Placeholder: c.Placeholder}, nil
	case FieldTextarea:
		return FieldConfig{Placeholder: c.Placeholder}, nil
	case FieldSingleSelect, FieldMultiSelect:
		options := make([]string, 0, len(c.Options))
		seen := make(map[string]struct{}, len(c.Options))
		for _, opt := range c.Options {
			opt = strings.TrimSpace(opt)
			if opt == "" {
				continue
			}
			if _, dup := seen[opt]; dup {
				continue
			}
			seen[opt] = struct{}{}
			options = append(options, opt)
		}
		if len(options) == 0 {
			return FieldConfig{}, fmt.Errorf("select fields require at least one option")
		}
		return FieldConfig{Options: options}, nil
	case FieldPhoto:
		if c.MaxPhotos < 0 {
			return FieldConfig{}, fmt.Errorf("max_photos must not be negative")
		}
		return FieldConfig{MaxPhotos: c.MaxPhotos}, nil
	case FieldInformational:
		return FieldConfig{Content: c.Content}, nil
	case FieldDate, FieldSignature:
		return FieldConfig{}, nil
	}
	return FieldConfig{}, fmt.Errorf("unknown field type %q", t)
}

// Value marshals the config for JSONB storage.
func (c FieldConfig) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal field config: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB payloads into the config.
func (c *FieldConfig) Scan(value interface{}) error {
	*c = FieldConfig{}
	return scanJSON(value, c, "FieldConfig")
}

// FormTemplate is an admin-authored form schema.
type FormTemplate struct {
	ID            int64       `db:"id" json:"id"`
	Name          string      `db:"name" json:"name"`
	Description   string      `db:"description" json:"description"`
	Active        bool        `db:"active" json:"active"`
	CreatedBy     int64       `db:"created_by" json:"created_by"`
	CreatorName   string      `db:"creator_name" json:"creator_name,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	FieldCount    int         `db:"field_count" json:"field_count"`
	ResponseCount int         `db:"response_count" json:"response_count"`
	Fields        []FormField `db:"-" json:"fields,omitempty"`
}

// FormField is one ordered field of a template.
type FormField struct {
	ID          int64       `db:"id" json:"id"`
	TemplateID  int64       `db:"template_id" json:"template_id"`
	Type        FieldType   `db:"field_type" json:"field_type"`
	Title       string      `db:"title" json:"title"`
	Description string      `db:"description" json:"description"`
	Required    bool        `db:"required" json:"required"`
	Position    int         `db:"position" json:"position"`
	Config      FieldConfig `db:"config" json:"config"`
}

// Form response statuses.
const (
	ResponseCompleted = "Completado"
)

// FormResponse is one submission of a template.
type FormResponse struct {
	ID            int64           `db:"id" json:"id"`
	TemplateID    int64           `db:"template_id" json:"template_id"`
	TemplateName  string          `db:"template_name" json:"template_name"`
	TemplateDesc  string          `db:"template_description" json:"template_description,omitempty"`
	SubmittedBy   int64           `db:"submitted_by" json:"submitted_by"`
	SubmitterName string          `db:"submitter_name" json:"submitter_name"`
	SubmittedAt   time.Time       `db:"submitted_at" json:"submitted_at"`
	Status        string          `db:"status" json:"status"`
	PDFPath       *string         `db:"pdf_path" json:"pdf_path,omitempty"`
	Answers       []FieldResponse `db:"-" json:"answers,omitempty"`
}

// ResponseFilter narrows response listings. SubmittedBy restricts to one submitter.
type ResponseFilter struct {
	TemplateID  *int64
	SubmittedBy *int64
	Page        int
	PageSize    int
}

// FieldResponse is the answer to one field. Exactly one payload column is set according to the
// field type; signature answers also carry the signer record.
type FieldResponse struct {
	ID         int64           `db:"id" json:"id"`
	ResponseID int64           `db:"response_id" json:"response_id"`
	FieldID    int64           `db:"field_id" json:"field_id"`
	TextValue  *string         `db:"text_value" json:"text_value,omitempty"`
	DateValue  *time.Time      `db:"date_value" json:"date_value,omitempty"`
	FileValue  *string         `db:"file_value" json:"file_value,omitempty"`
	JSONValue  json.RawMessage `db:"json_value" json:"json_value,omitempty"`
	SignerInfo `json:"signer"`
}

// SignerInfo is the denormalised identity captured with a signature.
type SignerInfo struct {
	Name     *string `db:"signer_name" json:"name,omitempty"`
	Document *string `db:"signer_document" json:"document,omitempty"`
	Phone    *string `db:"signer_phone" json:"phone,omitempty"`
	Company  *string `db:"signer_company" json:"company,omitempty"`
	Title    *string `db:"signer_title" json:"title,omitempty"`
}

// Files splits a photo answer into its logical paths.
func (f FieldResponse) Files() []string {
	if f.FileValue == nil {
		return nil
	}
	return splitList(*f.FileValue)
}

// Text returns the text payload or "".
func (f FieldResponse) Text() string {
	if f.TextValue == nil {
		return ""
	}
	return *f.TextValue
}

// StringPtr returns nil for empty strings.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
