package dto

import "github.com/CristianBACSCol/ERP-BACS/internal/models"

// Upload is a file received in a multipart request.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// CreateIncidentRequest captures the incident form. Captions are parallel to the uploads.
type CreateIncidentRequest struct {
	IndexID              int64               `form:"index_id" json:"index_id" validate:"required"`
	Title                string              `form:"title" json:"title" validate:"required,max=200"`
	Description          string              `form:"description" json:"description" validate:"required"`
	ClientID             int64               `form:"client_id" json:"client_id" validate:"required"`
	SiteID               int64               `form:"site_id" json:"site_id" validate:"required"`
	SystemID             int64               `form:"system_id" json:"system_id" validate:"required"`
	AssignedTechnicianID *int64              `form:"assigned_technician_id" json:"assigned_technician_id"`
	Captions             []string            `form:"captions" json:"captions"`
	Layout               *models.ImageLayout `form:"-" json:"layout"`
	Uploads              []Upload            `form:"-" json:"-"`
}

// UpdateIncidentRequest edits an incident. New uploads are appended to the existing attachments.
type UpdateIncidentRequest struct {
	Title                string               `form:"title" json:"title" validate:"required,max=200"`
	Description          string               `form:"description" json:"description" validate:"required"`
	ClientID             int64                `form:"client_id" json:"client_id" validate:"required"`
	SiteID               int64                `form:"site_id" json:"site_id" validate:"required"`
	SystemID             int64                `form:"system_id" json:"system_id" validate:"required"`
	State                models.IncidentState `form:"state" json:"state" validate:"required"`
	AssignedTechnicianID *int64               `form:"assigned_technician_id" json:"assigned_technician_id"`
	Captions             []string             `form:"captions" json:"captions"`
	Layout               *models.ImageLayout  `form:"-" json:"layout"`
	Uploads              []Upload             `form:"-" json:"-"`
}
