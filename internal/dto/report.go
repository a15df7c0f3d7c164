package dto

import "time"

// IncidentReportRequest selects incidents and supplies the report header block.
type IncidentReportRequest struct {
	IDs          []int64 `json:"ids" validate:"required,min=1"`
	ClientName   string  `json:"client_name"`
	ContactName  string  `json:"contact_name"`
	ContactTitle string  `json:"contact_title"`
	Scope        string  `json:"scope"`
	Date         string  `json:"date"`
	Introduction string  `json:"introduction"`
	Conclusion   string  `json:"conclusion"`
	GroupByState bool    `json:"group_by_state"`
}

// IncidentExportRequest selects incidents for CSV or XLSX export.
type IncidentExportRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1"`
}

// FileResult is a generated document ready to send.
type FileResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SignedLinkResponse exposes a shareable download URL.
type SignedLinkResponse struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
