package dto

// ClientRequest creates or updates a client.
type ClientRequest struct {
	Name           string `json:"name" validate:"required,max=200"`
	DocumentType   string `json:"document_type" validate:"required,max=20"`
	DocumentNumber string `json:"document_number" validate:"required,max=20"`
	Email          string `json:"email" validate:"required,email,max=120"`
	Phone          string `json:"phone" validate:"required,max=20"`
	Address        string `json:"address"`
	MainContact    string `json:"main_contact" validate:"max=100"`
	ContactTitle   string `json:"contact_title" validate:"max=100"`
	Active         *bool  `json:"active"`
}

// SiteRequest creates or updates a site. ClientID is taken from the route on create.
type SiteRequest struct {
	ClientID     int64  `json:"client_id"`
	Name         string `json:"name" validate:"required,max=200"`
	Address      string `json:"address"`
	Phone        string `json:"phone" validate:"max=20"`
	Email        string `json:"email" validate:"omitempty,email,max=120"`
	ContactName  string `json:"contact_name" validate:"max=100"`
	ContactTitle string `json:"contact_title" validate:"max=100"`
	Active       *bool  `json:"active"`
}

// SystemRequest creates or updates a system category.
type SystemRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
	Active      *bool  `json:"active"`
}

// SequenceIndexRequest creates or updates an incident code prefix.
type SequenceIndexRequest struct {
	Prefix string `json:"prefix" validate:"required,max=10"`
	Width  int    `json:"width" validate:"omitempty,min=1,max=12"`
}
