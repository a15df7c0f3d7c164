package models

import "time"

// Client is an organisation being serviced.
type Client struct {
	ID             int64     `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	DocumentType   string    `db:"document_type" json:"document_type"`
	DocumentNumber string    `db:"document_number" json:"document_number"`
	Email          string    `db:"email" json:"email"`
	Phone          string    `db:"phone" json:"phone"`
	Address        string    `db:"address" json:"address"`
	MainContact    string    `db:"main_contact" json:"main_contact"`
	ContactTitle   string    `db:"contact_title" json:"contact_title"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Site is a physical location belonging to a client.
type Site struct {
	ID           int64     `db:"id" json:"id"`
	ClientID     int64     `db:"client_id" json:"client_id"`
	ClientName   string    `db:"client_name" json:"client_name,omitempty"`
	Name         string    `db:"name" json:"name"`
	Address      string    `db:"address" json:"address"`
	Phone        string    `db:"phone" json:"phone"`
	Email        string    `db:"email" json:"email"`
	ContactName  string    `db:"contact_name" json:"contact_name"`
	ContactTitle string    `db:"contact_title" json:"contact_title"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// System is a service category such as CCTV or access control.
type System struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// CatalogFilter narrows catalog listings.
type CatalogFilter struct {
	ActiveOnly bool
	ClientID   int64
}
