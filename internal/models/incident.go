package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IncidentState is the lifecycle stage of an incident.
type IncidentState string

const (
	IncidentOpen       IncidentState = "Abierta"
	IncidentInProgress IncidentState = "En proceso"
	IncidentClosed     IncidentState = "Cerrada"
)

// IncidentStates lists states in lifecycle order, used for grouped reports.
var IncidentStates = []IncidentState{IncidentOpen, IncidentInProgress, IncidentClosed}

// Valid reports whether s is a known state.
func (s IncidentState) Valid() bool {
	for _, state := range IncidentStates {
		if s == state {
			return true
		}
	}
	return false
}

// Incident is a maintenance ticket.
type Incident struct {
	ID                   int64         `db:"id" json:"id"`
	Code                 string        `db:"code" json:"code"`
	Title                string        `db:"title" json:"title"`
	Description          string        `db:"description" json:"description"`
	State                IncidentState `db:"state" json:"state"`
	StartedAt            time.Time     `db:"started_at" json:"started_at"`
	StateChangedAt       time.Time     `db:"state_changed_at" json:"state_changed_at"`
	AssignedTechnicianID *int64        `db:"assigned_technician_id" json:"assigned_technician_id,omitempty"`
	CreatedBy            int64         `db:"created_by" json:"created_by"`
	ClientID             int64         `db:"client_id" json:"client_id"`
	SiteID               int64         `db:"site_id" json:"site_id"`
	SystemID             int64         `db:"system_id" json:"system_id"`
	Attachments          string        `db:"attachments" json:"-"`
	AttachmentCaptions   string        `db:"attachment_captions" json:"-"`
	ImageLayout          *ImageLayout  `db:"image_layout" json:"image_layout,omitempty"`

	ClientName     string `db:"client_name" json:"client_name"`
	ClientContact  string `db:"client_contact" json:"client_contact"`
	ContactTitle   string `db:"contact_title" json:"contact_title"`
	SiteName       string `db:"site_name" json:"site_name"`
	SystemName     string `db:"system_name" json:"system_name"`
	TechnicianName string `db:"technician_name" json:"technician_name"`
	CreatorName    string `db:"creator_name" json:"creator_name"`
}

// AttachmentList splits the stored comma-joined attachment filenames.
func (i Incident) AttachmentList() []string {
	return splitList(i.Attachments)
}

// CaptionList splits the stored comma-joined captions, parallel to AttachmentList.
func (i Incident) CaptionList() []string {
	return splitList(i.AttachmentCaptions)
}

// Layout returns the stored layout, or one standalone entry per attachment when none was saved.
func (i Incident) Layout() ImageLayout {
	if i.ImageLayout != nil && (len(i.ImageLayout.Standalone) > 0 || len(i.ImageLayout.Collages) > 0) {
		return *i.ImageLayout
	}
	files := i.AttachmentList()
	captions := i.CaptionList()
	layout := ImageLayout{Standalone: make([]LayoutImage, 0, len(files))}
	for idx, file := range files {
		caption := file
		if idx < len(captions) && captions[idx] != "" {
			caption = captions[idx]
		}
		layout.Standalone = append(layout.Standalone, LayoutImage{File: file, Title: caption})
	}
	return layout
}

// IncidentFilter restricts incident queries. VisibleTo is the technician id when the caller is
// not a manager; nil means every incident is visible.
type IncidentFilter struct {
	VisibleTo *int64
	ClientID  *int64
	State     *IncidentState
	IDs       []int64
	Search    string
	Page      int
	PageSize  int
}

// IncidentStats summarises the visible incident set for the dashboard.
type IncidentStats struct {
	Total      int        `db:"total" json:"total"`
	Open       int        `db:"open" json:"open"`
	InProgress int        `db:"in_progress" json:"in_progress"`
	Closed     int        `db:"closed" json:"closed"`
	Recent     []Incident `db:"-" json:"recent"`
}

// LayoutImage is one attachment rendered on its own.
type LayoutImage struct {
	File  string `json:"file"`
	Title string `json:"title"`
}

// Collage is a titled group of attachments rendered together.
type Collage struct {
	Title  string   `json:"title"`
	Images []string `json:"images"`
}

// ImageLayout tells the report renderer how to present an incident's attachments.
type ImageLayout struct {
	Standalone []LayoutImage `json:"standalone"`
	Collages   []Collage     `json:"collages"`
}

// Value marshals the layout for JSONB storage.
func (l ImageLayout) Value() (driver.Value, error) {
	if l.Standalone == nil {
		l.Standalone = []LayoutImage{}
	}
	if l.Collages == nil {
		l.Collages = []Collage{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal image layout: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB payloads into the layout.
func (l *ImageLayout) Scan(value interface{}) error {
	*l = ImageLayout{}
	return scanJSON(value, l, "ImageLayout")
}

// Validate checks that every referenced file is one of the incident's attachments.
func (l ImageLayout) Validate(attachments []string) error {
	known := make(map[string]struct{}, len(attachments))
	for _, a := range attachments {
		known[a] = struct{}{}
	}
	for _, img := range l.Standalone {
		if _, ok := known[img.File]; !ok {
			return fmt.Errorf("layout references unknown attachment %q", img.File)
		}
	}
	for _, c := range l.Collages {
		if strings.TrimSpace(c.Title) == "" || len(c.Images) == 0 {
			return fmt.Errorf("collage requires a title and at least one image")
		}
		for _, f := range c.Images {
			if _, ok := known[strings.TrimSpace(f)]; !ok {
				return fmt.Errorf("collage %q references unknown attachment %q", c.Title, f)
			}
		}
	}
	return nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinList is the inverse of the attachment splitting helpers.
func JoinList(items []string) string {
	return strings.Join(items, ",")
}
