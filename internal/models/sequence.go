package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSequenceWidth is the zero-padding applied to generated codes.
const DefaultSequenceWidth = 6

// SequenceIndex mints incident codes of the form PREFIX_000123.
type SequenceIndex struct {
	ID        int64     `db:"id" json:"id"`
	Prefix    string    `db:"prefix" json:"prefix"`
	Counter   int64     `db:"counter" json:"counter"`
	Width     int       `db:"width" json:"width"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Format renders the code for the given counter value.
func (s SequenceIndex) Format(counter int64) string {
	width := s.Width
	if width <= 0 {
		width = DefaultSequenceWidth
	}
	return fmt.Sprintf("%s_%0*d", s.Prefix, width, counter)
}

// NextPreview shows the code the next call would produce.
func (s SequenceIndex) NextPreview() string {
	return s.Format(s.Counter + 1)
}

// CodePattern is the LIKE pattern matching codes minted from this prefix.
func (s SequenceIndex) CodePattern() string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s.Prefix)
	return escaped + `\_%`
}

// NormalizePrefix trims and upper-cases a prefix.
func NormalizePrefix(prefix string) string {
	return strings.ToUpper(strings.TrimSpace(prefix))
}
