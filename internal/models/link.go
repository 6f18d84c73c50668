package models

import "time"

// Link kinds. A redirect link answers with a 302 to DestinationURL; a pixel
// link serves its stored content, or redirects to an external image in proxy
// mode. The kind is fixed at creation time.
const (
	KindRedirect = "redirect"
	KindPixel    = "pixel"
)

// Link represents one short code and its destination in the database.
// Code, Kind and the destination fields are immutable once created; the only
// column mutated afterwards is ClickCount, and that happens in SQL.
type Link struct {
	ID   uint   `gorm:"primaryKey"`
	Code string `gorm:"uniqueIndex;size:10;not null"`
	Kind string `gorm:"size:10;not null"`

	// DestinationURL is the redirect target for redirect links, or the
	// external image URL for proxy-mode pixel links. Empty for pixel links
	// that carry hosted content.
	DestinationURL string

	// ContentType and Content hold the hosted bytes of a pixel link.
	// Both are empty for redirect links and proxy-mode pixels.
	ContentType string `gorm:"size:100"`
	Content     []byte

	// OwnerID is the subject of the token that created the link. Deletion
	// and visitor listing are restricted to this owner.
	OwnerID string `gorm:"index;size:64;not null"`

	// ClickCount is maintained for redirect links and must stay equal to
	// the number of recorded visits.
	ClickCount int64 `gorm:"default:0"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// HasContent reports whether the link carries hosted bytes to stream.
func (l *Link) HasContent() bool {
	return len(l.Content) > 0
}
