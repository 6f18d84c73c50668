package models

import "time"

// Visit represents a single recorded access to a link, stored in the database.
// A row is immutable once inserted, with one exception: the geolocation
// columns are filled in exactly once by the asynchronous enricher.
type Visit struct {
	ID uint `gorm:"primaryKey"`

	// LinkID is the foreign key of the link that was accessed.
	// Indexed so per-link listing and counting stay cheap.
	LinkID uint `gorm:"index"`
	Link   Link `gorm:"foreignKey:LinkID"`

	// Timestamp records the moment the request reached the server.
	Timestamp time.Time

	// IPAddress is the address as seen by the server, never client-supplied.
	// size:50 fits both IPv4 and IPv6.
	IPAddress string `gorm:"size:50"`

	// UserAgent and Referrer come straight from the request headers and may
	// be empty.
	UserAgent string `gorm:"size:255"`
	Referrer  string `gorm:"size:255"`

	// Geolocation, absent until enrichment completes. EnrichedAt doubles as
	// the write-once guard: the attach update only fires while it is NULL.
	City       string `gorm:"size:100"`
	Region     string `gorm:"size:100"`
	Country    string `gorm:"size:100"`
	PostalCode string `gorm:"size:20"`
	ISP        string `gorm:"size:100"`
	EnrichedAt *time.Time
}

// Enriched reports whether the geolocation fields have been filled in.
func (v *Visit) Enriched() bool {
	return v.EnrichedAt != nil
}

// VisitEvent is the lightweight payload passed through the worker channel
// between the public handlers and the visit pipeline. It carries everything
// needed to persist a Visit without touching the request again.
type VisitEvent struct {
	LinkID    uint
	Code      string
	Kind      string
	Timestamp time.Time
	IPAddress string
	UserAgent string
	Referrer  string
}
