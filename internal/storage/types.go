package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("storage: not found")

// Notification is an audit event ingested from the upstream API. The
// upstream id is globally unique and monotonically increasing, so the
// maximum id per character doubles as the rotation head marker.
type Notification struct {
	ID            int64
	CharacterID   int64
	CorporationID int64
	Type          string
	Timestamp     time.Time
	// Payload is the raw notification text as received upstream: a
	// YAML document whose shape depends on Type.
	Payload string
}

// Webhook is a delivery destination plus its subscription filters.
// Empty filter slices mean "no constraint" for that dimension.
type Webhook struct {
	ID           int64
	Nickname     string
	URL          string
	Categories   []string
	Corporations []int64
	Alliances    []int64
	Regions      []int64
}

// Ping is one rendered message bound to one destination. Body holds the
// serialized embed so that delivery retries never re-render.
type Ping struct {
	ID             int64
	NotificationID int64
	WebhookID      int64
	Body           string
	Alerting       bool
	EventTime      time.Time
	Sent           bool
	SentAt         time.Time
}

// Entity is a cached upstream entity (character, corporation or
// alliance). Ticker is empty for characters. AllianceID is set only on
// corporation rows that belong to an alliance.
type Entity struct {
	ID         int64
	Name       string
	Category   string
	Ticker     string
	AllianceID int64
}

// System is a cached solar system with its region denormalized in, so
// renderers can build region links without a second lookup.
type System struct {
	ID         int64
	Name       string
	RegionID   int64
	RegionName string
}

// Celestial is a cached moon or planet.
type Celestial struct {
	ID       int64
	Name     string
	SystemID int64
}

// ItemType is a cached item type (structure hulls, entosis modules).
type ItemType struct {
	ID   int64
	Name string
}
