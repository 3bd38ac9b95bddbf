package render

import (
	"context"
	"encoding/json"
	"time"

	"pinger/internal/storage"
)

// Embed is the Discord embed object serialized into a ping body.
type Embed struct {
	Color       int     `json:"color"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Timestamp   string  `json:"timestamp"`
	Fields      []Field `json:"fields,omitempty"`
	Image       *Image  `json:"image,omitempty"`
	Footer      *Footer `json:"footer,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type Image struct {
	URL string `json:"url"`
}

type Footer struct {
	IconURL string `json:"icon_url"`
	Text    string `json:"text"`
}

// Observer is the character whose audit feed carried the notification,
// with its corporation and alliance resolved. Alliance is the zero
// value when the corporation holds none.
type Observer struct {
	CharacterID int64
	Corporation storage.Entity
	Alliance    storage.Entity
}

// Message is a rendered notification ready for fanout. The routing keys
// are zero when the renderer places no constraint on that dimension.
type Message struct {
	Category string
	Alerting bool
	Embed    Embed

	CorporationID int64
	AllianceID    int64
	RegionID      int64
}

// Body serializes the embed for storage on the ping row.
func (m Message) Body() (string, error) {
	b, err := json.Marshal(m.Embed)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Lookup resolves ids to names, fetching from upstream and caching in
// storage as needed. Structure returns storage.ErrNotFound when the
// structure name is not known.
type Lookup interface {
	Entity(ctx context.Context, id int64) (storage.Entity, error)
	Alliance(ctx context.Context, corporationID int64) (storage.Entity, error)
	System(ctx context.Context, id int64) (storage.System, error)
	Moon(ctx context.Context, id int64) (storage.Celestial, error)
	Planet(ctx context.Context, id int64) (storage.Celestial, error)
	ItemType(ctx context.Context, id int64) (storage.ItemType, error)
	Structure(ctx context.Context, id int64) (string, error)
}

func packageEmbed(title, body string, ts time.Time, fields []Field, footer *Footer, img *Image, colour int) Embed {
	return Embed{
		Color:       colour,
		Title:       title,
		Description: body,
		Timestamp:   ts.UTC().Format("2006-01-02T15:04:05"),
		Fields:      fields,
		Image:       img,
		Footer:      footer,
	}
}
