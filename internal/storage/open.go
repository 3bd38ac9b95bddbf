package storage

import (
	"context"
	"time"

	logx "pinger/pkg/logx"
)

// Config selects the database file and open behavior.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store is the persistence surface the pipeline runs against.
type Store interface {
	// InsertNotifications appends ingested notifications, ignoring ids
	// already present, and reports how many rows were new.
	InsertNotifications(ctx context.Context, batch []Notification) (int, error)
	// HeadID returns the highest notification id seen for a character,
	// or zero when none has been ingested yet.
	HeadID(ctx context.Context, characterID int64) (int64, error)
	// NotificationsSince returns notifications at or after cutoff whose
	// type is in types, oldest first.
	NotificationsSince(ctx context.Context, cutoff time.Time, types []string) ([]Notification, error)

	// PingedSince returns the notification ids that already have a ping
	// row created at or after cutoff, regardless of destination.
	PingedSince(ctx context.Context, cutoff time.Time) (map[int64]struct{}, error)
	// CreatePing inserts one ping row. A second insert for the same
	// (notification, webhook) pair returns (0, nil) and writes nothing.
	CreatePing(ctx context.Context, p Ping) (int64, error)
	Ping(ctx context.Context, id int64) (Ping, error)
	MarkPingSent(ctx context.Context, id int64, at time.Time) error
	// UnsentPings returns the ids of every ping not yet delivered,
	// oldest first.
	UnsentPings(ctx context.Context) ([]int64, error)

	// Webhooks returns all enabled destinations with their filter
	// lists loaded.
	Webhooks(ctx context.Context) ([]Webhook, error)
	SaveWebhook(ctx context.Context, w Webhook) (int64, error)
	DeleteWebhook(ctx context.Context, id int64) error

	Entity(ctx context.Context, id int64) (Entity, error)
	PutEntity(ctx context.Context, e Entity) error
	System(ctx context.Context, id int64) (System, error)
	PutSystem(ctx context.Context, s System) error
	Moon(ctx context.Context, id int64) (Celestial, error)
	PutMoon(ctx context.Context, c Celestial) error
	Planet(ctx context.Context, id int64) (Celestial, error)
	PutPlanet(ctx context.Context, c Celestial) error
	ItemType(ctx context.Context, id int64) (ItemType, error)
	PutItemType(ctx context.Context, t ItemType) error

	// PruneBefore drops notifications older than cutoff along with
	// their sent pings. Unsent pings keep their notifications alive.
	PruneBefore(ctx context.Context, cutoff time.Time) error

	Close() error
}

// Open opens (or creates) the store at cfg.Path and applies migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	return openSQLite(cfg, log)
}
