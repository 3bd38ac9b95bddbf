package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "pinger/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) InsertNotifications(ctx context.Context, batch []Notification) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO notifications(id, character_id, corporation_id, type, timestamp, payload)
		 VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int
	for _, n := range batch {
		res, err := stmt.ExecContext(ctx, n.ID, n.CharacterID, n.CorporationID, n.Type, n.Timestamp.UnixMilli(), n.Payload)
		if err != nil {
			return inserted, err
		}
		if rows, _ := res.RowsAffected(); rows > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

func (s *sqliteStore) HeadID(ctx context.Context, characterID int64) (int64, error) {
	var head int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM notifications WHERE character_id = ?`,
		characterID).Scan(&head)
	return head, err
}

func (s *sqliteStore) NotificationsSince(ctx context.Context, cutoff time.Time, types []string) ([]Notification, error) {
	if len(types) == 0 {
		return nil, nil
	}
	marks := strings.Repeat("?,", len(types))
	args := make([]any, 0, len(types)+1)
	args = append(args, cutoff.UnixMilli())
	for _, t := range types {
		args = append(args, t)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, character_id, corporation_id, type, timestamp, payload
		 FROM notifications
		 WHERE timestamp >= ? AND type IN (`+marks[:len(marks)-1]+`)
		 ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var ms int64
		if err := rows.Scan(&n.ID, &n.CharacterID, &n.CorporationID, &n.Type, &ms, &n.Payload); err != nil {
			return nil, err
		}
		n.Timestamp = time.UnixMilli(ms).UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PingedSince(ctx context.Context, cutoff time.Time) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT notification_id FROM pings WHERE event_time >= ?`,
		cutoff.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreatePing(ctx context.Context, p Ping) (int64, error) {
	if p.EventTime.IsZero() {
		p.EventTime = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pings(notification_id, webhook_id, body, alerting, event_time, sent, sent_at)
		 VALUES(?,?,?,?,?,0,0)`,
		p.NotificationID, p.WebhookID, p.Body, boolInt(p.Alerting), p.EventTime.UnixMilli())
	if err != nil {
		return 0, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return 0, nil
	}
	return res.LastInsertId()
}

func (s *sqliteStore) Ping(ctx context.Context, id int64) (Ping, error) {
	var p Ping
	var alerting, sent int
	var eventMs, sentAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, notification_id, webhook_id, body, alerting, event_time, sent, sent_at
		 FROM pings WHERE id = ?`, id).
		Scan(&p.ID, &p.NotificationID, &p.WebhookID, &p.Body, &alerting, &eventMs, &sent, &sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Ping{}, ErrNotFound
	}
	if err != nil {
		return Ping{}, err
	}
	p.Alerting = alerting != 0
	p.Sent = sent != 0
	p.EventTime = time.UnixMilli(eventMs).UTC()
	if sentAt > 0 {
		p.SentAt = time.UnixMilli(sentAt).UTC()
	}
	return p, nil
}

func (s *sqliteStore) MarkPingSent(ctx context.Context, id int64, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE pings SET sent = 1, sent_at = ? WHERE id = ?`,
		at.UnixMilli(), id)
	return err
}

func (s *sqliteStore) UnsentPings(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM pings WHERE sent = 0 ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Webhooks(ctx context.Context) ([]Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, nickname, url FROM webhooks WHERE enabled = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Webhook
	byID := make(map[int64]int)
	for rows.Next() {
		var w Webhook
		if err := rows.Scan(&w.ID, &w.Nickname, &w.URL); err != nil {
			return nil, err
		}
		byID[w.ID] = len(out)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadCategories(ctx, out, byID); err != nil {
		return nil, err
	}
	for _, child := range []struct {
		table string
		dst   func(w *Webhook) *[]int64
	}{
		{"webhook_corporations", func(w *Webhook) *[]int64 { return &w.Corporations }},
		{"webhook_alliances", func(w *Webhook) *[]int64 { return &w.Alliances }},
		{"webhook_regions", func(w *Webhook) *[]int64 { return &w.Regions }},
	} {
		if err := s.loadIDFilter(ctx, child.table, out, byID, child.dst); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *sqliteStore) loadCategories(ctx context.Context, hooks []Webhook, byID map[int64]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT webhook_id, category FROM webhook_categories ORDER BY webhook_id, category`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var cat string
		if err := rows.Scan(&id, &cat); err != nil {
			return err
		}
		if i, ok := byID[id]; ok {
			hooks[i].Categories = append(hooks[i].Categories, cat)
		}
	}
	return rows.Err()
}

func (s *sqliteStore) loadIDFilter(ctx context.Context, table string, hooks []Webhook, byID map[int64]int, dst func(w *Webhook) *[]int64) error {
	col := map[string]string{
		"webhook_corporations": "corporation_id",
		"webhook_alliances":    "alliance_id",
		"webhook_regions":      "region_id",
	}[table]
	rows, err := s.db.QueryContext(ctx,
		`SELECT webhook_id, `+col+` FROM `+table+` ORDER BY webhook_id, `+col)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, val int64
		if err := rows.Scan(&id, &val); err != nil {
			return err
		}
		if i, ok := byID[id]; ok {
			p := dst(&hooks[i])
			*p = append(*p, val)
		}
	}
	return rows.Err()
}

func (s *sqliteStore) SaveWebhook(ctx context.Context, w Webhook) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	id := w.ID
	if id > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE webhooks SET nickname = ?, url = ?, enabled = 1 WHERE id = ?`,
			w.Nickname, w.URL, id)
		if err != nil {
			return 0, err
		}
		for _, table := range []string{"webhook_categories", "webhook_corporations", "webhook_alliances", "webhook_regions"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE webhook_id = ?`, id); err != nil {
				return 0, err
			}
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO webhooks(nickname, url, enabled) VALUES(?,?,1)`,
			w.Nickname, w.URL)
		if err != nil {
			return 0, err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
	}

	for _, cat := range w.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO webhook_categories(webhook_id, category) VALUES(?,?)`, id, cat); err != nil {
			return 0, err
		}
	}
	for _, pair := range []struct {
		table, col string
		vals       []int64
	}{
		{"webhook_corporations", "corporation_id", w.Corporations},
		{"webhook_alliances", "alliance_id", w.Alliances},
		{"webhook_regions", "region_id", w.Regions},
	} {
		for _, v := range pair.vals {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO `+pair.table+`(webhook_id, `+pair.col+`) VALUES(?,?)`, id, v); err != nil {
				return 0, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *sqliteStore) DeleteWebhook(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) Entity(ctx context.Context, id int64) (Entity, error) {
	var e Entity
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, category, ticker, alliance_id FROM entities WHERE id = ?`, id).
		Scan(&e.ID, &e.Name, &e.Category, &e.Ticker, &e.AllianceID)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	return e, err
}

func (s *sqliteStore) PutEntity(ctx context.Context, e Entity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities(id, name, category, ticker, alliance_id) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, category=excluded.category,
		   ticker=excluded.ticker, alliance_id=excluded.alliance_id`,
		e.ID, e.Name, e.Category, e.Ticker, e.AllianceID)
	return err
}

func (s *sqliteStore) System(ctx context.Context, id int64) (System, error) {
	var sys System
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, region_id, region_name FROM systems WHERE id = ?`, id).
		Scan(&sys.ID, &sys.Name, &sys.RegionID, &sys.RegionName)
	if errors.Is(err, sql.ErrNoRows) {
		return System{}, ErrNotFound
	}
	return sys, err
}

func (s *sqliteStore) PutSystem(ctx context.Context, sys System) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO systems(id, name, region_id, region_name) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, region_id=excluded.region_id, region_name=excluded.region_name`,
		sys.ID, sys.Name, sys.RegionID, sys.RegionName)
	return err
}

func (s *sqliteStore) Moon(ctx context.Context, id int64) (Celestial, error) {
	return s.celestial(ctx, "moons", id)
}

func (s *sqliteStore) PutMoon(ctx context.Context, c Celestial) error {
	return s.putCelestial(ctx, "moons", c)
}

func (s *sqliteStore) Planet(ctx context.Context, id int64) (Celestial, error) {
	return s.celestial(ctx, "planets", id)
}

func (s *sqliteStore) PutPlanet(ctx context.Context, c Celestial) error {
	return s.putCelestial(ctx, "planets", c)
}

func (s *sqliteStore) celestial(ctx context.Context, table string, id int64) (Celestial, error) {
	var c Celestial
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, system_id FROM `+table+` WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.SystemID)
	if errors.Is(err, sql.ErrNoRows) {
		return Celestial{}, ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) putCelestial(ctx context.Context, table string, c Celestial) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+table+`(id, name, system_id) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, system_id=excluded.system_id`,
		c.ID, c.Name, c.SystemID)
	return err
}

func (s *sqliteStore) ItemType(ctx context.Context, id int64) (ItemType, error) {
	var t ItemType
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM item_types WHERE id = ?`, id).Scan(&t.ID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return ItemType{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) PutItemType(ctx context.Context, t ItemType) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO item_types(id, name) VALUES(?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
		t.ID, t.Name)
	return err
}

func (s *sqliteStore) PruneBefore(ctx context.Context, cutoff time.Time) error {
	ms := cutoff.UnixMilli()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pings WHERE sent = 1 AND event_time < ?`, ms); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications
		 WHERE timestamp < ? AND id NOT IN (SELECT notification_id FROM pings)`, ms)
	return err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
