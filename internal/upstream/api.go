package upstream

import (
	"context"
	"fmt"
	"time"

	"pinger/internal/storage"
)

// Corporation is an organization with audited characters.
type Corporation struct {
	ID   int64  `json:"corporation_id"`
	Name string `json:"name"`
}

// Character is an audit member whose notification feed can be pulled.
type Character struct {
	ID            int64  `json:"character_id"`
	Name          string `json:"name"`
	CorporationID int64  `json:"corporation_id"`
}

type wireNotification struct {
	ID        int64     `json:"notification_id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// Corporations lists the organizations eligible for polling.
func (c *Client) Corporations(ctx context.Context) ([]Corporation, error) {
	var out []Corporation
	if err := c.do(ctx, "GET", "/corporations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EligibleCharacters lists the active, tokened characters of one
// corporation whose feeds may be pulled.
func (c *Client) EligibleCharacters(ctx context.Context, corporationID int64) ([]Character, error) {
	var out []Character
	path := fmt.Sprintf("/corporations/%d/characters", corporationID)
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Notifications pulls one character's current notification feed.
func (c *Client) Notifications(ctx context.Context, ch Character) ([]storage.Notification, error) {
	var wire []wireNotification
	path := fmt.Sprintf("/characters/%d/notifications", ch.ID)
	if err := c.do(ctx, "GET", path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]storage.Notification, 0, len(wire))
	for _, w := range wire {
		out = append(out, storage.Notification{
			ID:            w.ID,
			CharacterID:   ch.ID,
			CorporationID: ch.CorporationID,
			Type:          w.Type,
			Timestamp:     w.Timestamp,
			Payload:       w.Text,
		})
	}
	return out, nil
}

type wireName struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Names resolves entity ids to names and categories in one call.
func (c *Client) Names(ctx context.Context, ids []int64) ([]storage.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var wire []wireName
	if err := c.do(ctx, "POST", "/universe/names", ids, &wire); err != nil {
		return nil, err
	}
	out := make([]storage.Entity, 0, len(wire))
	for _, w := range wire {
		out = append(out, storage.Entity{ID: w.ID, Name: w.Name, Category: w.Category})
	}
	return out, nil
}

type wireCorporation struct {
	Name       string `json:"name"`
	Ticker     string `json:"ticker"`
	AllianceID int64  `json:"alliance_id"`
}

// CorporationInfo returns a corporation's name, ticker and alliance
// membership. AllianceID is zero for unallied corporations.
func (c *Client) CorporationInfo(ctx context.Context, id int64) (storage.Entity, int64, error) {
	var w wireCorporation
	if err := c.do(ctx, "GET", fmt.Sprintf("/corporations/%d", id), nil, &w); err != nil {
		return storage.Entity{}, 0, err
	}
	return storage.Entity{ID: id, Name: w.Name, Category: "corporation", Ticker: w.Ticker}, w.AllianceID, nil
}

type wireAlliance struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

func (c *Client) AllianceInfo(ctx context.Context, id int64) (storage.Entity, error) {
	var w wireAlliance
	if err := c.do(ctx, "GET", fmt.Sprintf("/alliances/%d", id), nil, &w); err != nil {
		return storage.Entity{}, err
	}
	return storage.Entity{ID: id, Name: w.Name, Category: "alliance", Ticker: w.Ticker}, nil
}

type wireSystem struct {
	Name       string `json:"name"`
	RegionID   int64  `json:"region_id"`
	RegionName string `json:"region_name"`
}

func (c *Client) SystemInfo(ctx context.Context, id int64) (storage.System, error) {
	var w wireSystem
	if err := c.do(ctx, "GET", fmt.Sprintf("/universe/systems/%d", id), nil, &w); err != nil {
		return storage.System{}, err
	}
	return storage.System{ID: id, Name: w.Name, RegionID: w.RegionID, RegionName: w.RegionName}, nil
}

type wireCelestial struct {
	Name     string `json:"name"`
	SystemID int64  `json:"system_id"`
}

func (c *Client) MoonInfo(ctx context.Context, id int64) (storage.Celestial, error) {
	return c.celestialInfo(ctx, "moons", id)
}

func (c *Client) PlanetInfo(ctx context.Context, id int64) (storage.Celestial, error) {
	return c.celestialInfo(ctx, "planets", id)
}

func (c *Client) celestialInfo(ctx context.Context, kind string, id int64) (storage.Celestial, error) {
	var w wireCelestial
	if err := c.do(ctx, "GET", fmt.Sprintf("/universe/%s/%d", kind, id), nil, &w); err != nil {
		return storage.Celestial{}, err
	}
	return storage.Celestial{ID: id, Name: w.Name, SystemID: w.SystemID}, nil
}

type wireItemType struct {
	Name string `json:"name"`
}

func (c *Client) TypeInfo(ctx context.Context, id int64) (storage.ItemType, error) {
	var w wireItemType
	if err := c.do(ctx, "GET", fmt.Sprintf("/universe/types/%d", id), nil, &w); err != nil {
		return storage.ItemType{}, err
	}
	return storage.ItemType{ID: id, Name: w.Name}, nil
}

type wireStructure struct {
	Name string `json:"name"`
}

// StructureName resolves a structure id to its name. Structures the
// token cannot see return ErrNotFound.
func (c *Client) StructureName(ctx context.Context, id int64) (string, error) {
	var w wireStructure
	if err := c.do(ctx, "GET", fmt.Sprintf("/universe/structures/%d", id), nil, &w); err != nil {
		return "", err
	}
	return w.Name, nil
}
