// Package metadata resolves upstream ids to names with a storage-backed
// cache. Lookups hit storage first and fall through to the upstream API
// on a miss, persisting what they learn. Names never change upstream,
// so cached rows are served forever.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"pinger/internal/render"
	"pinger/internal/storage"
	"pinger/internal/upstream"
	logx "pinger/pkg/logx"
)

// Fetcher is the slice of the upstream client the resolver needs.
type Fetcher interface {
	Names(ctx context.Context, ids []int64) ([]storage.Entity, error)
	CorporationInfo(ctx context.Context, id int64) (storage.Entity, int64, error)
	AllianceInfo(ctx context.Context, id int64) (storage.Entity, error)
	SystemInfo(ctx context.Context, id int64) (storage.System, error)
	MoonInfo(ctx context.Context, id int64) (storage.Celestial, error)
	PlanetInfo(ctx context.Context, id int64) (storage.Celestial, error)
	TypeInfo(ctx context.Context, id int64) (storage.ItemType, error)
	StructureName(ctx context.Context, id int64) (string, error)
}

type Resolver struct {
	store storage.Store
	fetch Fetcher
	log   logx.Logger
}

func New(store storage.Store, fetch Fetcher, log logx.Logger) *Resolver {
	return &Resolver{store: store, fetch: fetch, log: log.With(logx.String("component", "metadata"))}
}

// Entity resolves a character, corporation or alliance id.
func (r *Resolver) Entity(ctx context.Context, id int64) (storage.Entity, error) {
	e, err := r.store.Entity(ctx, id)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Entity{}, err
	}

	named, err := r.fetch.Names(ctx, []int64{id})
	if err != nil {
		return storage.Entity{}, err
	}
	if len(named) == 0 {
		return storage.Entity{}, fmt.Errorf("metadata: entity %d: %w", id, upstream.ErrNotFound)
	}
	e = named[0]

	// Corporations and alliances carry a ticker the name endpoint does
	// not return.
	switch e.Category {
	case "corporation":
		full, allianceID, err := r.fetch.CorporationInfo(ctx, id)
		if err != nil {
			return storage.Entity{}, err
		}
		e = full
		e.AllianceID = allianceID
		if allianceID != 0 {
			if _, err := r.Entity(ctx, allianceID); err != nil {
				r.log.Warn("alliance resolve failed", logx.Int64("alliance_id", allianceID), logx.Err(err))
			}
		}
	case "alliance":
		full, err := r.fetch.AllianceInfo(ctx, id)
		if err != nil {
			return storage.Entity{}, err
		}
		e = full
	}

	if err := r.store.PutEntity(ctx, e); err != nil {
		return storage.Entity{}, err
	}
	return e, nil
}

// Alliance returns the alliance a corporation belongs to, or
// storage.ErrNotFound for unallied corporations.
func (r *Resolver) Alliance(ctx context.Context, corporationID int64) (storage.Entity, error) {
	corp, err := r.Entity(ctx, corporationID)
	if err != nil {
		return storage.Entity{}, err
	}
	if corp.AllianceID == 0 {
		return storage.Entity{}, storage.ErrNotFound
	}
	return r.Entity(ctx, corp.AllianceID)
}

func (r *Resolver) System(ctx context.Context, id int64) (storage.System, error) {
	s, err := r.store.System(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.System{}, err
	}
	s, err = r.fetch.SystemInfo(ctx, id)
	if err != nil {
		return storage.System{}, err
	}
	if err := r.store.PutSystem(ctx, s); err != nil {
		return storage.System{}, err
	}
	return s, nil
}

func (r *Resolver) Moon(ctx context.Context, id int64) (storage.Celestial, error) {
	c, err := r.store.Moon(ctx, id)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Celestial{}, err
	}
	c, err = r.fetch.MoonInfo(ctx, id)
	if err != nil {
		return storage.Celestial{}, err
	}
	if err := r.store.PutMoon(ctx, c); err != nil {
		return storage.Celestial{}, err
	}
	return c, nil
}

func (r *Resolver) Planet(ctx context.Context, id int64) (storage.Celestial, error) {
	c, err := r.store.Planet(ctx, id)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Celestial{}, err
	}
	c, err = r.fetch.PlanetInfo(ctx, id)
	if err != nil {
		return storage.Celestial{}, err
	}
	if err := r.store.PutPlanet(ctx, c); err != nil {
		return storage.Celestial{}, err
	}
	return c, nil
}

func (r *Resolver) ItemType(ctx context.Context, id int64) (storage.ItemType, error) {
	t, err := r.store.ItemType(ctx, id)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.ItemType{}, err
	}
	t, err = r.fetch.TypeInfo(ctx, id)
	if err != nil {
		return storage.ItemType{}, err
	}
	if err := r.store.PutItemType(ctx, t); err != nil {
		return storage.ItemType{}, err
	}
	return t, nil
}

// Structure resolves a structure id to its name. Structures the token
// cannot see stay unresolved and the renderer shows them as Unknown.
func (r *Resolver) Structure(ctx context.Context, id int64) (string, error) {
	e, err := r.store.Entity(ctx, id)
	if err == nil {
		return e.Name, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	name, err := r.fetch.StructureName(ctx, id)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return "", storage.ErrNotFound
		}
		return "", err
	}
	if err := r.store.PutEntity(ctx, storage.Entity{ID: id, Name: name, Category: "structure"}); err != nil {
		return "", err
	}
	return name, nil
}

// Observer resolves the corporation and alliance context of the
// character whose feed carried a notification.
func (r *Resolver) Observer(ctx context.Context, characterID, corporationID int64) (render.Observer, error) {
	corp, err := r.Entity(ctx, corporationID)
	if err != nil {
		return render.Observer{}, err
	}
	obs := render.Observer{CharacterID: characterID, Corporation: corp}
	if alli, err := r.Alliance(ctx, corporationID); err == nil {
		obs.Alliance = alli
	} else if !errors.Is(err, storage.ErrNotFound) {
		return render.Observer{}, err
	}
	return obs, nil
}
