package render

import (
	"context"
	"fmt"

	"pinger/internal/storage"
)

type orbitalPayload struct {
	AggressorAllianceID int64   `yaml:"aggressorAllianceID"`
	AggressorCorpID     int64   `yaml:"aggressorCorpID"`
	AggressorID         int64   `yaml:"aggressorID"`
	PlanetID            int64   `yaml:"planetID"`
	ShieldLevel         float64 `yaml:"shieldLevel"`
	ReinforceExitTime   int64   `yaml:"reinforceExitTime"`
	SolarSystemID       int64   `yaml:"solarSystemID"`
	TypeID              int64   `yaml:"typeID"`
}

func (r *Renderer) orbitalAttacked(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	var p orbitalPayload
	if err := r.decode(n, &p); err != nil {
		return Message{}, err
	}
	system, err := r.lk.System(ctx, p.SolarSystemID)
	if err != nil {
		return Message{}, err
	}
	planet, err := r.lk.Planet(ctx, p.PlanetID)
	if err != nil {
		return Message{}, err
	}
	structureType, err := r.lk.ItemType(ctx, p.TypeID)
	if err != nil {
		return Message{}, err
	}
	char, err := r.lk.Entity(ctx, p.AggressorID)
	if err != nil {
		return Message{}, err
	}
	corp, err := r.lk.Entity(ctx, p.AggressorCorpID)
	if err != nil {
		return Message{}, err
	}
	var allianceName string
	if p.AggressorAllianceID != 0 {
		alli, err := r.lk.Entity(ctx, p.AggressorAllianceID)
		if err != nil {
			return Message{}, err
		}
		allianceName = alli.Name
	}

	body := fmt.Sprintf("%s under Attack!\nShield Level: %.2f%%", structureType.Name, p.ShieldLevel*100)
	fields := []Field{
		{Name: "System/Planet", Value: dotlanSystemAs(planet.Name, system.Name), Inline: true},
		{Name: "Region", Value: dotlanRegion(system.RegionName), Inline: true},
		{Name: "Type", Value: structureType.Name, Inline: true},
		{Name: "Attacker", Value: attackerLine(char.Name, corp.Name, allianceName)},
	}
	return Message{
		Category:      CategoryOrbital,
		Alerting:      true,
		Embed:         packageEmbed("Poco Under Attack", body, n.Timestamp, fields, corpFooter(obs), nil, 15158332),
		CorporationID: obs.Corporation.ID,
		AllianceID:    obs.Alliance.ID,
		RegionID:      system.RegionID,
	}, nil
}

func (r *Renderer) orbitalReinforced(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	var p orbitalPayload
	if err := r.decode(n, &p); err != nil {
		return Message{}, err
	}
	system, err := r.lk.System(ctx, p.SolarSystemID)
	if err != nil {
		return Message{}, err
	}
	planet, err := r.lk.Planet(ctx, p.PlanetID)
	if err != nil {
		return Message{}, err
	}
	structureType, err := r.lk.ItemType(ctx, p.TypeID)
	if err != nil {
		return Message{}, err
	}

	exit := filetimeToTime(p.ReinforceExitTime)
	fields := []Field{
		{Name: "System", Value: dotlanSystemAs(planet.Name, system.Name), Inline: true},
		{Name: "Type", Value: structureType.Name, Inline: true},
		{Name: "Owner", Value: zkillSearch(obs.Corporation.Name)},
		{Name: "Time Till Out", Value: formatDuration(exit.Sub(r.now()))},
		{Name: "Date Out", Value: exit.Format("2006-01-02 15:04")},
	}
	body := fmt.Sprintf("%s has lost its Shields", structureType.Name)
	return Message{
		Category:      CategoryOrbital,
		Embed:         packageEmbed("Poco Reinforced", body, n.Timestamp, fields, corpFooter(obs), nil, 7419530),
		CorporationID: obs.Corporation.ID,
		AllianceID:    obs.Alliance.ID,
		RegionID:      system.RegionID,
	}, nil
}
