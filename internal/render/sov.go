package render

import (
	"context"
	"fmt"
	"strings"

	"pinger/internal/storage"
)

type anchoringPayload struct {
	AllianceID    int64 `yaml:"allianceID"`
	CorpID        int64 `yaml:"corpID"`
	MoonID        int64 `yaml:"moonID"`
	SolarSystemID int64 `yaml:"solarSystemID"`
	TypeID        int64 `yaml:"typeID"`
	CorpsPresent  []struct {
		AllianceID int64 `yaml:"allianceID"`
		CorpID     int64 `yaml:"corpID"`
		Towers     []struct {
			MoonID int64 `yaml:"moonID"`
			TypeID int64 `yaml:"typeID"`
		} `yaml:"towers"`
	} `yaml:"corpsPresent"`
}

func (r *Renderer) allAnchoring(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	var p anchoringPayload
	if err := r.decode(n, &p); err != nil {
		return Message{}, err
	}
	system, err := r.lk.System(ctx, p.SolarSystemID)
	if err != nil {
		return Message{}, err
	}
	towerType, err := r.lk.ItemType(ctx, p.TypeID)
	if err != nil {
		return Message{}, err
	}
	moon, err := r.lk.Moon(ctx, p.MoonID)
	if err != nil {
		return Message{}, err
	}
	owner, err := r.lk.Entity(ctx, p.CorpID)
	if err != nil {
		return Message{}, err
	}

	allianceName := "-"
	var allianceID int64
	if alli, err := r.lk.Alliance(ctx, p.CorpID); err == nil && alli.ID != 0 {
		allianceName = alli.Name
		allianceID = alli.ID
	}

	body := fmt.Sprintf("%s\n**%s**\n\n%s, **%s**",
		towerType.Name, moon.Name, zkillSearch(owner.Name), zkillSearch(allianceName))

	var fields []Field
	for _, present := range p.CorpsPresent {
		moons := make([]string, 0, len(present.Towers))
		for _, tower := range present.Towers {
			m, err := r.lk.Moon(ctx, tower.MoonID)
			if err != nil {
				return Message{}, err
			}
			moons = append(moons, m.Name)
		}
		corp, err := r.lk.Entity(ctx, present.CorpID)
		if err != nil {
			return Message{}, err
		}
		fields = append(fields, Field{Name: corp.Name, Value: strings.Join(moons, "\n")})
	}

	footer := &Footer{IconURL: corpIconURL(owner.ID), Text: owner.Name}
	return Message{
		Category:   CategorySecureAlert,
		Embed:      packageEmbed("Tower Anchoring!", body, n.Timestamp, fields, footer, nil, 16756480),
		AllianceID: allianceID,
		RegionID:   system.RegionID,
	}, nil
}

type sovReinforcedPayload struct {
	CampaignEventType int   `yaml:"campaignEventType"`
	DecloakTime       int64 `yaml:"decloakTime"`
	SolarSystemID     int64 `yaml:"solarSystemID"`
}

func (r *Renderer) sovReinforced(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	var p sovReinforcedPayload
	if err := r.decode(n, &p); err != nil {
		return Message{}, err
	}
	system, err := r.lk.System(ctx, p.SolarSystemID)
	if err != nil {
		return Message{}, err
	}
	systemLink := dotlanSystem(system.Name)

	body := fmt.Sprintf("Sov Struct Reinforced in %s", systemLink)
	switch p.CampaignEventType {
	case 1:
		body = fmt.Sprintf("TCU Reinforced in %s", systemLink)
	case 2:
		body = fmt.Sprintf("IHub Reinforced in %s", systemLink)
	}

	decloak := filetimeToTime(p.DecloakTime)
	fields := []Field{
		{Name: "System", Value: systemLink, Inline: true},
		{Name: "Region", Value: dotlanRegion(system.RegionName), Inline: true},
		{Name: "Time Till Decloaks", Value: formatDuration(decloak.Sub(r.now()))},
		{Name: "Date Out", Value: decloak.Format("2006-01-02 15:04")},
	}
	return Message{
		Category:      CategorySov,
		Embed:         packageEmbed("Entosis notification", body, n.Timestamp, fields, allianceFooter(obs), nil, 16756480),
		CorporationID: obs.Corporation.ID,
		RegionID:      system.RegionID,
	}, nil
}

type entosisPayload struct {
	SolarSystemID   int64 `yaml:"solarSystemID"`
	StructureTypeID int64 `yaml:"structureTypeID"`
}

func (r *Renderer) entosisStarted(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	var p entosisPayload
	if err := r.decode(n, &p); err != nil {
		return Message{}, err
	}
	system, err := r.lk.System(ctx, p.SolarSystemID)
	if err != nil {
		return Message{}, err
	}
	structureType, err := r.lk.ItemType(ctx, p.StructureTypeID)
	if err != nil {
		return Message{}, err
	}
	systemLink := dotlanSystem(system.Name)

	body := fmt.Sprintf("Entosis has started in %s on %s", systemLink, structureType.Name)
	fields := []Field{
		{Name: "System", Value: systemLink, Inline: true},
		{Name: "Region", Value: dotlanRegion(system.RegionName), Inline: true},
	}
	return Message{
		Category:      CategorySov,
		Embed:         packageEmbed("Entosis Notification", body, n.Timestamp, fields, allianceFooter(obs), nil, 16756480),
		CorporationID: obs.Corporation.ID,
		RegionID:      system.RegionID,
	}, nil
}
