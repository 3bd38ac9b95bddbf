package render

import (
	"context"
	"fmt"
	"time"

	"pinger/internal/storage"
)

type structurePayload struct {
	SolarSystemID   int64   `yaml:"solarsystemID"`
	StructureID     int64   `yaml:"structureID"`
	StructureTypeID int64   `yaml:"structureTypeID"`
	TimeLeft        int64   `yaml:"timeLeft"`
	ShieldPct       float64 `yaml:"shieldPercentage"`
	ArmorPct        float64 `yaml:"armorPercentage"`
	HullPct         float64 `yaml:"hullPercentage"`
	CharID          int64   `yaml:"charID"`
	CorpName        string  `yaml:"corpName"`
	AllianceName    string  `yaml:"allianceName"`
}

// attackerLine renders "char, corp, **alliance**" as zkillboard links.
// A missing alliance shows as a literal dash.
func attackerLine(char, corp, alliance string) string {
	alli := "**[*-*](https://zkillboard.com/search//)**"
	if alliance != "" {
		alli = fmt.Sprintf("**%s**", zkillSearch(alliance))
	}
	return fmt.Sprintf("*%s*, %s, %s", zkillSearch(char), zkillSearch(corp), alli)
}

// structureTimerMessage covers the shield and armor timers, which
// differ only in wording.
func (r *Renderer) structureTimerMessage(ctx context.Context, n storage.Notification, obs Observer, body string) (Message, error) {
	var p structurePayload
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

	// timeLeft is in 100ns intervals.
	remaining := time.Duration(p.TimeLeft/10) * time.Microsecond
	out := n.Timestamp.Add(remaining)

	fields := []Field{
		{Name: "System", Value: dotlanSystem(system.Name), Inline: true},
		{Name: "Type", Value: structureType.Name, Inline: true},
		{Name: "Owner", Value: zkillSearch(obs.Corporation.Name)},
		{Name: "Time Till Out", Value: formatDuration(remaining)},
		{Name: "Date Out", Value: out.Format("2006-01-02 15:04")},
	}
	return Message{
		Category:      CategoryStructure,
		Embed:         packageEmbed(r.structureName(ctx, p.StructureID), body, n.Timestamp, fields, corpFooter(obs), nil, 16756480),
		CorporationID: obs.Corporation.ID,
		RegionID:      system.RegionID,
	}, nil
}

func (r *Renderer) structureLostShields(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	return r.structureTimerMessage(ctx, n, obs, "Structure has lost its Shields")
}

func (r *Renderer) structureLostArmor(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	return r.structureTimerMessage(ctx, n, obs, "Structure has lost its Armor")
}

func (r *Renderer) structureUnderAttack(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	var p structurePayload
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
	attacker, err := r.lk.Entity(ctx, p.CharID)
	if err != nil {
		return Message{}, err
	}

	body := fmt.Sprintf("Structure under Attack!\n[ S: %.2f%% A: %.2f%% H: %.2f%% ]", p.ShieldPct, p.ArmorPct, p.HullPct)
	fields := []Field{
		{Name: "System", Value: dotlanSystem(system.Name), Inline: true},
		{Name: "Region", Value: dotlanRegion(system.RegionName), Inline: true},
		{Name: "Type", Value: structureType.Name, Inline: true},
		{Name: "Attacker", Value: attackerLine(attacker.Name, p.CorpName, p.AllianceName)},
	}
	return Message{
		Category:      CategoryStructure,
		Embed:         packageEmbed(r.structureName(ctx, p.StructureID), body, n.Timestamp, fields, corpFooter(obs), nil, 16756480),
		CorporationID: obs.Corporation.ID,
		RegionID:      system.RegionID,
	}, nil
}

type transferPayload struct {
	CharID          int64  `yaml:"charID"`
	NewOwnerCorpID  int64  `yaml:"newOwnerCorpID"`
	OldOwnerCorpID  int64  `yaml:"oldOwnerCorpID"`
	SolarSystemID   int64  `yaml:"solarSystemID"`
	StructureID     int64  `yaml:"structureID"`
	StructureName   string `yaml:"structureName"`
	StructureTypeID int64  `yaml:"structureTypeID"`
}

func (r *Renderer) ownershipTransferred(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	var p transferPayload
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
	originator, err := r.lk.Entity(ctx, p.CharID)
	if err != nil {
		return Message{}, err
	}
	newOwner, err := r.lk.Entity(ctx, p.NewOwnerCorpID)
	if err != nil {
		return Message{}, err
	}
	oldOwner, err := r.lk.Entity(ctx, p.OldOwnerCorpID)
	if err != nil {
		return Message{}, err
	}

	body := fmt.Sprintf("Structure Transfered from %s to %s", oldOwner.Name, newOwner.Name)
	fields := []Field{
		{Name: "Structure", Value: p.StructureName, Inline: true},
		{Name: "System", Value: dotlanSystem(system.Name), Inline: true},
		{Name: "Region", Value: dotlanRegion(system.RegionName), Inline: true},
		{Name: "Type", Value: structureType.Name, Inline: true},
		{Name: "Originator", Value: originator.Name, Inline: true},
	}
	return Message{
		Category:      CategoryAllianceAdmin,
		Embed:         packageEmbed("Structure Transfered", body, n.Timestamp, fields, corpFooter(obs), nil, 16756480),
		CorporationID: obs.Corporation.ID,
		RegionID:      system.RegionID,
	}, nil
}
