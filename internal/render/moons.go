package render

import (
	"context"
	"fmt"

	"pinger/internal/storage"
)

type moonPayload struct {
	AutoTime        int64             `yaml:"autoTime"`
	ReadyTime       int64             `yaml:"readyTime"`
	MoonID          int64             `yaml:"moonID"`
	OreVolumeByType map[int64]float64 `yaml:"oreVolumeByType"`
	SolarSystemID   int64             `yaml:"solarSystemID"`
	StructureID     int64             `yaml:"structureID"`
	StructureName   string            `yaml:"structureName"`
	StructureTypeID int64             `yaml:"structureTypeID"`
	FiredByLink     string            `yaml:"firedByLink"`
	StartedByLink   string            `yaml:"startedByLink"`
}

// moonContext is the resolved common ground of all moonmining pings.
type moonContext struct {
	payload   moonPayload
	system    storage.System
	moon      storage.Celestial
	structure storage.ItemType
	ores      string
}

func (r *Renderer) moonContext(ctx context.Context, n storage.Notification) (moonContext, error) {
	var mc moonContext
	if err := r.decode(n, &mc.payload); err != nil {
		return mc, err
	}
	var err error
	if mc.system, err = r.lk.System(ctx, mc.payload.SolarSystemID); err != nil {
		return mc, err
	}
	if mc.moon, err = r.lk.Moon(ctx, mc.payload.MoonID); err != nil {
		return mc, err
	}
	if mc.structure, err = r.lk.ItemType(ctx, mc.payload.StructureTypeID); err != nil {
		return mc, err
	}
	names, err := r.oreNames(ctx, mc.payload.OreVolumeByType)
	if err != nil {
		return mc, err
	}
	mc.ores = oreBreakdown(mc.payload.OreVolumeByType, names)
	if mc.payload.StructureName == "" {
		mc.payload.StructureName = "Unknown"
	}
	return mc, nil
}

func (mc moonContext) baseFields() []Field {
	return []Field{
		{Name: "Structure", Value: mc.payload.StructureName, Inline: true},
		{Name: "System", Value: dotlanSystem(mc.system.Name), Inline: true},
		{Name: "Moon", Value: mc.moon.Name, Inline: true},
		{Name: "Type", Value: mc.structure.Name, Inline: true},
	}
}

func (mc moonContext) message(n storage.Notification, title, body string, fields []Field, obs Observer, colour int, category string) Message {
	return Message{
		Category:      category,
		Embed:         packageEmbed(title, body, n.Timestamp, fields, corpFooter(obs), nil, colour),
		CorporationID: obs.Corporation.ID,
		RegionID:      mc.system.RegionID,
	}
}

func (r *Renderer) moonExtractionFinished(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	mc, err := r.moonContext(ctx, n)
	if err != nil {
		return Message{}, err
	}
	fields := append(mc.baseFields(),
		Field{Name: "Auto Fire", Value: filetimeToTime(mc.payload.AutoTime).Format("2006-01-02 15:04")},
		Field{Name: "Ore", Value: mc.ores},
	)
	return mc.message(n, "Moon Extraction Complete!", "Ready to Fracture!", fields, obs, 6881024, CategoryMoonsComplete), nil
}

func (r *Renderer) moonAutoFracture(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	mc, err := r.moonContext(ctx, n)
	if err != nil {
		return Message{}, err
	}
	fields := append(mc.baseFields(), Field{Name: "Ore", Value: mc.ores})
	return mc.message(n, "Moon Auto-Fractured!", "Ready to Mine!", fields, obs, 6881024, CategoryMoonsComplete), nil
}

func (r *Renderer) moonLaserFired(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	mc, err := r.moonContext(ctx, n)
	if err != nil {
		return Message{}, err
	}
	body := fmt.Sprintf("Fired By %s", zkillSearch(stripTags(mc.payload.FiredByLink)))
	fields := append(mc.baseFields(), Field{Name: "Ore", Value: mc.ores})
	return mc.message(n, "Moon Laser Fired!", body, fields, obs, 16756480, CategoryMoonsComplete), nil
}

func (r *Renderer) moonExtractionStarted(ctx context.Context, n storage.Notification, obs Observer) (Message, error) {
	mc, err := r.moonContext(ctx, n)
	if err != nil {
		return Message{}, err
	}
	body := fmt.Sprintf("Fired By %s", zkillSearch(stripTags(mc.payload.StartedByLink)))
	fields := append(mc.baseFields(),
		Field{Name: "Ready Time", Value: filetimeToTime(mc.payload.ReadyTime).Format("2006-01-02 15:04")},
		Field{Name: "Auto Fire", Value: filetimeToTime(mc.payload.AutoTime).Format("2006-01-02 15:04")},
		Field{Name: "Ore", Value: mc.ores},
	)
	return mc.message(n, "Moon Extraction Started!", body, fields, obs, 16756480, CategoryMoonsStarted), nil
}
