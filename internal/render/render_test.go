package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"pinger/internal/storage"
)

type fakeLookup struct {
	entities  map[int64]storage.Entity
	alliances map[int64]storage.Entity
	systems   map[int64]storage.System
	moons     map[int64]storage.Celestial
	planets   map[int64]storage.Celestial
	types     map[int64]storage.ItemType
	locations map[int64]string
}

func (f *fakeLookup) Entity(_ context.Context, id int64) (storage.Entity, error) {
	if e, ok := f.entities[id]; ok {
		return e, nil
	}
	return storage.Entity{}, storage.ErrNotFound
}

func (f *fakeLookup) Alliance(_ context.Context, corpID int64) (storage.Entity, error) {
	if e, ok := f.alliances[corpID]; ok {
		return e, nil
	}
	return storage.Entity{}, storage.ErrNotFound
}

func (f *fakeLookup) System(_ context.Context, id int64) (storage.System, error) {
	if s, ok := f.systems[id]; ok {
		return s, nil
	}
	return storage.System{}, storage.ErrNotFound
}

func (f *fakeLookup) Moon(_ context.Context, id int64) (storage.Celestial, error) {
	if c, ok := f.moons[id]; ok {
		return c, nil
	}
	return storage.Celestial{}, storage.ErrNotFound
}

func (f *fakeLookup) Planet(_ context.Context, id int64) (storage.Celestial, error) {
	if c, ok := f.planets[id]; ok {
		return c, nil
	}
	return storage.Celestial{}, storage.ErrNotFound
}

func (f *fakeLookup) ItemType(_ context.Context, id int64) (storage.ItemType, error) {
	if t, ok := f.types[id]; ok {
		return t, nil
	}
	return storage.ItemType{}, storage.ErrNotFound
}

func (f *fakeLookup) Structure(_ context.Context, id int64) (string, error) {
	if name, ok := f.locations[id]; ok {
		return name, nil
	}
	return "", storage.ErrNotFound
}

func testObserver() Observer {
	return Observer{
		CharacterID: 5,
		Corporation: storage.Entity{ID: 2001, Name: "Brave Newbies", Category: "corporation", Ticker: "BNI"},
		Alliance:    storage.Entity{ID: 3001, Name: "Brave Collective", Category: "alliance", Ticker: "BRAVE"},
	}
}

func testLookup() *fakeLookup {
	return &fakeLookup{
		entities: map[int64]storage.Entity{
			90001: {ID: 90001, Name: "Bad Guy", Category: "character"},
			98001: {ID: 98001, Name: "Hostile Corp", Category: "corporation", Ticker: "HSTL"},
		},
		systems: map[int64]storage.System{
			30004608: {ID: 30004608, Name: "NY6-FH", RegionID: 10000043, RegionName: "Delve"},
		},
		moons: map[int64]storage.Celestial{
			40291390: {ID: 40291390, Name: "NY6-FH IV - Moon 2", SystemID: 30004608},
		},
		planets: map[int64]storage.Celestial{
			40066681: {ID: 40066681, Name: "NY6-FH III", SystemID: 30004608},
		},
		types: map[int64]storage.ItemType{
			35835: {ID: 35835, Name: "Athanor"},
			45490: {ID: 45490, Name: "Zeolites"},
			46677: {ID: 46677, Name: "Chromite"},
			2233:  {ID: 2233, Name: "Customs Office"},
		},
		locations: map[int64]string{
			1036096310753: "NY6-FH - Fort Knocks",
		},
	}
}

func TestSupportedCoversAllRenderers(t *testing.T) {
	got := Supported()
	if len(got) != 13 {
		t.Fatalf("Supported() has %d types, want 13: %v", len(got), got)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("Supported() not sorted at %d: %v", i, got)
		}
	}
}

func TestRenderUnknownType(t *testing.T) {
	r := New(testLookup())
	_, err := r.Render(context.Background(), storage.Notification{Type: "CharAppAcceptMsg"}, testObserver())
	var unknown ErrUnknownType
	if !errors.As(err, &unknown) || unknown.Type != "CharAppAcceptMsg" {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestStructureUnderAttack(t *testing.T) {
	payload := `
allianceName: Hostile Alliance
armorPercentage: 100.0
charID: 90001
corpName: Hostile Corp
hullPercentage: 100.0
shieldPercentage: 94.88716147275748
solarsystemID: 30004608
structureID: 1036096310753
structureTypeID: 35835
`
	n := storage.Notification{
		ID:        42,
		Type:      "StructureUnderAttack",
		Timestamp: time.Date(2021, 9, 1, 12, 30, 0, 0, time.UTC),
		Payload:   payload,
	}
	r := New(testLookup())
	msg, err := r.Render(context.Background(), n, testObserver())
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if msg.Category != CategoryStructure {
		t.Fatalf("category = %q", msg.Category)
	}
	if msg.Alerting {
		t.Fatalf("structure attack should not force an alert")
	}
	if msg.CorporationID != 2001 || msg.RegionID != 10000043 {
		t.Fatalf("routing keys = corp %d region %d", msg.CorporationID, msg.RegionID)
	}
	if msg.Embed.Title != "NY6-FH - Fort Knocks" {
		t.Fatalf("title = %q", msg.Embed.Title)
	}
	if want := "Structure under Attack!\n[ S: 94.89% A: 100.00% H: 100.00% ]"; msg.Embed.Description != want {
		t.Fatalf("description = %q, want %q", msg.Embed.Description, want)
	}
	if msg.Embed.Timestamp != "2021-09-01T12:30:00" {
		t.Fatalf("timestamp = %q", msg.Embed.Timestamp)
	}
	if msg.Embed.Color != 16756480 {
		t.Fatalf("colour = %d", msg.Embed.Color)
	}
	attacker := msg.Embed.Fields[len(msg.Embed.Fields)-1]
	if attacker.Name != "Attacker" || !strings.Contains(attacker.Value, "zkillboard.com/search/Bad%20Guy/") {
		t.Fatalf("attacker field = %+v", attacker)
	}
	if msg.Embed.Footer == nil || msg.Embed.Footer.Text != "Brave Newbies (BNI)" {
		t.Fatalf("footer = %+v", msg.Embed.Footer)
	}
}

func TestStructureTimerFallsBackToUnknownName(t *testing.T) {
	payload := `
solarsystemID: 30004608
structureID: 999
structureTypeID: 35835
timeLeft: 958011150532
`
	n := storage.Notification{
		Type:      "StructureLostShields",
		Timestamp: time.Date(2021, 9, 1, 0, 0, 0, 0, time.UTC),
		Payload:   payload,
	}
	r := New(testLookup())
	msg, err := r.Render(context.Background(), n, testObserver())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.Embed.Title != "Unknown" {
		t.Fatalf("title = %q, want Unknown", msg.Embed.Title)
	}
	// 958011150532 intervals of 100ns is roughly 26.6 hours.
	found := false
	for _, f := range msg.Embed.Fields {
		if f.Name == "Time Till Out" {
			found = true
			if f.Value != "1 Days, 2 Hours, 36 Min" {
				t.Fatalf("time till out = %q", f.Value)
			}
		}
	}
	if !found {
		t.Fatalf("missing Time Till Out field: %+v", msg.Embed.Fields)
	}
}

func TestMoonExtractionFinished(t *testing.T) {
	payload := `
autoTime: 132052212600000000
moonID: 40291390
oreVolumeByType:
  45490: 1000000.0
  46677: 3000000.0
solarSystemID: 30004608
structureID: 1029754067191
structureName: NY6-FH - ISF Three
structureTypeID: 35835
`
	n := storage.Notification{
		Type:      "MoonminingExtractionFinished",
		Timestamp: time.Date(2019, 5, 15, 8, 0, 0, 0, time.UTC),
		Payload:   payload,
	}
	r := New(testLookup())
	msg, err := r.Render(context.Background(), n, testObserver())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.Category != CategoryMoonsComplete || msg.Embed.Color != 6881024 {
		t.Fatalf("category %q colour %d", msg.Category, msg.Embed.Color)
	}

	var autoFire, ore string
	for _, f := range msg.Embed.Fields {
		switch f.Name {
		case "Auto Fire":
			autoFire = f.Value
		case "Ore":
			ore = f.Value
		}
	}
	if autoFire != "2019-06-17 05:01" {
		t.Fatalf("auto fire = %q", autoFire)
	}
	if want := "**Zeolites**: 25.0%\n**Chromite**: 75.0%"; ore != want {
		t.Fatalf("ore = %q, want %q", ore, want)
	}
}

func TestOrbitalAttackedForcesAlert(t *testing.T) {
	payload := `
aggressorAllianceID: null
aggressorCorpID: 98001
aggressorID: 90001
planetID: 40066681
shieldLevel: 0.25
solarSystemID: 30004608
typeID: 2233
`
	n := storage.Notification{
		Type:      "OrbitalAttacked",
		Timestamp: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:   payload,
	}
	r := New(testLookup())
	msg, err := r.Render(context.Background(), n, testObserver())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !msg.Alerting {
		t.Fatalf("orbital attack must alert")
	}
	if msg.Embed.Color != 15158332 || msg.Category != CategoryOrbital {
		t.Fatalf("colour %d category %q", msg.Embed.Color, msg.Category)
	}
	if want := "Customs Office under Attack!\nShield Level: 25.00%"; msg.Embed.Description != want {
		t.Fatalf("description = %q", msg.Embed.Description)
	}
	if msg.AllianceID != 3001 {
		t.Fatalf("alliance routing key = %d", msg.AllianceID)
	}
	if !strings.Contains(msg.Embed.Fields[0].Value, "[NY6-FH III](http://evemaps.dotlan.net/system/NY6-FH)") {
		t.Fatalf("planet link = %q", msg.Embed.Fields[0].Value)
	}
}

func TestOrbitalReinforcedCountdownUsesClock(t *testing.T) {
	payload := `
aggressorCorpID: 98001
aggressorID: 90001
planetID: 40066681
reinforceExitTime: 133307777010000000
solarSystemID: 30004608
typeID: 2233
`
	exit := filetimeToTime(133307777010000000)
	now := exit.Add(-(49*time.Hour + 30*time.Minute))
	r := NewAt(testLookup(), func() time.Time { return now })

	n := storage.Notification{
		Type:      "OrbitalReinforced",
		Timestamp: now,
		Payload:   payload,
	}
	msg, err := r.Render(context.Background(), n, testObserver())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, f := range msg.Embed.Fields {
		if f.Name == "Time Till Out" {
			if f.Value != "2 Days, 1 Hours, 30 Min" {
				t.Fatalf("countdown = %q", f.Value)
			}
			return
		}
	}
	t.Fatalf("missing countdown field")
}

func TestSovReinforcedEventTypes(t *testing.T) {
	base := `
campaignEventType: %d
decloakTime: 132790589950971525
solarSystemID: 30004608
`
	cases := []struct {
		event int
		want  string
	}{
		{1, "TCU Reinforced in"},
		{2, "IHub Reinforced in"},
		{3, "Sov Struct Reinforced in"},
	}
	r := New(testLookup())
	for _, tc := range cases {
		n := storage.Notification{
			Type:      "SovStructureReinforced",
			Timestamp: time.Now(),
			Payload:   fmt.Sprintf(base, tc.event),
		}
		msg, err := r.Render(context.Background(), n, testObserver())
		if err != nil {
			t.Fatalf("event %d: %v", tc.event, err)
		}
		if !strings.HasPrefix(msg.Embed.Description, tc.want) {
			t.Fatalf("event %d: description = %q, want prefix %q", tc.event, msg.Embed.Description, tc.want)
		}
		if msg.Embed.Footer == nil || msg.Embed.Footer.Text != "Brave Collective (BRAVE)" {
			t.Fatalf("event %d: footer = %+v", tc.event, msg.Embed.Footer)
		}
	}
}

func TestMessageBodyIsValidEmbedJSON(t *testing.T) {
	msg := Message{
		Embed: packageEmbed("title", "body", time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC),
			[]Field{{Name: "a", Value: "b", Inline: true}}, &Footer{IconURL: "u", Text: "t"}, nil, 7419530),
	}
	body, err := msg.Body()
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	for _, want := range []string{`"color":7419530`, `"timestamp":"2021-01-02T03:04:05"`, `"icon_url":"u"`, `"inline":true`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %s missing %s", body, want)
		}
	}
}
