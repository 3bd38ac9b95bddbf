package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"pinger/internal/metadata"
	"pinger/internal/storage"
	"pinger/internal/upstream"
	logx "pinger/pkg/logx"
)

func rosterFixture(t *testing.T) (*upstream.Client, *metadata.Resolver) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/corporations" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"corporation_id": 900, "name": "Allied Corp"},
			{"corporation_id": 901, "name": "Lone Corp"},
			{"corporation_id": 902, "name": "Listed Corp"}
		]`))
	}))
	t.Cleanup(srv.Close)

	up, err := upstream.New(upstream.Config{BaseURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("upstream: %v", err)
	}

	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "pinger.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	seed := []storage.Entity{
		{ID: 900, Name: "Allied Corp", Category: "corporation", AllianceID: 3001},
		{ID: 901, Name: "Lone Corp", Category: "corporation"},
		{ID: 902, Name: "Listed Corp", Category: "corporation"},
		{ID: 3001, Name: "Brave Collective", Category: "alliance", Ticker: "BRAVE"},
	}
	for _, e := range seed {
		if err := st.PutEntity(ctx, e); err != nil {
			t.Fatalf("seed entity %d: %v", e.ID, err)
		}
	}
	return up, metadata.New(st, up, logx.Nop())
}

func corpIDs(corps []upstream.Corporation) []int64 {
	ids := make([]int64, len(corps))
	for i, c := range corps {
		ids[i] = c.ID
	}
	return ids
}

func TestLimitedRosterPassesThroughWhenUnconfigured(t *testing.T) {
	up, meta := rosterFixture(t)
	roster := newLimitedRoster(up, nil, nil, meta, logx.Nop())

	corps, err := roster.Corporations(context.Background())
	if err != nil {
		t.Fatalf("corporations: %v", err)
	}
	if got := corpIDs(corps); len(got) != 3 {
		t.Fatalf("corporations = %v, want all 3", got)
	}
}

func TestLimitedRosterAppliesBothAllowlists(t *testing.T) {
	up, meta := rosterFixture(t)
	roster := newLimitedRoster(up, []int64{902}, []int64{3001}, meta, logx.Nop())

	corps, err := roster.Corporations(context.Background())
	if err != nil {
		t.Fatalf("corporations: %v", err)
	}
	got := corpIDs(corps)
	if len(got) != 2 || got[0] != 900 || got[1] != 902 {
		t.Fatalf("corporations = %v, want [900 902]", got)
	}
}

func TestLimitedRosterCorporationListOnly(t *testing.T) {
	up, meta := rosterFixture(t)
	roster := newLimitedRoster(up, []int64{901}, nil, meta, logx.Nop())

	corps, err := roster.Corporations(context.Background())
	if err != nil {
		t.Fatalf("corporations: %v", err)
	}
	got := corpIDs(corps)
	if len(got) != 1 || got[0] != 901 {
		t.Fatalf("corporations = %v, want [901]", got)
	}
}
