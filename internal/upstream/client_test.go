package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "pinger/pkg/logx"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Token: "sekrit", Timeout: 5 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNotificationsCarryCharacterContext(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sekrit" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/characters/5/notifications" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"notification_id": 1001, "type": "StructureUnderAttack", "timestamp": "2021-09-01T12:30:00Z", "text": "solarsystemID: 30004608"}
		]`))
	})

	got, err := c.Notifications(context.Background(), Character{ID: 5, CorporationID: 900})
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d notifications", len(got))
	}
	n := got[0]
	if n.ID != 1001 || n.CharacterID != 5 || n.CorporationID != 900 {
		t.Fatalf("notification = %+v", n)
	}
	if n.Payload != "solarsystemID: 30004608" {
		t.Fatalf("payload = %q", n.Payload)
	}
}

func TestNotFoundIsSentinel(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := c.StructureName(context.Background(), 1)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestServerErrorSurfacesStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Corporations(context.Background())
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want status error", err)
	}
}

func TestNamesBatchesIDs(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/universe/names" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": 90001, "name": "Bad Guy", "category": "character"}]`))
	})
	got, err := c.Names(context.Background(), []int64{90001})
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(got) != 1 || got[0].Category != "character" {
		t.Fatalf("names = %+v", got)
	}

	got, err = c.Names(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("empty names = %+v err = %v", got, err)
	}
}
