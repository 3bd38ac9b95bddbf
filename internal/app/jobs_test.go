package app

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"pinger/internal/eventbus"
	"pinger/internal/metrics"
)

func TestJobEventsFeedResultCounters(t *testing.T) {
	a := &App{met: metrics.New(), bus: eventbus.New(), busDone: make(chan struct{})}
	events, unsub := a.bus.Subscribe(8)
	go a.countJobEvents(events)

	a.bus.Publish(eventbus.Event{Type: "job.started"})
	a.bus.Publish(eventbus.Event{Type: "job.finished"})
	a.bus.Publish(eventbus.Event{Type: "job.finished"})
	a.bus.Publish(eventbus.Event{Type: "job.failed"})

	unsub()
	select {
	case <-a.busDone:
	case <-time.After(time.Second):
		t.Fatal("event consumer did not drain")
	}

	if got := testutil.ToFloat64(a.met.EngineJobs.WithLabelValues(metrics.ResultFinished)); got != 2 {
		t.Fatalf("finished counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(a.met.EngineJobs.WithLabelValues(metrics.ResultFailed)); got != 1 {
		t.Fatalf("failed counter = %v, want 1", got)
	}
}
