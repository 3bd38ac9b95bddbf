package bot

import (
	"strings"
	"testing"
	"time"

	"pinger/internal/sched"
	"pinger/internal/upstream"
)

func TestFormatStatsChunksLongRosters(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := make([]statsRow, 23)
	for i := range rows {
		rows[i] = statsRow{
			Corp: upstream.Corporation{ID: int64(1000 + i), Name: "Corp"},
			State: sched.ScheduleState{
				LastCharacterID: 5,
				CharacterCount:  3,
				UpdatedAt:       now.Add(-2 * time.Minute),
				NextDueAt:       now.Add(90 * time.Second),
			},
			Active: true,
		}
	}
	chunks := formatStats(rows, now)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3 for 23 corporations", len(chunks))
	}
	for _, chunk := range chunks {
		if len(chunk) > 4096 {
			t.Fatalf("chunk exceeds telegram limit: %d chars", len(chunk))
		}
	}
	if !strings.Contains(chunks[0], "refreshed 2m0s ago") {
		t.Fatalf("missing refresh age in %q", chunks[0])
	}
	if !strings.Contains(chunks[0], "next in 1m30s") {
		t.Fatalf("missing next due in %q", chunks[0])
	}
}

func TestFormatStatsMarksIdleCorporations(t *testing.T) {
	now := time.Now()
	chunks := formatStats([]statsRow{
		{Corp: upstream.Corporation{ID: 900, Name: "Quiet Holdings"}, Active: false},
	}, now)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if !strings.Contains(chunks[0], "idle, waiting for bootstrap") {
		t.Fatalf("idle marker missing in %q", chunks[0])
	}
}

func TestFormatStatsEmptyRoster(t *testing.T) {
	chunks := formatStats(nil, time.Now())
	if len(chunks) != 1 || !strings.Contains(chunks[0], "no corporations") {
		t.Fatalf("unexpected output %v", chunks)
	}
}
