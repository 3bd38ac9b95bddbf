package bot

import (
	"fmt"
	"strings"
	"time"

	"pinger/internal/sched"
	"pinger/internal/upstream"
)

// corpsPerMessage keeps each reply comfortably under Telegram's 4096
// character cap even with long corporation names.
const corpsPerMessage = 10

type statsRow struct {
	Corp   upstream.Corporation
	State  sched.ScheduleState
	Active bool
}

func formatStats(rows []statsRow, now time.Time) []string {
	if len(rows) == 0 {
		return []string{"no corporations on the roster"}
	}
	var chunks []string
	var b strings.Builder
	for i, row := range rows {
		if i%corpsPerMessage == 0 {
			if b.Len() > 0 {
				chunks = append(chunks, b.String())
				b.Reset()
			}
			fmt.Fprintf(&b, "pinger rotation (%d corporations)\n", len(rows))
		}
		b.WriteString(formatRow(row, now))
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

func formatRow(row statsRow, now time.Time) string {
	if !row.Active {
		return fmt.Sprintf("\n%s (%d)\n  idle, waiting for bootstrap\n", row.Corp.Name, row.Corp.ID)
	}
	st := row.State
	due := "now"
	if wait := st.NextDueAt.Sub(now); wait > 0 {
		due = "in " + wait.Round(time.Second).String()
	}
	return fmt.Sprintf("\n%s (%d)\n  characters: %d  head: %d\n  last char: %d, refreshed %s ago, next %s\n",
		row.Corp.Name, row.Corp.ID,
		st.CharacterCount, st.HeadID,
		st.LastCharacterID, now.Sub(st.UpdatedAt).Round(time.Second), due)
}
