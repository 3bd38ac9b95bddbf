package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Windows FILETIME epoch (1601-01-01) to Unix epoch offset, in
// 100-nanosecond intervals.
const filetimeEpochOffset = 116444736000000000

// filetimeToTime converts a Windows FILETIME value to UTC.
func filetimeToTime(ft int64) time.Time {
	us := (ft - filetimeEpochOffset) / 10
	return time.Unix(0, 0).UTC().Add(time.Duration(us) * time.Microsecond)
}

// formatDuration renders a countdown the way the pings have always
// shown it, truncating seconds.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%d Days, %d Hours, %d Min", days, hours, minutes)
}

func dotlanSystem(name string) string {
	return fmt.Sprintf("[%s](http://evemaps.dotlan.net/system/%s)", name, strings.ReplaceAll(name, " ", "_"))
}

// dotlanSystemAs links to a system page but displays a different label,
// used for planet links.
func dotlanSystemAs(label, system string) string {
	return fmt.Sprintf("[%s](http://evemaps.dotlan.net/system/%s)", label, strings.ReplaceAll(system, " ", "_"))
}

func dotlanRegion(name string) string {
	return fmt.Sprintf("[%s](http://evemaps.dotlan.net/region/%s)", name, strings.ReplaceAll(name, " ", "_"))
}

func zkillSearch(name string) string {
	return fmt.Sprintf("[%s](https://zkillboard.com/search/%s/)", name, strings.ReplaceAll(name, " ", "%20"))
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// stripTags removes markup from upstream link snippets such as
// `<a href="showinfo:1380//824787891">PoseDamen</a>`.
func stripTags(s string) string {
	return strings.TrimSpace(tagRe.ReplaceAllString(s, ""))
}

func corpIconURL(corpID int64) string {
	return fmt.Sprintf("https://imageserver.eveonline.com/Corporation/%d_64.png", corpID)
}

func allianceIconURL(allianceID int64) string {
	return fmt.Sprintf("https://images.evetech.net/alliances/%d/logo", allianceID)
}

func corpFooter(obs Observer) *Footer {
	return &Footer{
		IconURL: corpIconURL(obs.Corporation.ID),
		Text:    fmt.Sprintf("%s (%s)", obs.Corporation.Name, obs.Corporation.Ticker),
	}
}

func allianceFooter(obs Observer) *Footer {
	return &Footer{
		IconURL: allianceIconURL(obs.Alliance.ID),
		Text:    fmt.Sprintf("%s (%s)", obs.Alliance.Name, obs.Alliance.Ticker),
	}
}

// oreBreakdown renders per-type volume shares sorted by type id, names
// resolved through names.
func oreBreakdown(volumes map[int64]float64, names map[int64]string) string {
	ids := make([]int64, 0, len(volumes))
	var total float64
	for id, v := range volumes {
		ids = append(ids, id)
		total += v
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("**%s**: %2.1f%%", names[id], volumes[id]/total*100))
	}
	return strings.Join(lines, "\n")
}
