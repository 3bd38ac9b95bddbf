package render

import (
	"testing"
	"time"
)

func TestFiletimeToTime(t *testing.T) {
	cases := []struct {
		ft   int64
		want time.Time
	}{
		{132052212600000000, time.Date(2019, 6, 17, 5, 1, 0, 0, time.UTC)},
		{133307777010000000, time.Date(2023, 6, 9, 9, 48, 21, 0, time.UTC)},
		{116444736000000000, time.Unix(0, 0).UTC()},
	}
	for _, tc := range cases {
		if got := filetimeToTime(tc.ft); !got.Equal(tc.want) {
			t.Fatalf("filetimeToTime(%d) = %v, want %v", tc.ft, got, tc.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 Days, 0 Hours, 0 Min"},
		{26*time.Hour + 36*time.Minute + 41*time.Second, "1 Days, 2 Hours, 36 Min"},
		{73 * time.Hour, "3 Days, 1 Hours, 0 Min"},
		{-2 * time.Hour, "0 Days, 2 Hours, 0 Min"},
	}
	for _, tc := range cases {
		if got := formatDuration(tc.d); got != tc.want {
			t.Fatalf("formatDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestStripTags(t *testing.T) {
	got := stripTags(`<a href="showinfo:1380//824787891">PoseDamen</a>`)
	if got != "PoseDamen" {
		t.Fatalf("stripTags = %q", got)
	}
	if got := stripTags("plain text"); got != "plain text" {
		t.Fatalf("stripTags passthrough = %q", got)
	}
}

func TestDotlanLinksEscapeSpaces(t *testing.T) {
	if got := dotlanSystem("X-7OMU"); got != "[X-7OMU](http://evemaps.dotlan.net/system/X-7OMU)" {
		t.Fatalf("system link = %q", got)
	}
	if got := dotlanRegion("The Forge"); got != "[The Forge](http://evemaps.dotlan.net/region/The_Forge)" {
		t.Fatalf("region link = %q", got)
	}
	if got := zkillSearch("Bad Guy"); got != "[Bad Guy](https://zkillboard.com/search/Bad%20Guy/)" {
		t.Fatalf("zkill link = %q", got)
	}
}
