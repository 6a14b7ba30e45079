package models

import (
	"testing"
	"time"
)

func TestWindow_BoundsInclusiveOfBothDays(t *testing.T) {
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	w := NewWindow(day, day)

	cases := []struct {
		ts   time.Time
		want bool
	}{
		{day, true},
		{day.Add(23*time.Hour + 59*time.Minute + 59*time.Second), true},
		{day.AddDate(0, 0, 1), false},
		{day.Add(-time.Nanosecond), false},
	}
	for _, tc := range cases {
		if got := w.Contains(tc.ts); got != tc.want {
			t.Fatalf("Contains(%s)=%v want %v", tc.ts, got, tc.want)
		}
	}
}

func TestWindow_Unbounded(t *testing.T) {
	var w Window
	if !w.Contains(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("open window should contain old timestamps")
	}
	if !w.Contains(time.Date(2099, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("open window should contain future timestamps")
	}
	if dr := w.DateRange(); dr.StartDate != "" || dr.EndDate != "" {
		t.Fatalf("unexpected date range %+v", dr)
	}
}

func TestNewWindow_TruncatesToUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	start := time.Date(2026, 3, 14, 2, 0, 0, 0, loc) // 2026-03-13 21:00 UTC
	w := NewWindow(start, start)

	if got := w.DateRange().StartDate; got != "2026-03-13" {
		t.Fatalf("start=%s", got)
	}
}

func TestVisitFilter_EffectiveLimit(t *testing.T) {
	cases := map[int]int{0: DefaultVisitLimit, -3: DefaultVisitLimit, 5: 5, 5000: MaxVisitLimit}
	for in, want := range cases {
		if got := (VisitFilter{Limit: in}).EffectiveLimit(); got != want {
			t.Fatalf("limit %d => %d want %d", in, got, want)
		}
	}
}

func TestWindow_YearOneStartIsBounded(t *testing.T) {
	start := time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(start, end)

	if dr := w.DateRange(); dr.StartDate != "0001-01-01" || dr.EndDate != "2026-01-01" {
		t.Fatalf("date range=%+v", dr)
	}
	from, until := w.Bounds()
	if !from.Equal(minTimestamp) || !until.Equal(end.AddDate(0, 0, 1)) {
		t.Fatalf("bounds=%s..%s", from, until)
	}
	if w.Contains(end.AddDate(0, 0, 1)) || !w.Contains(end) {
		t.Fatal("end date must be inclusive and the next day excluded")
	}
}

func TestWindow_EndBeforeEpochIsEmpty(t *testing.T) {
	w := NewWindow(time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(1900, 1, 2, 0, 0, 0, 0, time.UTC))
	if w.Contains(minTimestamp) {
		t.Fatal("window ending before 1970 should match nothing")
	}
}
