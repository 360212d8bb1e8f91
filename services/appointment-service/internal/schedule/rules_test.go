package schedule

import (
	"testing"
	"time"
)

func TestHourStart(t *testing.T) {
	in := time.Date(2026, 9, 1, 10, 35, 12, 999, time.UTC)
	got := HourStart(in)
	want := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("HourStart = %s, want %s", got, want)
	}
}

func TestHourStart_NormalizesZone(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	in := time.Date(2026, 9, 1, 7, 45, 0, 0, loc) // 10:45 UTC
	got := HourStart(in)
	want := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("HourStart = %s, want %s", got, want)
	}
	if got.Location() != time.UTC {
		t.Fatalf("HourStart location = %v, want UTC", got.Location())
	}
}

func TestIsCancelable(t *testing.T) {
	date := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	now := date.Add(-3 * time.Hour)
	if !IsCancelable(date, now) {
		t.Fatal("3 hours ahead should be cancelable")
	}

	now = date.Add(-1 * time.Hour)
	if IsCancelable(date, now) {
		t.Fatal("1 hour ahead should not be cancelable")
	}

	// Exactly at the notice boundary counts as too late.
	now = date.Add(-CancelNotice)
	if IsCancelable(date, now) {
		t.Fatal("exactly 2 hours ahead should not be cancelable")
	}
}

func TestIsPast(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	if !IsPast(now.Add(-time.Minute), now) {
		t.Fatal("earlier date should be past")
	}
	if IsPast(now.Add(time.Minute), now) {
		t.Fatal("later date should not be past")
	}
	if IsPast(now, now) {
		t.Fatal("equal instants should not be past")
	}
}

func TestOffset(t *testing.T) {
	cases := []struct {
		page, want int
	}{
		{0, 0},
		{1, 0},
		{2, 20},
		{5, 80},
	}
	for _, c := range cases {
		if got := Offset(c.page); got != c.want {
			t.Fatalf("Offset(%d) = %d, want %d", c.page, got, c.want)
		}
	}
}
