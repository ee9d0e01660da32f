package clock

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, s string) TimeOfDay {
	t.Helper()
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("ParseTimeOfDay(%q): %v", s, err)
	}
	return tod
}

func TestParseTimeOfDay(t *testing.T) {
	if got := mustParse(t, "09:00"); got != 540 {
		t.Fatalf("expected 540 minutes, got %d", got)
	}
	if got := mustParse(t, "16:30"); got.String() != "16:30" {
		t.Fatalf("round trip failed, got %s", got)
	}
	if _, err := ParseTimeOfDay("25:00"); err == nil {
		t.Fatal("expected error for 25:00")
	}
	if _, err := ParseTimeOfDay("9am"); err == nil {
		t.Fatal("expected error for 9am")
	}
}

func TestGrid_BusinessDay(t *testing.T) {
	open := mustParse(t, "09:00")
	close := mustParse(t, "17:00")

	slots := Grid(open, close, 30)
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}
	if slots[0].Start.String() != "09:00" || slots[0].End.String() != "09:30" {
		t.Fatalf("unexpected first slot %s-%s", slots[0].Start, slots[0].End)
	}
	if slots[15].Start.String() != "16:30" || slots[15].End.String() != "17:00" {
		t.Fatalf("unexpected last slot %s-%s", slots[15].Start, slots[15].End)
	}
	for i := 1; i < len(slots); i++ {
		if slots[i].Start != slots[i-1].End {
			t.Fatalf("grid not contiguous at index %d", i)
		}
	}
}

func TestGrid_UnevenWindow(t *testing.T) {
	// 09:00-17:15 at 30 minutes: the trailing 15 minutes are not offered.
	slots := Grid(mustParse(t, "09:00"), mustParse(t, "17:15"), 30)
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}
}

func TestGrid_Degenerate(t *testing.T) {
	if slots := Grid(600, 600, 30); slots != nil {
		t.Fatalf("expected nil for empty window, got %v", slots)
	}
	if slots := Grid(600, 540, 30); slots != nil {
		t.Fatalf("expected nil for inverted window, got %v", slots)
	}
	if slots := Grid(540, 600, 0); slots != nil {
		t.Fatalf("expected nil for zero step, got %v", slots)
	}
}

func TestAligned(t *testing.T) {
	if !TimeOfDay(540).Aligned(30) {
		t.Fatal("09:00 should align to 30 minutes")
	}
	if TimeOfDay(550).Aligned(30) {
		t.Fatal("09:10 should not align to 30 minutes")
	}
}

func TestRoundUpToNext(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Mid-slot rounds to the next boundary.
	if got := RoundUpToNext(day.Add(9*time.Hour+10*time.Minute), 30); got.String() != "09:30" {
		t.Fatalf("expected 09:30, got %s", got)
	}
	// Exactly on a boundary still moves forward: a slot starting now is not bookable.
	if got := RoundUpToNext(day.Add(9*time.Hour), 30); got.String() != "09:30" {
		t.Fatalf("expected 09:30, got %s", got)
	}
	if got := RoundUpToNext(day.Add(23*time.Hour+45*time.Minute), 30); got < MinutesPerDay {
		t.Fatalf("expected end of day, got %s", got)
	}
}

func TestIsPastAndAtTime(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	nineAM := AtTime(day, 540)

	if !nineAM.Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("AtTime mismatch: %s", nineAM)
	}
	if !IsPast(nineAM, nineAM) {
		t.Fatal("an instant is past relative to itself")
	}
	if IsPast(nineAM, nineAM.Add(-time.Minute)) {
		t.Fatal("future instant reported as past")
	}
	if !DateOf(nineAM).Equal(day) {
		t.Fatalf("DateOf mismatch: %s", DateOf(nineAM))
	}
}
