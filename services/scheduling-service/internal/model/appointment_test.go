package model

import (
	"testing"

	"github.com/clinicops/clinicsched/services/scheduling-service/internal/clock"
)

func clockTime(minutes int) clock.TimeOfDay {
	return clock.TimeOfDay(minutes)
}

func TestTransitionTable(t *testing.T) {
	legal := []struct {
		from Status
		to   Status
	}{
		{StatusPending, StatusScheduled},
		{StatusPending, StatusCancelled},
		{StatusScheduled, StatusRescheduled},
		{StatusScheduled, StatusFinished},
		{StatusScheduled, StatusCancelled},
		{StatusRescheduled, StatusRescheduled},
		{StatusRescheduled, StatusFinished},
		{StatusRescheduled, StatusCancelled},
	}
	for _, tc := range legal {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("%s -> %s should be legal", tc.from, tc.to)
		}
	}

	illegal := []struct {
		from Status
		to   Status
	}{
		{StatusPending, StatusRescheduled},
		{StatusPending, StatusFinished},
		{StatusScheduled, StatusPending},
		{StatusFinished, StatusCancelled},
		{StatusFinished, StatusScheduled},
		{StatusCancelled, StatusScheduled},
		{StatusCancelled, StatusFinished},
	}
	for _, tc := range illegal {
		if tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("%s -> %s should be illegal", tc.from, tc.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusFinished, StatusCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range NonTerminalStatuses() {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestOverlaps(t *testing.T) {
	appt := Appointment{Start: 600, End: 630} // 10:00-10:30

	cases := []struct {
		start, end int
		want       bool
	}{
		{600, 630, true},  // identical
		{570, 600, false}, // touching from the left
		{630, 660, false}, // touching from the right
		{615, 645, true},  // straddles the end
		{570, 615, true},  // straddles the start
		{540, 720, true},  // engulfs
	}
	for _, tc := range cases {
		if got := appt.Overlaps(clockTime(tc.start), clockTime(tc.end)); got != tc.want {
			t.Fatalf("Overlaps(%d, %d) = %v, want %v", tc.start, tc.end, got, tc.want)
		}
	}
}
