package model

import (
	"time"

	"github.com/clinicops/clinicsched/services/scheduling-service/internal/clock"
)

// Status is the closed set of appointment states. Transitions are only legal
// when listed in the transition table below; everything else is rejected.
type Status string

const (
	StatusPending     Status = "pending"
	StatusScheduled   Status = "scheduled"
	StatusRescheduled Status = "rescheduled"
	StatusFinished    Status = "finished"
	StatusCancelled   Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:     {StatusScheduled, StatusCancelled},
	StatusScheduled:   {StatusRescheduled, StatusFinished, StatusCancelled},
	StatusRescheduled: {StatusRescheduled, StatusFinished, StatusCancelled},
	StatusFinished:    {},
	StatusCancelled:   {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether the status frees its slot permanently.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NonTerminalStatuses lists the statuses that still occupy a slot.
func NonTerminalStatuses() []Status {
	return []Status{StatusPending, StatusScheduled, StatusRescheduled}
}

type Appointment struct {
	ID                 string
	PatientID          string
	Title              string
	Date               time.Time // calendar date, midnight UTC
	Start              clock.TimeOfDay
	End                clock.TimeOfDay
	Status             Status
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Overlaps reports whether the appointment's interval intersects [start, end).
// Half-open intervals: [a,b) overlaps [c,d) iff a < d && c < b.
func (a Appointment) Overlaps(start, end clock.TimeOfDay) bool {
	return a.Start < end && start < a.End
}

// EndsAt is the instant the appointment's interval elapses.
func (a Appointment) EndsAt() time.Time {
	return clock.AtTime(a.Date, a.End)
}
