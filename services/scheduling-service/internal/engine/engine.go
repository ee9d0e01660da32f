// Package engine implements the appointment scheduling core: availability,
// the booking/reschedule/cancel/complete state machine, and the missed
// appointment sweep. All slot conflict decisions are delegated to the Store,
// which re-checks availability atomically at commit time; the engine never
// trusts a previously fetched availability snapshot.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/clinicsched/services/scheduling-service/internal/clock"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/event"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/model"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/notes"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/settings"
)

// MissedReason is the cancellation reason recorded by the sweep.
const MissedReason = "missed"

// Store is the persisted appointment collection. Implementations must make
// Insert and Update (with recheckSlot) atomic with respect to concurrent
// writers for the same date: of N concurrent overlapping writes at most one
// may succeed, the rest observing ErrSlotUnavailable. Events passed to a write
// are persisted in the same transaction as the appointment row.
type Store interface {
	Insert(ctx context.Context, appt *model.Appointment, events []event.Event) error
	// Update persists appt only if the stored status still equals prev,
	// otherwise it returns ErrInvalidStateTransition. When recheckSlot is set
	// the appointment's interval is re-validated against all other
	// non-terminal appointments on the same date.
	Update(ctx context.Context, appt *model.Appointment, prev model.Status, recheckSlot bool, events []event.Event) error
	GetByID(ctx context.Context, id string) (model.Appointment, error)
	ListForDate(ctx context.Context, date time.Time, statuses []model.Status) ([]model.Appointment, error)
	ListByPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error)
	ListByStatus(ctx context.Context, status model.Status, limit int) ([]model.Appointment, error)
	ListElapsedScheduled(ctx context.Context, now time.Time) ([]model.Appointment, error)
}

// NotesAttacher records treatment notes and payment status against a finished
// appointment. Attachment is best-effort from the engine's perspective.
type NotesAttacher interface {
	Attach(ctx context.Context, rec notes.Record) error
}

type Engine struct {
	store    Store
	settings settings.Provider
	notes    NotesAttacher
	logger   *slog.Logger
	nowFn    func() time.Time
}

// New builds an Engine. notesAttacher may be nil when note-taking is handled
// elsewhere; completions then simply skip attachment.
func New(store Store, settingsProvider settings.Provider, notesAttacher NotesAttacher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		settings: settingsProvider,
		notes:    notesAttacher,
		logger:   logger,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Origin distinguishes who initiated a booking; it decides the initial status.
type Origin string

const (
	OriginPublic Origin = "public" // patient-initiated, needs staff approval
	OriginStaff  Origin = "staff"  // front desk, confirmed immediately
)

type BookingRequest struct {
	PatientID string
	Title     string
	Date      time.Time
	Start     clock.TimeOfDay
	End       clock.TimeOfDay
	Origin    Origin
}

// CompletionNotes is the optional attachment recorded alongside a completion.
// PaymentStatus is plain metadata; no payment processing happens here.
type CompletionNotes struct {
	TreatmentNotes string
	ReminderNotes  string
	PaymentStatus  string
}

// TimeSlot is a derived availability view, recomputed fresh on every call and
// never persisted.
type TimeSlot struct {
	Date      time.Time
	Start     clock.TimeOfDay
	End       clock.TimeOfDay
	Available bool
}

// AvailableSlots returns the full slot grid for the date in chronological
// order with availability flags. A slot is available iff its start is not in
// the past and no non-terminal appointment overlaps it. A day with nothing
// free is an ordinary result, not an error.
func (e *Engine) AvailableSlots(ctx context.Context, date time.Time) ([]TimeSlot, error) {
	date = clock.DateOf(date)
	hrs, err := e.settings.Hours(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("resolve clinic hours: %w", err)
	}

	grid := clock.Grid(hrs.Open, hrs.Close, hrs.SlotMinutes)
	if len(grid) == 0 {
		return []TimeSlot{}, nil
	}

	booked, err := e.store.ListForDate(ctx, date, model.NonTerminalStatuses())
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	now := e.nowFn()
	slots := make([]TimeSlot, 0, len(grid))
	for _, s := range grid {
		slots = append(slots, TimeSlot{
			Date:      date,
			Start:     s.Start,
			End:       s.End,
			Available: !clock.IsPast(clock.AtTime(date, s.Start), now) && !overlapsAny(booked, s.Start, s.End, ""),
		})
	}
	return slots, nil
}

// Book validates the request and commits a new appointment. Public bookings
// start pending, staff bookings start scheduled; either way the slot is
// consumed immediately.
func (e *Engine) Book(ctx context.Context, req BookingRequest) (model.Appointment, error) {
	if req.PatientID == "" {
		return model.Appointment{}, fmt.Errorf("patient id is required: %w", ErrValidation)
	}

	status := model.StatusScheduled
	switch req.Origin {
	case OriginPublic:
		status = model.StatusPending
	case OriginStaff:
	default:
		return model.Appointment{}, fmt.Errorf("unknown booking origin %q: %w", req.Origin, ErrValidation)
	}

	date := clock.DateOf(req.Date)
	if err := e.validateSlot(ctx, date, req.Start, req.End); err != nil {
		return model.Appointment{}, err
	}

	appt := model.Appointment{
		ID:        uuid.NewString(),
		PatientID: req.PatientID,
		Title:     req.Title,
		Date:      date,
		Start:     req.Start,
		End:       req.End,
		Status:    status,
	}

	if err := e.store.Insert(ctx, &appt, []event.Event{event.BookingCreated(appt)}); err != nil {
		return model.Appointment{}, err
	}

	e.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"date", date.Format(time.DateOnly),
		"start", appt.Start.String(),
		"status", string(appt.Status),
	)
	return appt, nil
}

// Approve confirms a pending (patient-requested) appointment.
func (e *Engine) Approve(ctx context.Context, id string) (model.Appointment, error) {
	return e.transition(ctx, id, model.StatusScheduled, func(appt *model.Appointment) []event.Event {
		return nil
	})
}

// Reschedule moves a confirmed appointment to a new interval. The conflict
// re-check excludes the appointment itself, so a no-op move succeeds.
func (e *Engine) Reschedule(ctx context.Context, id string, date time.Time, start, end clock.TimeOfDay) (model.Appointment, error) {
	appt, err := e.store.GetByID(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !appt.Status.CanTransitionTo(model.StatusRescheduled) {
		return model.Appointment{}, fmt.Errorf("cannot reschedule %s appointment: %w", appt.Status, ErrInvalidStateTransition)
	}

	date = clock.DateOf(date)
	if err := e.validateSlot(ctx, date, start, end); err != nil {
		return model.Appointment{}, err
	}

	prev := appt.Status
	appt.Date = date
	appt.Start = start
	appt.End = end
	appt.Status = model.StatusRescheduled

	if err := e.store.Update(ctx, &appt, prev, true, nil); err != nil {
		return model.Appointment{}, err
	}

	e.logger.Info("appointment rescheduled",
		"appointment_id", appt.ID,
		"date", date.Format(time.DateOnly),
		"start", start.String(),
	)
	return appt, nil
}

// Cancel moves any non-terminal appointment to cancelled. No slot check is
// needed; cancellation only frees capacity.
func (e *Engine) Cancel(ctx context.Context, id string, reason string) (model.Appointment, error) {
	return e.transition(ctx, id, model.StatusCancelled, func(appt *model.Appointment) []event.Event {
		appt.CancellationReason = reason
		return []event.Event{event.AppointmentCancelled(*appt)}
	})
}

// Complete finishes a confirmed appointment. When notes are supplied they are
// attached best-effort after the completion has committed: a failed attachment
// is logged and swallowed, never rolled back. Callers must not assume notes
// are durable just because Complete returned.
func (e *Engine) Complete(ctx context.Context, id string, completion *CompletionNotes) (model.Appointment, error) {
	appt, err := e.transition(ctx, id, model.StatusFinished, func(appt *model.Appointment) []event.Event {
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}

	if completion != nil && e.notes != nil {
		rec := notes.Record{
			AppointmentID:  appt.ID,
			PatientID:      appt.PatientID,
			TreatmentNotes: completion.TreatmentNotes,
			ReminderNotes:  completion.ReminderNotes,
			PaymentStatus:  completion.PaymentStatus,
		}
		if err := e.notes.Attach(ctx, rec); err != nil {
			e.logger.Warn("notes attachment failed; completion already committed",
				"appointment_id", appt.ID,
				"err", err,
			)
		}
	}
	return appt, nil
}

// SweepMissed cancels every scheduled appointment whose end has elapsed,
// recording the reason "missed" and emitting one event per appointment. It is
// idempotent: a second run with no newly elapsed appointments sweeps nothing.
// Pending requests and rescheduled appointments are left alone.
func (e *Engine) SweepMissed(ctx context.Context, now time.Time) (int, error) {
	elapsed, err := e.store.ListElapsedScheduled(ctx, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("list elapsed appointments: %w", err)
	}

	swept := 0
	for _, appt := range elapsed {
		prev := appt.Status
		appt.Status = model.StatusCancelled
		appt.CancellationReason = MissedReason

		err := e.store.Update(ctx, &appt, prev, false, []event.Event{event.MissedAppointment(appt)})
		if err != nil {
			// Lost the race with a concurrent cancel/complete, or a transient
			// store failure; either way the next sweep settles it.
			e.logger.Warn("missed sweep skipped appointment", "appointment_id", appt.ID, "err", err)
			continue
		}
		swept++
	}

	if swept > 0 {
		e.logger.Info("missed appointments swept", "count", swept)
	}
	return swept, nil
}

// Get returns a single appointment by id.
func (e *Engine) Get(ctx context.Context, id string) (model.Appointment, error) {
	return e.store.GetByID(ctx, id)
}

// ListForDate returns all appointments on a date regardless of status.
func (e *Engine) ListForDate(ctx context.Context, date time.Time) ([]model.Appointment, error) {
	return e.store.ListForDate(ctx, clock.DateOf(date), nil)
}

func (e *Engine) ListByPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error) {
	return e.store.ListByPatient(ctx, patientID, limit)
}

func (e *Engine) ListByStatus(ctx context.Context, status model.Status, limit int) ([]model.Appointment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, ErrValidation)
	}
	return e.store.ListByStatus(ctx, status, limit)
}

// transition loads, checks the state machine, applies mutate, and writes back
// with a compare-and-set on the previous status.
func (e *Engine) transition(ctx context.Context, id string, to model.Status, mutate func(*model.Appointment) []event.Event) (model.Appointment, error) {
	appt, err := e.store.GetByID(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !appt.Status.CanTransitionTo(to) {
		return model.Appointment{}, fmt.Errorf("%s -> %s: %w", appt.Status, to, ErrInvalidStateTransition)
	}

	prev := appt.Status
	appt.Status = to
	events := mutate(&appt)

	if err := e.store.Update(ctx, &appt, prev, false, events); err != nil {
		return model.Appointment{}, err
	}

	e.logger.Info("appointment transitioned", "appointment_id", appt.ID, "from", string(prev), "to", string(to))
	return appt, nil
}

// validateSlot enforces interval shape, grid alignment, clinic hours, and the
// not-in-the-past rule shared by booking and rescheduling.
func (e *Engine) validateSlot(ctx context.Context, date time.Time, start, end clock.TimeOfDay) error {
	if !start.Valid() || !end.Valid() || start >= end {
		return fmt.Errorf("interval %s-%s is malformed: %w", start, end, ErrValidation)
	}

	hrs, err := e.settings.Hours(ctx, date)
	if err != nil {
		return fmt.Errorf("resolve clinic hours: %w", err)
	}
	if !start.Aligned(hrs.SlotMinutes) || !end.Aligned(hrs.SlotMinutes) {
		return fmt.Errorf("interval %s-%s not aligned to %d minute slots: %w", start, end, hrs.SlotMinutes, ErrValidation)
	}
	if start < hrs.Open || end > hrs.Close {
		return fmt.Errorf("interval %s-%s outside %s-%s: %w", start, end, hrs.Open, hrs.Close, ErrOutOfHours)
	}
	if clock.IsPast(clock.AtTime(date, start), e.nowFn()) {
		return fmt.Errorf("slot %s %s already started: %w", date.Format(time.DateOnly), start, ErrInPast)
	}
	return nil
}

func overlapsAny(appts []model.Appointment, start, end clock.TimeOfDay, excludeID string) bool {
	for _, a := range appts {
		if a.ID == excludeID {
			continue
		}
		if a.Overlaps(start, end) {
			return true
		}
	}
	return false
}
