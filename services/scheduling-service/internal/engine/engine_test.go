package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clinicops/clinicsched/services/scheduling-service/internal/clock"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/engine"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/event"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/model"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/notes"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/settings"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/storage"
)

var (
	testDay  = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	testNow  = testDay.Add(8 * time.Hour) // 08:00, before opening
	nineAM   = clock.TimeOfDay(9 * 60)
	nineThir = clock.TimeOfDay(9*60 + 30)
	tenAM    = clock.TimeOfDay(10 * 60)
	tenThir  = clock.TimeOfDay(10*60 + 30)
)

type recordingAttacher struct {
	mu      sync.Mutex
	records []notes.Record
	err     error
}

func (a *recordingAttacher) Attach(_ context.Context, rec notes.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, rec)
	return nil
}

func newTestEngine(t *testing.T) (*engine.Engine, *storage.MemoryStore, *recordingAttacher) {
	t.Helper()
	hours, err := settings.HoursFromStrings("09:00", "17:00", 30)
	if err != nil {
		t.Fatalf("clinic hours: %v", err)
	}
	store := storage.NewMemoryStore()
	attacher := &recordingAttacher{}
	eng := engine.New(store, settings.NewStaticProvider(hours), attacher, nil)
	engine.SetNow(eng, func() time.Time { return testNow })
	return eng, store, attacher
}

func staffBooking(start, end clock.TimeOfDay) engine.BookingRequest {
	return engine.BookingRequest{
		PatientID: "patient-1",
		Title:     "Cleaning",
		Date:      testDay,
		Start:     start,
		End:       end,
		Origin:    engine.OriginStaff,
	}
}

func TestBook_Scenario(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.Book(ctx, staffBooking(nineAM, nineThir))
	if err != nil {
		t.Fatalf("first booking failed: %v", err)
	}
	if first.Status != model.StatusScheduled {
		t.Fatalf("staff booking should be scheduled, got %s", first.Status)
	}
	if first.ID == "" {
		t.Fatal("booking should be assigned an id")
	}

	_, err = eng.Book(ctx, staffBooking(nineAM, nineThir))
	if !errors.Is(err, engine.ErrSlotUnavailable) {
		t.Fatalf("duplicate booking should fail with ErrSlotUnavailable, got %v", err)
	}

	// The adjacent slot does not overlap (half-open intervals).
	if _, err := eng.Book(ctx, staffBooking(nineThir, tenAM)); err != nil {
		t.Fatalf("adjacent booking failed: %v", err)
	}
}

func TestBook_PublicStartsPendingAndBlocksSlot(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	req := staffBooking(tenAM, tenThir)
	req.Origin = engine.OriginPublic
	appt, err := eng.Book(ctx, req)
	if err != nil {
		t.Fatalf("public booking failed: %v", err)
	}
	if appt.Status != model.StatusPending {
		t.Fatalf("public booking should be pending, got %s", appt.Status)
	}

	// Pending requests consume the slot just like confirmed ones.
	if _, err := eng.Book(ctx, staffBooking(tenAM, tenThir)); !errors.Is(err, engine.ErrSlotUnavailable) {
		t.Fatalf("pending appointment should block the slot, got %v", err)
	}
}

func TestBook_Validation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  engine.BookingRequest
		want error
	}{
		{"inverted interval", staffBooking(tenAM, nineAM), engine.ErrValidation},
		{"empty interval", staffBooking(tenAM, tenAM), engine.ErrValidation},
		{"misaligned", staffBooking(clock.TimeOfDay(9*60 + 10), tenAM), engine.ErrValidation},
		{"before opening", staffBooking(clock.TimeOfDay(8*60), clock.TimeOfDay(8*60+30)), engine.ErrOutOfHours},
		{"after closing", staffBooking(clock.TimeOfDay(17 * 60), clock.TimeOfDay(17*60 + 30)), engine.ErrOutOfHours},
	}
	for _, tc := range cases {
		if _, err := eng.Book(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	missingPatient := staffBooking(nineAM, nineThir)
	missingPatient.PatientID = ""
	if _, err := eng.Book(ctx, missingPatient); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("missing patient id should fail validation, got %v", err)
	}
}

func TestBook_InPast(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	yesterday := staffBooking(nineAM, nineThir)
	yesterday.Date = testDay.AddDate(0, 0, -1)
	if _, err := eng.Book(ctx, yesterday); !errors.Is(err, engine.ErrInPast) {
		t.Fatalf("yesterday's slot should be in the past, got %v", err)
	}

	// 09:00 today with now at 09:00 sharp: the slot has already started.
	engine.SetNow(eng, func() time.Time { return testDay.Add(9 * time.Hour) })
	if _, err := eng.Book(ctx, staffBooking(nineAM, nineThir)); !errors.Is(err, engine.ErrInPast) {
		t.Fatalf("slot starting now should be in the past, got %v", err)
	}
}

func TestApprove(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	req := staffBooking(nineAM, nineThir)
	req.Origin = engine.OriginPublic
	appt, err := eng.Book(ctx, req)
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	approved, err := eng.Approve(ctx, appt.ID)
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if approved.Status != model.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", approved.Status)
	}

	// A second approve is no longer a legal transition.
	if _, err := eng.Approve(ctx, appt.ID); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("double approve should fail, got %v", err)
	}
}

func TestReschedule(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	appt, err := eng.Book(ctx, staffBooking(tenAM, tenThir))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if _, err := eng.Book(ctx, staffBooking(nineAM, nineThir)); err != nil {
		t.Fatalf("second booking failed: %v", err)
	}

	// Moving onto an occupied slot conflicts.
	if _, err := eng.Reschedule(ctx, appt.ID, testDay, nineAM, nineThir); !errors.Is(err, engine.ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	// Rescheduling onto its own interval must not conflict with itself.
	moved, err := eng.Reschedule(ctx, appt.ID, testDay, tenAM, tenThir)
	if err != nil {
		t.Fatalf("self reschedule failed: %v", err)
	}
	if moved.Status != model.StatusRescheduled {
		t.Fatalf("expected rescheduled, got %s", moved.Status)
	}

	// A rescheduled appointment can be rescheduled again.
	if _, err := eng.Reschedule(ctx, appt.ID, testDay, tenThir, clock.TimeOfDay(11*60)); err != nil {
		t.Fatalf("second reschedule failed: %v", err)
	}
}

func TestReschedule_PendingRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	req := staffBooking(nineAM, nineThir)
	req.Origin = engine.OriginPublic
	appt, err := eng.Book(ctx, req)
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	if _, err := eng.Reschedule(ctx, appt.ID, testDay, tenAM, tenThir); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("pending reschedule should be rejected, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	ctx := context.Background()

	appt, err := eng.Book(ctx, staffBooking(nineAM, nineThir))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	cancelled, err := eng.Cancel(ctx, appt.ID, "patient request")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != model.StatusCancelled || cancelled.CancellationReason != "patient request" {
		t.Fatalf("unexpected cancel result: %+v", cancelled)
	}

	var sawCancelEvent bool
	for _, evt := range store.Events() {
		if evt.Type == event.TypeAppointmentCancelled && evt.AppointmentID == appt.ID {
			sawCancelEvent = true
		}
	}
	if !sawCancelEvent {
		t.Fatal("expected an AppointmentCancelled event")
	}

	// Cancellation frees the slot for new bookings.
	if _, err := eng.Book(ctx, staffBooking(nineAM, nineThir)); err != nil {
		t.Fatalf("slot should be free after cancellation: %v", err)
	}
}

func TestComplete_AttachesNotes(t *testing.T) {
	eng, _, attacher := newTestEngine(t)
	ctx := context.Background()

	appt, err := eng.Book(ctx, staffBooking(nineAM, nineThir))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	finished, err := eng.Complete(ctx, appt.ID, &engine.CompletionNotes{
		TreatmentNotes: "scaling done",
		PaymentStatus:  "paid",
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if finished.Status != model.StatusFinished {
		t.Fatalf("expected finished, got %s", finished.Status)
	}
	if len(attacher.records) != 1 || attacher.records[0].TreatmentNotes != "scaling done" {
		t.Fatalf("unexpected notes records: %+v", attacher.records)
	}
}

func TestComplete_NotesFailureDoesNotRollBack(t *testing.T) {
	eng, _, attacher := newTestEngine(t)
	attacher.err = errors.New("notes store down")
	ctx := context.Background()

	appt, err := eng.Book(ctx, staffBooking(nineAM, nineThir))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	finished, err := eng.Complete(ctx, appt.ID, &engine.CompletionNotes{TreatmentNotes: "x"})
	if err != nil {
		t.Fatalf("complete should swallow attachment failure, got %v", err)
	}
	if finished.Status != model.StatusFinished {
		t.Fatalf("completion should stand, got %s", finished.Status)
	}
}

func TestTerminalImmutability(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	appt, err := eng.Book(ctx, staffBooking(nineAM, nineThir))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if _, err := eng.Cancel(ctx, appt.ID, "gone"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	before, err := eng.Get(ctx, appt.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if _, err := eng.Cancel(ctx, appt.ID, "again"); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("cancel on cancelled should fail, got %v", err)
	}
	if _, err := eng.Complete(ctx, appt.ID, nil); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("complete on cancelled should fail, got %v", err)
	}
	if _, err := eng.Reschedule(ctx, appt.ID, testDay, tenAM, tenThir); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("reschedule on cancelled should fail, got %v", err)
	}

	after, err := eng.Get(ctx, appt.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if after != before {
		t.Fatalf("terminal appointment mutated: before=%+v after=%+v", before, after)
	}
}

func TestAvailableSlots(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	slots, err := eng.AvailableSlots(ctx, testDay)
	if err != nil {
		t.Fatalf("availability failed: %v", err)
	}
	if len(slots) != 16 {
		t.Fatalf("expected 16 grid slots, got %d", len(slots))
	}
	for _, s := range slots {
		if !s.Available {
			t.Fatalf("slot %s should be available on an empty future day", s.Start)
		}
	}

	if _, err := eng.Book(ctx, staffBooking(nineAM, nineThir)); err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	slots, err = eng.AvailableSlots(ctx, testDay)
	if err != nil {
		t.Fatalf("availability failed: %v", err)
	}
	if slots[0].Available {
		t.Fatal("09:00 slot should be taken")
	}
	if !slots[1].Available {
		t.Fatal("09:30 slot should still be free")
	}
}

func TestAvailableSlots_PastSlotsToday(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	// 10:15: 09:00, 09:30 and the already-started 10:00 are gone.
	engine.SetNow(eng, func() time.Time { return testDay.Add(10*time.Hour + 15*time.Minute) })

	slots, err := eng.AvailableSlots(context.Background(), testDay)
	if err != nil {
		t.Fatalf("availability failed: %v", err)
	}
	available := 0
	for _, s := range slots {
		if s.Available {
			available++
		}
	}
	if available != 13 {
		t.Fatalf("expected 13 available slots at 10:15, got %d", available)
	}
	if slots[0].Available || slots[1].Available || slots[2].Available {
		t.Fatal("elapsed slots should be unavailable")
	}
	if !slots[3].Available {
		t.Fatal("10:30 slot should be available")
	}
}

func TestSweepMissed(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	ctx := context.Background()

	appt, err := eng.Book(ctx, staffBooking(tenAM, tenThir))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	// A pending request on the same day must not be swept.
	pendingReq := staffBooking(clock.TimeOfDay(11*60), clock.TimeOfDay(11*60+30))
	pendingReq.Origin = engine.OriginPublic
	pending, err := eng.Book(ctx, pendingReq)
	if err != nil {
		t.Fatalf("pending booking failed: %v", err)
	}

	nextDay := testDay.AddDate(0, 0, 1)
	count, err := eng.SweepMissed(ctx, nextDay)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 swept appointment, got %d", count)
	}

	swept, err := eng.Get(ctx, appt.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if swept.Status != model.StatusCancelled || swept.CancellationReason != engine.MissedReason {
		t.Fatalf("unexpected swept state: %+v", swept)
	}

	untouched, err := eng.Get(ctx, pending.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if untouched.Status != model.StatusPending {
		t.Fatalf("pending should be untouched, got %s", untouched.Status)
	}

	var missedEvents int
	for _, evt := range store.Events() {
		if evt.Type == event.TypeMissedAppointment {
			missedEvents++
		}
	}
	if missedEvents != 1 {
		t.Fatalf("expected 1 MissedAppointment event, got %d", missedEvents)
	}

	// Idempotence: nothing newly elapsed, nothing swept.
	count, err = eng.SweepMissed(ctx, nextDay)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("second sweep should be a no-op, swept %d", count)
	}
}

func TestConcurrentBooking_ExactlyOneWins(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Book(ctx, staffBooking(nineAM, nineThir))
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, engine.ErrSlotUnavailable):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d and %d", n-1, wins, conflicts)
	}

	// No-overlap invariant holds afterwards.
	appts, err := store.ListForDate(ctx, testDay, model.NonTerminalStatuses())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("expected exactly 1 persisted appointment, got %d", len(appts))
	}
}

func TestNoOverlapInvariant(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	ctx := context.Background()

	// A burst of overlapping and non-overlapping requests, sequentially.
	intervals := []struct{ start, end clock.TimeOfDay }{
		{nineAM, tenAM},
		{nineThir, tenAM},  // overlaps the first
		{tenAM, tenThir},   // fine
		{nineAM, nineThir}, // overlaps the first
		{tenThir, clock.TimeOfDay(11 * 60)}, // fine
	}
	for _, iv := range intervals {
		_, err := eng.Book(ctx, staffBooking(iv.start, iv.end))
		if err != nil && !errors.Is(err, engine.ErrSlotUnavailable) {
			t.Fatalf("unexpected error for %s-%s: %v", iv.start, iv.end, err)
		}
	}

	appts, err := store.ListForDate(ctx, testDay, model.NonTerminalStatuses())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for i := 0; i < len(appts); i++ {
		for j := i + 1; j < len(appts); j++ {
			if appts[i].Overlaps(appts[j].Start, appts[j].End) {
				t.Fatalf("overlap between %+v and %+v", appts[i], appts[j])
			}
		}
	}
}

func TestBookingCreatedEvent(t *testing.T) {
	eng, store, _ := newTestEngine(t)

	appt, err := eng.Book(context.Background(), staffBooking(nineAM, nineThir))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	events := store.Events()
	if len(events) != 1 || events[0].Type != event.TypeBookingCreated {
		t.Fatalf("expected a single BookingCreated event, got %+v", events)
	}
	if events[0].AppointmentID != appt.ID {
		t.Fatalf("event references wrong appointment: %s", events[0].AppointmentID)
	}
}

func TestGet_NotFound(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	if _, err := eng.Get(context.Background(), "missing"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
