package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clinicops/clinicsched/services/scheduling-service/internal/clock"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/engine"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/event"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/model"
)

// MemoryStore is an in-process engine.Store guarded by a single mutex: the
// check-then-write sequence runs entirely inside the lock, which satisfies the
// engine's atomicity contract without a transactional backend. Used by tests
// and the local dev mode. Events that would go to the outbox are collected on
// the store instead.
type MemoryStore struct {
	mu     sync.Mutex
	appts  map[string]model.Appointment
	events []event.Event
	nowFn  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appts: map[string]model.Appointment{},
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

var _ engine.Store = (*MemoryStore)(nil)

func (s *MemoryStore) Insert(_ context.Context, appt *model.Appointment, events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.slotFree(appt.Date, appt.Start, appt.End, "") {
		return engine.ErrSlotUnavailable
	}

	now := s.nowFn()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	s.appts[appt.ID] = *appt
	s.events = append(s.events, events...)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, appt *model.Appointment, prev model.Status, recheckSlot bool, events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.appts[appt.ID]
	if !ok {
		return engine.ErrNotFound
	}
	if stored.Status != prev {
		return engine.ErrInvalidStateTransition
	}
	if recheckSlot && !s.slotFree(appt.Date, appt.Start, appt.End, appt.ID) {
		return engine.ErrSlotUnavailable
	}

	appt.CreatedAt = stored.CreatedAt
	appt.UpdatedAt = s.nowFn()
	s.appts[appt.ID] = *appt
	s.events = append(s.events, events...)
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, engine.ErrNotFound
	}
	return appt, nil
}

func (s *MemoryStore) ListForDate(_ context.Context, date time.Time, statuses []model.Status) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Appointment
	for _, appt := range s.appts {
		if !appt.Date.Equal(date) {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, appt.Status) {
			continue
		}
		out = append(out, appt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (s *MemoryStore) ListByPatient(_ context.Context, patientID string, limit int) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Appointment
	for _, appt := range s.appts {
		if appt.PatientID == patientID {
			out = append(out, appt)
		}
	}
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status model.Status, limit int) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Appointment
	for _, appt := range s.appts {
		if appt.Status == status {
			out = append(out, appt)
		}
	}
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (s *MemoryStore) ListElapsedScheduled(_ context.Context, now time.Time) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Appointment
	for _, appt := range s.appts {
		if appt.Status == model.StatusScheduled && appt.EndsAt().Before(now) {
			out = append(out, appt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

// Events returns a copy of every event recorded so far.
func (s *MemoryStore) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

func (s *MemoryStore) slotFree(date time.Time, start, end clock.TimeOfDay, excludeID string) bool {
	for _, appt := range s.appts {
		if appt.ID == excludeID || !appt.Date.Equal(date) || appt.Status.Terminal() {
			continue
		}
		if appt.Overlaps(start, end) {
			return false
		}
	}
	return true
}

func containsStatus(statuses []model.Status, s model.Status) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func sortNewestFirst(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].Date.Equal(appts[j].Date) {
			return appts[i].Date.After(appts[j].Date)
		}
		return appts[i].Start > appts[j].Start
	})
}

func truncate(appts []model.Appointment, limit int) []model.Appointment {
	if limit > 0 && len(appts) > limit {
		return appts[:limit]
	}
	return appts
}
