// Package storage persists appointments. The Postgres repository is the
// authoritative place for slot conflict checks: every write re-validates the
// overlap predicate inside a locking transaction immediately before the
// insert/update, and a btree_gist exclusion constraint on
// (date, int4range(start_minute, end_minute)) backstops races the row locks
// cannot see (two inserts into a date with no existing rows).
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicops/clinicsched/libs/db"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/clock"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/engine"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/event"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/model"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/outbox"
)

type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

var _ engine.Store = (*AppointmentRepository)(nil)

func (r *AppointmentRepository) Insert(ctx context.Context, appt *model.Appointment, events []event.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	free, err := r.slotFreeLocked(ctx, tx, appt.Date, appt.Start, appt.End, "")
	if err != nil {
		return err
	}
	if !free {
		return engine.ErrSlotUnavailable
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, title, date, start_minute, end_minute, status, cancellation_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, appt.ID, appt.PatientID, appt.Title, appt.Date, int(appt.Start), int(appt.End),
		string(appt.Status), appt.CancellationReason,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		if isExclusionViolation(err) {
			return engine.ErrSlotUnavailable
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	if err := r.insertEvents(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) Update(ctx context.Context, appt *model.Appointment, prev model.Status, recheckSlot bool, events []event.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx, `
		SELECT status FROM appointments WHERE id = $1 FOR UPDATE
	`, appt.ID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.ErrNotFound
		}
		return fmt.Errorf("lock appointment: %w", err)
	}
	if model.Status(current) != prev {
		// Someone else transitioned the row since the engine loaded it.
		return engine.ErrInvalidStateTransition
	}

	if recheckSlot {
		free, err := r.slotFreeLocked(ctx, tx, appt.Date, appt.Start, appt.End, appt.ID)
		if err != nil {
			return err
		}
		if !free {
			return engine.ErrSlotUnavailable
		}
	}

	err = tx.QueryRow(ctx, `
		UPDATE appointments
		SET date = $2,
			start_minute = $3,
			end_minute = $4,
			status = $5,
			cancellation_reason = $6,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, appt.ID, appt.Date, int(appt.Start), int(appt.End), string(appt.Status), appt.CancellationReason,
	).Scan(&appt.UpdatedAt)
	if err != nil {
		if isExclusionViolation(err) {
			return engine.ErrSlotUnavailable
		}
		return fmt.Errorf("update appointment: %w", err)
	}

	if err := r.insertEvents(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, selectColumns+` FROM appointments WHERE id = $1`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, engine.ErrNotFound
		}
		return model.Appointment{}, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

func (r *AppointmentRepository) ListForDate(ctx context.Context, date time.Time, statuses []model.Status) ([]model.Appointment, error) {
	if len(statuses) == 0 {
		rows, err := r.pool.Query(ctx, selectColumns+`
			FROM appointments
			WHERE date = $1
			ORDER BY start_minute ASC
		`, date)
		if err != nil {
			return nil, fmt.Errorf("list appointments: %w", err)
		}
		return collectAppointments(rows)
	}

	rows, err := r.pool.Query(ctx, selectColumns+`
		FROM appointments
		WHERE date = $1 AND status = ANY($2)
		ORDER BY start_minute ASC
	`, date, statusStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *AppointmentRepository) ListByPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, selectColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, start_minute DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list by patient: %w", err)
	}
	return collectAppointments(rows)
}

func (r *AppointmentRepository) ListByStatus(ctx context.Context, status model.Status, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, selectColumns+`
		FROM appointments
		WHERE status = $1
		ORDER BY date DESC, start_minute DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	return collectAppointments(rows)
}

func (r *AppointmentRepository) ListElapsedScheduled(ctx context.Context, now time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, selectColumns+`
		FROM appointments
		WHERE status = 'scheduled'
			AND date + make_interval(mins => end_minute) < $1
		ORDER BY date ASC, start_minute ASC
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list elapsed: %w", err)
	}
	return collectAppointments(rows)
}

// slotFreeLocked locks the date's non-terminal rows and re-checks the overlap
// predicate. The lock holds until commit, so a concurrent writer for the same
// date serializes behind it; inserts racing into a date with nothing to lock
// are caught by the exclusion constraint instead.
func (r *AppointmentRepository) slotFreeLocked(ctx context.Context, tx pgx.Tx, date time.Time, start, end clock.TimeOfDay, excludeID string) (bool, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, start_minute, end_minute
		FROM appointments
		WHERE date = $1 AND status = ANY($2)
		FOR UPDATE
	`, date, statusStrings(model.NonTerminalStatuses()))
	if err != nil {
		return false, fmt.Errorf("lock date: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var s, e int
		if err := rows.Scan(&id, &s, &e); err != nil {
			return false, err
		}
		if id == excludeID {
			continue
		}
		if clock.TimeOfDay(s) < end && start < clock.TimeOfDay(e) {
			return false, nil
		}
	}
	if rows.Err() != nil {
		return false, rows.Err()
	}
	return true, nil
}

func (r *AppointmentRepository) insertEvents(ctx context.Context, tx pgx.Tx, events []event.Event) error {
	for _, evt := range events {
		err := r.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   evt.AppointmentID,
			EventType:     evt.Type,
			Payload:       evt.Payload,
		})
		if err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}
	return nil
}

const selectColumns = `
	SELECT id, patient_id, title, date, start_minute, end_minute, status,
		COALESCE(cancellation_reason, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	var start, end int
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.PatientID,
		&appt.Title,
		&appt.Date,
		&start,
		&end,
		&status,
		&appt.CancellationReason,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Date = clock.DateOf(appt.Date)
	appt.Start = clock.TimeOfDay(start)
	appt.End = clock.TimeOfDay(end)
	appt.Status = model.Status(status)
	return appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func statusStrings(statuses []model.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}
