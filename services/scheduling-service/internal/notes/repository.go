// Package notes persists the thin treatment-notes/payment record attached to
// a finished appointment. Payment status is metadata only; nothing here talks
// to a payment processor.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/clinicops/clinicsched/libs/db"
)

type Record struct {
	AppointmentID  string
	PatientID      string
	TreatmentNotes string
	ReminderNotes  string
	PaymentStatus  string // unpaid | paid | waived
}

const defaultPaymentStatus = "unpaid"

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Attach upserts the record; completing an appointment twice with different
// notes keeps the latest version.
func (r *Repository) Attach(ctx context.Context, rec Record) error {
	if rec.AppointmentID == "" {
		return fmt.Errorf("notes: appointment id is required")
	}
	status := strings.TrimSpace(rec.PaymentStatus)
	if status == "" {
		status = defaultPaymentStatus
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_notes (appointment_id, patient_id, treatment_notes, reminder_notes, payment_status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (appointment_id) DO UPDATE
		SET treatment_notes = EXCLUDED.treatment_notes,
			reminder_notes = EXCLUDED.reminder_notes,
			payment_status = EXCLUDED.payment_status,
			updated_at = now()
	`, rec.AppointmentID, rec.PatientID, rec.TreatmentNotes, rec.ReminderNotes, status)
	if err != nil {
		return fmt.Errorf("notes: attach: %w", err)
	}
	return nil
}

// GetByAppointment loads the attachment for one appointment, if any.
func (r *Repository) GetByAppointment(ctx context.Context, appointmentID string) (Record, bool, error) {
	var rec Record
	err := r.pool.QueryRow(ctx, `
		SELECT appointment_id, patient_id, treatment_notes, reminder_notes, payment_status
		FROM appointment_notes
		WHERE appointment_id = $1
	`, appointmentID).Scan(
		&rec.AppointmentID,
		&rec.PatientID,
		&rec.TreatmentNotes,
		&rec.ReminderNotes,
		&rec.PaymentStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("notes: load: %w", err)
	}
	return rec, true, nil
}
