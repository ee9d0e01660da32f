package storage

import (
	"context"

	"github.com/clinicops/clinicsched/libs/db"
)

// Notification is the audit record of one staff alert, kept regardless of
// delivery outcome.
type Notification struct {
	AppointmentID string
	PatientID     string
	EventType     string
	Channel       string
	Recipient     string
	Payload       []byte
	Status        string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, patient_id, event_type, channel, recipient, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.AppointmentID, n.PatientID, n.EventType, n.Channel, n.Recipient, n.Payload, n.Status)
	return err
}

// ListByAppointment returns delivery history for one appointment, newest
// first.
func (r *Repository) ListByAppointment(ctx context.Context, appointmentID string) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_id, patient_id, event_type, channel, recipient, payload, status
		FROM notifications
		WHERE appointment_id = $1
		ORDER BY created_at DESC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.AppointmentID, &n.PatientID, &n.EventType, &n.Channel, &n.Recipient, &n.Payload, &n.Status); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
