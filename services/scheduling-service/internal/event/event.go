// Package event defines the domain events the scheduling engine emits.
// Delivery is asynchronous via the transactional outbox; consumers must treat
// payloads as versioned contracts (topic name equals event type).
package event

import (
	"encoding/json"
	"time"

	"github.com/clinicops/clinicsched/services/scheduling-service/internal/model"
)

const (
	TypeBookingCreated       = "scheduling.appointment.booked.v1"
	TypeAppointmentCancelled = "scheduling.appointment.cancelled.v1"
	TypeMissedAppointment    = "scheduling.appointment.missed.v1"
)

type Event struct {
	Type          string
	AppointmentID string
	Payload       []byte
}

type appointmentPayload struct {
	AppointmentID      string `json:"appointment_id"`
	PatientID          string `json:"patient_id"`
	Title              string `json:"title"`
	Date               string `json:"date"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	Status             string `json:"status"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
}

func BookingCreated(appt model.Appointment) Event {
	return Event{
		Type:          TypeBookingCreated,
		AppointmentID: appt.ID,
		Payload:       marshalAppointment(appt),
	}
}

func AppointmentCancelled(appt model.Appointment) Event {
	return Event{
		Type:          TypeAppointmentCancelled,
		AppointmentID: appt.ID,
		Payload:       marshalAppointment(appt),
	}
}

func MissedAppointment(appt model.Appointment) Event {
	return Event{
		Type:          TypeMissedAppointment,
		AppointmentID: appt.ID,
		Payload:       marshalAppointment(appt),
	}
}

func marshalAppointment(appt model.Appointment) []byte {
	// Marshalling a struct of plain strings cannot fail.
	payload, _ := json.Marshal(appointmentPayload{
		AppointmentID:      appt.ID,
		PatientID:          appt.PatientID,
		Title:              appt.Title,
		Date:               appt.Date.Format(time.DateOnly),
		StartTime:          appt.Start.String(),
		EndTime:            appt.End.String(),
		Status:             string(appt.Status),
		CancellationReason: appt.CancellationReason,
	})
	return payload
}
