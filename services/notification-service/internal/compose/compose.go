// Package compose turns scheduling events into staff-facing alert text.
package compose

import (
	"encoding/json"
	"fmt"
)

const (
	topicBooked    = "scheduling.appointment.booked.v1"
	topicCancelled = "scheduling.appointment.cancelled.v1"
	topicMissed    = "scheduling.appointment.missed.v1"
)

// Topics lists every event type this service subscribes to.
func Topics() []string {
	return []string{topicBooked, topicCancelled, topicMissed}
}

// AppointmentEvent is the wire payload shared by all scheduling topics.
type AppointmentEvent struct {
	AppointmentID      string `json:"appointment_id"`
	PatientID          string `json:"patient_id"`
	Title              string `json:"title"`
	Date               string `json:"date"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	Status             string `json:"status"`
	CancellationReason string `json:"cancellation_reason"`
}

func (e AppointmentEvent) Valid() bool {
	return e.AppointmentID != "" && e.PatientID != "" && e.Date != "" && e.StartTime != ""
}

func Parse(raw []byte) (AppointmentEvent, error) {
	var evt AppointmentEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return AppointmentEvent{}, err
	}
	if !evt.Valid() {
		return AppointmentEvent{}, fmt.Errorf("event missing required fields")
	}
	return evt, nil
}

// Message renders subject and body for one event type. ok is false for topics
// this service does not know how to render.
func Message(eventType string, evt AppointmentEvent) (subject, body string, ok bool) {
	when := fmt.Sprintf("%s %s-%s", evt.Date, evt.StartTime, evt.EndTime)
	switch eventType {
	case topicBooked:
		if evt.Status == "pending" {
			subject = "Appointment request awaiting approval"
			body = fmt.Sprintf("Patient %s requested %q on %s. Approve or cancel it from the schedule.",
				evt.PatientID, evt.Title, when)
		} else {
			subject = "Appointment booked"
			body = fmt.Sprintf("Patient %s is booked for %q on %s.", evt.PatientID, evt.Title, when)
		}
	case topicCancelled:
		subject = "Appointment cancelled"
		body = fmt.Sprintf("The %q appointment for patient %s on %s was cancelled.", evt.Title, evt.PatientID, when)
		if evt.CancellationReason != "" {
			body += " Reason: " + evt.CancellationReason + "."
		}
	case topicMissed:
		subject = "Missed appointment"
		body = fmt.Sprintf("Patient %s did not complete %q on %s. Consider following up to rebook.",
			evt.PatientID, evt.Title, when)
	default:
		return "", "", false
	}
	return subject, body, true
}
