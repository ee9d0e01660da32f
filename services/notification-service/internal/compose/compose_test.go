package compose

import (
	"strings"
	"testing"
)

func sampleEvent() AppointmentEvent {
	return AppointmentEvent{
		AppointmentID: "a-1",
		PatientID:     "p-1",
		Title:         "checkup",
		Date:          "2024-03-01",
		StartTime:     "10:00",
		EndTime:       "10:30",
		Status:        "scheduled",
	}
}

func TestParse(t *testing.T) {
	raw := []byte(`{"appointment_id":"a-1","patient_id":"p-1","title":"checkup","date":"2024-03-01","start_time":"10:00","end_time":"10:30","status":"pending"}`)
	evt, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if evt.AppointmentID != "a-1" || evt.Status != "pending" {
		t.Fatalf("got %+v", evt)
	}
}

func TestParse_Rejects(t *testing.T) {
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatal("want error for malformed payload")
	}
	if _, err := Parse([]byte(`{"appointment_id":"a-1"}`)); err == nil {
		t.Fatal("want error for missing fields")
	}
}

func TestMessage_Booked(t *testing.T) {
	evt := sampleEvent()

	subject, body, ok := Message(topicBooked, evt)
	if !ok {
		t.Fatal("expected a message")
	}
	if subject != "Appointment booked" {
		t.Fatalf("subject = %q", subject)
	}
	if !strings.Contains(body, "p-1") || !strings.Contains(body, "2024-03-01 10:00-10:30") {
		t.Fatalf("body = %q", body)
	}
}

func TestMessage_PendingAsksForApproval(t *testing.T) {
	evt := sampleEvent()
	evt.Status = "pending"

	subject, body, ok := Message(topicBooked, evt)
	if !ok {
		t.Fatal("expected a message")
	}
	if subject != "Appointment request awaiting approval" {
		t.Fatalf("subject = %q", subject)
	}
	if !strings.Contains(body, "Approve") {
		t.Fatalf("body = %q", body)
	}
}

func TestMessage_CancelledIncludesReason(t *testing.T) {
	evt := sampleEvent()
	evt.Status = "cancelled"
	evt.CancellationReason = "patient request"

	_, body, ok := Message(topicCancelled, evt)
	if !ok {
		t.Fatal("expected a message")
	}
	if !strings.Contains(body, "Reason: patient request.") {
		t.Fatalf("body = %q", body)
	}
}

func TestMessage_Missed(t *testing.T) {
	_, body, ok := Message(topicMissed, sampleEvent())
	if !ok {
		t.Fatal("expected a message")
	}
	if !strings.Contains(body, "rebook") {
		t.Fatalf("body = %q", body)
	}
}

func TestMessage_UnknownTopic(t *testing.T) {
	if _, _, ok := Message("billing.invoice.paid.v1", sampleEvent()); ok {
		t.Fatal("unknown topic should not render")
	}
}
