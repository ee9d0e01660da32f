package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clinicops/clinicsched/services/scheduling-service/internal/clock"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/engine"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/model"
)

type SchedulingHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewSchedulingHandler(eng *engine.Engine, logger *slog.Logger) *SchedulingHandler {
	return &SchedulingHandler{engine: eng, logger: logger}
}

type bookingRequest struct {
	PatientID string `json:"patient_id"`
	Title     string `json:"title"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

type appointmentIDRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type completeRequest struct {
	AppointmentID  string `json:"appointment_id"`
	TreatmentNotes string `json:"treatment_notes"`
	ReminderNotes  string `json:"reminder_notes"`
	PaymentStatus  string `json:"payment_status"`
}

type appointmentResponse struct {
	AppointmentID      string `json:"appointment_id"`
	PatientID          string `json:"patient_id"`
	Title              string `json:"title"`
	Date               string `json:"date"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	Status             string `json:"status"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Available bool   `json:"available"`
}

type sweepResponse struct {
	Swept int `json:"swept"`
}

// Slots serves GET /api/v1/public/slots?date=2024-03-01.
func (h *SchedulingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	slots, err := h.engine.AvailableSlots(r.Context(), date)
	if err != nil {
		h.logger.Error("availability query failed", "err", err)
		http.Error(w, "failed to compute availability", http.StatusInternalServerError)
		return
	}

	resp := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, slotItem{
			StartTime: s.Start.String(),
			EndTime:   s.End.String(),
			Available: s.Available,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreatePublic serves patient-initiated booking requests; they start pending.
func (h *SchedulingHandler) CreatePublic(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, engine.OriginPublic)
}

// CreateStaff serves front-desk bookings; they are confirmed immediately.
func (h *SchedulingHandler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, engine.OriginStaff)
}

func (h *SchedulingHandler) create(w http.ResponseWriter, r *http.Request, origin engine.Origin) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.PatientID = strings.TrimSpace(req.PatientID)
	req.Title = strings.TrimSpace(req.Title)
	if req.PatientID == "" || req.Title == "" {
		http.Error(w, "patient_id and title are required", http.StatusBadRequest)
		return
	}

	date, start, end, err := parseSlot(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Book(r.Context(), engine.BookingRequest{
		PatientID: req.PatientID,
		Title:     req.Title,
		Date:      date,
		Start:     start,
		End:       end,
		Origin:    origin,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(appt))
}

// List serves GET /api/v1/appointments filtered by date, patient_id, or status.
func (h *SchedulingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	var (
		appts []model.Appointment
		err   error
	)
	switch {
	case q.Get("date") != "":
		var date time.Time
		date, err = parseDate(q.Get("date"))
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		appts, err = h.engine.ListForDate(r.Context(), date)
	case q.Get("patient_id") != "":
		appts, err = h.engine.ListByPatient(r.Context(), strings.TrimSpace(q.Get("patient_id")), limit)
	case q.Get("status") != "":
		appts, err = h.engine.ListByStatus(r.Context(), model.Status(q.Get("status")), limit)
	default:
		http.Error(w, "one of date, patient_id, status is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	resp := make([]appointmentResponse, 0, len(appts))
	for _, appt := range appts {
		resp = append(resp, toResponse(appt))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SchedulingHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeID(w, r)
	if !ok {
		return
	}
	appt, err := h.engine.Approve(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *SchedulingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	date, start, end, err := parseSlot(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Reschedule(r.Context(), req.AppointmentID, date, start, end)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *SchedulingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req appointmentIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Cancel(r.Context(), req.AppointmentID, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *SchedulingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	var completion *engine.CompletionNotes
	if req.TreatmentNotes != "" || req.ReminderNotes != "" || req.PaymentStatus != "" {
		completion = &engine.CompletionNotes{
			TreatmentNotes: req.TreatmentNotes,
			ReminderNotes:  req.ReminderNotes,
			PaymentStatus:  req.PaymentStatus,
		}
	}

	appt, err := h.engine.Complete(r.Context(), req.AppointmentID, completion)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

// SweepMissed serves the staff-triggered sweep; the periodic worker covers the
// rest of the time.
func (h *SchedulingHandler) SweepMissed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	count, err := h.engine.SweepMissed(r.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("manual sweep failed", "err", err)
		http.Error(w, "sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Swept: count})
}

func (h *SchedulingHandler) decodeID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	var req appointmentIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return "", false
	}
	id := strings.TrimSpace(req.AppointmentID)
	if id == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (h *SchedulingHandler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrSlotUnavailable):
		http.Error(w, "time slot already booked", http.StatusConflict)
	case errors.Is(err, engine.ErrInvalidStateTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrOutOfHours), errors.Is(err, engine.ErrInPast):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, engine.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("scheduling operation failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse(time.DateOnly, strings.TrimSpace(raw))
}

func parseSlot(rawDate, rawStart, rawEnd string) (time.Time, clock.TimeOfDay, clock.TimeOfDay, error) {
	date, err := parseDate(rawDate)
	if err != nil {
		return time.Time{}, 0, 0, errors.New("date must be YYYY-MM-DD")
	}
	start, err := clock.ParseTimeOfDay(strings.TrimSpace(rawStart))
	if err != nil {
		return time.Time{}, 0, 0, errors.New("start_time must be HH:MM")
	}
	end, err := clock.ParseTimeOfDay(strings.TrimSpace(rawEnd))
	if err != nil {
		return time.Time{}, 0, 0, errors.New("end_time must be HH:MM")
	}
	return date, start, end, nil
}

func toResponse(appt model.Appointment) appointmentResponse {
	return appointmentResponse{
		AppointmentID:      appt.ID,
		PatientID:          appt.PatientID,
		Title:              appt.Title,
		Date:               appt.Date.Format(time.DateOnly),
		StartTime:          appt.Start.String(),
		EndTime:            appt.End.String(),
		Status:             string(appt.Status),
		CancellationReason: appt.CancellationReason,
		CreatedAt:          appt.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          appt.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
