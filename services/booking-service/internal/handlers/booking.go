package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/md-rashed-zaman/slotchat/libs/httpx"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/appointments"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
)

type BookingHandler struct {
	svc    *appointments.Service
	logger *slog.Logger
}

func NewBookingHandler(svc *appointments.Service, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, logger: logger}
}

type bookRequest struct {
	ProviderID  string `json:"provider_id"`
	SlotID      string `json:"slot_id"`
	Topic       string `json:"topic"`
	Description string `json:"description"`
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

type cancelResponse struct {
	appointmentItem
	Removed bool `json:"removed"`
}

type summaryResponse struct {
	Counts  map[string]int    `json:"counts"`
	Pending []appointmentItem `json:"pending"`
	Today   []scheduleItem    `json:"today"`
}

type scheduleItem struct {
	appointmentItem
	Day       string `json:"day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func toScheduleItems(in []appointments.ScheduleEntry) []scheduleItem {
	out := make([]scheduleItem, 0, len(in))
	for _, e := range in {
		out = append(out, scheduleItem{
			appointmentItem: toAppointmentItem(e.Appointment),
			Day:             string(e.Slot.Day),
			StartTime:       e.Slot.StartTime,
			EndTime:         e.Slot.EndTime,
		})
	}
	return out
}

func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w, err)
		return
	}
	appt, err := h.svc.Book(r.Context(), actorFrom(r), appointments.BookInput{
		ProviderID:  req.ProviderID,
		SlotID:      req.SlotID,
		Topic:       req.Topic,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toAppointmentItem(appt))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			writeError(w, r, h.logger, apperr.Invalid("limit must be between 1 and 200"))
			return
		}
		limit = n
	}
	out, err := h.svc.List(r.Context(), actorFrom(r), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": toAppointmentItems(out)})
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.Get(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentItem(appt))
}

func (h *BookingHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w, err)
		return
	}
	decision, _ := model.ParseStatus(strings.ToLower(strings.TrimSpace(req.Decision)))
	appt, err := h.svc.Decide(r.Context(), actorFrom(r), mux.Vars(r)["id"], decision)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentItem(appt))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Cancel(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cancelResponse{appointmentItem: toAppointmentItem(res.Appointment), Removed: res.Removed})
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.Complete(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentItem(appt))
}

func (h *BookingHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context(), actorFrom(r).ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	counts := map[string]int{}
	for _, st := range []model.Status{
		model.StatusPending, model.StatusApproved, model.StatusRejected, model.StatusCompleted, model.StatusCancelled,
	} {
		counts[string(st)] = sum.Counts[st]
	}
	httpx.WriteJSON(w, http.StatusOK, summaryResponse{
		Counts:  counts,
		Pending: toAppointmentItems(sum.Pending),
		Today:   toScheduleItems(sum.Today),
	})
}

func (h *BookingHandler) Today(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Today(r.Context(), actorFrom(r).ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": toScheduleItems(entries)})
}

func (h *BookingHandler) Between(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Between(r.Context(), actorFrom(r), mux.Vars(r)["otherId"])
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": toAppointmentItems(out)})
}
