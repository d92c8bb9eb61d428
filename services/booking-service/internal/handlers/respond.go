package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/slotchat/libs/auth"
	"github.com/md-rashed-zaman/slotchat/libs/httpx"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
)

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if e, ok := apperr.As(err); ok {
		httpx.WriteJSON(w, statusFor(e.Kind), errorResponse{Error: string(e.Kind), Code: e.Code, Reason: e.Reason})
		return
	}
	logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", httpx.RequestIDFromContext(r.Context()),
		"err", err,
	)
	httpx.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Code: "internal", Reason: "internal error"})
}

func writeBadBody(w http.ResponseWriter, err error) {
	reason := "invalid json body"
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		reason = "request body too large"
	}
	httpx.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: string(apperr.KindValidation), Code: apperr.CodeInvalidInput, Reason: reason})
}

func actorFrom(r *http.Request) model.Actor {
	id, _ := auth.IdentityFromContext(r.Context())
	return model.Actor{ID: id.UserID, Role: model.Role(id.Role)}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

type slotItem struct {
	SlotID     string `json:"slot_id"`
	ProviderID string `json:"provider_id"`
	Day        string `json:"day"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Reserved   bool   `json:"reserved"`
}

func toSlotItem(s model.Slot) slotItem {
	return slotItem{
		SlotID:     s.ID,
		ProviderID: s.ProviderID,
		Day:        string(s.Day),
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		Reserved:   s.Reserved,
	}
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	RequesterID   string `json:"requester_id"`
	ProviderID    string `json:"provider_id"`
	SlotID        string `json:"slot_id"`
	Topic         string `json:"topic"`
	Description   string `json:"description,omitempty"`
	Status        string `json:"status"`
	CancelledBy   string `json:"cancelled_by,omitempty"`
	DecidedAt     string `json:"decided_at,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toAppointmentItem(a model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID: a.ID,
		RequesterID:   a.RequesterID,
		ProviderID:    a.ProviderID,
		SlotID:        a.SlotID,
		Topic:         a.Topic,
		Description:   a.Description,
		Status:        string(a.Status),
		CancelledBy:   a.CancelledBy,
		DecidedAt:     formatTimePtr(a.DecidedAt),
		CreatedAt:     formatTime(a.CreatedAt),
		UpdatedAt:     formatTime(a.UpdatedAt),
	}
}

func toAppointmentItems(in []model.Appointment) []appointmentItem {
	out := make([]appointmentItem, 0, len(in))
	for _, a := range in {
		out = append(out, toAppointmentItem(a))
	}
	return out
}

type messageItem struct {
	MessageID     string `json:"message_id"`
	AppointmentID string `json:"appointment_id"`
	SenderID      string `json:"sender_id"`
	ReceiverID    string `json:"receiver_id"`
	Body          string `json:"body"`
	Seen          bool   `json:"seen"`
	SeenAt        string `json:"seen_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toMessageItem(m model.Message) messageItem {
	return messageItem{
		MessageID:     m.ID,
		AppointmentID: m.AppointmentID,
		SenderID:      m.SenderID,
		ReceiverID:    m.ReceiverID,
		Body:          m.Body,
		Seen:          m.Seen,
		SeenAt:        formatTimePtr(m.SeenAt),
		CreatedAt:     m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toMessageItems(in []model.Message) []messageItem {
	out := make([]messageItem, 0, len(in))
	for _, m := range in {
		out = append(out, toMessageItem(m))
	}
	return out
}
