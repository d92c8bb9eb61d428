package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/md-rashed-zaman/slotchat/libs/httpx"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/slots"
)

type SlotHandler struct {
	registry *slots.Registry
	logger   *slog.Logger
}

func NewSlotHandler(registry *slots.Registry, logger *slog.Logger) *SlotHandler {
	return &SlotHandler{registry: registry, logger: logger}
}

type createSlotRequest struct {
	Day       string `json:"day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type updateSlotRequest struct {
	Day       *string `json:"day"`
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
}

func (h *SlotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSlotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w, err)
		return
	}
	slot, err := h.registry.Create(r.Context(), actorFrom(r).ID, slots.SlotInput{
		Day:   req.Day,
		Start: req.StartTime,
		End:   req.EndTime,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toSlotItem(slot))
}

// List serves GET /slots?provider_id=&day=&available=true. Providers default
// to their own slots.
func (h *SlotHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providerID := strings.TrimSpace(q.Get("provider_id"))
	actor := actorFrom(r)
	if providerID == "" && actor.Role == model.RoleProvider {
		providerID = actor.ID
	}

	available := false
	if raw := strings.TrimSpace(q.Get("available")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, h.logger, apperr.Invalid("available must be true or false"))
			return
		}
		available = v
	}

	var (
		out []model.Slot
		err error
	)
	if available {
		out, err = h.registry.ListAvailable(r.Context(), providerID, q.Get("day"))
	} else {
		out, err = h.registry.List(r.Context(), providerID, q.Get("day"))
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	items := make([]slotItem, 0, len(out))
	for _, s := range out {
		items = append(items, toSlotItem(s))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *SlotHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateSlotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w, err)
		return
	}
	slot, err := h.registry.Update(r.Context(), actorFrom(r).ID, mux.Vars(r)["id"], slots.SlotPatch{
		Day:   req.Day,
		Start: req.StartTime,
		End:   req.EndTime,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSlotItem(slot))
}

func (h *SlotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), actorFrom(r).ID, mux.Vars(r)["id"]); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
