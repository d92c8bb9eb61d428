package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/md-rashed-zaman/slotchat/libs/httpx"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/messages"
)

type MessageHandler struct {
	svc    *messages.Service
	logger *slog.Logger
}

func NewMessageHandler(svc *messages.Service, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{svc: svc, logger: logger}
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadBody(w, err)
		return
	}
	msg, err := h.svc.Append(r.Context(), mux.Vars(r)["id"], actorFrom(r).ID, req.Body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toMessageItem(msg))
}

func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.History(r.Context(), mux.Vars(r)["id"], actorFrom(r).ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": toMessageItems(msgs)})
}

func (h *MessageHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	marked, err := h.svc.MarkSeen(r.Context(), mux.Vars(r)["id"], actorFrom(r).ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"marked": len(marked)})
}
