package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/messages"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 4096
)

// RealtimeHandler upgrades to a websocket subscribed to the caller's own
// channel. Inbound frames carry typing indicators and read acknowledgements.
type RealtimeHandler struct {
	hub      *realtime.Hub
	msgs     *messages.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

type inboundFrame struct {
	Type          string `json:"type"`
	AppointmentID string `json:"appointment_id"`
	Typing        bool   `json:"typing"`
}

type errorFrame struct {
	Kind   string `json:"kind"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func NewRealtimeHandler(hub *realtime.Hub, msgs *messages.Service, logger *slog.Logger, allowedOrigins []string) *RealtimeHandler {
	h := &RealtimeHandler{hub: hub, msgs: msgs, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func (h *RealtimeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	// Subscribe before the handshake completes so nothing published after the
	// client sees 101 is missed.
	conn := h.hub.Register(actor.ID)
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.Unregister(conn)
		h.logger.Warn("websocket upgrade failed", "user_id", actor.ID, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.writeLoop(ws, conn, cancel)
	h.readLoop(ctx, ws, actor.ID)

	h.hub.Unregister(conn)
}

func (h *RealtimeHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	ws.SetReadLimit(maxInboundSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame inboundFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read ended", "user_id", userID, "err", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		var err error
		switch strings.ToLower(frame.Type) {
		case "typing":
			err = h.msgs.Typing(ctx, frame.AppointmentID, userID, frame.Typing)
		case "read":
			_, err = h.msgs.MarkSeen(ctx, frame.AppointmentID, userID)
		default:
			err = apperr.Invalid("unknown frame type")
		}
		if err != nil {
			h.reject(userID, err)
		}
	}
}

// reject reports a refused inbound frame back to the sender's connections.
func (h *RealtimeHandler) reject(userID string, err error) {
	e, ok := apperr.As(err)
	if !ok {
		h.logger.Error("realtime frame failed", "user_id", userID, "err", err)
		return
	}
	payload, _ := json.Marshal(errorFrame{Kind: string(e.Kind), Code: e.Code, Reason: e.Reason})
	h.hub.Deliver(userID, realtime.Event{Kind: realtime.KindError, From: userID, Payload: payload})
}

func (h *RealtimeHandler) writeLoop(ws *websocket.Conn, conn *realtime.Conn, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		_ = ws.Close()
	}()

	for {
		select {
		case evt, ok := <-conn.Events():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := map[string]struct{}{}
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			wildcard = true
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
