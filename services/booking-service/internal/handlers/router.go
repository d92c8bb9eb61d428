package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/md-rashed-zaman/slotchat/libs/auth"
	"github.com/md-rashed-zaman/slotchat/libs/httpx"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/appointments"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/messages"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/realtime"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/slots"
)

type Deps struct {
	Slots          *slots.Registry
	Appointments   *appointments.Service
	Messages       *messages.Service
	Hub            *realtime.Hub
	Verifier       *auth.Verifier
	Logger         *slog.Logger
	RequestTimeout time.Duration
	AllowedOrigins []string
	// RateLimit runs after authentication so limits are keyed per user.
	RateLimit httpx.Middleware
}

// NewRouter mounts the /api/v1 surface. Every route requires a verified identity.
func NewRouter(d Deps) *mux.Router {
	requireAuth := auth.RequireAuth(d.Verifier)
	provider := auth.RequireRole(auth.RoleProvider)
	requester := auth.RequireRole(auth.RoleRequester)

	slotH := NewSlotHandler(d.Slots, d.Logger)
	bookingH := NewBookingHandler(d.Appointments, d.Logger)
	msgH := NewMessageHandler(d.Messages, d.Logger)
	rtH := NewRealtimeHandler(d.Hub, d.Messages, d.Logger, d.AllowedOrigins)

	r := mux.NewRouter()

	// Websocket upgrades stay outside the request timeout.
	r.Handle("/api/v1/realtime", requireAuth(rtH)).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(requireAuth)
	if d.RateLimit != nil {
		api.Use(mux.MiddlewareFunc(d.RateLimit))
	}
	if d.RequestTimeout > 0 {
		api.Use(mux.MiddlewareFunc(httpx.WithTimeout(d.RequestTimeout)))
	}

	api.Handle("/slots", provider(http.HandlerFunc(slotH.Create))).Methods(http.MethodPost)
	api.HandleFunc("/slots", slotH.List).Methods(http.MethodGet)
	api.Handle("/slots/{id}", provider(http.HandlerFunc(slotH.Update))).Methods(http.MethodPatch)
	api.Handle("/slots/{id}", provider(http.HandlerFunc(slotH.Delete))).Methods(http.MethodDelete)

	api.Handle("/appointments", requester(http.HandlerFunc(bookingH.Book))).Methods(http.MethodPost)
	api.HandleFunc("/appointments", bookingH.List).Methods(http.MethodGet)
	api.Handle("/appointments/summary", provider(http.HandlerFunc(bookingH.Summary))).Methods(http.MethodGet)
	api.Handle("/appointments/today", provider(http.HandlerFunc(bookingH.Today))).Methods(http.MethodGet)
	api.HandleFunc("/appointments/with/{otherId}", bookingH.Between).Methods(http.MethodGet)
	api.HandleFunc("/appointments/{id}", bookingH.Get).Methods(http.MethodGet)
	api.Handle("/appointments/{id}/decision", provider(http.HandlerFunc(bookingH.Decide))).Methods(http.MethodPost)
	api.HandleFunc("/appointments/{id}/cancel", bookingH.Cancel).Methods(http.MethodPost)
	api.Handle("/appointments/{id}/complete", provider(http.HandlerFunc(bookingH.Complete))).Methods(http.MethodPost)

	api.HandleFunc("/appointments/{id}/messages", msgH.Send).Methods(http.MethodPost)
	api.HandleFunc("/appointments/{id}/messages", msgH.History).Methods(http.MethodGet)
	api.HandleFunc("/appointments/{id}/messages/seen", msgH.MarkSeen).Methods(http.MethodPost)

	return r
}
