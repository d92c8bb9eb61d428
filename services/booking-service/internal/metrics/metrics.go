package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotchat",
			Name:      "booking_attempts_total",
			Help:      "Count of booking attempts by outcome.",
		},
		[]string{"outcome"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotchat",
			Name:      "appointment_transitions_total",
			Help:      "Count of appointment status transitions by event.",
		},
		[]string{"event", "to"},
	)

	messagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotchat",
			Name:      "messages_sent_total",
			Help:      "Count of chat messages persisted.",
		},
	)

	channelDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotchat",
			Name:      "channel_denied_total",
			Help:      "Count of chat operations refused by the channel gate.",
		},
		[]string{"op"},
	)

	realtimeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "slotchat",
			Name:      "realtime_connections",
			Help:      "Live realtime connections held by this process.",
		},
	)

	realtimeDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotchat",
			Name:      "realtime_dropped_total",
			Help:      "Realtime events dropped because a connection buffer was full.",
		},
		[]string{"kind"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookings, transitions, messagesSent, channelDenied, realtimeConnections, realtimeDropped)
	})
}

func IncBooking(outcome string) {
	bookings.WithLabelValues(outcome).Inc()
}

func IncTransition(event, to string) {
	transitions.WithLabelValues(event, to).Inc()
}

func IncMessageSent() {
	messagesSent.Inc()
}

func IncChannelDenied(op string) {
	channelDenied.WithLabelValues(op).Inc()
}

func AddRealtimeConnections(delta float64) {
	realtimeConnections.Add(delta)
}

func IncRealtimeDropped(kind string) {
	realtimeDropped.WithLabelValues(kind).Inc()
}
