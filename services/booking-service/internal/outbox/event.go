package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Record is a stored outbox row awaiting publication.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

const (
	EventAppointmentBooked    = "booking.appointment.booked.v1"
	EventAppointmentApproved  = "booking.appointment.approved.v1"
	EventAppointmentRejected  = "booking.appointment.rejected.v1"
	EventAppointmentCancelled = "booking.appointment.cancelled.v1"
	EventAppointmentCompleted = "booking.appointment.completed.v1"
	EventMessageSent          = "booking.message.sent.v1"
)

func AppointmentEvent(eventType string, appt model.Appointment, extra map[string]any) (Event, error) {
	body := map[string]any{
		"appointment_id": appt.ID,
		"requester_id":   appt.RequesterID,
		"provider_id":    appt.ProviderID,
		"slot_id":        appt.SlotID,
		"status":         string(appt.Status),
		"occurred_at":    appt.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}

// MessageEvent carries metadata only; bodies stay in the message store.
func MessageEvent(msg model.Message) (Event, error) {
	payload, err := json.Marshal(map[string]any{
		"message_id":     msg.ID,
		"appointment_id": msg.AppointmentID,
		"sender_id":      msg.SenderID,
		"receiver_id":    msg.ReceiverID,
		"created_at":     msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "appointment",
		AggregateID:   msg.AppointmentID,
		EventType:     EventMessageSent,
		Payload:       payload,
	}, nil
}
