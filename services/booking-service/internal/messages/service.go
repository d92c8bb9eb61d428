// Package messages is the durable chat log. Every append and history read
// passes the channel gate first; delivery to live connections happens after
// the write commits and never fails the call.
package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/slotchat/libs/otel"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/gate"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/realtime"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

const MaxBodyLen = 4000

type deliveredMessage struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id"`
	SenderID      string `json:"sender_id"`
	ReceiverID    string `json:"receiver_id"`
	Body          string `json:"body"`
	CreatedAt     string `json:"created_at"`
}

type Service struct {
	store     storage.Store
	publisher realtime.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store storage.Store, publisher realtime.Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, publisher: publisher, logger: logger, now: time.Now}
}

// Append persists a message from senderID to the other participant.
func (s *Service) Append(ctx context.Context, appointmentID, senderID, body string) (model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return model.Message{}, apperr.Invalid("message body is required")
	}
	if utf8.RuneCountInString(body) > MaxBodyLen {
		return model.Message{}, apperr.Invalid(fmt.Sprintf("message body must be at most %d characters", MaxBodyLen))
	}

	var msg model.Message
	ctx, endSpan := otelx.StartSpan(ctx, "slotchat/messages", "messages.append",
		attribute.String("appointment.id", appointmentID))
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		appt, err := gate.CheckActorLocked(ctx, tx, appointmentID, senderID)
		if err != nil {
			return err
		}
		msg = model.Message{
			ID:            uuid.NewString(),
			AppointmentID: appt.ID,
			SenderID:      senderID,
			ReceiverID:    appt.Counterpart(senderID),
			Body:          body,
			CreatedAt:     s.now().UTC(),
		}
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		evt, err := outbox.MessageEvent(msg)
		if err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, evt)
	})
	endSpan(err)
	if err != nil {
		return model.Message{}, s.fail("append", err)
	}

	metrics.IncMessageSent()
	s.push(ctx, msg.ReceiverID, realtime.KindMessage, msg.SenderID, msg.AppointmentID, deliveredMessage{
		ID:            msg.ID,
		AppointmentID: msg.AppointmentID,
		SenderID:      msg.SenderID,
		ReceiverID:    msg.ReceiverID,
		Body:          msg.Body,
		CreatedAt:     msg.CreatedAt.Format(time.RFC3339Nano),
	})
	return msg, nil
}

// History returns the appointment's messages in creation order.
func (s *Service) History(ctx context.Context, appointmentID, readerID string) ([]model.Message, error) {
	if _, err := gate.CheckActor(ctx, s.store, appointmentID, readerID); err != nil {
		return nil, s.fail("history", err)
	}
	msgs, err := s.store.ListMessages(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// MarkSeen flips seen on messages addressed to readerID and sends a read
// receipt to the other participant.
func (s *Service) MarkSeen(ctx context.Context, appointmentID, readerID string) ([]model.Message, error) {
	var (
		marked []model.Message
		appt   model.Appointment
	)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		appt, err = gate.CheckActorLocked(ctx, tx, appointmentID, readerID)
		if err != nil {
			return err
		}
		marked, err = tx.MarkMessagesSeen(ctx, appointmentID, readerID, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, s.fail("mark seen", err)
	}

	if len(marked) > 0 {
		ids := make([]string, 0, len(marked))
		for _, m := range marked {
			ids = append(ids, m.ID)
		}
		s.push(ctx, appt.Counterpart(readerID), realtime.KindReadReceipt, readerID, appointmentID, map[string]any{
			"message_ids": ids,
			"seen_at":     marked[len(marked)-1].SeenAt,
		})
	}
	return marked, nil
}

// Typing relays an ephemeral typing indicator to the other participant.
func (s *Service) Typing(ctx context.Context, appointmentID, senderID string, typing bool) error {
	appt, err := gate.CheckActor(ctx, s.store, appointmentID, senderID)
	if err != nil {
		return s.fail("typing", err)
	}
	s.push(ctx, appt.Counterpart(senderID), realtime.KindTyping, senderID, appointmentID, map[string]bool{"typing": typing})
	return nil
}

func (s *Service) push(ctx context.Context, recipient string, kind realtime.Kind, from, appointmentID string, payload any) {
	if s.publisher == nil || recipient == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("realtime payload encode failed", "kind", kind, "err", err)
		return
	}
	evt := realtime.Event{Kind: kind, From: from, AppointmentID: appointmentID, Payload: data}
	if err := s.publisher.Publish(ctx, recipient, evt); err != nil {
		s.logger.Warn("realtime publish failed", "kind", kind, "recipient", recipient, "err", err)
	}
}

func (s *Service) fail(op string, err error) error {
	if e, ok := apperr.As(err); ok {
		if e.Code == apperr.CodeChannelNotAuthorized {
			metrics.IncChannelDenied(op)
		}
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
