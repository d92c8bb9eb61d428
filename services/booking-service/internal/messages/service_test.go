package messages

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/appointments"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/realtime"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/storage/memstore"
)

var (
	t1 = model.Actor{ID: "T1", Role: model.RoleProvider}
	s1 = model.Actor{ID: "S1", Role: model.RoleRequester}
)

type fixture struct {
	store *memstore.Store
	hub   *realtime.Hub
	appts *appointments.Service
	msgs  *Service
	appt  model.Appointment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	reg := slots.NewRegistry(store, logger)
	appts := appointments.NewService(store, reg, logger)
	hub := realtime.NewHub(logger, 8)

	slot, err := reg.Create(ctx, "T1", slots.SlotInput{Day: "mon", Start: "09:00", End: "09:30"})
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	appt, err := appts.Book(ctx, s1, appointments.BookInput{ProviderID: "T1", SlotID: slot.ID, Topic: "calculus"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return &fixture{store: store, hub: hub, appts: appts, msgs: NewService(store, hub, logger), appt: appt}
}

func (f *fixture) approve(t *testing.T) {
	t.Helper()
	if _, err := f.appts.Decide(context.Background(), t1, f.appt.ID, model.StatusApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func TestPendingAppointmentHasNoChannel(t *testing.T) {
	f := newFixture(t)
	if _, err := f.msgs.Append(context.Background(), f.appt.ID, "S1", "hi"); !errors.Is(err, apperr.ErrChannelNotAuthorized) {
		t.Fatalf("expected channel not authorized, got %v", err)
	}
	if _, err := f.msgs.History(context.Background(), f.appt.ID, "S1"); !errors.Is(err, apperr.ErrChannelNotAuthorized) {
		t.Fatalf("expected channel not authorized for history, got %v", err)
	}
}

func TestApprovedChatThenCancelClosesChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.approve(t)

	msg, err := f.msgs.Append(ctx, f.appt.ID, "S1", "hello")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.ReceiverID != "T1" || msg.Seen {
		t.Fatalf("unexpected message: %+v", msg)
	}
	history, err := f.msgs.History(ctx, f.appt.ID, "T1")
	if err != nil || len(history) != 1 || history[0].Body != "hello" {
		t.Fatalf("unexpected history: %+v %v", history, err)
	}

	if _, err := f.appts.Cancel(ctx, s1, f.appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.msgs.Append(ctx, f.appt.ID, "S1", "still there?"); !errors.Is(err, apperr.ErrChannelNotAuthorized) {
		t.Fatalf("expected channel closed after cancel, got %v", err)
	}
	kept, err := f.store.ListMessages(ctx, f.appt.ID)
	if err != nil || len(kept) != 1 {
		t.Fatalf("expected prior messages to be retained, got %d %v", len(kept), err)
	}
}

func TestOutsiderCannotSend(t *testing.T) {
	f := newFixture(t)
	f.approve(t)
	if _, err := f.msgs.Append(context.Background(), f.appt.ID, "S2", "let me in"); !errors.Is(err, apperr.ErrChannelNotAuthorized) {
		t.Fatalf("expected channel not authorized, got %v", err)
	}
}

func TestAppendValidatesBody(t *testing.T) {
	f := newFixture(t)
	f.approve(t)
	for _, body := range []string{"", "   ", strings.Repeat("x", MaxBodyLen+1)} {
		_, err := f.msgs.Append(context.Background(), f.appt.ID, "S1", body)
		if apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("expected validation for body len %d, got %v", len(body), err)
		}
	}
}

func TestAppendPushesToRecipientAndMarkSeenSendsReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.approve(t)
	teacherConn := f.hub.Register("T1")
	studentConn := f.hub.Register("S1")

	msg, err := f.msgs.Append(ctx, f.appt.ID, "S1", "question")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case evt := <-teacherConn.Events():
		var payload map[string]any
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if evt.Kind != realtime.KindMessage || evt.From != "S1" || payload["id"] != msg.ID {
			t.Fatalf("unexpected event: %+v", evt)
		}
	default:
		t.Fatal("expected message event for recipient")
	}

	marked, err := f.msgs.MarkSeen(ctx, f.appt.ID, "T1")
	if err != nil || len(marked) != 1 || !marked[0].Seen {
		t.Fatalf("mark seen: %+v %v", marked, err)
	}
	select {
	case evt := <-studentConn.Events():
		if evt.Kind != realtime.KindReadReceipt || evt.From != "T1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	default:
		t.Fatal("expected read receipt for sender")
	}

	again, err := f.msgs.MarkSeen(ctx, f.appt.ID, "T1")
	if err != nil || len(again) != 0 {
		t.Fatalf("expected nothing left to mark, got %+v %v", again, err)
	}
}

func TestTypingIsGated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.msgs.Typing(ctx, f.appt.ID, "S1", true); !errors.Is(err, apperr.ErrChannelNotAuthorized) {
		t.Fatalf("expected typing refused before approval, got %v", err)
	}
	f.approve(t)
	conn := f.hub.Register("T1")
	if err := f.msgs.Typing(ctx, f.appt.ID, "S1", true); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if evt := <-conn.Events(); evt.Kind != realtime.KindTyping {
		t.Fatalf("unexpected event: %+v", evt)
	}
}
