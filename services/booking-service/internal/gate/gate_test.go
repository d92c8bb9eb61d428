package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/storage/memstore"
)

func TestCanExchangeOnlyWhenApproved(t *testing.T) {
	a := model.Appointment{RequesterID: "S1", ProviderID: "T1"}
	for _, st := range []model.Status{
		model.StatusPending, model.StatusApproved, model.StatusRejected, model.StatusCompleted, model.StatusCancelled,
	} {
		a.Status = st
		want := st == model.StatusApproved
		if got := CanExchange(a, "S1", "T1"); got != want {
			t.Fatalf("status %s: expected %v, got %v", st, want, got)
		}
		if got := CanExchange(a, "T1", "S1"); got != want {
			t.Fatalf("status %s reversed pair: expected %v, got %v", st, want, got)
		}
	}

	a.Status = model.StatusApproved
	cases := [][2]string{{"S1", "S2"}, {"S1", "S1"}, {"", "T1"}, {"X", "T1"}}
	for _, c := range cases {
		if CanExchange(a, c[0], c[1]) {
			t.Fatalf("pair %v must not be authorized", c)
		}
	}
}

func TestCheckReadsCurrentStatus(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	appt := model.Appointment{ID: "a1", RequesterID: "S1", ProviderID: "T1", SlotID: "s1", Topic: "t", Status: model.StatusApproved, CreatedAt: time.Now()}
	if err := store.InTx(ctx, func(tx storage.Tx) error { return tx.InsertAppointment(ctx, appt) }); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := CheckActor(ctx, store, "a1", "S1"); err != nil {
		t.Fatalf("expected approved pair to pass: %v", err)
	}
	if _, err := Check(ctx, store, "a1", "T1", "S1"); err != nil {
		t.Fatalf("expected explicit pair to pass: %v", err)
	}
	if _, err := CheckActor(ctx, store, "a1", "S2"); !errors.Is(err, apperr.ErrChannelNotAuthorized) {
		t.Fatalf("expected outsider refused, got %v", err)
	}
	if _, err := CheckActor(ctx, store, "missing", "S1"); !errors.Is(err, apperr.ErrChannelNotAuthorized) {
		t.Fatalf("expected missing appointment refused, got %v", err)
	}

	err := store.InTx(ctx, func(tx storage.Tx) error {
		_, _, err := tx.TransitionAppointment(ctx, "a1", model.StatusApproved, model.StatusCancelled, "S1", time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	err = store.InTx(ctx, func(tx storage.Tx) error {
		_, err := CheckActorLocked(ctx, tx, "a1", "S1")
		return err
	})
	if !errors.Is(err, apperr.ErrChannelNotAuthorized) {
		t.Fatalf("expected cancelled appointment refused, got %v", err)
	}
}
