package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/storage/memstore"
)

var (
	t1 = model.Actor{ID: "T1", Role: model.RoleProvider}
	s1 = model.Actor{ID: "S1", Role: model.RoleRequester}
	s2 = model.Actor{ID: "S2", Role: model.RoleRequester}
)

type fixture struct {
	store *memstore.Store
	slots *slots.Registry
	svc   *Service
	slot  model.Slot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	reg := slots.NewRegistry(store, logger)
	slot, err := reg.Create(context.Background(), "T1", slots.SlotInput{Day: "Mon", Start: "09:00", End: "09:30"})
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	return &fixture{store: store, slots: reg, svc: NewService(store, reg, logger), slot: slot}
}

func (f *fixture) book(t *testing.T, who model.Actor) model.Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), who, BookInput{ProviderID: "T1", SlotID: f.slot.ID, Topic: "algebra"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return appt
}

func (f *fixture) slotReserved(t *testing.T) bool {
	t.Helper()
	s, err := f.store.GetSlot(context.Background(), f.slot.ID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	return s.Reserved
}

func TestBookReservesAndSecondBookConflicts(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, s1)
	if appt.Status != model.StatusPending {
		t.Fatalf("expected pending, got %s", appt.Status)
	}
	if !f.slotReserved(t) {
		t.Fatal("expected slot reserved")
	}

	_, err := f.svc.Book(context.Background(), s2, BookInput{ProviderID: "T1", SlotID: f.slot.ID, Topic: "geometry"})
	if !errors.Is(err, apperr.ErrAlreadyReserved) {
		t.Fatalf("expected already reserved, got %v", err)
	}
	list, _ := f.svc.List(context.Background(), s2, "", 0)
	if len(list) != 0 {
		t.Fatalf("failed booking must not create an appointment, got %d", len(list))
	}
}

func TestBookProviderMismatchCreatesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Book(context.Background(), s1, BookInput{ProviderID: "T9", SlotID: f.slot.ID, Topic: "x"})
	if !errors.Is(err, apperr.ErrProviderMismatch) {
		t.Fatalf("expected provider mismatch, got %v", err)
	}
	if f.slotReserved(t) {
		t.Fatal("slot must stay unreserved")
	}
	if n := len(f.store.Outbox()); n != 0 {
		t.Fatalf("expected no outbox rows, got %d", n)
	}
}

func TestBookRequiresTopic(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Book(context.Background(), s1, BookInput{ProviderID: "T1", SlotID: f.slot.ID, Topic: "  "})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation, got %v", err)
	}
}

func TestRejectReleasesSlotForNextBooking(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, s1)

	out, err := f.svc.Decide(context.Background(), t1, appt.ID, model.StatusRejected)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if out.Status != model.StatusRejected || out.DecidedAt == nil {
		t.Fatalf("unexpected appointment: %+v", out)
	}
	if f.slotReserved(t) {
		t.Fatal("expected slot released after rejection")
	}
	if next := f.book(t, s2); next.Status != model.StatusPending {
		t.Fatalf("expected second booking pending, got %s", next.Status)
	}
}

func TestConcurrentDecisionsExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, s1)

	decisions := []model.Status{model.StatusApproved, model.StatusRejected, model.StatusApproved, model.StatusRejected}
	var wg sync.WaitGroup
	errs := make(chan error, len(decisions))
	for _, d := range decisions {
		wg.Add(1)
		go func(d model.Status) {
			defer wg.Done()
			_, err := f.svc.Decide(context.Background(), t1, appt.ID, d)
			errs <- err
		}(d)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, apperr.ErrAppointmentNotFound):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected one winning decision, got %d", wins)
	}
}

func TestDecideByOtherProviderIsNotFound(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, s1)
	other := model.Actor{ID: "T2", Role: model.RoleProvider}
	if _, err := f.svc.Decide(context.Background(), other, appt.ID, model.StatusApproved); !errors.Is(err, apperr.ErrAppointmentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTerminalStatesAdmitNoTransition(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	appt := f.book(t, s1)
	if _, err := f.svc.Decide(ctx, t1, appt.ID, model.StatusApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.Complete(ctx, t1, appt.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !f.slotReserved(t) {
		t.Fatal("completion must leave the slot reserved")
	}
	if _, err := f.svc.Cancel(ctx, s1, appt.ID); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict cancelling completed, got %v", err)
	}
	if _, err := f.svc.Complete(ctx, t1, appt.ID); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict completing twice, got %v", err)
	}
	if _, err := f.svc.Decide(ctx, t1, appt.ID, model.StatusRejected); !errors.Is(err, apperr.ErrAppointmentNotFound) {
		t.Fatalf("expected not found deciding completed, got %v", err)
	}

	for from, events := range transitions {
		if from.Terminal() && len(events) > 0 {
			t.Fatalf("terminal status %s has transitions", from)
		}
	}
	for _, st := range []model.Status{model.StatusRejected, model.StatusCompleted, model.StatusCancelled} {
		for _, ev := range []Event{EventApprove, EventReject, EventCancel, EventComplete, EventWithdraw} {
			if _, ok := Next(st, ev); ok {
				t.Fatalf("unexpected transition %s --%s-->", st, ev)
			}
		}
	}
}

func TestCancelApprovedReleasesSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, s1)
	if _, err := f.svc.Decide(ctx, t1, appt.ID, model.StatusApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	res, err := f.svc.Cancel(ctx, s1, appt.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Removed || res.Appointment.Status != model.StatusCancelled || res.Appointment.CancelledBy != "S1" {
		t.Fatalf("unexpected cancel result: %+v", res)
	}
	if f.slotReserved(t) {
		t.Fatal("expected slot released after cancel")
	}
}

func TestRequesterWithdrawPendingRemovesRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, s1)

	res, err := f.svc.Cancel(ctx, s1, appt.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !res.Removed {
		t.Fatal("expected pending withdrawal to remove the record")
	}
	if f.slotReserved(t) {
		t.Fatal("expected slot released")
	}
	if _, err := f.svc.Get(ctx, s1, appt.ID); !errors.Is(err, apperr.ErrAppointmentNotFound) {
		t.Fatalf("expected removed appointment to be gone, got %v", err)
	}

	rows := f.store.Outbox()
	last := rows[len(rows)-1]
	if last.EventType != outbox.EventAppointmentCancelled {
		t.Fatalf("expected cancelled event, got %s", last.EventType)
	}
	var payload map[string]any
	if err := json.Unmarshal(last.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["removed"] != true || payload["cancelled_by"] != "S1" {
		t.Fatalf("unexpected withdraw payload: %v", payload)
	}
}

func TestWithdrawIsRequesterOnlyAndPendingOnly(t *testing.T) {
	tr, ok := Next(model.StatusPending, EventWithdraw)
	if !ok || !tr.Removes() || !tr.Releases() {
		t.Fatalf("pending withdraw must remove the record and release the slot: %+v", tr)
	}
	if tr.Allows(PartyProvider) || tr.Allows(PartyAdmin) || !tr.Allows(PartyRequester) {
		t.Fatalf("withdraw must be requester only: %+v", tr)
	}
	if _, ok := Next(model.StatusApproved, EventWithdraw); ok {
		t.Fatal("approved appointments cannot be withdrawn")
	}
	for _, ev := range []Event{EventCancel, EventReject} {
		if tr, _ := Next(model.StatusPending, ev); tr.Removes() {
			t.Fatalf("%s must keep the record", ev)
		}
	}
}

func TestProviderCancelPendingKeepsRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, s1)

	res, err := f.svc.Cancel(ctx, t1, appt.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Removed || res.Appointment.Status != model.StatusCancelled {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := f.svc.Cancel(ctx, s2, appt.ID); !errors.Is(err, apperr.ErrAppointmentNotFound) {
		t.Fatalf("outsider must see not found, got %v", err)
	}
}

func TestMalformedAppointmentIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.book(t, s1)

	if _, err := f.svc.Get(ctx, s1, "not-a-uuid"); !errors.Is(err, apperr.ErrAppointmentNotFound) {
		t.Fatalf("get: expected not found, got %v", err)
	}
	if _, err := f.svc.Decide(ctx, t1, "x", model.StatusApproved); !errors.Is(err, apperr.ErrAppointmentNotFound) {
		t.Fatalf("decide: expected not found, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, s1, "1234"); !errors.Is(err, apperr.ErrAppointmentNotFound) {
		t.Fatalf("cancel: expected not found, got %v", err)
	}
	if _, err := f.svc.Complete(ctx, t1, ""); !errors.Is(err, apperr.ErrAppointmentNotFound) {
		t.Fatalf("complete: expected not found, got %v", err)
	}
}

func TestTransitionsWriteOutboxEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, s1)
	if _, err := f.svc.Decide(ctx, t1, appt.ID, model.StatusApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.Complete(ctx, t1, appt.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	var types []string
	for _, r := range f.store.Outbox() {
		types = append(types, r.EventType)
	}
	want := []string{outbox.EventAppointmentBooked, outbox.EventAppointmentApproved, outbox.EventAppointmentCompleted}
	if len(types) != len(want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}
}

func TestListSummaryAndBetween(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, s1)

	other, err := f.slots.Create(ctx, "T1", slots.SlotInput{Day: "Tue", Start: "10:00", End: "11:00"})
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	second, err := f.svc.Book(ctx, s2, BookInput{ProviderID: "T1", SlotID: other.ID, Topic: "chem"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.Decide(ctx, t1, second.ID, model.StatusApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	mine, _ := f.svc.List(ctx, s1, "", 0)
	if len(mine) != 1 || mine[0].ID != appt.ID {
		t.Fatalf("requester should only see own bookings: %+v", mine)
	}
	pending, _ := f.svc.List(ctx, t1, "pending", 0)
	if len(pending) != 1 || pending[0].ID != appt.ID {
		t.Fatalf("unexpected pending list: %+v", pending)
	}
	if _, err := f.svc.List(ctx, t1, "bogus", 0); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation for bad status, got %v", err)
	}

	sum, err := f.svc.Summary(ctx, "T1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Counts[model.StatusPending] != 1 || sum.Counts[model.StatusApproved] != 1 || len(sum.Pending) != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	shared, _ := f.svc.Between(ctx, s2, "T1")
	if len(shared) != 1 || shared[0].ID != second.ID {
		t.Fatalf("unexpected shared appointments: %+v", shared)
	}
	none, _ := f.svc.Between(ctx, s1, "T1")
	if len(none) != 0 {
		t.Fatalf("pending appointment must not count as shared chat: %+v", none)
	}
}

func TestTodayListsDecidedAppointmentsForCurrentWeekday(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// 2026-01-05 is a Monday.
	f.svc.now = func() time.Time { return time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC) }

	mkSlot := func(day, start, end string) model.Slot {
		t.Helper()
		sl, err := f.slots.Create(ctx, "T1", slots.SlotInput{Day: day, Start: start, End: end})
		if err != nil {
			t.Fatalf("create slot: %v", err)
		}
		return sl
	}
	bookOn := func(who model.Actor, sl model.Slot) model.Appointment {
		t.Helper()
		a, err := f.svc.Book(ctx, who, BookInput{ProviderID: "T1", SlotID: sl.ID, Topic: "review"})
		if err != nil {
			t.Fatalf("book: %v", err)
		}
		return a
	}
	approve := func(a model.Appointment) {
		t.Helper()
		if _, err := f.svc.Decide(ctx, t1, a.ID, model.StatusApproved); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}

	late := f.book(t, s1)
	approve(late)
	if _, err := f.svc.Complete(ctx, t1, late.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	early := bookOn(s2, mkSlot("Mon", "08:00", "08:30"))
	approve(early)
	approve(bookOn(s1, mkSlot("Tue", "08:00", "09:00")))
	bookOn(s2, mkSlot("Mon", "11:00", "12:00"))

	today, err := f.svc.Today(ctx, "T1")
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if len(today) != 2 {
		t.Fatalf("expected two entries, got %+v", today)
	}
	if today[0].Appointment.ID != early.ID || today[1].Appointment.ID != late.ID {
		t.Fatalf("expected schedule ordered by start time, got %+v", today)
	}
	if today[0].Slot.StartTime != "08:00" || today[1].Appointment.Status != model.StatusCompleted {
		t.Fatalf("unexpected entries: %+v", today)
	}

	sum, err := f.svc.Summary(ctx, "T1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(sum.Today) != 2 || len(sum.Pending) != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	f.svc.now = func() time.Time { return time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC) }
	wed, err := f.svc.Today(ctx, "T1")
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if len(wed) != 0 {
		t.Fatalf("expected empty Wednesday schedule, got %+v", wed)
	}
}
