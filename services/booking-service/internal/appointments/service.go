// Package appointments runs the appointment lifecycle on top of the slot
// registry. Every status change goes through the transition table in
// machine.go and commits together with its slot side effect and outbox row.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/slotchat/libs/otel"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName = "slotchat/appointments"

	scheduleLimit = 200

	maxTopicLen       = 200
	maxDescriptionLen = 2000
)

type Service struct {
	store  storage.Store
	slots  *slots.Registry
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store storage.Store, registry *slots.Registry, logger *slog.Logger) *Service {
	return &Service{store: store, slots: registry, logger: logger, now: time.Now}
}

type BookInput struct {
	ProviderID  string
	SlotID      string
	Topic       string
	Description string
}

// CancelResult reports whether the appointment was kept as cancelled or removed.
type CancelResult struct {
	Appointment model.Appointment
	Removed     bool
}

type Summary struct {
	Counts  map[model.Status]int
	Pending []model.Appointment
	Today   []ScheduleEntry
}

// ScheduleEntry pairs an appointment with the slot it occupies.
type ScheduleEntry struct {
	Appointment model.Appointment
	Slot        model.Slot
}

func (s *Service) Book(ctx context.Context, requester model.Actor, in BookInput) (model.Appointment, error) {
	in.ProviderID = strings.TrimSpace(in.ProviderID)
	in.SlotID = strings.TrimSpace(in.SlotID)
	in.Topic = strings.TrimSpace(in.Topic)
	in.Description = strings.TrimSpace(in.Description)

	switch {
	case requester.ID == "":
		return model.Appointment{}, apperr.Invalid("requester is required")
	case in.ProviderID == "":
		return model.Appointment{}, apperr.Invalid("provider_id is required")
	case in.SlotID == "":
		return model.Appointment{}, apperr.Invalid("slot_id is required")
	case in.Topic == "":
		return model.Appointment{}, apperr.Invalid("topic is required")
	case utf8.RuneCountInString(in.Topic) > maxTopicLen:
		return model.Appointment{}, apperr.Invalid(fmt.Sprintf("topic must be at most %d characters", maxTopicLen))
	case utf8.RuneCountInString(in.Description) > maxDescriptionLen:
		return model.Appointment{}, apperr.Invalid(fmt.Sprintf("description must be at most %d characters", maxDescriptionLen))
	case requester.ID == in.ProviderID:
		return model.Appointment{}, apperr.Invalid("cannot book your own slot")
	}

	now := s.now().UTC()
	appt := model.Appointment{
		ID:          uuid.NewString(),
		RequesterID: requester.ID,
		ProviderID:  in.ProviderID,
		SlotID:      in.SlotID,
		Topic:       in.Topic,
		Description: in.Description,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ctx, endSpan := otelx.StartSpan(ctx, tracerName, "appointments.book",
		attribute.String("appointment.id", appt.ID),
		attribute.String("slot.id", in.SlotID),
	)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := s.slots.ReserveTx(ctx, tx, in.SlotID, in.ProviderID); err != nil {
			return err
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return apperr.ErrAlreadyReserved
			}
			return err
		}
		evt, err := outbox.AppointmentEvent(outbox.EventAppointmentBooked, appt, map[string]any{"topic": appt.Topic})
		if err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, evt)
	})
	endSpan(err)
	if err != nil {
		if e, ok := apperr.As(err); ok {
			metrics.IncBooking(e.Code)
			return model.Appointment{}, err
		}
		metrics.IncBooking("error")
		return model.Appointment{}, fmt.Errorf("book: %w", err)
	}

	metrics.IncBooking("booked")
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"requester_id", appt.RequesterID,
		"provider_id", appt.ProviderID,
		"slot_id", appt.SlotID,
	)
	return appt, nil
}

// Decide approves or rejects a pending appointment owned by the provider.
// Anything else, including a decision that lost a race, is NotFound.
func (s *Service) Decide(ctx context.Context, provider model.Actor, appointmentID string, decision model.Status) (model.Appointment, error) {
	var ev Event
	switch decision {
	case model.StatusApproved:
		ev = EventApprove
	case model.StatusRejected:
		ev = EventReject
	default:
		return model.Appointment{}, apperr.Invalid("decision must be approved or rejected")
	}

	var out model.Appointment
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		appt, err := lock(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if appt.ProviderID != provider.ID || appt.Status != model.StatusPending {
			return apperr.ErrAppointmentNotFound
		}
		out, err = s.apply(ctx, tx, appt, ev, provider)
		return err
	})
	if err != nil {
		return model.Appointment{}, wrap("decide", err)
	}
	s.logTransition(out, ev, provider)
	return out, nil
}

// Cancel releases the slot. A requester withdrawing a still pending request
// removes the record entirely.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, appointmentID string) (CancelResult, error) {
	var (
		res   CancelResult
		event Event
	)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		appt, err := lock(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if PartyOf(appt, actor) == 0 {
			return apperr.ErrAppointmentNotFound
		}

		ev := EventCancel
		if actor.ID == appt.RequesterID && appt.Status == model.StatusPending {
			ev = EventWithdraw
		}
		out, err := s.apply(ctx, tx, appt, ev, actor)
		if err != nil {
			return err
		}
		t, _ := Next(appt.Status, ev)
		res = CancelResult{Appointment: out, Removed: t.Removes()}
		event = ev
		return nil
	})
	if err != nil {
		return CancelResult{}, wrap("cancel", err)
	}
	s.logTransition(res.Appointment, event, actor)
	return res, nil
}

// Complete closes an approved appointment. The slot stays reserved.
func (s *Service) Complete(ctx context.Context, provider model.Actor, appointmentID string) (model.Appointment, error) {
	var out model.Appointment
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		appt, err := lock(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if appt.ProviderID != provider.ID {
			return apperr.ErrAppointmentNotFound
		}
		out, err = s.apply(ctx, tx, appt, EventComplete, provider)
		return err
	})
	if err != nil {
		return model.Appointment{}, wrap("complete", err)
	}
	s.logTransition(out, EventComplete, provider)
	return out, nil
}

// apply runs one table transition: conditional status write, declared side
// effects, then the outbox row.
func (s *Service) apply(ctx context.Context, tx storage.Tx, appt model.Appointment, ev Event, actor model.Actor) (model.Appointment, error) {
	t, ok := Next(appt.Status, ev)
	if !ok {
		return model.Appointment{}, apperr.IllegalTransition(string(appt.Status), string(ev))
	}
	if !t.Allows(PartyOf(appt, actor)) {
		return model.Appointment{}, apperr.ErrForbidden
	}

	var (
		out model.Appointment
		err error
	)
	if t.Removes() {
		ok, err = tx.DeleteAppointment(ctx, appt.ID, appt.Status)
		out = appt
		out.Status = t.To
		out.UpdatedAt = s.now().UTC()
		if t.To == model.StatusCancelled {
			out.CancelledBy = actor.ID
		}
	} else {
		out, ok, err = tx.TransitionAppointment(ctx, appt.ID, appt.Status, t.To, actor.ID, s.now().UTC())
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if !ok {
		return model.Appointment{}, apperr.ErrAppointmentNotFound
	}

	if t.Releases() {
		if err := s.slots.ReleaseTx(ctx, tx, out.SlotID); err != nil {
			return model.Appointment{}, fmt.Errorf("release slot %s: %w", out.SlotID, err)
		}
	}

	extra := map[string]any{}
	if t.To == model.StatusCancelled {
		extra["cancelled_by"] = actor.ID
	}
	if t.Removes() {
		extra["removed"] = true
	}
	evt, err := outbox.AppointmentEvent(t.EventType, out, extra)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := tx.InsertOutbox(ctx, evt); err != nil {
		return model.Appointment{}, err
	}
	metrics.IncTransition(string(ev), string(t.To))
	return out, nil
}

// Get returns the appointment when the actor participates in it or is an administrator.
func (s *Service) Get(ctx context.Context, actor model.Actor, appointmentID string) (model.Appointment, error) {
	if !model.ValidID(appointmentID) {
		return model.Appointment{}, apperr.ErrAppointmentNotFound
	}
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if storage.IsNotFound(err) {
		return model.Appointment{}, apperr.ErrAppointmentNotFound
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("get appointment: %w", err)
	}
	if !appt.Involves(actor.ID) && !actor.IsAdmin() {
		return model.Appointment{}, apperr.ErrAppointmentNotFound
	}
	return appt, nil
}

// List returns the actor's appointments, newest first. Administrators see all.
func (s *Service) List(ctx context.Context, actor model.Actor, rawStatus string, limit int) ([]model.Appointment, error) {
	f := storage.AppointmentFilter{Limit: limit}
	if rawStatus = strings.TrimSpace(rawStatus); rawStatus != "" {
		st, ok := model.ParseStatus(rawStatus)
		if !ok {
			return nil, apperr.Invalid("unknown status")
		}
		f.Status = st
	}
	switch actor.Role {
	case model.RoleAdmin:
	case model.RoleProvider:
		f.ProviderID = actor.ID
	case model.RoleRequester:
		f.RequesterID = actor.ID
	default:
		return nil, apperr.ErrForbidden
	}
	out, err := s.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return out, nil
}

// Summary is the provider dashboard: counts per status and the pending queue.
func (s *Service) Summary(ctx context.Context, providerID string) (Summary, error) {
	counts, err := s.store.CountAppointmentsByStatus(ctx, providerID)
	if err != nil {
		return Summary{}, fmt.Errorf("count appointments: %w", err)
	}
	pending, err := s.store.ListAppointments(ctx, storage.AppointmentFilter{ProviderID: providerID, Status: model.StatusPending})
	if err != nil {
		return Summary{}, fmt.Errorf("list pending: %w", err)
	}
	today, err := s.Today(ctx, providerID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Counts: counts, Pending: pending, Today: today}, nil
}

// Today is the provider's schedule for the current weekday: approved and
// completed appointments ordered by slot start time.
func (s *Service) Today(ctx context.Context, providerID string) ([]ScheduleEntry, error) {
	daySlots, err := s.store.ListSlots(ctx, storage.SlotFilter{ProviderID: providerID, Day: model.DayOf(s.now())})
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	bySlot := make(map[string]model.Slot, len(daySlots))
	for _, sl := range daySlots {
		bySlot[sl.ID] = sl
	}

	var out []ScheduleEntry
	for _, st := range []model.Status{model.StatusApproved, model.StatusCompleted} {
		appts, err := s.store.ListAppointments(ctx, storage.AppointmentFilter{ProviderID: providerID, Status: st, Limit: scheduleLimit})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", st, err)
		}
		for _, a := range appts {
			if sl, ok := bySlot[a.SlotID]; ok {
				out = append(out, ScheduleEntry{Appointment: a, Slot: sl})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Slot.StartTime < out[j].Slot.StartTime })
	return out, nil
}

// Between lists approved appointments shared by the actor and otherID.
func (s *Service) Between(ctx context.Context, actor model.Actor, otherID string) ([]model.Appointment, error) {
	otherID = strings.TrimSpace(otherID)
	if otherID == "" || otherID == actor.ID {
		return nil, apperr.Invalid("other participant is required")
	}
	out, err := s.store.ListAppointments(ctx, storage.AppointmentFilter{
		Participants: [2]string{actor.ID, otherID},
		Status:       model.StatusApproved,
	})
	if err != nil {
		return nil, fmt.Errorf("list shared appointments: %w", err)
	}
	return out, nil
}

func (s *Service) logTransition(a model.Appointment, ev Event, actor model.Actor) {
	s.logger.Info("appointment transition",
		"appointment_id", a.ID,
		"event", string(ev),
		"status", string(a.Status),
		"actor_id", actor.ID,
		"slot_id", a.SlotID,
	)
}

func lock(ctx context.Context, tx storage.Tx, id string) (model.Appointment, error) {
	if !model.ValidID(id) {
		return model.Appointment{}, apperr.ErrAppointmentNotFound
	}
	appt, err := tx.LockAppointment(ctx, id)
	if storage.IsNotFound(err) {
		return model.Appointment{}, apperr.ErrAppointmentNotFound
	}
	return appt, err
}

func wrap(op string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
