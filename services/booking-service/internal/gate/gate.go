// Package gate decides whether two parties may exchange messages. The
// decision is derived from the current appointment status on every call.
package gate

import (
	"context"

	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/storage"
)

// CanExchange is true iff {partyA, partyB} is exactly the appointment's
// requester/provider pair and the appointment is approved.
func CanExchange(a model.Appointment, partyA, partyB string) bool {
	if partyA == "" || partyB == "" || partyA == partyB {
		return false
	}
	pair := (a.RequesterID == partyA && a.ProviderID == partyB) ||
		(a.RequesterID == partyB && a.ProviderID == partyA)
	return pair && a.Status == model.StatusApproved
}

// Check loads the appointment and applies CanExchange.
func Check(ctx context.Context, r storage.Reader, appointmentID, partyA, partyB string) (model.Appointment, error) {
	return check(ctx, r.GetAppointment, appointmentID, partyA, func(model.Appointment) string { return partyB })
}

// CheckActor authorizes actorID against whoever is on the other side of the appointment.
func CheckActor(ctx context.Context, r storage.Reader, appointmentID, actorID string) (model.Appointment, error) {
	return check(ctx, r.GetAppointment, appointmentID, actorID, counterpart(actorID))
}

// CheckActorLocked is CheckActor inside a unit of work, holding the
// appointment row so a concurrent cancel orders strictly before or after.
func CheckActorLocked(ctx context.Context, tx storage.Tx, appointmentID, actorID string) (model.Appointment, error) {
	return check(ctx, tx.LockAppointment, appointmentID, actorID, counterpart(actorID))
}

func counterpart(actorID string) func(model.Appointment) string {
	return func(a model.Appointment) string { return a.Counterpart(actorID) }
}

func check(
	ctx context.Context,
	load func(context.Context, string) (model.Appointment, error),
	appointmentID, partyA string,
	partyB func(model.Appointment) string,
) (model.Appointment, error) {
	a, err := load(ctx, appointmentID)
	if storage.IsNotFound(err) {
		return model.Appointment{}, apperr.ErrChannelNotAuthorized
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if !CanExchange(a, partyA, partyB(a)) {
		return model.Appointment{}, apperr.ErrChannelNotAuthorized
	}
	return a, nil
}
