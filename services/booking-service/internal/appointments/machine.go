package appointments

import (
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/outbox"
)

type Event string

const (
	EventApprove  Event = "approve"
	EventReject   Event = "reject"
	EventCancel   Event = "cancel"
	EventComplete Event = "complete"
	// EventWithdraw is a requester cancelling their own pending request.
	EventWithdraw Event = "withdraw"
)

type Effect int

const (
	// EffectReleaseSlot returns the bound slot to the registry in the same unit of work.
	EffectReleaseSlot Effect = iota + 1
	// EffectRemoveRecord deletes the appointment row instead of updating its status.
	EffectRemoveRecord
)

// Party is a bit set of who may trigger a transition.
type Party uint8

const (
	PartyRequester Party = 1 << iota
	PartyProvider
	PartyAdmin
)

type Transition struct {
	To        model.Status
	Effects   []Effect
	By        Party
	EventType string
}

// transitions declares every legal move. Terminal statuses have no entry.
var transitions = map[model.Status]map[Event]Transition{
	model.StatusPending: {
		EventApprove: {To: model.StatusApproved, By: PartyProvider, EventType: outbox.EventAppointmentApproved},
		EventReject: {
			To:        model.StatusRejected,
			Effects:   []Effect{EffectReleaseSlot},
			By:        PartyProvider,
			EventType: outbox.EventAppointmentRejected,
		},
		EventCancel: {
			To:        model.StatusCancelled,
			Effects:   []Effect{EffectReleaseSlot},
			By:        PartyRequester | PartyProvider | PartyAdmin,
			EventType: outbox.EventAppointmentCancelled,
		},
		EventWithdraw: {
			To:        model.StatusCancelled,
			Effects:   []Effect{EffectReleaseSlot, EffectRemoveRecord},
			By:        PartyRequester,
			EventType: outbox.EventAppointmentCancelled,
		},
	},
	model.StatusApproved: {
		EventComplete: {To: model.StatusCompleted, By: PartyProvider, EventType: outbox.EventAppointmentCompleted},
		EventCancel: {
			To:        model.StatusCancelled,
			Effects:   []Effect{EffectReleaseSlot},
			By:        PartyRequester | PartyProvider | PartyAdmin,
			EventType: outbox.EventAppointmentCancelled,
		},
	},
}

// Next looks up the transition for event from the given status.
func Next(from model.Status, ev Event) (Transition, bool) {
	t, ok := transitions[from][ev]
	return t, ok
}

func (t Transition) Releases() bool { return t.has(EffectReleaseSlot) }

func (t Transition) Removes() bool { return t.has(EffectRemoveRecord) }

func (t Transition) has(e Effect) bool {
	for _, x := range t.Effects {
		if x == e {
			return true
		}
	}
	return false
}

func (t Transition) Allows(p Party) bool {
	return t.By&p != 0
}

// PartyOf reports which side of the appointment the actor is on.
func PartyOf(a model.Appointment, actor model.Actor) Party {
	var p Party
	if actor.ID != "" && actor.ID == a.RequesterID {
		p |= PartyRequester
	}
	if actor.ID != "" && actor.ID == a.ProviderID {
		p |= PartyProvider
	}
	if actor.IsAdmin() {
		p |= PartyAdmin
	}
	return p
}
