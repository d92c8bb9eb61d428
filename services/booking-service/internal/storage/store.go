// Package storage defines the persistence contract for slots, appointments,
// messages and outbox rows. The Postgres implementation lives here; memstore
// provides an in-process implementation with the same atomicity guarantees.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/outbox"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate")
)

type SlotFilter struct {
	ProviderID    string
	Day           model.Day
	AvailableOnly bool
}

type AppointmentFilter struct {
	RequesterID string
	ProviderID  string
	// Participants restricts to appointments between exactly these two users.
	Participants [2]string
	Status       model.Status
	Limit        int
}

// Reader is the read side shared by the store and open transactions.
type Reader interface {
	GetSlot(ctx context.Context, id string) (model.Slot, error)
	ListSlots(ctx context.Context, f SlotFilter) ([]model.Slot, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error)
	CountAppointmentsByStatus(ctx context.Context, providerID string) (map[model.Status]int, error)
	ListMessages(ctx context.Context, appointmentID string) ([]model.Message, error)
}

// Tx is a unit of work. Every conditional write reports whether it matched
// instead of failing, so callers decide which typed failure to surface.
type Tx interface {
	Reader

	InsertSlot(ctx context.Context, s model.Slot) error
	// UpdateSlotTimes rewrites day/start/end only while the slot is unreserved.
	UpdateSlotTimes(ctx context.Context, s model.Slot) (model.Slot, bool, error)
	// DeleteSlot removes the slot only while it is unreserved and owned by providerID.
	DeleteSlot(ctx context.Context, id, providerID string) (bool, error)
	// ReserveSlot flips reserved false->true for a slot of providerID in a single conditional update.
	ReserveSlot(ctx context.Context, id, providerID string, at time.Time) (model.Slot, bool, error)
	// ReleaseSlot sets reserved=false unconditionally; false means the slot does not exist.
	ReleaseSlot(ctx context.Context, id string, at time.Time) (bool, error)

	InsertAppointment(ctx context.Context, a model.Appointment) error
	// LockAppointment reads the row and holds it until the unit of work ends.
	LockAppointment(ctx context.Context, id string) (model.Appointment, error)
	// TransitionAppointment writes the new status only if the current status equals from.
	TransitionAppointment(ctx context.Context, id string, from, to model.Status, actorID string, at time.Time) (model.Appointment, bool, error)
	DeleteAppointment(ctx context.Context, id string, from model.Status) (bool, error)

	InsertMessage(ctx context.Context, m model.Message) error
	MarkMessagesSeen(ctx context.Context, appointmentID, readerID string, at time.Time) ([]model.Message, error)

	InsertOutbox(ctx context.Context, evt outbox.Event) error
}

type Store interface {
	Reader
	outbox.Store
	// InTx runs fn in a unit of work, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
