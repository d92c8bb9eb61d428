// Package slots owns provider time slots and the atomic reserve/release
// operations the booking flow depends on.
package slots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/storage"
)

type Registry struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRegistry(store storage.Store, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger, now: time.Now}
}

type SlotInput struct {
	Day   string
	Start string
	End   string
}

// SlotPatch carries optional replacements for a slot's window.
type SlotPatch struct {
	Day   *string
	Start *string
	End   *string
}

func (r *Registry) Create(ctx context.Context, providerID string, in SlotInput) (model.Slot, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return model.Slot{}, apperr.Invalid("provider is required")
	}
	day, start, end, err := validateWindow(in.Day, in.Start, in.End)
	if err != nil {
		return model.Slot{}, err
	}

	now := r.now().UTC()
	slot := model.Slot{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		Day:        day,
		StartTime:  start,
		EndTime:    end,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = r.store.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertSlot(ctx, slot)
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return model.Slot{}, apperr.ErrDuplicateSlot
	}
	if err != nil {
		return model.Slot{}, fmt.Errorf("insert slot: %w", err)
	}
	r.logger.Info("slot created", "slot_id", slot.ID, "provider_id", providerID, "day", day, "start", start, "end", end)
	return slot, nil
}

func (r *Registry) Update(ctx context.Context, providerID, slotID string, patch SlotPatch) (model.Slot, error) {
	if !model.ValidID(slotID) {
		return model.Slot{}, apperr.ErrSlotNotFound
	}
	var updated model.Slot
	err := r.store.InTx(ctx, func(tx storage.Tx) error {
		cur, err := tx.GetSlot(ctx, slotID)
		if storage.IsNotFound(err) || (err == nil && cur.ProviderID != providerID) {
			return apperr.ErrSlotNotFound
		}
		if err != nil {
			return err
		}
		if cur.Reserved {
			return apperr.ErrSlotBooked
		}

		day, start, end := string(cur.Day), cur.StartTime, cur.EndTime
		if patch.Day != nil {
			day = *patch.Day
		}
		if patch.Start != nil {
			start = *patch.Start
		}
		if patch.End != nil {
			end = *patch.End
		}
		d, s, e, err := validateWindow(day, start, end)
		if err != nil {
			return err
		}

		next := cur
		next.Day, next.StartTime, next.EndTime, next.UpdatedAt = d, s, e, r.now().UTC()
		out, ok, err := tx.UpdateSlotTimes(ctx, next)
		if errors.Is(err, storage.ErrDuplicate) {
			return apperr.ErrDuplicateSlot
		}
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrSlotBooked
		}
		updated = out
		return nil
	})
	if err != nil {
		return model.Slot{}, wrapStorage("update slot", err)
	}
	return updated, nil
}

// List returns every slot of the provider, reserved or not.
func (r *Registry) List(ctx context.Context, providerID string, day string) ([]model.Slot, error) {
	return r.list(ctx, providerID, day, false)
}

// ListAvailable returns the provider's unreserved slots, optionally for one day.
func (r *Registry) ListAvailable(ctx context.Context, providerID string, day string) ([]model.Slot, error) {
	return r.list(ctx, providerID, day, true)
}

func (r *Registry) list(ctx context.Context, providerID, rawDay string, availableOnly bool) ([]model.Slot, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, apperr.Invalid("provider_id is required")
	}
	var day model.Day
	if strings.TrimSpace(rawDay) != "" {
		d, ok := model.ParseDay(rawDay)
		if !ok {
			return nil, apperr.Invalid("unknown day")
		}
		day = d
	}
	out, err := r.store.ListSlots(ctx, storage.SlotFilter{ProviderID: providerID, Day: day, AvailableOnly: availableOnly})
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return out, nil
}

func (r *Registry) Reserve(ctx context.Context, slotID, expectedProvider string) (model.Slot, error) {
	var slot model.Slot
	err := r.store.InTx(ctx, func(tx storage.Tx) error {
		s, err := r.ReserveTx(ctx, tx, slotID, expectedProvider)
		slot = s
		return err
	})
	if err != nil {
		return model.Slot{}, wrapStorage("reserve slot", err)
	}
	return slot, nil
}

// ReserveTx flips reserved in one conditional update. When nothing matched
// the slot is re-read only to classify the failure.
func (r *Registry) ReserveTx(ctx context.Context, tx storage.Tx, slotID, expectedProvider string) (model.Slot, error) {
	if !model.ValidID(slotID) {
		return model.Slot{}, apperr.ErrSlotNotFound
	}
	slot, ok, err := tx.ReserveSlot(ctx, slotID, expectedProvider, r.now().UTC())
	if err != nil {
		return model.Slot{}, err
	}
	if ok {
		return slot, nil
	}

	cur, err := tx.GetSlot(ctx, slotID)
	switch {
	case storage.IsNotFound(err):
		return model.Slot{}, apperr.ErrSlotNotFound
	case err != nil:
		return model.Slot{}, err
	case cur.ProviderID != expectedProvider:
		return model.Slot{}, apperr.ErrProviderMismatch
	default:
		return model.Slot{}, apperr.ErrAlreadyReserved
	}
}

// Release is idempotent; only a missing slot is an error.
func (r *Registry) Release(ctx context.Context, slotID string) error {
	err := r.store.InTx(ctx, func(tx storage.Tx) error {
		return r.ReleaseTx(ctx, tx, slotID)
	})
	return wrapStorage("release slot", err)
}

func (r *Registry) ReleaseTx(ctx context.Context, tx storage.Tx, slotID string) error {
	if !model.ValidID(slotID) {
		return apperr.ErrSlotNotFound
	}
	ok, err := tx.ReleaseSlot(ctx, slotID, r.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrSlotNotFound
	}
	return nil
}

func (r *Registry) Delete(ctx context.Context, providerID, slotID string) error {
	if !model.ValidID(slotID) {
		return apperr.ErrSlotNotFound
	}
	err := r.store.InTx(ctx, func(tx storage.Tx) error {
		ok, err := tx.DeleteSlot(ctx, slotID, providerID)
		if err != nil || ok {
			return err
		}
		cur, err := tx.GetSlot(ctx, slotID)
		switch {
		case storage.IsNotFound(err):
			return apperr.ErrSlotNotFound
		case err != nil:
			return err
		case cur.ProviderID != providerID:
			return apperr.ErrSlotNotFound
		default:
			return apperr.ErrSlotBooked
		}
	})
	if err != nil {
		return wrapStorage("delete slot", err)
	}
	r.logger.Info("slot deleted", "slot_id", slotID, "provider_id", providerID)
	return nil
}

func validateWindow(rawDay, rawStart, rawEnd string) (model.Day, string, string, error) {
	day, ok := model.ParseDay(rawDay)
	if !ok {
		return "", "", "", apperr.Invalid("day must be a weekday name")
	}
	start, ok := model.ParseClock(rawStart)
	if !ok {
		return "", "", "", apperr.Invalid("start_time must be HH:MM")
	}
	end, ok := model.ParseClock(rawEnd)
	if !ok {
		return "", "", "", apperr.Invalid("end_time must be HH:MM")
	}
	if start >= end {
		return "", "", "", apperr.Invalid("start_time must be before end_time")
	}
	return day, start, end, nil
}

// wrapStorage leaves typed failures untouched and annotates everything else.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
