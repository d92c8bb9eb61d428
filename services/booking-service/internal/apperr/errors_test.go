package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("book: %w", ErrAlreadyReserved)
	if !errors.Is(err, ErrAlreadyReserved) {
		t.Fatal("expected wrapped sentinel to match")
	}
	if errors.Is(err, ErrSlotBooked) {
		t.Fatal("different codes must not match")
	}
	if KindOf(err) != KindConflict {
		t.Fatalf("expected conflict, got %q", KindOf(err))
	}
}

func TestIllegalTransitionIsConflict(t *testing.T) {
	err := IllegalTransition("completed", "cancel")
	if err.Kind != KindConflict || err.Code != CodeIllegalTransition {
		t.Fatalf("unexpected error: %+v", err)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("plain errors have no kind")
	}
}
