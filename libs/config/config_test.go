package config

import (
	"testing"
	"time"
)

func TestIntFallbacks(t *testing.T) {
	t.Setenv("SLOTCHAT_TEST_INT", "42")
	if got := Int("SLOTCHAT_TEST_INT", 7, 1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("SLOTCHAT_TEST_INT", "0")
	if got := Int("SLOTCHAT_TEST_INT", 7, 1); got != 7 {
		t.Fatalf("expected fallback below min, got %d", got)
	}
	t.Setenv("SLOTCHAT_TEST_INT", "abc")
	if got := Int("SLOTCHAT_TEST_INT", 7, 1); got != 7 {
		t.Fatalf("expected fallback for garbage, got %d", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("SLOTCHAT_TEST_DUR", "250")
	if got := Duration("SLOTCHAT_TEST_DUR", time.Second, time.Millisecond); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
	t.Setenv("SLOTCHAT_TEST_DUR", "3m")
	if got := Duration("SLOTCHAT_TEST_DUR", time.Second, time.Millisecond); got != 3*time.Minute {
		t.Fatalf("expected 3m, got %s", got)
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("SLOTCHAT_TEST_BOOL", "Yes")
	if !Bool("SLOTCHAT_TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("SLOTCHAT_TEST_LIST", " a, ,b ,c")
	got := List("SLOTCHAT_TEST_LIST", "")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected list: %v", got)
	}
}

func TestPortValidation(t *testing.T) {
	t.Setenv("SLOTCHAT_TEST_PORT", "70000")
	if _, err := Port("SLOTCHAT_TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}
