package model

import "testing"

func TestParseDay(t *testing.T) {
	cases := map[string]Day{"Monday": Monday, "mon": Monday, " SUN ": Sunday, "thu": Thursday}
	for in, want := range cases {
		got, ok := ParseDay(in)
		if !ok || got != want {
			t.Fatalf("ParseDay(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseDay("someday"); ok {
		t.Fatal("expected unknown day to fail")
	}
}

func TestParseClockNormalizes(t *testing.T) {
	got, ok := ParseClock("9:05")
	if !ok || got != "09:05" {
		t.Fatalf("expected 09:05, got %q %v", got, ok)
	}
	if _, ok := ParseClock("25:00"); ok {
		t.Fatal("expected invalid hour to fail")
	}
}

func TestCounterpart(t *testing.T) {
	a := Appointment{RequesterID: "s1", ProviderID: "t1"}
	if a.Counterpart("s1") != "t1" || a.Counterpart("t1") != "s1" || a.Counterpart("x") != "" {
		t.Fatalf("unexpected counterpart mapping")
	}
}
