package gamewriter

import (
	"testing"
	"time"
)

func TestSanitizePlayerName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  Conqueror  ", "Conqueror"},
		{"Conqu\x01eror", "Conqueror"},
		{"日本語プレイヤー", "日本語プレイヤー"},
		{"", ""},
		{"\t\t", ""},
	}
	for _, c := range cases {
		if got := sanitizePlayerName(c.in); got != c.want {
			t.Errorf("sanitizePlayerName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNameHashIsStableMD5(t *testing.T) {
	h1 := nameHash("<NULL>")
	h2 := nameHash("<NULL>")
	if h1 != h2 {
		t.Fatalf("nameHash not stable: %q vs %q", h1, h2)
	}
	if len(h1) != 32 {
		t.Fatalf("expected 32-char hex digest, got %q", h1)
	}
}

func TestDeriveGameTimeClampsToFloor(t *testing.T) {
	tooOld := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	got := deriveGameTime(nil, &tooOld)
	floor := time.Date(1999, 3, 30, 0, 0, 0, 0, time.UTC)
	if got.Before(floor) {
		t.Fatalf("expected clamp to now, got %v which is still before floor %v", got, floor)
	}
}

func TestDeriveGameTimePrefersEarlierPlayedAt(t *testing.T) {
	unix := time.Now().Unix()
	earlier := time.Now().Add(-48 * time.Hour)
	got := deriveGameTime(&unix, &earlier)
	if !got.Equal(earlier) {
		t.Fatalf("expected the earlier playedAt to win, got %v want %v", got, earlier)
	}
}

func TestDeriveGameTimeFromUnixWhenNoPlayedAt(t *testing.T) {
	unix := time.Date(2010, 5, 5, 0, 0, 0, 0, time.UTC).Unix()
	got := deriveGameTime(&unix, nil)
	want := time.Unix(unix, 0)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
