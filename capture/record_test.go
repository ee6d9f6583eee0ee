package capture

import (
	"testing"
	"time"
)

func TestNormalizeChannel(t *testing.T) {
	cases := []struct{ in, want string }{
		{"#somechannel", "somechannel"},
		{"somechannel", "somechannel"},
		{"#SomeChannel", "somechannel"},
		{"  #padded ", "padded"},
		{"", ""},
		{"#", ""},
	}
	for _, c := range cases {
		if got := NormalizeChannel(c.in); got != c.want {
			t.Errorf("NormalizeChannel(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestColumns(t *testing.T) {
	base := Columns(false)
	if len(base) != 5 || base[0] != "timestamp" || base[4] != "message" {
		t.Errorf("Columns(false) = %v", base)
	}
	full := Columns(true)
	if len(full) != 9 || full[5] != "userId" || full[8] != "emotes" {
		t.Errorf("Columns(true) = %v", full)
	}
}

func TestRowAlignsWithColumns(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := ChatRecord{
		Timestamp:   ts,
		Channel:     "somechannel",
		Username:    "viewer1",
		DisplayName: "Viewer1",
		Message:     "hello, world",
		User: &UserInfo{
			UserID: "12345",
			Color:  "#FF0000",
			Badges: map[string]int{"subscriber": 12, "moderator": 1},
			Emotes: map[string][]string{"Kappa": {"0-4", "12-16"}},
		},
	}

	row := r.Row(true)
	if len(row) != len(Columns(true)) {
		t.Fatalf("row has %d cells, header has %d", len(row), len(Columns(true)))
	}
	if row[0] != "2025-06-01T12:00:00Z" {
		t.Errorf("timestamp cell = %q", row[0])
	}
	if row[7] != "moderator/1,subscriber/12" {
		t.Errorf("badges cell = %q", row[7])
	}
	if row[8] != "Kappa:0-4|12-16" {
		t.Errorf("emotes cell = %q", row[8])
	}

	short := r.Row(false)
	if len(short) != 5 {
		t.Errorf("short row has %d cells, want 5", len(short))
	}
}

func TestRowWithoutUserInfoBlock(t *testing.T) {
	r := ChatRecord{Timestamp: time.Now(), Channel: "c", Username: "u", DisplayName: "u", Message: "m"}
	row := r.Row(true)
	if len(row) != 9 {
		t.Fatalf("row has %d cells, want 9", len(row))
	}
	for i := 5; i < 9; i++ {
		if row[i] != "" {
			t.Errorf("cell %d = %q, want empty", i, row[i])
		}
	}
}

func TestFlattenBadgesDeterministic(t *testing.T) {
	badges := map[string]int{"vip": 1, "subscriber": 6, "bits": 1000}
	want := "bits/1000,subscriber/6,vip/1"
	for i := 0; i < 10; i++ {
		if got := FlattenBadges(badges); got != want {
			t.Fatalf("FlattenBadges = %q, want %q", got, want)
		}
	}
	if FlattenBadges(nil) != "" {
		t.Errorf("FlattenBadges(nil) should be empty")
	}
}

func TestFlattenEmotes(t *testing.T) {
	emotes := map[string][]string{
		"PogChamp": {"6-13"},
		"Kappa":    {"0-4", "15-19"},
		"NoPos":    nil,
	}
	want := "Kappa:0-4|15-19,NoPos,PogChamp:6-13"
	if got := FlattenEmotes(emotes); got != want {
		t.Errorf("FlattenEmotes = %q, want %q", got, want)
	}
	if FlattenEmotes(nil) != "" {
		t.Errorf("FlattenEmotes(nil) should be empty")
	}
}
