// Package capture implements the chat capture pipeline: a session controller
// that owns one bounded run of channel capture, the in-memory record buffer it
// drains to a durable sink, and the error taxonomy shared by its
// collaborators. Sources (the Twitch IRC adapter) and sinks (CSV, XLSX,
// Google Sheets, Postgres) are consumed through small interfaces so sessions
// stay testable without a live connection.
package capture

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// UserInfo carries the optional extended sender metadata captured when
// user-info capture is enabled. Each field is independently optional; absent
// fields serialize as empty cells.
type UserInfo struct {
	UserID string
	Color  string
	// Badges maps badge name to version, e.g. {"subscriber": 12}.
	Badges map[string]int
	// Emotes maps emote name to its character position ranges within the
	// message body, e.g. {"Kappa": ["0-4", "12-16"]}.
	Emotes map[string][]string
}

// ChatRecord is one captured chat message. Records are immutable once
// created; ownership moves from the source adapter to the session buffer and
// ends when the record is durably flushed.
type ChatRecord struct {
	Timestamp   time.Time
	Channel     string
	Username    string
	DisplayName string
	Message     string
	User        *UserInfo
}

// NormalizeChannel strips a leading '#' and lowercases the channel name so
// "#SomeChannel" and "somechannel" refer to the same capture target.
func NormalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
}

// Columns returns the sink header row, with the user-info columns appended
// when enabled. All sink variants share this column set.
func Columns(includeUserInfo bool) []string {
	cols := []string{"timestamp", "channel", "username", "displayName", "message"}
	if includeUserInfo {
		cols = append(cols, "userId", "userColor", "badges", "emotes")
	}
	return cols
}

// Row renders the record as sink cell values aligned with
// Columns(includeUserInfo). Timestamps serialize as RFC3339 UTC.
func (r ChatRecord) Row(includeUserInfo bool) []string {
	row := []string{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.Channel,
		r.Username,
		r.DisplayName,
		r.Message,
	}
	if !includeUserInfo {
		return row
	}
	if r.User == nil {
		return append(row, "", "", "", "")
	}
	return append(row,
		r.User.UserID,
		r.User.Color,
		FlattenBadges(r.User.Badges),
		FlattenEmotes(r.User.Emotes),
	)
}

// FlattenBadges renders a badge set as comma-joined "name/version" pairs in
// sorted order, e.g. "moderator/1,subscriber/12". Tabular sinks have no
// native nested-structure support, so structured sub-fields flatten to text.
func FlattenBadges(badges map[string]int) string {
	if len(badges) == 0 {
		return ""
	}
	names := make([]string, 0, len(badges))
	for name := range badges {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(badges[name]))
	}
	return b.String()
}

// FlattenEmotes renders an emote placement map as comma-joined
// "name:pos1|pos2" entries in sorted order, e.g. "Kappa:0-4|12-16,PogChamp:6-13".
func FlattenEmotes(emotes map[string][]string) string {
	if len(emotes) == 0 {
		return ""
	}
	names := make([]string, 0, len(emotes))
	for name := range emotes {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		if positions := emotes[name]; len(positions) > 0 {
			b.WriteByte(':')
			b.WriteString(strings.Join(positions, "|"))
		}
	}
	return b.String()
}
