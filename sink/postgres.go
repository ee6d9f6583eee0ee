package sink

import (
	"context"
	"database/sql"

	"github.com/onnwee/chat-tender/backend/capture"
	dbpkg "github.com/onnwee/chat-tender/backend/db"
)

// Postgres appends records to the chat_messages table, keyed by session id.
// The destination descriptor is the DSN; EnsureDestination runs the
// idempotent migrations so a fresh database works out of the box.
type Postgres struct {
	dsn             string
	sessionID       string
	channel         string
	includeUserInfo bool

	db *sql.DB
}

// NewPostgres builds a Postgres writer for cfg.Destination.
func NewPostgres(cfg Config) *Postgres {
	return &Postgres{
		dsn:             cfg.Destination,
		sessionID:       cfg.SessionID,
		channel:         cfg.Channel,
		includeUserInfo: cfg.IncludeUserInfo,
	}
}

// EnsureDestination connects and migrates the schema.
func (p *Postgres) EnsureDestination(ctx context.Context) error {
	db, err := sql.Open("pgx", p.dsn)
	if err != nil {
		return capture.E(capture.KindIO, "open postgres", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return capture.E(capture.KindIO, "ping postgres", err)
	}
	if err := dbpkg.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return capture.E(capture.KindIO, "migrate schema", err)
	}
	p.db = db
	return nil
}

// AppendRows inserts rows in order inside one transaction, so a flush either
// lands whole or not at all and the retry cannot half-duplicate.
func (p *Postgres) AppendRows(ctx context.Context, rows []capture.ChatRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return capture.E(capture.KindSinkWrite, "begin tx", err)
	}
	const q = `INSERT INTO chat_messages (session_id, channel, username, display_name, message, abs_timestamp, user_id, color, badges, emotes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	for _, r := range rows {
		var userID, color, badges, emotes string
		if p.includeUserInfo && r.User != nil {
			userID = r.User.UserID
			color = r.User.Color
			badges = capture.FlattenBadges(r.User.Badges)
			emotes = capture.FlattenEmotes(r.User.Emotes)
		}
		if _, err := tx.ExecContext(ctx, q,
			p.sessionID, r.Channel, r.Username, r.DisplayName, r.Message,
			r.Timestamp, userID, color, badges, emotes); err != nil {
			_ = tx.Rollback()
			return capture.E(capture.KindSinkWrite, "insert row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return capture.E(capture.KindSinkWrite, "commit", err)
	}
	return nil
}

// Close releases the connection. Safe to call twice.
func (p *Postgres) Close(ctx context.Context) error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	if err != nil {
		return capture.E(capture.KindIO, "close postgres", err)
	}
	return nil
}
