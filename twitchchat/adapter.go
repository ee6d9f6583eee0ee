// Package twitchchat adapts the gempir IRC client to the capture.Source
// contract: observed messages flow into a bounded channel consumed by the
// capture session, and stream-offline notices surface as end signals.
//
// End-of-stream detection is best-effort. Twitch exposes no protocol-level
// "stream ended" message over IRC, so the adapter matches NOTICE msg-ids and
// offline-sounding notice text. False negatives are possible: a stream-end
// session whose upstream never emits a recognizable signal runs until process
// shutdown. That is a documented limitation, not something this adapter
// papers over with a hidden timeout.
package twitchchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chat-tender/backend/capture"
)

// recordsBacklog sizes the record channel. The session loop is the only
// consumer and drains fast; if it ever falls behind, the IRC read loop blocks
// rather than dropping messages.
const recordsBacklog = 1024

// Adapter connects to Twitch IRC for a single channel.
type Adapter struct {
	channel         string
	username        string
	includeUserInfo bool
	client          *twitch.Client
	log             *slog.Logger

	records chan capture.ChatRecord
	ends    chan capture.EndSignal

	connected chan struct{}
	connOnce  sync.Once
	connErr   error

	done     chan struct{}
	downOnce sync.Once
}

// New builds an adapter for channel using the given bot identity.
// oauthToken is the user OAuth token for IRC ("oauth:..." prefix optional;
// gempir accepts both).
func New(channel, username, oauthToken string, includeUserInfo bool) *Adapter {
	channel = capture.NormalizeChannel(channel)
	a := &Adapter{
		channel:         channel,
		username:        strings.ToLower(strings.TrimSpace(username)),
		includeUserInfo: includeUserInfo,
		client:          twitch.NewClient(username, oauthToken),
		log:             slog.Default().With(slog.String("channel", channel)),
		records:         make(chan capture.ChatRecord, recordsBacklog),
		ends:            make(chan capture.EndSignal, 1),
		connected:       make(chan struct{}),
		done:            make(chan struct{}),
	}
	a.client.OnPrivateMessage(a.onPrivateMessage)
	a.client.OnNoticeMessage(a.onNotice)
	a.client.OnUserNoticeMessage(a.onUserNotice)
	a.client.OnConnect(a.onConnected)
	return a
}

// Records implements capture.Source.
func (a *Adapter) Records() <-chan capture.ChatRecord { return a.records }

// EndSignals implements capture.Source.
func (a *Adapter) EndSignals() <-chan capture.EndSignal { return a.ends }

// Connect joins the channel and blocks until the IRC handshake completes,
// the client exits, or ctx expires. The underlying client keeps running on
// its own goroutine until Disconnect, reconnecting on its own when the
// server drops the connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.client.Join(a.channel)

	errc := make(chan error, 1)
	go func() {
		// Connect blocks for the lifetime of the IRC session, across
		// automatic reconnects.
		errc <- a.client.Connect()
	}()
	go a.watch(errc)

	select {
	case <-a.connected:
		a.log.Debug("twitch irc connected", slog.String("as", a.username))
		return nil
	case <-a.done:
		err := a.connErr
		if err == nil {
			err = errors.New("irc client exited before handshake")
		}
		return capture.E(capture.KindConnect, "twitch irc connect", err)
	case <-ctx.Done():
		_ = a.client.Disconnect()
		return capture.E(capture.KindConnect, "twitch irc connect", ctx.Err())
	}
}

// onConnected signals handshake completion. The client fires OnConnect again
// after every automatic reconnect, so the close must be one-shot.
func (a *Adapter) onConnected() {
	a.connOnce.Do(func() { close(a.connected) })
}

// watch waits for the client goroutine to exit and closes the record feed so
// the session notices a dead connection. Started on every Connect attempt,
// whether or not the handshake completes, so teardown is uniform.
func (a *Adapter) watch(errc <-chan error) {
	err := <-errc
	if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
		a.log.Warn("twitch irc connection closed", slog.Any("err", err))
	}
	a.downOnce.Do(func() {
		a.connErr = err
		close(a.done)
		close(a.records)
	})
}

// Disconnect tears down the IRC connection. Safe to call when Connect failed
// partway, and safe to call more than once.
func (a *Adapter) Disconnect() error {
	err := a.client.Disconnect()
	if errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		return nil
	}
	return err
}

func (a *Adapter) onPrivateMessage(msg twitch.PrivateMessage) {
	// Self-echo: the capturing identity's own messages never reach the core.
	if strings.EqualFold(msg.User.Name, a.username) {
		return
	}
	rec := capture.ChatRecord{
		Timestamp:   time.Now().UTC(),
		Channel:     capture.NormalizeChannel(msg.Channel),
		Username:    msg.User.Name,
		DisplayName: msg.User.DisplayName,
		Message:     msg.Message,
	}
	if rec.DisplayName == "" {
		rec.DisplayName = rec.Username
	}
	if a.includeUserInfo {
		rec.User = &capture.UserInfo{
			UserID: msg.User.ID,
			Color:  msg.User.Color,
			Badges: msg.User.Badges,
			Emotes: emotePositions(msg.Emotes),
		}
	}
	select {
	case a.records <- rec:
	case <-a.done:
	}
}

func (a *Adapter) onNotice(msg twitch.NoticeMessage) {
	a.maybeSignalEnd(msg.MsgID, msg.Message)
}

func (a *Adapter) onUserNotice(msg twitch.UserNoticeMessage) {
	a.maybeSignalEnd(msg.MsgID, msg.SystemMsg)
}

func (a *Adapter) maybeSignalEnd(msgID, text string) {
	reason, ok := endSignalReason(msgID, text)
	if !ok {
		return
	}
	a.log.Debug("offline notice", slog.String("msg_id", msgID), slog.String("text", text))
	select {
	case a.ends <- capture.EndSignal{Reason: reason}:
	default:
		// A signal is already pending; one is enough.
	}
}

// emotePositions flattens gempir emote placements into the capture model:
// emote name -> "start-end" character ranges.
func emotePositions(emotes []*twitch.Emote) map[string][]string {
	if len(emotes) == 0 {
		return nil
	}
	out := make(map[string][]string, len(emotes))
	for _, e := range emotes {
		if e == nil {
			continue
		}
		if len(e.Positions) == 0 {
			out[e.Name] = nil
			continue
		}
		for _, p := range e.Positions {
			out[e.Name] = append(out[e.Name], fmt.Sprintf("%d-%d", p.Start, p.End))
		}
	}
	return out
}
