// ABOUTME: Matrix bot that relays room messages through a relay session
// ABOUTME: Replies with markdown plus rendered HTML, threading replies when asked in a thread

package matrixbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/relay"
	"github.com/2389/coven-relay/internal/render"
)

// typingTimeout is how long the typing indicator shows.
const typingTimeout = 30 * time.Second

// networkTimeout bounds Matrix API calls.
const networkTimeout = 10 * time.Second

// Messenger is the subset of the Matrix client API the bot uses.
type Messenger interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
}

// Bot connects Matrix rooms to the relay.
type Bot struct {
	cfg       config.MatrixConfig
	client    *mautrix.Client
	messenger Messenger
	session   *relay.Session
	seen      *dedupe.Cache
	logger    *slog.Logger
	now       func() time.Time

	// thread keys with a question in flight
	processing sync.Map
	wg         sync.WaitGroup
}

// New creates a bot logged in with the configured access token.
func New(cfg config.MatrixConfig, session *relay.Session, logger *slog.Logger) (*Bot, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	b := newBot(cfg, client, session, logger)
	b.client = client
	return b, nil
}

func newBot(cfg config.MatrixConfig, messenger Messenger, session *relay.Session, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		cfg:       cfg,
		messenger: messenger,
		session:   session,
		seen:      dedupe.New(time.Hour, 4096),
		logger:    logger.With("component", "matrixbot"),
		now:       time.Now,
	}
}

// Run syncs with the homeserver until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bot",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.cfg.UserID,
	)

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	// the first sync replays recent room history; only answer what arrives after it
	syncer.OnSync(b.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		b.handleMessageEvent(ctx, evt)
	})

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bot")
		b.client.StopSync()
		b.wg.Wait()
		return nil
	case err := <-syncErr:
		b.wg.Wait()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent filters incoming room messages and starts a round trip.
func (b *Bot) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	body, ok := b.question(content.Body)
	if !ok {
		return
	}
	// sync can redeliver after a reconnect
	if b.seen.Seen(evt.ID.String()) {
		return
	}

	threadRoot := content.RelatesTo.GetThreadParent()
	b.logger.Info("received message",
		"room", roomID,
		"sender", evt.Sender.String(),
		"thread", threadRoot.String(),
		"content", truncate(body, 50),
	)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processMessage(ctx, evt.RoomID, evt.ID, threadRoot, body)
	}()
}

// question strips the command prefix, reporting false when the message is
// not addressed to the bot.
func (b *Bot) question(body string) (string, bool) {
	if b.cfg.CommandPrefix != "" {
		if !strings.HasPrefix(body, b.cfg.CommandPrefix) {
			return "", false
		}
		body = strings.TrimPrefix(body, b.cfg.CommandPrefix)
	}
	body = strings.TrimSpace(body)
	return body, body != ""
}

// threadKey maps a room, or a thread inside it, to a relay thread.
func threadKey(roomID id.RoomID, threadRoot id.EventID) string {
	if threadRoot == "" {
		return "matrix:" + roomID.String()
	}
	return "matrix:" + roomID.String() + ":" + threadRoot.String()
}

func (b *Bot) processMessage(ctx context.Context, roomID id.RoomID, eventID, threadRoot id.EventID, question string) {
	key := threadKey(roomID, threadRoot)
	if _, loaded := b.processing.LoadOrStore(key, true); loaded {
		b.logger.Debug("already processing a question in this thread, dropping", "thread", key)
		b.send(roomID, eventID, threadRoot, notice("⏳ Still working on the previous question..."))
		return
	}
	defer b.processing.Delete(key)

	if b.cfg.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	start := b.now()
	res := b.session.Run(ctx, relay.Request{
		Question: question,
		ThreadID: key,
		Progress: func(msg string) {
			b.send(roomID, eventID, threadRoot, notice(render.ProgressLine(msg)))
		},
	})

	switch {
	case res.Failed():
		b.logger.Error("agent request failed", "thread", key, "error", res.Err)
		b.send(roomID, eventID, threadRoot, b.formatted("❌ "+res.Answer))
	case res.Empty():
		b.logger.Warn("empty response from agent", "thread", key)
		b.send(roomID, eventID, threadRoot, b.formatted(render.NoResponse))
	default:
		md := render.Markdown(res, b.now().Sub(start))
		b.logger.Info("sending response", "thread", key, "length", len(md))
		b.send(roomID, eventID, threadRoot, b.formatted(md))
		if res.FirstExchange {
			b.send(roomID, eventID, threadRoot, notice(render.FollowUpTip))
		}
	}
}

// formatted builds a text message with an HTML rendering of md. Plain
// text is sent when rendering fails.
func (b *Bot) formatted(md string) *event.MessageEventContent {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: md}
	html, err := render.HTML(md)
	if err != nil {
		b.logger.Warn("rendering html failed", "error", err)
		return content
	}
	content.Format = event.FormatHTML
	content.FormattedBody = html
	return content
}

func notice(text string) *event.MessageEventContent {
	return &event.MessageEventContent{MsgType: event.MsgNotice, Body: text}
}

// send posts content to the room, inside the thread when there is one.
func (b *Bot) send(roomID id.RoomID, replyTo, threadRoot id.EventID, content *event.MessageEventContent) {
	if threadRoot != "" {
		content.RelatesTo = (&event.RelatesTo{}).SetThread(threadRoot, replyTo)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*networkTimeout)
	defer cancel()
	if _, err := b.messenger.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}

func (b *Bot) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.messenger.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

func (b *Bot) isRoomAllowed(roomID string) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range b.cfg.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// Wait blocks until in-flight questions finish.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// truncate shortens s to maxLen runes for log lines.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
