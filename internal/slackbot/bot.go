// ABOUTME: Slack Socket Mode bot that routes messages through a relay session
// ABOUTME: Dedupes redelivered events and posts progress, answers and tips into threads

package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/relay"
	"github.com/2389/coven-relay/internal/render"
)

const (
	dedupeTTL   = 10 * time.Minute
	dedupeSize  = 4096
	postTimeout = 15 * time.Second
)

// Poster is the subset of the Slack Web API the bot posts with.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Responder answers slash commands through their response URL.
type Responder interface {
	Respond(ctx context.Context, responseURL string, msg *slack.WebhookMessage) error
}

type webhookResponder struct{}

func (webhookResponder) Respond(ctx context.Context, responseURL string, msg *slack.WebhookMessage) error {
	return slack.PostWebhookContext(ctx, responseURL, msg)
}

// Config holds what the bot needs from the relay configuration.
type Config struct {
	BotToken        string
	AppToken        string
	AllowedChannels []string
}

// Bot is the Slack surface.
type Bot struct {
	api       *slack.Client
	sm        *socketmode.Client
	poster    Poster
	responder Responder
	session   *relay.Session
	seen      *dedupe.Cache
	allowed   map[string]bool
	logger    *slog.Logger
	now       func() time.Time

	botUserID string
	wg        sync.WaitGroup
}

// New builds a bot connected to Slack with cfg's tokens.
func New(cfg Config, session *relay.Session, logger *slog.Logger) (*Bot, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, errors.New("slack bot and app tokens are required")
	}
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	b := newBot(api, webhookResponder{}, session, cfg.AllowedChannels, logger)
	b.api = api
	b.sm = socketmode.New(api)
	return b, nil
}

func newBot(poster Poster, responder Responder, session *relay.Session, allowed []string, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{
		poster:    poster,
		responder: responder,
		session:   session,
		seen:      dedupe.New(dedupeTTL, dedupeSize),
		logger:    logger.With("component", "slackbot"),
		now:       time.Now,
	}
	if len(allowed) > 0 {
		b.allowed = make(map[string]bool, len(allowed))
		for _, c := range allowed {
			b.allowed[c] = true
		}
	}
	return b
}

// Run connects over Socket Mode and handles events until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	auth, err := b.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	b.botUserID = auth.UserID
	b.logger.Info("starting slack bot", "bot_user", auth.UserID, "team", auth.Team)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-b.sm.Events:
				if !ok {
					return
				}
				b.dispatch(ctx, evt)
			}
		}
	}()

	err = b.sm.RunContext(ctx)
	b.wg.Wait()
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		b.logger.Info("slack bot stopped")
		return nil
	}
	return fmt.Errorf("socket mode: %w", err)
}

func (b *Bot) dispatch(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.logger.Info("connecting to slack")
	case socketmode.EventTypeConnected:
		b.logger.Info("connected to slack")
	case socketmode.EventTypeConnectionError:
		b.logger.Warn("slack connection error", "data", evt.Data)

	case socketmode.EventTypeEventsAPI:
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if evt.Request != nil {
			b.sm.Ack(*evt.Request)
		}
		if ok {
			b.handleEventsAPI(ctx, ev)
		}

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if evt.Request != nil {
			b.sm.Ack(*evt.Request)
		}
		if ok {
			b.spawn(func() { b.handleSlash(ctx, cmd) })
		}
	}
}

// incoming is a message or mention normalized from either event type.
type incoming struct {
	Channel     string
	ChannelType string
	User        string
	BotID       string
	Text        string
	TS          string
	ThreadTS    string
}

func (b *Bot) handleEventsAPI(ctx context.Context, ev slackevents.EventsAPIEvent) {
	if ev.Type != slackevents.CallbackEvent {
		return
	}
	switch e := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if e.SubType != "" && e.SubType != "thread_broadcast" {
			return
		}
		b.handleIncoming(ctx, incoming{
			Channel: e.Channel, ChannelType: e.ChannelType, User: e.User, BotID: e.BotID,
			Text: e.Text, TS: e.TimeStamp, ThreadTS: e.ThreadTimeStamp,
		})
	case *slackevents.AppMentionEvent:
		b.handleIncoming(ctx, incoming{
			Channel: e.Channel, User: e.User, BotID: e.BotID,
			Text: e.Text, TS: e.TimeStamp, ThreadTS: e.ThreadTimeStamp,
		})
	}
}

func (b *Bot) handleIncoming(ctx context.Context, m incoming) {
	if !b.shouldRespond(ctx, m) {
		return
	}
	// message and app_mention both fire for one mention
	if b.seen.Seen(dedupe.Key(m.Channel, m.TS)) {
		b.logger.Debug("dropping duplicate event", "channel", m.Channel, "ts", m.TS)
		return
	}
	b.spawn(func() { b.answer(ctx, m) })
}

func (b *Bot) shouldRespond(ctx context.Context, m incoming) bool {
	if m.BotID != "" || m.User == "" || m.User == b.botUserID {
		return false
	}
	isDM := m.ChannelType == "im"
	if !isDM && b.allowed != nil && !b.allowed[m.Channel] {
		return false
	}
	if isDM || b.mentioned(m.Text) {
		return true
	}
	return m.ThreadTS != "" && b.session.Store().Has(ctx, threadKey(m.Channel, m.ThreadTS))
}

func (b *Bot) mentioned(text string) bool {
	return b.botUserID != "" && strings.Contains(text, "<@"+b.botUserID+">")
}

func (b *Bot) stripMention(text string) string {
	if b.botUserID != "" {
		text = strings.ReplaceAll(text, "<@"+b.botUserID+">", "")
	}
	return strings.TrimSpace(text)
}

func threadKey(channel, threadTS string) string {
	return "slack:" + channel + ":" + threadTS
}

// answer runs one round trip for a chat message and replies in its thread.
func (b *Bot) answer(ctx context.Context, m incoming) {
	threadTS := m.ThreadTS
	if threadTS == "" {
		threadTS = m.TS
	}
	question := b.stripMention(m.Text)
	logger := b.logger.With("channel", m.Channel, "thread_ts", threadTS, "user", m.User)

	if question == "" {
		b.post(ctx, m.Channel, threadTS, "Ask me a question about your data, for example: _How many customers do we have?_")
		return
	}
	logger.Info("message received", "question_len", len(question), "in_thread", m.ThreadTS != "")

	b.runAndReply(ctx, m.Channel, threadTS, question, true)
}

// runAndReply runs a threaded round trip and posts the outcome.
func (b *Bot) runAndReply(ctx context.Context, channel, threadTS, question string, withProgress bool) {
	start := b.now()
	req := relay.Request{
		Question: question,
		ThreadID: threadKey(channel, threadTS),
	}
	if withProgress {
		req.Progress = func(msg string) {
			b.post(ctx, channel, threadTS, render.ProgressLine(msg))
		}
	}

	res := b.session.Run(ctx, req)
	switch {
	case res.Failed():
		b.post(ctx, channel, threadTS, "❌ "+res.Answer)
	case res.Empty():
		b.post(ctx, channel, threadTS, render.NoResponse)
	default:
		b.post(ctx, channel, threadTS, render.Slack(res, b.now().Sub(start)))
		if res.FirstExchange {
			b.post(ctx, channel, threadTS, render.FollowUpTip)
		}
	}
}

// post sends text into a thread and returns the new message timestamp.
func (b *Bot) post(ctx context.Context, channel, threadTS, text string, extra ...slack.MsgOption) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postTimeout)
	defer cancel()

	opts := append([]slack.MsgOption{slack.MsgOptionText(text, false)}, extra...)
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := b.poster.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		b.logger.Error("posting to slack failed", "channel", channel, "error", err)
		return ""
	}
	return ts
}

func (b *Bot) spawn(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Wait blocks until in-flight replies finish.
func (b *Bot) Wait() {
	b.wg.Wait()
}
