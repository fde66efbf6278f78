// ABOUTME: Slash command handlers for the Slack surface
// ABOUTME: /ask-acme opens a public thread; /contracts and /perf reply with a brief

package slackbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/2389/coven-relay/internal/relay"
	"github.com/2389/coven-relay/internal/render"
)

// briefCommand is a one-shot slash command bound to one agent.
type briefCommand struct {
	agent   string
	pending string
}

var briefCommands = map[string]briefCommand{
	"/contracts": {agent: "contracts", pending: "📋 Analyzing contracts..."},
	"/perf":      {agent: "perf", pending: "⚡ Analyzing performance..."},
}

const (
	askCommand = "/ask-acme"

	responseEphemeral = "ephemeral"
	responseInChannel = "in_channel"
)

func (b *Bot) handleSlash(ctx context.Context, cmd slack.SlashCommand) {
	logger := b.logger.With("command", cmd.Command, "user", cmd.UserID, "channel", cmd.ChannelID)

	cmd.Text = strings.TrimSpace(cmd.Text)
	if cmd.Text == "" {
		b.respond(ctx, cmd, responseEphemeral, fmt.Sprintf("Usage: `%s <your question>`", cmd.Command))
		return
	}
	logger.Info("slash command received")

	if cmd.Command == askCommand {
		b.handleAsk(ctx, cmd)
		return
	}
	bc, ok := briefCommands[cmd.Command]
	if !ok {
		logger.Warn("unknown slash command")
		b.respond(ctx, cmd, responseEphemeral, fmt.Sprintf("Unknown command `%s`", cmd.Command))
		return
	}

	b.respond(ctx, cmd, responseEphemeral, bc.pending)
	res := b.session.Run(ctx, relay.Request{Question: cmd.Text, Agent: bc.agent, Ephemeral: true})
	switch {
	case res.Failed():
		b.respond(ctx, cmd, responseEphemeral, "❌ Error: "+failure(res))
	case res.Empty():
		b.respond(ctx, cmd, responseEphemeral, render.NoResponse)
	default:
		b.respond(ctx, cmd, responseInChannel, render.Brief(res.Answer, render.BriefLength))
	}
}

// handleAsk posts the question publicly and answers in its thread.
func (b *Bot) handleAsk(ctx context.Context, cmd slack.SlashCommand) {
	asked := fmt.Sprintf("<@%s> asked:", cmd.UserID)
	blocks := slack.MsgOptionBlocks(
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, asked, false, false), nil, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, "*"+cmd.Text+"*", false, false), nil, nil),
	)
	threadTS := b.post(ctx, cmd.ChannelID, "", asked+" "+cmd.Text, blocks)
	if threadTS == "" {
		b.respond(ctx, cmd, responseEphemeral, "❌ Error: could not post to this channel")
		return
	}

	b.post(ctx, cmd.ChannelID, threadTS, "🤔 Analyzing...")
	b.runAndReply(ctx, cmd.ChannelID, threadTS, cmd.Text, false)
}

func (b *Bot) respond(ctx context.Context, cmd slack.SlashCommand, responseType, text string) {
	if cmd.ResponseURL == "" {
		b.post(ctx, cmd.ChannelID, "", text)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postTimeout)
	defer cancel()
	msg := &slack.WebhookMessage{Text: text, ResponseType: responseType}
	if err := b.responder.Respond(ctx, cmd.ResponseURL, msg); err != nil {
		b.logger.Error("slash command response failed", "command", cmd.Command, "error", err)
	}
}

func failure(res *relay.Result) string {
	if res.Err != nil {
		return res.Err.Error()
	}
	return res.Answer
}
