// ABOUTME: Package slackbot relays Slack conversations to the hosted agent
// ABOUTME: Socket Mode events, slash commands and threaded replies

// Package slackbot is the Slack surface of the relay.
//
// The bot connects over Socket Mode, so it needs an app-level token
// (xapp-) as well as the bot token. It answers:
//
//   - direct messages
//   - messages that mention it
//   - replies in threads it already holds history for
//
// Each Slack thread maps to one relay thread, so follow-ups carry context.
// Progress updates from the agent are posted into the thread as they pass
// the session's throttle, and the rendered answer follows.
//
// Slash commands:
//
//	/ask-acme <question>   posts the question publicly and answers in a thread
//	/contracts <question>  one-shot brief from the contracts agent
//	/perf <question>       one-shot brief from the performance agent
package slackbot
