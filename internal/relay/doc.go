// ABOUTME: Package relay runs question/answer round trips against a hosted agent
// ABOUTME: Folds the decoded event stream into a Result and keeps thread history

// Package relay connects a chat surface to a hosted conversational agent.
//
// A Session runs one round trip per Run call. It resolves the agent
// selector through the catalog, loads the thread's history, posts history
// plus the new question, and feeds every decoded event to an Accumulator.
// When the stream ends cleanly the exchange is appended to the history
// store. When anything fails before that, the Result carries a readable
// error message in Answer and the store is left alone.
//
// Round trips on the same thread id run one at a time unless
// Config.SerializeThreads is false, in which case concurrent appends to a
// thread race and the last one wins.
//
// Progress messages from the agent pass through a ProgressThrottle so a
// chat surface sees phase changes without a line per status tick.
package relay
