// ABOUTME: Relay session driving one round trip from question to stored history
// ABOUTME: Converts every failure into a renderable Result and never panics outward

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-relay/internal/agentapi"
	"github.com/2389/coven-relay/internal/history"
	"github.com/2389/coven-relay/internal/stream"
)

const (
	DefaultTimeout = 60 * time.Second

	historyWriteTimeout = 5 * time.Second
)

var (
	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question is empty")
)

// AgentError is an error event the agent sent inside an otherwise
// successful stream.
type AgentError struct {
	Message string
}

func (e *AgentError) Error() string {
	return "agent error: " + e.Message
}

// Opener starts an agent run and returns its event stream.
type Opener interface {
	Open(ctx context.Context, agentName string, messages []history.Message) (io.ReadCloser, error)
}

// Config tunes a Session.
type Config struct {
	Timeout          time.Duration
	ProgressInterval time.Duration
	Milestones       []string
	SerializeThreads bool

	// Now is the clock used for throttling and timing. Nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Timeout:          DefaultTimeout,
		ProgressInterval: DefaultProgressInterval,
		Milestones:       DefaultMilestones,
		SerializeThreads: true,
	}
}

// Request is one question.
type Request struct {
	Question string
	Agent    string
	ThreadID string

	// Progress receives throttled status messages. Optional.
	Progress func(message string)

	// Ephemeral skips history entirely: nothing is loaded or stored.
	Ephemeral bool
}

// Session runs round trips. It is safe for concurrent use.
type Session struct {
	opener  Opener
	catalog *agentapi.Catalog
	store   history.Store
	cfg     Config
	locks   *threadLocks
	logger  *slog.Logger
}

// NewSession wires a session. A nil catalog means the default catalog and a
// nil store means a fresh in-memory store.
func NewSession(opener Opener, catalog *agentapi.Catalog, store history.Store, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = agentapi.DefaultCatalog()
	}
	if store == nil {
		store = history.NewMemoryStore(history.DefaultMaxMessages)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		opener:  opener,
		catalog: catalog,
		store:   store,
		cfg:     cfg,
		locks:   newThreadLocks(),
		logger:  logger.With("component", "relay"),
	}
}

// Catalog returns the agent catalog.
func (s *Session) Catalog() *agentapi.Catalog {
	return s.catalog
}

// Store returns the history store.
func (s *Session) Store() history.Store {
	return s.store
}

// Run executes one round trip. It always returns a non-nil Result; on
// failure Result.Err is set and Answer holds a readable message.
func (s *Session) Run(ctx context.Context, req Request) *Result {
	start := s.cfg.Now()
	res := &Result{State: StateIdle, ThreadID: req.ThreadID}
	if res.ThreadID == "" {
		res.ThreadID = uuid.NewString()
	}
	res.Agent, res.Selector = s.catalog.Resolve(req.Agent)
	if req.Agent != "" && !s.catalog.Known(req.Agent) {
		s.logger.Warn("unknown agent selector, using primary", "selector", req.Agent, "primary", res.Selector)
	}

	logger := s.logger.With("thread_id", res.ThreadID, "agent", res.Agent)
	defer func() {
		res.Elapsed = s.cfg.Now().Sub(start)
	}()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return s.fail(logger, res, ErrEmptyQuestion)
	}

	if s.cfg.SerializeThreads && !req.Ephemeral {
		unlock, err := s.locks.Lock(ctx, res.ThreadID)
		if err != nil {
			return s.fail(logger, res, fmt.Errorf("waiting for thread: %w", err))
		}
		defer unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var prior history.History
	if !req.Ephemeral {
		prior = s.loadHistory(ctx, logger, res.ThreadID)
	}
	res.FirstExchange = len(prior) == 0

	userMsg := history.NewTextMessage(history.RoleUser, question)
	messages := make([]history.Message, 0, len(prior)+1)
	messages = append(messages, prior...)
	messages = append(messages, userMsg)

	res.State = StateConnecting
	logger.Info("starting round trip", "history", len(prior), "ephemeral", req.Ephemeral)

	body, err := s.opener.Open(ctx, res.Agent, messages)
	if err != nil {
		return s.fail(logger, res, s.describe(ctx, err))
	}
	defer body.Close()

	res.State = StateStreaming
	acc := newAccumulator(res)
	throttle := NewProgressThrottle(s.cfg.ProgressInterval, s.cfg.Milestones, s.cfg.Now)
	acc.OnProgress = func(st stream.Status) {
		if req.Progress == nil || st.Message == "" {
			return
		}
		if throttle.Allow(st.Message) {
			req.Progress(st.Message)
		}
	}

	dec := stream.NewDecoder(body)
	dec.OnDiscard = func(de *stream.DecodeError) {
		logger.Debug("discarding stream line", "line", de.Line, "event", de.EventType, "error", de.Err)
	}

	for {
		ev, err := dec.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Discarded = dec.Discarded()
			return s.fail(logger, res, s.describe(ctx, err))
		}
		acc.Apply(ev)
	}
	res.Discarded = dec.Discarded()

	if res.AgentError != "" && res.Answer == "" {
		return s.fail(logger, res, &AgentError{Message: res.AgentError})
	}

	res.State = StateComplete
	if !req.Ephemeral {
		s.saveExchange(ctx, logger, res.ThreadID, userMsg, res.Answer)
	}

	logger.Info("round trip complete",
		"events", res.Events,
		"discarded", res.Discarded,
		"answer_len", len(res.Answer),
		"tools", len(res.ToolsUsed),
		"has_sql", res.GeneratedQuery != "",
		"charts", len(res.Charts),
	)
	return res
}

// Ask is the minimal facade: one round trip with no history, returning
// only the answer text.
func (s *Session) Ask(ctx context.Context, question, agent string) string {
	res := s.Run(ctx, Request{Question: question, Agent: agent, Ephemeral: true})
	return res.Answer
}

func (s *Session) loadHistory(ctx context.Context, logger *slog.Logger, threadID string) history.History {
	h, err := s.store.Get(ctx, threadID)
	if err != nil {
		logger.Warn("loading history failed, continuing without it", "error", err)
		return history.History{}
	}
	return h
}

func (s *Session) saveExchange(ctx context.Context, logger *slog.Logger, threadID string, user history.Message, answer string) {
	// the round-trip deadline may be nearly spent; the write gets its own
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()

	assistant := history.NewTextMessage(history.RoleAssistant, answer)
	if err := s.store.Append(ctx, threadID, user, assistant); err != nil {
		logger.Error("saving history failed", "error", err)
	}
}

// describe replaces transport errors caused by the round-trip deadline
// with one that says so.
func (s *Session) describe(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("agent did not finish within %s: %w", s.cfg.Timeout, context.DeadlineExceeded)
	}
	return err
}

func (s *Session) fail(logger *slog.Logger, res *Result, err error) *Result {
	res.State = StateFailed
	res.Err = err
	res.Answer = fmt.Sprintf("Sorry, I encountered an error: %v", err)
	logger.Error("round trip failed", "error", err)
	return res
}
