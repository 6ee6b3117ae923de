package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/aiguide/internal/observability"
	"github.com/harun/aiguide/internal/tracing"
	"github.com/harun/aiguide/pkg/agent"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultCleanupTimeout bounds how long Cleanup waits for the proactive loop
const DefaultCleanupTimeout = 5 * time.Second

const (
	imageFallback   = "Sorry, I ran into a problem while processing your image. Please try again later."
	textFallback    = "Sorry, I ran into a problem while handling your request about '%s'. Please try again later."
	genericFallback = "Sorry, the system ran into a problem while handling your request. Please try again later."
)

// Runner answers one query given the conversation so far
type Runner interface {
	Run(ctx context.Context, history []agent.Message, input agent.Input) (string, error)
}

// StateConfig configures a SessionState
type StateConfig struct {
	ID         string
	Runner     Runner
	Clock      func() time.Time
	RunTimeout time.Duration
	Proactive  ProactiveConfig
	Logger     zerolog.Logger
}

// SessionState is the in-memory state of one conversation
type SessionState struct {
	id         string
	runner     Runner
	clock      func() time.Time
	runTimeout time.Duration
	proactive  ProactiveConfig
	logger     zerolog.Logger

	// queryMu serializes Process
	queryMu sync.Mutex

	mu         sync.Mutex
	createdAt  time.Time
	lastActive time.Time
	turns      []ConversationTurn
	pending    []Notification
	closed     bool

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewSessionState creates a session. The proactive loop does not run
// until Start is called.
func NewSessionState(cfg StateConfig) (*SessionState, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, errors.New("session id is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := cfg.Clock()

	return &SessionState{
		id:         cfg.ID,
		runner:     cfg.Runner,
		clock:      cfg.Clock,
		runTimeout: cfg.RunTimeout,
		proactive:  cfg.Proactive.withDefaults(),
		logger:     cfg.Logger.With().Str("session_id", cfg.ID).Logger(),
		createdAt:  now,
		lastActive: now,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// ID returns the session id
func (s *SessionState) ID() string {
	return s.id
}

// Start launches the proactive loop once. It is a no-op after Cleanup.
func (s *SessionState) Start() {
	s.startOnce.Do(func() {
		if !s.proactive.Enabled {
			close(s.done)
			return
		}
		go s.runProactive()
	})
}

// Process answers a query and records both turns. It always returns a
// reply; runner failures become a fixed apology.
func (s *SessionState) Process(ctx context.Context, text string, image *agent.Attachment) string {
	s.queryMu.Lock()
	defer s.queryMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, s.id)
	ctx, span := tracing.StartSpan(ctx, "aiguide.session", "session.process",
		attribute.String("session_id", s.id))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	start := time.Now()
	hasImage := image != nil && len(image.Data) > 0
	query := strings.TrimSpace(text)

	history := toMessages(s.History())

	userContent := query
	if userContent == "" && hasImage {
		userContent = ImagePlaceholder
	}
	s.appendTurn(ConversationTurn{Role: agent.RoleUser, Content: userContent, HasImage: hasImage})

	reply, err := s.run(ctx, history, agent.Input{Text: query, Image: image})
	fallback := err != nil
	if fallback {
		tracing.RecordError(span, err)
		logger.Error().Err(err).Msg("Query failed, replying with apology")
		reply = fallbackReply(query, hasImage)
	}

	s.appendTurn(ConversationTurn{Role: agent.RoleAssistant, Content: reply})
	observability.RecordSessionQuery(time.Since(start), fallback)
	logger.Info().
		Bool("has_image", hasImage).
		Bool("fallback", fallback).
		Dur("duration", time.Since(start)).
		Msg("Query processed")

	return reply
}

func (s *SessionState) run(ctx context.Context, history []agent.Message, input agent.Input) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner panicked: %v", r)
		}
	}()

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}
	return s.runner.Run(ctx, history, input)
}

func fallbackReply(text string, hasImage bool) string {
	switch {
	case text == "" && hasImage:
		return imageFallback
	case text != "":
		return fmt.Sprintf(textFallback, text)
	default:
		return genericFallback
	}
}

func (s *SessionState) appendTurn(turn ConversationTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	turn.Timestamp = now
	s.turns = append(s.turns, turn)
	s.lastActive = now
}

// PendingNotifications drains the notification queue
func (s *SessionState) PendingNotifications() []Notification {
	s.mu.Lock()
	drained := s.pending
	s.pending = nil
	s.mu.Unlock()

	if drained == nil {
		drained = []Notification{}
	}
	observability.RecordNotificationsDrained(len(drained))
	return drained
}

// History returns a copy of the recorded turns
func (s *SessionState) History() []ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ConversationTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

// LastActive returns the time of the latest recorded turn
func (s *SessionState) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Info returns a diagnostic summary
func (s *SessionState) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		ID:         s.id,
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
		Turns:      len(s.turns),
		Pending:    len(s.pending),
	}
}

// Cleanup stops the proactive loop and waits up to timeout for it to
// exit. It returns false when the loop did not stop in time. Safe to call
// more than once.
func (s *SessionState) Cleanup(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultCleanupTimeout
	}

	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.mu.Unlock()

		// A session that never started has no loop to wait for
		s.startOnce.Do(func() { close(s.done) })
		s.cancel()
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return true
	case <-timer.C:
		s.logger.Warn().Dur("timeout", timeout).Msg("Proactive loop did not stop in time")
		return false
	}
}
