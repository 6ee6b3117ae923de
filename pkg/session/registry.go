package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/aiguide/internal/config"
	"github.com/harun/aiguide/internal/observability"
	"github.com/harun/aiguide/pkg/agent"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultSweepInterval = time.Hour
	DefaultIdleTimeout   = 4 * time.Hour
)

// ErrSessionNotFound is returned for an unknown session id
var ErrSessionNotFound = errors.New("session not found")

// Cleanup reasons reported to metrics
const (
	reasonExplicit = "explicit"
	reasonIdle     = "idle"
	reasonShutdown = "shutdown"
)

// RegistryConfig configures a Registry
type RegistryConfig struct {
	Runner   Runner
	Archiver TranscriptArchiver // Optional
	Clock    func() time.Time

	SweepInterval  time.Duration
	IdleTimeout    time.Duration
	CleanupTimeout time.Duration
	RunTimeout     time.Duration
	Proactive      ProactiveConfig

	Logger zerolog.Logger
}

// RegistryConfigFromConfig maps the session and agent sections onto a
// RegistryConfig. Runner and Archiver are left for the caller.
func RegistryConfigFromConfig(sessionCfg config.SessionConfig, agentCfg config.AgentConfig) RegistryConfig {
	return RegistryConfig{
		SweepInterval:  sessionCfg.SweepInterval,
		IdleTimeout:    sessionCfg.IdleTimeout,
		CleanupTimeout: sessionCfg.CleanupTimeout,
		RunTimeout:     agentCfg.RunTimeout,
		Proactive: ProactiveConfig{
			Enabled:     sessionCfg.ProactiveEnabled,
			MinInterval: sessionCfg.ProactiveMinInterval,
			MaxInterval: sessionCfg.ProactiveMaxInterval,
		},
	}
}

// QueryResult is the reply to one query
type QueryResult struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

// Registry owns every live session
type Registry struct {
	cfg RegistryConfig

	mu       sync.Mutex
	sessions map[string]*SessionState
	cron     *cron.Cron
}

// NewRegistry creates a new Registry
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	observability.EnsureRegistered()

	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = DefaultCleanupTimeout
	}

	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*SessionState),
	}, nil
}

// Start schedules the idle sweep
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return fmt.Errorf("registry is already running")
	}

	r.cron = cron.New()
	r.cron.Schedule(cron.Every(r.cfg.SweepInterval), cron.FuncJob(func() {
		r.SweepIdle()
	}))
	r.cron.Start()

	r.cfg.Logger.Info().
		Dur("sweep_interval", r.cfg.SweepInterval).
		Dur("idle_timeout", r.cfg.IdleTimeout).
		Msg("Session registry started")
	return nil
}

// CreateSession creates a session, starts its proactive loop and returns its id
func (r *Registry) CreateSession() string {
	s := r.newSession()
	return s.ID()
}

func (r *Registry) newSession() *SessionState {
	id := uuid.NewString()
	s, _ := NewSessionState(StateConfig{
		ID:         id,
		Runner:     r.cfg.Runner,
		Clock:      r.cfg.Clock,
		RunTimeout: r.cfg.RunTimeout,
		Proactive:  r.cfg.Proactive,
		Logger:     r.cfg.Logger,
	})
	s.Start()

	r.mu.Lock()
	r.sessions[id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	observability.RecordSessionCreated()
	observability.SetActiveSessions(count)
	r.cfg.Logger.Info().Str("session_id", id).Int("active", count).Msg("Session created")
	return s
}

// GetSession looks up a session by id
func (r *Registry) GetSession(id string) (*SessionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	return s, ok
}

// ProcessQuery answers a query in the given session, creating a session
// when id is empty or unknown. The only error is *agent.InputError.
func (r *Registry) ProcessQuery(ctx context.Context, id, text string, image *agent.Attachment) (QueryResult, error) {
	hasImage := image != nil && len(image.Data) > 0
	if strings.TrimSpace(text) == "" && !hasImage {
		return QueryResult{}, agent.NewInputError("a text query or an image is required")
	}

	s, ok := r.GetSession(id)
	if !ok {
		if id != "" {
			r.cfg.Logger.Debug().Str("requested_id", id).Msg("Unknown session, creating a new one")
		}
		s = r.newSession()
	}

	reply := s.Process(ctx, text, image)
	return QueryResult{Reply: reply, SessionID: s.ID()}, nil
}

// PendingNotifications drains the notifications of a session
func (r *Registry) PendingNotifications(id string) ([]Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, agent.NewInputError("session id is required")
	}
	s, ok := r.GetSession(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.PendingNotifications(), nil
}

// CleanupSession removes and stops a session. It returns false for an
// unknown id.
func (r *Registry) CleanupSession(id string) bool {
	return r.remove(id, nil, reasonExplicit)
}

// remove deletes id from the map, and then cleans the session outside
// the lock. When expect is set the entry is removed only if it still
// points at that session.
func (r *Registry) remove(id string, expect *SessionState, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || (expect != nil && s != expect) {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	count := len(r.sessions)
	r.mu.Unlock()

	r.cleanupState(s, reason)
	observability.SetActiveSessions(count)
	return true
}

func (r *Registry) cleanupState(s *SessionState, reason string) {
	stopped := s.Cleanup(r.cfg.CleanupTimeout)
	observability.RecordSessionCleaned(reason)

	if r.cfg.Archiver != nil {
		if err := r.cfg.Archiver.Archive(s.ID(), s.History()); err != nil {
			r.cfg.Logger.Error().Err(err).Str("session_id", s.ID()).Msg("Failed to archive session")
		}
	}

	r.cfg.Logger.Info().
		Str("session_id", s.ID()).
		Str("reason", reason).
		Bool("stopped", stopped).
		Msg("Session cleaned up")
}

// SweepIdle cleans every session idle for longer than IdleTimeout and
// returns how many were removed.
func (r *Registry) SweepIdle() int {
	now := r.cfg.Clock()

	r.mu.Lock()
	snapshot := make([]*SessionState, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	removed := 0
	for _, s := range snapshot {
		if now.Sub(s.LastActive()) <= r.cfg.IdleTimeout {
			continue
		}
		if r.remove(s.ID(), s, reasonIdle) {
			removed++
		}
	}

	if removed > 0 {
		r.cfg.Logger.Info().Int("removed", removed).Int("active", r.Count()).Msg("Idle sessions swept")
	}
	return removed
}

// CleanupAll stops the sweep and cleans every session. Safe to call more
// than once.
func (r *Registry) CleanupAll() {
	r.mu.Lock()
	scheduler := r.cron
	r.cron = nil
	sessions := r.sessions
	r.sessions = make(map[string]*SessionState)
	r.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *SessionState) {
			defer wg.Done()
			r.cleanupState(s, reasonShutdown)
		}(s)
	}
	wg.Wait()

	observability.SetActiveSessions(r.Count())
	if len(sessions) > 0 {
		r.cfg.Logger.Info().Int("sessions", len(sessions)).Msg("All sessions cleaned up")
	}
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Statuses returns a summary of every live session, oldest first
func (r *Registry) Statuses() []Info {
	r.mu.Lock()
	snapshot := make([]*SessionState, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(snapshot))
	for _, s := range snapshot {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}
