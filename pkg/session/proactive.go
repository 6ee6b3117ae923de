package session

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/harun/aiguide/internal/observability"
)

const (
	// MaxPendingNotifications caps the per-session notification queue
	MaxPendingNotifications = 2

	DefaultProactiveMinInterval = 5 * time.Second
	DefaultProactiveMaxInterval = 10 * time.Second
)

// DefaultTemplates are the proactive suggestions offered to travellers
var DefaultTemplates = []string{
	"I noticed you are passing a historic building. Would you like to hear about it?",
	"There is a highly rated restaurant about 500 meters ahead. Shall I tell you more?",
	"There are a few sights worth visiting around here. Would you like some recommendations?",
	"Based on your interests, you might enjoy an exhibition nearby.",
	"A cultural festival is on right now, and some of its events may suit you.",
	"You have walked about 3 kilometers. How about a break? There are some relaxing spots nearby.",
	"This is a great spot for photos. You may want to stop and take a few here.",
	"You seem to enjoy historic architecture. There is a lesser-known but remarkable heritage site in this area.",
}

// ProactiveConfig controls the background suggestion loop
type ProactiveConfig struct {
	Enabled     bool
	MinInterval time.Duration
	MaxInterval time.Duration
	Templates   []string
}

func (c ProactiveConfig) withDefaults() ProactiveConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultProactiveMinInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultProactiveMaxInterval
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval
	}
	if len(c.Templates) == 0 {
		c.Templates = DefaultTemplates
	}
	return c
}

func (c ProactiveConfig) nextInterval() time.Duration {
	spread := int64(c.MaxInterval - c.MinInterval)
	if spread <= 0 {
		return c.MinInterval
	}
	return c.MinInterval + time.Duration(rand.Int63n(spread+1))
}

func (c ProactiveConfig) pick() string {
	return c.Templates[rand.Intn(len(c.Templates))]
}

// runProactive sleeps a random interval, queues a suggestion when there is
// room, and repeats until the session context is cancelled.
func (s *SessionState) runProactive() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Proactive loop crashed")
		}
	}()

	for {
		timer := time.NewTimer(s.proactive.nextInterval())
		select {
		case <-s.ctx.Done():
			timer.Stop()
			s.logger.Debug().Msg("Proactive loop stopped")
			return
		case <-timer.C:
		}

		if s.enqueue(s.proactive.pick()) {
			observability.RecordNotificationQueued()
		}
	}
}

// enqueue appends a notification unless the queue is full or the session
// is closed.
func (s *SessionState) enqueue(content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(s.pending) >= MaxPendingNotifications {
		return false
	}
	s.pending = append(s.pending, Notification{
		ID:        uuid.NewString(),
		Content:   content,
		Timestamp: s.clock(),
	})
	s.logger.Debug().Int("pending", len(s.pending)).Msg("Proactive notification queued")
	return true
}
