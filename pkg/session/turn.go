package session

import (
	"time"

	"github.com/harun/aiguide/pkg/agent"
)

// ImagePlaceholder is recorded as the user turn of an image-only query
const ImagePlaceholder = "[image input]"

// ConversationTurn is one recorded exchange step
type ConversationTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	HasImage  bool      `json:"has_image,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is a proactive suggestion waiting to be polled
type Notification struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Info summarizes a session for diagnostics
type Info struct {
	ID         string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Turns      int       `json:"turns"`
	Pending    int       `json:"pending"`
}

// toMessages converts recorded turns into model history. Images are not
// retained across turns, and empty turns are skipped.
func toMessages(turns []ConversationTurn) []agent.Message {
	messages := make([]agent.Message, 0, len(turns))
	for _, turn := range turns {
		if turn.Content == "" {
			continue
		}
		messages = append(messages, agent.Message{Role: turn.Role, Content: turn.Content})
	}
	return messages
}
