// Package moderation screens user prompts and model responses against
// configured keywords and regular expressions.
package moderation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harun/aiguide/internal/config"
)

// Direction tells which side of the conversation was blocked
type Direction string

const (
	DirectionPrompt   Direction = "prompt"
	DirectionResponse Direction = "response"
)

// BlockedError reports content rejected by the filter
type BlockedError struct {
	Direction Direction
	Rule      string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s blocked by moderation rule %s", e.Direction, e.Rule)
}

// ContentFilter checks content against configured keywords and patterns.
// A nil or disabled filter allows everything.
type ContentFilter struct {
	enabled  bool
	keywords []string
	patterns []*regexp.Regexp
}

// New creates a new content filter.
func New(cfg config.ModerationConfig) (*ContentFilter, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.BlockedPatterns))
	for _, p := range cfg.BlockedPatterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	seen := make(map[string]bool, len(cfg.BlockedKeywords))
	keywords := make([]string, 0, len(cfg.BlockedKeywords))
	for _, kw := range cfg.BlockedKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		keywords = append(keywords, kw)
	}

	return &ContentFilter{
		enabled:  cfg.Enabled,
		keywords: keywords,
		patterns: patterns,
	}, nil
}

// Enabled reports whether the filter blocks anything
func (f *ContentFilter) Enabled() bool {
	return f != nil && f.enabled && (len(f.keywords) > 0 || len(f.patterns) > 0)
}

// CheckPrompt returns a *BlockedError if the prompt contains blocked content.
func (f *ContentFilter) CheckPrompt(prompt string) error {
	return f.check(DirectionPrompt, prompt)
}

// CheckResponse returns a *BlockedError if the response contains blocked content.
func (f *ContentFilter) CheckResponse(response string) error {
	return f.check(DirectionResponse, response)
}

func (f *ContentFilter) check(direction Direction, content string) error {
	if !f.Enabled() || content == "" {
		return nil
	}

	normalized := strings.ToLower(content)
	for _, kw := range f.keywords {
		if strings.Contains(normalized, kw) {
			return &BlockedError{Direction: direction, Rule: fmt.Sprintf("keyword %q", kw)}
		}
	}
	for i, re := range f.patterns {
		if re.MatchString(content) {
			return &BlockedError{Direction: direction, Rule: fmt.Sprintf("pattern #%d", i+1)}
		}
	}
	return nil
}
