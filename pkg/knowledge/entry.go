package knowledge

import (
	"fmt"
	"strings"
)

// Source identifies which retrieval path an entry belongs to
type Source string

const (
	SourceKG     Source = "kg"
	SourceVector Source = "vector"
)

// Mode selects the retrieval paths used by Search
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeKG     Mode = "kg"
	ModeVector Mode = "vector"
)

// ParseMode converts user input into a Mode. Empty input means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeKG:
		return ModeKG, nil
	case ModeVector:
		return ModeVector, nil
	default:
		return "", fmt.Errorf("unknown search mode %q", s)
	}
}

func (m Mode) includes(source Source) bool {
	return m == ModeAuto || string(m) == string(source)
}

// Entry is one piece of guide knowledge
type Entry struct {
	ID         string   `yaml:"id" json:"id"`
	Title      string   `yaml:"title" json:"title"`
	Content    string   `yaml:"content" json:"content"`
	Source     Source   `yaml:"source" json:"source"`
	Confidence float64  `yaml:"confidence" json:"confidence"`
	Keywords   []string `yaml:"keywords" json:"keywords,omitempty"`
}

// Result is an entry returned by Search. Similarity is set for vector hits.
type Result struct {
	Entry
	Similarity *float64 `json:"similarity,omitempty"`
}

func (e *Entry) normalize() error {
	e.Title = strings.TrimSpace(e.Title)
	e.Content = strings.TrimSpace(e.Content)

	if e.Title == "" {
		return fmt.Errorf("entry title cannot be empty")
	}
	if e.Content == "" {
		return fmt.Errorf("entry %q: content cannot be empty", e.Title)
	}
	if e.Source != SourceKG && e.Source != SourceVector {
		return fmt.Errorf("entry %q: invalid source %q", e.Title, e.Source)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("entry %q: confidence must be between 0 and 1", e.Title)
	}

	keywords := make([]string, 0, len(e.Keywords))
	seen := make(map[string]bool, len(e.Keywords))
	for _, kw := range e.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		keywords = append(keywords, kw)
	}
	if e.Source == SourceKG && len(keywords) == 0 {
		return fmt.Errorf("entry %q: kg entries need at least one keyword", e.Title)
	}
	e.Keywords = keywords
	return nil
}
