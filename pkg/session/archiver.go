package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// TranscriptArchiver persists the turns of a finished session
type TranscriptArchiver interface {
	Archive(sessionID string, turns []ConversationTurn) error
}

// archiveEntry is one JSONL line of an archived transcript
type archiveEntry struct {
	SessionID string           `json:"session_id"`
	Turn      ConversationTurn `json:"turn"`
}

// Archiver writes transcripts as <dir>/<session_id>.jsonl
type Archiver struct {
	dir    string
	logger zerolog.Logger
}

// NewArchiver creates the archive directory and returns an Archiver
func NewArchiver(dir string, logger zerolog.Logger) (*Archiver, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archiver{dir: dir, logger: logger}, nil
}

// validateSessionID keeps session ids path-safe
func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (a *Archiver) path(sessionID string) string {
	return filepath.Join(a.dir, sessionID+".jsonl")
}

// Archive writes the transcript atomically, replacing any earlier archive
// of the same session. Sessions without turns are skipped.
func (a *Archiver) Archive(sessionID string, turns []ConversationTurn) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	target := a.path(sessionID)
	tempPath := target + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	writer := bufio.NewWriter(file)
	for _, turn := range turns {
		data, err := json.Marshal(archiveEntry{SessionID: sessionID, Turn: turn})
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		if _, err := writer.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write turn: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to flush archive: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace archive file: %w", err)
	}

	a.logger.Info().
		Str("session_id", sessionID).
		Int("turns", len(turns)).
		Msg("Session archived")
	return nil
}

// Load reads an archived transcript, skipping malformed lines
func (a *Archiver) Load(sessionID string) ([]ConversationTurn, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	file, err := os.Open(a.path(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	var turns []ConversationTurn
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry archiveEntry
		if err := json.Unmarshal(line, &entry); err != nil || entry.Turn.Role == "" {
			a.logger.Warn().
				Str("session_id", sessionID).
				Int("line", lineNum).
				Msg("Skipping malformed archive line")
			continue
		}
		turns = append(turns, entry.Turn)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return turns, nil
}

// List returns the archived session ids in sorted order
func (a *Archiver) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".jsonl"))
	}
	sort.Strings(ids)
	return ids, nil
}
