package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	"github.com/harun/aiguide/internal/config"
	"github.com/harun/aiguide/internal/observability"
	"github.com/harun/aiguide/internal/tracing"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func init() {
	sqlite_vec.Auto()
}

const (
	DefaultMinSimilarity = 0.3
	DefaultLimit         = 5

	// candidate rows pulled from each path before merge
	candidateLimit = 50
)

// Config holds knowledge store configuration
type Config struct {
	DBPath        string
	MinSimilarity float64
	DefaultLimit  int
	Logger        zerolog.Logger
	Embedder      Embedder // Optional, defaults to HashEmbedder
}

// FromConfig maps application config onto store config
func FromConfig(cfg config.KnowledgeConfig, logger zerolog.Logger) Config {
	return Config{
		DBPath:        cfg.DBPath,
		MinSimilarity: cfg.MinSimilarity,
		DefaultLimit:  cfg.DefaultLimit,
		Logger:        logger,
	}
}

// Store is the SQLite-backed knowledge base behind the knowledge_search tool
type Store struct {
	db            *sql.DB
	embedder      Embedder
	minSimilarity float64
	defaultLimit  int
	logger        zerolog.Logger

	mu      sync.Mutex
	watcher *FileWatcher
}

// Open opens (or creates) the knowledge database
func Open(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = DefaultMinSimilarity
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.Embedder == nil {
		cfg.Embedder = NewHashEmbedder(DefaultDimension)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.DBPath == ":memory:" {
		// one connection, or every pooled connection sees its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:            db,
		embedder:      cfg.Embedder,
		minSimilarity: cfg.MinSimilarity,
		defaultLimit:  cfg.DefaultLimit,
		logger:        cfg.Logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("db", cfg.DBPath).Msg("Knowledge store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			source TEXT NOT NULL,
			confidence REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_entries_source ON entries(source);

		CREATE TABLE IF NOT EXISTS keywords (
			entry_id TEXT NOT NULL,
			keyword TEXT NOT NULL,
			FOREIGN KEY (entry_id) REFERENCES entries(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_keywords_entry ON keywords(entry_id);

		CREATE TABLE IF NOT EXISTS embeddings (
			entry_id TEXT NOT NULL,
			phrase TEXT NOT NULL,
			embedding TEXT NOT NULL,
			FOREIGN KEY (entry_id) REFERENCES entries(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_embeddings_entry ON embeddings(entry_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close stops any watcher and closes the database
func (s *Store) Close() error {
	s.mu.Lock()
	watcher := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to stop knowledge watcher")
		}
	}
	return s.db.Close()
}

// Load replaces the whole knowledge base with entries in one transaction.
func (s *Store) Load(ctx context.Context, entries []Entry) error {
	if ctx == nil {
		ctx = context.Background()
	}

	normalized := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if err := e.normalize(); err != nil {
			return err
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		normalized = append(normalized, e)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"embeddings", "keywords", "entries"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, e := range normalized {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries (id, title, content, source, confidence) VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.Title, e.Content, string(e.Source), e.Confidence,
		); err != nil {
			return fmt.Errorf("failed to insert entry %q: %w", e.Title, err)
		}

		for _, kw := range e.Keywords {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO keywords (entry_id, keyword) VALUES (?, ?)`, e.ID, kw,
			); err != nil {
				return fmt.Errorf("failed to insert keyword for %q: %w", e.Title, err)
			}
		}

		if e.Source != SourceVector {
			continue
		}
		for _, phrase := range append([]string{e.Title}, e.Keywords...) {
			vec := s.embedder.Embed(phrase)
			if vec == nil {
				continue
			}
			data, err := json.Marshal(vec)
			if err != nil {
				return fmt.Errorf("failed to marshal embedding: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO embeddings (entry_id, phrase, embedding) VALUES (?, ?, ?)`,
				e.ID, phrase, string(data),
			); err != nil {
				return fmt.Errorf("failed to insert embedding for %q: %w", e.Title, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit knowledge: %w", err)
	}

	s.logger.Info().Int("entries", len(normalized)).Msg("Knowledge loaded")
	return nil
}

// Ping checks that the database answers queries
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

// Count returns the number of stored entries
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n)
	return n, err
}

// Search looks up knowledge relevant to query. Results are de-duplicated
// by title and ordered by confidence, highest first.
func (s *Store) Search(ctx context.Context, query string, mode Mode, limit int) ([]Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if mode == "" {
		mode = ModeAuto
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"aiguide.knowledge",
		"knowledge.search",
		attribute.String("mode", string(mode)),
		attribute.Int("limit", limit),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()
	defer func() { observability.RecordKnowledgeSearch(string(mode), time.Since(start)) }()

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []Result{}, nil
	}

	var kgResults, vectorResults []Result
	var kgErr, vectorErr error

	var wg sync.WaitGroup
	if mode.includes(SourceKG) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kgResults, kgErr = s.searchKG(ctx, query)
		}()
	}
	if mode.includes(SourceVector) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vectorResults, vectorErr = s.searchVector(ctx, query)
		}()
	}
	wg.Wait()

	if kgErr != nil {
		logger.Warn().Err(kgErr).Msg("Knowledge graph search failed")
		span.RecordError(kgErr)
	}
	if vectorErr != nil {
		logger.Warn().Err(vectorErr).Msg("Vector search failed")
		span.RecordError(vectorErr)
	}

	failedAll := (kgErr != nil || !mode.includes(SourceKG)) && (vectorErr != nil || !mode.includes(SourceVector))
	if failedAll {
		span.SetStatus(codes.Error, "knowledge search failed")
		return nil, errors.Join(kgErr, vectorErr)
	}

	results := mergeResults(append(kgResults, vectorResults...))
	if len(results) > limit {
		results = results[:limit]
	}

	logger.Debug().
		Str("mode", string(mode)).
		Int("results", len(results)).
		Msg("Knowledge search completed")

	return results, nil
}

func (s *Store) searchKG(ctx context.Context, query string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT e.id, e.title, e.content, e.source, e.confidence
		FROM entries e
		JOIN keywords k ON k.entry_id = e.id
		WHERE e.source = ? AND instr(?, k.keyword) > 0
		ORDER BY e.confidence DESC
		LIMIT ?
	`, string(SourceKG), query, candidateLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var source string
		if err := rows.Scan(&r.ID, &r.Title, &r.Content, &source, &r.Confidence); err != nil {
			return nil, err
		}
		r.Source = Source(source)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) searchVector(ctx context.Context, query string) ([]Result, error) {
	vec := s.embedder.Embed(query)
	if vec == nil {
		return nil, nil
	}

	embeddingJSON, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.title, e.content, e.source, e.confidence,
			MIN(vec_distance_cosine(v.embedding, ?)) AS distance
		FROM embeddings v
		JOIN entries e ON e.id = v.entry_id
		WHERE e.source = ?
		GROUP BY e.id
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), string(SourceVector), candidateLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var source string
		var distance float64
		if err := rows.Scan(&r.ID, &r.Title, &r.Content, &source, &r.Confidence, &distance); err != nil {
			return nil, err
		}

		similarity := 1.0 - distance
		if similarity < s.minSimilarity {
			continue
		}
		r.Source = Source(source)
		r.Similarity = &similarity
		results = append(results, r)
	}
	return results, rows.Err()
}

func mergeResults(results []Result) []Result {
	seen := make(map[string]bool, len(results))
	unique := make([]Result, 0, len(results))
	for _, r := range results {
		if seen[r.Title] {
			continue
		}
		seen[r.Title] = true
		unique = append(unique, r)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Confidence > unique[j].Confidence
	})
	return unique
}
