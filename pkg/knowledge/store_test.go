package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{
		DBPath: filepath.Join(t.TempDir(), "knowledge.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.LoadDefault(context.Background()))
	return store
}

func titles(results []Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Title)
	}
	return out
}

func TestOpen(t *testing.T) {
	t.Run("should require a database path", func(t *testing.T) {
		_, err := Open(Config{Logger: zerolog.Nop()})
		assert.Error(t, err)
	})

	t.Run("should open an in-memory database", func(t *testing.T) {
		store, err := Open(Config{DBPath: ":memory:", Logger: zerolog.Nop()})
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.LoadDefault(context.Background()))
		n, err := store.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})
}

func TestSearchKG(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("should match keywords inside the query", func(t *testing.T) {
		results, err := store.Search(ctx, "请介绍一下长城", ModeKG, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"Great Wall overview", "Great Wall history"}, titles(results))
		for _, r := range results {
			assert.Equal(t, SourceKG, r.Source)
			assert.Nil(t, r.Similarity)
		}
	})

	t.Run("should match case-insensitively", func(t *testing.T) {
		results, err := store.Search(ctx, "What is the FORBIDDEN CITY?", ModeKG, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"Forbidden City overview"}, titles(results))
	})

	t.Run("should respect the limit", func(t *testing.T) {
		results, err := store.Search(ctx, "长城", ModeKG, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"Great Wall overview"}, titles(results))
	})

	t.Run("should not return vector entries", func(t *testing.T) {
		results, err := store.Search(ctx, "天坛", ModeKG, 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestSearchVector(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("should find entries with a close embedding", func(t *testing.T) {
		results, err := store.Search(ctx, "天坛", ModeVector, 5)
		require.NoError(t, err)
		require.Equal(t, []string{"Temple of Heaven Park"}, titles(results))
		require.NotNil(t, results[0].Similarity)
		assert.InDelta(t, 1.0, *results[0].Similarity, 0.01)
	})

	t.Run("should match an english keyword", func(t *testing.T) {
		results, err := store.Search(ctx, "Summer Palace", ModeVector, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"Summer Palace introduction"}, titles(results))
	})

	t.Run("should drop dissimilar entries", func(t *testing.T) {
		results, err := store.Search(ctx, "长城", ModeVector, 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("should return nothing for a blank query", func(t *testing.T) {
		results, err := store.Search(ctx, "   ", ModeVector, 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestSearchAuto(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	results, err := store.Search(ctx, "长城", ModeAuto, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Great Wall overview", "Great Wall history"}, titles(results))

	results, err = store.Search(ctx, "颐和园", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Summer Palace introduction"}, titles(results))
}

func TestLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("should replace existing entries", func(t *testing.T) {
		require.NoError(t, store.Load(ctx, []Entry{
			{Title: "Bell Tower", Content: "A drum and bell tower.", Source: SourceKG, Confidence: 0.8, Keywords: []string{" Bell Tower "}},
		}))
		n, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		results, err := store.Search(ctx, "where is the bell tower", ModeKG, 5)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.NotEmpty(t, results[0].ID)
	})

	t.Run("should reject invalid entries and keep old contents", func(t *testing.T) {
		err := store.Load(ctx, []Entry{{Title: "Bad", Content: "x", Source: "web", Confidence: 0.5}})
		assert.Error(t, err)

		err = store.Load(ctx, []Entry{{Title: "No keywords", Content: "x", Source: SourceKG, Confidence: 0.5}})
		assert.Error(t, err)

		n, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestMergeResults(t *testing.T) {
	merged := mergeResults([]Result{
		{Entry: Entry{Title: "a", Confidence: 0.5}},
		{Entry: Entry{Title: "b", Confidence: 0.9}},
		{Entry: Entry{Title: "a", Confidence: 0.99}},
	})
	assert.Equal(t, []string{"b", "a"}, titles(merged))
	assert.Equal(t, 0.5, merged[1].Confidence)
}

func TestParseMode(t *testing.T) {
	for input, want := range map[string]Mode{"": ModeAuto, "auto": ModeAuto, "KG": ModeKG, " vector ": ModeVector} {
		got, err := ParseMode(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("web")
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, NoResultsMessage, Format(nil))

	out := Format([]Result{
		{Entry: Entry{Title: "Great Wall overview", Content: "Long wall.", Source: SourceKG}},
		{Entry: Entry{Title: "Temple of Heaven Park", Content: "Altar.", Source: SourceVector}},
	})
	assert.Contains(t, out, "1. Great Wall overview\nLong wall.\n(Source: knowledge graph)")
	assert.Contains(t, out, "2. Temple of Heaven Park\nAltar.\n(Source: knowledge base)")
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(0)
	assert.Equal(t, DefaultDimension, e.Dimension())
	assert.Nil(t, e.Embed(" \t\n"))

	a := e.Embed("天坛")
	b := e.Embed("天坛")
	require.Len(t, a, DefaultDimension)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestWatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entries: []\n"), 0o644))
	require.NoError(t, store.Watch(path, 20*time.Millisecond))
	assert.Error(t, store.Watch(path, 20*time.Millisecond))

	seed := `entries:
  - title: Drum Tower
    content: Kept time for the capital.
    source: kg
    confidence: 0.7
    keywords: [drum tower]
`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	assert.Eventually(t, func() bool {
		results, err := store.Search(ctx, "drum tower", ModeKG, 5)
		return err == nil && len(results) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestStorePing(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))

	require.NoError(t, store.Close())
	assert.Error(t, store.Ping(context.Background()))
}
