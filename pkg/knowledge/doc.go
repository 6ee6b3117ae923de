// Package knowledge stores landmark knowledge and answers knowledge_search queries.
//
// Two retrieval paths share one SQLite database:
// - kg: entries whose keyword appears in the query.
// - vector: entries whose title or keyword embedding is close to the query,
// scored with sqlite-vec's vec_distance_cosine.
//
// Invariants:
// - Load replaces the whole knowledge base atomically.
// - Search results are unique by title and sorted by confidence.
// - A query with no features returns no vector results.
//
// Usage:
//
//	store, _ := knowledge.Open(knowledge.Config{DBPath: "knowledge.db", Logger: logger})
//	_ = store.LoadDefault(ctx)
//	results, _ := store.Search(ctx, "tell me about 长城", knowledge.ModeAuto, 5)
//	fmt.Println(knowledge.Format(results))
package knowledge
