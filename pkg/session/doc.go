// Package session keeps per-session conversation state in memory and
// manages its lifecycle.
//
// Invariants:
// - Exactly one SessionState exists per session id.
// - Queries within a session are serialized; sessions run in parallel.
// - At most MaxPendingNotifications proactive notifications are queued per session.
// - A session's proactive loop stops when the session is cleaned up; Cleanup never
//   blocks beyond its timeout.
// - Registry map mutations happen under one lock; per-session work never holds it.
//
// Usage:
//
//	reg, _ := session.NewRegistry(session.RegistryConfig{Runner: orch})
//	_ = reg.Start()
//	defer reg.CleanupAll()
//
//	res, _ := reg.ProcessQuery(ctx, "", "What is this temple?", img)
//	notes, _ := reg.PendingNotifications(res.SessionID)
//	_ = notes
package session
