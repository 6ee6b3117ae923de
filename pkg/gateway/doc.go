// Package gateway serves the session registry over HTTP.
//
// Routes:
//
//	POST /session/create   new session id
//	POST /chat             one query, multipart (message, image) or JSON
//	GET  /messages         drain pending notifications
//	GET  /session/status   session info
//	GET  /ws/messages      websocket push of notifications
//	GET  /health           liveness, knowledge store check and session count
//	GET  /metrics          prometheus
//
// The session id is read from the X-Session-ID header first. Read-side
// routes then try the session_id query parameter and the cookie; /chat
// tries the cookie before the session_id form or JSON field.
// /chat is rate limited per client address.
package gateway
