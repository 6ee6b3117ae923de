package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/aiguide/internal/config"
	"github.com/harun/aiguide/pkg/agent"
	"github.com/harun/aiguide/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoRunner struct {
	mu     sync.Mutex
	inputs []agent.Input
}

func (r *echoRunner) Run(ctx context.Context, history []agent.Message, input agent.Input) (string, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, input)
	r.mu.Unlock()
	if input.Image != nil {
		return "I see a picture.", nil
	}
	return "echo: " + input.Text, nil
}

func (r *echoRunner) lastInput() agent.Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputs[len(r.inputs)-1]
}

func newTestServer(t *testing.T, proactive session.ProactiveConfig, mutate func(*Config)) (*Server, *session.Registry, *echoRunner) {
	t.Helper()

	runner := &echoRunner{}
	reg, err := session.NewRegistry(session.RegistryConfig{
		Runner:    runner,
		Proactive: proactive,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(reg.CleanupAll)

	cfg := Config{
		PushInterval: 10 * time.Millisecond,
		Version:      "test",
		Sessions:     reg,
		Logger:       zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := New(cfg)
	require.NoError(t, err)
	return srv, reg, runner
}

func do(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartChat(t *testing.T, message string, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if message != "" {
		require.NoError(t, mw.WriteField("message", message))
	}
	if image != nil {
		part, err := mw.CreateFormFile("image", "photo.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/chat", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	srv, _, _ := newTestServer(t, session.ProactiveConfig{}, func(c *Config) { c.PushInterval = 0 })
	assert.Equal(t, defaultPushInterval, srv.cfg.PushInterval)
	assert.Equal(t, int64(defaultMaxUploadBytes), srv.cfg.MaxUploadBytes)
	assert.Equal(t, []string{"*"}, srv.cfg.AllowedOrigins)
}

func TestConfigFromServerConfig(t *testing.T) {
	cfg := ConfigFromServerConfig(config.DefaultConfig().Server)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 1600, cfg.Image.MaxDimension)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.Equal(t, 2*time.Second, cfg.PushInterval)
}

func TestHealth(t *testing.T) {
	srv, reg, _ := newTestServer(t, session.ProactiveConfig{}, nil)
	reg.CreateSession()

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	decode(t, rec, &body)
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.DBStatus)
	assert.Equal(t, 1, body.Sessions)
	assert.Equal(t, "test", body.Version)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestHealthStoreCheck(t *testing.T) {
	t.Run("should report a reachable store", func(t *testing.T) {
		srv, _, _ := newTestServer(t, session.ProactiveConfig{}, func(c *Config) { c.Store = stubPinger{} })

		rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body healthResponse
		decode(t, rec, &body)
		assert.Equal(t, "ok", body.Status)
		assert.True(t, body.DBStatus)
	})

	t.Run("should report a failing store as degraded", func(t *testing.T) {
		srv, _, _ := newTestServer(t, session.ProactiveConfig{}, func(c *Config) {
			c.Store = stubPinger{err: errors.New("database is locked")}
		})

		rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body healthResponse
		decode(t, rec, &body)
		assert.Equal(t, "degraded", body.Status)
		assert.False(t, body.DBStatus)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, session.ProactiveConfig{}, nil)
	do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSession(t *testing.T) {
	srv, reg, _ := newTestServer(t, session.ProactiveConfig{}, nil)

	rec := do(t, srv, httptest.NewRequest(http.MethodPost, "/session/create", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body createSessionResponse
	decode(t, rec, &body)
	assert.NotEmpty(t, body.SessionID)
	assert.NotEmpty(t, body.Message)

	_, ok := reg.GetSession(body.SessionID)
	assert.True(t, ok)
	assert.Equal(t, body.SessionID, rec.Header().Get(sessionHeader))
}

func TestChat(t *testing.T) {
	t.Run("should answer JSON and set the session cookie", func(t *testing.T) {
		srv, reg, _ := newTestServer(t, session.ProactiveConfig{}, nil)

		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hello"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := do(t, srv, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var body session.QueryResult
		decode(t, rec, &body)
		assert.Equal(t, "echo: hello", body.Reply)
		require.NotEmpty(t, body.SessionID)
		assert.Equal(t, 1, reg.Count())

		cookies := rec.Result().Cookies()
		require.NotEmpty(t, cookies)
		assert.Equal(t, sessionCookie, cookies[0].Name)
		assert.Equal(t, body.SessionID, cookies[0].Value)
	})

	t.Run("should reuse the session from the header", func(t *testing.T) {
		srv, reg, _ := newTestServer(t, session.ProactiveConfig{}, nil)
		id := reg.CreateSession()

		req := multipartChat(t, "where is the museum", nil)
		req.Header.Set(sessionHeader, id)
		rec := do(t, srv, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var body session.QueryResult
		decode(t, rec, &body)
		assert.Equal(t, id, body.SessionID)
		assert.Equal(t, 1, reg.Count())

		state, _ := reg.GetSession(id)
		assert.Equal(t, 2, state.Info().Turns)
	})

	t.Run("should prefer the cookie over the body field", func(t *testing.T) {
		srv, reg, _ := newTestServer(t, session.ProactiveConfig{}, nil)
		cookieID := reg.CreateSession()
		bodyID := reg.CreateSession()

		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi","session_id":"`+bodyID+`"}`))
		req.Header.Set("Content-Type", "application/json")
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: cookieID})
		rec := do(t, srv, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var body session.QueryResult
		decode(t, rec, &body)
		assert.Equal(t, cookieID, body.SessionID)
	})

	t.Run("should normalize an uploaded image", func(t *testing.T) {
		srv, _, runner := newTestServer(t, session.ProactiveConfig{}, nil)

		rec := do(t, srv, multipartChat(t, "", pngBytes(t)))
		require.Equal(t, http.StatusOK, rec.Code)

		var body session.QueryResult
		decode(t, rec, &body)
		assert.Equal(t, "I see a picture.", body.Reply)

		input := runner.lastInput()
		require.NotNil(t, input.Image)
		assert.Equal(t, "image/png", input.Image.MimeType)
	})

	t.Run("should reject a broken image", func(t *testing.T) {
		srv, _, _ := newTestServer(t, session.ProactiveConfig{}, nil)

		rec := do(t, srv, multipartChat(t, "look", []byte("not an image")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid image")
	})

	t.Run("should reject an empty query", func(t *testing.T) {
		srv, reg, _ := newTestServer(t, session.ProactiveConfig{}, nil)

		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"   "}`))
		req.Header.Set("Content-Type", "application/json")
		rec := do(t, srv, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 0, reg.Count())
	})

	t.Run("should reject malformed JSON", func(t *testing.T) {
		srv, _, _ := newTestServer(t, session.ProactiveConfig{}, nil)

		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":`))
		req.Header.Set("Content-Type", "application/json")
		rec := do(t, srv, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should reject oversized bodies", func(t *testing.T) {
		srv, _, _ := newTestServer(t, session.ProactiveConfig{}, func(c *Config) { c.MaxUploadBytes = 16 })

		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"`+strings.Repeat("a", 64)+`"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := do(t, srv, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("should rate limit per client", func(t *testing.T) {
		srv, _, _ := newTestServer(t, session.ProactiveConfig{}, func(c *Config) { c.RateLimitPerMinute = 1 })

		send := func() int {
			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
			req.Header.Set("Content-Type", "application/json")
			return do(t, srv, req).Code
		}
		assert.Equal(t, http.StatusOK, send())
		assert.Equal(t, http.StatusTooManyRequests, send())
	})
}

func TestMessages(t *testing.T) {
	t.Run("should require a session id", func(t *testing.T) {
		srv, _, _ := newTestServer(t, session.ProactiveConfig{}, nil)
		rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/messages", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should return 404 for unknown sessions", func(t *testing.T) {
		srv, _, _ := newTestServer(t, session.ProactiveConfig{}, nil)
		rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/messages?session_id=missing", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should return an empty list", func(t *testing.T) {
		srv, reg, _ := newTestServer(t, session.ProactiveConfig{}, nil)
		id := reg.CreateSession()

		req := httptest.NewRequest(http.MethodGet, "/messages", nil)
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: id})
		rec := do(t, srv, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"messages":[],"has_more":false}`, rec.Body.String())
	})

	t.Run("should drain proactive notifications", func(t *testing.T) {
		srv, reg, _ := newTestServer(t, session.ProactiveConfig{
			Enabled:     true,
			MinInterval: time.Millisecond,
			MaxInterval: 2 * time.Millisecond,
		}, nil)
		id := reg.CreateSession()

		state, _ := reg.GetSession(id)
		require.Eventually(t, func() bool { return state.Info().Pending == session.MaxPendingNotifications }, time.Second, 5*time.Millisecond)

		req := httptest.NewRequest(http.MethodGet, "/messages", nil)
		req.Header.Set(sessionHeader, id)
		rec := do(t, srv, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var body messagesResponse
		decode(t, rec, &body)
		assert.NotEmpty(t, body.Messages)
		assert.LessOrEqual(t, len(body.Messages), session.MaxPendingNotifications)
		assert.False(t, body.HasMore)
	})
}

func TestSessionStatus(t *testing.T) {
	srv, reg, _ := newTestServer(t, session.ProactiveConfig{}, nil)
	id := reg.CreateSession()

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/session/status", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, httptest.NewRequest(http.MethodGet, "/session/status?session_id=nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, httptest.NewRequest(http.MethodGet, "/session/status?session_id="+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, id, body["session_id"])
	assert.Equal(t, true, body["active"])
	assert.EqualValues(t, 0, body["turns"])
	assert.Contains(t, body, "created_at")
	assert.Contains(t, body, "last_active")
}

func TestPushSocket(t *testing.T) {
	t.Run("should reject unknown sessions before upgrading", func(t *testing.T) {
		srv, _, _ := newTestServer(t, session.ProactiveConfig{}, nil)
		rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/ws/messages?session_id=missing", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should push notifications as JSON frames", func(t *testing.T) {
		srv, reg, _ := newTestServer(t, session.ProactiveConfig{
			Enabled:     true,
			MinInterval: time.Millisecond,
			MaxInterval: 2 * time.Millisecond,
		}, nil)
		id := reg.CreateSession()

		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/messages?session_id=" + id
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var event pushEvent
		require.NoError(t, conn.ReadJSON(&event))
		assert.Equal(t, "message", event.Event)
		require.NotNil(t, event.Message)
		assert.NotEmpty(t, event.Message.Content)
		assert.NotEmpty(t, event.Message.ID)

		assert.Eventually(t, func() bool { return srv.clients.Count() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("should report a closed session", func(t *testing.T) {
		srv, reg, _ := newTestServer(t, session.ProactiveConfig{}, nil)
		id := reg.CreateSession()

		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/messages?session_id=" + id
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.True(t, reg.CleanupSession(id))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var event pushEvent
		require.NoError(t, conn.ReadJSON(&event))
		assert.Equal(t, "session.closed", event.Event)

		assert.Eventually(t, func() bool { return srv.clients.Count() == 0 }, time.Second, 5*time.Millisecond)
	})
}

func TestStartStop(t *testing.T) {
	srv, _, _ := newTestServer(t, session.ProactiveConfig{}, func(c *Config) {
		c.Host = "127.0.0.1"
		c.Port = 0
	})

	require.NoError(t, srv.Start())
	assert.Error(t, srv.Start())
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.Empty(t, srv.Addr())
	assert.NoError(t, srv.Stop(ctx))
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed([]string{"*"}, "http://x"))
	assert.True(t, originAllowed([]string{"http://a"}, ""))
	assert.True(t, originAllowed([]string{"http://a"}, "http://a"))
	assert.False(t, originAllowed([]string{"http://a"}, "http://b"))
}
