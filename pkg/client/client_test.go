package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_SendsBearerAndDecodes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/bots/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"bots": []map[string]any{
				{"id": 1, "name": "alpha", "command": "/bin/true", "status": "running", "is_running": true, "uptime": 12},
			}})
		case http.MethodPost:
			var req CreateBotRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			writeJSON(w, http.StatusCreated, map[string]any{"id": 7, "name": req.Name, "command": req.Command, "status": "stopped"})
		}
	})
	mux.HandleFunc("/api/bots/7/start", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pid": 4242})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL+"/", "tok", time.Second)
	ctx := context.Background()

	bots, err := c.ListBots(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 1)
	assert.Equal(t, "alpha", bots[0].Name)
	assert.True(t, bots[0].IsRunning)
	assert.Equal(t, int64(12), bots[0].Uptime)

	b, err := c.CreateBot(ctx, CreateBotRequest{Name: "beta", Command: "/bin/sleep"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.ID)
	assert.Equal(t, "beta", b.Name)

	pid, err := c.Start(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestClient_MapsErrorBody(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/api/bots/3/start":
			writeJSON(w, http.StatusConflict, map[string]string{"error": "bot already running"})
		case "/api/bots/3/stop":
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
		default:
			http.Error(w, "plain text", http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := New(ts.URL, "", time.Second)
	ctx := context.Background()

	_, err := c.Start(ctx, 3)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusConflict))
	assert.Contains(t, err.Error(), "bot already running")

	hits.Store(0)
	err = c.Stop(ctx, 3)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusInternalServerError))
	assert.Equal(t, int32(1), hits.Load(), "POST must not be retried")

	_, err = c.Status(ctx, 99)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "plain text")
}

func TestClient_TailAndLogsQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/bots/5/logs/tail", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("n"))
		writeJSON(w, http.StatusOK, map[string]any{"bot_id": 5, "entries": []map[string]any{
			{"bot_id": 5, "level": "info", "message": "hello", "timestamp": "2024-01-01T00:00:00Z"},
		}})
	})
	mux.HandleFunc("/api/bots/5/logs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("page_size"))
		writeJSON(w, http.StatusOK, map[string]any{"entries": []any{}, "total": 51, "page": 2, "page_size": 50})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL, "", time.Second)
	entries, err := c.Tail(context.Background(), 5, 20)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Message)

	page, err := c.Logs(context.Background(), 5, 2, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Page)
}

func TestClient_FollowReadsBatches(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected"}`))
		batch, _ := json.Marshal([]LogEntry{
			{BotID: 9, Level: "info", Message: "a"},
			{BotID: 9, Level: "error", Message: "b"},
		})
		_ = conn.WriteMessage(websocket.TextMessage, batch)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []string
	err := New(ts.URL, "tok", time.Second).Follow(ctx, 9, func(batch []LogEntry) error {
		for _, e := range batch {
			got = append(got, e.Message)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	err = New(ts.URL, "bad", time.Second).Follow(ctx, 9, func([]LogEntry) error { return nil })
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
}
