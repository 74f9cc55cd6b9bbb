package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/botvisor/internal/auth"
	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/supervisor"
	"github.com/betbot/botvisor/pkg/client"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{"BOTCTL_SERVER", "BOTCTL_TOKEN", "BOTCTL_JWT_SECRET", "BOTVISOR_JWT_SECRET", "BOTCTL_JWT_ALGORITHM", "BOTVISOR_JWT_ALGORITHM"} {
		t.Setenv(k, "")
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/bots/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing bearer token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/bots/" && r.Method == http.MethodGet:
			pid := 321
			_ = json.NewEncoder(w).Encode(map[string]any{"bots": []map[string]any{
				{"id": 1, "name": "alpha", "command": "/bin/sleep", "status": "running", "pid": pid, "is_running": true, "uptime": 90},
				{"id": 2, "name": "beta", "command": "/bin/true", "status": "stopped"},
			}})
		case r.URL.Path == "/api/bots/" && r.Method == http.MethodPost:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": 3, "name": body["name"], "command": body["command"], "args": body["args"],
				"auto_restart": body["auto_restart"], "log_path": "/var/log/bots/bot-3.log", "status": "stopped",
			})
		case r.URL.Path == "/api/bots/2/start":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"bot already running"}`))
		case r.URL.Path == "/api/bots/1/logs/tail":
			_ = json.NewEncoder(w).Encode(map[string]any{"bot_id": 1, "entries": []map[string]any{
				{"timestamp": "2024-01-01T00:00:00Z", "level": "error", "message": "boom"},
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		}
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestList_PrintsTable(t *testing.T) {
	isolateEnv(t)
	ts := fakeServer(t)

	out, err := run(t, "list", "--server", ts.URL, "--token", "secret-token")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[1], "alpha")
	assert.Contains(t, lines[1], "321")
	assert.Contains(t, lines[1], "1m30s")
	assert.Contains(t, lines[2], "beta")
	assert.Contains(t, lines[2], "-")
}

func TestCreate_SendsArgsAndFlags(t *testing.T) {
	isolateEnv(t)
	ts := fakeServer(t)
	t.Setenv("BOTCTL_SERVER", ts.URL)
	t.Setenv("BOTCTL_TOKEN", "secret-token")

	out, err := run(t, "create", "gamma", "/usr/bin/python3", "--auto-restart", "--json", "--", "bot.py", "--id", "{{BOT_ID}}")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "gamma", got["name"])
	assert.Equal(t, []any{"bot.py", "--id", "{{BOT_ID}}"}, got["args"])
	assert.Equal(t, true, got["auto_restart"])
}

func TestConfigFileSuppliesServerAndToken(t *testing.T) {
	isolateEnv(t)
	ts := fakeServer(t)

	path := filepath.Join(t.TempDir(), "botctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: "+ts.URL+"\ntoken: secret-token\n"), 0o600))

	out, err := run(t, "logs", "1", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[ERROR] boom")
}

func TestErrorsSurfaceServerMessage(t *testing.T) {
	isolateEnv(t)
	ts := fakeServer(t)

	_, err := run(t, "start", "2", "--server", ts.URL, "--token", "secret-token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "bot already running")

	_, err = run(t, "list", "--server", ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, err = run(t, "start", "abc", "--server", ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid bot id")
}

func TestTokenMint_RoundTrips(t *testing.T) {
	isolateEnv(t)
	t.Setenv("BOTVISOR_JWT_SECRET", "shared")

	out, err := run(t, "token", "mint", "--subject", "ops", "--scope", "bots:write")
	require.NoError(t, err)

	claims, err := auth.New("shared", "HS256").Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, []string{"bots:write"}, claims.Scopes)

	t.Setenv("BOTVISOR_JWT_SECRET", "")
	_, err = run(t, "token", "mint")
	require.Error(t, err)
}

// 客户端的类型是独立声明的，这里保证和服务端的 JSON 一致
func TestClientTypesMatchServerJSON(t *testing.T) {
	pid := 77
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st := supervisor.BotState{
		Bot: domain.Bot{
			ID: 4, Name: "delta", Command: "/bin/sleep", Args: []string{"30"},
			LogPath: "/tmp/bot-4.log", Status: domain.BotStatusRunning, PID: &pid,
			StartedAt: &started, RestartCount: 2, AutoRestart: true, IsTemporary: true,
		},
		IsRunning: true,
		Uptime:    12,
	}
	raw, err := json.Marshal(st)
	require.NoError(t, err)
	var got client.BotState
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, int64(4), got.ID)
	assert.Equal(t, "running", got.Status)
	require.NotNil(t, got.PID)
	assert.Equal(t, 77, *got.PID)
	assert.Equal(t, 2, got.RestartCount)
	assert.True(t, got.AutoRestart)
	assert.True(t, got.IsTemporary)
	assert.True(t, got.IsRunning)
	assert.Equal(t, int64(12), got.Uptime)

	raw, err = json.Marshal(domain.LogPage{
		Entries: []domain.LogEntry{{BotID: 4, Timestamp: started, Level: domain.LogLevelError, Message: "boom"}},
		Page:    1, PageSize: 10, Total: 1,
	})
	require.NoError(t, err)
	var page client.LogPage
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "ERROR", page.Entries[0].LevelTag())
	assert.Equal(t, started, page.Entries[0].Timestamp)
	assert.Equal(t, 1, page.Total)
}
