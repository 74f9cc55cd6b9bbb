package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAsync_ServesExpvar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	SetRunning(3)
	srv, err := StartAsync(ctx, "127.0.0.1:0", nil)
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr + "/debug/vars")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var vars map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vars))
	assert.EqualValues(t, 3, vars["bots_running"])
	assert.Contains(t, vars, "reconcile_runs")
}
