package domain

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBot_ResolveArgsSubstitutesPlaceholder(t *testing.T) {
	b := Bot{ID: 42, Args: []string{"--id={{BOT_ID}}", "plain", "{{BOT_ID}}-{{BOT_ID}}"}}
	assert.Equal(t, []string{"--id=42", "plain", "42-42"}, b.ResolveArgs())
	// 模板本身不被修改
	assert.Equal(t, "--id={{BOT_ID}}", b.Args[0])
}

func TestSpawnError_MatchesSentinelAndUnwraps(t *testing.T) {
	err := error(&SpawnError{BotID: 1, Command: "nope", Err: os.ErrNotExist})
	assert.True(t, errors.Is(err, ErrSpawnFailure))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestBot_SinkPath(t *testing.T) {
	b := Bot{ID: 7}
	assert.Equal(t, "", b.SinkPath(""))
	assert.Equal(t, filepath.Join("logs", "bots", "bot-7.log"), b.SinkPath("logs"))
	b.LogPath = "/var/log/custom.log"
	assert.Equal(t, "/var/log/custom.log", b.SinkPath("logs"))
}
