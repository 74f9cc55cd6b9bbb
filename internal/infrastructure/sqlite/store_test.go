package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createBot(t *testing.T, s *BotStore, name string) *domain.Bot {
	t.Helper()
	b := &domain.Bot{Name: name, Command: "/bin/sh", Args: []string{"-c", "echo {{BOT_ID}}"}, AutoRestart: true}
	require.NoError(t, s.CreateBot(context.Background(), b))
	return b
}

func TestBotStore_CreateGetList(t *testing.T) {
	ctx := context.Background()
	s := NewBotStore(openTestDB(t))

	b := createBot(t, s, "alpha")
	require.NotZero(t, b.ID)

	got, err := s.GetBot(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, []string{"-c", "echo {{BOT_ID}}"}, got.Args)
	assert.Equal(t, domain.BotStatusStopped, got.Status)
	assert.True(t, got.AutoRestart)
	assert.False(t, got.IsTemporary)
	assert.Nil(t, got.PID)

	missing, err := s.GetBot(ctx, b.ID+100)
	require.NoError(t, err)
	assert.Nil(t, missing)

	createBot(t, s, "beta")
	all, err := s.ListBots(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// name 唯一
	err = s.CreateBot(ctx, &domain.Bot{Name: "alpha", Command: "x"})
	assert.Error(t, err)
}

func TestBotStore_RunningStoppedTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewBotStore(openTestDB(t))
	b := createBot(t, s, "alpha")

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkRunning(ctx, b.ID, 4242, started))

	running, err := s.ListRunningBots(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.NotNil(t, running[0].PID)
	assert.Equal(t, 4242, *running[0].PID)
	require.NotNil(t, running[0].StartedAt)
	assert.True(t, running[0].StartedAt.Equal(started))

	require.NoError(t, s.MarkStopped(ctx, b.ID, started.Add(time.Minute)))
	got, err := s.GetBot(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BotStatusStopped, got.Status)
	assert.Nil(t, got.PID)
	require.NotNil(t, got.StoppedAt)

	running, err = s.ListRunningBots(ctx)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestBotStore_IncrementRestartCountIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewBotStore(openTestDB(t))
	b := createBot(t, s, "alpha")

	for want := 1; want <= 3; want++ {
		n, err := s.IncrementRestartCount(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	_, err := s.IncrementRestartCount(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBotStore_DeleteCascadesLogs(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s := NewBotStore(db)
	logs := NewLogStore(db)
	b := createBot(t, s, "alpha")

	require.NoError(t, logs.AppendLog(ctx, domain.LogEntry{BotID: b.ID, Timestamp: time.Now(), Level: domain.LogLevelInfo, Message: "x"}))
	require.NoError(t, s.DeleteBot(ctx, b.ID))
	assert.ErrorIs(t, s.DeleteBot(ctx, b.ID), domain.ErrNotFound)

	page, err := logs.ListLogs(ctx, b.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Entries)
}

func TestLogStore_PagesNewestFirstReturnedOldestFirst(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	bots := NewBotStore(db)
	logs := NewLogStore(db)
	b := createBot(t, bots, "alpha")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		lvl := domain.LogLevelInfo
		if i%2 == 1 {
			lvl = domain.LogLevelError
		}
		require.NoError(t, logs.AppendLog(ctx, domain.LogEntry{
			BotID:     b.ID,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Level:     lvl,
			Message:   fmt.Sprintf("m%d", i),
		}))
	}

	// 第一页是最新的两条，正序返回
	p1, err := logs.ListLogs(ctx, b.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, p1.Total)
	require.Len(t, p1.Entries, 2)
	assert.Equal(t, "m3", p1.Entries[0].Message)
	assert.Equal(t, "m4", p1.Entries[1].Message)
	assert.Equal(t, domain.LogLevelError, p1.Entries[0].Level)

	p3, err := logs.ListLogs(ctx, b.ID, 3, 2)
	require.NoError(t, err)
	require.Len(t, p3.Entries, 1)
	assert.Equal(t, "m0", p3.Entries[0].Message)
	assert.True(t, p3.Entries[0].Timestamp.Equal(base))
}

func TestNormalizePage(t *testing.T) {
	p, s := NormalizePage(0, 0)
	assert.Equal(t, 1, p)
	assert.Equal(t, DefaultPageSize, s)
	_, s = NormalizePage(2, MaxPageSize+1)
	assert.Equal(t, MaxPageSize, s)
}
