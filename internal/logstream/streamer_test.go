package logstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/logcapture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type botMap map[int64]*domain.Bot

func (m botMap) GetBot(_ context.Context, id int64) (*domain.Bot, error) {
	return m[id], nil
}

type recordingSub struct {
	connected  chan struct{}
	batches    chan []domain.LogEntry
	keepAlives chan struct{}
	pushErr    error
	once       sync.Once
}

func newRecordingSub() *recordingSub {
	return &recordingSub{
		connected:  make(chan struct{}),
		batches:    make(chan []domain.LogEntry, 16),
		keepAlives: make(chan struct{}, 16),
	}
}

func (s *recordingSub) Connected() error {
	s.once.Do(func() { close(s.connected) })
	return nil
}

func (s *recordingSub) Push(entries []domain.LogEntry) error {
	s.batches <- entries
	return s.pushErr
}

func (s *recordingSub) KeepAlive() error {
	select {
	case s.keepAlives <- struct{}{}:
	default:
	}
	return nil
}

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func line(level domain.LogLevel, msg string, offset time.Duration) string {
	return logcapture.FormatLine(domain.LogEntry{Timestamp: t0.Add(offset), Level: level, Message: msg})
}

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(s)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func newTestStreamer(t *testing.T, opts Options) (*Streamer, string) {
	t.Helper()
	dir := t.TempDir()
	sink := filepath.Join(dir, "bot-1.log")
	bots := botMap{1: {ID: 1, LogPath: sink}}
	if opts.Now == nil {
		opts.Now = func() time.Time { return t0 }
	}
	return New(bots, opts, nil), sink
}

func TestParseLine(t *testing.T) {
	now := time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)

	e, ok := ParseLine("[2024-01-01T12:00:01.250Z] [ERROR] disk full", now)
	require.True(t, ok)
	assert.Equal(t, domain.LogLevelError, e.Level)
	assert.Equal(t, "disk full", e.Message)
	assert.Equal(t, t0.Add(1250*time.Millisecond), e.Timestamp)

	e, ok = ParseLine("[2024-01-01T12:00:00.000Z] Process exited with code 1", now)
	require.True(t, ok)
	assert.Equal(t, domain.LogLevelInfo, e.Level)
	assert.Equal(t, "[2024-01-01T12:00:00.000Z] Process exited with code 1", e.Message)
	assert.Equal(t, now, e.Timestamp)

	e, ok = ParseLine("plain worker output", now)
	require.True(t, ok)
	assert.Equal(t, domain.LogLevelInfo, e.Level)
	assert.Equal(t, "plain worker output", e.Message)

	e, ok = ParseLine("[yesterday] [ERROR] bad timestamp", now)
	require.True(t, ok)
	assert.Equal(t, domain.LogLevelError, e.Level)
	assert.Equal(t, "bad timestamp", e.Message)
	assert.Equal(t, now, e.Timestamp)

	_, ok = ParseLine("   \r\n", now)
	assert.False(t, ok)
}

func TestTail_ReturnsLastNParsedEntries(t *testing.T) {
	s, sink := newTestStreamer(t, Options{})
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString(line(domain.LogLevelInfo, fmt.Sprintf("msg-%d", i), time.Duration(i)*time.Second))
		b.WriteString("\n")
	}
	b.WriteString("garbage line\n")
	appendFile(t, sink, b.String())

	got, err := s.Tail(context.Background(), 1, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "msg-8", got[0].Message)
	assert.Equal(t, "msg-9", got[1].Message)
	assert.Equal(t, "garbage line", got[2].Message)
	assert.Equal(t, domain.LogLevelInfo, got[2].Level)
	assert.Equal(t, t0, got[2].Timestamp)
}

func TestTail_MissingSinkAndUnknownBot(t *testing.T) {
	s, _ := newTestStreamer(t, Options{})

	got, err := s.Tail(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.Tail(context.Background(), 2, 10)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTail_BoundedByMaxBytes(t *testing.T) {
	s, sink := newTestStreamer(t, Options{MaxTailBytes: 64})
	appendFile(t, sink, line(domain.LogLevelInfo, strings.Repeat("x", 100), 0))
	appendFile(t, sink, line(domain.LogLevelError, "last", 0))

	got, err := s.Tail(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "last", got[0].Message)
	assert.Equal(t, domain.LogLevelError, got[0].Level)
}

func startStream(t *testing.T, s *Streamer, sub *recordingSub) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Stream(ctx, 1, sub) }()
	select {
	case <-sub.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber never connected")
	}
	t.Cleanup(cancel)
	return cancel, errc
}

func TestStream_PushesOnlyAppendedLinesInOneBatch(t *testing.T) {
	s, sink := newTestStreamer(t, Options{PollInterval: 50 * time.Millisecond})
	appendFile(t, sink, line(domain.LogLevelInfo, "old-1", 0)+line(domain.LogLevelInfo, "old-2", 0))

	sub := newRecordingSub()
	cancel, errc := startStream(t, s, sub)

	appendFile(t, sink, line(domain.LogLevelError, "fresh", time.Second))

	select {
	case batch := <-sub.batches:
		require.Len(t, batch, 1)
		assert.Equal(t, "fresh", batch[0].Message)
		assert.Equal(t, domain.LogLevelError, batch[0].Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch pushed")
	}

	// 之后的轮询不应重复推送
	select {
	case batch := <-sub.batches:
		t.Fatalf("unexpected extra batch: %+v", batch)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-errc)
}

func TestStream_CarriesPartialLineUntilCompleted(t *testing.T) {
	s, sink := newTestStreamer(t, Options{PollInterval: 50 * time.Millisecond})
	sub := newRecordingSub()
	startStream(t, s, sub)

	full := line(domain.LogLevelInfo, "split message", 0)
	appendFile(t, sink, full[:10])

	select {
	case batch := <-sub.batches:
		t.Fatalf("partial line pushed early: %+v", batch)
	case <-time.After(300 * time.Millisecond):
	}

	appendFile(t, sink, full[10:])
	select {
	case batch := <-sub.batches:
		require.Len(t, batch, 1)
		assert.Equal(t, "split message", batch[0].Message)
	case <-time.After(5 * time.Second):
		t.Fatal("completed line never pushed")
	}
}

func TestStream_TruncationResetsWatermark(t *testing.T) {
	s, sink := newTestStreamer(t, Options{PollInterval: 50 * time.Millisecond})
	appendFile(t, sink, strings.Repeat(line(domain.LogLevelInfo, "before truncate", 0), 5))

	sub := newRecordingSub()
	startStream(t, s, sub)

	require.NoError(t, os.WriteFile(sink, []byte(line(domain.LogLevelInfo, "after", 0)), 0o644))

	select {
	case batch := <-sub.batches:
		require.Len(t, batch, 1)
		assert.Equal(t, "after", batch[0].Message)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch after truncation")
	}
}

func TestStream_SinkCreatedAfterSubscription(t *testing.T) {
	s, sink := newTestStreamer(t, Options{PollInterval: time.Hour})
	sub := newRecordingSub()
	startStream(t, s, sub)

	appendFile(t, sink, line(domain.LogLevelInfo, "born", 0))

	select {
	case batch := <-sub.batches:
		require.Len(t, batch, 1)
		assert.Equal(t, "born", batch[0].Message)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch for newly created sink")
	}
}

func TestStream_KeepAliveAndPushFailure(t *testing.T) {
	s, sink := newTestStreamer(t, Options{PollInterval: 50 * time.Millisecond, KeepAlive: 30 * time.Millisecond})
	sub := newRecordingSub()
	sub.pushErr = errors.New("client gone")
	_, errc := startStream(t, s, sub)

	select {
	case <-sub.keepAlives:
	case <-time.After(5 * time.Second):
		t.Fatal("no keep-alive sent")
	}

	appendFile(t, sink, line(domain.LogLevelInfo, "x", 0))
	select {
	case err := <-errc:
		require.EqualError(t, err, "client gone")
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after push failure")
	}
}

func TestStream_UnknownBot(t *testing.T) {
	s, _ := newTestStreamer(t, Options{})
	err := s.Stream(context.Background(), 9, newRecordingSub())
	require.ErrorIs(t, err, domain.ErrNotFound)
}
