// Package logcapture multiplexes a worker's stdout/stderr into one ordered,
// leveled entry stream that is mirrored to the bot's sink file and persisted
// to a ports.LogStore.
//
// Level is decided by the channel only: stdout is info, stderr is error.
// Each Write (one pipe read) becomes exactly one entry. The sink line is
// appended synchronously, in arrival order across both channels, and is
// never dropped. Persistence goes through a bounded queue; when the queue is
// full the durable copy of the entry is dropped and counted.
package logcapture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/metrics"
	"github.com/betbot/botvisor/internal/ports"
)

// TimestampLayout ISO-8601，UTC，毫秒精度
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	DefaultQueueSize      = 1024
	DefaultPersistTimeout = 5 * time.Second
)

type Options struct {
	QueueSize      int
	PersistTimeout time.Duration
	Now            func() time.Time
}

type Capture struct {
	botID int64
	store ports.LogStore
	log   *logrus.Entry
	opts  Options

	sink     *os.File
	sinkPath string

	mu     sync.Mutex
	closed bool
	queue  chan domain.LogEntry
	done   chan struct{}
}

// New opens (creating if needed) the sink file in append mode and starts the
// drain goroutine. An empty sinkPath disables file mirroring; a nil store
// disables persistence.
func New(botID int64, sinkPath string, store ports.LogStore, log *logrus.Entry, opts Options) (*Capture, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Capture{
		botID:    botID,
		store:    store,
		log:      log.WithField("bot_id", botID),
		opts:     opts,
		sinkPath: sinkPath,
		queue:    make(chan domain.LogEntry, opts.QueueSize),
		done:     make(chan struct{}),
	}
	if sinkPath != "" {
		if err := os.MkdirAll(filepath.Dir(sinkPath), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir sink dir: %w", err)
		}
		f, err := os.OpenFile(sinkPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open sink: %w", err)
		}
		c.sink = f
	}
	go c.drain()
	return c, nil
}

// Stdout returns the writer for the primary output channel (level info).
func (c *Capture) Stdout() io.Writer { return &channelWriter{c: c, level: domain.LogLevelInfo} }

// Stderr returns the writer for the error output channel (level error).
func (c *Capture) Stderr() io.Writer { return &channelWriter{c: c, level: domain.LogLevelError} }

type channelWriter struct {
	c     *Capture
	level domain.LogLevel
}

func (w *channelWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w.c.enqueue(w.level, string(p))
	}
	// 永远返回成功：不能让 worker 因为日志落盘失败而阻塞/报错
	return len(p), nil
}

func (c *Capture) enqueue(level domain.LogLevel, chunk string) {
	e := domain.LogEntry{
		BotID:     c.botID,
		Timestamp: c.opts.Now().UTC(),
		Level:     level,
		Message:   strings.TrimRight(chunk, "\r\n"),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	// sink 同步写，锁保证 stdout/stderr 的先后顺序
	c.writeSink(FormatLine(e))
	if c.store == nil {
		return
	}
	select {
	case c.queue <- e:
	default:
		metrics.CaptureDropped.Add(1)
	}
}

func (c *Capture) drain() {
	defer close(c.done)
	for e := range c.queue {
		c.persist(e)
	}
}

func (c *Capture) writeSink(line string) {
	if c.sink == nil {
		return
	}
	if _, err := io.WriteString(c.sink, line); err != nil {
		c.log.WithError(err).Warn("write sink failed")
	}
}

func (c *Capture) persist(e domain.LogEntry) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.PersistTimeout)
	defer cancel()
	if err := c.store.AppendLog(ctx, e); err != nil {
		metrics.CapturePersistErrors.Add(1)
		c.log.WithError(fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)).Warn("persist log entry failed")
	}
}

// Close drains queued entries, appends the exit line to the sink and closes
// it. Must be called after the process' output pipes are done (cmd.Wait
// returned). Safe to call more than once.
func (c *Capture) Close(exitCode int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	<-c.done
	if c.sink == nil {
		return nil
	}
	c.writeSink(FormatExitLine(c.opts.Now().UTC(), exitCode))
	return c.sink.Close()
}

// Abort records reason as an error entry and closes the capture without an
// exit line. Used when the process never started.
func (c *Capture) Abort(reason string) error {
	c.enqueue(domain.LogLevelError, reason)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	<-c.done
	if c.sink == nil {
		return nil
	}
	return c.sink.Close()
}

// SinkPath returns the mirrored file path ("" when disabled).
func (c *Capture) SinkPath() string { return c.sinkPath }

// FormatLine renders e as a sink line: "[<ts>] [<LEVEL>] <message>\n".
func FormatLine(e domain.LogEntry) string {
	return fmt.Sprintf("[%s] [%s] %s\n", e.Timestamp.UTC().Format(TimestampLayout), e.Level.Upper(), e.Message)
}

// FormatExitLine renders the final sink line written when the process exits.
func FormatExitLine(ts time.Time, code int) string {
	return fmt.Sprintf("[%s] Process exited with code %d\n", ts.UTC().Format(TimestampLayout), code)
}
