// Package logstream serves reads of a bot's sink file: tail pages and live
// subscriptions that push only what was appended after they started.
package logstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/metrics"
)

const (
	DefaultTailLines    = 100
	DefaultMaxTailBytes = 1 << 20
	DefaultKeepAlive    = 15 * time.Second
	DefaultPollInterval = 2 * time.Second

	// 单次增量读取上限，超出部分留给下一次通知
	maxReadChunk = 4 << 20
	// 超长且一直没有换行的内容按一行吐出
	maxPartialLine = 1 << 20
)

// BotGetter is the slice of the bot store the streamer needs.
type BotGetter interface {
	GetBot(ctx context.Context, botID int64) (*domain.Bot, error)
}

// Subscriber receives a live feed. Any returned error ends the stream.
type Subscriber interface {
	Connected() error
	Push(entries []domain.LogEntry) error
	KeepAlive() error
}

type Options struct {
	LogsDir      string // 与 supervisor 一致的默认 sink 目录
	MaxTailBytes int64
	KeepAlive    time.Duration
	PollInterval time.Duration // fsnotify 之外的兜底轮询
	Now          func() time.Time
}

type Streamer struct {
	bots BotGetter
	opts Options
	log  *logrus.Entry
}

func New(bots BotGetter, opts Options, log *logrus.Entry) *Streamer {
	if opts.MaxTailBytes <= 0 {
		opts.MaxTailBytes = DefaultMaxTailBytes
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Streamer{bots: bots, opts: opts, log: log}
}

// SinkPath resolves the sink file of a bot ("" when the bot has none).
func (s *Streamer) SinkPath(ctx context.Context, botID int64) (string, error) {
	b, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return "", fmt.Errorf("load bot %d: %w", botID, err)
	}
	if b == nil {
		return "", fmt.Errorf("bot %d: %w", botID, domain.ErrNotFound)
	}
	return b.SinkPath(s.opts.LogsDir), nil
}

// Stream pushes entries appended to the bot's sink after the call until ctx
// is done (nil) or the subscriber fails (its error). Bytes present before
// the subscription are never pushed.
func (s *Streamer) Stream(ctx context.Context, botID int64, sub Subscriber) error {
	path, err := s.SinkPath(ctx, botID)
	if err != nil {
		return err
	}
	log := s.log.WithFields(logrus.Fields{"bot_id": botID, "sink": path})

	f := &follower{path: path}
	f.watermark = f.size()

	// 水位与 watcher 都就绪后才回 connected
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if path != "" {
		if w, err := watchDir(filepath.Dir(path)); err != nil {
			log.WithError(err).Warn("fsnotify unavailable, polling only")
		} else {
			defer w.Close()
			events, errs = w.Events, w.Errors
		}
	}

	if err := sub.Connected(); err != nil {
		return err
	}
	metrics.StreamSubscribers.Add(1)
	defer metrics.StreamSubscribers.Add(-1)
	log.Debug("stream subscriber connected")
	defer log.Debug("stream subscriber gone")

	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()
	keepAlive := time.NewTicker(s.opts.KeepAlive)
	defer keepAlive.Stop()

	flush := func() error {
		if path == "" {
			return nil
		}
		lines, err := f.next()
		if err != nil {
			log.WithError(err).Warn("read sink")
			return nil
		}
		entries := parseLines(lines, s.opts.Now())
		if len(entries) == 0 {
			return nil
		}
		metrics.StreamBatchesPushed.Add(1)
		return sub.Push(entries)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if err := flush(); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.WithError(err).Warn("fsnotify error")
		case <-poll.C:
			if err := flush(); err != nil {
				return err
			}
		case <-keepAlive.C:
			if err := sub.KeepAlive(); err != nil {
				return err
			}
		}
	}
}

// watchDir 监听 sink 所在目录：文件之后才创建、被替换时也能收到事件
func watchDir(dir string) (*fsnotify.Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// follower 单个订阅的增量读取状态
type follower struct {
	path      string
	watermark int64
	partial   string // 尚未遇到换行的尾部
}

func (f *follower) size() int64 {
	st, err := os.Stat(f.path)
	if err != nil {
		return 0
	}
	return st.Size()
}

// next reads past the watermark and returns the complete lines found. A
// trailing line without newline is kept until it is completed.
func (f *follower) next() ([]string, error) {
	st, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// 被删除：之后重新创建的文件从头读
			f.watermark, f.partial = 0, ""
			return nil, nil
		}
		return nil, err
	}
	size := st.Size()
	if size < f.watermark {
		// 截断或被替换
		f.watermark, f.partial = 0, ""
	}
	if size == f.watermark {
		return nil, nil
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	n := size - f.watermark
	if n > maxReadChunk {
		n = maxReadChunk
	}
	buf := make([]byte, n)
	read, err := file.ReadAt(buf, f.watermark)
	if err != nil && err != io.EOF {
		return nil, err
	}
	f.watermark += int64(read)

	data := f.partial + string(buf[:read])
	idx := strings.LastIndexByte(data, '\n')
	if idx < 0 {
		f.partial = data
		if len(f.partial) > maxPartialLine {
			f.partial = ""
			return []string{data}, nil
		}
		return nil, nil
	}
	f.partial = data[idx+1:]
	return strings.Split(data[:idx], "\n"), nil
}
