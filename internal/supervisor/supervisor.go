// Package supervisor owns the set of running bot processes.
//
// The in-memory registry is the only authority on whether a bot is running;
// the status stored in the bot record is a cache that status reads and the
// Monitor reconcile against the registry.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/logcapture"
	"github.com/betbot/botvisor/internal/metrics"
	"github.com/betbot/botvisor/internal/ports"
)

const (
	DefaultGracePeriod      = 10 * time.Second
	DefaultRestartCooldown  = 2 * time.Second
	DefaultAutoRestartDelay = 5 * time.Second
	DefaultWaitDelay        = 2 * time.Second
	DefaultStoreTimeout     = 5 * time.Second
)

// ErrClosed start after Close
var ErrClosed = errors.New("supervisor closed")

type Config struct {
	LogsDir          string        // log_path 为空时 sink 落在 <LogsDir>/bots/bot-<id>.log
	WorkDir          string        // worker 的工作目录（空则继承）
	Env              []string      // 追加到 os.Environ() 之后
	GracePeriod      time.Duration // SIGTERM 到 SIGKILL 的等待
	RestartCooldown  time.Duration // restart 中 stop 与 start 的间隔
	AutoRestartDelay time.Duration // 异常退出后自动重启前的等待
	WaitDelay        time.Duration // 进程退出后等待输出管道关闭的上限
	StoreTimeout     time.Duration // 后台路径（退出处理、自动重启）的存储超时
	StopOnShutdown   bool          // Close 时是否停止所有 worker
	CaptureQueueSize int
}

func (c *Config) setDefaults() {
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.RestartCooldown < 0 {
		c.RestartCooldown = 0
	}
	if c.AutoRestartDelay < 0 {
		c.AutoRestartDelay = 0
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = DefaultWaitDelay
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		GracePeriod:      DefaultGracePeriod,
		RestartCooldown:  DefaultRestartCooldown,
		AutoRestartDelay: DefaultAutoRestartDelay,
		WaitDelay:        DefaultWaitDelay,
		StoreTimeout:     DefaultStoreTimeout,
		StopOnShutdown:   true,
	}
}

// BotState is the durable record merged with the live registry view.
type BotState struct {
	domain.Bot
	IsRunning bool  `json:"is_running"`
	Uptime    int64 `json:"uptime"` // 秒；未运行时为 0
}

// handle 运行中进程的运行时视图，只存在于 registry 中
type handle struct {
	botID     int64
	pid       int
	cmd       *exec.Cmd
	startedAt time.Time
	sinkPath  string
	capture   *logcapture.Capture

	done     chan struct{} // 退出处理（含自动重启决策）完成后关闭
	exitCode int           // done 关闭后有效
	stopping bool          // s.mu 保护；Stop 发起的退出不触发自动重启
	exited   atomic.Bool   // 进程已退出，正在收尾
}

type pendingRestart struct {
	cancel context.CancelFunc
}

type Supervisor struct {
	cfg  Config
	bots ports.BotStore
	logs ports.LogStore
	log  *logrus.Entry
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	handles map[int64]*handle
	pending map[int64]*pendingRestart
	closing bool
}

// New builds a Supervisor. logs may be nil (no durable log entries).
func New(cfg Config, bots ports.BotStore, logs ports.LogStore, log *logrus.Entry) *Supervisor {
	cfg.setDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:     cfg,
		bots:    bots,
		logs:    logs,
		log:     log,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[int64]*handle),
		pending: make(map[int64]*pendingRestart),
	}
}

// Start launches the bot's worker process and returns its pid.
func (s *Supervisor) Start(ctx context.Context, botID int64) (int, error) {
	b, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return 0, fmt.Errorf("load bot %d: %w", botID, err)
	}
	if b == nil {
		return 0, fmt.Errorf("start bot %d: %w", botID, domain.ErrNotFound)
	}
	s.cancelPendingRestart(botID)
	return s.start(ctx, b)
}

func (s *Supervisor) start(ctx context.Context, b *domain.Bot) (int, error) {
	log := s.log.WithField("bot_id", b.ID)

	// 持锁跨过 cmd.Start：同一 bot 并发 start 只能有一个成功
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if _, ok := s.handles[b.ID]; ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("start bot %d: %w", b.ID, domain.ErrAlreadyRunning)
	}
	h, err := s.spawn(b)
	if err != nil {
		s.mu.Unlock()
		metrics.SpawnFailures.Add(1)
		log.WithError(err).Error("spawn failed")
		if perr := s.bots.MarkStopped(ctx, b.ID, s.now()); perr != nil {
			log.WithError(perr).Warn("mark stopped after spawn failure")
		}
		return 0, err
	}
	s.handles[b.ID] = h
	running := len(s.handles)
	s.mu.Unlock()

	metrics.BotsStarted.Add(1)
	metrics.SetRunning(running)
	log.WithFields(logrus.Fields{"pid": h.pid, "command": b.Command, "sink": h.sinkPath}).Info("bot started")

	// 记录写失败不影响进程：状态读取与 monitor 会按 registry 修正
	if err := s.bots.MarkRunning(ctx, b.ID, h.pid, h.startedAt); err != nil {
		log.WithError(err).Warn("mark running failed")
	}

	s.wg.Add(1)
	go s.watch(h)
	return h.pid, nil
}

// spawn 调用方持有 s.mu
func (s *Supervisor) spawn(b *domain.Bot) (*handle, error) {
	sinkPath := b.SinkPath(s.cfg.LogsDir)
	capture, err := logcapture.New(b.ID, sinkPath, s.logs, s.log, logcapture.Options{QueueSize: s.cfg.CaptureQueueSize})
	if err != nil {
		return nil, &domain.SpawnError{BotID: b.ID, Command: b.Command, Err: err}
	}

	cmd := exec.Command(b.Command, b.ResolveArgs()...)
	cmd.Stdout = capture.Stdout()
	cmd.Stderr = capture.Stderr()
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("BOT_ID=%d", b.ID))
	cmd.WaitDelay = s.cfg.WaitDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		_ = capture.Abort(fmt.Sprintf("spawn failed: %v", err))
		return nil, &domain.SpawnError{BotID: b.ID, Command: b.Command, Err: err}
	}
	return &handle{
		botID:     b.ID,
		pid:       cmd.Process.Pid,
		cmd:       cmd,
		startedAt: s.now(),
		sinkPath:  sinkPath,
		capture:   capture,
		done:      make(chan struct{}),
	}, nil
}

// Stop terminates the bot's process group: SIGTERM, then SIGKILL once the
// grace period elapses. It returns after the exit has been fully processed.
func (s *Supervisor) Stop(ctx context.Context, botID int64) error {
	b, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("load bot %d: %w", botID, err)
	}
	if b == nil {
		return fmt.Errorf("stop bot %d: %w", botID, domain.ErrNotFound)
	}
	s.cancelPendingRestart(botID)

	h := s.lookup(botID)
	if h == nil {
		return fmt.Errorf("stop bot %d: %w", botID, domain.ErrNotRunning)
	}
	return s.stopHandle(ctx, h)
}

func (s *Supervisor) stopHandle(ctx context.Context, h *handle) error {
	log := s.log.WithFields(logrus.Fields{"bot_id": h.botID, "pid": h.pid})

	// 与 watch 的出 registry 在同一把锁下：要么 watch 看到 stopping，
	// 要么这里看到 handle 已经出了 registry（进程先自己退出了）
	s.mu.Lock()
	registered := s.handles[h.botID] == h
	if registered {
		h.stopping = true
	}
	s.mu.Unlock()
	if !registered {
		select {
		case <-h.done:
		case <-ctx.Done():
			return fmt.Errorf("stop bot %d: wait for exit: %w", h.botID, ctx.Err())
		}
		// 退出不是 Stop 触发的，撤掉它可能排上的自动重启
		s.cancelPendingRestart(h.botID)
		log.Info("bot already exited")
		return nil
	}

	if err := signalTerm(h.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.WithError(err).Warn("SIGTERM failed")
	}

	grace := time.NewTimer(s.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case <-h.done:
		log.Info("bot stopped")
		return nil
	case <-grace.C:
	}

	metrics.ForcedKills.Add(1)
	log.WithField("grace", s.cfg.GracePeriod).Warn("grace period elapsed, sending SIGKILL")
	if err := signalKill(h.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.WithError(err).Warn("SIGKILL failed")
	}
	select {
	case <-h.done:
		log.Info("bot killed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop bot %d: wait for exit: %w", h.botID, ctx.Err())
	}
}

// Restart stops the bot if it is running, waits the cooldown, then starts it.
// The cooldown is not cancellable.
func (s *Supervisor) Restart(ctx context.Context, botID int64) (int, error) {
	b, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return 0, fmt.Errorf("load bot %d: %w", botID, err)
	}
	if b == nil {
		return 0, fmt.Errorf("restart bot %d: %w", botID, domain.ErrNotFound)
	}
	if s.lookup(botID) != nil {
		if err := s.Stop(ctx, botID); err != nil && !errors.Is(err, domain.ErrNotRunning) {
			return 0, err
		}
		time.Sleep(s.cfg.RestartCooldown)
	}
	return s.Start(ctx, botID)
}

// Running returns the ids currently in the registry, ascending.
func (s *Supervisor) Running() []int64 {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close cancels pending auto-restarts and, when StopOnShutdown is set, stops
// every running worker and waits for their exit handling to finish.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	live := make([]*handle, 0, len(s.handles))
	for _, h := range s.handles {
		live = append(live, h)
	}
	s.mu.Unlock()
	s.cancel()

	if !s.cfg.StopOnShutdown {
		s.log.WithField("running", len(live)).Info("supervisor closed; workers left running")
		return nil
	}

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for _, h := range live {
		wg.Add(1)
		go func(h *handle) {
			defer wg.Done()
			if err := s.stopHandle(ctx, h); err != nil {
				emu.Lock()
				errs = append(errs, err)
				emu.Unlock()
			}
		}(h)
	}
	wg.Wait()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait exit watchers: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

func (s *Supervisor) lookup(botID int64) *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[botID]
}
