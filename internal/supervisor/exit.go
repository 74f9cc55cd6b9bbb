package supervisor

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/metrics"
)

// watch 每个进程一个：阻塞在 Wait，退出后收尾并决定是否自动重启
func (s *Supervisor) watch(h *handle) {
	defer s.wg.Done()
	// 自动重启排好之后才关闭 done，Stop 据此撤销
	defer close(h.done)

	waitErr := h.cmd.Wait()
	code := exitCode(h.cmd, waitErr)
	h.exitCode = code
	h.exited.Store(true)

	log := s.log.WithFields(logrus.Fields{"bot_id": h.botID, "pid": h.pid, "exit_code": code})
	if waitErr != nil && errors.Is(waitErr, exec.ErrWaitDelay) {
		log.Warn("output pipes still open after exit; closed forcibly")
	}
	if err := h.capture.Close(code); err != nil {
		log.WithError(err).Warn("close log capture")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()

	// 先落盘 stopped 再出 registry：出 registry 之后才允许新的 Start，
	// 这样新进程的 running 不会被这里的 stopped 覆盖
	if err := s.bots.MarkStopped(ctx, h.botID, s.now()); err != nil {
		log.WithError(err).Warn("mark stopped failed")
	}

	s.mu.Lock()
	if cur, ok := s.handles[h.botID]; ok && cur == h {
		delete(s.handles, h.botID)
	}
	running := len(s.handles)
	requested := h.stopping
	s.mu.Unlock()
	metrics.SetRunning(running)

	if requested {
		metrics.BotsStopped.Add(1)
		log.Info("bot exited on request")
		return
	}
	if code == 0 {
		log.Info("bot exited")
		return
	}
	metrics.BotsExitedAbnormally.Add(1)
	log.Warn("bot exited abnormally")
	s.maybeAutoRestart(ctx, h.botID, log)
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return exitStatus(cmd.ProcessState)
	}
	if waitErr == nil {
		return 0
	}
	return -1
}

func (s *Supervisor) maybeAutoRestart(ctx context.Context, botID int64, log *logrus.Entry) {
	b, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		log.WithError(err).Warn("load bot for auto-restart")
		return
	}
	if b == nil || !b.AutoRestart {
		return
	}
	n, err := s.bots.IncrementRestartCount(ctx, botID)
	if err != nil {
		log.WithError(err).Warn("increment restart count")
		return
	}
	metrics.BotsAutoRestarts.Add(1)
	log.WithFields(logrus.Fields{"restart_count": n, "delay": s.cfg.AutoRestartDelay}).Warn("auto-restart scheduled")
	s.scheduleRestart(botID)
}

// scheduleRestart 调用方是 watch（wg 计数 > 0），这里 Add 是安全的
func (s *Supervisor) scheduleRestart(botID int64) {
	ctx, cancel := context.WithCancel(s.ctx)
	p := &pendingRestart{cancel: cancel}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		cancel()
		return
	}
	if prev := s.pending[botID]; prev != nil {
		prev.cancel()
	}
	s.pending[botID] = p
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		timer := time.NewTimer(s.cfg.AutoRestartDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		if s.pending[botID] == p {
			delete(s.pending, botID)
		}
		s.mu.Unlock()

		startCtx, cancelStart := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		defer cancelStart()
		log := s.log.WithField("bot_id", botID)
		b, err := s.bots.GetBot(startCtx, botID)
		if err != nil || b == nil {
			log.WithError(err).Warn("auto-restart: bot record unavailable")
			return
		}
		pid, err := s.start(startCtx, b)
		switch {
		case err == nil:
			log.WithField("pid", pid).Info("auto-restarted")
		case errors.Is(err, domain.ErrAlreadyRunning):
			log.Info("auto-restart skipped: already running")
		default:
			log.WithError(err).Error("auto-restart failed")
		}
	}()
}

func (s *Supervisor) cancelPendingRestart(botID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.pending[botID]; p != nil {
		p.cancel()
		delete(s.pending, botID)
	}
}
