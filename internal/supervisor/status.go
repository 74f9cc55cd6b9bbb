package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/metrics"
)

// Status returns the bot record merged with the registry view. A record
// that claims running without a live handle is corrected first.
func (s *Supervisor) Status(ctx context.Context, botID int64) (*BotState, error) {
	b, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("load bot %d: %w", botID, err)
	}
	if b == nil {
		return nil, fmt.Errorf("status bot %d: %w", botID, domain.ErrNotFound)
	}
	st := s.state(ctx, b)
	return &st, nil
}

// StatusAll is Status for every bot, ordered by id.
func (s *Supervisor) StatusAll(ctx context.Context) ([]BotState, error) {
	bots, err := s.bots.ListBots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	out := make([]BotState, 0, len(bots))
	for i := range bots {
		out = append(out, s.state(ctx, &bots[i]))
	}
	return out, nil
}

func (s *Supervisor) state(ctx context.Context, b *domain.Bot) BotState {
	if _, err := s.reconcile(ctx, b); err != nil {
		// 读路径不因修正失败而失败，is_running 仍以 registry 为准
		s.log.WithError(err).WithField("bot_id", b.ID).Warn("reconcile on status read failed")
	}
	st := BotState{Bot: *b}
	if h := s.lookup(b.ID); h != nil && !h.exited.Load() {
		st.IsRunning = true
		started := h.startedAt
		if b.StartedAt != nil {
			started = *b.StartedAt
		}
		if up := s.now().Sub(started); up > 0 {
			st.Uptime = int64(up / time.Second)
		}
	}
	return st
}

// reconcile brings one record in line with the registry. It returns true
// when the record was changed. The registry lock is held across the store
// write so a concurrent Start cannot be overwritten.
func (s *Supervisor) reconcile(ctx context.Context, b *domain.Bot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.handles[b.ID]
	switch {
	case h == nil && b.IsMarkedRunning():
		now := s.now()
		if err := s.bots.MarkStopped(ctx, b.ID, now); err != nil {
			return false, fmt.Errorf("mark bot %d stopped: %w", b.ID, err)
		}
		b.Status = domain.BotStatusStopped
		b.PID = nil
		b.StoppedAt = &now
		metrics.ReconcileCorrections.Add(1)
		return true, nil

	case h != nil && !h.exited.Load() && (!b.IsMarkedRunning() || b.PID == nil || *b.PID != h.pid):
		// start 时 MarkRunning 失败留下的旧值
		if err := s.bots.MarkRunning(ctx, b.ID, h.pid, h.startedAt); err != nil {
			return false, fmt.Errorf("mark bot %d running: %w", b.ID, err)
		}
		pid, started := h.pid, h.startedAt
		b.Status = domain.BotStatusRunning
		b.PID = &pid
		b.StartedAt = &started
		metrics.ReconcileCorrections.Add(1)
		return true, nil
	}
	return false, nil
}

// Reconcile runs one pass over every record marked running and corrects the
// ones without a live handle. Failures on single records are logged and the
// pass continues; they are returned joined.
func (s *Supervisor) Reconcile(ctx context.Context) ([]int64, error) {
	metrics.ReconcileRuns.Add(1)
	bots, err := s.bots.ListRunningBots(ctx)
	if err != nil {
		metrics.ReconcileErrors.Add(1)
		return nil, fmt.Errorf("list running bots: %w", err)
	}
	var (
		corrected []int64
		errs      []error
	)
	for i := range bots {
		b := &bots[i]
		changed, err := s.reconcile(ctx, b)
		if err != nil {
			metrics.ReconcileErrors.Add(1)
			s.log.WithError(err).WithField("bot_id", b.ID).Warn("reconcile failed")
			errs = append(errs, err)
			continue
		}
		if changed {
			corrected = append(corrected, b.ID)
			s.log.WithFields(logrus.Fields{"bot_id": b.ID, "status": b.Status}).Warn("bot record corrected")
		}
	}
	return corrected, errors.Join(errs...)
}
