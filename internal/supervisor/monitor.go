package supervisor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultMonitorInterval = 30 * time.Second

// Monitor periodically reconciles bot records against the registry.
// It never signals or starts processes.
type Monitor struct {
	sup      *Supervisor
	interval time.Duration
	timeout  time.Duration
	log      *logrus.Entry
	kick     chan struct{}
}

func NewMonitor(sup *Supervisor, interval time.Duration, log *logrus.Entry) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	if log == nil {
		log = sup.log
	}
	timeout := interval
	if timeout > 30*time.Second {
		timeout = 30 * time.Second
	}
	return &Monitor{sup: sup, interval: interval, timeout: timeout, log: log, kick: make(chan struct{}, 1)}
}

// Trigger asks a running monitor for an extra pass. Non-blocking; requests
// made while one is already pending are merged.
func (m *Monitor) Trigger() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Run executes one pass immediately, then one per interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.log.WithField("interval", m.interval).Info("health monitor started")
	defer m.log.Info("health monitor stopped")

	m.RunOnce(ctx)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.RunOnce(ctx)
		case <-m.kick:
			m.log.Debug("reconcile pass triggered")
			m.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single reconciliation pass and returns the corrected ids.
func (m *Monitor) RunOnce(ctx context.Context) []int64 {
	passCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	corrected, err := m.sup.Reconcile(passCtx)
	if err != nil {
		m.log.WithError(err).Warn("reconcile pass finished with errors")
	}
	if len(corrected) > 0 {
		m.log.WithField("corrected", corrected).Info("reconcile pass corrected records")
	}
	return corrected
}
