package metrics

import "expvar"

var (
	BotsStarted          = expvar.NewInt("bots_started")
	BotsStopped          = expvar.NewInt("bots_stopped")
	BotsExitedAbnormally = expvar.NewInt("bots_exited_abnormally")
	BotsAutoRestarts     = expvar.NewInt("bots_auto_restarts")
	SpawnFailures        = expvar.NewInt("spawn_failures")
	ForcedKills          = expvar.NewInt("forced_kills")
	ReconcileRuns        = expvar.NewInt("reconcile_runs")
	ReconcileErrors      = expvar.NewInt("reconcile_errors")
	ReconcileCorrections = expvar.NewInt("reconcile_corrections")
	CaptureDropped       = expvar.NewInt("capture_dropped")
	CapturePersistErrors = expvar.NewInt("capture_persist_errors")
	StreamSubscribers    = expvar.NewInt("stream_subscribers")
	StreamBatchesPushed  = expvar.NewInt("stream_batches_pushed")
)

// bots_running 由 supervisor 在 registry 变化时更新
var runningBots = expvar.NewInt("bots_running")

// SetRunning 更新当前 registry 中的 handle 数
func SetRunning(n int) {
	runningBots.Set(int64(n))
}
