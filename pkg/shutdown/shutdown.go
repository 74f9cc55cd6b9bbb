package shutdown

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/botvisor/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

// Stage 关闭阶段：数值小的先执行，同一阶段内的回调并发执行
type Stage int

const (
	StageIngress  Stage = 10 // 停止接收新请求（HTTP、debug server）
	StageWorkers  Stage = 20 // 后台循环、被托管进程
	StageStorage  Stage = 30 // 存储、日志文件
	StageFinalize Stage = 40
)

type callback struct {
	name    string
	stage   Stage
	handler Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	callbacks []callback
	mu        sync.Mutex
	once      sync.Once
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, stage Stage, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback{name: name, stage: stage, handler: handler})
}

// Shutdown 按阶段执行所有关闭回调（阻塞调用，只执行一次）
// ctx 应该是一个带超时的 context，避免无限等待
func (m *Manager) Shutdown(ctx context.Context) {
	m.once.Do(func() { m.shutdown(ctx) })
}

func (m *Manager) shutdown(ctx context.Context) {
	m.mu.Lock()
	callbacks := append([]callback(nil), m.callbacks...)
	m.mu.Unlock()

	log := logger.WithComponent("shutdown")
	if len(callbacks) == 0 {
		log.Info("没有注册的关闭回调")
		return
	}
	log.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

	sort.SliceStable(callbacks, func(i, j int) bool { return callbacks[i].stage < callbacks[j].stage })
	for start := 0; start < len(callbacks); {
		end := start
		for end < len(callbacks) && callbacks[end].stage == callbacks[start].stage {
			end++
		}
		if !m.runStage(ctx, log, callbacks[start:end]) {
			return
		}
		start = end
	}
	log.Info("所有关闭回调已完成")
}

// runStage 并发执行同一阶段；超时返回 false
func (m *Manager) runStage(ctx context.Context, log *logrus.Entry, stage []callback) bool {
	var wg sync.WaitGroup
	wg.Add(len(stage))
	for _, cb := range stage {
		go func(cb callback) {
			defer wg.Done()
			if err := cb.handler(ctx); err != nil {
				log.WithError(err).WithField("callback", cb.name).Warn("关闭回调失败")
			}
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		log.Warnf("关闭超时（stage=%d）: %v", stage[0].stage, ctx.Err())
		return false
	}
}
