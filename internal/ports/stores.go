package ports

import (
	"context"
	"time"

	"github.com/betbot/botvisor/internal/domain"
)

// BotStore is the durable bot record store the supervisor consumes.
//
// GetBot returns (nil, nil) when no record exists, matching the rest of the
// repositories in this module.
type BotStore interface {
	GetBot(ctx context.Context, botID int64) (*domain.Bot, error)
	ListBots(ctx context.Context) ([]domain.Bot, error)
	ListRunningBots(ctx context.Context) ([]domain.Bot, error)
	MarkRunning(ctx context.Context, botID int64, pid int, startedAt time.Time) error
	MarkStopped(ctx context.Context, botID int64, stoppedAt time.Time) error
	IncrementRestartCount(ctx context.Context, botID int64) (int, error)
}

// BotCatalog adds the definition CRUD the control plane needs on top of BotStore.
type BotCatalog interface {
	BotStore
	CreateBot(ctx context.Context, b *domain.Bot) error
	UpdateLogPath(ctx context.Context, botID int64, logPath string) error
	DeleteBot(ctx context.Context, botID int64) error
}

// LogStore 持久化日志：最新的在前存储，分页读取时按时间正序返回
type LogStore interface {
	AppendLog(ctx context.Context, entry domain.LogEntry) error
	ListLogs(ctx context.Context, botID int64, page, pageSize int) (domain.LogPage, error)
}
