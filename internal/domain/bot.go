package domain

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// BotIDPlaceholder 启动时替换为 bot 自身的十进制 id
const BotIDPlaceholder = "{{BOT_ID}}"

// BotStatus bot 的持久化状态（缓存值，以 supervisor 的 registry 为准）
type BotStatus string

const (
	BotStatusStopped BotStatus = "stopped"
	BotStatusRunning BotStatus = "running"
)

// Bot 领域模型：一个被托管的外部 worker 进程定义
type Bot struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Command      string     `json:"command"`       // 可执行文件（路径或 PATH 中的名字）
	Args         []string   `json:"args"`          // 参数模板，可包含 {{BOT_ID}}
	LogPath      string     `json:"log_path"`      // sink 文件路径
	Status       BotStatus  `json:"status"`        // 最近一次已知状态
	PID          *int       `json:"pid"`           // 运行中时的进程 id
	StartedAt    *time.Time `json:"started_at"`    // 最近一次启动时间
	StoppedAt    *time.Time `json:"stopped_at"`    // 最近一次停止时间
	RestartCount int        `json:"restart_count"` // 自动重启计数（只增不减）
	AutoRestart  bool       `json:"auto_restart"`  // 非零退出时是否自动重启
	IsTemporary  bool       `json:"is_temporary"`  // 临时 bot（由控制面负责清理）
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ResolveArgs returns the argument list with every BotIDPlaceholder
// replaced by the bot's decimal id.
func (b *Bot) ResolveArgs() []string {
	id := strconv.FormatInt(b.ID, 10)
	out := make([]string, len(b.Args))
	for i, a := range b.Args {
		out[i] = strings.ReplaceAll(a, BotIDPlaceholder, id)
	}
	return out
}

// IsMarkedRunning 持久化记录是否声称在运行
func (b *Bot) IsMarkedRunning() bool {
	return b.Status == BotStatusRunning
}

// SinkPath 返回 bot 的 sink 文件：优先用记录里的 log_path，否则落在 logsDir 下；都为空时不镜像到文件
func (b *Bot) SinkPath(logsDir string) string {
	if strings.TrimSpace(b.LogPath) != "" {
		return b.LogPath
	}
	if logsDir == "" {
		return ""
	}
	return filepath.Join(logsDir, "bots", fmt.Sprintf("bot-%d.log", b.ID))
}
