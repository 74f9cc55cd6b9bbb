package client

import (
	"strings"
	"time"
)

// Bot is a bot record as returned by the control plane.
type Bot struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Command      string     `json:"command"`
	Args         []string   `json:"args"`
	LogPath      string     `json:"log_path"`
	Status       string     `json:"status"`
	PID          *int       `json:"pid"`
	StartedAt    *time.Time `json:"started_at"`
	StoppedAt    *time.Time `json:"stopped_at"`
	RestartCount int        `json:"restart_count"`
	AutoRestart  bool       `json:"auto_restart"`
	IsTemporary  bool       `json:"is_temporary"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BotState is a bot record merged with the live registry view.
type BotState struct {
	Bot
	IsRunning bool  `json:"is_running"`
	Uptime    int64 `json:"uptime"` // 秒
}

type LogEntry struct {
	ID        int64     `json:"id,omitempty"`
	BotID     int64     `json:"bot_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // info | error
	Message   string    `json:"message"`
}

// LevelTag is the upper-case level used in sink lines.
func (e LogEntry) LevelTag() string { return strings.ToUpper(e.Level) }

type LogPage struct {
	Entries  []LogEntry `json:"entries"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int        `json:"total"`
}
