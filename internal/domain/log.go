package domain

import (
	"strings"
	"time"
)

// LogLevel 日志级别：只按输出通道区分（stdout=info, stderr=error）
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelError LogLevel = "error"
)

// Upper 返回 sink 文件中使用的大写形式
func (l LogLevel) Upper() string {
	return strings.ToUpper(string(l))
}

// LogEntry 一条结构化日志。流式推送只输出 timestamp/level/message。
type LogEntry struct {
	ID        int64     `json:"id,omitempty"`
	BotID     int64     `json:"bot_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// LogPage 分页读取结果（按时间正序返回）
type LogPage struct {
	Entries  []LogEntry `json:"entries"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int        `json:"total"`
}
