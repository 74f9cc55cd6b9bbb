package sqlite

import (
	"context"
	"fmt"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/ports"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// LogStore implements ports.LogStore on the log_entries table.
type LogStore struct {
	db *DB
}

var _ ports.LogStore = (*LogStore)(nil)

func NewLogStore(db *DB) *LogStore {
	return &LogStore{db: db}
}

type logRow struct {
	ID      int64  `db:"id"`
	BotID   int64  `db:"bot_id"`
	TS      string `db:"ts"`
	Level   string `db:"level"`
	Message string `db:"message"`
}

func (s *LogStore) AppendLog(ctx context.Context, e domain.LogEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO log_entries (bot_id,ts,level,message) VALUES (?,?,?,?)`,
		e.BotID, formatTime(e.Timestamp), string(e.Level), e.Message)
	if err != nil {
		return fmt.Errorf("append log of bot %d: %w", e.BotID, err)
	}
	return nil
}

// ListLogs 第 page 页（从 1 开始）：按最新在前取一页，再翻转成正序返回
func (s *LogStore) ListLogs(ctx context.Context, botID int64, page, pageSize int) (domain.LogPage, error) {
	page, pageSize = NormalizePage(page, pageSize)
	out := domain.LogPage{Page: page, PageSize: pageSize, Entries: []domain.LogEntry{}}

	if err := s.db.GetContext(ctx, &out.Total, `SELECT COUNT(*) FROM log_entries WHERE bot_id=?`, botID); err != nil {
		return out, fmt.Errorf("count logs of bot %d: %w", botID, err)
	}

	var rows []logRow
	if err := s.db.SelectContext(ctx, &rows, `
SELECT id,bot_id,ts,level,message
FROM log_entries
WHERE bot_id=?
ORDER BY id DESC
LIMIT ? OFFSET ?
`, botID, pageSize, (page-1)*pageSize); err != nil {
		return out, fmt.Errorf("list logs of bot %d: %w", botID, err)
	}
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		out.Entries = append(out.Entries, domain.LogEntry{
			ID:        r.ID,
			BotID:     r.BotID,
			Timestamp: parseTime(r.TS),
			Level:     domain.LogLevel(r.Level),
			Message:   r.Message,
		})
	}
	return out, nil
}

// NormalizePage clamps page/pageSize to sane bounds.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}
