package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/ports"
)

// BotStore implements ports.BotCatalog on the bots table.
type BotStore struct {
	db *DB
}

var _ ports.BotCatalog = (*BotStore)(nil)

func NewBotStore(db *DB) *BotStore {
	return &BotStore{db: db}
}

type botRow struct {
	ID           int64          `db:"id"`
	Name         string         `db:"name"`
	Command      string         `db:"command"`
	ArgsJSON     string         `db:"args_json"`
	LogPath      string         `db:"log_path"`
	Status       string         `db:"status"`
	PID          sql.NullInt64  `db:"pid"`
	StartedAt    sql.NullString `db:"started_at"`
	StoppedAt    sql.NullString `db:"stopped_at"`
	RestartCount int            `db:"restart_count"`
	AutoRestart  bool           `db:"auto_restart"`
	IsTemporary  bool           `db:"is_temporary"`
	CreatedAt    string         `db:"created_at"`
	UpdatedAt    string         `db:"updated_at"`
}

const botColumns = `id,name,command,args_json,log_path,status,pid,started_at,stopped_at,restart_count,auto_restart,is_temporary,created_at,updated_at`

func (r botRow) toBot() (domain.Bot, error) {
	b := domain.Bot{
		ID:           r.ID,
		Name:         r.Name,
		Command:      r.Command,
		LogPath:      r.LogPath,
		Status:       domain.BotStatus(r.Status),
		RestartCount: r.RestartCount,
		AutoRestart:  r.AutoRestart,
		IsTemporary:  r.IsTemporary,
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.ArgsJSON), &b.Args); err != nil {
		return b, fmt.Errorf("decode args of bot %d: %w", r.ID, err)
	}
	if r.PID.Valid {
		v := int(r.PID.Int64)
		b.PID = &v
	}
	if r.StartedAt.Valid {
		t := parseTime(r.StartedAt.String)
		b.StartedAt = &t
	}
	if r.StoppedAt.Valid {
		t := parseTime(r.StoppedAt.String)
		b.StoppedAt = &t
	}
	return b, nil
}

func (s *BotStore) GetBot(ctx context.Context, botID int64) (*domain.Bot, error) {
	var row botRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+botColumns+` FROM bots WHERE id=?`, botID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get bot %d: %w", botID, err)
	}
	b, err := row.toBot()
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BotStore) ListBots(ctx context.Context) ([]domain.Bot, error) {
	return s.list(ctx, `SELECT `+botColumns+` FROM bots ORDER BY id ASC`)
}

func (s *BotStore) ListRunningBots(ctx context.Context) ([]domain.Bot, error) {
	return s.list(ctx, `SELECT `+botColumns+` FROM bots WHERE status=? ORDER BY id ASC`, string(domain.BotStatusRunning))
}

func (s *BotStore) list(ctx context.Context, query string, args ...any) ([]domain.Bot, error) {
	var rows []botRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	out := make([]domain.Bot, 0, len(rows))
	for _, r := range rows {
		b, err := r.toBot()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *BotStore) MarkRunning(ctx context.Context, botID int64, pid int, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE bots
SET status=?, pid=?, started_at=?, updated_at=?
WHERE id=?
`, string(domain.BotStatusRunning), pid, formatTime(startedAt), formatTime(time.Now()), botID)
	if err != nil {
		return fmt.Errorf("mark bot %d running: %w", botID, err)
	}
	return nil
}

func (s *BotStore) MarkStopped(ctx context.Context, botID int64, stoppedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE bots
SET status=?, pid=NULL, stopped_at=?, updated_at=?
WHERE id=?
`, string(domain.BotStatusStopped), formatTime(stoppedAt), formatTime(time.Now()), botID)
	if err != nil {
		return fmt.Errorf("mark bot %d stopped: %w", botID, err)
	}
	return nil
}

func (s *BotStore) IncrementRestartCount(ctx context.Context, botID int64) (int, error) {
	if _, err := s.db.ExecContext(ctx, `
UPDATE bots
SET restart_count = restart_count + 1, updated_at=?
WHERE id=?
`, formatTime(time.Now()), botID); err != nil {
		return 0, fmt.Errorf("increment restart count of bot %d: %w", botID, err)
	}
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT restart_count FROM bots WHERE id=?`, botID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return n, nil
}

func (s *BotStore) CreateBot(ctx context.Context, b *domain.Bot) error {
	args := b.Args
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	now := time.Now()
	if b.Status == "" {
		b.Status = domain.BotStatusStopped
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO bots (name,command,args_json,log_path,status,restart_count,auto_restart,is_temporary,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
`, b.Name, b.Command, string(argsJSON), b.LogPath, string(b.Status), b.RestartCount, b.AutoRestart, b.IsTemporary, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert bot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert bot: last id: %w", err)
	}
	b.ID = id
	b.Args = args
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

func (s *BotStore) UpdateLogPath(ctx context.Context, botID int64, logPath string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bots SET log_path=?, updated_at=? WHERE id=?`, logPath, formatTime(time.Now()), botID)
	if err != nil {
		return fmt.Errorf("update log path of bot %d: %w", botID, err)
	}
	return nil
}

func (s *BotStore) DeleteBot(ctx context.Context, botID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE id=?`, botID)
	if err != nil {
		return fmt.Errorf("delete bot %d: %w", botID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
