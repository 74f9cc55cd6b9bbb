// Package badgerlog is a Badger-backed ports.LogStore.
//
// Keys are "log/<bot id hex>/<seq hex>" so a reverse prefix scan yields the
// newest entries first; per-bot sequences come from badger.Sequence.
package badgerlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/ports"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	seqBandwidth    = 128
)

type OpenOptions struct {
	Path          string
	EncryptionKey []byte        // 16/24/32 bytes；为空则不加密
	InMemory      bool          // 测试用
	Logger        badger.Logger // *logrus.Entry 即可；为空时关闭 badger 自身日志
}

type Store struct {
	db *badger.DB

	mu   sync.Mutex
	seqs map[int64]*badger.Sequence
}

var _ ports.LogStore = (*Store)(nil)

func Open(opts OpenOptions) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(opts.Path) == "" {
			return nil, errors.New("badgerlog: path is required")
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithLogger(opts.Logger)
	if len(opts.EncryptionKey) > 0 {
		// Badger 加密需要 index cache
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(32 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badgerlog: open: %w", err)
	}
	return &Store{db: db, seqs: make(map[int64]*badger.Sequence)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	for id, seq := range s.seqs {
		_ = seq.Release()
		delete(s.seqs, id)
	}
	s.mu.Unlock()
	return s.db.Close()
}

func botPrefix(botID int64) []byte {
	return []byte(fmt.Sprintf("log/%016x/", uint64(botID)))
}

func entryKey(botID int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("log/%016x/%016x", uint64(botID), seq))
}

func (s *Store) nextSeq(botID int64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.seqs[botID]
	if !ok {
		var err error
		seq, err = s.db.GetSequence([]byte(fmt.Sprintf("seq/%016x", uint64(botID))), seqBandwidth)
		if err != nil {
			return 0, err
		}
		s.seqs[botID] = seq
	}
	return seq.Next()
}

func (s *Store) AppendLog(_ context.Context, e domain.LogEntry) error {
	seq, err := s.nextSeq(e.BotID)
	if err != nil {
		return fmt.Errorf("badgerlog: sequence for bot %d: %w", e.BotID, err)
	}
	e.ID = int64(seq) + 1
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e.BotID, seq), val)
	})
	if err != nil {
		return fmt.Errorf("badgerlog: append log of bot %d: %w", e.BotID, err)
	}
	return nil
}

func (s *Store) ListLogs(_ context.Context, botID int64, page, pageSize int) (domain.LogPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	out := domain.LogPage{Page: page, PageSize: pageSize, Entries: []domain.LogEntry{}}
	prefix := botPrefix(botID)
	skip := (page - 1) * pageSize

	err := s.db.View(func(txn *badger.Txn) error {
		// total：只遍历 key
		kopts := badger.DefaultIteratorOptions
		kopts.PrefetchValues = false
		kopts.Prefix = prefix
		kit := txn.NewIterator(kopts)
		for kit.Rewind(); kit.Valid(); kit.Next() {
			out.Total++
		}
		kit.Close()

		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), 0xFF)
		newestFirst := make([]domain.LogEntry, 0, pageSize)
		for it.Seek(seekKey); it.Valid() && len(newestFirst) < pageSize; it.Next() {
			if skip > 0 {
				skip--
				continue
			}
			var e domain.LogEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			newestFirst = append(newestFirst, e)
		}
		for i := len(newestFirst) - 1; i >= 0; i-- {
			out.Entries = append(out.Entries, newestFirst[i])
		}
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("badgerlog: list logs of bot %d: %w", botID, err)
	}
	return out, nil
}
