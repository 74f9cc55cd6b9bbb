package logstream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/betbot/botvisor/internal/domain"
)

// Tail returns the last n parsed entries of the bot's sink. A sink that does
// not exist yet yields an empty slice.
func (s *Streamer) Tail(ctx context.Context, botID int64, n int) ([]domain.LogEntry, error) {
	path, err := s.SinkPath(ctx, botID)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = DefaultTailLines
	}
	if path == "" {
		return []domain.LogEntry{}, nil
	}
	lines, err := tailLines(path, n, s.opts.MaxTailBytes)
	if err != nil {
		return nil, err
	}
	return parseLines(lines, s.opts.Now()), nil
}

// tailLines: 从文件末尾最多读取 maxBytes，取最后 n 个非空行。
func tailLines(path string, n int, maxBytes int64) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size <= 0 {
		return nil, nil
	}

	start := int64(0)
	if size > maxBytes {
		start = size - maxBytes
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	r := bufio.NewReader(io.LimitReader(f, size-start))
	if start > 0 {
		// 从中间开始读，第一行不完整
		if _, err := r.ReadString('\n'); err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, err
		}
	}

	var lines []string
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
			if len(lines) > n {
				// 只保留最后 n 行（滑动窗口）
				lines = lines[len(lines)-n:]
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	return lines, nil
}
