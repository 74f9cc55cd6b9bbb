package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/betbot/botvisor/internal/domain"
)

var connectedFrame = []byte(`{"type":"connected"}`)

// sseSubscriber 把推送写成 text/event-stream 帧
type sseSubscriber struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	wrote   bool
}

func newSSESubscriber(w http.ResponseWriter, flusher http.Flusher) *sseSubscriber {
	return &sseSubscriber{w: w, flusher: flusher}
}

func (s *sseSubscriber) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrote
}

func (s *sseSubscriber) Connected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.wrote = true
	return s.frame("data: %s\n\n", connectedFrame)
}

func (s *sseSubscriber) Push(entries []domain.LogEntry) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// json.Marshal 的输出没有裸换行，单行 data 即可
	return s.frame("data: %s\n\n", payload)
}

func (s *sseSubscriber) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame(": keepalive\n\n")
}

func (s *sseSubscriber) frame(format string, args ...any) error {
	if _, err := fmt.Fprintf(s.w, format, args...); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// wsSubscriber 同样的 JSON 负载，用 text message 发送；keep-alive 用 ping
type wsSubscriber struct {
	conn      *websocket.Conn
	writeWait time.Duration
	mu        sync.Mutex
}

func newWSSubscriber(conn *websocket.Conn, pingInterval time.Duration) *wsSubscriber {
	return &wsSubscriber{conn: conn, writeWait: pingInterval}
}

func (s *wsSubscriber) Connected() error { return s.write(connectedFrame) }

func (s *wsSubscriber) Push(entries []domain.LogEntry) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return s.write(payload)
}

func (s *wsSubscriber) KeepAlive() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait))
}

func (s *wsSubscriber) write(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// readLoop 只为感知客户端断开（以及处理 pong/close 控制帧）
func (s *wsSubscriber) readLoop(disconnected func()) {
	defer disconnected()
	s.conn.SetReadLimit(4096)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *wsSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
