package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/infrastructure/sqlite"
)

const (
	defaultTailLines = 100
	maxTailLines     = 5000
)

// handleBotLogsPage 持久化日志分页（旧 → 新）
func (s *Server) handleBotLogsPage(w http.ResponseWriter, r *http.Request) {
	id, err := botIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.logs == nil {
		writeError(w, http.StatusNotImplemented, "log persistence disabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	b, err := s.bots.GetBot(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, domain.ErrNotFound.Error())
		return
	}

	page, pageSize := sqlite.NormalizePage(
		queryInt(r, "page", 1, 1, 1<<30),
		queryInt(r, "page_size", sqlite.DefaultPageSize, 1, sqlite.MaxPageSize),
	)
	res, err := s.logs.ListLogs(ctx, id, page, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBotLogsTail(w http.ResponseWriter, r *http.Request) {
	id, err := botIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	n := queryInt(r, "n", defaultTailLines, 1, maxTailLines)
	entries, err := s.feed.Tail(ctx, id, n)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bot_id": id, "entries": entries})
}

func (s *Server) handleBotLogsStream(w http.ResponseWriter, r *http.Request) {
	id, err := botIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := newSSESubscriber(w, flusher)
	err = s.feed.Stream(r.Context(), id, sub)
	if err == nil {
		return
	}
	if !sub.started() {
		// 还没写出任何字节，可以返回正常的错误响应
		writeLifecycleError(w, err)
		return
	}
	if !errors.Is(err, context.Canceled) {
		s.log.WithError(err).WithField("bot_id", id).Debug("sse stream ended")
	}
}

func (s *Server) handleBotLogsWS(w http.ResponseWriter, r *http.Request) {
	id, err := botIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// upgrade 之前先确认 bot 存在，404 仍是普通 HTTP 响应
	if _, err := s.feed.SinkPath(r.Context(), id); err != nil {
		writeLifecycleError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写了错误响应
		s.log.WithError(err).WithField("bot_id", id).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := newWSSubscriber(conn, s.cfg.WSPingInterval)
	go sub.readLoop(cancel)

	if err := s.feed.Stream(ctx, id, sub); err != nil {
		s.log.WithError(err).WithField("bot_id", id).Debug("websocket stream ended")
	}
	sub.close()
}
