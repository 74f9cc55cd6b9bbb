package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/betbot/botvisor/internal/domain"
)

type createBotRequest struct {
	Name        string   `json:"name"`
	Command     string   `json:"command"`
	Args        []string `json:"args"`
	LogPath     string   `json:"log_path"`
	AutoRestart bool     `json:"auto_restart"`
	IsTemporary bool     `json:"is_temporary"`
}

func (s *Server) handleBotsList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	states, err := s.sup.StatusAll(ctx)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": states})
}

func (s *Server) handleBotsCreate(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Command = strings.TrimSpace(req.Command)
	if req.Name == "" || req.Command == "" {
		writeError(w, http.StatusBadRequest, "name and command are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	b := &domain.Bot{
		Name:        req.Name,
		Command:     req.Command,
		Args:        req.Args,
		LogPath:     strings.TrimSpace(req.LogPath),
		AutoRestart: req.AutoRestart,
		IsTemporary: req.IsTemporary,
	}
	if err := s.bots.CreateBot(ctx, b); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			writeError(w, http.StatusConflict, fmt.Sprintf("bot name %q already exists", b.Name))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// 没指定 log_path 时按 id 固定 sink 位置，记录里始终有 sink 引用
	if b.LogPath == "" {
		if p := b.SinkPath(s.cfg.LogsDir); p != "" {
			if err := s.bots.UpdateLogPath(ctx, b.ID, p); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			b.LogPath = p
		}
	}
	s.log.WithField("bot_id", b.ID).WithField("name", b.Name).Info("bot created")
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleBotGet(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r)
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := botIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	st, err := s.sup.Status(ctx, id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleBotDelete(w http.ResponseWriter, r *http.Request) {
	id, err := botIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	st, err := s.sup.Status(ctx, id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	if st.IsRunning {
		writeLifecycleError(w, fmt.Errorf("delete bot %d: stop it first: %w", id, domain.ErrAlreadyRunning))
		return
	}
	if err := s.bots.DeleteBot(ctx, id); err != nil {
		writeLifecycleError(w, err)
		return
	}
	s.log.WithField("bot_id", id).Info("bot deleted")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleBotStart(w http.ResponseWriter, r *http.Request) {
	id, err := botIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	pid, err := s.sup.Start(ctx, id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pid": pid})
}

func (s *Server) handleBotStop(w http.ResponseWriter, r *http.Request) {
	id, err := botIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StopTimeout)
	defer cancel()

	if err := s.sup.Stop(ctx, id); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleBotRestart(w http.ResponseWriter, r *http.Request) {
	id, err := botIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StopTimeout)
	defer cancel()

	pid, err := s.sup.Restart(ctx, id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pid": pid})
}
