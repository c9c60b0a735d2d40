package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"wildfire_crew/internal/config"
	"wildfire_crew/internal/metrics"
	"wildfire_crew/internal/orchestrator"
	"wildfire_crew/internal/report"
	sqlitestore "wildfire_crew/internal/store/sqlite"
)

type app struct {
	cfg     config.Config
	service *orchestrator.Service
	metrics *metrics.Collector
	logger  *zap.Logger
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/config", a.handleConfig)
	mux.HandleFunc("/presets", a.handlePresets)
	mux.HandleFunc("/episodes", a.handleEpisodes)
	mux.HandleFunc("/episodes/", a.handleEpisodeByID)
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics.Handler())
	}
	return a.loggingMiddleware(mux)
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": a.service.Running(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path": a.cfg.Path,
		"raw":  a.cfg.Raw,
	})
}

func (a *app) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.service.Levels())
}

func (a *app) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		episodes, err := a.service.ListEpisodes(r.Context(), queryInt(r, "limit", 100))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, episodes)
	case http.MethodPost:
		var req orchestrator.EpisodeInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		req.Level = firstNonEmpty(req.Level, a.cfg.Round.Level)
		ep, err := a.service.StartEpisode(r.Context(), req)
		if err != nil {
			if errors.Is(err, orchestrator.ErrEpisodeRunning) {
				writeError(w, http.StatusConflict, err)
				return
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusAccepted, ep)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *app) handleEpisodeByID(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/episodes/")
	parts := strings.Split(trimmed, "/")
	episodeID := parts[0]
	if episodeID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("episode id is required"))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ep, err := a.service.GetEpisode(r.Context(), episodeID)
		if err != nil {
			writeError(w, lookupStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, ep)
		return
	}

	action := parts[1]
	switch action {
	case "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := a.service.CancelEpisode(episodeID); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "canceling", "episode_id": episodeID})
	case "telemetry":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rows, err := a.service.ListTelemetry(r.Context(), episodeID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	case "decisions":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		items, err := a.service.ListDecisions(r.Context(), episodeID, queryInt(r, "limit", 300))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case "messages":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		items, err := a.service.ListMessages(r.Context(), episodeID, queryInt(r, "limit", 200))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case "report":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ep, err := collectReport(r.Context(), a.service, episodeID)
		if err != nil {
			writeError(w, lookupStatus(err), err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", episodeID+".xlsx"))
		if err := report.Write(w, ep); err != nil {
			a.logger.Warn("write report failed", zap.String("episode", episodeID), zap.Error(err))
		}
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action: %s", action))
	}
}

func lookupStatus(err error) int {
	if errors.Is(err, sqlitestore.ErrEpisodeNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func (a *app) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
