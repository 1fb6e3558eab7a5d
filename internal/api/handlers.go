package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"tasksync/internal/models"
	"tasksync/internal/service"
)

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus answers the hub_service probe of other instances.
func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": s.deps.App.Name,
		"version": s.deps.App.Version,
		"mode":    s.deps.Mode,
		"time":    s.now().UTC(),
	})
}

func (s *HTTPServer) handleFeatures(w http.ResponseWriter, r *http.Request) {
	if s.deps.Features == nil {
		writeError(w, http.StatusServiceUnavailable, "feature detection is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Features.Snapshot(r.Context()))
}

func (s *HTTPServer) handleFeaturesRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Features == nil {
		writeError(w, http.StatusServiceUnavailable, "feature detection is not configured")
		return
	}
	s.deps.Features.Invalidate()
	snap := s.deps.Features.Detect(r.Context())
	// Connectivity may be back, drain now instead of waiting for the next tick.
	if s.deps.Drain != nil && snap.Has(models.FeatureOnline) {
		s.deps.Drain.Trigger()
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleSyncStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	stats, err := s.deps.Sync.Stats(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("sync stats")
		writeError(w, http.StatusInternalServerError, "failed to read sync stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// handleSyncProcess runs one drain. Query: limit, retry_failed, cleanup, days.
func (s *HTTPServer) handleSyncProcess(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	days, err := intParam(q.Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "days must be an integer")
		return
	}

	resp := map[string]any{}
	if boolParam(q.Get("retry_failed")) {
		n, err := s.deps.Sync.ResetFailed(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("reset failed records")
			writeError(w, http.StatusInternalServerError, "failed to reset failed records")
			return
		}
		resp["reset"] = n
	}

	resp["result"] = s.deps.Sync.ProcessSyncQueue(r.Context(), limit)

	if boolParam(q.Get("cleanup")) {
		n, err := s.deps.Sync.Cleanup(r.Context(), days)
		if err != nil {
			s.logger.Error().Err(err).Msg("cleanup sync records")
			writeError(w, http.StatusInternalServerError, "failed to clean up records")
			return
		}
		resp["cleaned"] = n
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleSyncReset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	n, err := s.deps.Sync.ResetFailed(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("reset failed records")
		writeError(w, http.StatusInternalServerError, "failed to reset failed records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": n})
}

func (s *HTTPServer) handleSyncCleanup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	days, err := intParam(r.URL.Query().Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "days must be an integer")
		return
	}
	n, err := s.deps.Sync.Cleanup(r.Context(), days)
	if err != nil {
		s.logger.Error().Err(err).Msg("cleanup sync records")
		writeError(w, http.StatusInternalServerError, "failed to clean up records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleaned": n})
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.deps.Tasks.ListTasks(r.Context())
	if err != nil {
		s.taskError(w, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if string(t.Status) == status {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Tasks.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.taskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var task models.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.deps.Tasks.CreateTask(r.Context(), &task); err != nil {
		s.taskError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": &task})
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var task models.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	task.ID = r.PathValue("id")
	if err := s.deps.Tasks.UpdateTask(r.Context(), &task); err != nil {
		s.taskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": &task})
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tasks.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		s.taskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) taskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTask):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTaskExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg("task request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func intParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func boolParam(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}
