package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"simpletask-backend/internal/observability"
	"simpletask-backend/internal/tag"
	"simpletask-backend/internal/task"
)

type CleanupHandler struct {
	tasks             *task.Repository
	tags              *tag.Repository
	logger            *observability.Logger
	cronSecret        string
	archivedRetention time.Duration
	tagRetention      time.Duration
	batchSize         int
}

func NewCleanupHandler(
	tasks *task.Repository,
	tags *tag.Repository,
	logger *observability.Logger,
	cronSecret string,
	archivedRetention time.Duration,
	tagRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		tasks:             tasks,
		tags:              tags,
		logger:            logger,
		cronSecret:        strings.TrimSpace(cronSecret),
		archivedRetention: archivedRetention,
		tagRetention:      tagRetention,
		batchSize:         batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	deletedTasks, err := h.tasks.PruneArchived(r.Context(), h.archivedRetention, h.batchSize)
	if err != nil {
		h.logger.Error("cleanup_failed", map[string]any{"stage": "archived_tasks", "error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	deletedTags, err := h.tags.PruneInactive(r.Context(), h.tagRetention, h.batchSize)
	if err != nil {
		h.logger.Error("cleanup_failed", map[string]any{"stage": "inactive_tags", "error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("cleanup_completed", map[string]any{
		"deleted_archived_tasks": deletedTasks,
		"deleted_inactive_tags":  deletedTags,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": map[string]int64{
			"deleted_archived_tasks": deletedTasks,
			"deleted_inactive_tags":  deletedTags,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
