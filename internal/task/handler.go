package task

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"simpletask-backend/internal/auth"
)

const (
	maxJSONBodyBytes = 1 << 20
	defaultPerPage   = 20
	maxPerPage       = 100
	maxTagsPerTask   = 20
)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	filter, ok := parseListFilter(w, r)
	if !ok {
		return
	}

	page, err := h.repo.List(r.Context(), u.ID, filter)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	t, err := h.repo.Get(r.Context(), u.ID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	t, err := h.repo.Create(r.Context(), u.ID, input)
	if err != nil {
		if errors.Is(err, ErrTagNotFound) {
			writeError(w, http.StatusBadRequest, "one or more tags do not exist")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	t, err := h.repo.Update(r.Context(), u.ID, id, input)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		if errors.Is(err, ErrTagNotFound) {
			writeError(w, http.StatusBadRequest, "one or more tags do not exist")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	var body struct {
		Status Status `json:"status"`
	}
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if !body.Status.Valid() {
		writeError(w, http.StatusBadRequest, "status is invalid")
		return
	}

	t, err := h.repo.UpdateStatus(r.Context(), u.ID, id, body.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update task status")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	if err := h.repo.Delete(r.Context(), u.ID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Reorder(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	var body struct {
		TaskIDs []string `json:"task_ids"`
	}
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(body.TaskIDs) == 0 {
		writeError(w, http.StatusBadRequest, "task_ids is required")
		return
	}

	seen := make(map[string]struct{}, len(body.TaskIDs))
	for _, id := range body.TaskIDs {
		if _, err := uuid.Parse(id); err != nil {
			writeError(w, http.StatusBadRequest, "invalid task id")
			return
		}
		if _, dup := seen[id]; dup {
			writeError(w, http.StatusBadRequest, "task_ids contains duplicates")
			return
		}
		seen[id] = struct{}{}
	}

	if err := h.repo.Reorder(r.Context(), u.ID, body.TaskIDs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to reorder tasks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"reordered": len(body.TaskIDs)})
}

func (h *Handler) Overdue(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	tasks, err := h.repo.Overdue(r.Context(), u.ID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list overdue tasks")
		return
	}

	writeJSON(w, http.StatusOK, tasks)
}

func parseListFilter(w http.ResponseWriter, r *http.Request) (ListFilter, bool) {
	q := r.URL.Query()

	filter := ListFilter{
		Search:  strings.TrimSpace(q.Get("search")),
		SortBy:  q.Get("sort_by"),
		Order:   q.Get("order"),
		Page:    1,
		PerPage: defaultPerPage,
	}

	if v := q.Get("status"); v != "" {
		filter.Status = Status(v)
		if !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "status is invalid")
			return ListFilter{}, false
		}
	}
	if v := q.Get("priority"); v != "" {
		filter.Priority = Priority(v)
		if !filter.Priority.Valid() {
			writeError(w, http.StatusBadRequest, "priority is invalid")
			return ListFilter{}, false
		}
	}
	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return ListFilter{}, false
		}
		filter.Page = page
	}
	if v := q.Get("per_page"); v != "" {
		perPage, err := strconv.Atoi(v)
		if err != nil || perPage < 1 {
			writeError(w, http.StatusBadRequest, "per_page must be a positive integer")
			return ListFilter{}, false
		}
		if perPage > maxPerPage {
			perPage = maxPerPage
		}
		filter.PerPage = perPage
	}
	if filter.SortBy != "" {
		if _, ok := sortColumns[filter.SortBy]; !ok {
			writeError(w, http.StatusBadRequest, "sort_by is invalid")
			return ListFilter{}, false
		}
	}
	if filter.Order != "" && !strings.EqualFold(filter.Order, "asc") && !strings.EqualFold(filter.Order, "desc") {
		writeError(w, http.StatusBadRequest, "order must be asc or desc")
		return ListFilter{}, false
	}

	return filter, true
}

func parseInput(w http.ResponseWriter, r *http.Request) (TaskInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input TaskInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return TaskInput{}, false
	}

	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)

	if input.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return TaskInput{}, false
	}
	if !utf8.ValidString(input.Title) || len([]rune(input.Title)) > 200 {
		writeError(w, http.StatusBadRequest, "title is invalid")
		return TaskInput{}, false
	}
	if !utf8.ValidString(input.Description) || len([]rune(input.Description)) > 2000 {
		writeError(w, http.StatusBadRequest, "description is invalid")
		return TaskInput{}, false
	}
	if input.Status == "" {
		input.Status = StatusTodo
	}
	if !input.Status.Valid() {
		writeError(w, http.StatusBadRequest, "status is invalid")
		return TaskInput{}, false
	}
	if input.Priority == "" {
		input.Priority = PriorityMedium
	}
	if !input.Priority.Valid() {
		writeError(w, http.StatusBadRequest, "priority is invalid")
		return TaskInput{}, false
	}
	if len(input.TagIDs) > maxTagsPerTask {
		writeError(w, http.StatusBadRequest, "too many tags")
		return TaskInput{}, false
	}

	seen := make(map[string]struct{}, len(input.TagIDs))
	for _, id := range input.TagIDs {
		if _, err := uuid.Parse(id); err != nil {
			writeError(w, http.StatusBadRequest, "invalid tag id")
			return TaskInput{}, false
		}
		if _, dup := seen[id]; dup {
			writeError(w, http.StatusBadRequest, "tag_ids contains duplicates")
			return TaskInput{}, false
		}
		seen[id] = struct{}{}
	}

	return input, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
