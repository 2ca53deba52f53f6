package maintenance

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"simpletask-backend/internal/observability"
)

func newTestHandler(secret string) *CleanupHandler {
	return NewCleanupHandler(nil, nil, observability.NewLogger(), secret, 30*24*time.Hour, 30*24*time.Hour, 500)
}

func TestCleanupHandler_Auth(t *testing.T) {
	t.Run("hidden without a configured secret", func(t *testing.T) {
		handler := newTestHandler("")

		rec := httptest.NewRecorder()
		handler.Handle(rec, httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing bearer is rejected", func(t *testing.T) {
		handler := newTestHandler("cron-secret")

		rec := httptest.NewRecorder()
		handler.Handle(rec, httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong bearer is rejected", func(t *testing.T) {
		handler := newTestHandler("cron-secret")

		req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
		req.Header.Set("Authorization", "Bearer wrong-secret")
		rec := httptest.NewRecorder()
		handler.Handle(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unsupported method is rejected", func(t *testing.T) {
		handler := newTestHandler("cron-secret")

		req := httptest.NewRequest(http.MethodDelete, "/internal/maintenance/cleanup", nil)
		req.Header.Set("Authorization", "Bearer cron-secret")
		rec := httptest.NewRecorder()
		handler.Handle(rec, req)

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
