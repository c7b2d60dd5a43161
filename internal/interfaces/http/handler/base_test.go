package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/backend/internal/domain/shared"
	"github.com/tradejournal/backend/internal/infrastructure/logger"
	"github.com/tradejournal/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

func serve(t *testing.T, h gin.HandlerFunc) (*httptest.ResponseRecorder, dto.Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(logger.GinMiddleware(zap.NewNop()))
	engine.GET("/test", h)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(logger.RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestBaseHandler_HandleError(t *testing.T) {
	var h BaseHandler

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{"domain error", shared.NewDomainError("USER_NOT_FOUND", "User not found"),
			http.StatusNotFound, dto.ErrCodeNotFound, "User not found"},
		{"wrapped domain error", fmt.Errorf("rename: %w", shared.NewDomainError("USERNAME_EXISTS", "Username already exists")),
			http.StatusConflict, dto.ErrCodeAlreadyExists, "Username already exists"},
		{"unknown domain code", shared.NewDomainError("SOMETHING_ODD", "odd"),
			http.StatusInternalServerError, "SOMETHING_ODD", "odd"},
		{"plain error is hidden", errors.New("pq: connection refused"),
			http.StatusInternalServerError, dto.ErrCodeInternal, "An unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := serve(t, func(c *gin.Context) { h.HandleError(c, tt.err) })

			assert.Equal(t, tt.wantStatus, w.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.wantMessage, resp.Error.Message)
			assert.Equal(t, "req-1", resp.Error.RequestID)
		})
	}
}

func TestSystemHandler_Healthz(t *testing.T) {
	ok := HealthCheck{Name: "database", Check: func(context.Context) error { return nil }}
	down := HealthCheck{Name: "broker", Check: func(context.Context) error { return errors.New("connection closed") }}

	t.Run("all checks pass", func(t *testing.T) {
		w, resp := serve(t, NewSystemHandler("journal", ok).Healthz)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, resp.Success)
	})

	t.Run("a failing check answers 503", func(t *testing.T) {
		w, resp := serve(t, NewSystemHandler("journal", ok, down).Healthz)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeUnavailable, resp.Error.Code)

		data, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		var health HealthResponse
		require.NoError(t, json.Unmarshal(data, &health))
		assert.Equal(t, "unavailable", health.Status)
		assert.Equal(t, "ok", health.Checks["database"])
		assert.Equal(t, "connection closed", health.Checks["broker"])
	})
}

func TestSystemHandler_GetSystemInfo(t *testing.T) {
	w, resp := serve(t, NewSystemHandler("identity").GetSystemInfo)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "identity", resp.Data.(map[string]any)["name"])
}
