package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/backend/internal/application/event"
	"github.com/tradejournal/backend/internal/application/identity"
	"github.com/tradejournal/backend/internal/application/projection"
	"github.com/tradejournal/backend/internal/domain/journal"
	"github.com/tradejournal/backend/internal/domain/shared"
	infraevent "github.com/tradejournal/backend/internal/infrastructure/event"
	"github.com/tradejournal/backend/internal/infrastructure/logger"
	"github.com/tradejournal/backend/internal/interfaces/http/dto"
	"github.com/tradejournal/backend/internal/interfaces/http/handler"
	"github.com/tradejournal/backend/tests/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.ErrorInfo  `json:"error"`
	Meta    *dto.Meta       `json:"meta"`
}

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		ServiceName:    "test",
		RequestTimeout: 5 * time.Second,
		MaxBodyBytes:   1024,
	}, zap.NewNop())
	require.NoError(t, err)
	return engine
}

func newIdentityEngine(t *testing.T, db *gorm.DB) *gin.Engine {
	t.Helper()
	engine := newTestEngine(t)
	RegisterIdentityRoutes(engine, IdentityHandlers{
		System: handler.NewSystemHandler("identity", handler.DatabaseCheck(db)),
		Users:  handler.NewUserHandler(identity.NewUserService(db, zap.NewNop())),
		Outbox: handler.NewOutboxHandler(event.NewOutboxService(infraevent.NewGormOutboxRepository(db), zap.NewNop())),
	})
	return engine
}

func call(t *testing.T, engine *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func TestIdentityRoutes_UserLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.NewSQLiteDB(t)
	engine := newIdentityEngine(t, db)

	w, resp := call(t, engine, http.MethodPost, "/api/v1/users", `{"user_name":"alice"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(logger.RequestIDHeader))

	var user identity.UserDTO
	require.NoError(t, json.Unmarshal(resp.Data, &user))
	assert.Equal(t, "alice", user.UserName)
	userPath := "/api/v1/users/" + user.ID.String()

	w, resp = call(t, engine, http.MethodPut, userPath, `{"user_name":"alice.b"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, &user))
	assert.Equal(t, 2, user.Version)

	w, resp = call(t, engine, http.MethodGet, "/api/v1/system/outbox/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats event.OutboxStatsDTO
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, event.OutboxStatsDTO{Pending: 2, Total: 2}, stats)

	w, _ = call(t, engine, http.MethodDelete, userPath, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, resp = call(t, engine, http.MethodGet, userPath, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
	assert.NotEmpty(t, resp.Error.RequestID)
}

func TestIdentityRoutes_Errors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.NewSQLiteDB(t)
	engine := newIdentityEngine(t, db)

	w, _ := call(t, engine, http.MethodPost, "/api/v1/users", `{"user_name":"bob"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"duplicate name", http.MethodPost, "/api/v1/users", `{"user_name":"BOB"}`, http.StatusConflict, dto.ErrCodeAlreadyExists},
		{"missing name", http.MethodPost, "/api/v1/users", `{}`, http.StatusBadRequest, dto.ErrCodeValidation},
		{"domain rejects name", http.MethodPost, "/api/v1/users", `{"user_name":"b!"}`, http.StatusBadRequest, dto.ErrCodeValidation},
		{"malformed id", http.MethodGet, "/api/v1/users/not-a-uuid", "", http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"unknown outbox record", http.MethodGet, "/api/v1/system/outbox/" + uuid.NewString(), "", http.StatusNotFound, dto.ErrCodeNotFound},
		{"oversized body", http.MethodPost, "/api/v1/users", `{"user_name":"` + strings.Repeat("x", 2048) + `"}`, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := call(t, engine, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}

	var outboxRows int64
	require.NoError(t, db.Table("outbox_events").Count(&outboxRows).Error)
	assert.Equal(t, int64(1), outboxRows)
}

func TestIdentityRoutes_Healthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := newIdentityEngine(t, testutil.NewSQLiteDB(t))

	w, resp := call(t, engine, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)

	var health handler.HealthResponse
	require.NoError(t, json.Unmarshal(resp.Data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Checks["database"])
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestJournalRoutes_DeadLetters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()

	engine := newTestEngine(t)
	projector := projection.NewService(journal.ReorderPlaceholder, zap.NewNop())
	RegisterJournalRoutes(engine, JournalHandlers{
		System:      handler.NewSystemHandler("journal", handler.DatabaseCheck(db)),
		DeadLetters: handler.NewDeadLetterHandler(event.NewDeadLetterService(db, projector, nil, "", zap.NewNop())),
	})

	name := "mallory"
	env, err := shared.NewUserEnvelope(shared.FactCreated, uuid.New(), &name, 1, time.Now())
	require.NoError(t, err)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	messageID := env.ID()
	letter := shared.NewDeadLetter(infraevent.DefaultConsumerName, &messageID, env.Type(), body, "gave up", 6)
	require.NoError(t, infraevent.NewGormDeadLetterRepository(db).Save(ctx, letter))

	w, resp := call(t, engine, http.MethodGet, "/api/v1/system/inbox/dead?page_size=10", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(1), resp.Meta.Total)
	assert.Equal(t, 10, resp.Meta.PageSize)

	w, _ = call(t, engine, http.MethodGet, "/api/v1/system/inbox/dead?page_size=500", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	replayPath := "/api/v1/system/inbox/dead/" + letter.ID.String() + "/replay"
	w, resp = call(t, engine, http.MethodPost, replayPath, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result event.ReplayResultDTO
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, string(journal.OutcomeApplied), result.Outcome)

	w, resp = call(t, engine, http.MethodPost, replayPath, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, dto.ErrCodeConflict, resp.Error.Code)

	w, resp = call(t, engine, http.MethodGet, "/api/v1/system/inbox/dead/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
}
