package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/deepblue/internal/domain"
	"github.com/aristath/deepblue/internal/modules/agent"
)

// answeringModel always returns the same final answer
type answeringModel struct {
	answer string
}

func (m *answeringModel) Complete(_ context.Context, _ []domain.ChatMessage) (*domain.ModelTurn, error) {
	return &domain.ModelTurn{Kind: domain.TurnFinalAnswer, Answer: m.answer}, nil
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(_ context.Context, _ string, calls []domain.ToolCall) ([]domain.ToolResult, []domain.SideEffect) {
	return nil, nil
}

func setupRouter(t *testing.T) (*chi.Mux, *agent.Repository) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE threads (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL REFERENCES threads(id),
			role TEXT NOT NULL CHECK(role IN ('system','user','assistant','tool')),
			content TEXT NOT NULL,
			tool_call_id TEXT,
			tool_name TEXT,
			created_at INTEGER NOT NULL
		);
	`)
	require.NoError(t, err)

	log := zerolog.Nop()
	repo := agent.NewRepository(db, log)
	orch := agent.NewOrchestrator(&answeringModel{answer: "hello there"}, noopDispatcher{}, repo, nil, 10, log)

	handler := NewHandler(orch, repo, log)
	router := chi.NewRouter()
	router.Route("/api", handler.RegisterRoutes)

	return router, repo
}

func TestHandleAsk(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/agent/ask",
		bytes.NewBufferString(`{"question":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result agent.TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.ThreadID)
	assert.Equal(t, "hello there", result.Answer)
	assert.False(t, result.TerminatedByCircuitBreaker)
}

func TestHandleAsk_Validation(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/agent/ask", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/agent/ask",
		bytes.NewBufferString(`{"threadId":"missing","question":"hi"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetMessages(t *testing.T) {
	router, _ := setupRouter(t)

	// Create a thread through the ask endpoint
	req := httptest.NewRequest(http.MethodPost, "/api/agent/ask",
		bytes.NewBufferString(`{"question":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result agent.TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	req = httptest.NewRequest(http.MethodGet, "/api/agent/threads/"+result.ThreadID+"/messages", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Messages []map[string]interface{} `json:"messages"`
			Count    int                      `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Count) // system, user, assistant

	req = httptest.NewRequest(http.MethodGet, "/api/agent/threads/nope/messages", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListThreads(t *testing.T) {
	router, repo := setupRouter(t)

	_, err := repo.CreateThread(context.Background(), "First thread")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/agent/threads", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Threads []map[string]interface{} `json:"threads"`
			Count   int                      `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Data.Count)
	assert.Equal(t, "First thread", resp.Data.Threads[0]["title"])
}
