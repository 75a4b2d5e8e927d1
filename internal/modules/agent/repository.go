// Package agent runs the conversation loop between the user, the model
// service, and the tool dispatcher, and persists conversation threads.
package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/deepblue/internal/domain"
)

// ErrThreadNotFound is returned when no thread matches the query
var ErrThreadNotFound = errors.New("thread not found")

// Thread is one conversation
type Thread struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one persisted conversation message
type Message struct {
	ID         int64
	ThreadID   string
	Role       string
	Content    string
	ToolCallID string
	ToolName   string
	CreatedAt  time.Time
}

// ChatMessage converts a stored message into the model wire shape
func (m Message) ChatMessage() domain.ChatMessage {
	return domain.ChatMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		ToolName:   m.ToolName,
	}
}

// Repository handles thread and message database operations
type Repository struct {
	agentsDB *sql.DB // agents.db - threads and messages tables
	log      zerolog.Logger
}

// NewRepository creates a new conversation repository
func NewRepository(agentsDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		agentsDB: agentsDB,
		log:      log.With().Str("repo", "agent").Logger(),
	}
}

// CreateThread creates a new thread with a generated id
func (r *Repository) CreateThread(ctx context.Context, title string) (*Thread, error) {
	now := time.Now()
	thread := &Thread{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := r.agentsDB.ExecContext(ctx,
		`INSERT INTO threads (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		thread.ID, thread.Title, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	return thread, nil
}

// GetThread returns a thread by id
func (r *Repository) GetThread(ctx context.Context, id string) (*Thread, error) {
	var (
		thread    Thread
		createdAt int64
		updatedAt int64
	)
	err := r.agentsDB.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM threads WHERE id = ?`, id).
		Scan(&thread.ID, &thread.Title, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to query thread: %w", err)
	}

	thread.CreatedAt = time.Unix(createdAt, 0)
	thread.UpdatedAt = time.Unix(updatedAt, 0)
	return &thread, nil
}

// ListThreads returns threads, most recently updated first
func (r *Repository) ListThreads(ctx context.Context, limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.agentsDB.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM threads ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		var (
			thread    Thread
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(&thread.ID, &thread.Title, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		thread.CreatedAt = time.Unix(createdAt, 0)
		thread.UpdatedAt = time.Unix(updatedAt, 0)
		threads = append(threads, thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}

	return threads, nil
}

// AddMessage appends one message to a thread and bumps the thread's
// updated_at timestamp
func (r *Repository) AddMessage(ctx context.Context, msg *Message) error {
	now := time.Now()
	msg.CreatedAt = now

	result, err := r.agentsDB.ExecContext(ctx, `
		INSERT INTO messages (thread_id, role, content, tool_call_id, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ThreadID, msg.Role, msg.Content, nullString(msg.ToolCallID), nullString(msg.ToolName), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get message id: %w", err)
	}
	msg.ID = id

	if _, err := r.agentsDB.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`, now.Unix(), msg.ThreadID); err != nil {
		return fmt.Errorf("failed to touch thread: %w", err)
	}

	return nil
}

// GetMessages returns a thread's messages, oldest first
func (r *Repository) GetMessages(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := r.agentsDB.QueryContext(ctx, `
		SELECT id, thread_id, role, content, tool_call_id, tool_name, created_at
		FROM messages WHERE thread_id = ? ORDER BY id ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			msg        Message
			toolCallID sql.NullString
			toolName   sql.NullString
			createdAt  int64
		)
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Content,
			&toolCallID, &toolName, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.ToolCallID = toolCallID.String
		msg.ToolName = toolName.String
		msg.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
