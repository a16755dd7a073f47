package convstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/forgecore/agentcore/pkg/domain"
)

// SQLConfig tunes the pooled *sql.DB backing SQLStore.
type SQLConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig mirrors the pool sizing used elsewhere in the module.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// SQLStore is a Store backed by a database/sql pool. It works against any
// driver that understands standard placeholder-free JSON columns and
// upsert-by-primary-key; the bundled driver registrations are
// github.com/lib/pq (Postgres/CockroachDB) and modernc.org/sqlite
// (embedded, driver name "sqlite").
type SQLStore struct {
	db         *sql.DB
	driverName string
}

// OpenSQLStore opens driverName against dsn, applies cfg, pings, and runs
// the schema migration if the conversations table doesn't exist yet.
func OpenSQLStore(ctx context.Context, driverName, dsn string, cfg SQLConfig) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("convstore: dsn is required")
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("convstore: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("convstore: ping database: %w", err)
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	complete BOOLEAN NOT NULL DEFAULT FALSE,
	context_json TEXT NOT NULL,
	todos_json TEXT NOT NULL DEFAULT '[]',
	metrics_json TEXT NOT NULL DEFAULT '[]',
	variables_json TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("convstore: migrate: %w", err)
	}
	return nil
}

type conversationRow struct {
	id, agentID, title       string
	complete                 bool
	contextJSON              []byte
	todosJSON                []byte
	metricsJSON              []byte
	variablesJSON            []byte
	createdAt, updatedAt     time.Time
}

func encodeConversation(conv *domain.Conversation) (conversationRow, error) {
	contextJSON, err := json.Marshal(conv.Context)
	if err != nil {
		return conversationRow{}, fmt.Errorf("marshal context: %w", err)
	}
	todosJSON, err := json.Marshal(conv.Todos)
	if err != nil {
		return conversationRow{}, fmt.Errorf("marshal todos: %w", err)
	}
	metricsJSON, err := json.Marshal(conv.Metrics)
	if err != nil {
		return conversationRow{}, fmt.Errorf("marshal metrics: %w", err)
	}
	variablesJSON, err := json.Marshal(conv.Variables)
	if err != nil {
		return conversationRow{}, fmt.Errorf("marshal variables: %w", err)
	}
	return conversationRow{
		id:            string(conv.ID),
		agentID:       string(conv.AgentID),
		title:         conv.Title,
		complete:      conv.Complete,
		contextJSON:   contextJSON,
		todosJSON:     todosJSON,
		metricsJSON:   metricsJSON,
		variablesJSON: variablesJSON,
		createdAt:     conv.CreatedAt,
		updatedAt:     conv.UpdatedAt,
	}, nil
}

func decodeConversation(row *sql.Row) (*domain.Conversation, error) {
	var r conversationRow
	if err := row.Scan(&r.id, &r.agentID, &r.title, &r.complete,
		&r.contextJSON, &r.todosJSON, &r.metricsJSON, &r.variablesJSON,
		&r.createdAt, &r.updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("convstore: scan: %w", err)
	}
	return rowToConversation(r)
}

func rowToConversation(r conversationRow) (*domain.Conversation, error) {
	conv := &domain.Conversation{
		ID:        domain.ConversationID(r.id),
		AgentID:   domain.AgentID(r.agentID),
		Title:     r.title,
		Complete:  r.complete,
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
	if err := json.Unmarshal(r.contextJSON, &conv.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if err := json.Unmarshal(r.todosJSON, &conv.Todos); err != nil {
		return nil, fmt.Errorf("unmarshal todos: %w", err)
	}
	if err := json.Unmarshal(r.metricsJSON, &conv.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	if err := json.Unmarshal(r.variablesJSON, &conv.Variables); err != nil {
		return nil, fmt.Errorf("unmarshal variables: %w", err)
	}
	return conv, nil
}

func (s *SQLStore) Create(ctx context.Context, conv *domain.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("convstore: conversation with ID is required")
	}
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	row, err := encodeConversation(conv)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO conversations (id, agent_id, title, complete, context_json, todos_json, metrics_json, variables_json, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		row.id, row.agentID, row.title, row.complete,
		row.contextJSON, row.todosJSON, row.metricsJSON, row.variablesJSON,
		row.createdAt, row.updatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "UNIQUE") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("convstore: create: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, agent_id, title, complete, context_json, todos_json, metrics_json, variables_json, created_at, updated_at
FROM conversations WHERE id = $1`, string(id))
	return decodeConversation(row)
}

func (s *SQLStore) Update(ctx context.Context, conv *domain.Conversation) error {
	if conv == nil {
		return fmt.Errorf("convstore: conversation is required")
	}
	conv.UpdatedAt = time.Now()
	row, err := encodeConversation(conv)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE conversations SET agent_id=$1, title=$2, complete=$3, context_json=$4, todos_json=$5,
	metrics_json=$6, variables_json=$7, updated_at=$8
WHERE id=$9`,
		row.agentID, row.title, row.complete, row.contextJSON, row.todosJSON,
		row.metricsJSON, row.variablesJSON, row.updatedAt, row.id)
	if err != nil {
		return fmt.Errorf("convstore: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id domain.ConversationID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("convstore: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*domain.Conversation, error) {
	query := `SELECT id, agent_id, title, complete, context_json, todos_json, metrics_json, variables_json, created_at, updated_at FROM conversations`
	var args []any
	if opts.AgentID != "" {
		query += ` WHERE agent_id = $1`
		args = append(args, opts.AgentID)
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("convstore: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.Conversation
	for rows.Next() {
		var r conversationRow
		if err := rows.Scan(&r.id, &r.agentID, &r.title, &r.complete,
			&r.contextJSON, &r.todosJSON, &r.metricsJSON, &r.variablesJSON,
			&r.createdAt, &r.updatedAt); err != nil {
			return nil, fmt.Errorf("convstore: scan row: %w", err)
		}
		conv, err := rowToConversation(r)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// AppendEntry loads, appends, and writes back under no transaction: callers
// needing atomicity across concurrent appenders should serialize through
// the orchestrator's per-conversation turn lock instead of relying on this
// method for mutual exclusion.
func (s *SQLStore) AppendEntry(ctx context.Context, id domain.ConversationID, entry domain.MessageEntry) error {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	conv.Context.Messages = append(conv.Context.Messages, entry)
	return s.Update(ctx, conv)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
