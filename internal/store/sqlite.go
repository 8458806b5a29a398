package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/nudge/internal/domain"
	"github.com/ashureev/nudge/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	backoff shared.Backoff
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL with a per-connection busy timeout; write transactions take the lock up front.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, backoff: shared.DefaultBackoff}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversation_states (
		conversation_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		last_activity_at INTEGER NOT NULL DEFAULT 0,
		last_trigger_at INTEGER,
		triggers_today INTEGER NOT NULL DEFAULT 0,
		day_anchor TEXT NOT NULL DEFAULT '',
		awaiting_reply INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_states_updated ON conversation_states(updated_at);

	CREATE TABLE IF NOT EXISTS recent_sent (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recent_sent_conversation ON recent_sent(conversation_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const conversationColumns = `conversation_id, user_id, user_name, last_activity_at, last_trigger_at,
	triggers_today, day_anchor, awaiting_reply, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.ConversationState, error) {
	var state domain.ConversationState
	var lastActivity, updatedAt int64
	var lastTrigger sql.NullInt64

	if err := row.Scan(
		&state.ConversationID, &state.UserID, &state.UserName,
		&lastActivity, &lastTrigger,
		&state.TriggersToday, &state.DayAnchor, &state.AwaitingReply, &updatedAt,
	); err != nil {
		return nil, err
	}

	if lastActivity > 0 {
		state.LastActivityAt = time.UnixMilli(lastActivity)
	}
	if lastTrigger.Valid {
		ts := time.UnixMilli(lastTrigger.Int64)
		state.LastTriggerAt = &ts
	}
	state.UpdatedAt = time.UnixMilli(updatedAt)
	return &state, nil
}

// GetConversation retrieves state by conversation ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversation_states WHERE conversation_id = ?`

	state, err := scanConversation(s.db.QueryRowContext(ctx, query, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return state, nil
}

// ListConversations returns every tracked conversation ordered by ID.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*domain.ConversationState, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversation_states ORDER BY conversation_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	var states []*domain.ConversationState
	for rows.Next() {
		state, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return states, nil
}

// UpsertConversation creates or replaces a conversation record.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, state *domain.ConversationState) error {
	if state == nil || state.ConversationID == "" {
		return errors.New("upsert conversation: missing conversation id")
	}

	query := `
	INSERT INTO conversation_states (` + conversationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conversation_id) DO UPDATE SET
		user_id = excluded.user_id,
		user_name = excluded.user_name,
		last_activity_at = excluded.last_activity_at,
		last_trigger_at = excluded.last_trigger_at,
		triggers_today = excluded.triggers_today,
		day_anchor = excluded.day_anchor,
		awaiting_reply = excluded.awaiting_reply,
		updated_at = excluded.updated_at`

	var lastActivity int64
	if state.HasActivity() {
		lastActivity = state.LastActivityAt.UnixMilli()
	}
	var lastTrigger any
	if state.LastTriggerAt != nil {
		lastTrigger = state.LastTriggerAt.UnixMilli()
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	return shared.RetryOnConflict(ctx, s.backoff, "upsert conversation", func() error {
		_, err := s.db.ExecContext(ctx, query,
			state.ConversationID, state.UserID, state.UserName,
			lastActivity, lastTrigger,
			state.TriggersToday, state.DayAnchor, state.AwaitingReply,
			updatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}
		return nil
	})
}

// RecordSent appends a delivered message and trims older entries in one transaction.
func (s *SQLiteStore) RecordSent(ctx context.Context, msg domain.SentMessage, keep int) error {
	if keep <= 0 {
		keep = RecentSentKeep
	}

	return shared.RetryOnConflict(ctx, s.backoff, "record sent", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin record sent: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recent_sent (conversation_id, content, sent_at) VALUES (?, ?, ?)`,
			msg.ConversationID, msg.Content, msg.SentAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert sent message: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM recent_sent
			WHERE conversation_id = ? AND id NOT IN (
				SELECT id FROM recent_sent WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
			)`,
			msg.ConversationID, msg.ConversationID, keep,
		); err != nil {
			return fmt.Errorf("trim sent messages: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit record sent: %w", err)
		}
		return nil
	})
}

// RecentSent returns up to limit delivered messages, newest first.
func (s *SQLiteStore) RecentSent(ctx context.Context, conversationID string, limit int) ([]domain.SentMessage, error) {
	if limit <= 0 {
		limit = RecentSentKeep
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, content, sent_at FROM recent_sent
		WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sent messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close sent message rows", "error", closeErr)
		}
	}()

	var msgs []domain.SentMessage
	for rows.Next() {
		var msg domain.SentMessage
		var sentAt int64
		if err := rows.Scan(&msg.ConversationID, &msg.Content, &sentAt); err != nil {
			return nil, fmt.Errorf("scan sent message row: %w", err)
		}
		msg.SentAt = time.UnixMilli(sentAt)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sent messages: %w", err)
	}
	return msgs, nil
}

// CleanupStale removes conversations not updated since cutoff along with their sent history.
func (s *SQLiteStore) CleanupStale(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, s.backoff, "cleanup stale conversations", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin cleanup: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		threshold := cutoff.UnixMilli()
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM recent_sent WHERE conversation_id IN (
				SELECT conversation_id FROM conversation_states WHERE updated_at < ?
			)`, threshold); err != nil {
			return fmt.Errorf("delete stale sent messages: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM conversation_states WHERE updated_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("delete stale conversations: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit cleanup: %w", err)
		}
		deleted = n
		return nil
	})
	return deleted, err
}
