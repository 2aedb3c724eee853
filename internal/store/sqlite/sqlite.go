package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens the database at dbPath and applies the schema.
func New(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	s, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// NewWithSetup creates a new SQLite store, applies the schema and runs a
// setup function. Useful for tests to seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	s, err := New(context.Background(), dbPath)
	if err != nil {
		return nil, err
	}
	if setup != nil {
		if err := setup(s.db); err != nil {
			s.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return s, nil
}

func open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps an
	// in-memory database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate creates missing tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== MessageStore implementation ====

// SaveMessage inserts the envelope unless a row with the same channel and
// nonce exists, and returns the stored row either way.
func (s *SQLiteStore) SaveMessage(ctx context.Context, env *core.Envelope) (*core.PersistedMessage, error) {
	status := env.Status
	if status == "" {
		status = core.StatusSent
	}
	createdAt := env.SubmittedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO messages (channel_id, user_id, username, body, client_nonce, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id, client_nonce) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		env.ChannelID, env.AuthorID, env.Username, env.Body, env.Nonce, string(status), createdAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	msg, err := s.scanMessage(s.db.QueryRowContext(ctx, selectMessage+`
		WHERE channel_id = ? AND client_nonce = ?
	`, env.ChannelID, env.Nonce))
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", env.Nonce, err)
	}
	return msg, nil
}

// MarkRead sets the message status to read. It fails with
// core.ErrMessageNotFound when the message is not in channelID.
func (s *SQLiteStore) MarkRead(ctx context.Context, channelID, messageID int64) error {
	query := `
		UPDATE messages
		SET status = ?, read_at = COALESCE(read_at, ?)
		WHERE id = ? AND channel_id = ?
	`
	result, err := s.db.ExecContext(ctx, query, string(core.StatusRead), time.Now().UTC(), messageID, channelID)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("message %d in channel %d: %w", messageID, channelID, core.ErrMessageNotFound)
	}
	return nil
}

// ==== HistoryStore implementation ====

const selectMessage = `
	SELECT id, channel_id, user_id, username, body, client_nonce, status, created_at
	FROM messages
`

func (s *SQLiteStore) scanMessage(row interface{ Scan(...any) error }) (*core.PersistedMessage, error) {
	var msg core.PersistedMessage
	var status string
	err := row.Scan(
		&msg.ID,
		&msg.ChannelID,
		&msg.AuthorID,
		&msg.Username,
		&msg.Body,
		&msg.Nonce,
		&status,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrMessageNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	msg.Status = core.Status(status)
	return &msg, nil
}

// ListMessages retrieves messages from a channel with pagination.
func (s *SQLiteStore) ListMessages(ctx context.Context, channelID int64, limit int, beforeID *int64) ([]*core.PersistedMessage, error) {
	var query string
	var args []any

	if beforeID != nil {
		query = selectMessage + `
			WHERE channel_id = ? AND id < ?
			ORDER BY id DESC
			LIMIT ?
		`
		args = []any{channelID, *beforeID, limit}
	} else {
		query = selectMessage + `
			WHERE channel_id = ?
			ORDER BY id DESC
			LIMIT ?
		`
		args = []any{channelID, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*core.PersistedMessage
	for rows.Next() {
		msg, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// ==== MembershipStore implementation ====

// AddMember adds a user to a channel.
func (s *SQLiteStore) AddMember(ctx context.Context, userID, channelID int64) error {
	query := `
		INSERT OR IGNORE INTO channel_members (user_id, channel_id)
		VALUES (?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, userID, channelID)
	if err != nil {
		return fmt.Errorf("insert channel member: %w", err)
	}

	return nil
}

// RemoveMember removes a user from a channel.
func (s *SQLiteStore) RemoveMember(ctx context.Context, userID, channelID int64) error {
	query := `
		DELETE FROM channel_members
		WHERE user_id = ? AND channel_id = ?
	`
	_, err := s.db.ExecContext(ctx, query, userID, channelID)
	if err != nil {
		return fmt.Errorf("delete channel member: %w", err)
	}

	return nil
}

// IsMember checks if user is a member of the channel.
func (s *SQLiteStore) IsMember(ctx context.Context, userID, channelID int64) (bool, error) {
	query := `
		SELECT 1 FROM channel_members
		WHERE user_id = ? AND channel_id = ?
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, userID, channelID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}

	return true, nil
}
