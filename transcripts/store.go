// Package transcripts persists conversation transcripts to sqlite.
//
// The store sits outside the client core: sessions are purely
// in-memory, and callers that want durable transcripts record messages
// here themselves.
package transcripts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"

	"github.com/jmorrell/chatwire/llm"
	_ "github.com/mattn/go-sqlite3"
)

// Store handles persistence of transcript messages.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a Store over an already-migrated database.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "transcripts").Logger(),
	}
}

// Open opens (or creates) the sqlite database at path.
func Open(path string, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript db %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping transcript db %s: %w", path, err)
	}
	return db, nil
}

// Append saves one message to a session's transcript.
func (s *Store) Append(ctx context.Context, sessionID string, role llm.MessageRole, content string) error {
	query := sq.Insert("transcripts").
		Columns("session_id", "role", "content", "created_at").
		Values(sessionID, string(role), content, time.Now().Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// Messages loads a session's transcript in insertion order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]llm.Message, error) {
	query := sq.Select("role", "content").
		From("transcripts").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("id ASC")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []llm.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		messages = append(messages, llm.Message{Role: llm.MessageRole(role), Content: content})
	}
	return messages, rows.Err()
}

// Sessions lists the distinct session ids with stored messages, most
// recent first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	query := sq.Select("session_id").
		From("transcripts").
		GroupBy("session_id").
		OrderBy("MAX(created_at) DESC")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a session's transcript.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	query := sq.Delete("transcripts").Where(sq.Eq{"session_id": sessionID})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Debug().Str("session_id", sessionID).Int64("deleted", n).Msg("Deleted transcript")
	}
	return nil
}
