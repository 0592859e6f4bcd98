package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/kilnforge/agentpipe/internal/pipeline/queuemgr"
	"github.com/kilnforge/agentpipe/internal/pipeline/state"
)

// messageColumns is the shared column list for message queries.
const messageColumns = `id, sender, recipient, body, position`

// MessageRepository implements queuemgr.MessageRepository against a sqlite
// connection, grounded on the teacher's sessionRepository CRUD/scan idiom.
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository wraps db as a queuemgr.MessageRepository.
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db.conn}
}

var _ queuemgr.MessageRepository = (*MessageRepository)(nil)

func scanMessage(scanner interface{ Scan(...any) error }) (queuemgr.Message, error) {
	var m queuemgr.Message
	err := scanner.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Body, &m.Position)
	return m, err
}

// ListMessages returns messages matching filter, ordered by position.
func (r *MessageRepository) ListMessages(filter queuemgr.MessageFilter) ([]queuemgr.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE 1 = 1`
	var args []any

	if filter.Recipient != "" {
		query += ` AND recipient = ?`
		args = append(args, filter.Recipient)
	}
	if filter.Sender != "" {
		query += ` AND sender = ?`
		args = append(args, filter.Sender)
	}
	query += ` ORDER BY position ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []queuemgr.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// DeleteAllMessages removes every message.
func (r *MessageRepository) DeleteAllMessages() error {
	if _, err := r.db.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("failed to delete all messages: %w", err)
	}
	return nil
}

// DeleteMessageById removes a single message by id. If no row matched, the
// error wraps queuemgr.ErrMessageNotFound.
func (r *MessageRepository) DeleteMessageById(id string) error {
	result, err := r.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("message %q: %w", id, queuemgr.ErrMessageNotFound)
	}
	return nil
}

// DeleteMessagesForRecipient removes every message addressed to recipient.
func (r *MessageRepository) DeleteMessagesForRecipient(recipient string) error {
	if _, err := r.db.Exec(`DELETE FROM messages WHERE recipient = ?`, recipient); err != nil {
		return fmt.Errorf("failed to delete messages for recipient: %w", err)
	}
	return nil
}

// InsertMessageRelative inserts msg, assigning it a position immediately
// before or after anchor.AnchorID (per anchor.Before). Rows at or after the
// new position are first shifted up by one, so no two rows share a
// position. With no anchor, msg is appended after the highest position.
func (r *MessageRepository) InsertMessageRelative(msg queuemgr.Message, anchor queuemgr.InsertAnchor) error {
	position, err := r.resolvePosition(anchor)
	if err != nil {
		return err
	}
	msg.Position = position

	_, err = r.db.Exec(
		`INSERT INTO messages (id, sender, recipient, body, position) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.Sender, msg.Recipient, msg.Body, msg.Position,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *MessageRepository) resolvePosition(anchor queuemgr.InsertAnchor) (int64, error) {
	if anchor.AnchorID == "" {
		var maxPos sql.NullInt64
		if err := r.db.QueryRow(`SELECT MAX(position) FROM messages`).Scan(&maxPos); err != nil {
			return 0, fmt.Errorf("failed to resolve append position: %w", err)
		}
		return maxPos.Int64 + 1, nil
	}

	var anchorPos int64
	err := r.db.QueryRow(`SELECT position FROM messages WHERE id = ?`, anchor.AnchorID).Scan(&anchorPos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("anchor message %q not found", anchor.AnchorID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve anchor position: %w", err)
	}

	if anchor.Before {
		if _, err := r.db.Exec(`UPDATE messages SET position = position + 1 WHERE position >= ?`, anchorPos); err != nil {
			return 0, fmt.Errorf("failed to shift positions: %w", err)
		}
		return anchorPos, nil
	}

	if _, err := r.db.Exec(`UPDATE messages SET position = position + 1 WHERE position > ?`, anchorPos); err != nil {
		return 0, fmt.Errorf("failed to shift positions: %w", err)
	}
	return anchorPos + 1, nil
}

// EventSink implements queuemgr.EventSink against a sqlite connection.
type EventSink struct {
	db *sql.DB
}

// NewEventSink wraps db as a queuemgr.EventSink.
func NewEventSink(db *DB) *EventSink {
	return &EventSink{db: db.conn}
}

var _ queuemgr.EventSink = (*EventSink)(nil)

// Persist appends events to the system_events table in one transaction.
func (s *EventSink) Persist(events []state.SystemEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(
		`INSERT INTO system_events (source, target, level, text, raw, category) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, evt := range events {
		if _, err := stmt.Exec(evt.Source, evt.Target, evt.Level, evt.Text, evt.Raw, evt.Category); err != nil {
			return fmt.Errorf("failed to insert system event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return nil
}
