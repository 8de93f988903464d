package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/meshphone/internal/domain"
)

// SavePartition replaces every stored message of deviceID's partition with convs.
func (l *Local) SavePartition(deviceID string, convs map[string][]domain.Message) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE client_user_id = ? AND device_id = ?`, l.client, deviceID); err != nil {
		return fmt.Errorf("clear partition: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (client_user_id, device_id, conversation_key, msg_id, sender_id, receiver_id, body, timestamp, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_user_id, device_id, conversation_key, msg_id) DO UPDATE SET
			is_read = excluded.is_read`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	for key, msgs := range convs {
		for _, m := range msgs {
			if _, err := stmt.Exec(l.client, deviceID, key, m.ID, m.SenderID, m.ReceiverID, m.Text, m.Timestamp, m.Read, now); err != nil {
				return fmt.Errorf("insert message %s: %w", m.ID, err)
			}
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO partitions (client_user_id, device_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(client_user_id, device_id) DO UPDATE SET updated_at = excluded.updated_at`,
		l.client, deviceID, now); err != nil {
		return fmt.Errorf("upsert partition: %w", err)
	}
	return tx.Commit()
}

// LoadPartition returns the stored conversations of deviceID keyed by
// conversation key, each ordered by timestamp. A partition that was never
// saved yields an empty map.
func (l *Local) LoadPartition(deviceID string) (map[string][]domain.Message, error) {
	rows, err := l.db.Query(`
		SELECT conversation_key, msg_id, sender_id, receiver_id, body, timestamp, is_read
		FROM messages
		WHERE client_user_id = ? AND device_id = ?
		ORDER BY timestamp ASC, msg_id ASC`, l.client, deviceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	convs := make(map[string][]domain.Message)
	for rows.Next() {
		var (
			key string
			m   domain.Message
		)
		if err := rows.Scan(&key, &m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Timestamp, &m.Read); err != nil {
			return nil, err
		}
		convs[key] = append(convs[key], m)
	}
	return convs, rows.Err()
}

// Partitions lists the device IDs with a saved partition.
func (l *Local) Partitions() ([]string, error) {
	rows, err := l.db.Query(`
		SELECT device_id FROM partitions WHERE client_user_id = ? ORDER BY device_id`, l.client)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

// MessageCount returns how many messages are stored across this client's partitions.
func (l *Local) MessageCount() (int, error) {
	var n int
	err := l.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE client_user_id = ?`, l.client).Scan(&n)
	return n, err
}
