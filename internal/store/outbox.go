package store

import "time"

// QueueOutbox adds an envelope that could not be delivered. Queuing the same
// event twice keeps the first entry.
func (db *DB) QueueOutbox(eventID, mode, target string, envelope []byte) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (event_id, mode, target, envelope, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(event_id) DO NOTHING`,
		eventID, mode, target, envelope, now, now)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent'.
func (db *DB) MarkOutboxSent(eventID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', attempts = attempts + 1, error_message = '', updated_at = ? WHERE event_id = ?`, now, eventID)
	return err
}

// MarkOutboxRetry records a failed attempt and leaves the entry queued.
func (db *DB) MarkOutboxRetry(eventID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET attempts = attempts + 1, error_message = ?, updated_at = ? WHERE event_id = ?`, errMsg, now, eventID)
	return err
}

// MarkOutboxFailed gives up on an entry.
func (db *DB) MarkOutboxFailed(eventID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', attempts = attempts + 1, error_message = ?, updated_at = ? WHERE event_id = ?`, errMsg, now, eventID)
	return err
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	return db.outboxWhere(`status = 'queued'`)
}

// OutboxEntries returns every outbox entry regardless of status.
func (db *DB) OutboxEntries() ([]OutboxEntry, error) {
	return db.outboxWhere(`1 = 1`)
}

func (db *DB) outboxWhere(cond string) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, event_id, mode, target, envelope, status, attempts, error_message
		FROM outbox WHERE ` + cond + ` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.EventID, &e.Mode, &e.Target, &e.Envelope, &e.Status, &e.Attempts, &e.ErrorMessage); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
