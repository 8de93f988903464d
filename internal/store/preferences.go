package store

import "time"

// SetMute stores the mute flag of the (deviceID, contactID) conversation.
func (l *Local) SetMute(deviceID, contactID string, muted bool) error {
	_, err := l.db.Exec(`
		INSERT INTO mutes (client_user_id, device_id, contact_device_id, muted, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(client_user_id, device_id, contact_device_id) DO UPDATE SET
			muted = excluded.muted,
			updated_at = excluded.updated_at`,
		l.client, deviceID, contactID, muted, time.Now().UnixMilli())
	return err
}

// Mutes returns every muted (deviceID, contactID) pair of this client.
func (l *Local) Mutes() ([]MuteEntry, error) {
	rows, err := l.db.Query(`
		SELECT device_id, contact_device_id FROM mutes
		WHERE client_user_id = ? AND muted = 1
		ORDER BY device_id, contact_device_id`, l.client)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []MuteEntry
	for rows.Next() {
		var e MuteEntry
		if err := rows.Scan(&e.DeviceID, &e.ContactID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetReadMark records when deviceID last read its conversation with contactID.
func (l *Local) SetReadMark(deviceID, contactID string, at int64) error {
	_, err := l.db.Exec(`
		INSERT INTO read_marks (client_user_id, device_id, contact_device_id, read_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(client_user_id, device_id, contact_device_id) DO UPDATE SET
			read_at = MAX(read_at, excluded.read_at)`,
		l.client, deviceID, contactID, at)
	return err
}

// ReadMark returns the last read time, or 0 if the conversation was never read.
func (l *Local) ReadMark(deviceID, contactID string) (int64, error) {
	var at int64
	err := l.db.QueryRow(`
		SELECT COALESCE(MAX(read_at), 0) FROM read_marks
		WHERE client_user_id = ? AND device_id = ? AND contact_device_id = ?`,
		l.client, deviceID, contactID).Scan(&at)
	return at, err
}
