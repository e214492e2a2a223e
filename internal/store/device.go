package store

import (
	"context"
	"database/sql"
	"time"
)

// DeviceJID returns the whatsmeow device bound to a session, or "" if none.
func (db *DB) DeviceJID(ctx context.Context, sessionID string) (string, error) {
	var jid string
	err := db.QueryRowContext(ctx, `SELECT device_jid FROM session_devices WHERE session_id = ?`, sessionID).Scan(&jid)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return jid, err
}

// BindDevice records the device a session is logged in as.
func (db *DB) BindDevice(ctx context.Context, sessionID, jid string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO session_devices (session_id, device_jid, bound_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			device_jid = excluded.device_jid,
			bound_at = excluded.bound_at`,
		sessionID, jid, time.Now().UnixMilli())
	return err
}

// UnbindDevice forgets a session's device.
func (db *DB) UnbindDevice(ctx context.Context, sessionID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM session_devices WHERE session_id = ?`, sessionID)
	return err
}

// BoundSessions returns every session id that has stored credentials.
func (db *DB) BoundSessions(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT session_id FROM session_devices ORDER BY bound_at ASC`)
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
