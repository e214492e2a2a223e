package store

import (
	"context"
	"time"
)

// QueueDelivery logs an outbound send before it is attempted.
func (db *DB) QueueDelivery(ctx context.Context, d *Delivery) error {
	now := time.Now().UnixMilli()
	d.Status = DeliveryQueued
	d.CreatedAt, d.UpdatedAt = now, now
	_, err := db.ExecContext(ctx, `
		INSERT INTO deliveries (id, session_id, recipient, body, media_url, media_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SessionID, d.Recipient, d.Body, d.MediaURL, d.MediaType, d.Status, now, now)
	return err
}

// MarkDeliverySent records a successful send with the server message ID.
func (db *DB) MarkDeliverySent(ctx context.Context, id, serverMsgID string) error {
	_, err := db.ExecContext(ctx, `UPDATE deliveries SET status = ?, server_msg_id = ?, updated_at = ? WHERE id = ?`,
		DeliverySent, serverMsgID, time.Now().UnixMilli(), id)
	return err
}

// MarkDeliveryFailed records a failed send with its error message.
func (db *DB) MarkDeliveryFailed(ctx context.Context, id, errMsg string) error {
	_, err := db.ExecContext(ctx, `UPDATE deliveries SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		DeliveryFailed, errMsg, time.Now().UnixMilli(), id)
	return err
}

// RecentDeliveries returns the newest deliveries for a session.
func (db *DB) RecentDeliveries(ctx context.Context, sessionID string, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, session_id, recipient, body, media_url, media_type, status, server_msg_id, error_message, created_at, updated_at
		FROM deliveries WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Recipient, &d.Body, &d.MediaURL, &d.MediaType,
			&d.Status, &d.ServerMsgID, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
