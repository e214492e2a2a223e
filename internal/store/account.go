package store

import (
	"context"
	"database/sql"
	"time"
)

const accountColumns = `session_id, name, phone_number, description, status,
	webhook_url, api_token, api_enabled, created_at, updated_at`

// UpsertAccount inserts or updates an account keyed by session id.
func (db *DB) UpsertAccount(ctx context.Context, a *Account) error {
	now := time.Now().UnixMilli()
	if a.Status == "" {
		a.Status = "pending"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			name = excluded.name,
			phone_number = excluded.phone_number,
			description = excluded.description,
			status = excluded.status,
			webhook_url = excluded.webhook_url,
			api_token = excluded.api_token,
			api_enabled = excluded.api_enabled,
			updated_at = excluded.updated_at`,
		a.SessionID, a.Name, a.PhoneNumber, a.Description, a.Status,
		a.WebhookURL, a.APIToken, a.APIEnabled, now, now)
	return err
}

// FindAccountBySessionID returns the account for a session, or nil if none exists.
func (db *DB) FindAccountBySessionID(ctx context.Context, sessionID string) (*Account, error) {
	row := db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE session_id = ?`, sessionID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAccounts returns all accounts ordered by creation time.
func (db *DB) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at ASC, session_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// UpdateAccountStatus records the connection state and, when known, the phone number.
func (db *DB) UpdateAccountStatus(ctx context.Context, sessionID, status, phone string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE accounts SET
			status = ?,
			phone_number = CASE WHEN ? != '' THEN ? ELSE phone_number END,
			updated_at = ?
		WHERE session_id = ?`,
		status, phone, phone, time.Now().UnixMilli(), sessionID)
	return err
}

// NotifierPatch changes an account's webhook settings. Nil fields are kept.
type NotifierPatch struct {
	URL     *string
	Token   *string
	Enabled *bool
}

// UpdateNotifierConfig applies a webhook settings patch. Returns false if the account does not exist.
func (db *DB) UpdateNotifierConfig(ctx context.Context, sessionID string, p NotifierPatch) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE accounts SET
			webhook_url = COALESCE(?, webhook_url),
			api_token = COALESCE(?, api_token),
			api_enabled = COALESCE(?, api_enabled),
			updated_at = ?
		WHERE session_id = ?`,
		p.URL, p.Token, p.Enabled, time.Now().UnixMilli(), sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteAccount removes an account.
func (db *DB) DeleteAccount(ctx context.Context, sessionID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM accounts WHERE session_id = ?`, sessionID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*Account, error) {
	var a Account
	err := s.Scan(&a.SessionID, &a.Name, &a.PhoneNumber, &a.Description, &a.Status,
		&a.WebhookURL, &a.APIToken, &a.APIEnabled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
