package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CreateAccount inserts a new mail account owned by userID.
func (s *Store) CreateAccount(ctx context.Context, a *Account) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, name, email_address, host, port, username, password_enc, security, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.UserID, a.Name, a.EmailAddress, a.Host, a.Port, a.Username, a.PasswordEnc, a.Security, a.Enabled)
	if err != nil {
		return err
	}
	a.ID, err = res.LastInsertId()
	return err
}

// UpdateAccount updates the connection fields of an account. Sync-state
// fields (cursor, error, in-progress) are owned by the sync engine and are
// not touched here. An empty PasswordEnc keeps the stored credential.
func (s *Store) UpdateAccount(ctx context.Context, a *Account) error {
	var err error
	if a.PasswordEnc != "" {
		_, err = s.db.ExecContext(ctx, `
			UPDATE accounts
			SET name = ?, email_address = ?, host = ?, port = ?, username = ?,
			    password_enc = ?, security = ?, enabled = ?, updated_at = datetime('now')
			WHERE id = ? AND user_id = ?
		`, a.Name, a.EmailAddress, a.Host, a.Port, a.Username, a.PasswordEnc, a.Security, a.Enabled, a.ID, a.UserID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE accounts
			SET name = ?, email_address = ?, host = ?, port = ?, username = ?,
			    security = ?, enabled = ?, updated_at = datetime('now')
			WHERE id = ? AND user_id = ?
		`, a.Name, a.EmailAddress, a.Host, a.Port, a.Username, a.Security, a.Enabled, a.ID, a.UserID)
	}
	return err
}

// GetAccount returns an account by id, scoped to its owner.
func (s *Store) GetAccount(ctx context.Context, userID, accountID int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, email_address, host, port, username, password_enc,
		       security, enabled, last_sync_at, last_error, sync_in_progress, created_at, updated_at
		FROM accounts
		WHERE id = ? AND user_id = ?
	`, accountID, userID)
	return scanAccount(row)
}

// GetAccountByID returns an account without owner scoping. Used by the
// sync scheduler, which iterates accounts across users.
func (s *Store) GetAccountByID(ctx context.Context, accountID int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, email_address, host, port, username, password_enc,
		       security, enabled, last_sync_at, last_error, sync_in_progress, created_at, updated_at
		FROM accounts
		WHERE id = ?
	`, accountID)
	return scanAccount(row)
}

// ListAccounts returns all accounts owned by userID.
func (s *Store) ListAccounts(ctx context.Context, userID int64) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, email_address, host, port, username, password_enc,
		       security, enabled, last_sync_at, last_error, sync_in_progress, created_at, updated_at
		FROM accounts
		WHERE user_id = ?
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListEnabledAccounts returns every enabled account across all users.
func (s *Store) ListEnabledAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, email_address, host, port, username, password_enc,
		       security, enabled, last_sync_at, last_error, sync_in_progress, created_at, updated_at
		FROM accounts
		WHERE enabled = TRUE
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// SetSyncInProgress flips the account's sync-in-progress flag. The in-memory
// guard is authoritative; this column exists for inspection.
func (s *Store) SetSyncInProgress(ctx context.Context, accountID int64, inProgress bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET sync_in_progress = ?, updated_at = datetime('now') WHERE id = ?
	`, inProgress, accountID)
	return err
}

// AdvanceCursor moves the account's sync cursor forward and clears the
// recorded error. Called only after a batch persisted successfully.
func (s *Store) AdvanceCursor(ctx context.Context, accountID int64, cursor time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET last_sync_at = ?, last_error = NULL, updated_at = datetime('now') WHERE id = ?
	`, cursor.UTC(), accountID)
	return err
}

// ClearSyncError clears the account's last sync error without moving the
// cursor. Used when a batch succeeds but contains no new messages.
func (s *Store) ClearSyncError(ctx context.Context, accountID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET last_error = NULL, updated_at = datetime('now') WHERE id = ?
	`, accountID)
	return err
}

// RecordSyncFailure stores a connection-level failure on the account. The
// cursor is deliberately left untouched.
func (s *Store) RecordSyncFailure(ctx context.Context, accountID int64, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET last_error = ?, updated_at = datetime('now') WHERE id = ?
	`, message, accountID)
	return err
}

// RecordMessageError durably records one per-message sync failure for
// later inspection and manual retry.
func (s *Store) RecordMessageError(ctx context.Context, accountID int64, folder, remoteID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_errors (account_id, folder, remote_id, error) VALUES (?, ?, ?, ?)
	`, accountID, folder, remoteID, message)
	return err
}

// ListSyncErrors returns recorded per-message failures for an account,
// newest first.
func (s *Store) ListSyncErrors(ctx context.Context, accountID int64, limit int) ([]SyncError, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, folder, remote_id, error, created_at
		FROM sync_errors
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errs []SyncError
	for rows.Next() {
		var e SyncError
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Folder, &e.RemoteID, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var lastSync sql.NullTime
	var lastError sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.EmailAddress, &a.Host, &a.Port, &a.Username,
		&a.PasswordEnc, &a.Security, &a.Enabled, &lastSync, &lastError, &a.SyncInProgress,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.LastSyncAt = nullTime(lastSync)
	a.LastError = lastError.String
	return &a, nil
}

func collectAccounts(rows *sql.Rows) ([]Account, error) {
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
