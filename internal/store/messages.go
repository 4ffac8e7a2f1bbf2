package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// InsertIncoming persists a message seen during sync, together with its
// attachment descriptors, in one transaction. The (account, remote id) pair
// is the dedup key: a remote id already present as a message or as a
// tombstone yields a *ConflictError and no write.
func (s *Store) InsertIncoming(ctx context.Context, m *Message) error {
	if m.RemoteID == "" {
		return errors.New("incoming message requires a remote id")
	}
	if !ValidFolder(m.Folder) {
		return fmt.Errorf("invalid folder %q", m.Folder)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seen, err := seenInTx(tx, m.AccountID, m.RemoteID)
	if err != nil {
		return err
	}
	if seen {
		return &ConflictError{RemoteID: m.RemoteID}
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.HasAttachments = len(m.Attachments) > 0

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, account_id, remote_id, folder, from_address, to_addresses,
		                      cc_addresses, subject, text_body, html_body, received_at,
		                      is_read, is_starred, has_attachments)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.AccountID, m.RemoteID, m.Folder, m.FromAddress,
		encodeAddresses(m.ToAddresses), encodeAddresses(m.CcAddresses),
		m.Subject, m.TextBody, nullString(m.HTMLBody), m.ReceivedAt,
		m.Read, m.Starred, m.HasAttachments)
	if err != nil {
		// UNIQUE backstop for concurrent inserts of the same remote id
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return &ConflictError{RemoteID: m.RemoteID}
		}
		return err
	}

	for i := range m.Attachments {
		att := &m.Attachments[i]
		if att.ID == "" {
			att.ID = uuid.NewString()
		}
		att.MessageID = m.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attachments (id, message_id, filename, content_type, size, storage_handle, sha256)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, att.ID, att.MessageID, att.Filename, att.ContentType, att.Size, att.StorageHandle, att.SHA256)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SeenRemoteID reports whether the remote id is already known for the
// account, either as a live message or as a purge tombstone.
func (s *Store) SeenRemoteID(ctx context.Context, accountID int64, remoteID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM messages WHERE account_id = ? AND remote_id = ?)
		     + (SELECT COUNT(*) FROM remote_tombstones WHERE account_id = ? AND remote_id = ?)
	`, accountID, remoteID, accountID, remoteID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func seenInTx(tx *sql.Tx, accountID int64, remoteID string) (bool, error) {
	var n int
	err := tx.QueryRow(`
		SELECT (SELECT COUNT(*) FROM messages WHERE account_id = ? AND remote_id = ?)
		     + (SELECT COUNT(*) FROM remote_tombstones WHERE account_id = ? AND remote_id = ?)
	`, accountID, remoteID, accountID, remoteID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PurgeMessage permanently deletes a message row and leaves a tombstone so
// the remote id can never be re-ingested by a later sync. Label counts for
// any labels the message held are recomputed in the same transaction.
func (s *Store) PurgeMessage(ctx context.Context, accountID int64, messageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var remoteID sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT remote_id FROM messages WHERE id = ? AND account_id = ?
	`, messageID, accountID).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	labelIDs, err := labelIDsForMessageTx(ctx, tx, messageID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID); err != nil {
		return err
	}

	if remoteID.Valid && remoteID.String != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO remote_tombstones (account_id, remote_id) VALUES (?, ?)
		`, accountID, remoteID.String)
		if err != nil {
			return err
		}
	}

	for _, id := range labelIDs {
		if err := RecomputeLabelCountTx(ctx, tx, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetMessage returns one message with its labels and attachment
// descriptors, scoped to the account.
func (s *Store) GetMessage(ctx context.Context, accountID int64, messageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, remote_id, folder, from_address, to_addresses, cc_addresses,
		       subject, text_body, html_body, received_at, is_read, is_starred,
		       has_attachments, dirty_at, created_at, updated_at
		FROM messages
		WHERE id = ? AND account_id = ?
	`, messageID, accountID)

	m, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadLabels(ctx, m); err != nil {
		return nil, err
	}
	if err := s.loadAttachments(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages lists messages for an account filtered by folder, label,
// search term and read state, newest first, with limit/offset pagination.
func (s *Store) ListMessages(ctx context.Context, accountID int64, f MessageFilter) ([]Message, error) {
	query := `
		SELECT m.id, m.account_id, m.remote_id, m.folder, m.from_address, m.to_addresses,
		       m.cc_addresses, m.subject, m.text_body, m.html_body, m.received_at,
		       m.is_read, m.is_starred, m.has_attachments, m.dirty_at, m.created_at, m.updated_at
		FROM messages m`
	args := []any{}
	var conds []string

	if f.LabelID != "" {
		query += ` JOIN message_labels ml ON ml.message_id = m.id`
		conds = append(conds, "ml.label_id = ?")
		args = append(args, f.LabelID)
	}

	conds = append(conds, "m.account_id = ?")
	args = append(args, accountID)

	if f.Folder != "" {
		if !ValidFolder(f.Folder) {
			return nil, fmt.Errorf("invalid folder %q", f.Folder)
		}
		conds = append(conds, "m.folder = ?")
		args = append(args, f.Folder)
	}
	if f.Query != "" {
		conds = append(conds, "(m.subject LIKE ? OR m.from_address LIKE ? OR m.text_body LIKE ?)")
		like := "%" + f.Query + "%"
		args = append(args, like, like, like)
	}
	if f.UnreadOnly {
		conds = append(conds, "m.is_read = FALSE")
	}

	query += " WHERE " + strings.Join(conds, " AND ")
	query += ` ORDER BY m.received_at DESC, m.created_at DESC`

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range messages {
		if err := s.loadLabels(ctx, &messages[i]); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

// FolderSummaries returns total and unread counts for every folder of the
// account, including folders with no messages.
func (s *Store) FolderSummaries(ctx context.Context, accountID int64) ([]FolderSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT folder, COUNT(*), SUM(CASE WHEN is_read THEN 0 ELSE 1 END)
		FROM messages
		WHERE account_id = ?
		GROUP BY folder
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[Folder]FolderSummary{}
	for rows.Next() {
		var sum FolderSummary
		if err := rows.Scan(&sum.Folder, &sum.Total, &sum.Unread); err != nil {
			return nil, err
		}
		counts[sum.Folder] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	all := []Folder{FolderInbox, FolderSent, FolderDrafts, FolderTrash, FolderSpam}
	summaries := make([]FolderSummary, 0, len(all))
	for _, f := range all {
		sum, ok := counts[f]
		if !ok {
			sum = FolderSummary{Folder: f}
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// CreateLink attaches a message to another record through a validated
// polymorphic (entity kind, entity id) reference.
func (s *Store) CreateLink(ctx context.Context, accountID int64, link *Link) error {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE id = ? AND account_id = ?
	`, link.MessageID, accountID).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO message_links (id, message_id, entity_kind, entity_id, description)
		VALUES (?, ?, ?, ?, ?)
	`, link.ID, link.MessageID, link.EntityKind, link.EntityID, link.Description)
	return err
}

// ListLinks returns the record links attached to a message.
func (s *Store) ListLinks(ctx context.Context, accountID int64, messageID string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.message_id, l.entity_kind, l.entity_id, l.description, l.created_at
		FROM message_links l
		JOIN messages m ON m.id = l.message_id
		WHERE l.message_id = ? AND m.account_id = ?
		ORDER BY l.created_at
	`, messageID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.MessageID, &l.EntityKind, &l.EntityID, &l.Description, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *Store) loadLabels(ctx context.Context, m *Message) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.account_id, l.name, l.color, l.icon, l.sort_order, l.is_system,
		       l.message_count, l.created_at, l.updated_at
		FROM labels l
		JOIN message_labels ml ON ml.label_id = l.id
		WHERE ml.message_id = ?
		ORDER BY l.sort_order, l.name
	`, m.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.AccountID, &l.Name, &l.Color, &l.Icon, &l.SortOrder,
			&l.System, &l.MessageCount, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return err
		}
		m.Labels = append(m.Labels, l)
	}
	return rows.Err()
}

func (s *Store) loadAttachments(ctx context.Context, m *Message) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, filename, content_type, size, storage_handle, sha256
		FROM attachments
		WHERE message_id = ?
		ORDER BY filename
	`, m.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.ContentType, &a.Size,
			&a.StorageHandle, &a.SHA256); err != nil {
			return err
		}
		m.Attachments = append(m.Attachments, a)
	}
	return rows.Err()
}

func labelIDsForMessageTx(ctx context.Context, tx *sql.Tx, messageID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT label_id FROM message_labels WHERE message_id = ?`, messageID)
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

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var remoteID, htmlBody sql.NullString
	var receivedAt, dirtyAt sql.NullTime
	var to, cc string

	err := row.Scan(&m.ID, &m.AccountID, &remoteID, &m.Folder, &m.FromAddress, &to, &cc,
		&m.Subject, &m.TextBody, &htmlBody, &receivedAt, &m.Read, &m.Starred,
		&m.HasAttachments, &dirtyAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.RemoteID = remoteID.String
	m.HTMLBody = htmlBody.String
	m.ToAddresses = decodeAddresses(to)
	m.CcAddresses = decodeAddresses(cc)
	m.ReceivedAt = nullTime(receivedAt)
	m.DirtyAt = nullTime(dirtyAt)
	return &m, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
