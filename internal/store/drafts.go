package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DraftFields carries the caller-editable fields of a draft. All of them
// may be empty; drafts validate loosely.
type DraftFields struct {
	ToAddresses []string `json:"to"`
	CcAddresses []string `json:"cc"`
	Subject     string   `json:"subject"`
	TextBody    string   `json:"textBody"`
	HTMLBody    string   `json:"htmlBody"`
}

// CreateDraft inserts a new draft message row and returns it. Drafts live
// in the drafts folder with no remote id; dirty_at records the save time
// for debounce bookkeeping.
func (s *Store) CreateDraft(ctx context.Context, accountID int64, f DraftFields) (*Message, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, account_id, folder, from_address, to_addresses, cc_addresses,
		                      subject, text_body, html_body, is_read, dirty_at)
		VALUES (?, ?, 'drafts', '', ?, ?, ?, ?, ?, TRUE, ?)
	`, id, accountID, encodeAddresses(f.ToAddresses), encodeAddresses(f.CcAddresses),
		f.Subject, f.TextBody, nullString(f.HTMLBody), now)
	if err != nil {
		return nil, err
	}

	return s.GetMessage(ctx, accountID, id)
}

// UpdateDraft overwrites the editable fields of an existing draft in
// place. Only rows in the drafts folder are eligible; anything else is
// ErrNotFound.
func (s *Store) UpdateDraft(ctx context.Context, accountID int64, draftID string, f DraftFields) (*Message, error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET to_addresses = ?, cc_addresses = ?, subject = ?, text_body = ?, html_body = ?,
		    dirty_at = ?, updated_at = datetime('now')
		WHERE id = ? AND account_id = ? AND folder = 'drafts'
	`, encodeAddresses(f.ToAddresses), encodeAddresses(f.CcAddresses), f.Subject,
		f.TextBody, nullString(f.HTMLBody), now, draftID, accountID)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	return s.GetMessage(ctx, accountID, draftID)
}
