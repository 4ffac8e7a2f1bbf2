package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// CreateLabel inserts a new label for the account. Name is unique per
// account.
func (s *Store) CreateLabel(ctx context.Context, l *Label) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Color == "" {
		l.Color = "#4285f4"
	}
	if l.Icon == "" {
		l.Icon = "tag"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO labels (id, account_id, name, color, icon, sort_order, is_system)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.AccountID, l.Name, l.Color, l.Icon, l.SortOrder, l.System)
	return err
}

// UpdateLabel updates display fields of a label. The system flag and the
// cached count are not caller-writable.
func (s *Store) UpdateLabel(ctx context.Context, l *Label) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE labels
		SET name = ?, color = ?, icon = ?, sort_order = ?, updated_at = datetime('now')
		WHERE id = ? AND account_id = ?
	`, l.Name, l.Color, l.Icon, l.SortOrder, l.ID, l.AccountID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLabel removes a non-system label and its memberships.
func (s *Store) DeleteLabel(ctx context.Context, accountID int64, labelID string) error {
	var system bool
	err := s.db.QueryRowContext(ctx, `
		SELECT is_system FROM labels WHERE id = ? AND account_id = ?
	`, labelID, accountID).Scan(&system)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if system {
		return ErrSystemLabel
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM labels WHERE id = ? AND account_id = ?`, labelID, accountID)
	return err
}

// GetLabel returns one label scoped to the account.
func (s *Store) GetLabel(ctx context.Context, accountID int64, labelID string) (*Label, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, color, icon, sort_order, is_system, message_count, created_at, updated_at
		FROM labels
		WHERE id = ? AND account_id = ?
	`, labelID, accountID)

	var l Label
	err := row.Scan(&l.ID, &l.AccountID, &l.Name, &l.Color, &l.Icon, &l.SortOrder,
		&l.System, &l.MessageCount, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLabels returns the account's labels in display order with their
// cached counts.
func (s *Store) ListLabels(ctx context.Context, accountID int64) ([]Label, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, name, color, icon, sort_order, is_system, message_count, created_at, updated_at
		FROM labels
		WHERE account_id = ?
		ORDER BY sort_order, name
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []Label
	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.AccountID, &l.Name, &l.Color, &l.Icon, &l.SortOrder,
			&l.System, &l.MessageCount, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// SeedSystemLabels creates the account's system labels if they do not
// exist yet.
func (s *Store) SeedSystemLabels(ctx context.Context, accountID int64) error {
	system := []struct {
		name  string
		color string
		icon  string
		order int
	}{
		{"Important", "#d93025", "alert-circle", 0},
		{"Work", "#1a73e8", "briefcase", 1},
		{"Personal", "#188038", "user", 2},
	}
	for _, l := range system {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO labels (id, account_id, name, color, icon, sort_order, is_system)
			VALUES (?, ?, ?, ?, ?, ?, TRUE)
		`, uuid.NewString(), accountID, l.name, l.color, l.icon, l.order)
		if err != nil {
			return err
		}
	}
	return nil
}

// RecomputeLabelCountTx refreshes a label's cached count inside the same
// transaction that changed its membership or trashed a member. The count
// covers non-trashed messages only.
func RecomputeLabelCountTx(ctx context.Context, tx *sql.Tx, labelID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE labels
		SET message_count = (
			SELECT COUNT(*)
			FROM message_labels ml
			JOIN messages m ON m.id = ml.message_id
			WHERE ml.label_id = labels.id AND m.folder != 'trash'
		), updated_at = datetime('now')
		WHERE id = ?
	`, labelID)
	return err
}
