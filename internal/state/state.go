package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mgmtsuite/mailsync/internal/store"
)

// Kind enumerates the supported message actions. One call applies exactly
// one kind, uniformly, to the whole id set.
type Kind string

const (
	MarkRead     Kind = "mark_read"
	MarkUnread   Kind = "mark_unread"
	Star         Kind = "star"
	Unstar       Kind = "unstar"
	MoveToFolder Kind = "move_to_folder"
	AddLabel     Kind = "add_label"
	RemoveLabel  Kind = "remove_label"
	Delete       Kind = "delete" // move_to_folder(trash)
)

// Action is one state transition request.
type Action struct {
	Kind         Kind         `json:"action"`
	TargetFolder store.Folder `json:"folder,omitempty"`
	LabelID      string       `json:"labelId,omitempty"`
}

// Result reports the outcome. Failed lists ids the caller does not own or
// that do not exist; they are reported, never silently applied, and do
// not roll back the ids that succeeded.
type Result struct {
	Applied int      `json:"applied"`
	Failed  []string `json:"failed,omitempty"`
}

// Machine applies flag, label and folder transitions through the mailbox
// store.
type Machine struct {
	store *store.Store
}

// ErrInvalidAction marks a request that names an unknown action kind or
// is missing the kind's required parameter.
var ErrInvalidAction = errors.New("invalid action")

// New creates a state machine on top of the store.
func New(st *store.Store) *Machine {
	return &Machine{store: st}
}

// Apply runs one action against a set of message ids, scoped to the
// account. The whole batch runs in a single transaction so label counts
// are recomputed in the same atomic unit as the membership or folder
// change; there is no window where a stale count is observable.
func (m *Machine) Apply(ctx context.Context, accountID int64, action Action, ids []string) (Result, error) {
	if len(ids) == 0 {
		return Result{}, fmt.Errorf("%w: no message ids given", ErrInvalidAction)
	}
	if err := validate(action); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	tx, err := m.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	// Label actions target one label which must itself belong to the
	// account; an unknown label invalidates the whole call.
	if action.Kind == AddLabel || action.Kind == RemoveLabel {
		var n int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM labels WHERE id = ? AND account_id = ?
		`, action.LabelID, accountID).Scan(&n)
		if err != nil {
			return Result{}, err
		}
		if n == 0 {
			return Result{}, store.ErrNotFound
		}
	}

	var result Result
	affectedLabels := map[string]struct{}{}
	if action.LabelID != "" {
		affectedLabels[action.LabelID] = struct{}{}
	}

	for _, id := range ids {
		owned, err := ownsMessage(ctx, tx, accountID, id)
		if err != nil {
			return Result{}, err
		}
		if !owned {
			result.Failed = append(result.Failed, id)
			continue
		}

		if err := applyOne(ctx, tx, action, id, affectedLabels); err != nil {
			return Result{}, err
		}
		result.Applied++
	}

	for labelID := range affectedLabels {
		if err := store.RecomputeLabelCountTx(ctx, tx, labelID); err != nil {
			return Result{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, err
	}

	log.Debug().
		Int64("accountId", accountID).
		Str("action", string(action.Kind)).
		Int("applied", result.Applied).
		Int("failed", len(result.Failed)).
		Msg("Bulk action applied")

	return result, nil
}

func validate(a Action) error {
	switch a.Kind {
	case MarkRead, MarkUnread, Star, Unstar, Delete:
		return nil
	case MoveToFolder:
		if !store.ValidFolder(a.TargetFolder) {
			return fmt.Errorf("invalid target folder %q", a.TargetFolder)
		}
		return nil
	case AddLabel, RemoveLabel:
		if a.LabelID == "" {
			return errors.New("label action requires a label id")
		}
		return nil
	default:
		return fmt.Errorf("unknown action %q", a.Kind)
	}
}

func ownsMessage(ctx context.Context, tx *sql.Tx, accountID int64, messageID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE id = ? AND account_id = ?
	`, messageID, accountID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func applyOne(ctx context.Context, tx *sql.Tx, action Action, id string, affectedLabels map[string]struct{}) error {
	switch action.Kind {
	case MarkRead:
		return setFlag(ctx, tx, id, "is_read", true)
	case MarkUnread:
		return setFlag(ctx, tx, id, "is_read", false)
	case Star:
		return setFlag(ctx, tx, id, "is_starred", true)
	case Unstar:
		return setFlag(ctx, tx, id, "is_starred", false)
	case MoveToFolder, Delete:
		target := action.TargetFolder
		if action.Kind == Delete {
			target = store.FolderTrash
		}
		return moveFolder(ctx, tx, id, target, affectedLabels)
	case AddLabel:
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_labels (message_id, label_id) VALUES (?, ?)
		`, id, action.LabelID)
		return err
	case RemoveLabel:
		_, err := tx.ExecContext(ctx, `
			DELETE FROM message_labels WHERE message_id = ? AND label_id = ?
		`, id, action.LabelID)
		return err
	}
	return fmt.Errorf("unknown action %q", action.Kind)
}

func setFlag(ctx context.Context, tx *sql.Tx, id, column string, value bool) error {
	// column is one of the fixed flag names above, never caller input
	query := fmt.Sprintf(`UPDATE messages SET %s = ?, updated_at = datetime('now') WHERE id = ?`, column)
	_, err := tx.ExecContext(ctx, query, value, id)
	return err
}

// moveFolder moves one message. Moving into the folder it already
// occupies succeeds with no side effects. Crossing the trash boundary in
// either direction changes which messages count toward label totals, so
// the message's labels join the recompute set.
func moveFolder(ctx context.Context, tx *sql.Tx, id string, target store.Folder, affectedLabels map[string]struct{}) error {
	var current store.Folder
	if err := tx.QueryRowContext(ctx, `SELECT folder FROM messages WHERE id = ?`, id).Scan(&current); err != nil {
		return err
	}
	if current == target {
		return nil
	}

	if current == store.FolderTrash || target == store.FolderTrash {
		rows, err := tx.QueryContext(ctx, `SELECT label_id FROM message_labels WHERE message_id = ?`, id)
		if err != nil {
			return err
		}
		for rows.Next() {
			var labelID string
			if err := rows.Scan(&labelID); err != nil {
				rows.Close()
				return err
			}
			affectedLabels[labelID] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE messages SET folder = ?, updated_at = datetime('now') WHERE id = ?
	`, target, id)
	return err
}
