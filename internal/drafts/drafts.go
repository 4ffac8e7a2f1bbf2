package drafts

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mgmtsuite/mailsync/internal/store"
)

// SaveResult identifies the draft after a save.
type SaveResult struct {
	DraftID string    `json:"draftId"`
	SavedAt time.Time `json:"savedAt"`
}

// Coordinator implements autosave for in-progress drafts. Debounce timing
// is the caller's concern; the coordinator's contract is idempotency:
// saving with an assigned draft id always updates that draft in place and
// never creates a second one for the same compose session.
type Coordinator struct {
	store *store.Store
}

// New creates a draft coordinator on top of the store.
func New(st *store.Store) *Coordinator {
	return &Coordinator{store: st}
}

// Save creates a draft when draftID is empty and updates it in place
// otherwise. Fields validate loosely: recipients, subject and body may
// all be empty.
func (c *Coordinator) Save(ctx context.Context, accountID int64, draftID string, fields store.DraftFields) (SaveResult, error) {
	var msg *store.Message
	var err error

	if draftID == "" {
		msg, err = c.store.CreateDraft(ctx, accountID, fields)
	} else {
		msg, err = c.store.UpdateDraft(ctx, accountID, draftID, fields)
	}
	if err != nil {
		return SaveResult{}, err
	}

	savedAt := msg.UpdatedAt
	if msg.DirtyAt != nil {
		savedAt = *msg.DirtyAt
	}

	log.Debug().Int64("accountId", accountID).Str("draftId", msg.ID).Msg("Draft saved")

	return SaveResult{DraftID: msg.ID, SavedAt: savedAt}, nil
}
