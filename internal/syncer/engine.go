package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mgmtsuite/mailsync/internal/attachstore"
	"github.com/mgmtsuite/mailsync/internal/connector"
	"github.com/mgmtsuite/mailsync/internal/credential"
	"github.com/mgmtsuite/mailsync/internal/mailparse"
	"github.com/mgmtsuite/mailsync/internal/store"
)

// Result is the structured outcome of one sync run. Busy means another
// sync already held the account's guard and nothing was done.
type Result struct {
	Busy    bool     `json:"busy"`
	Fetched int      `json:"fetched"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// remoteFolders maps local folders to the conventional remote names.
var remoteFolders = map[store.Folder]string{
	store.FolderInbox:  "INBOX",
	store.FolderSent:   "Sent",
	store.FolderDrafts: "Drafts",
	store.FolderTrash:  "Trash",
	store.FolderSpam:   "Junk",
}

// Engine orchestrates connector, parser and store for one sync run.
type Engine struct {
	store       *store.Store
	dialer      connector.Dialer
	creds       *credential.Resolver
	parser      *mailparse.Parser
	attachments *attachstore.Store
	guard       *Guard
	fetchLimit  int
}

// NewEngine wires the sync engine.
func NewEngine(st *store.Store, dialer connector.Dialer, creds *credential.Resolver,
	parser *mailparse.Parser, attachments *attachstore.Store, fetchLimit int) *Engine {
	return &Engine{
		store:       st,
		dialer:      dialer,
		creds:       creds,
		parser:      parser,
		attachments: attachments,
		guard:       NewGuard(),
		fetchLimit:  fetchLimit,
	}
}

// Run syncs one folder of one account. At most one sync runs per account:
// a concurrent attempt returns a busy result with no side effects.
//
// Per-message fetch or parse failures are recorded and skipped, never
// aborting the batch. The cursor advances to the maximum received time
// among successfully processed messages (persisted or dedup-skipped);
// a wholly failed batch leaves it untouched. A connection-level failure
// records the error on the account and returns it.
func (e *Engine) Run(ctx context.Context, accountID int64, folder store.Folder, limit int) (Result, error) {
	if folder == "" {
		folder = store.FolderInbox
	}
	remote, ok := remoteFolders[folder]
	if !ok {
		return Result{}, fmt.Errorf("invalid folder %q", folder)
	}
	if limit <= 0 {
		limit = e.fetchLimit
	}

	if !e.guard.TryAcquire(accountID) {
		log.Debug().Int64("accountId", accountID).Msg("Sync already running, skipping")
		return Result{Busy: true}, nil
	}
	defer e.guard.Release(accountID)

	account, err := e.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return Result{}, err
	}
	if !account.Enabled {
		return Result{}, fmt.Errorf("account %d is disabled", accountID)
	}

	if err := e.store.SetSyncInProgress(ctx, accountID, true); err != nil {
		return Result{}, err
	}
	defer func() {
		if err := e.store.SetSyncInProgress(context.WithoutCancel(ctx), accountID, false); err != nil {
			log.Error().Err(err).Int64("accountId", accountID).Msg("Failed to clear sync-in-progress flag")
		}
	}()

	params, err := e.creds.Params(account)
	if err != nil {
		return Result{}, err
	}

	session, err := e.dialer.Connect(ctx, params)
	if err != nil {
		e.recordFailure(ctx, accountID, err)
		return Result{}, err
	}
	defer session.Close()

	refs, err := session.FetchIDs(remote, account.LastSyncAt, limit)
	if err != nil {
		e.recordFailure(ctx, accountID, err)
		return Result{}, err
	}

	// IMAP SINCE is day-granular, so the precise cursor filtering
	// happens here. The boundary is inclusive: a never-ingested message
	// sharing the cursor's timestamp must not be dropped, and re-offers
	// of already-ingested boundary messages are absorbed by the dedup
	// check below.
	if account.LastSyncAt != nil {
		cursor := *account.LastSyncAt
		filtered := refs[:0]
		for _, r := range refs {
			if !r.Received.Before(cursor) {
				filtered = append(filtered, r)
			}
		}
		refs = filtered
	}

	// Deterministic processing order
	sort.Slice(refs, func(i, j int) bool { return refs[i].Received.Before(refs[j].Received) })

	var result Result
	var maxProcessed time.Time

	for _, ref := range refs {
		// Cancellation boundary: never start the next message
		if ctx.Err() != nil {
			log.Info().Int64("accountId", accountID).Msg("Sync cancelled mid-batch")
			break
		}

		seen, err := e.store.SeenRemoteID(ctx, accountID, ref.MessageID)
		if err != nil {
			return result, err
		}
		if seen {
			result.Skipped++
			maxProcessed = laterOf(maxProcessed, ref.Received)
			continue
		}

		if err := e.ingest(ctx, session, account, folder, remote, ref); err != nil {
			var conflict *store.ConflictError
			if errors.As(err, &conflict) {
				// Raced with another writer for the same remote id
				result.Skipped++
				maxProcessed = laterOf(maxProcessed, ref.Received)
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Not a message failure; the batch stops here and the
				// message is re-offered on the next run.
				log.Info().Int64("accountId", accountID).Msg("Sync cancelled mid-batch")
				break
			}
			log.Warn().Err(err).Int64("accountId", accountID).Str("remoteId", ref.MessageID).Msg("Message sync failed")
			result.Errors = append(result.Errors, ref.MessageID)
			if recErr := e.store.RecordMessageError(ctx, accountID, remote, ref.MessageID, err.Error()); recErr != nil {
				log.Error().Err(recErr).Int64("accountId", accountID).Msg("Failed to record sync error")
			}
			continue
		}

		result.Fetched++
		maxProcessed = laterOf(maxProcessed, ref.Received)
	}

	// Progress made before a cancellation still moves the cursor.
	if !maxProcessed.IsZero() {
		if err := e.store.AdvanceCursor(context.WithoutCancel(ctx), accountID, maxProcessed); err != nil {
			return result, err
		}
	} else if err := e.store.ClearSyncError(context.WithoutCancel(ctx), accountID); err != nil {
		return result, err
	}

	log.Info().
		Int64("accountId", accountID).
		Str("folder", string(folder)).
		Int("fetched", result.Fetched).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Msg("Sync completed")

	return result, nil
}

// ingest fetches, parses and persists one message.
func (e *Engine) ingest(ctx context.Context, session connector.Session, account *store.Account,
	folder store.Folder, remote string, ref connector.RemoteRef) error {

	raw, err := session.FetchBody(remote, ref)
	if err != nil {
		return err
	}

	parsed, err := e.parser.Parse(ref.MessageID, raw)
	if err != nil {
		return err
	}

	msg := &store.Message{
		AccountID:   account.ID,
		RemoteID:    ref.MessageID,
		Folder:      folder,
		FromAddress: parsed.From,
		ToAddresses: parsed.To,
		CcAddresses: parsed.Cc,
		Subject:     parsed.Subject,
		TextBody:    parsed.TextBody,
		HTMLBody:    parsed.HTMLBody,
	}

	received := ref.Received
	if received.IsZero() {
		received = parsed.Date
	}
	if !received.IsZero() {
		msg.ReceivedAt = &received
	}

	for _, att := range parsed.Attachments {
		handle, digest, err := e.attachments.Put(att.Content)
		if err != nil {
			return fmt.Errorf("storing attachment %q: %w", att.Filename, err)
		}
		msg.Attachments = append(msg.Attachments, store.Attachment{
			Filename:      att.Filename,
			ContentType:   att.ContentType,
			Size:          att.Size,
			StorageHandle: handle,
			SHA256:        digest,
		})
	}

	return e.store.InsertIncoming(ctx, msg)
}

// ListRemoteFolders connects to the account's server and returns the
// folder names it exposes, for verifying connectivity after setup.
func (e *Engine) ListRemoteFolders(ctx context.Context, accountID int64) ([]string, error) {
	account, err := e.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Enabled {
		return nil, fmt.Errorf("account %d is disabled", accountID)
	}

	params, err := e.creds.Params(account)
	if err != nil {
		return nil, err
	}

	session, err := e.dialer.Connect(ctx, params)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return session.Folders()
}

func (e *Engine) recordFailure(ctx context.Context, accountID int64, cause error) {
	if err := e.store.RecordSyncFailure(context.WithoutCancel(ctx), accountID, cause.Error()); err != nil {
		log.Error().Err(err).Int64("accountId", accountID).Msg("Failed to record sync failure")
	}
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
