package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mgmtsuite/mailsync/internal/store"
	"github.com/mgmtsuite/mailsync/internal/testutil"
)

func TestCreateDraft(t *testing.T) {
	st, db := testutil.NewTestStore(t)
	ctx := context.Background()
	alice := testutil.SeedUser(t, db, "alice")
	account := testutil.SeedAccount(t, st, alice)

	draft, err := st.CreateDraft(ctx, account.ID, store.DraftFields{
		ToAddresses: []string{"bob@example.com"},
		Subject:     "hello",
		TextBody:    "first pass",
	})
	if err != nil {
		t.Fatal(err)
	}
	if draft.ID == "" {
		t.Fatal("draft id not assigned")
	}
	if draft.Folder != store.FolderDrafts {
		t.Errorf("folder = %q, want drafts", draft.Folder)
	}
	if draft.RemoteID != "" {
		t.Errorf("draft has remote id %q, drafts are local-only", draft.RemoteID)
	}
	if draft.DirtyAt == nil {
		t.Error("dirty_at not set on save")
	}
}

func TestUpdateDraft(t *testing.T) {
	st, db := testutil.NewTestStore(t)
	ctx := context.Background()
	alice := testutil.SeedUser(t, db, "alice")
	account := testutil.SeedAccount(t, st, alice)

	draft, err := st.CreateDraft(ctx, account.ID, store.DraftFields{Subject: "v1"})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := st.UpdateDraft(ctx, account.ID, draft.ID, store.DraftFields{Subject: "v2", TextBody: "more"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ID != draft.ID {
		t.Errorf("update changed draft id: %q != %q", updated.ID, draft.ID)
	}
	if updated.Subject != "v2" {
		t.Errorf("subject = %q, want v2", updated.Subject)
	}

	msgs, err := st.ListMessages(ctx, account.ID, store.MessageFilter{Folder: store.FolderDrafts})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d drafts, want 1", len(msgs))
	}

	if _, err := st.UpdateDraft(ctx, account.ID, "no-such-draft", store.DraftFields{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown draft: want ErrNotFound, got %v", err)
	}
}
