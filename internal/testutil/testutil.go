package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mgmtsuite/mailsync/internal/database"
	"github.com/mgmtsuite/mailsync/internal/store"
)

// NewTestDB creates a migrated throwaway database for one test.
func NewTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

// NewTestStore creates a store backed by a throwaway database.
func NewTestStore(t *testing.T) (*store.Store, *database.DB) {
	t.Helper()
	db := NewTestDB(t)
	return store.New(db), db
}

// SeedUser inserts a user row and returns its id. Accounts require an
// owning user.
func SeedUser(t *testing.T, db *database.DB, username string) int64 {
	t.Helper()

	res, err := db.Exec(`
		INSERT INTO users (username, email, password_hash, role)
		VALUES (?, ?, 'x', 'user')
	`, username, username+"@example.com")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("seed user id: %v", err)
	}
	return id
}

// SeedAccount creates an enabled account owned by userID.
func SeedAccount(t *testing.T, st *store.Store, userID int64) *store.Account {
	t.Helper()

	account := &store.Account{
		UserID:       userID,
		Name:         "Test",
		EmailAddress: "test@example.com",
		Host:         "imap.example.com",
		Port:         993,
		Username:     "test@example.com",
		PasswordEnc:  "sealed",
		Security:     "tls",
		Enabled:      true,
	}
	if err := st.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

// SeedMessage inserts one synced message and returns it.
func SeedMessage(t *testing.T, st *store.Store, accountID int64, remoteID string, folder store.Folder, received time.Time) *store.Message {
	t.Helper()

	msg := &store.Message{
		AccountID:   accountID,
		RemoteID:    remoteID,
		Folder:      folder,
		FromAddress: "sender@example.com",
		ToAddresses: []string{"test@example.com"},
		Subject:     "Subject " + remoteID,
		TextBody:    "body",
		ReceivedAt:  &received,
	}
	if err := st.InsertIncoming(context.Background(), msg); err != nil {
		t.Fatalf("seed message %s: %v", remoteID, err)
	}
	return msg
}
