package store

import (
	"errors"
	"time"
)

// Folder is the exclusive bucket a message belongs to.
type Folder string

const (
	FolderInbox  Folder = "inbox"
	FolderSent   Folder = "sent"
	FolderDrafts Folder = "drafts"
	FolderTrash  Folder = "trash"
	FolderSpam   Folder = "spam"
)

// ValidFolder reports whether f is one of the five defined folders.
func ValidFolder(f Folder) bool {
	switch f {
	case FolderInbox, FolderSent, FolderDrafts, FolderTrash, FolderSpam:
		return true
	}
	return false
}

// ErrNotFound is returned when a requested row does not exist or is not
// visible to the requesting owner.
var ErrNotFound = errors.New("not found")

// ErrSystemLabel is returned when a delete targets a system-reserved label.
var ErrSystemLabel = errors.New("system labels cannot be deleted")

// ConflictError reports a dedup-key collision on message insert. Callers
// treat it as a no-op success, not a failure.
type ConflictError struct {
	RemoteID string
}

func (e *ConflictError) Error() string {
	return "message already exists for remote id " + e.RemoteID
}

// Account identifies one remote mailbox configuration.
type Account struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"-"`
	Name           string     `json:"name"`
	EmailAddress   string     `json:"emailAddress"`
	Host           string     `json:"host"`
	Port           int        `json:"port"`
	Username       string     `json:"username"`
	PasswordEnc    string     `json:"-"`
	Security       string     `json:"security"` // tls, starttls, none
	Enabled        bool       `json:"enabled"`
	LastSyncAt     *time.Time `json:"lastSyncAt,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	SyncInProgress bool       `json:"syncInProgress"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Message is one locally-stored mail message. The (AccountID, RemoteID)
// pair is the dedup key for synced messages; drafts have no remote id.
type Message struct {
	ID             string       `json:"id"`
	AccountID      int64        `json:"accountId"`
	RemoteID       string       `json:"remoteId,omitempty"`
	Folder         Folder       `json:"folder"`
	FromAddress    string       `json:"from"`
	ToAddresses    []string     `json:"to"`
	CcAddresses    []string     `json:"cc,omitempty"`
	Subject        string       `json:"subject"`
	TextBody       string       `json:"textBody"`
	HTMLBody       string       `json:"htmlBody,omitempty"`
	ReceivedAt     *time.Time   `json:"receivedAt,omitempty"`
	Read           bool         `json:"read"`
	Starred        bool         `json:"starred"`
	HasAttachments bool         `json:"hasAttachments"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Labels         []Label      `json:"labels,omitempty"`
	DirtyAt        *time.Time   `json:"dirtyAt,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Attachment describes a stored attachment. Payload bytes live in the
// attachment store under StorageHandle, never in the row.
type Attachment struct {
	ID            string `json:"id"`
	MessageID     string `json:"-"`
	Filename      string `json:"filename"`
	ContentType   string `json:"contentType"`
	Size          int64  `json:"size"`
	StorageHandle string `json:"storageHandle"`
	SHA256        string `json:"sha256,omitempty"`
}

// Label is a non-exclusive tag on messages. MessageCount caches the number
// of non-trashed messages holding the label and is recomputed inside every
// transaction that changes membership or trashes a member.
type Label struct {
	ID           string    `json:"id"`
	AccountID    int64     `json:"-"`
	Name         string    `json:"name"`
	Color        string    `json:"color"`
	Icon         string    `json:"icon"`
	SortOrder    int       `json:"sortOrder"`
	System       bool      `json:"system"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FolderSummary reports per-folder message counts for one account.
type FolderSummary struct {
	Folder Folder `json:"folder"`
	Total  int    `json:"total"`
	Unread int    `json:"unread"`
}

// MessageFilter controls message list queries.
type MessageFilter struct {
	Folder     Folder
	LabelID    string
	Query      string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// SyncError is one durably-recorded per-message sync failure.
type SyncError struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"accountId"`
	Folder    string    `json:"folder"`
	RemoteID  string    `json:"remoteId"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"createdAt"`
}

// Link is a polymorphic reference from a message to another record.
type Link struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"messageId"`
	EntityKind  string    `json:"entityKind"`
	EntityID    string    `json:"entityId"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
