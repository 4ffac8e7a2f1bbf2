package connector

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog/log"
)

// IMAPDialer connects to IMAP mailboxes.
type IMAPDialer struct{}

// NewIMAPDialer creates a dialer for real IMAP servers.
func NewIMAPDialer() *IMAPDialer {
	return &IMAPDialer{}
}

// Connect dials the server according to the account's security mode,
// authenticates, and returns a live session. Every failure on this path
// is a *ConnectionError.
func (d *IMAPDialer) Connect(ctx context.Context, p Params) (Session, error) {
	dialer := &net.Dialer{Timeout: p.ConnectTimeout}
	tlsConfig := &tls.Config{ServerName: p.Host}

	var c *client.Client
	var err error

	switch p.Security {
	case "tls":
		c, err = client.DialWithDialerTLS(dialer, p.Addr(), tlsConfig)
	case "starttls":
		c, err = client.DialWithDialer(dialer, p.Addr())
		if err == nil {
			if upgradeErr := c.StartTLS(tlsConfig); upgradeErr != nil {
				c.Logout()
				err = upgradeErr
			}
		}
	case "none":
		c, err = client.DialWithDialer(dialer, p.Addr())
	default:
		return nil, &ConnectionError{Op: "dial", Err: fmt.Errorf("unknown security mode %q", p.Security)}
	}
	if err != nil {
		log.Error().Err(err).Str("addr", p.Addr()).Str("security", p.Security).Msg("IMAP connection failed")
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	if p.CommandTimeout > 0 {
		c.Timeout = p.CommandTimeout
	}

	if err := c.Login(p.Username, p.Password); err != nil {
		c.Logout()
		log.Warn().Err(err).Str("username", p.Username).Msg("IMAP authentication failed")
		return nil, &ConnectionError{Op: "login", Err: err}
	}

	log.Debug().Str("addr", p.Addr()).Str("username", p.Username).Msg("IMAP session established")

	return &imapSession{client: c}, nil
}

// imapSession wraps one go-imap client connection. The client is not safe
// for concurrent commands, hence the mutex.
type imapSession struct {
	client   *client.Client
	mu       sync.Mutex
	selected string
	uidValid uint32
}

// Folders lists all folder names on the server.
func (s *imapSession) Folders() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailboxes := make(chan *imap.MailboxInfo, 50)
	done := make(chan error, 1)

	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var names []string
	for m := range mailboxes {
		names = append(names, m.Name)
	}

	if err := <-done; err != nil {
		return nil, &ConnectionError{Op: "list", Err: err}
	}
	return names, nil
}

// FetchIDs searches the folder for messages received on or after since and
// fetches their envelopes to build refs. IMAP SINCE has day granularity,
// so callers filter strictly-after themselves.
func (s *imapSession) FetchIDs(folder string, since *time.Time, limit int) ([]RemoteRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectFolder(folder); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	if since != nil {
		criteria.Since = *since
	}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, &ConnectionError{Op: "search", Err: err}
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate}
	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var refs []RemoteRef
	for msg := range messages {
		ref := RemoteRef{
			UID:      msg.Uid,
			Received: msg.InternalDate,
		}
		if msg.Envelope != nil {
			ref.MessageID = msg.Envelope.MessageId
			if ref.Received.IsZero() {
				ref.Received = msg.Envelope.Date
			}
		}
		if ref.MessageID == "" {
			// Servers may omit Message-ID; fall back to a UID-scoped key
			ref.MessageID = fmt.Sprintf("uid:%d:%d", s.uidValid, msg.Uid)
		}
		refs = append(refs, ref)
	}

	if err := <-done; err != nil {
		return nil, &ConnectionError{Op: "fetch envelopes", Err: err}
	}
	return refs, nil
}

// FetchBody retrieves the full raw payload of one message by UID.
func (s *imapSession) FetchBody(folder string, ref RemoteRef) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectFolder(folder); err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(ref.UID)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var raw []byte
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		b, err := io.ReadAll(body)
		if err != nil {
			<-done
			return nil, &FetchError{RemoteID: ref.MessageID, Err: err}
		}
		raw = b
	}

	if err := <-done; err != nil {
		return nil, &FetchError{RemoteID: ref.MessageID, Err: err}
	}
	if raw == nil {
		return nil, &FetchError{RemoteID: ref.MessageID, Err: fmt.Errorf("server returned no body for uid %d", ref.UID)}
	}
	return raw, nil
}

// Close logs out of the server.
func (s *imapSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Logout()
}

// selectFolder selects the folder read-only, skipping the round trip when
// it is already selected. Callers hold s.mu.
func (s *imapSession) selectFolder(folder string) error {
	if s.selected == folder {
		return nil
	}
	mbox, err := s.client.Select(folder, true)
	if err != nil {
		return &ConnectionError{Op: "select " + folder, Err: err}
	}
	s.selected = folder
	s.uidValid = mbox.UidValidity
	return nil
}
