package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mgmtsuite/mailsync/internal/api"
	"github.com/mgmtsuite/mailsync/internal/attachstore"
	"github.com/mgmtsuite/mailsync/internal/config"
	"github.com/mgmtsuite/mailsync/internal/connector"
	"github.com/mgmtsuite/mailsync/internal/credential"
	"github.com/mgmtsuite/mailsync/internal/crypto"
	"github.com/mgmtsuite/mailsync/internal/drafts"
	"github.com/mgmtsuite/mailsync/internal/links"
	"github.com/mgmtsuite/mailsync/internal/mailparse"
	"github.com/mgmtsuite/mailsync/internal/state"
	"github.com/mgmtsuite/mailsync/internal/store"
	"github.com/mgmtsuite/mailsync/internal/syncer"
	"github.com/mgmtsuite/mailsync/internal/testutil"
)

type refusingDialer struct{}

func (refusingDialer) Connect(ctx context.Context, p connector.Params) (connector.Session, error) {
	return nil, &connector.ConnectionError{Op: "dial", Err: errors.New("connection refused")}
}

type testServer struct {
	srv   *httptest.Server
	st    *store.Store
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, db := testutil.NewTestStore(t)

	// A real user with a real password hash; the login endpoint is part
	// of what we exercise
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`
		INSERT INTO users (username, email, password_hash, role)
		VALUES ('alice', 'alice@example.com', ?, 'user')
	`, string(hash)); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		ListenAddr:          ":0",
		AppSecret:           strings.Repeat("a", 32),
		DBEncryptionKey:     strings.Repeat("b", 32),
		SessionTimeoutHours: 1,
		FetchLimit:          50,
	}

	enc, err := crypto.NewEncryptor(cfg.DBEncryptionKey)
	if err != nil {
		t.Fatal(err)
	}
	creds := credential.NewResolver(enc, time.Second, time.Second)

	attachments, err := attachstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	engine := syncer.NewEngine(st, refusingDialer{}, creds, mailparse.New(), attachments, cfg.FetchLimit)

	reg := links.NewRegistry()
	if err := reg.Register("supplier", links.RequireEntityID); err != nil {
		t.Fatal(err)
	}

	server := api.NewServer(cfg, db, st, engine, state.New(st), drafts.New(st), creds, reg, attachments)
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	ts := &testServer{srv: srv, st: st}
	ts.token = ts.login(t, "alice", "hunter22")
	return ts
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(ts.srv.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Token == "" {
		t.Fatal("login returned no token")
	}
	return out.Token
}

// do runs an authenticated request and decodes the JSON response into out
// when out is non-nil.
func (ts *testServer) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+ts.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp
}

func (ts *testServer) createAccount(t *testing.T) store.Account {
	t.Helper()

	var account store.Account
	resp := ts.do(t, http.MethodPost, "/api/v1/accounts", map[string]any{
		"name":         "Work",
		"emailAddress": "alice@example.com",
		"host":         "imap.example.com",
		"username":     "alice@example.com",
		"password":     "secret",
	}, &account)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create account status = %d", resp.StatusCode)
	}
	return account
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/api/v1/accounts")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/v1/accounts", nil)
	req.Header.Set("Authorization", "Bearer bogus-token")
	resp, err = ts.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bogus token status = %d, want 401", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "wrong"})
	resp, err := http.Post(ts.srv.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", resp.StatusCode)
	}
}

func TestAccountLifecycle(t *testing.T) {
	ts := newTestServer(t)
	account := ts.createAccount(t)

	if account.ID == 0 {
		t.Fatal("account id not assigned")
	}

	var accounts []store.Account
	resp := ts.do(t, http.MethodGet, "/api/v1/accounts", nil, &accounts)
	if resp.StatusCode != http.StatusOK || len(accounts) != 1 {
		t.Fatalf("list status = %d, %d accounts", resp.StatusCode, len(accounts))
	}

	// New accounts come with the system label set
	var labels []store.Label
	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d/labels", account.ID), nil, &labels)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("labels status = %d", resp.StatusCode)
	}
	if len(labels) != 3 {
		t.Errorf("got %d seeded labels, want 3", len(labels))
	}

	// All folders report, even empty ones
	var folders []store.FolderSummary
	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d/folders", account.ID), nil, &folders)
	if resp.StatusCode != http.StatusOK || len(folders) != 5 {
		t.Errorf("folders status = %d, %d folders", resp.StatusCode, len(folders))
	}
}

func TestSyncEndpointReportsConnectionFailure(t *testing.T) {
	ts := newTestServer(t)
	account := ts.createAccount(t)

	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/sync", account.ID), nil, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("sync against unreachable server status = %d, want 502", resp.StatusCode)
	}

	var got store.Account
	ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d", account.ID), nil, &got)
	if got.LastError == "" {
		t.Error("sync failure not recorded on the account")
	}

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d/remote-folders", account.ID), nil, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("remote folders against unreachable server status = %d, want 502", resp.StatusCode)
	}
}

func TestDraftAutosaveFlow(t *testing.T) {
	ts := newTestServer(t)
	account := ts.createAccount(t)

	var first drafts.SaveResult
	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/drafts", account.ID), map[string]any{
		"to":       []string{"bob@example.com"},
		"subject":  "hi",
		"textBody": "first",
	}, &first)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first save status = %d", resp.StatusCode)
	}
	if first.DraftID == "" {
		t.Fatal("no draft id assigned")
	}

	var second drafts.SaveResult
	resp = ts.do(t, http.MethodPut,
		fmt.Sprintf("/api/v1/accounts/%d/drafts/%s", account.ID, first.DraftID),
		map[string]any{"subject": "hi there", "textBody": "second"}, &second)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second save status = %d", resp.StatusCode)
	}
	if second.DraftID != first.DraftID {
		t.Errorf("autosave forked draft %q from %q", second.DraftID, first.DraftID)
	}

	var msgs []store.Message
	ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d/messages?folder=drafts", account.ID), nil, &msgs)
	if len(msgs) != 1 {
		t.Errorf("got %d drafts, want 1", len(msgs))
	}
}

func TestActionEndpoint(t *testing.T) {
	ts := newTestServer(t)
	account := ts.createAccount(t)

	received := time.Now().UTC()
	msg := testutil.SeedMessage(t, ts.st, account.ID, "<a@r>", store.FolderInbox, received)

	var result state.Result
	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/messages/actions", account.ID), map[string]any{
		"action": "mark_read",
		"ids":    []string{msg.ID, "not-mine"},
	}, &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("action status = %d", resp.StatusCode)
	}
	if result.Applied != 1 || len(result.Failed) != 1 {
		t.Errorf("result = %+v, want 1 applied 1 failed", result)
	}

	// Unknown label fails the whole call
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/messages/actions", account.ID), map[string]any{
		"action":  "add_label",
		"labelId": "no-such-label",
		"ids":     []string{msg.ID},
	}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown label status = %d, want 404", resp.StatusCode)
	}

	// Unknown action kind is a client error
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/messages/actions", account.ID), map[string]any{
		"action": "explode",
		"ids":    []string{msg.ID},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown action status = %d, want 400", resp.StatusCode)
	}
}

func TestMessageLinksEndpoint(t *testing.T) {
	ts := newTestServer(t)
	account := ts.createAccount(t)
	msg := testutil.SeedMessage(t, ts.st, account.ID, "<a@r>", store.FolderInbox, time.Now().UTC())

	var link store.Link
	resp := ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/accounts/%d/messages/%s/links", account.ID, msg.ID),
		map[string]string{"entityKind": "supplier", "entityId": "SUP-7"}, &link)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create link status = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/accounts/%d/messages/%s/links", account.ID, msg.ID),
		map[string]string{"entityKind": "starship", "entityId": "NCC-1701"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want 400", resp.StatusCode)
	}

	var got []store.Link
	ts.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/accounts/%d/messages/%s/links", account.ID, msg.ID), nil, &got)
	if len(got) != 1 || got[0].EntityID != "SUP-7" {
		t.Errorf("links = %+v", got)
	}
}

func TestLabelEndpointProtectsSystemLabels(t *testing.T) {
	ts := newTestServer(t)
	account := ts.createAccount(t)

	var labels []store.Label
	ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d/labels", account.ID), nil, &labels)
	if len(labels) == 0 {
		t.Fatal("no labels seeded")
	}

	resp := ts.do(t, http.MethodDelete,
		fmt.Sprintf("/api/v1/accounts/%d/labels/%s", account.ID, labels[0].ID), nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("delete system label status = %d, want 403", resp.StatusCode)
	}
}
