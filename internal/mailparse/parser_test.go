package mailparse

import (
	"errors"
	"strings"
	"testing"
)

func TestParsePlainText(t *testing.T) {
	raw := strings.Join([]string{
		"From: Alice <alice@example.com>",
		"To: Bob <bob@example.com>, Carol <carol@example.com>",
		"Cc: Dave <dave@example.com>",
		"Subject: Quarterly numbers",
		"Date: Mon, 02 Mar 2026 09:30:00 +0000",
		"Message-ID: <plain@example.com>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"See attached.",
		"",
	}, "\r\n")

	p := New()
	parsed, err := p.Parse("<plain@example.com>", []byte(raw))
	if err != nil {
		t.Fatal(err)
	}

	if parsed.Subject != "Quarterly numbers" {
		t.Errorf("subject = %q", parsed.Subject)
	}
	if parsed.From != "alice@example.com" {
		t.Errorf("from = %q", parsed.From)
	}
	if len(parsed.To) != 2 || parsed.To[0] != "bob@example.com" {
		t.Errorf("to = %v", parsed.To)
	}
	if len(parsed.Cc) != 1 || parsed.Cc[0] != "dave@example.com" {
		t.Errorf("cc = %v", parsed.Cc)
	}
	if strings.TrimSpace(parsed.TextBody) != "See attached." {
		t.Errorf("text body = %q", parsed.TextBody)
	}
	if parsed.HTMLBody != "" {
		t.Errorf("html body = %q, want empty", parsed.HTMLBody)
	}
	if parsed.Date.IsZero() {
		t.Error("date not parsed")
	}
}

func TestParseSanitizesHTML(t *testing.T) {
	raw := strings.Join([]string{
		"From: alice@example.com",
		"To: bob@example.com",
		"Subject: Rich",
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=utf-8",
		"",
		`<p>Hello <b>there</b></p><script>alert("x")</script><img src="https://evil.example/track.gif">`,
		"",
	}, "\r\n")

	p := New()
	parsed, err := p.Parse("<rich@example.com>", []byte(raw))
	if err != nil {
		t.Fatal(err)
	}

	if strings.Contains(parsed.HTMLBody, "script") || strings.Contains(parsed.HTMLBody, "alert") {
		t.Errorf("script survived sanitation: %q", parsed.HTMLBody)
	}
	if strings.Contains(parsed.HTMLBody, "evil.example") {
		t.Errorf("external image survived sanitation: %q", parsed.HTMLBody)
	}
	if !strings.Contains(parsed.HTMLBody, "<b>there</b>") {
		t.Errorf("formatting stripped: %q", parsed.HTMLBody)
	}

	// No text/plain part: plain body is derived from the html
	if !strings.Contains(parsed.TextBody, "Hello there") {
		t.Errorf("derived text body = %q", parsed.TextBody)
	}
	if strings.Contains(parsed.TextBody, "<") {
		t.Errorf("markup leaked into text body: %q", parsed.TextBody)
	}
}

func TestParseMultipartWithAttachment(t *testing.T) {
	raw := strings.Join([]string{
		"From: alice@example.com",
		"To: bob@example.com",
		"Subject: Invoice",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Invoice attached.",
		"--outer",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="invoice.pdf"`,
		"",
		"%PDF-1.4 fake payload",
		"--outer--",
		"",
	}, "\r\n")

	p := New()
	parsed, err := p.Parse("<invoice@example.com>", []byte(raw))
	if err != nil {
		t.Fatal(err)
	}

	if strings.TrimSpace(parsed.TextBody) != "Invoice attached." {
		t.Errorf("text body = %q", parsed.TextBody)
	}
	if len(parsed.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(parsed.Attachments))
	}
	att := parsed.Attachments[0]
	if att.Filename != "invoice.pdf" {
		t.Errorf("filename = %q", att.Filename)
	}
	if att.ContentType != "application/pdf" {
		t.Errorf("content type = %q", att.ContentType)
	}
	if att.Size != int64(len(att.Content)) || att.Size == 0 {
		t.Errorf("size = %d, content %d bytes", att.Size, len(att.Content))
	}
}

func TestParseMalformedPayload(t *testing.T) {
	p := New()
	_, err := p.Parse("<broken@example.com>", []byte("total garbage\x00\x01 not a message"))
	if err == nil {
		// Some malformed inputs still yield a readable empty message;
		// only a returned error must be a ParseError
		return
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("want *ParseError, got %T: %v", err, err)
	}
	if parseErr.RemoteID != "<broken@example.com>" {
		t.Errorf("remote id = %q", parseErr.RemoteID)
	}
}
