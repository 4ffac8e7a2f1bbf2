package mailparse

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
)

// ParseError reports a malformed or truncated payload. It always names the
// remote identifier so the sync engine can log and skip the message.
type ParseError struct {
	RemoteID string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing message %s: %v", e.RemoteID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parsed is the structured record extracted from one raw message payload.
type Parsed struct {
	Subject     string
	From        string
	To          []string
	Cc          []string
	Date        time.Time
	TextBody    string
	HTMLBody    string
	Attachments []AttachmentData
}

// AttachmentData is one decoded attachment: descriptor plus payload bytes.
// The caller hands the bytes to the attachment store and keeps the handle.
type AttachmentData struct {
	Filename    string
	ContentType string
	Size        int64
	Content     []byte
}

// Parser turns raw fetched payloads into Parsed records. It holds no
// external state and is safe for concurrent use.
type Parser struct {
	sanitize *bluemonday.Policy
	strip    *bluemonday.Policy
}

// New creates a Parser with a display-safe HTML policy.
func New() *Parser {
	return &Parser{
		sanitize: htmlPolicy(),
		strip:    bluemonday.StrictPolicy(),
	}
}

// Parse parses one raw RFC 2822 payload. The rich body is the first HTML
// part, sanitized; the plain body falls back to stripped HTML when no
// text/plain part exists. A message with neither still parses with an
// empty body. Malformed payloads fail with a *ParseError naming remoteID.
func (p *Parser) Parse(remoteID string, raw []byte) (*Parsed, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{RemoteID: remoteID, Err: err}
	}
	defer mr.Close()

	parsed := &Parsed{}

	parsed.Subject, _ = mr.Header.Subject()
	parsed.Date, _ = mr.Header.Date()

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.From = from[0].Address
	}
	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, a := range to {
			parsed.To = append(parsed.To, a.Address)
		}
	}
	if cc, err := mr.Header.AddressList("Cc"); err == nil {
		for _, a := range cc {
			parsed.Cc = append(parsed.Cc, a.Address)
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A broken part after a readable header is still malformed input
			return nil, &ParseError{RemoteID: remoteID, Err: err}
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				return nil, &ParseError{RemoteID: remoteID, Err: readErr}
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				if parsed.TextBody == "" {
					parsed.TextBody = string(body)
				}
			case strings.HasPrefix(contentType, "text/html"):
				// First HTML part wins
				if parsed.HTMLBody == "" {
					parsed.HTMLBody = p.sanitize.Sanitize(string(body))
				}
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			if filename == "" {
				filename = "attachment"
			}
			contentType, _, _ := h.ContentType()
			if contentType == "" {
				contentType = "application/octet-stream"
			}

			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				return nil, &ParseError{RemoteID: remoteID, Err: readErr}
			}

			parsed.Attachments = append(parsed.Attachments, AttachmentData{
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(body)),
				Content:     body,
			})
		}
	}

	// Derive a plain body from the rich one when the message had no
	// text/plain part
	if parsed.TextBody == "" && parsed.HTMLBody != "" {
		parsed.TextBody = p.htmlToText(parsed.HTMLBody)
	}

	return parsed, nil
}

// htmlToText strips all markup and collapses whitespace.
func (p *Parser) htmlToText(htmlBody string) string {
	text := p.strip.Sanitize(htmlBody)
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}

// htmlPolicy is the display-safe sanitation policy for rich bodies. It
// keeps the formatting email clients commonly emit and drops scripts,
// external images and event handlers.
func htmlPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	// Common text formatting
	p.AllowElements("p", "br", "hr", "span", "div")
	p.AllowElements("b", "strong", "i", "em", "u", "s", "strike", "sub", "sup")
	p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6")

	// Lists
	p.AllowElements("ul", "ol", "li", "dl", "dt", "dd")

	// Tables (common in emails)
	p.AllowElements("table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption", "colgroup", "col")
	p.AllowAttrs("colspan", "rowspan", "align", "valign", "width", "height").OnElements("td", "th")
	p.AllowAttrs("width", "border", "cellpadding", "cellspacing", "align").OnElements("table")

	// Links
	p.AllowElements("a")
	p.AllowAttrs("href", "title").OnElements("a")
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	// Images restricted to embedded content, no external fetches
	p.AllowElements("img")
	p.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	p.AllowURLSchemes("data", "cid")

	// Limited inline styling
	p.AllowAttrs("style").Globally()
	p.AllowStyles(
		"color", "background-color", "background",
		"font-family", "font-size", "font-weight", "font-style",
		"text-align", "text-decoration",
		"margin", "margin-top", "margin-right", "margin-bottom", "margin-left",
		"padding", "padding-top", "padding-right", "padding-bottom", "padding-left",
		"border", "border-width", "border-style", "border-color",
		"width", "height", "max-width", "max-height",
		"display", "vertical-align",
	).Globally()

	p.AllowAttrs("class", "id").Globally()
	p.AllowElements("blockquote", "pre", "code")

	return p
}
