// Package mailparse turns raw inbound MIME bytes into the parsed view,
// stripped artifact and attachment decisions the ingestion pipeline
// works with.
package mailparse

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func init() {
	message.CharsetReader = charset.Reader
	// Mailers in the wild label GBK bodies that go-message does not
	// handle out of the box (QQ/163 mailboxes).
	charset.RegisterEncoding("gbk", simplifiedchinese.GBK)
}

// Attachment is one decoded body part that is not the main text/html.
type Attachment struct {
	Content  []byte
	MimeType string
	Filename string
	Inline   bool
	Related  bool // referenced from the HTML body via Content-ID
}

// PayloadSize reports the decoded byte size of the attachment.
func (a Attachment) PayloadSize() int64 {
	return int64(len(a.Content))
}

// Message is the parsed view of one inbound mail.
type Message struct {
	From        string
	To          string
	Cc          string
	Bcc         string
	ReplyTo     string
	Date        time.Time
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Parse decodes raw MIME bytes with go-message. Decode failures on
// individual parts are tolerated; a failure to read the envelope at all
// is returned to the caller, who degrades to header scraping.
func Parse(raw []byte) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}

	msg := &Message{}
	msg.Subject, _ = mr.Header.Subject()
	msg.Date, _ = mr.Header.Date()
	msg.From = addressList(&mr.Header, "From")
	msg.To = addressList(&mr.Header, "To")
	msg.Cc = addressList(&mr.Header, "Cc")
	msg.Bcc = addressList(&mr.Header, "Bcc")
	msg.ReplyTo = addressList(&mr.Header, "Reply-To")

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			switch {
			case ct == "text/plain" || ct == "":
				if msg.Text == "" {
					msg.Text = readAll(part.Body)
				}
			case ct == "text/html":
				if msg.HTML == "" {
					msg.HTML = readAll(part.Body)
				}
			default:
				// Inline non-text content (embedded images, mostly).
				content, _ := io.ReadAll(part.Body)
				msg.Attachments = append(msg.Attachments, Attachment{
					Content:  content,
					MimeType: ct,
					Inline:   true,
					Related:  h.Get("Content-Id") != "",
				})
			}
		case *mail.AttachmentHeader:
			ct, _, _ := h.ContentType()
			filename, _ := h.Filename()
			content, _ := io.ReadAll(part.Body)
			msg.Attachments = append(msg.Attachments, Attachment{
				Content:  content,
				MimeType: ct,
				Filename: filename,
				Related:  h.Get("Content-Id") != "",
			})
		}
	}

	return msg, nil
}

func addressList(h *mail.Header, field string) string {
	list, err := h.AddressList(field)
	if err != nil || len(list) == 0 {
		return h.Get(field)
	}
	parts := make([]string, 0, len(list))
	for _, addr := range list {
		parts = append(parts, addr.String())
	}
	return strings.Join(parts, ", ")
}

func readAll(r io.Reader) string {
	b, _ := io.ReadAll(r)
	return string(b)
}
