package email

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ptgott/htmlmail/html"
	gomail "gopkg.in/gomail.v2"
)

// attachment is a file read from disk at send time.
type attachment struct {
	Path    string
	Name    string
	Content []byte
}

// message is a validated, fully resolved email. It's what the console
// renderer prints and what buildMIME encodes.
type message struct {
	Sender         string // SMTP envelope sender
	From           string
	ReplyTo        string
	OriginalSender string
	Subject        string
	HTML           string
	To             []string
	Cc             []string
	Bcc            []string
	Attachments    []attachment
}

// envelopeRecipients returns the bare address of every To, Cc and Bcc
// entry once, in that order. "Bob <bob@example.com>" and bob@example.com
// are the same recipient.
func (m *message) envelopeRecipients() []string {
	all := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, l := range [][]string{m.To, m.Cc, m.Bcc} {
		for _, a := range l {
			all = append(all, bareAddress(a))
		}
	}
	return dedupe(all)
}

func (m *message) envelope() Envelope {
	return Envelope{
		From: bareAddress(m.Sender),
		To:   m.envelopeRecipients(),
	}
}

// bareAddress strips the display name and angle brackets from a mailbox
// so it can go into MAIL FROM or RCPT TO. Anything net/mail can't parse is
// returned trimmed but otherwise as is, and the server gets to reject it.
func bareAddress(addr string) string {
	a, err := mail.ParseAddress(addr)
	if err != nil {
		return strings.TrimSpace(addr)
	}
	return a.Address
}

// buildMIME encodes m as a multipart/alternative with a text/plain
// rendition and the text/html body. With attachments it is wrapped in a
// multipart/mixed carrying one base64 part per file. The attachment
// content type comes from the file extension, or application/octet-stream
// when unknown. Bcc addresses are left out of the headers.
func buildMIME(m *message) (io.WriterTo, error) {
	g := gomail.NewMessage(gomail.SetCharset("UTF-8"))

	g.SetHeader("From", m.From)
	g.SetHeader("To", m.To...)
	if len(m.Cc) > 0 {
		g.SetHeader("Cc", m.Cc...)
	}
	g.SetHeader("Reply-To", m.ReplyTo)
	g.SetHeader("Original-Sender", m.OriginalSender)
	g.SetHeader("Subject", m.Subject)
	g.SetHeader("Message-ID", messageID(m.Sender))
	g.SetDateHeader("Date", time.Now())

	g.SetBody("text/plain", html.PlainText(m.HTML))
	g.AddAlternative("text/html", m.HTML)

	for _, a := range m.Attachments {
		content := a.Content
		g.Attach(a.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(content)
			return err
		}))
	}

	// Render once up front so encoding problems surface before we dial.
	var buf bytes.Buffer
	if _, err := g.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("can't encode the message: %w", err)
	}

	return &buf, nil
}

// messageID builds a globally unique Message-ID in the sender's domain.
func messageID(sender string) string {
	domain := "localhost"
	if i := strings.LastIndex(sender, "@"); i >= 0 && i < len(sender)-1 {
		domain = sender[i+1:]
	}
	return fmt.Sprintf("<%v@%v>", uuid.NewString(), domain)
}
