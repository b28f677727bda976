package email

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ptgott/htmlmail/smtptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs an in-process SMTP server for the duration of the test.
func startServer(t *testing.T, opts ...smtptest.ServerOption) *smtptest.InProcessServer {
	t.Helper()
	srv, err := smtptest.NewInProcessServer(opts...)
	require.NoError(t, err)
	go func(srv *smtptest.InProcessServer) {
		srv.Start()
	}(srv)
	t.Cleanup(srv.Close)
	return srv
}

func serverSettings(t *testing.T, srv *smtptest.InProcessServer, opts ...SettingsOption) *Settings {
	t.Helper()
	host, port := srv.HostPort()
	opts = append([]SettingsOption{WithTimeout(time.Duration(5) * time.Second)}, opts...)
	s, err := NewSettings("me@example.com", "mypassword", host, port, false, opts...)
	require.NoError(t, err)
	return s
}

// closedPort returns a local port nothing is listening on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return p
}

// TestSMTPSend checks the minimal expected behavior of a real delivery
// over plaintext: the envelope, the headers and every MIME part.
func TestSMTPSend(t *testing.T) {
	srv := startServer(t)
	dir := t.TempDir()
	pdf := []byte("%PDF-1.4 not really a pdf")
	blob := []byte{0x00, 0x01, 0x02, 0xff}
	pdfPath := filepath.Join(dir, "report.pdf")
	blobPath := filepath.Join(dir, "data.zzq")
	require.NoError(t, os.WriteFile(pdfPath, pdf, 0o600))
	require.NoError(t, os.WriteFile(blobPath, blob, 0o600))

	err := NewService(serverSettings(t, srv), WithOutput(io.Discard)).
		Subject("Monthly report").
		Body(`<html><body><p>Hello <a href="https://example.com">you</a></p></body></html>`).
		Recipients([]string{"you@example.com"}).
		CCRecipients([]string{"boss@example.com"}).
		BCCRecipients([]string{"archive@example.com"}).
		AttachFiles([]string{pdfPath, blobPath}).
		Send(context.Background(), false)
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "me@example.com", msgs[0].Username)
	assert.Equal(t, "me@example.com", msgs[0].From)
	assert.ElementsMatch(t, []string{"you@example.com", "boss@example.com", "archive@example.com"}, msgs[0].To)

	pe, err := smtptest.ParseEmail(msgs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "Monthly report", pe.Header.Get("Subject"))
	assert.Equal(t, "you@example.com", pe.Header.Get("To"))
	assert.Equal(t, "boss@example.com", pe.Header.Get("Cc"))
	assert.Empty(t, pe.Header.Get("Bcc"))
	assert.NotContains(t, msgs[0].Body, "archive@example.com")

	htmlParts := pe.PartsOfType("text/html")
	require.Len(t, htmlParts, 1)
	assert.Contains(t, string(htmlParts[0].Body), `<a href="https://example.com">you</a>`)

	textParts := pe.PartsOfType("text/plain")
	require.Len(t, textParts, 1)
	assert.Equal(t, "Hello you (https://example.com)", strings.TrimSpace(string(textParts[0].Body)))

	atts := pe.Attachments()
	require.Len(t, atts, 2)
	assert.Equal(t, "report.pdf", atts[0].Filename)
	assert.Equal(t, "application/pdf", atts[0].ContentType)
	assert.Equal(t, pdf, atts[0].Body)
	assert.Equal(t, "data.zzq", atts[1].Filename)
	assert.Equal(t, "application/octet-stream", atts[1].ContentType)
	assert.Equal(t, blob, atts[1].Body)
}

func TestSMTPSendSTARTTLS(t *testing.T) {
	k, c, err := smtptest.GenerateTLSFiles(t)
	require.NoError(t, err)
	srv := startServer(t, smtptest.WithTLSFiles(k, c))

	// The certificate is self-signed.
	s := serverSettings(t, srv, WithTLSMode(TLSMandatory), WithSkipCertVerification())

	err = NewService(s, WithOutput(io.Discard)).
		Subject("over TLS").
		Body("<p>secret</p>").
		Recipients([]string{"you@example.com"}).
		Send(context.Background(), false)
	require.NoError(t, err)

	b, err := srv.RetrieveEmails(0)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Contains(t, b[0], "Subject: over TLS")
}

func TestSMTPSendSTARTTLSUntrustedCert(t *testing.T) {
	k, c, err := smtptest.GenerateTLSFiles(t)
	require.NoError(t, err)
	srv := startServer(t, smtptest.WithTLSFiles(k, c))

	err = NewService(serverSettings(t, srv), WithOutput(io.Discard)).
		Recipients([]string{"you@example.com"}).
		Send(context.Background(), false)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "starttls", te.Op)
	assert.Empty(t, srv.Messages())
}

func TestSMTPSendImplicitTLS(t *testing.T) {
	k, c, err := smtptest.GenerateTLSFiles(t)
	require.NoError(t, err)
	srv := startServer(t, smtptest.WithTLSFiles(k, c), smtptest.WithImplicitTLS())

	s := serverSettings(t, srv, WithTLSMode(TLSImplicit), WithSkipCertVerification())

	err = NewService(s, WithOutput(io.Discard)).
		Subject("implicit").
		Recipients([]string{"you@example.com"}).
		Send(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, srv.Messages(), 1)
}

func TestSMTPSendMandatoryTLSWithoutSTARTTLS(t *testing.T) {
	srv := startServer(t)

	err := NewService(serverSettings(t, srv, WithTLSMode(TLSMandatory)), WithOutput(io.Discard)).
		Recipients([]string{"you@example.com"}).
		Send(context.Background(), false)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "starttls", te.Op)
	assert.ErrorIs(t, err, ErrSTARTTLSNotOffered)
	assert.Empty(t, srv.Messages())
}

func TestSMTPSendAuthRejected(t *testing.T) {
	srv := startServer(t, smtptest.WithRejectedAuth())

	err := NewService(serverSettings(t, srv), WithOutput(io.Discard)).
		Recipients([]string{"you@example.com"}).
		Send(context.Background(), false)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "auth", te.Op)
	assert.Empty(t, srv.Messages())
}

func TestSMTPSendRecipientRejected(t *testing.T) {
	srv := startServer(t, smtptest.WithRejectedRecipients("nobody@example.com"))

	err := NewService(serverSettings(t, srv), WithOutput(io.Discard)).
		Recipients([]string{"you@example.com"}).
		BCCRecipients([]string{"nobody@example.com"}).
		Send(context.Background(), false)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "rcpt", te.Op)
	assert.Contains(t, te.Error(), "nobody@example.com")
	assert.Empty(t, srv.Messages())
}

func TestSMTPSendDisplayNameRecipient(t *testing.T) {
	srv := startServer(t)

	err := NewService(serverSettings(t, srv), WithOutput(io.Discard)).
		Subject("named").
		Recipients([]string{"Bob <bob@example.com>"}).
		Send(context.Background(), false)
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"bob@example.com"}, msgs[0].To)

	pe, err := smtptest.ParseEmail(msgs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "Bob <bob@example.com>", pe.Header.Get("To"))
}

func TestSMTPSendUnreachableThenFixed(t *testing.T) {
	bad, err := NewSettings(
		"me@example.com",
		"mypassword",
		"127.0.0.1",
		closedPort(t),
		false,
		WithTimeout(time.Duration(2)*time.Second),
	)
	require.NoError(t, err)

	var out bytes.Buffer
	svc := NewService(bad, WithOutput(&out)).
		Subject("Hi").
		Body("<p>Hello</p>").
		Recipients([]string{"x@y.com"})

	err = svc.Send(context.Background(), true)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "dial", te.Op)
	assert.Empty(t, out.String(), "nothing is printed for a failed delivery")

	// Same message, fixed server address.
	srv := startServer(t)
	fixed := NewService(serverSettings(t, srv), WithOutput(&out)).
		Subject("Hi").
		Body("<p>Hello</p>").
		Recipients([]string{"x@y.com"})
	require.NoError(t, fixed.Send(context.Background(), true))
	assert.Len(t, srv.Messages(), 1)
	assert.Contains(t, out.String(), "printing email after sending:")
}

func TestSMTPSendCancelledContext(t *testing.T) {
	srv := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewService(serverSettings(t, srv), WithOutput(io.Discard)).
		Recipients([]string{"x@y.com"}).
		Send(ctx, false)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Empty(t, srv.Messages())
}

func TestSMTPSendSequentialMessages(t *testing.T) {
	srv := startServer(t)
	svc := NewService(serverSettings(t, srv), WithOutput(io.Discard)).
		Body("<p>same body</p>").
		Recipients([]string{"x@y.com"})

	for _, subj := range []string{"one", "two", "three"} {
		require.NoError(t, svc.Subject(subj).Send(context.Background(), false))
	}

	b, err := srv.RetrieveEmails(0)
	require.NoError(t, err)
	require.Len(t, b, 3)
	assert.Contains(t, b[0], "Subject: one")
	assert.Contains(t, b[2], "Subject: three")
}
