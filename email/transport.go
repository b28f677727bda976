package email

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog/log"
)

// Envelope is the SMTP envelope of one message: who it's from as far as
// the server is concerned and every address that should receive it.
type Envelope struct {
	From string
	To   []string
}

// Transport delivers an encoded message. Implementations must not retry on
// their own and must release any connection before returning.
type Transport interface {
	Deliver(ctx context.Context, env Envelope, msg io.WriterTo) error
}

// SMTPTransport delivers messages to the SMTP server described by its
// Settings, opening and closing one connection per message.
type SMTPTransport struct {
	settings *Settings
	// localName is sent with EHLO.
	localName string
}

// NewSMTPTransport returns a Transport for settings.
func NewSMTPTransport(settings *Settings) *SMTPTransport {
	return &SMTPTransport{
		settings:  settings,
		localName: "localhost",
	}
}

func (t *SMTPTransport) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         t.settings.Server(),
		InsecureSkipVerify: t.settings.SkipCertVerification(),
		MinVersion:         tls.VersionTLS12,
	}
}

func (t *SMTPTransport) fail(op string, err error) error {
	return &TransportError{Op: op, Addr: t.settings.Address(), Err: err}
}

// dial opens the network connection, already wrapped in TLS for
// TLSImplicit.
func (t *SMTPTransport) dial(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{Timeout: t.settings.Timeout()}
	if t.settings.TLSMode() == TLSImplicit {
		td := &tls.Dialer{NetDialer: d, Config: t.tlsConfig()}
		return td.DialContext(ctx, "tcp", t.settings.Address())
	}
	return d.DialContext(ctx, "tcp", t.settings.Address())
}

// Deliver runs one complete SMTP exchange for msg: connect, EHLO, STARTTLS
// per the TLS mode, AUTH PLAIN, MAIL, one RCPT per recipient, DATA and
// QUIT. The connection is closed before Deliver returns, whatever happens.
// The whole exchange is bounded by Settings.Timeout and aborted early if
// ctx is cancelled.
func (t *SMTPTransport) Deliver(ctx context.Context, env Envelope, msg io.WriterTo) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return t.fail("dial", ctxErr(ctx, err))
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(t.settings.Timeout())); err != nil {
		return t.fail("dial", err)
	}

	// Unblock any pending read or write as soon as ctx is done.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	c, err := smtp.NewClient(conn, t.settings.Server())
	if err != nil {
		return t.fail("dial", ctxErr(ctx, err))
	}
	defer c.Close()

	if err := c.Hello(t.localName); err != nil {
		return t.fail("hello", ctxErr(ctx, err))
	}

	if t.settings.TLSMode() != TLSImplicit {
		ok, _ := c.Extension("STARTTLS")
		switch {
		case ok:
			if err := c.StartTLS(t.tlsConfig()); err != nil {
				return t.fail("starttls", ctxErr(ctx, err))
			}
		case t.settings.TLSMode() == TLSMandatory:
			return t.fail("starttls", ErrSTARTTLSNotOffered)
		default:
			log.Warn().
				Str("server", t.settings.Address()).
				Msg("server does not offer STARTTLS, continuing without encryption")
		}
	}

	auth := sasl.NewPlainClient("", t.settings.Username(), t.settings.Password())
	if err := c.Auth(auth); err != nil {
		return t.fail("auth", ctxErr(ctx, err))
	}

	if err := c.Mail(env.From, nil); err != nil {
		return t.fail("mail", ctxErr(ctx, err))
	}

	for _, r := range env.To {
		if err := c.Rcpt(r); err != nil {
			return t.fail("rcpt", ctxErr(ctx, err))
		}
	}

	w, err := c.Data()
	if err != nil {
		return t.fail("data", ctxErr(ctx, err))
	}
	if _, err := msg.WriteTo(w); err != nil {
		w.Close()
		return t.fail("data", ctxErr(ctx, err))
	}
	if err := w.Close(); err != nil {
		return t.fail("data", ctxErr(ctx, err))
	}

	if err := c.Quit(); err != nil {
		return t.fail("quit", ctxErr(ctx, err))
	}

	return nil
}

// ctxErr prefers the context's error over the I/O error a cancelled
// deadline produces.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
