package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Service composes one HTML email and sends it with the Settings it was
// created with. Setters return a modified copy and leave the receiver
// untouched, so they can be chained:
//
//	err := email.NewService(settings).
//		Subject("Hi").
//		Body("<p>Hello</p>").
//		Recipients([]string{"x@y.com"}).
//		Send(ctx, false)
//
// or applied one statement at a time by reassigning the result.
type Service struct {
	settings  *Settings
	transport Transport
	out       io.Writer

	subject string
	body    string
	from    string
	replyTo string
	to      []string
	cc      []string
	bcc     []string
	files   []string
}

// Option configures how a Service delivers and prints messages.
type Option func(*Service)

// WithTransport replaces the SMTP transport, e.g. with a fake in tests.
func WithTransport(t Transport) Option {
	return func(s *Service) { s.transport = t }
}

// WithOutput sets where dev mode and debug sends print the message.
// Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(s *Service) { s.out = w }
}

// NewService returns an empty message bound to settings.
func NewService(settings *Settings, opts ...Option) Service {
	s := Service{
		settings: settings,
		out:      os.Stdout,
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

// Settings returns the Settings the Service sends with.
func (s Service) Settings() *Settings { return s.settings }

// Subject sets the subject line. Defaults to empty.
func (s Service) Subject(subject string) Service {
	s.subject = subject
	return s
}

// Body sets the HTML body. It isn't validated.
func (s Service) Body(html string) Service {
	s.body = html
	return s
}

// From overrides the From header. The SMTP envelope sender stays the
// Settings username.
func (s Service) From(addr string) Service {
	s.from = addr
	return s
}

// ReplyTo sets the Reply-To header. Defaults to the Settings username.
func (s Service) ReplyTo(addr string) Service {
	s.replyTo = addr
	return s
}

// Recipients replaces the "To" addresses. Addresses aren't checked here; a
// malformed one fails when the server rejects it.
func (s Service) Recipients(addrs []string) Service {
	s.to = dedupe(addrs)
	return s
}

// CCRecipients replaces the carbon copy addresses.
func (s Service) CCRecipients(addrs []string) Service {
	s.cc = dedupe(addrs)
	return s
}

// BCCRecipients replaces the blind copy addresses. They receive the message
// but never appear in its headers.
func (s Service) BCCRecipients(addrs []string) Service {
	s.bcc = dedupe(addrs)
	return s
}

// AttachFiles replaces the attachment paths. Files are read when Send is
// called, not now, so they don't need to exist yet.
func (s Service) AttachFiles(paths []string) Service {
	s.files = dedupe(paths)
	return s
}

// AttachFile adds one path to the attachments.
func (s Service) AttachFile(path string) Service {
	for _, p := range s.files {
		if p == path {
			return s
		}
	}
	files := make([]string, len(s.files), len(s.files)+1)
	copy(files, s.files)
	s.files = append(files, path)
	return s
}

// Send validates, assembles and delivers the message.
//
// In dev mode the message is printed to the Service output and nothing is
// sent. Otherwise it is delivered through the transport and, when debug is
// true, printed as well once delivery succeeds. Missing recipients and
// unreadable attachments fail before any connection is made, in dev mode as
// well.
func (s Service) Send(ctx context.Context, debug bool) error {
	if s.settings == nil {
		return &ConfigurationError{Field: "settings", Err: errors.New("service has no settings")}
	}

	if len(s.to) == 0 {
		return &ValidationError{Field: "recipients", Err: ErrNoRecipients}
	}

	atts, err := loadAttachments(s.files, s.settings.MaxAttachmentSize())
	if err != nil {
		return err
	}

	m := s.message(atts)

	if s.settings.DevMode() {
		log.Debug().
			Str("subject", m.Subject).
			Int("recipients", len(m.envelopeRecipients())).
			Msg("dev mode: printing the email instead of sending it")
		return s.print("printing email:", m)
	}

	t := s.transport
	if t == nil {
		t = NewSMTPTransport(s.settings)
	}

	mime, err := buildMIME(m)
	if err != nil {
		return err
	}

	err = t.Deliver(ctx, m.envelope(), mime)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Op: "deliver", Addr: s.settings.Address(), Err: err}
		}
		if debug {
			log.Error().
				Err(err).
				Str("subject", m.Subject).
				Msg("could not send the email")
		}
		return err
	}

	log.Info().
		Str("subject", m.Subject).
		Int("recipients", len(m.envelopeRecipients())).
		Int("attachments", len(m.Attachments)).
		Msg("sent email")

	if debug {
		return s.print("printing email after sending:", m)
	}
	return nil
}

func (s Service) print(heading string, m *message) error {
	if _, err := fmt.Fprintf(s.out, "\n%v\n", heading); err != nil {
		return err
	}
	return renderConsole(s.out, m)
}

// message snapshots the Service into what gets rendered and sent.
func (s Service) message(atts []attachment) *message {
	from := s.from
	if from == "" {
		from = s.settings.From()
	}
	replyTo := s.replyTo
	if replyTo == "" {
		replyTo = s.settings.Username()
	}
	return &message{
		Sender:         s.settings.Username(),
		From:           from,
		ReplyTo:        replyTo,
		OriginalSender: s.settings.Username(),
		Subject:        s.subject,
		HTML:           s.body,
		To:             s.to,
		Cc:             s.cc,
		Bcc:            s.bcc,
		Attachments:    atts,
	}
}

// loadAttachments reads every file in paths. The first unreadable path
// aborts with an *AttachmentError.
func loadAttachments(paths []string, limit int64) ([]attachment, error) {
	atts := make([]attachment, 0, len(paths))
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, &AttachmentError{Path: p, Err: err}
		}
		if fi.IsDir() {
			return nil, &AttachmentError{Path: p, Err: ErrAttachmentIsDir}
		}
		if limit > 0 && fi.Size() > limit {
			return nil, &AttachmentError{
				Path: p,
				Err:  fmt.Errorf("%w: %v > %v bytes", ErrAttachmentTooLarge, fi.Size(), limit),
			}
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, &AttachmentError{Path: p, Err: err}
		}
		atts = append(atts, attachment{
			Path:    p,
			Name:    filepath.Base(p),
			Content: b,
		})
	}
	return atts, nil
}

// dedupe copies addrs, dropping empty strings and repeats while keeping
// the first occurrence in place.
func dedupe(addrs []string) []string {
	if len(addrs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(addrs))
	r := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		r = append(r, a)
	}
	return r
}
