package email

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout = time.Duration(30) * time.Second
	redacted       = "********"
)

// TLSMode controls how the SMTP connection is secured.
type TLSMode int

const (
	// TLSOpportunistic upgrades with STARTTLS when the server offers it and
	// otherwise continues in plaintext.
	TLSOpportunistic TLSMode = iota
	// TLSMandatory refuses to continue if the server doesn't offer
	// STARTTLS.
	TLSMandatory
	// TLSImplicit opens a TLS connection from the start, as on port 465.
	TLSImplicit
)

// String returns the name ParseTLSMode accepts for m.
func (m TLSMode) String() string {
	switch m {
	case TLSOpportunistic:
		return "opportunistic"
	case TLSMandatory:
		return "mandatory"
	case TLSImplicit:
		return "implicit"
	default:
		return "unknown"
	}
}

// ParseTLSMode reads a TLSMode from its String form. An empty string is
// TLSOpportunistic.
func ParseTLSMode(s string) (TLSMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "opportunistic", "starttls":
		return TLSOpportunistic, nil
	case "mandatory", "required":
		return TLSMandatory, nil
	case "implicit", "tls", "ssl":
		return TLSImplicit, nil
	}
	return TLSOpportunistic, fmt.Errorf("unknown TLS mode %q", s)
}

// Settings holds everything needed to reach and authenticate with an SMTP
// server. Create it with NewSettings. It is never modified afterwards, so a
// single *Settings can be shared by any number of Services and goroutines.
type Settings struct {
	username string
	password string
	server   string
	port     int
	devMode  bool

	from              string
	tlsMode           TLSMode
	timeout           time.Duration
	skipCertVerify    bool
	maxAttachmentSize int64
}

// SettingsOption configures optional Settings fields.
type SettingsOption func(*Settings)

// WithFrom sets the default From header. Defaults to the username.
func WithFrom(addr string) SettingsOption {
	return func(s *Settings) { s.from = addr }
}

// WithTLSMode picks how the connection is secured. Defaults to
// TLSOpportunistic.
func WithTLSMode(m TLSMode) SettingsOption {
	return func(s *Settings) { s.tlsMode = m }
}

// WithTimeout bounds a whole SMTP exchange, from dialing to QUIT.
func WithTimeout(d time.Duration) SettingsOption {
	return func(s *Settings) { s.timeout = d }
}

// WithSkipCertVerification disables server certificate checks. Only meant
// for self-signed test servers.
func WithSkipCertVerification() SettingsOption {
	return func(s *Settings) { s.skipCertVerify = true }
}

// WithMaxAttachmentSize caps the size of each attached file in bytes. Zero
// means no limit.
func WithMaxAttachmentSize(n int64) SettingsOption {
	return func(s *Settings) { s.maxAttachmentSize = n }
}

// NewSettings validates its arguments and returns an immutable Settings.
// Any missing field or an out-of-range port results in a
// *ConfigurationError.
func NewSettings(username, password, server string, port int, devMode bool, opts ...SettingsOption) (*Settings, error) {
	s := &Settings{
		username: username,
		password: password,
		server:   server,
		port:     port,
		devMode:  devMode,
		from:     username,
		timeout:  defaultTimeout,
	}

	for _, o := range opts {
		o(s)
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Settings) validate() error {
	if strings.TrimSpace(s.username) == "" {
		return &ConfigurationError{Field: "username", Err: errors.New("must not be empty")}
	}
	if s.password == "" {
		return &ConfigurationError{Field: "password", Err: errors.New("must not be empty")}
	}
	if strings.TrimSpace(s.server) == "" {
		return &ConfigurationError{Field: "server", Err: errors.New("must not be empty")}
	}
	if s.port < 1 || s.port > 65535 {
		return &ConfigurationError{
			Field: "port",
			Err:   fmt.Errorf("%v is not in the range 1-65535", s.port),
		}
	}
	if s.timeout <= 0 {
		return &ConfigurationError{Field: "timeout", Err: errors.New("must be positive")}
	}
	if s.maxAttachmentSize < 0 {
		return &ConfigurationError{Field: "maxAttachmentSize", Err: errors.New("must not be negative")}
	}
	if s.tlsMode < TLSOpportunistic || s.tlsMode > TLSImplicit {
		return &ConfigurationError{Field: "tls", Err: fmt.Errorf("unknown mode %d", s.tlsMode)}
	}
	return nil
}

// Username returns the SMTP login, also used as the envelope sender.
func (s *Settings) Username() string { return s.username }

// Password returns the SMTP password. Don't log it.
func (s *Settings) Password() string { return s.password }

// Server returns the SMTP host name.
func (s *Settings) Server() string { return s.server }

// Port returns the SMTP port.
func (s *Settings) Port() int { return s.port }

// DevMode reports whether messages are printed instead of sent.
func (s *Settings) DevMode() bool { return s.devMode }

// Address returns the host:port to dial.
func (s *Settings) Address() string {
	return net.JoinHostPort(s.server, strconv.Itoa(s.port))
}

// From returns the default From header value.
func (s *Settings) From() string { return s.from }

// TLSMode returns how the connection is secured.
func (s *Settings) TLSMode() TLSMode { return s.tlsMode }

// Timeout returns the deadline for one whole SMTP exchange.
func (s *Settings) Timeout() time.Duration { return s.timeout }

// SkipCertVerification reports whether server certificates go unchecked.
func (s *Settings) SkipCertVerification() bool { return s.skipCertVerify }

// MaxAttachmentSize returns the per-file size cap in bytes. Zero means no
// cap.
func (s *Settings) MaxAttachmentSize() int64 { return s.maxAttachmentSize }

// String implements fmt.Stringer with the password redacted.
func (s *Settings) String() string {
	return fmt.Sprintf(
		"username=%v password=%v server=%v devMode=%v tls=%v",
		s.username,
		redacted,
		s.Address(),
		s.devMode,
		s.tlsMode,
	)
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler. The password
// is never included.
func (s *Settings) MarshalZerologObject(e *zerolog.Event) {
	e.Str("username", s.username).
		Str("server", s.server).
		Int("port", s.port).
		Bool("devMode", s.devMode).
		Str("tls", s.tlsMode.String()).
		Dur("timeout", s.timeout)
}

// ParseTruthy interprets an on/off flag the way config files and
// environment variables tend to spell it, e.g. dev mode: "1", "true" and
// "True" turn it on, anything else leaves it off.
func ParseTruthy(v string) bool {
	switch strings.TrimSpace(v) {
	case "1", "true", "True", "TRUE":
		return true
	}
	return false
}

// ParsePort reads a port number given as a string.
func ParsePort(v string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, &ConfigurationError{
			Field: "port",
			Err:   fmt.Errorf("must be an integer or a string containing one: %w", err),
		}
	}
	return p, nil
}
