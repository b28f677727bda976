package smtptest

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-smtp"
)

// doubtful we'll get an email this big, but we need a limit
const maxEmailSize int64 = 100 * units.MiB

// Message is one email accepted by the server, envelope included.
type Message struct {
	Created  time.Time
	Username string
	From     string
	To       []string
	Body     string
}

// Backend implements smtp.Backend. It's a thin authentication wrapper
// for an InMemoryEmailStore.
type Backend struct {
	*InMemoryEmailStore
}

// Login implements smtp.Backend. Any non-empty username/password is fine,
// since we don't want to couple this with specific test configurations,
// unless the server was told to reject every login.
func (be *Backend) Login(_ *smtp.ConnectionState, username string, password string) (smtp.Session, error) {
	if be.rejectAuth {
		return nil, &smtp.SMTPError{
			Code:         535,
			EnhancedCode: smtp.EnhancedCode{5, 7, 8},
			Message:      "Authentication credentials invalid",
		}
	}
	if username != "" && password != "" {
		return &session{store: be.InMemoryEmailStore, username: username}, nil
	}
	return nil, errors.New("no username or password provided")
}

// AnonymousLogin implements smtp.Backend. Not supported since we want to
// enforce AUTH.
func (be *Backend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	return nil, smtp.ErrAuthUnsupported
}

// session implements smtp.Session for one authenticated connection.
type session struct {
	store    *InMemoryEmailStore
	username string
	from     string
	to       []string
}

// Reset implements smtp.Session.
func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

// Logout implements smtp.Session. No-op here.
func (s *session) Logout() error { return nil }

// Mail implements smtp.Session.
func (s *session) Mail(from string, _ smtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt implements smtp.Session. Recipients the server was told to reject
// get a 550.
func (s *session) Rcpt(to string) error {
	if s.store.rejects(to) {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      fmt.Sprintf("No such user: %v", to),
		}
	}
	s.to = append(s.to, to)
	return nil
}

// Data implements smtp.Session. Stores the email in memory for retrieval
// at the end of the test.
func (s *session) Data(r io.Reader) error {
	buf, err := io.ReadAll(io.LimitReader(r, maxEmailSize))
	if err != nil {
		return err
	}

	str := &strings.Builder{}
	if _, err := str.Write(buf); err != nil {
		return err
	}

	to := make([]string, len(s.to))
	copy(to, s.to)
	s.store.saveEmail(Message{
		Username: s.username,
		From:     s.from,
		To:       to,
		Body:     str.String(),
	})
	return nil
}

// InMemoryEmailStore retains emails in memory for comparison against a
// test's expected output. Designed to be goroutine safe since we don't know
// how many goroutines will be hitting the server at once.
type InMemoryEmailStore struct {
	mu         *sync.Mutex
	messages   []Message
	rejectAuth bool
	rejectRcpt map[string]struct{}
}

// saveEmail stores the email along with a timestamp created just prior to
// saving
func (es *InMemoryEmailStore) saveEmail(m Message) {
	es.mu.Lock()
	defer es.mu.Unlock()

	m.Created = time.Now()
	es.messages = append(es.messages, m)
}

func (es *InMemoryEmailStore) rejects(addr string) bool {
	_, ok := es.rejectRcpt[strings.ToLower(addr)]
	return ok
}

// RetrieveEmails returns a slice of all message bodies (as strings)
// sent after epoch nanoseconds t
// Satisfies smtptest.Server but isn't expected to return an error.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]string, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]string, 0, len(es.messages))
	for _, m := range es.messages {
		if m.Created.UnixNano() >= t {
			r = append(r, m.Body)
		}
	}
	return r, nil
}

// Messages returns a copy of everything the server accepted so far.
func (es *InMemoryEmailStore) Messages() []Message {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]Message, len(es.messages))
	copy(r, es.messages)
	return r
}

// ServerOption configures an InProcessServer.
type ServerOption func(*serverOptions)

type serverOptions struct {
	keyPath     string
	certPath    string
	implicitTLS bool
	rejectAuth  bool
	rejectRcpt  []string
}

// WithTLSFiles makes the server offer STARTTLS with the given key and
// certificate, and refuse AUTH until the client has upgraded.
func WithTLSFiles(keyPath, certPath string) ServerOption {
	return func(o *serverOptions) {
		o.keyPath = keyPath
		o.certPath = certPath
	}
}

// WithImplicitTLS makes the server expect a TLS handshake as soon as a
// client connects, as on port 465. Requires WithTLSFiles.
func WithImplicitTLS() ServerOption {
	return func(o *serverOptions) { o.implicitTLS = true }
}

// WithRejectedAuth makes every AUTH attempt fail with a 535.
func WithRejectedAuth() ServerOption {
	return func(o *serverOptions) { o.rejectAuth = true }
}

// WithRejectedRecipients makes RCPT fail with a 550 for each of addrs.
func WithRejectedRecipients(addrs ...string) ServerOption {
	return func(o *serverOptions) { o.rejectRcpt = append(o.rejectRcpt, addrs...) }
}

// InProcessServer is an SMTP server that runs in the same process as the
// test suite, letting us inspect sent emails. You must initialize this
// via NewInProcessServer
type InProcessServer struct {
	*smtp.Server
	// Embedded so callers can reach RetrieveEmails and Messages directly
	// instead of going through *smtp.Server.Backend.
	*InMemoryEmailStore
	listener net.Listener
}

// NewInProcessServer creates an InProcessServer listening on a random
// local port, configured to store incoming messages in memory. Without
// WithTLSFiles the server allows AUTH over plaintext.
func NewInProcessServer(opts ...ServerOption) (*InProcessServer, error) {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	is := &InMemoryEmailStore{
		mu:         &sync.Mutex{},
		messages:   []Message{},
		rejectAuth: o.rejectAuth,
		rejectRcpt: make(map[string]struct{}, len(o.rejectRcpt)),
	}
	for _, a := range o.rejectRcpt {
		is.rejectRcpt[strings.ToLower(a)] = struct{}{}
	}

	srv := smtp.NewServer(&Backend{
		is,
	})

	srv.Domain = "localhost"
	srv.AuthDisabled = false // need AUTH here
	srv.MaxMessageBytes = int(maxEmailSize)
	srv.ReadTimeout = time.Duration(10) * time.Second
	srv.WriteTimeout = time.Duration(10) * time.Second
	// Enforces <address> syntax in MAIL and RCPT.
	srv.Strict = true

	if o.certPath != "" || o.keyPath != "" {
		cert, err := tls.LoadX509KeyPair(o.certPath, o.keyPath)
		if err != nil {
			return nil, fmt.Errorf("can't load the test server's TLS key pair: %w", err)
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
		srv.AllowInsecureAuth = false
	} else {
		srv.AllowInsecureAuth = true
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("can't listen for the test server: %w", err)
	}
	if o.implicitTLS {
		if srv.TLSConfig == nil {
			l.Close()
			return nil, errors.New("implicit TLS needs a key and certificate")
		}
		// The whole connection is already encrypted.
		srv.AllowInsecureAuth = true
		l = tls.NewListener(l, srv.TLSConfig)
	}
	srv.Addr = l.Addr().String()

	return &InProcessServer{
		Server:             srv,
		InMemoryEmailStore: is,
		listener:           l,
	}, nil
}

// Start serves SMTP on the server's listener. Blocking.
func (is *InProcessServer) Start() error {
	// Not using ServeTLS--the client should upgrade the connection to TLS
	return is.Server.Serve(is.listener)
}

// Close shuts down the test server daemon. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
}

// Address returns the host:port of the test SMTP server.
func (is *InProcessServer) Address() string {
	return is.listener.Addr().String()
}

// HostPort splits Address for callers building email.Settings.
func (is *InProcessServer) HostPort() (string, int) {
	a := is.listener.Addr().(*net.TCPAddr)
	return a.IP.String(), a.Port
}
