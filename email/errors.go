package email

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRecipients is returned (wrapped in a ValidationError) when Send
	// is called before any "To" address was set.
	ErrNoRecipients = errors.New("message must have at least one recipient")

	// ErrSTARTTLSNotOffered means TLSMandatory was requested but the server
	// never advertised STARTTLS.
	ErrSTARTTLSNotOffered = errors.New("server does not offer STARTTLS")

	// ErrAttachmentTooLarge is returned (wrapped in an AttachmentError) for
	// files above Settings.MaxAttachmentSize.
	ErrAttachmentTooLarge = errors.New("attachment exceeds the size limit")

	ErrAttachmentIsDir = errors.New("attachment path is a directory")
)

// ConfigurationError reports an invalid Settings field.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid email settings: %v: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ValidationError reports a message that can't be sent as composed. The
// caller can fix the message and call Send again.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %v: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AttachmentError reports an attachment path that couldn't be read at send
// time.
type AttachmentError struct {
	Path string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("can't attach %q: %v", e.Path, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// TransportError wraps a failure at one step of the SMTP exchange. Op is
// one of "dial", "hello", "starttls", "auth", "mail", "rcpt", "data" or
// "quit".
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("smtp %v %v: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
