package userconfig

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/units"
	"github.com/ptgott/htmlmail/email"
	"github.com/rs/zerolog/log"

	yaml "gopkg.in/yaml.v2"
)

// A one-second SMTP exchange is unrealistic for a remote server, so anything
// below this is treated as a typo.
const minTimeout = time.Duration(1) * time.Second

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	Email EmailConfig `yaml:"email"`
}

// EmailConfig contains config options for reaching the SMTP server. Not
// meant to be used directly for sending email without validation; call
// CheckAndSetDefaults, then Settings.
type EmailConfig struct {
	Username string
	Password string
	Server   string
	Port     int
	// Print emails instead of sending them.
	DevMode              bool
	From                 string
	TLSMode              email.TLSMode
	Timeout              time.Duration
	SkipCertVerification bool
	// Per-file limit in bytes. Zero means no limit.
	MaxAttachmentSize int64
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors. Every value is read as a string so that, e.g., the port
// can be written as 587 or "587" and dev mode as true, 1 or "True".
func (ec *EmailConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the email config: %v", err)
	}

	ec.Username = v["username"]
	ec.Password = v["password"]
	ec.Server = v["server"]
	ec.From = v["from"]
	ec.DevMode = email.ParseTruthy(v["devMode"])
	ec.SkipCertVerification = email.ParseTruthy(v["skipCertVerification"])

	if p, ok := v["port"]; ok {
		ec.Port, err = email.ParsePort(p)
		if err != nil {
			return err
		}
	}

	ec.TLSMode, err = email.ParseTLSMode(v["tls"])
	if err != nil {
		return fmt.Errorf("can't parse the TLS mode: %v", err)
	}

	if d, ok := v["timeout"]; ok {
		ec.Timeout, err = time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf(
				"can't parse the user-provided SMTP timeout as a duration: %v",
				err,
			)
		}
	}

	if s, ok := v["maxAttachmentSize"]; ok {
		ec.MaxAttachmentSize, err = parseSize(s)
		if err != nil {
			return fmt.Errorf("can't parse the maximum attachment size: %v", err)
		}
	}

	return nil
}

// parseSize accepts a bare byte count or a size with a unit, such as
// "10MiB" or "500KB".
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	return units.ParseStrictBytes(s)
}

// CheckAndSetDefaults validates ec and either returns a copy of ec with
// default settings applied or returns an error due to an invalid
// configuration
func (ec *EmailConfig) CheckAndSetDefaults() (EmailConfig, error) {
	if ec.Username == "" || ec.Password == "" {
		return EmailConfig{}, errors.New("must supply a username and password")
	}

	if ec.Server == "" {
		return EmailConfig{}, errors.New("must supply an SMTP server")
	}

	if ec.Port == 0 {
		ec.Port = 587
		log.Debug().Int("port", ec.Port).Msg("no SMTP port given, using the submission port")
	}

	if ec.Timeout == 0 {
		ec.Timeout = time.Duration(30) * time.Second
	}

	if ec.Timeout < minTimeout {
		return EmailConfig{}, fmt.Errorf("the SMTP timeout must be at least %v", minTimeout)
	}

	if ec.MaxAttachmentSize < 0 {
		return EmailConfig{}, errors.New("the maximum attachment size can't be negative")
	}

	return *ec, nil
}

// Settings turns the config into validated email.Settings.
func (ec *EmailConfig) Settings() (*email.Settings, error) {
	opts := []email.SettingsOption{
		email.WithTLSMode(ec.TLSMode),
		email.WithTimeout(ec.Timeout),
		email.WithMaxAttachmentSize(ec.MaxAttachmentSize),
	}
	if ec.From != "" {
		opts = append(opts, email.WithFrom(ec.From))
	}
	if ec.SkipCertVerification {
		opts = append(opts, email.WithSkipCertVerification())
	}
	return email.NewSettings(
		ec.Username,
		ec.Password,
		ec.Server,
		ec.Port,
		ec.DevMode,
		opts...,
	)
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	e, err := m.Email.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	return Meta{Email: e}, nil
}

// Parse generates usable configurations from possibly arbitrary user input.
// An error indicates a problem with parsing or validation. The Reader r
// can be either JSON or YAML.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	err := yaml.NewDecoder(r).Decode(&m)
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	var ec EmailConfig = EmailConfig{}
	if m.Email == ec {
		return &Meta{}, errors.New("must include an \"email\" section")
	}

	return &m, nil
}
