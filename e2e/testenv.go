package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ptgott/htmlmail/email"
	"github.com/ptgott/htmlmail/smtptest"
	"github.com/ptgott/htmlmail/userconfig"
)

// testEnvironmentConfig exposes options that should be available and
// perhaps changeable when spinning up a test environment. While they
// may not vary between tests, they shouldn't be buried inside
// functions.
type testEnvironmentConfig struct {
	devMode           bool
	startTLS          bool   // serve STARTTLS with a self-signed cert
	maxAttachmentSize string // written to the config as is
}

// testEnvironment manages all dependencies required to simulate a "real"
// environment and run the e2e tests. Callers should create this via
// startTestEnvironment.
type testEnvironment struct {
	SMTPServer  smtptest.Server
	tempDirPath string
	configPath  string
}

// startTestEnvironment starts an SMTP server and writes a config file
// pointing at it. Everything is torn down when the test ends.
func startTestEnvironment(t *testing.T, c testEnvironmentConfig) (*testEnvironment, error) {
	t.Helper()
	te := &testEnvironment{
		tempDirPath: t.TempDir(),
	}

	var opts []smtptest.ServerOption
	if c.startTLS {
		key, cert, err := smtptest.GenerateTLSFiles(t)
		if err != nil {
			return nil, err
		}
		opts = append(opts, smtptest.WithTLSFiles(key, cert))
	}

	ts, err := smtptest.NewInProcessServer(opts...)
	if err != nil {
		return nil, fmt.Errorf("could not start the test SMTP server: %w", err)
	}
	te.SMTPServer = ts
	go ts.Start()
	t.Cleanup(ts.Close)

	host, port := ts.HostPort()
	ao := appConfigOptions{
		Server:            host,
		Port:              port,
		DevMode:           c.devMode,
		SkipCertVerify:    c.startTLS,
		MaxAttachmentSize: c.maxAttachmentSize,
	}
	if c.startTLS {
		ao.TLS = "mandatory"
	}

	te.configPath = filepath.Join(te.tempDirPath, "config.yaml")
	if err := createAppConfig(te.configPath, ao); err != nil {
		return nil, err
	}

	return te, nil
}

// settings reads the environment's config file the way the command-line
// tool does.
func (te *testEnvironment) settings() (*email.Settings, error) {
	f, err := os.Open(te.configPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := userconfig.Parse(f)
	if err != nil {
		return nil, err
	}
	c, err := m.CheckAndSetDefaults()
	if err != nil {
		return nil, err
	}
	return c.Email.Settings()
}

// writeAttachment creates a file in the environment's temp directory.
func (te *testEnvironment) writeAttachment(name string, content []byte) (string, error) {
	p := filepath.Join(te.tempDirPath, name)
	return p, os.WriteFile(p, content, 0o600)
}
