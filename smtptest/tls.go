package smtptest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/flashmob/go-guerrilla/tests/testcert"
)

// GenerateTLSFiles writes a TLS key and certificate for 127.0.0.1 to a
// temporary test directory that is removed after the test runs. It returns
// the file paths of the key and certificate. The certificate is a
// self-signed root cert, so clients need to skip verification.
func GenerateTLSFiles(t *testing.T) (keyPath string, certPath string, err error) {
	t.Helper()

	host := "127.0.0.1"
	// testcert concatenates the prefix and host name, so the separator
	// has to be part of the prefix.
	d := t.TempDir() + string(filepath.Separator)
	err = testcert.GenerateCert(
		host,
		"",                         // defaults to now
		time.Duration(1)*time.Hour, // the test suite won't run for this long
		true,                       // is a CA cert
		2048,                       // usually seen in online tutorials
		"",                         // using the default ecdsa curve,
		d,
	)

	if err != nil {
		return
	}

	// These path names are hardcoded into testcert.GenerateCert
	keyPath = d + host + ".key.pem"
	certPath = d + host + ".cert.pem"

	return
}
