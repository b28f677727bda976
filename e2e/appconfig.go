package e2e

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
)

// appConfigOptions is used to fill in a config template with details unique to
// a specific test environment. Keep this as small as possible so the input
// remains as close to a "real" YAML document as we can make it. Also using
// YAML/JSON-compatible types only here.
//
// Fields are exported so we can use them in templates.
type appConfigOptions struct {
	Server            string
	Port              int
	DevMode           bool
	TLS               string
	SkipCertVerify    bool
	MaxAttachmentSize string
}

// createAppConfig writes a configuration YAML doc to the given path.
func createAppConfig(path string, opts appConfigOptions) error {
	configTemplate := `---
email:
    username: myuser123@example.com
    password: myuser123
    server: {{ .Server }}
    port: {{ .Port }}
    devMode: {{ .DevMode }}
    from: "My Service <myuser123@example.com>"
{{- if .TLS }}
    tls: {{ .TLS }}
{{- end }}
    timeout: 5s
    skipCertVerification: {{ .SkipCertVerify }}
{{- if .MaxAttachmentSize }}
    maxAttachmentSize: {{ .MaxAttachmentSize }}
{{- end }}
`

	tmpl, err := template.New("conf").Parse(configTemplate)

	// This means the config template string was written incorrectly. Not
	// an issue with the application itself.
	if err != nil {
		return fmt.Errorf("couldn't parse the application config template: %v", err)
	}

	var config bytes.Buffer

	err = tmpl.Execute(&config, opts)

	// This is an issue with the test environment, not the application
	if err != nil {
		return fmt.Errorf("couldn't populate the application config template: %v", err)
	}

	err = os.WriteFile(path, config.Bytes(), 0o600)
	if err != nil {
		return fmt.Errorf("couldn't write to the config file: %v", err)
	}

	return nil

}
