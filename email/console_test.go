package email

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderConsole(t *testing.T) {
	m := &message{
		From:    "a@b.com",
		ReplyTo: "a@b.com",
		Subject: "Hi",
		HTML:    "<p>Hello</p>",
		To:      []string{"x@y.com", "z@y.com"},
		Cc:      []string{"c@y.com"},
		Bcc:     []string{"b@y.com"},
		Attachments: []attachment{
			{Path: "/tmp/reports/q1.pdf", Name: "q1.pdf", Content: make([]byte, 2048)},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderConsole(&buf, m))
	out := buf.String()

	for _, want := range []string{
		"From: a@b.com",
		"To: x@y.com, z@y.com",
		"Cc: c@y.com",
		"Bcc: b@y.com",
		"Subject: Hi",
		"<p>Hello</p>",
		"Files set for attachment:",
		"q1.pdf - 2.048kB",
	} {
		assert.Contains(t, out, want)
	}
}

func TestRenderConsoleOmitsEmptySections(t *testing.T) {
	m := &message{
		From: "a@b.com",
		To:   []string{"x@y.com"},
	}

	var buf bytes.Buffer
	require.NoError(t, renderConsole(&buf, m))
	out := buf.String()

	for _, unwanted := range []string{"Cc:", "Bcc:", "Files set for attachment:"} {
		assert.NotContains(t, out, unwanted)
	}
}
