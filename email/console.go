package email

import (
	"fmt"
	"io"
	"strings"

	"github.com/docker/go-units"
)

// renderConsole writes a human-readable dump of m to w: addresses,
// subject, the HTML body as given, and the name and size of each
// attachment.
func renderConsole(w io.Writer, m *message) error {
	var b strings.Builder

	b.WriteString("----------------------------------------\n")
	fmt.Fprintf(&b, "From: %v\n", m.From)
	fmt.Fprintf(&b, "Reply-To: %v\n", m.ReplyTo)
	fmt.Fprintf(&b, "To: %v\n", strings.Join(m.To, ", "))
	if len(m.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %v\n", strings.Join(m.Cc, ", "))
	}
	if len(m.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %v\n", strings.Join(m.Bcc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %v\n", m.Subject)
	b.WriteString("Body:\n")
	b.WriteString(m.HTML)
	b.WriteString("\n")

	if len(m.Attachments) > 0 {
		b.WriteString("Files set for attachment:\n")
		for _, a := range m.Attachments {
			fmt.Fprintf(&b, "%v - %v\n", a.Name, units.HumanSize(float64(len(a.Content))))
		}
	}
	b.WriteString("----------------------------------------\n")

	_, err := io.WriteString(w, b.String())
	return err
}
