package smtptest

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// Part is one leaf of a parsed MIME message, already decoded.
type Part struct {
	ContentType string // media type without parameters
	Filename    string // set for attachments
	Body        []byte
}

// ParsedEmail is an email as received by a test server, with its MIME
// tree flattened into leaf parts in document order.
type ParsedEmail struct {
	Header mail.Header
	Parts  []Part
}

// PartsOfType returns every leaf part with the given media type.
func (pe *ParsedEmail) PartsOfType(mediaType string) []Part {
	var r []Part
	for _, p := range pe.Parts {
		if p.ContentType == mediaType {
			r = append(r, p)
		}
	}
	return r
}

// Attachments returns the parts that carry a file name.
func (pe *ParsedEmail) Attachments() []Part {
	var r []Part
	for _, p := range pe.Parts {
		if p.Filename != "" {
			r = append(r, p)
		}
	}
	return r
}

// ParseEmail parses a raw RFC 5322 message, descending into multipart
// bodies and undoing base64 and quoted-printable transfer encodings.
func ParseEmail(raw string) (*ParsedEmail, error) {
	m, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("can't read the message headers: %v", err)
	}

	pe := &ParsedEmail{Header: m.Header}
	err = pe.walk(
		m.Header.Get("Content-Type"),
		m.Header.Get("Content-Disposition"),
		m.Header.Get("Content-Transfer-Encoding"),
		m.Body,
	)
	if err != nil {
		return nil, err
	}
	return pe, nil
}

func (pe *ParsedEmail) walk(contentType, disposition, encoding string, r io.Reader) error {
	if contentType == "" {
		contentType = "text/plain"
	}
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("bad Content-Type %q: %v", contentType, err)
	}

	if strings.HasPrefix(mt, "multipart/") {
		mr := multipart.NewReader(r, params["boundary"])
		for {
			p, err := mr.NextRawPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			err = pe.walk(
				p.Header.Get("Content-Type"),
				p.Header.Get("Content-Disposition"),
				p.Header.Get("Content-Transfer-Encoding"),
				p,
			)
			if err != nil {
				return err
			}
		}
	}

	var dec io.Reader
	switch strings.ToLower(encoding) {
	case "base64":
		dec = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		dec = quotedprintable.NewReader(r)
	default:
		dec = r
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, dec); err != nil {
		return fmt.Errorf("can't decode a %v part: %v", mt, err)
	}

	var filename string
	if disposition != "" {
		if _, dp, err := mime.ParseMediaType(disposition); err == nil {
			filename = dp["filename"]
		}
	}

	pe.Parts = append(pe.Parts, Part{
		ContentType: mt,
		Filename:    filename,
		Body:        buf.Bytes(),
	})
	return nil
}
