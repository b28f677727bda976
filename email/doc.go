// Package email composes HTML emails and sends them to an SMTP server.
//
// Settings carries the server, credentials and a dev mode flag. A Service
// built from Settings accumulates the subject, HTML body, recipients and
// attachment paths, and Send validates the result, encodes it as a MIME
// message and hands it to a Transport. In dev mode the message is printed
// rather than sent, which is handy for inspecting output locally. The
// package doesn't care what the email says.
package email
