package e2e

// e2e contains integration tests and utility code required to set up
// dependencies. They drive the same path as the command-line tool: a YAML
// config file is parsed into settings, a message is composed and sent, and
// the result is inspected on an in-process SMTP server.
