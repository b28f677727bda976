package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/ptgott/htmlmail/email"
	"github.com/ptgott/htmlmail/userconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// splitList turns a comma-separated flag value into a slice, ignoring
// empty items.
func splitList(v string) []string {
	var r []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			r = append(r, s)
		}
	}
	return r
}

// cliOptions holds the parsed command-line flags.
type cliOptions struct {
	configPath string
	subject    string
	bodyPath   string
	to         string
	cc         string
	bcc        string
	attach     string
	noEmail    bool
	debug      bool
}

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	var o cliOptions
	flag.StringVar(
		&o.configPath,
		"config",
		"./config.yaml",
		"path to a YAML file containing your SMTP settings",
	)
	flag.StringVar(&o.subject, "subject", "", "subject line")
	flag.StringVar(
		&o.bodyPath,
		"body",
		"",
		"path to a file containing the HTML body",
	)
	flag.StringVar(&o.to, "to", "", "comma-separated recipients")
	flag.StringVar(&o.cc, "cc", "", "comma-separated CC recipients")
	flag.StringVar(&o.bcc, "bcc", "", "comma-separated BCC recipients")
	flag.StringVar(&o.attach, "attach", "", "comma-separated paths of files to attach")
	flag.BoolVar(
		&o.noEmail,
		"noemail",
		false,
		"print the email to stdout instead of sending it",
	)
	flag.BoolVar(
		&o.debug,
		"debug",
		false,
		"print the email to stdout after sending it",
	)
	level := flag.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)
	flag.Parse()

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	// Cancel an in-flight SMTP exchange on an interrupt instead of leaving
	// the connection hanging.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, o)
	stop()

	if err != nil {
		log.Error().
			Err(err).
			Msg("could not send the email")
		os.Exit(1)
	}
}

// run loads the config and body named by o and sends one email.
func run(ctx context.Context, o cliOptions) error {
	log.Info().
		Str("configPath", o.configPath).
		Msg("starting the application")

	f, err := os.Open(o.configPath)
	if err != nil {
		return fmt.Errorf("can't open the application config file %v: %w", o.configPath, err)
	}

	config, err := userconfig.Parse(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("problem parsing your config: %w", err)
	}
	if o.noEmail {
		config.Email.DevMode = true
	}

	checkedConfig, err := config.CheckAndSetDefaults()
	if err != nil {
		return fmt.Errorf("problem validating your config: %w", err)
	}

	settings, err := checkedConfig.Email.Settings()
	if err != nil {
		return fmt.Errorf("problem validating your config: %w", err)
	}

	log.Info().
		Str("configPath", o.configPath).
		Object("settings", settings).
		Msg("successfully validated the config")

	var body string
	if o.bodyPath != "" {
		b, err := os.ReadFile(o.bodyPath)
		if err != nil {
			return fmt.Errorf("can't read the email body %v: %w", o.bodyPath, err)
		}
		body = string(b)
	}

	return email.NewService(settings, email.WithOutput(os.Stdout)).
		Subject(o.subject).
		Body(body).
		Recipients(splitList(o.to)).
		CCRecipients(splitList(o.cc)).
		BCCRecipients(splitList(o.bcc)).
		AttachFiles(splitList(o.attach)).
		Send(ctx, o.debug)
}
