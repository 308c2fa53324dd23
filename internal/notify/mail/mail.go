// Package mail delivers change sets as HTML email through a local sendmail binary.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
	"github.com/andygrunwald/fuel-price-watcher/internal/views"
)

// NotifierName is the identifier for this notifier.
const NotifierName = "mail"

// DefaultSendmailPath is where most MTAs install their sendmail compatible binary.
const DefaultSendmailPath = "/usr/sbin/sendmail"

// Options configures the mail notifier.
type Options struct {
	SendmailPath string
	From         string
	To           []string
	Subject      string
	// FuelTypes are the table columns. Empty shows every fuel type in the change set.
	FuelTypes []string
	Location  *time.Location
}

// Notifier pipes rendered messages into sendmail.
type Notifier struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a mail notifier. Templates must already be loaded with views.LoadTemplates.
func New(opts Options, logger zerolog.Logger) (*Notifier, error) {
	if opts.SendmailPath == "" {
		opts.SendmailPath = DefaultSendmailPath
	}
	if opts.Subject == "" {
		opts.Subject = "Fuel prices changed"
	}
	if opts.From == "" {
		return nil, fmt.Errorf("mail sender is required")
	}
	if len(opts.To) == 0 {
		return nil, fmt.Errorf("at least one mail recipient is required")
	}

	return &Notifier{
		opts:   opts,
		logger: logger.With().Str("notifier", NotifierName).Logger(),
		now:    time.Now,
	}, nil
}

// Name returns the notifier identifier.
func (n *Notifier) Name() string {
	return NotifierName
}

// Notify renders the change set and hands it to sendmail.
func (n *Notifier) Notify(ctx context.Context, cs models.ChangeSet) error {
	if len(cs) == 0 {
		return nil
	}

	msg, err := n.buildMessage(cs)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, n.opts.SendmailPath, "-t", "-i")
	cmd.Stdin = bytes.NewReader(msg)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w: %s", n.opts.SendmailPath, err, strings.TrimSpace(stderr.String()))
	}

	n.logger.Debug().
		Strs("to", n.opts.To).
		Int("stations", len(cs)).
		Int("bytes", len(msg)).
		Msg("handed message to sendmail")
	return nil
}

func (n *Notifier) buildMessage(cs models.ChangeSet) ([]byte, error) {
	var body bytes.Buffer
	data := views.NewPageData(n.opts.Subject, cs, n.opts.FuelTypes, time.Time{}, n.opts.Location)
	if err := views.RenderEmail(&body, data); err != nil {
		return nil, fmt.Errorf("rendering email: %w", err)
	}

	var msg bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&msg, "%s: %s\n", k, v)
	}
	header("From", n.opts.From)
	header("To", strings.Join(n.opts.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", n.opts.Subject))
	header("Date", n.now().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@fuelwatcher>", uuid.NewString()))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="utf-8"`)
	msg.WriteString("\n")
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}
