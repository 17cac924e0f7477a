package notify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/pipewatch/pipewatch/monitor/internal/config"
)

// EmailSender delivers notifications as plain-text mail over SMTP.
type EmailSender struct {
	cfg config.SMTPConfig

	// rootCAs overrides the system pool when verifying the relay.
	rootCAs *x509.CertPool
}

// NewEmailSender returns a sender for the given SMTP relay.
func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	return &EmailSender{cfg: cfg}
}

// Send opens one SMTP session per notification. The context deadline bounds
// the whole exchange.
func (s *EmailSender) Send(ctx context.Context, ch Channel, n Notification) error {
	msg, err := s.message(ch.Address, n)
	if err != nil {
		return err
	}
	c, err := mail.NewClient(s.cfg.Host, s.clientOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := c.DialWithContext(ctx); err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if err := c.Send(msg); err != nil {
		c.Close() //nolint:errcheck
		return fmt.Errorf("smtp send to %s: %w", ch.Address, err)
	}
	return c.Close()
}

func (s *EmailSender) clientOptions(ctx context.Context) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(tlsPolicy(s.cfg.TLS)),
		mail.WithTLSConfig(&tls.Config{
			ServerName: s.cfg.Host,
			RootCAs:    s.rootCAs,
			MinVersion: tls.VersionTLS12,
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, mail.WithTimeout(time.Until(deadline)))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password()),
		)
	}
	return opts
}

func tlsPolicy(p string) mail.TLSPolicy {
	switch p {
	case "mandatory":
		return mail.TLSMandatory
	case "none":
		return mail.NoTLS
	}
	return mail.TLSOpportunistic
}

func (s *EmailSender) message(to string, n Notification) (*mail.Msg, error) {
	m := mail.NewMsg(mail.WithEncoding(mail.NoEncoding))
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("smtp from %q: %w", s.cfg.From, err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("smtp to %q: %w", to, err)
	}
	m.Subject(severityLabel(n.Severity) + " " + n.Policy)
	m.SetDateWithValue(n.FiredAt)
	m.SetBodyString(mail.TypeTextPlain, emailBody(n))
	return m, nil
}

func emailBody(n Notification) string {
	var b strings.Builder
	b.WriteString(n.Summary())
	b.WriteString("\r\n\r\n")
	if n.Documentation != "" {
		b.WriteString(n.Documentation)
		b.WriteString("\r\n\r\n")
	}
	fmt.Fprintf(&b, "condition: %s\r\n", n.Condition)
	fmt.Fprintf(&b, "fired at:  %s\r\n", n.FiredAt.UTC().Format(time.RFC3339))
	if !n.WindowEnd.IsZero() {
		fmt.Fprintf(&b, "window:    %s .. %s\r\n",
			n.WindowStart.UTC().Format(time.RFC3339), n.WindowEnd.UTC().Format(time.RFC3339))
	}
	for _, t := range n.Triggers {
		fmt.Fprintf(&b, "- job=%s metric=%s value=%g", t.Job, t.Metric, t.Value)
		if len(t.RunIDs) > 0 {
			fmt.Fprintf(&b, " run_id=%s", strings.Join(t.RunIDs, ","))
		}
		if t.LastOK != nil {
			fmt.Fprintf(&b, " last_ok=%s", t.LastOK.UTC().Format(time.RFC3339))
		}
		b.WriteString("\r\n")
	}
	return b.String()
}
