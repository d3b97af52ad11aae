package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/nhle/mailagent/internal/model"
)

// SMTPTransport delivers over SMTP with implicit TLS, STARTTLS or a
// plain connection.
type SMTPTransport struct {
	creds   model.MailboxCredentials
	timeout time.Duration
}

func NewSMTPTransport(creds model.MailboxCredentials, timeout time.Duration) *SMTPTransport {
	return &SMTPTransport{creds: creds, timeout: timeout}
}

// Deliver sends d.Raw. Recipients refused at RCPT are reported in
// Receipt.Rejected; the send fails only when every recipient is refused.
func (t *SMTPTransport) Deliver(ctx context.Context, d *Delivery) (*Receipt, error) {
	c, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if err := c.Mail(d.From.Address); err != nil {
		return nil, fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	rec := &Receipt{MessageID: d.MessageID}
	for _, rcpt := range d.Recipients {
		if err := c.Rcpt(rcpt); err != nil {
			rec.Rejected = append(rec.Rejected, rcpt)
			continue
		}
		rec.Accepted = append(rec.Accepted, rcpt)
	}
	if len(rec.Accepted) == 0 {
		return rec, fmt.Errorf("SMTP RCPT TO: all recipients rejected (%s)", strings.Join(rec.Rejected, ", "))
	}

	w, err := c.Data()
	if err != nil {
		return rec, fmt.Errorf("SMTP DATA: %w", err)
	}
	if _, err := w.Write(d.Raw); err != nil {
		return rec, fmt.Errorf("writing email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return rec, fmt.Errorf("closing email body: %w", err)
	}
	if err := c.Quit(); err != nil {
		return rec, fmt.Errorf("SMTP QUIT: %w", err)
	}
	return rec, nil
}

func (t *SMTPTransport) connect(ctx context.Context) (*smtp.Client, error) {
	addr := t.creds.Addr()
	tlsConfig := &tls.Config{ServerName: t.creds.Host}
	dialer := &net.Dialer{Timeout: t.timeout}

	var (
		conn net.Conn
		err  error
	)
	if t.creds.Security == "" || t.creds.Security == model.SecurityTLS {
		td := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err = td.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, t.creds.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating SMTP client: %w", err)
	}

	if t.creds.Security == model.SecurityStartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Close()
			return nil, fmt.Errorf("SMTP STARTTLS: %w", err)
		}
	}

	if t.creds.Secret != "" {
		auth := smtp.PlainAuth("", t.creds.User, t.creds.Secret, t.creds.Host)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, smtpAuthError(t.creds.User, err)
		}
	}
	return c, nil
}

// smtpAuthError keeps 4xx replies transient; a permanent refusal is an
// AuthError.
func smtpAuthError(user string, err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 500 {
		return &AuthError{User: user, Message: fmt.Sprintf("SMTP auth: %v", err), Err: err}
	}
	return fmt.Errorf("SMTP auth: %w", err)
}
