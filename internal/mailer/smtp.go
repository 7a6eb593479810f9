// Package mailer delivers outreach messages over SMTP.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/outreach"
)

// SMTP sends each message over a fresh connection to the brand's server.
type SMTP struct {
	hostname string
	dialer   *net.Dialer
	now      func() time.Time
}

// NewSMTP creates a mailer. hostname is announced in EHLO; empty uses
// "localhost".
func NewSMTP(hostname string) *SMTP {
	if hostname == "" {
		hostname = "localhost"
	}
	return &SMTP{
		hostname: hostname,
		dialer:   &net.Dialer{Timeout: 15 * time.Second},
		now:      time.Now,
	}
}

// Send delivers msg. Server replies surface as *textproto.Error so callers
// can tell 4xx from 5xx.
func (m *SMTP) Send(ctx context.Context, msg outreach.Message) (outreach.SendResult, error) {
	cfg := msg.SMTP
	if cfg.Host == "" {
		return outreach.SendResult{}, eris.New("mailer: brand has no smtp host")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
		if cfg.UseTLS {
			port = 465
		}
	}

	messageID := newMessageID(msg.FromEmail)
	raw, err := buildMessage(msg, messageID, m.now())
	if err != nil {
		return outreach.SendResult{}, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	conn, err := m.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return outreach.SendResult{}, eris.Wrapf(err, "mailer: dial %s", addr)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	tlsCfg := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	if cfg.UseTLS {
		conn = tls.Client(conn, tlsCfg)
	}

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close() //nolint:errcheck
		return outreach.SendResult{}, eris.Wrap(err, "mailer: greeting")
	}
	defer c.Close() //nolint:errcheck

	if err := c.Hello(m.hostname); err != nil {
		return outreach.SendResult{}, eris.Wrap(err, "mailer: ehlo")
	}
	if !cfg.UseTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsCfg); err != nil {
				return outreach.SendResult{}, eris.Wrap(err, "mailer: starttls")
			}
		}
	}
	if cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return outreach.SendResult{}, eris.Wrap(err, "mailer: auth")
		}
	}
	if err := c.Mail(msg.FromEmail); err != nil {
		return outreach.SendResult{}, eris.Wrap(err, "mailer: mail from")
	}
	if err := c.Rcpt(msg.To); err != nil {
		return outreach.SendResult{}, eris.Wrap(err, "mailer: rcpt to")
	}
	w, err := c.Data()
	if err != nil {
		return outreach.SendResult{}, eris.Wrap(err, "mailer: data")
	}
	if _, err := w.Write(raw); err != nil {
		return outreach.SendResult{}, eris.Wrap(err, "mailer: write body")
	}
	if err := w.Close(); err != nil {
		return outreach.SendResult{}, eris.Wrap(err, "mailer: end data")
	}
	if err := c.Quit(); err != nil {
		zap.L().Debug("mailer: quit", zap.String("host", cfg.Host), zap.Error(err))
	}

	return outreach.SendResult{MessageID: messageID}, nil
}

// newMessageID returns "<uuid@domain>" using the sender's domain.
func newMessageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// buildMessage renders RFC 5322 headers and a quoted-printable HTML body.
func buildMessage(msg outreach.Message, messageID string, now time.Time) ([]byte, error) {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return nil, eris.Wrapf(err, "mailer: invalid recipient %q", msg.To)
	}
	from := mail.Address{Name: msg.FromName, Address: msg.FromEmail}

	var b bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }
	header("From", from.String())
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", messageID)
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	b.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&b)
	if _, err := qp.Write([]byte(msg.HTML)); err != nil {
		return nil, eris.Wrap(err, "mailer: encode body")
	}
	if err := qp.Close(); err != nil {
		return nil, eris.Wrap(err, "mailer: encode body")
	}
	return b.Bytes(), nil
}
