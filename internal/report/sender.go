package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime/quotedprintable"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/goodtune/deskledger/internal/config"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sender delivers a rendered report.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
}

// SMTPSender delivers reports through an SMTP relay.
type SMTPSender struct {
	cfg     config.SMTPConfig
	timeout time.Duration
	logger  zerolog.Logger
}

// NewSMTPSender creates a sender for the configured relay.
func NewSMTPSender(cfg config.SMTPConfig, logger zerolog.Logger) *SMTPSender {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &SMTPSender{
		cfg:     cfg,
		timeout: timeout,
		logger:  logger.With().Str("component", "smtp").Logger(),
	}
}

// Send delivers the message, retrying transient failures with exponential
// backoff.
func (s *SMTPSender) Send(ctx context.Context, subject, body string) error {
	msg := s.compose(subject, body)

	attempt := 0
	op := func() error {
		attempt++
		err := s.deliver(ctx, msg)
		if err != nil {
			s.logger.Warn().Err(err).Int("attempt", attempt).Str("subject", subject).Msg("SMTP delivery failed")
		}
		return err
	}

	retries := s.cfg.Retries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("send report %q: %w", subject, err)
	}

	s.logger.Info().Str("subject", subject).Strs("to", s.cfg.To).Msg("Report sent")
	return nil
}

func (s *SMTPSender) deliver(ctx context.Context, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}

	// The whole exchange must finish before ctx does.
	deadline := time.Now().Add(s.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return fmt.Errorf("set deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()
	c.CommandTimeout = s.timeout
	c.SubmissionTimeout = s.timeout

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return backoff.Permanent(fmt.Errorf("authenticate: %w", err))
		}
	}

	if err := c.SendMail(s.cfg.From, s.cfg.To, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return c.Quit()
}

func (s *SMTPSender) compose(subject, body string) []byte {
	var msg bytes.Buffer
	_, _ = fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	_, _ = fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(s.cfg.To, ", "))
	_, _ = fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	_, _ = fmt.Fprintf(&msg, "Message-Id: <%s@deskledger>\r\n", uuid.NewString())
	_, _ = fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	_, _ = fmt.Fprintf(&msg, "Content-Transfer-Encoding: quoted-printable\r\n\r\n")

	qw := quotedprintable.NewWriter(&msg)
	_, _ = qw.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n")))
	_ = qw.Close()
	msg.WriteString("\r\n")

	return msg.Bytes()
}
