// Package email delivers notifications to a fixed recipient list over SMTP.
package email

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/statuspage-web/internal/notify"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Channel is the metrics and log label of this sender.
const Channel = "email"

const (
	defaultPort      = 587
	defaultBatchSize = 50
	defaultTimeout   = 10 * time.Second

	// Partially delivered messages are remembered this long so retries
	// skip the batches that already went out.
	deliveredTTL  = time.Hour
	deliveredSize = 256
)

// Config holds email sender configuration.
type Config struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	// Recipients get every notification as BCC.
	Recipients []string
	BatchSize  int
	Timeout    time.Duration
}

// Sender mails notifications through one SMTP relay.
type Sender struct {
	config Config
	auth   smtp.Auth
	// delivered maps a message digest to the batch indexes accepted by the relay.
	delivered *expirable.LRU[string, map[int]bool]
}

// NewSender creates a new email sender.
func NewSender(config Config) (*Sender, error) {
	if config.SMTPHost == "" {
		return nil, errors.New("email sender: SMTP host is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("email sender: from address is required")
	}
	if len(config.Recipients) == 0 {
		return nil, errors.New("email sender: at least one recipient is required")
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = defaultPort
	}
	if config.BatchSize == 0 {
		config.BatchSize = defaultBatchSize
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	slog.Info("email sender configured",
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
		"recipients", len(config.Recipients),
	)

	return &Sender{
		config:    config,
		auth:      auth,
		delivered: expirable.NewLRU[string, map[int]bool](deliveredSize, nil, deliveredTTL),
	}, nil
}

// Channel returns the channel name.
func (s *Sender) Channel() string {
	return Channel
}

// Send mails the notification to all recipients in batches. When some
// batches fail, a later Send of the same notification only retries those.
func (s *Sender) Send(ctx context.Context, n notify.Notification) error {
	msg := s.buildMessage(n)
	key := digest(msg)
	recipients := s.config.Recipients

	sent, _ := s.delivered.Get(key)
	sent = maps.Clone(sent)
	if sent == nil {
		sent = make(map[int]bool)
	}

	var errs []error
	for i := 0; i < len(recipients); i += s.config.BatchSize {
		if sent[i] {
			slog.Debug("email batch already sent", "batch_start", i)
			continue
		}

		end := min(i+s.config.BatchSize, len(recipients))
		batch := recipients[i:end]

		if err := s.sendEmail(ctx, batch, msg); err != nil {
			slog.Error("failed to send email batch",
				"batch_start", i,
				"batch_size", len(batch),
				"error", err,
			)
			errs = append(errs, err)
			continue
		}

		sent[i] = true
		slog.Debug("email batch sent", "batch_start", i, "batch_size", len(batch))
	}

	if len(errs) == 0 {
		s.delivered.Remove(key)
		return nil
	}
	if len(sent) > 0 {
		s.delivered.Add(key, sent)
	}
	return classify(errors.Join(errs...))
}

func digest(msg []byte) string {
	sum := sha256.Sum256(msg)
	return hex.EncodeToString(sum[:])
}

// buildMessage constructs the email message with headers.
func (s *Sender) buildMessage(n notify.Notification) []byte {
	var msg strings.Builder

	fmt.Fprintf(&msg, "From: %s\r\n", s.config.FromAddress)
	msg.WriteString("To: undisclosed-recipients:;\r\n")
	fmt.Fprintf(&msg, "Subject: %s\r\n", encodeHeader(n.Subject))
	if n.Unix > 0 {
		fmt.Fprintf(&msg, "Date: %s\r\n", time.Unix(n.Unix, 0).UTC().Format(time.RFC1123Z))
	}
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(n.Body, "\n", "\r\n"))
	if n.URL != "" {
		fmt.Fprintf(&msg, "\r\n\r\n%s", n.URL)
	}
	msg.WriteString("\r\n")

	return []byte(msg.String())
}

// encodeHeader folds line breaks into spaces and encodes non-ASCII text
// as an RFC 2047 word.
func encodeHeader(v string) string {
	v = strings.Join(strings.FieldsFunc(v, func(r rune) bool { return r == '\r' || r == '\n' }), " ")
	return mime.QEncoding.Encode("utf-8", v)
}

// sendEmail delivers msg to one batch, upgrading to TLS when the server offers STARTTLS.
func (s *Sender) sendEmail(ctx context.Context, recipients []string, msg []byte) error {
	addr := net.JoinHostPort(s.config.SMTPHost, strconv.Itoa(s.config.SMTPPort))

	dialer := &net.Dialer{Timeout: s.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.config.Timeout))
	}

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: s.config.SMTPHost,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(extractEmail(s.config.FromAddress)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}

	var added int
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			slog.Warn("failed to add recipient", "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		return notify.NewPermanentError(errors.New("no valid recipients"))
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the address from forms like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}

// classify marks transient SMTP failures as retryable. SMTP 4xx replies and
// network errors are transient, everything else is not.
func classify(err error) error {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return err
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 400 && protoErr.Code < 500 {
			return notify.NewRetryableError(err)
		}
		return notify.NewPermanentError(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return notify.NewRetryableError(err)
	}

	return notify.NewPermanentError(err)
}
