// Package slack delivers notifications through a Slack incoming webhook.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/statuspage-web/internal/notify"
	"github.com/slack-go/slack"
)

// Channel is the metrics and log label of this sender.
const Channel = "slack"

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "StatusPage"
	footer          = "Status page"
)

// ErrNoWebhook is returned by NewSender when no webhook URL is configured.
var ErrNoWebhook = errors.New("slack sender: webhook URL is required")

// Config holds Slack sender configuration.
// Channel and Username override the webhook defaults when set.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
}

// Sender posts notifications as colored attachments.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new Slack sender.
func NewSender(config Config) (*Sender, error) {
	if config.WebhookURL == "" {
		return nil, ErrNoWebhook
	}
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Channel returns the channel name.
func (s *Sender) Channel() string {
	return Channel
}

// Send posts a notification.
func (s *Sender) Send(ctx context.Context, n notify.Notification) error {
	msg := &slack.WebhookMessage{
		Channel:     s.config.Channel,
		Username:    s.config.Username,
		Text:        n.Subject,
		Attachments: []slack.Attachment{attachment(n)},
	}

	err := slack.PostWebhookCustomHTTPContext(ctx, s.config.WebhookURL, s.httpClient, msg)
	if err != nil {
		return classify(err)
	}

	slog.Debug("slack message sent", "channel", s.config.Channel)
	return nil
}

func attachment(n notify.Notification) slack.Attachment {
	a := slack.Attachment{
		Color:      string(n.Severity),
		Title:      n.Subject,
		TitleLink:  n.URL,
		Text:       n.Body,
		Footer:     footer,
		MarkdownIn: []string{"text"},
	}
	if n.Unix > 0 {
		a.Ts = json.Number(strconv.FormatInt(n.Unix, 10))
	}
	for _, f := range n.Fields {
		a.Fields = append(a.Fields, slack.AttachmentField{Title: f.Title, Value: f.Value, Short: true})
	}
	return a
}

// classify marks webhook errors as retryable or permanent.
func classify(err error) error {
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return notify.NewRetryableError(fmt.Errorf("slack: %w", err))
	}

	var status slack.StatusCodeError
	if errors.As(err, &status) {
		if status.Retryable() {
			return notify.NewRetryableError(fmt.Errorf("slack: %w", err))
		}
		return notify.NewPermanentError(fmt.Errorf("slack: %w", err))
	}

	return notify.NewRetryableError(fmt.Errorf("slack: %w", err))
}
