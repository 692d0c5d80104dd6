package alerts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/camarigor/minerdash/internal/config"
	"github.com/camarigor/minerdash/internal/metrics"
)

// ErrDisabled is returned by Test when no webhook URL is configured.
var ErrDisabled = errors.New("webhook URL is not configured")

const (
	blockPrefix = "🧱 **BLOCK FOUND!**"
	testPrefix  = "🧪 **TEST WEBHOOK**"
)

// Notifier posts block announcements to a Discord webhook. Delivery is
// fire-and-forget: failures are logged and counted, never retried.
type Notifier struct {
	session   *discordgo.Session
	webhookID string
	token     string
	enabled   bool
	timeout   time.Duration
}

// NewNotifier creates a notifier from the alert configuration. A URL that
// does not end in /webhooks/<id>/<token> disables it.
func NewNotifier(cfg config.AlertConfig) *Notifier {
	timeout := config.Seconds(cfg.TimeoutSeconds)
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	n := &Notifier{timeout: timeout}
	if !cfg.WebhookEnabled() {
		return n
	}

	target, id, token, err := parseWebhookURL(strings.TrimSpace(cfg.WebhookURL))
	if err != nil {
		log.Printf("Discord webhook disabled: %v", err)
		return n
	}

	// no bot token: webhook execution is authorised by the URL token alone
	session, err := discordgo.New("")
	if err != nil {
		log.Printf("Discord webhook disabled: %v", err)
		return n
	}
	session.Client = &http.Client{Timeout: timeout, Transport: &webhookTransport{target: target}}
	session.ShouldRetryOnRateLimit = false
	session.MaxRestRetries = 0

	n.session, n.webhookID, n.token, n.enabled = session, id, token, true
	return n
}

// Enabled reports whether messages will actually be sent
func (n *Notifier) Enabled() bool {
	return n != nil && n.enabled
}

// BlockFound announces one credited block
func (n *Notifier) BlockFound(miner string, at time.Time) {
	if !n.Enabled() {
		return
	}
	go n.deliver(blockMessage(blockPrefix, miner, at))
}

// Test sends a test announcement in the background
func (n *Notifier) Test(miner string, at time.Time) error {
	if !n.Enabled() {
		return ErrDisabled
	}
	go n.deliver(blockMessage(testPrefix, miner, at))
	return nil
}

func (n *Notifier) deliver(content string) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.post(ctx, content); err != nil {
		metrics.WebhookErrors.Inc()
		log.Printf("Discord webhook failed: %v", err)
	}
}

// post executes the webhook once and waits for the response
func (n *Notifier) post(ctx context.Context, content string) error {
	_, err := n.session.WebhookExecute(n.webhookID, n.token, false,
		&discordgo.WebhookParams{Content: content},
		discordgo.WithContext(ctx))
	return err
}

// parseWebhookURL splits https://host/.../webhooks/<id>/<token> into the
// target URL and its id and token.
func parseWebhookURL(raw string) (*url.URL, string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", "", fmt.Errorf("parse webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", "", fmt.Errorf("webhook URL must be http(s), got %q", u.Scheme)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(parts) - 3; i >= 0; i-- {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return u, parts[i+1], parts[i+2], nil
		}
	}
	return nil, "", "", fmt.Errorf("webhook URL has no /webhooks/<id>/<token> path")
}

// webhookTransport sends every request to the configured webhook URL.
type webhookTransport struct {
	target *url.URL
}

func (t *webhookTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	out.URL.Path = t.target.Path
	out.URL.RawPath = ""
	if out.URL.RawQuery == "" {
		out.URL.RawQuery = t.target.RawQuery
	}
	out.Host = ""
	return http.DefaultTransport.RoundTrip(out)
}

func blockMessage(prefix, miner string, at time.Time) string {
	return strings.Join([]string{
		prefix,
		fmt.Sprintf("👑 **%s**", miner),
		"🕒 " + at.Format("15:04:05"),
	}, "\n")
}
