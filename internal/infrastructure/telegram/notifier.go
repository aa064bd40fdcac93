package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"IssueAssembler/internal/ports"
)

const apiBase = "https://api.telegram.org"

// Notifier sends operator alerts to a Telegram chat via bot API.
type Notifier struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
}

var _ ports.Alerter = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		baseURL:  apiBase,
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify posts the failure as a plain-text message.
func (n *Notifier) Notify(ctx context.Context, alert ports.Alert) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", FormatAlert(alert))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

// FormatAlert renders the message body shown to operators.
func FormatAlert(alert ports.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue assembly failed\n")
	fmt.Fprintf(&b, "publication: %s\n", alert.PublicationID)
	fmt.Fprintf(&b, "issue: %s\n", alert.IssueID)
	fmt.Fprintf(&b, "step: %s\n", alert.State)
	fmt.Fprintf(&b, "at: %s\n", alert.At.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "error: %s", alert.Message)
	return b.String()
}
