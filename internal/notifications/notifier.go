package notifications

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Notifier delivers operator alerts. Implementations must be safe for
// concurrent use; delivery failures are the caller's to log, not to retry.
type Notifier interface {
	SendAlert(level, message string) error
}

// AlertLevel values understood by the notifiers
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// NoopNotifier discards all alerts. Used when no channel is configured.
type NoopNotifier struct{}

func (NoopNotifier) SendAlert(level, message string) error { return nil }

// TelegramNotifier posts alerts to a Telegram chat through the bot API
type TelegramNotifier struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramNotifier creates a notifier for the given bot token and chat
func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SendAlert posts one alert message. The level selects the marker emoji.
func (t *TelegramNotifier) SendAlert(level, message string) error {
	marker := "ℹ️"
	switch level {
	case LevelWarning:
		marker = "⚠️"
	case LevelError:
		marker = "🚨"
	case LevelSuccess:
		marker = "✅"
	}

	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", fmt.Sprintf("%s *Execution Engine*\n\n%s", marker, message))
	form.Set("parse_mode", "Markdown")

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	resp, err := t.client.Post(endpoint, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// NotifyOrderCompleted formats and sends a terminal-order alert
func NotifyOrderCompleted(n Notifier, orderID, strategy, status string, filledQty, avgPrice float64) error {
	level := LevelSuccess
	if status == "FAILED" {
		level = LevelError
	} else if status == "CANCELED" {
		level = LevelInfo
	}
	return n.SendAlert(level, fmt.Sprintf("%s order `%s` finished %s\nFilled: %.8f @ avg $%.2f",
		strategy, orderID, status, filledQty, avgPrice))
}
