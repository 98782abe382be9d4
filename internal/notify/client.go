package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultBarkServer = "https://api.day.app"
	discordMaxRunes   = 2000
	userAgent         = "xbk-pusher/1.0"
)

// Message is what a channel delivers for a single feed item.
type Message struct {
	Title       string
	Body        string
	URL         string
	Category    string
	Origin      string
	PublishedAt time.Time
}

// Sender delivers one message to one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type genericPayload struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	Category    string    `json:"category,omitempty"`
	Origin      string    `json:"origin,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
}

// DiscordPayload represents the structure for Discord Webhooks
type DiscordPayload struct {
	Content string `json:"content"`
}

// BarkPayload is the JSON body accepted by a Bark server's /push endpoint.
type BarkPayload struct {
	DeviceKey string `json:"device_key"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	URL       string `json:"url,omitempty"`
	Group     string `json:"group,omitempty"`
	Sound     string `json:"sound,omitempty"`
}

// Client posts JSON bodies over HTTP. It is shared by the webhook style
// senders.
type Client struct {
	client *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) postJSON(ctx context.Context, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint responded with status: %d", resp.StatusCode)
	}
	return nil
}

// BarkSender pushes to an iOS device through a Bark server.
type BarkSender struct {
	client    *Client
	server    string
	deviceKey string
	group     string
	sound     string
}

func NewBarkSender(c *Client, server, deviceKey, group, sound string) *BarkSender {
	if server == "" {
		server = DefaultBarkServer
	}
	return &BarkSender{
		client:    c,
		server:    strings.TrimRight(server, "/"),
		deviceKey: deviceKey,
		group:     group,
		sound:     sound,
	}
}

func (s *BarkSender) Send(ctx context.Context, msg Message) error {
	return s.client.postJSON(ctx, s.server+"/push", BarkPayload{
		DeviceKey: s.deviceKey,
		Title:     msg.Title,
		Body:      msg.Body,
		URL:       msg.URL,
		Group:     s.group,
		Sound:     s.sound,
	})
}

type DiscordSender struct {
	client *Client
	url    string
}

func NewDiscordSender(c *Client, url string) *DiscordSender {
	return &DiscordSender{client: c, url: url}
}

func (s *DiscordSender) Send(ctx context.Context, msg Message) error {
	content := fmt.Sprintf("**%s**\n%s\n%s", msg.Title, msg.Body, msg.URL)
	return s.client.postJSON(ctx, s.url, DiscordPayload{Content: truncateRunes(content, discordMaxRunes)})
}

// WebhookSender posts the message as plain JSON.
type WebhookSender struct {
	client *Client
	url    string
}

func NewWebhookSender(c *Client, url string) *WebhookSender {
	return &WebhookSender{client: c, url: url}
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	return s.client.postJSON(ctx, s.url, genericPayload{
		Title:       msg.Title,
		Body:        msg.Body,
		URL:         msg.URL,
		Category:    msg.Category,
		Origin:      msg.Origin,
		PublishedAt: msg.PublishedAt,
	})
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
