package notify

import (
	"fmt"

	"xbk-pusher/internal/config"
)

// NewChannels builds one channel per configured notifier.
func NewChannels(notifiers []config.Notifier) ([]Channel, error) {
	channels := make([]Channel, 0, len(notifiers))
	for _, n := range notifiers {
		sender, err := newSender(n)
		if err != nil {
			return nil, fmt.Errorf("notifier %q: %w", n.Name, err)
		}
		channels = append(channels, Channel{
			Name:         n.Name,
			Sender:       sender,
			PostInterval: n.PostInterval,
		})
	}
	return channels, nil
}

func newSender(n config.Notifier) (Sender, error) {
	client := NewClient(n.Timeout)
	switch n.Provider {
	case config.ProviderBark, "":
		return NewBarkSender(client, n.URL, n.DeviceKey, n.Group, n.Sound), nil
	case config.ProviderDiscord:
		return NewDiscordSender(client, n.URL), nil
	case config.ProviderGeneric:
		return NewWebhookSender(client, n.URL), nil
	case config.ProviderEmail:
		return NewEmailSender(EmailOptions{
			Host:     n.SMTP.Host,
			Port:     n.SMTP.Port,
			Username: n.SMTP.Username,
			Password: n.SMTP.Password,
			TLSMode:  n.SMTP.TLSMode,
			From:     n.SMTP.From,
			To:       n.SMTP.To,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", n.Provider)
	}
}
