package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"xbk-pusher/internal/feed"
)

// ErrDelivery marks a notification that at least one channel failed to take.
var ErrDelivery = errors.New("notification delivery failed")

var metricNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pusher_notifications_total",
	Help: "The total number of notification attempts",
}, []string{"notifier", "status"})

// Channel is a named sender with an optional pause after each post.
type Channel struct {
	Name         string
	Sender       Sender
	PostInterval time.Duration
}

// Dispatcher broadcasts every item to every channel.
type Dispatcher struct {
	channels []Channel
}

func NewDispatcher(channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels}
}

func MessageFor(item feed.Item) Message {
	return Message{
		Title:       item.Title,
		Body:        item.Body,
		URL:         item.URL,
		Category:    item.Category,
		Origin:      item.Origin,
		PublishedAt: item.Published,
	}
}

// Notify keeps going after a failed send; all failures are returned joined
// under ErrDelivery. It only stops early when ctx is done.
func (d *Dispatcher) Notify(ctx context.Context, items []feed.Item) error {
	var errs []error
	for _, item := range items {
		msg := MessageFor(item)
		for _, ch := range d.channels {
			if err := ctx.Err(); err != nil {
				return errors.Join(append(errs, err)...)
			}
			if err := d.send(ctx, ch, msg); err != nil {
				slog.Error("Failed to send notification", "notifier", ch.Name, "id", item.ID, "title", item.Title, "error", err)
				errs = append(errs, fmt.Errorf("%s: item %s: %w", ch.Name, item.ID, err))
				continue
			}
			slog.Info("Sent notification", "notifier", ch.Name, "id", item.ID, "title", item.Title)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrDelivery, errors.Join(errs...))
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, msg Message) error {
	if err := ch.Sender.Send(ctx, msg); err != nil {
		metricNotifications.WithLabelValues(ch.Name, "error").Inc()
		return err
	}
	metricNotifications.WithLabelValues(ch.Name, "success").Inc()

	// Rate Limit Wait
	if ch.PostInterval > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ch.PostInterval):
		}
	}
	return nil
}
