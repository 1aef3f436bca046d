// Package notify delivers matched items to user devices.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/time/rate"

	"notice_hub/internal/model"
)

// Message is the channel-independent content of a notification.
type Message struct {
	Title string
	Body  string
	URL   string
	Data  map[string]string
}

// NewMessage builds the notification content for item.
func NewMessage(item model.Item) Message {
	body := item.ShortSummary
	if body == "" {
		body = item.Title
	}
	return Message{
		Title: item.Title,
		Body:  body,
		URL:   item.URL,
		Data: map[string]string{
			"itemId": item.ID,
			"type":   string(item.Type),
			"url":    item.URL,
		},
	}
}

// Channel sends a message to one device.
type Channel interface {
	Name() string
	Send(ctx context.Context, device model.UserDevice, msg Message) error
}

// Store is the subset of storage used by the dispatcher.
type Store interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListDevices(ctx context.Context, userID string) ([]model.UserDevice, error)
	CreateNotification(ctx context.Context, n *model.Notification) error
}

// Dispatcher fans an item out to every device of a user.
type Dispatcher struct {
	store    Store
	channels map[model.Platform]Channel
	log      *slog.Logger
}

// NewDispatcher creates a Dispatcher with no channels.
func NewDispatcher(store Store, log *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, channels: make(map[model.Platform]Channel), log: log}
}

// Register routes devices of the given platforms through ch.
func (d *Dispatcher) Register(ch Channel, platforms ...model.Platform) {
	for _, p := range platforms {
		d.channels[p] = ch
	}
}

// Dispatch delivers item itemID to user userID and records the outcome. A
// missing user or item is an error; individual device failures are not.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, itemID, ruleID string) (*model.Notification, error) {
	if _, err := d.store.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	item, err := d.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load item %s: %w", itemID, err)
	}
	devices, err := d.store.ListDevices(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	msg := NewMessage(*item)
	sentVia := []string{}
	for _, dev := range devices {
		ch, ok := d.channels[dev.Platform]
		if !ok {
			d.log.Warn("no channel for platform", "user_id", userID, "device_id", dev.ID, "platform", dev.Platform)
			continue
		}
		if err := ch.Send(ctx, dev, msg); err != nil {
			d.log.Warn("deliver notification", "user_id", userID, "device_id", dev.ID,
				"channel", ch.Name(), "error", err)
			continue
		}
		if !slices.Contains(sentVia, ch.Name()) {
			sentVia = append(sentVia, ch.Name())
		}
	}

	n := &model.Notification{
		UserID:  userID,
		ItemID:  itemID,
		RuleID:  ruleID,
		SentVia: sentVia,
		Status:  model.StatusFailed,
	}
	if len(sentVia) > 0 {
		n.Status = model.StatusSent
	}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("record notification: %w", err)
	}

	d.log.Info("notification dispatched", "user_id", userID, "item_id", itemID,
		"status", n.Status, "sent_via", sentVia, "devices", len(devices))
	return n, nil
}

type limited struct {
	Channel
	limiter *rate.Limiter
}

// RateLimited wraps ch so that sends proceed at most perSec per second.
func RateLimited(ch Channel, perSec float64, burst int) Channel {
	if burst < 1 {
		burst = 1
	}
	return &limited{Channel: ch, limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (l *limited) Send(ctx context.Context, device model.UserDevice, msg Message) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return l.Channel.Send(ctx, device, msg)
}
