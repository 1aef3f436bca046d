package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"

	"notice_hub/internal/model"
)

const webPushTTL = 24 * 60 * 60

// WebPush delivers to browser push subscriptions using VAPID.
type WebPush struct {
	publicKey  string
	privateKey string
	subscriber string
	client     webpush.HTTPClient
}

// NewWebPush creates a web push channel. client may be nil.
func NewWebPush(publicKey, privateKey, subscriber string, client webpush.HTTPClient) *WebPush {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebPush{publicKey: publicKey, privateKey: privateKey, subscriber: subscriber, client: client}
}

// Name implements Channel.
func (w *WebPush) Name() string { return "web-push" }

type webPushPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	URL   string            `json:"url,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// Send implements Channel. The device push token is the JSON-encoded
// browser subscription.
func (w *WebPush) Send(ctx context.Context, device model.UserDevice, msg Message) error {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(device.PushToken), &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return fmt.Errorf("subscription has no endpoint")
	}

	payload, err := json.Marshal(webPushPayload{Title: msg.Title, Body: msg.Body, URL: msg.URL, Data: msg.Data})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.subscriber,
		VAPIDPublicKey:  w.publicKey,
		VAPIDPrivateKey: w.privateKey,
		TTL:             webPushTTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return fmt.Errorf("send web push: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push service returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
