package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"notice_hub/internal/model"
)

type fcmSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM delivers to Android and iOS devices through Firebase Cloud Messaging.
type FCM struct {
	client fcmSender
}

// NewFCM creates an FCM channel from a service account credentials file.
func NewFCM(ctx context.Context, credentialsFile string) (*FCM, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return &FCM{client: client}, nil
}

// Name implements Channel.
func (f *FCM) Name() string { return "fcm" }

// Send implements Channel.
func (f *FCM) Send(ctx context.Context, device model.UserDevice, msg Message) error {
	if _, err := f.client.Send(ctx, fcmMessage(device.PushToken, msg)); err != nil {
		return fmt.Errorf("send fcm: %w", err)
	}
	return nil
}

func fcmMessage(token string, msg Message) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	}
}
