package notify

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"firebase.google.com/go/v4/messaging"
	webpush "github.com/SherClockHolmes/webpush-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"notice_hub/internal/model"
)

var testMessage = Message{
	Title: "GATE 2025 Registration",
	Body:  "Registration closes 30/09/2024",
	URL:   "https://gate.example.com",
	Data:  map[string]string{"itemId": "i1", "type": "EXAM", "url": "https://gate.example.com"},
}

// --- telegram ---

type sentMsg struct {
	ChatID int64
	Text   string
}

type mockTelegramAPI struct {
	mu   sync.Mutex
	sent []sentMsg
	err  error
}

func (m *mockTelegramAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m.err != nil {
		return tgbotapi.Message{}, m.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text})
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func TestTelegramSend(t *testing.T) {
	api := &mockTelegramAPI{}
	ch := &Telegram{api: api}

	if err := ch.Send(context.Background(), model.UserDevice{PushToken: " 12345 "}, testMessage); err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := []sentMsg{{
		ChatID: 12345,
		Text:   "[EXAM]\n\nGATE 2025 Registration\n\nRegistration closes 30/09/2024\n\nhttps://gate.example.com",
	}}
	if diff := cmp.Diff(want, api.sent); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestTelegramSendErrors(t *testing.T) {
	if err := (&Telegram{api: &mockTelegramAPI{}}).Send(context.Background(), model.UserDevice{PushToken: "not-a-chat"}, testMessage); err == nil {
		t.Error("expected error for non-numeric chat id")
	}
	if err := (&Telegram{api: &mockTelegramAPI{err: errors.New("blocked")}}).Send(context.Background(), model.UserDevice{PushToken: "1"}, testMessage); err == nil {
		t.Error("expected error from api")
	}
}

func TestFormatTelegram(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{name: "full", msg: testMessage, want: "[EXAM]\n\nGATE 2025 Registration\n\nRegistration closes 30/09/2024\n\nhttps://gate.example.com"},
		{name: "body repeats title", msg: Message{Title: "Holiday", Body: "Holiday"}, want: "Holiday"},
		{name: "no url", msg: Message{Title: "T", Body: "B"}, want: "T\n\nB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatTelegram(tt.msg)); diff != "" {
				t.Errorf("FormatTelegram() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// --- fcm ---

type fakeFCM struct {
	got *messaging.Message
	err error
}

func (f *fakeFCM) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.got = m
	return "projects/p/messages/1", f.err
}

func TestFCMSend(t *testing.T) {
	sender := &fakeFCM{}
	ch := &FCM{client: sender}

	if err := ch.Send(context.Background(), model.UserDevice{PushToken: "device-token", Platform: model.PlatformAndroid}, testMessage); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := sender.got
	if got.Token != "device-token" {
		t.Errorf("Token = %q", got.Token)
	}
	if diff := cmp.Diff(&messaging.Notification{Title: testMessage.Title, Body: testMessage.Body}, got.Notification); diff != "" {
		t.Errorf("Notification mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(testMessage.Data, got.Data); diff != "" {
		t.Errorf("Data mismatch (-want +got):\n%s", diff)
	}
	if got.Android == nil || got.Android.Priority != "high" {
		t.Errorf("Android priority not high: %+v", got.Android)
	}
	if got.APNS == nil || got.APNS.Headers["apns-priority"] != "10" {
		t.Errorf("APNS priority not 10: %+v", got.APNS)
	}

	sender.err = errors.New("unregistered")
	if err := ch.Send(context.Background(), model.UserDevice{PushToken: "x"}, testMessage); err == nil {
		t.Error("expected error from sender")
	}
}

// --- web push ---

func newSubscription(t *testing.T, endpoint string) string {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatal(err)
	}
	sub := webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
	b, err := json.Marshal(sub)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestWebPushSend(t *testing.T) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate vapid keys: %v", err)
	}

	tests := []struct {
		name    string
		status  int
		token   func(endpoint string) string
		wantErr bool
	}{
		{
			name:   "accepted",
			status: http.StatusCreated,
			token:  func(ep string) string { return newSubscription(t, ep) },
		},
		{
			name:    "subscription gone",
			status:  http.StatusGone,
			token:   func(ep string) string { return newSubscription(t, ep) },
			wantErr: true,
		},
		{
			name:    "token is not a subscription",
			status:  http.StatusCreated,
			token:   func(string) string { return "fcm-style-token" },
			wantErr: true,
		},
		{
			name:    "subscription without endpoint",
			status:  http.StatusCreated,
			token:   func(string) string { return `{"keys":{"p256dh":"a","auth":"b"}}` },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth, gotTTL string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				gotTTL = r.Header.Get("TTL")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			ch := NewWebPush(pub, priv, "ops@example.com", srv.Client())
			err := ch.Send(context.Background(), model.UserDevice{PushToken: tt.token(srv.URL + "/push/abc")}, testMessage)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			if !strings.HasPrefix(gotAuth, "vapid ") {
				t.Errorf("Authorization = %q, want vapid scheme", gotAuth)
			}
			if gotTTL != "86400" {
				t.Errorf("TTL = %q, want 86400", gotTTL)
			}
		})
	}
}
