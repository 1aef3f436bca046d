package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"notice_hub/internal/model"
)

var ignoreSourceTS = cmpopts.IgnoreFields(model.Source{}, "CreatedAt", "LastFetchAt")
var ignoreRuleTS = cmpopts.IgnoreFields(model.AlertRule{}, "CreatedAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSourceCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	tests := []struct {
		name   string
		source model.Source
	}{
		{
			name: "rss source",
			source: model.Source{
				Name: "NTA", URL: "https://nta.example.com/rss", Kind: model.KindRSS,
				TrustLevel: 9, PollIntervalMinutes: 60, IsActive: true,
			},
		},
		{
			name: "inactive html source",
			source: model.Source{
				Name: "Board", URL: "https://board.example.com/notices", Kind: model.KindHTML,
				TrustLevel: 4, PollIntervalMinutes: 180, IsActive: false,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.source
			if err := s.CreateSource(ctx, &src); err != nil {
				t.Fatalf("create: %v", err)
			}
			if src.ID == "" {
				t.Fatal("expected generated ID")
			}

			got, err := s.GetSource(ctx, src.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}

			want := tt.source
			want.ID = src.ID
			if diff := cmp.Diff(want, *got, ignoreSourceTS); diff != "" {
				t.Errorf("GetSource mismatch (-want +got):\n%s", diff)
			}
		})
	}

	active, err := s.ListActiveSources(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if diff := cmp.Diff(1, len(active)); diff != "" {
		t.Errorf("active count mismatch (-want +got):\n%s", diff)
	}

	all, err := s.ListSources(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff(2, len(all)); diff != "" {
		t.Errorf("source count mismatch (-want +got):\n%s", diff)
	}
}

func TestGetSourceNotFound(t *testing.T) {
	s := newTestDB(t)
	_, err := s.GetSource(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertSourceKeepsIDAndLastFetch(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	src := model.Source{Name: "Old", URL: "https://a.example.com/feed", Kind: model.KindRSS, TrustLevel: 5, PollIntervalMinutes: 30, IsActive: true}
	if err := s.UpsertSource(ctx, &src); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	fetched := time.Now().UTC().Truncate(time.Second)
	if err := s.MarkSourceFetched(ctx, src.ID, fetched); err != nil {
		t.Fatalf("mark fetched: %v", err)
	}

	updated := model.Source{Name: "New", URL: src.URL, Kind: model.KindAPI, TrustLevel: 8, PollIntervalMinutes: 10, IsActive: false}
	if err := s.UpsertSource(ctx, &updated); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	want := model.Source{ID: src.ID, Name: "New", URL: src.URL, Kind: model.KindAPI, TrustLevel: 8, PollIntervalMinutes: 10, IsActive: false}
	if diff := cmp.Diff(want, updated, ignoreSourceTS); diff != "" {
		t.Errorf("UpsertSource mismatch (-want +got):\n%s", diff)
	}
	if updated.LastFetchAt == nil || !updated.LastFetchAt.Equal(fetched) {
		t.Errorf("LastFetchAt = %v, want %v", updated.LastFetchAt, fetched)
	}
}

func TestMarkSourceFetchedMissing(t *testing.T) {
	s := newTestDB(t)
	err := s.MarkSourceFetched(context.Background(), "missing", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRawItemRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	raw := model.RawItem{SourceID: "src-1", Payload: []byte(`{"title":"JEE Main"}`)}
	if err := s.CreateRawItem(ctx, &raw); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetRawItem(ctx, raw.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(raw, *got); diff != "" {
		t.Errorf("GetRawItem mismatch (-want +got):\n%s", diff)
	}
}

func TestItemRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	published := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	item := model.Item{
		SourceID:     "src-1",
		Title:        "JEE Main 2024 Registration Open",
		Body:         "Apply before 15/02/2024",
		URL:          "https://nta.example.com/jee",
		PublishedAt:  published,
		Type:         model.TypeExam,
		Tags:         []string{"exam", "exam"},
		ShortSummary: "JEE Main registration",
		LongSummary:  "JEE Main registration is open",
		Entities:     model.Entities{ExamName: "JEE", LastDate: "15/02/2024", Deadlines: []string{"15/02/2024"}},
		Fingerprint:  "abc",
	}
	if err := s.CreateItem(ctx, &item); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(item, *got); diff != "" {
		t.Errorf("GetItem mismatch (-want +got):\n%s", diff)
	}
}

func TestFindItemByFingerprint(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	now := time.Now().UTC()
	old := model.Item{SourceID: "s", Title: "old", URL: "u", Type: model.TypeOther, Fingerprint: "fp-old", CreatedAt: now.Add(-40 * 24 * time.Hour)}
	recent := model.Item{SourceID: "s", Title: "recent", URL: "u", Type: model.TypeOther, Fingerprint: "fp-recent", CreatedAt: now.Add(-2 * time.Hour)}
	for _, it := range []*model.Item{&old, &recent} {
		if err := s.CreateItem(ctx, it); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	since := now.Add(-30 * 24 * time.Hour)
	tests := []struct {
		name        string
		fingerprint string
		wantID      string
		wantMissing bool
	}{
		{name: "recent item found", fingerprint: "fp-recent", wantID: recent.ID},
		{name: "item outside window ignored", fingerprint: "fp-old", wantMissing: true},
		{name: "unknown fingerprint", fingerprint: "fp-none", wantMissing: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FindItemByFingerprint(ctx, tt.fingerprint, since)
			if tt.wantMissing {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected ErrNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if diff := cmp.Diff(tt.wantID, got.ID); diff != "" {
				t.Errorf("item ID mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListMatchableRules(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	rules := []model.AlertRule{
		{UserID: "u1", Name: "any", MinTrustLevel: 1, IsActive: true},
		{UserID: "u1", Name: "strict", Keywords: []string{"jee"}, Types: []model.NoticeType{model.TypeExam}, MinTrustLevel: 8, IsActive: true},
		{UserID: "u2", Name: "too strict", MinTrustLevel: 10, IsActive: true},
		{UserID: "u2", Name: "inactive", MinTrustLevel: 1, IsActive: false},
	}
	for i := range rules {
		if err := s.CreateAlertRule(ctx, &rules[i]); err != nil {
			t.Fatalf("create rule: %v", err)
		}
	}

	got, err := s.ListMatchableRules(ctx, 8)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	want := []model.AlertRule{rules[0], rules[1]}
	if diff := cmp.Diff(want, got, ignoreRuleTS, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("ListMatchableRules mismatch (-want +got):\n%s", diff)
	}
}

func TestUsersDevicesNotifications(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	u := model.User{Name: "Asha"}
	if err := s.CreateUser(ctx, &u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s.GetUser(ctx, u.ID); err != nil {
		t.Fatalf("get user: %v", err)
	}
	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, d := range []model.UserDevice{
		{UserID: u.ID, PushToken: "web-sub", Platform: model.PlatformWeb},
		{UserID: u.ID, PushToken: "fcm-token", Platform: model.PlatformAndroid},
		{UserID: "other", PushToken: "x", Platform: model.PlatformIOS},
	} {
		if err := s.CreateDevice(ctx, &d); err != nil {
			t.Fatalf("create device: %v", err)
		}
	}
	devices, err := s.ListDevices(ctx, u.ID)
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	var platforms []model.Platform
	for _, d := range devices {
		platforms = append(platforms, d.Platform)
	}
	if diff := cmp.Diff([]model.Platform{model.PlatformWeb, model.PlatformAndroid}, platforms); diff != "" {
		t.Errorf("platforms mismatch (-want +got):\n%s", diff)
	}

	n := model.Notification{UserID: u.ID, ItemID: "item-1", RuleID: "rule-1", SentVia: []string{"fcm"}, Status: model.StatusSent}
	if err := s.CreateNotification(ctx, &n); err != nil {
		t.Fatalf("create notification: %v", err)
	}
	noRule := model.Notification{UserID: u.ID, ItemID: "item-2", Status: model.StatusFailed}
	if err := s.CreateNotification(ctx, &noRule); err != nil {
		t.Fatalf("create notification: %v", err)
	}

	got, err := s.ListNotifications(ctx, u.ID)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if diff := cmp.Diff([]model.Notification{n, noRule}, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("ListNotifications mismatch (-want +got):\n%s", diff)
	}
}

func TestRulesPerUser(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	mine := model.AlertRule{UserID: "u1", Name: "jee", Keywords: []string{"jee"}, IsActive: true}
	paused := model.AlertRule{UserID: "u1", Name: "old", Types: []model.NoticeType{model.TypeResult}}
	theirs := model.AlertRule{UserID: "u2", Name: "neet", IsActive: true}
	for _, r := range []*model.AlertRule{&mine, &paused, &theirs} {
		if err := s.CreateAlertRule(ctx, r); err != nil {
			t.Fatalf("create rule: %v", err)
		}
	}

	got, err := s.ListRules(ctx, "u1")
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if diff := cmp.Diff([]model.AlertRule{mine, paused}, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("ListRules mismatch (-want +got):\n%s", diff)
	}

	one, err := s.GetAlertRule(ctx, theirs.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if diff := cmp.Diff(theirs, *one, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("GetAlertRule mismatch (-want +got):\n%s", diff)
	}

	if err := s.DeleteAlertRule(ctx, mine.ID); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	if _, err := s.GetAlertRule(ctx, mine.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get deleted rule: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteAlertRule(ctx, mine.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete twice: expected ErrNotFound, got %v", err)
	}
}

func TestFindDevice(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	d := model.UserDevice{UserID: "u1", PushToken: "4242", Platform: model.PlatformTelegram}
	if err := s.CreateDevice(ctx, &d); err != nil {
		t.Fatalf("create device: %v", err)
	}

	got, err := s.FindDevice(ctx, model.PlatformTelegram, "4242")
	if err != nil {
		t.Fatalf("find device: %v", err)
	}
	if diff := cmp.Diff(d, *got); diff != "" {
		t.Errorf("FindDevice mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.FindDevice(ctx, model.PlatformWeb, "4242"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other platform: expected ErrNotFound, got %v", err)
	}
}

func TestFetchLogAndJobFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	l := model.FetchLog{SourceID: "s", Fetched: 3, New: 2, Duplicates: 1}
	if err := s.CreateFetchLog(ctx, &l); err != nil {
		t.Fatalf("create fetch log: %v", err)
	}
	if l.ID == "" || l.CreatedAt.IsZero() {
		t.Errorf("expected ID and CreatedAt to be populated, got %+v", l)
	}

	f := model.JobFailure{Queue: "ingest", Payload: []byte(`{"source_id":"s"}`), Error: "boom", Attempts: 3}
	if err := s.RecordJobFailure(ctx, &f); err != nil {
		t.Fatalf("record job failure: %v", err)
	}
	if f.ID == "" {
		t.Error("expected generated ID")
	}
}

// Ensure the Storage interface is satisfied.
var _ Storage = (*SQLite)(nil)
