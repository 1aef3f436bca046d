package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"notice_hub/internal/model"
	"notice_hub/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

var (
	sourceColumns = []string{"id", "name", "url", "kind", "trust_level", "poll_interval_minutes", "is_active", "last_fetch_at", "created_at"}
	itemColumns   = []string{"id", "source_id", "title", "body", "url", "published_at", "type", "tags", "short_summary", "long_summary", "entities", "dedupe_hash", "created_at"}
	ruleColumns   = []string{"id", "user_id", "name", "keywords", "exam_names", "types", "locations", "min_trust_level", "frequency", "is_active", "created_at"}
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer, and every ":memory:"
	// connection would otherwise see its own empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateSource inserts a new source and populates its ID and CreatedAt.
func (s *SQLite) CreateSource(ctx context.Context, src *model.Source) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, name, url, kind, trust_level, poll_interval_minutes, is_active, last_fetch_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.Name, src.URL, string(src.Kind), src.TrustLevel, src.PollIntervalMinutes,
		boolToInt(src.IsActive), nullTime(src.LastFetchAt), now,
	)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	src.CreatedAt = parseTime(now)
	return nil
}

// UpsertSource inserts src, or updates the configuration of the source with
// the same URL. The fetch history of an existing source is kept.
func (s *SQLite) UpsertSource(ctx context.Context, src *model.Source) error {
	id := src.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, name, url, kind, trust_level, poll_interval_minutes, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET
		   name = excluded.name,
		   kind = excluded.kind,
		   trust_level = excluded.trust_level,
		   poll_interval_minutes = excluded.poll_interval_minutes,
		   is_active = excluded.is_active`,
		id, src.Name, src.URL, string(src.Kind), src.TrustLevel, src.PollIntervalMinutes,
		boolToInt(src.IsActive), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert source: %w", err)
	}

	query, args, err := sq.Select(sourceColumns...).From("sources").Where(sq.Eq{"url": src.URL}).ToSql()
	if err != nil {
		return fmt.Errorf("build source query: %w", err)
	}
	stored, err := scanSource(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return err
	}
	*src = *stored
	return nil
}

// GetSource returns a single source by its ID.
func (s *SQLite) GetSource(ctx context.Context, id string) (*model.Source, error) {
	query, args, err := sq.Select(sourceColumns...).From("sources").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build source query: %w", err)
	}
	return scanSource(s.db.QueryRowContext(ctx, query, args...))
}

// ListSources returns every configured source.
func (s *SQLite) ListSources(ctx context.Context) ([]model.Source, error) {
	return s.listSources(ctx, sq.Select(sourceColumns...).From("sources").OrderBy("rowid"))
}

// ListActiveSources returns all sources with the active flag set.
func (s *SQLite) ListActiveSources(ctx context.Context) ([]model.Source, error) {
	return s.listSources(ctx, sq.Select(sourceColumns...).From("sources").
		Where(sq.Eq{"is_active": 1}).OrderBy("rowid"))
}

func (s *SQLite) listSources(ctx context.Context, b sq.SelectBuilder) ([]model.Source, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sources query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

// MarkSourceFetched sets the last-fetch timestamp of a source.
func (s *SQLite) MarkSourceFetched(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sources SET last_fetch_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("update last fetch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateRawItem stores a fetched payload and populates its ID and CreatedAt.
func (s *SQLite) CreateRawItem(ctx context.Context, raw *model.RawItem) error {
	if raw.ID == "" {
		raw.ID = uuid.NewString()
	}
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_items (id, source_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		raw.ID, raw.SourceID, string(raw.Payload), now,
	)
	if err != nil {
		return fmt.Errorf("insert raw item: %w", err)
	}
	raw.CreatedAt = parseTime(now)
	return nil
}

// GetRawItem returns a single raw item by its ID.
func (s *SQLite) GetRawItem(ctx context.Context, id string) (*model.RawItem, error) {
	var raw model.RawItem
	var payload, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_id, payload, created_at FROM raw_items WHERE id = ?`, id,
	).Scan(&raw.ID, &raw.SourceID, &payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("raw item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan raw item: %w", err)
	}
	raw.Payload = []byte(payload)
	raw.CreatedAt = parseTime(created)
	return &raw, nil
}

// CreateItem inserts a processed item. A zero CreatedAt is set to now.
func (s *SQLite) CreateItem(ctx context.Context, item *model.Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	created := formatTime(item.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, source_id, title, body, url, published_at, type, tags,
		                    short_summary, long_summary, entities, dedupe_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.SourceID, item.Title, item.Body, item.URL, formatTime(item.PublishedAt),
		string(item.Type), marshalJSON(nonNil(item.Tags)), item.ShortSummary, item.LongSummary,
		marshalJSON(item.Entities), item.Fingerprint, created,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	item.CreatedAt = parseTime(created)
	return nil
}

// GetItem returns a single item by its ID.
func (s *SQLite) GetItem(ctx context.Context, id string) (*model.Item, error) {
	query, args, err := sq.Select(itemColumns...).From("items").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build item query: %w", err)
	}
	return scanItem(s.db.QueryRowContext(ctx, query, args...))
}

// FindItemByFingerprint returns the newest item with the given fingerprint
// created at or after since.
func (s *SQLite) FindItemByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*model.Item, error) {
	query, args, err := sq.Select(itemColumns...).From("items").
		Where(sq.Eq{"dedupe_hash": fingerprint}).
		Where(sq.GtOrEq{"created_at": formatTime(since)}).
		OrderBy("created_at DESC", "rowid DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fingerprint query: %w", err)
	}
	return scanItem(s.db.QueryRowContext(ctx, query, args...))
}

// CreateUser inserts a user and populates its ID and CreatedAt.
func (s *SQLite) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := formatTime(time.Now())
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)`, u.ID, u.Name, now,
	); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.CreatedAt = parseTime(now)
	return nil
}

// GetUser returns a single user by its ID.
func (s *SQLite) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var created string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = parseTime(created)
	return &u, nil
}

// CreateAlertRule inserts an alert rule and populates its ID and CreatedAt.
func (s *SQLite) CreateAlertRule(ctx context.Context, r *model.AlertRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Frequency == "" {
		r.Frequency = model.FrequencyImmediate
	}
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_rules (id, user_id, name, keywords, exam_names, types, locations,
		                          min_trust_level, frequency, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Name, marshalJSON(nonNil(r.Keywords)), marshalJSON(nonNil(r.ExamNames)),
		marshalJSON(nonNil(r.Types)), marshalJSON(nonNil(r.Locations)), r.MinTrustLevel,
		string(r.Frequency), boolToInt(r.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("insert alert rule: %w", err)
	}
	r.CreatedAt = parseTime(now)
	return nil
}

// ListMatchableRules returns active rules whose minimum trust level does not
// exceed trustLevel.
func (s *SQLite) ListMatchableRules(ctx context.Context, trustLevel int) ([]model.AlertRule, error) {
	query, args, err := sq.Select(ruleColumns...).From("alert_rules").
		Where(sq.Eq{"is_active": 1}).
		Where(sq.LtOrEq{"min_trust_level": trustLevel}).
		OrderBy("rowid").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build rules query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.AlertRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ListRules returns every rule owned by a user, active or not.
func (s *SQLite) ListRules(ctx context.Context, userID string) ([]model.AlertRule, error) {
	query, args, err := sq.Select(ruleColumns...).From("alert_rules").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("rowid").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build rules query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.AlertRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GetAlertRule returns a rule by ID.
func (s *SQLite) GetAlertRule(ctx context.Context, id string) (*model.AlertRule, error) {
	query, args, err := sq.Select(ruleColumns...).From("alert_rules").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build rule query: %w", err)
	}
	r, err := scanRule(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteAlertRule removes a rule.
func (s *SQLite) DeleteAlertRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("alert rule %s: %w", id, ErrNotFound)
	}
	return nil
}

// FindDevice returns the device registered with the given platform and
// push token.
func (s *SQLite) FindDevice(ctx context.Context, platform model.Platform, token string) (*model.UserDevice, error) {
	var d model.UserDevice
	var p, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, push_token, platform, created_at FROM user_devices
		 WHERE platform = ? AND push_token = ? ORDER BY rowid LIMIT 1`, string(platform), token,
	).Scan(&d.ID, &d.UserID, &d.PushToken, &p, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s/%s: %w", platform, token, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan device: %w", err)
	}
	d.Platform = model.Platform(p)
	d.CreatedAt = parseTime(created)
	return &d, nil
}

// CreateDevice registers a user device and populates its ID and CreatedAt.
func (s *SQLite) CreateDevice(ctx context.Context, d *model.UserDevice) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_devices (id, user_id, push_token, platform, created_at) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.PushToken, string(d.Platform), now,
	)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	d.CreatedAt = parseTime(now)
	return nil
}

// ListDevices returns all devices registered by a user.
func (s *SQLite) ListDevices(ctx context.Context, userID string) ([]model.UserDevice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, push_token, platform, created_at FROM user_devices
		 WHERE user_id = ? ORDER BY rowid`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var devices []model.UserDevice
	for rows.Next() {
		var d model.UserDevice
		var platform, created string
		if err := rows.Scan(&d.ID, &d.UserID, &d.PushToken, &platform, &created); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.Platform = model.Platform(platform)
		d.CreatedAt = parseTime(created)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// CreateNotification records a delivery attempt.
func (s *SQLite) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := formatTime(time.Now())
	var ruleID *string
	if n.RuleID != "" {
		ruleID = &n.RuleID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, item_id, rule_id, sent_via, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.ItemID, ruleID, marshalJSON(nonNil(n.SentVia)), string(n.Status), now,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.CreatedAt = parseTime(now)
	return nil
}

// ListNotifications returns the notifications recorded for a user.
func (s *SQLite) ListNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	query, args, err := sq.Select("id", "user_id", "item_id", "rule_id", "sent_via", "status", "created_at").
		From("notifications").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("rowid").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build notifications query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var ruleID sql.NullString
		var sentVia, status, created string
		if err := rows.Scan(&n.ID, &n.UserID, &n.ItemID, &ruleID, &sentVia, &status, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.RuleID = ruleID.String
		n.Status = model.NotificationStatus(status)
		n.CreatedAt = parseTime(created)
		if err := json.Unmarshal([]byte(sentVia), &n.SentVia); err != nil {
			return nil, fmt.Errorf("decode sent_via: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CreateFetchLog records the outcome of an ingest run.
func (s *SQLite) CreateFetchLog(ctx context.Context, l *model.FetchLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fetch_logs (id, source_id, fetched, new_items, duplicates, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.SourceID, l.Fetched, l.New, l.Duplicates, now,
	)
	if err != nil {
		return fmt.Errorf("insert fetch log: %w", err)
	}
	l.CreatedAt = parseTime(now)
	return nil
}

// RecordJobFailure stores a job abandoned by its queue.
func (s *SQLite) RecordJobFailure(ctx context.Context, f *model.JobFailure) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_failures (id, queue, payload, error, attempts, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.Queue, string(f.Payload), f.Error, f.Attempts, now,
	)
	if err != nil {
		return fmt.Errorf("insert job failure: %w", err)
	}
	f.CreatedAt = parseTime(now)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSource(row scannable) (*model.Source, error) {
	var src model.Source
	var kind string
	var isActive int
	var lastFetch, created sql.NullString
	err := row.Scan(&src.ID, &src.Name, &src.URL, &kind, &src.TrustLevel, &src.PollIntervalMinutes,
		&isActive, &lastFetch, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.Kind = model.SourceKind(kind)
	src.IsActive = isActive == 1
	if lastFetch.Valid {
		t := parseTime(lastFetch.String)
		src.LastFetchAt = &t
	}
	if created.Valid {
		src.CreatedAt = parseTime(created.String)
	}
	return &src, nil
}

func scanItem(row scannable) (*model.Item, error) {
	var it model.Item
	var published, typ, tags, entities, created string
	err := row.Scan(&it.ID, &it.SourceID, &it.Title, &it.Body, &it.URL, &published, &typ, &tags,
		&it.ShortSummary, &it.LongSummary, &entities, &it.Fingerprint, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	it.Type = model.NoticeType(typ)
	it.PublishedAt = parseTime(published)
	it.CreatedAt = parseTime(created)
	if err := json.Unmarshal([]byte(tags), &it.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(entities), &it.Entities); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	return &it, nil
}

func scanRule(row scannable) (model.AlertRule, error) {
	var r model.AlertRule
	var keywords, examNames, types, locations, frequency, created string
	var isActive int
	err := row.Scan(&r.ID, &r.UserID, &r.Name, &keywords, &examNames, &types, &locations,
		&r.MinTrustLevel, &frequency, &isActive, &created)
	if err != nil {
		return r, fmt.Errorf("scan alert rule: %w", err)
	}
	r.Frequency = model.Frequency(frequency)
	r.IsActive = isActive == 1
	r.CreatedAt = parseTime(created)
	for _, f := range []struct {
		raw  string
		dest any
	}{
		{keywords, &r.Keywords},
		{examNames, &r.ExamNames},
		{types, &r.Types},
		{locations, &r.Locations},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return r, fmt.Errorf("decode alert rule %s: %w", r.ID, err)
		}
	}
	return r, nil
}
