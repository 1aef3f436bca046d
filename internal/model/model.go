// Package model defines the domain types used across the application.
package model

import "time"

// SourceKind selects the fetch adapter used for a source.
type SourceKind string

// Supported source kinds.
const (
	KindRSS  SourceKind = "rss"
	KindAPI  SourceKind = "api"
	KindHTML SourceKind = "html"
)

// Valid reports whether k is one of the supported kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case KindRSS, KindAPI, KindHTML:
		return true
	}
	return false
}

// Trust level bounds for a source.
const (
	MinTrustLevel = 1
	MaxTrustLevel = 10
)

// Source is an external publisher of notices polled by the scheduler.
type Source struct {
	ID                  string
	Name                string
	URL                 string
	Kind                SourceKind
	TrustLevel          int
	PollIntervalMinutes int
	IsActive            bool
	LastFetchAt         *time.Time
	CreatedAt           time.Time
}

// IsDue reports whether the source should be fetched at now.
// A source that was never fetched is always due.
func (s Source) IsDue(now time.Time) bool {
	if s.LastFetchAt == nil {
		return true
	}
	next := s.LastFetchAt.Add(time.Duration(s.PollIntervalMinutes) * time.Minute)
	return !next.After(now)
}

// FetchedItem is a single notice as produced by a fetch adapter, before
// deduplication and processing. It is the payload stored in RawItem.
type FetchedItem struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// RawItem is the audit record of a fetched notice awaiting processing.
type RawItem struct {
	ID        string
	SourceID  string
	Payload   []byte
	CreatedAt time.Time
}

// NoticeType is the closed classification of a processed item.
type NoticeType string

// Supported notice types.
const (
	TypeExam        NoticeType = "EXAM"
	TypeScholarship NoticeType = "SCHOLARSHIP"
	TypeResult      NoticeType = "RESULT"
	TypeAdmission   NoticeType = "ADMISSION"
	TypeOther       NoticeType = "OTHER"
)

// NoticeTypes lists every notice type.
var NoticeTypes = []NoticeType{TypeExam, TypeScholarship, TypeResult, TypeAdmission, TypeOther}

// Valid reports whether t is one of the five notice types.
func (t NoticeType) Valid() bool {
	for _, v := range NoticeTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Entities holds the structured fields extracted from a notice.
type Entities struct {
	ExamName    string   `json:"exam_name,omitempty"`
	Institution string   `json:"institution,omitempty"`
	StartDate   string   `json:"start_date,omitempty"`
	LastDate    string   `json:"last_date,omitempty"`
	Deadlines   []string `json:"deadlines,omitempty"`
}

// Item is a processed notice.
type Item struct {
	ID           string
	SourceID     string
	Title        string
	Body         string
	URL          string
	PublishedAt  time.Time
	Type         NoticeType
	Tags         []string
	ShortSummary string
	LongSummary  string
	Entities     Entities
	Fingerprint  string
	CreatedAt    time.Time
}

// User is the owner of alert rules and devices.
type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Frequency is the delivery cadence requested by an alert rule.
type Frequency string

// Supported delivery frequencies.
const (
	FrequencyImmediate Frequency = "IMMEDIATE"
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
)

// AlertRule is a user-defined filter evaluated against every processed item.
// An empty criterion list places no constraint on the match.
type AlertRule struct {
	ID            string
	UserID        string
	Name          string
	Keywords      []string
	ExamNames     []string
	Types         []NoticeType
	Locations     []string
	MinTrustLevel int
	Frequency     Frequency
	IsActive      bool
	CreatedAt     time.Time
}

// Platform identifies the kind of device a push token belongs to.
type Platform string

// Supported device platforms.
const (
	PlatformWeb      Platform = "web"
	PlatformAndroid  Platform = "android"
	PlatformIOS      Platform = "ios"
	PlatformTelegram Platform = "telegram"
)

// UserDevice is a delivery endpoint registered by a user.
type UserDevice struct {
	ID        string
	UserID    string
	PushToken string
	Platform  Platform
	CreatedAt time.Time
}

// NotificationStatus is the outcome of a delivery attempt.
type NotificationStatus string

// Supported notification statuses.
const (
	StatusSent   NotificationStatus = "SENT"
	StatusFailed NotificationStatus = "FAILED"
)

// Notification records one attempted delivery of an item to a user.
type Notification struct {
	ID        string
	UserID    string
	ItemID    string
	RuleID    string
	SentVia   []string
	Status    NotificationStatus
	CreatedAt time.Time
}

// FetchLog summarizes one ingest run of a source.
type FetchLog struct {
	ID         string
	SourceID   string
	Fetched    int
	New        int
	Duplicates int
	CreatedAt  time.Time
}

// JobFailure records a job that was abandoned by its queue.
type JobFailure struct {
	ID        string
	Queue     string
	Payload   []byte
	Error     string
	Attempts  int
	CreatedAt time.Time
}
