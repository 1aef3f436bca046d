// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"notice_hub/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateSource(ctx context.Context, src *model.Source) error
	UpsertSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id string) (*model.Source, error)
	ListSources(ctx context.Context) ([]model.Source, error)
	ListActiveSources(ctx context.Context) ([]model.Source, error)
	MarkSourceFetched(ctx context.Context, id string, at time.Time) error

	CreateRawItem(ctx context.Context, raw *model.RawItem) error
	GetRawItem(ctx context.Context, id string) (*model.RawItem, error)

	CreateItem(ctx context.Context, item *model.Item) error
	GetItem(ctx context.Context, id string) (*model.Item, error)
	FindItemByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*model.Item, error)

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)

	CreateAlertRule(ctx context.Context, r *model.AlertRule) error
	ListMatchableRules(ctx context.Context, trustLevel int) ([]model.AlertRule, error)
	ListRules(ctx context.Context, userID string) ([]model.AlertRule, error)
	GetAlertRule(ctx context.Context, id string) (*model.AlertRule, error)
	DeleteAlertRule(ctx context.Context, id string) error

	CreateDevice(ctx context.Context, d *model.UserDevice) error
	ListDevices(ctx context.Context, userID string) ([]model.UserDevice, error)
	FindDevice(ctx context.Context, platform model.Platform, token string) (*model.UserDevice, error)

	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]model.Notification, error)

	CreateFetchLog(ctx context.Context, l *model.FetchLog) error
	RecordJobFailure(ctx context.Context, f *model.JobFailure) error

	Close() error
}
