// Package dedup fingerprints fetched items and detects repeats within a
// rolling time window.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"notice_hub/internal/model"
	"notice_hub/internal/storage"
)

// Window is how far back a fingerprint blocks re-ingestion.
const Window = 30 * 24 * time.Hour

const bodyPrefix = 500

// Fingerprint returns the hex SHA-256 of the normalized title, the first 500
// characters of the normalized body, and the URL.
func Fingerprint(it model.FetchedItem) string {
	title := strings.ToLower(strings.TrimSpace(it.Title))
	body := []rune(strings.ToLower(strings.TrimSpace(it.Body)))
	if len(body) > bodyPrefix {
		body = body[:bodyPrefix]
	}
	sum := sha256.Sum256([]byte(title + "|" + string(body) + "|" + it.URL))
	return hex.EncodeToString(sum[:])
}

// Lookup finds stored items by fingerprint.
type Lookup interface {
	FindItemByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*model.Item, error)
}

// Engine checks fingerprints against recently stored items.
type Engine struct {
	store  Lookup
	window time.Duration
	now    func() time.Time
}

// New creates an Engine with the default 30-day window.
func New(store Lookup) *Engine {
	return &Engine{store: store, window: Window, now: time.Now}
}

// IsDuplicate reports whether an item with fingerprint was stored within the
// window.
func (e *Engine) IsDuplicate(ctx context.Context, fingerprint string) (bool, error) {
	_, err := e.store.FindItemByFingerprint(ctx, fingerprint, e.now().Add(-e.window))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup fingerprint: %w", err)
	}
	return true, nil
}
