package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/minipay/onboarding/internal/documents"
)

// FailedNotification is a verification event that exhausted its retries.
type FailedNotification struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	EventType   string          `json:"eventType"`
	PrincipalID string          `json:"principalId"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"lastError"`
	LastAttempt time.Time       `json:"lastAttempt"`
}

// DeadLetterStore persists failed notifications for manual replay.
type DeadLetterStore interface {
	SaveFailedNotification(ctx context.Context, n FailedNotification) error
	ListFailedNotifications(ctx context.Context, limit int) ([]FailedNotification, error)
	DeleteFailedNotification(ctx context.Context, id string) error
}

// DocumentDeadLetter keeps failed notifications in a document store collection.
type DocumentDeadLetter struct {
	store      documents.Store
	collection string
}

// NewDocumentDeadLetter creates a dead letter store over collection.
func NewDocumentDeadLetter(store documents.Store, collection string) *DocumentDeadLetter {
	if collection == "" {
		collection = "failedNotifications"
	}
	return &DocumentDeadLetter{store: store, collection: collection}
}

// SaveFailedNotification implements DeadLetterStore.
func (d *DocumentDeadLetter) SaveFailedNotification(ctx context.Context, n FailedNotification) error {
	_, err := d.store.Create(ctx, d.collection, n.ID, map[string]interface{}{
		"url":         n.URL,
		"eventType":   n.EventType,
		"principalId": n.PrincipalID,
		"payload":     string(n.Payload),
		"attempts":    n.Attempts,
		"lastError":   n.LastError,
		"lastAttempt": n.LastAttempt.Format(time.RFC3339Nano),
	})
	return err
}

// ListFailedNotifications implements DeadLetterStore.
func (d *DocumentDeadLetter) ListFailedNotifications(ctx context.Context, limit int) ([]FailedNotification, error) {
	docs, err := d.store.Query(ctx, documents.Query{Collection: d.collection, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]FailedNotification, 0, len(docs))
	for _, doc := range docs {
		n := FailedNotification{
			ID:          doc.ID,
			URL:         doc.String("url"),
			EventType:   doc.String("eventType"),
			PrincipalID: doc.String("principalId"),
			Payload:     json.RawMessage(doc.String("payload")),
			Attempts:    doc.Int("attempts"),
			LastError:   doc.String("lastError"),
		}
		if ts, err := time.Parse(time.RFC3339Nano, doc.String("lastAttempt")); err == nil {
			n.LastAttempt = ts
		}
		out = append(out, n)
	}
	return out, nil
}

// DeleteFailedNotification implements DeadLetterStore.
func (d *DocumentDeadLetter) DeleteFailedNotification(ctx context.Context, id string) error {
	return d.store.Delete(ctx, d.collection, id)
}
