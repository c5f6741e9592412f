// Package storage persists the session ledger: an append-only history of session
// registrations that survives restarts.
package storage

import (
	"context"

	"github.com/hyperjump/kiku/internal/models"
)

// Ledger records session registrations.
type Ledger interface {
	// RecordRegistration appends ev and sets its ID.
	RecordRegistration(ctx context.Context, ev *models.SessionEvent) error
	// History returns the events for sessionID, oldest first.
	History(ctx context.Context, sessionID string) ([]*models.SessionEvent, error)
	CountEvents(ctx context.Context) (int64, error)
	Close() error
}
