package connection

import (
	"context"
	"errors"
	"time"

	"ledgerlink/internal/domain/accounting"
)

// Domain errors
var (
	ErrNotFound = errors.New("connection not found")
	ErrInactive = errors.New("connection is inactive, re-authentication required")
)

// Repository persists Connection records. Exactly one active row exists
// per (client, provider) pair; disconnection is a state transition, never
// a row removal.
type Repository interface {
	// GetActive returns the active connection for the pair, or
	// ErrNotFound.
	GetActive(ctx context.Context, clientID string, provider accounting.ProviderID) (*accounting.Connection, error)

	// Save stores conn as the pair's active connection, retiring any
	// previously active row.
	Save(ctx context.Context, conn *accounting.Connection) error

	// UpdateTokens persists a refreshed token pair and expiry. ExpiresAt
	// must always reflect the tokens actually stored.
	UpdateTokens(ctx context.Context, conn *accounting.Connection) error

	// SetInactive marks the pair's active connection inactive.
	SetInactive(ctx context.Context, clientID string, provider accounting.ProviderID) error

	// TouchLastSync records a successful sync-style operation.
	TouchLastSync(ctx context.Context, clientID string, provider accounting.ProviderID, at time.Time) error

	// ListActive returns every active connection, for maintenance.
	ListActive(ctx context.Context) ([]*accounting.Connection, error)
}
