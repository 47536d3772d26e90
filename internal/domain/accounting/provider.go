// Package accounting holds the provider-independent model of the
// integration core: canonical entities, transaction intents, the provider
// contract every adapter implements, and the error taxonomy.
package accounting

import (
	"context"
	"fmt"
	"sort"
)

// ProviderID identifies a supported accounting back end. The set is
// closed: adding a provider means adding a constant and registering its
// adapter, not string dispatch in callers.
type ProviderID string

const (
	ProviderQuickBooks ProviderID = "quickbooks"
	ProviderXero       ProviderID = "xero"
	ProviderFreshBooks ProviderID = "freshbooks"
)

func (id ProviderID) String() string { return string(id) }

// Known reports whether id names one of the supported providers.
func (id ProviderID) Known() bool {
	switch id {
	case ProviderQuickBooks, ProviderXero, ProviderFreshBooks:
		return true
	}
	return false
}

// ParseProviderID converts an external identifier into a ProviderID.
func ParseProviderID(s string) (ProviderID, error) {
	id := ProviderID(s)
	if !id.Known() {
		return "", fmt.Errorf("unknown accounting provider %q", s)
	}
	return id, nil
}

// Provider is the adapter contract. Every implementation exposes the same
// operation set regardless of back end; provider-native shapes never leak
// past an adapter's boundary.
type Provider interface {
	ID() ProviderID

	// AuthorizationURL builds the provider's consent-screen URL. Pure;
	// the given state and redirect URI are embedded verbatim.
	AuthorizationURL(redirectURI, state string) string

	// Connect exchanges an authorization code for tokens and fetches
	// company info to populate the display name. Authorization codes are
	// single-use by provider contract.
	Connect(ctx context.Context, creds OAuthCredentials) (*Connection, error)

	// RefreshToken exchanges the stored refresh token for a new
	// access/refresh pair. A TokenRefreshError means the refresh token
	// itself is dead and a new Connect is required.
	RefreshToken(ctx context.Context, conn *Connection) (*Connection, error)

	// Disconnect revokes tokens server-side. Idempotent from the
	// caller's point of view: an already-invalid token is not an error.
	Disconnect(ctx context.Context, conn *Connection) error

	// ValidateConnection is a cheap liveness probe. "Not valid" is an
	// expected outcome, reported as false rather than an error.
	ValidateConnection(ctx context.Context, conn *Connection) (bool, error)

	CompanyInfo(ctx context.Context, conn *Connection) (*CompanyInfo, error)
	ChartOfAccounts(ctx context.Context, conn *Connection) ([]Account, error)
	Vendors(ctx context.Context, conn *Connection) ([]Vendor, error)
	Customers(ctx context.Context, conn *Connection) ([]Customer, error)

	// Vendor and Customer return (nil, nil) when the id does not exist.
	Vendor(ctx context.Context, conn *Connection, id string) (*Vendor, error)
	Customer(ctx context.Context, conn *Connection, id string) (*Customer, error)

	// Create operations are never retried automatically: an ambiguous
	// failure could already have posted on the provider side.
	CreateExpense(ctx context.Context, conn *Connection, data ExpenseData) (*TransactionResult, error)
	CreateBill(ctx context.Context, conn *Connection, data BillData) (*TransactionResult, error)
	CreateInvoice(ctx context.Context, conn *Connection, data InvoiceData) (*TransactionResult, error)
	CreateJournalEntry(ctx context.Context, conn *Connection, data JournalEntryData) (*TransactionResult, error)
}

// Registry maps provider identifiers to adapter instances.
type Registry struct {
	providers map[ProviderID]Provider
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(providers ...Provider) *Registry {
	m := make(map[ProviderID]Provider, len(providers))
	for _, p := range providers {
		m[p.ID()] = p
	}
	return &Registry{providers: m}
}

// Provider resolves id to its adapter. A known provider without a
// registered adapter yields a NOT_IMPLEMENTED error.
func (r *Registry) Provider(id ProviderID) (Provider, error) {
	if !id.Known() {
		return nil, fmt.Errorf("unknown accounting provider %q", id)
	}
	p, ok := r.providers[id]
	if !ok {
		return nil, NotImplementedError(id, "provider adapter")
	}
	return p, nil
}

// IDs lists the registered providers in stable order.
func (r *Registry) IDs() []ProviderID {
	ids := make([]ProviderID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
