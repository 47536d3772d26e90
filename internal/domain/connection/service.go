// Package connection owns the caller-facing connection registry: it
// resolves a client+provider pair to a Connection, keeps the token pair
// fresh through a single-flight refresh gate, and persists every
// lifecycle mutation.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"ledgerlink/internal/domain/accounting"
)

const (
	// defaultRefreshMargin is how close to expiry a token may get before
	// an operation refreshes it first.
	defaultRefreshMargin = 5 * time.Minute

	// refreshTimeout bounds a detached refresh; it must not inherit a
	// waiter's deadline because other waiters share the result.
	refreshTimeout = 30 * time.Second
)

var (
	serviceMeter         = otel.Meter("ledgerlink/connection")
	tokenRefreshTotal, _ = serviceMeter.Int64Counter("connection.token_refresh.total",
		metric.WithDescription("Token refreshes by provider and outcome"))
	providerCallTotal, _ = serviceMeter.Int64Counter("connection.provider_call.total",
		metric.WithDescription("Provider operations dispatched through the registry"))
)

type refreshKey struct {
	clientID string
	provider accounting.ProviderID
}

// refreshCall is one in-flight refresh. done is closed exactly once, after
// conn/err are set and the inflight entry is removed.
type refreshCall struct {
	done chan struct{}
	conn *accounting.Connection
	err  error
}

// Service is the only component callers interact with directly.
type Service struct {
	registry      *accounting.Registry
	repo          Repository
	logger        *zap.Logger
	refreshMargin time.Duration

	mu       sync.Mutex
	inflight map[refreshKey]*refreshCall
}

// NewService creates the connection registry service.
func NewService(registry *accounting.Registry, repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry:      registry,
		repo:          repo,
		logger:        logger,
		refreshMargin: defaultRefreshMargin,
		inflight:      make(map[refreshKey]*refreshCall),
	}
}

// SetRefreshMargin overrides how close to expiry a token may get before
// a proactive refresh. Call during startup, before the service handles
// requests.
func (s *Service) SetRefreshMargin(d time.Duration) {
	if d > 0 {
		s.refreshMargin = d
	}
}

// Providers lists the provider identifiers with a registered adapter.
func (s *Service) Providers() []accounting.ProviderID {
	return s.registry.IDs()
}

// AuthorizationURL builds the consent URL for a provider. Pure.
func (s *Service) AuthorizationURL(provider accounting.ProviderID, redirectURI, state string) (string, error) {
	p, err := s.registry.Provider(provider)
	if err != nil {
		return "", err
	}
	return p.AuthorizationURL(redirectURI, state), nil
}

// Connect exchanges the OAuth callback credentials for tokens and stores
// the resulting connection as the pair's active one.
func (s *Service) Connect(ctx context.Context, clientID string, provider accounting.ProviderID, creds accounting.OAuthCredentials) (*accounting.Connection, error) {
	p, err := s.registry.Provider(provider)
	if err != nil {
		return nil, err
	}

	conn, err := p.Connect(ctx, creds)
	if err != nil {
		return nil, err
	}
	conn.ClientID = clientID
	conn.Active = true

	if err := s.repo.Save(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to store connection: %w", err)
	}

	s.logger.Info("connected accounting provider",
		zap.String("client_id", clientID),
		zap.String("provider", provider.String()),
		zap.String("company", conn.CompanyName))
	return conn, nil
}

// Disconnect revokes tokens and marks the connection inactive. The remote
// revoke failing on an already-dead token does not fail the disconnect.
func (s *Service) Disconnect(ctx context.Context, clientID string, provider accounting.ProviderID) error {
	p, err := s.registry.Provider(provider)
	if err != nil {
		return err
	}
	conn, err := s.repo.GetActive(ctx, clientID, provider)
	if err != nil {
		return err
	}

	if err := p.Disconnect(ctx, conn); err != nil {
		s.logger.Warn("remote token revoke failed, disconnecting anyway",
			zap.String("client_id", clientID),
			zap.String("provider", provider.String()),
			zap.Error(err))
	}

	return s.repo.SetInactive(ctx, clientID, provider)
}

// Validate probes connection liveness. A false result also touches
// nothing; a true result updates lastSyncAt.
func (s *Service) Validate(ctx context.Context, clientID string, provider accounting.ProviderID) (bool, error) {
	var valid bool
	err := s.do(ctx, clientID, provider, "validate", func(ctx context.Context, p accounting.Provider, conn *accounting.Connection) error {
		var err error
		valid, err = p.ValidateConnection(ctx, conn)
		return err
	})
	if err != nil {
		return false, err
	}
	if valid {
		s.touchLastSync(ctx, clientID, provider)
	}
	return valid, nil
}

// Status returns the stored connection record without contacting the
// provider.
func (s *Service) Status(ctx context.Context, clientID string, provider accounting.ProviderID) (*accounting.Connection, error) {
	return s.repo.GetActive(ctx, clientID, provider)
}

// CompanyInfo fetches the connected company's details.
func (s *Service) CompanyInfo(ctx context.Context, clientID string, provider accounting.ProviderID) (*accounting.CompanyInfo, error) {
	var info *accounting.CompanyInfo
	err := s.do(ctx, clientID, provider, "company_info", func(ctx context.Context, p accounting.Provider, conn *accounting.Connection) error {
		var err error
		info, err = p.CompanyInfo(ctx, conn)
		return err
	})
	return info, err
}

// ChartOfAccounts lists the client's accounts from the provider.
func (s *Service) ChartOfAccounts(ctx context.Context, clientID string, provider accounting.ProviderID) ([]accounting.Account, error) {
	var accounts []accounting.Account
	err := s.do(ctx, clientID, provider, "chart_of_accounts", func(ctx context.Context, p accounting.Provider, conn *accounting.Connection) error {
		var err error
		accounts, err = p.ChartOfAccounts(ctx, conn)
		return err
	})
	if err == nil {
		s.touchLastSync(ctx, clientID, provider)
	}
	return accounts, err
}

// Vendors lists active vendors.
func (s *Service) Vendors(ctx context.Context, clientID string, provider accounting.ProviderID) ([]accounting.Vendor, error) {
	var vendors []accounting.Vendor
	err := s.do(ctx, clientID, provider, "vendors", func(ctx context.Context, p accounting.Provider, conn *accounting.Connection) error {
		var err error
		vendors, err = p.Vendors(ctx, conn)
		return err
	})
	if err == nil {
		s.touchLastSync(ctx, clientID, provider)
	}
	return vendors, err
}

// Customers lists active customers.
func (s *Service) Customers(ctx context.Context, clientID string, provider accounting.ProviderID) ([]accounting.Customer, error) {
	var customers []accounting.Customer
	err := s.do(ctx, clientID, provider, "customers", func(ctx context.Context, p accounting.Provider, conn *accounting.Connection) error {
		var err error
		customers, err = p.Customers(ctx, conn)
		return err
	})
	if err == nil {
		s.touchLastSync(ctx, clientID, provider)
	}
	return customers, err
}

// Vendor fetches a single vendor; (nil, nil) when the id does not exist.
func (s *Service) Vendor(ctx context.Context, clientID string, provider accounting.ProviderID, vendorID string) (*accounting.Vendor, error) {
	var vendor *accounting.Vendor
	err := s.do(ctx, clientID, provider, "vendor", func(ctx context.Context, p accounting.Provider, conn *accounting.Connection) error {
		var err error
		vendor, err = p.Vendor(ctx, conn, vendorID)
		return err
	})
	return vendor, err
}

// Customer fetches a single customer; (nil, nil) when the id does not exist.
func (s *Service) Customer(ctx context.Context, clientID string, provider accounting.ProviderID, customerID string) (*accounting.Customer, error) {
	var customer *accounting.Customer
	err := s.do(ctx, clientID, provider, "customer", func(ctx context.Context, p accounting.Provider, conn *accounting.Connection) error {
		var err error
		customer, err = p.Customer(ctx, conn, customerID)
		return err
	})
	return customer, err
}

// CreateExpense submits an expense intent to the provider.
func (s *Service) CreateExpense(ctx context.Context, clientID string, provider accounting.ProviderID, data accounting.ExpenseData) (*accounting.TransactionResult, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	var result *accounting.TransactionResult
	err := s.do(ctx, clientID, provider, "create_expense", func(ctx context.Context, p accounting.Provider, conn *accounting.Connection) error {
		var err error
		result, err = p.CreateExpense(ctx, conn, data)
		return err
	})
	return result, err
}

// CreateBill submits a bill intent to the provider.
func (s *Service) CreateBill(ctx context.Context, clientID string, provider accounting.ProviderID, data accounting.BillData) (*accounting.TransactionResult, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	var result *accounting.TransactionResult
	err := s.do(ctx, clientID, provider, "create_bill", func(ctx context.Context, p accounting.Provider, conn *accounting.Connection) error {
		var err error
		result, err = p.CreateBill(ctx, conn, data)
		return err
	})
	return result, err
}

// CreateInvoice submits an invoice intent to the provider.
func (s *Service) CreateInvoice(ctx context.Context, clientID string, provider accounting.ProviderID, data accounting.InvoiceData) (*accounting.TransactionResult, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	var result *accounting.TransactionResult
	err := s.do(ctx, clientID, provider, "create_invoice", func(ctx context.Context, p accounting.Provider, conn *accounting.Connection) error {
		var err error
		result, err = p.CreateInvoice(ctx, conn, data)
		return err
	})
	return result, err
}

// CreateJournalEntry submits a journal entry. An unbalanced line set is
// rejected here, before any network call is made.
func (s *Service) CreateJournalEntry(ctx context.Context, clientID string, provider accounting.ProviderID, data accounting.JournalEntryData) (*accounting.TransactionResult, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	var result *accounting.TransactionResult
	err := s.do(ctx, clientID, provider, "create_journal_entry", func(ctx context.Context, p accounting.Provider, conn *accounting.Connection) error {
		var err error
		result, err = p.CreateJournalEntry(ctx, conn, data)
		return err
	})
	return result, err
}

// ListActive exposes the repository's active connections, for the
// maintenance scheduler.
func (s *Service) ListActive(ctx context.Context) ([]*accounting.Connection, error) {
	return s.repo.ListActive(ctx)
}

// EnsureFresh refreshes the pair's token if it is within the refresh
// margin of expiry and returns the usable connection.
func (s *Service) EnsureFresh(ctx context.Context, clientID string, provider accounting.ProviderID) (*accounting.Connection, error) {
	conn, err := s.repo.GetActive(ctx, clientID, provider)
	if err != nil {
		return nil, err
	}
	return s.ensureFresh(ctx, conn)
}

// do runs one adapter operation with a token-valid connection, applying
// the single refresh-and-retry allowed after a stale-token 401.
func (s *Service) do(ctx context.Context, clientID string, provider accounting.ProviderID, op string, fn func(context.Context, accounting.Provider, *accounting.Connection) error) error {
	p, err := s.registry.Provider(provider)
	if err != nil {
		return err
	}
	conn, err := s.repo.GetActive(ctx, clientID, provider)
	if err != nil {
		return err
	}
	conn, err = s.ensureFresh(ctx, conn)
	if err != nil {
		return err
	}

	providerCallTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider.String()),
		attribute.String("operation", op)))

	err = fn(ctx, p, conn)

	var authErr *accounting.UnauthorizedError
	if !errors.As(err, &authErr) {
		return err
	}

	// One refresh-and-retry for a stale access token. A second 401 means
	// the refreshed token is also rejected; give up without looping.
	conn, err = s.refresh(ctx, conn)
	if err != nil {
		return err
	}
	err = fn(ctx, p, conn)
	if errors.As(err, &authErr) {
		if derr := s.repo.SetInactive(ctx, clientID, provider); derr != nil {
			s.logger.Error("failed to deactivate connection", zap.Error(derr))
		}
		return &accounting.TokenRefreshError{
			Provider: provider,
			Message:  "access token rejected immediately after refresh, re-authentication required",
		}
	}
	return err
}

func (s *Service) ensureFresh(ctx context.Context, conn *accounting.Connection) (*accounting.Connection, error) {
	if !conn.Active {
		return nil, ErrInactive
	}
	if !conn.TokenExpiresWithin(s.refreshMargin) {
		return conn, nil
	}
	return s.refresh(ctx, conn)
}

// refresh obtains a fresh token pair for the connection's key. Concurrent
// callers for the same key join the in-flight refresh instead of issuing
// their own: providers invalidate the previous refresh token on each
// refresh, so racing refreshes would revoke each other.
func (s *Service) refresh(ctx context.Context, conn *accounting.Connection) (*accounting.Connection, error) {
	key := refreshKey{clientID: conn.ClientID, provider: conn.Provider}

	s.mu.Lock()
	if call, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		return s.await(ctx, call)
	}
	call := &refreshCall{done: make(chan struct{})}
	s.inflight[key] = call
	s.mu.Unlock()

	// The refresh runs detached with its own deadline: a waiter's
	// cancellation must release that waiter, not abort the shared
	// refresh other waiters depend on.
	go s.runRefresh(key, call, conn)

	return s.await(ctx, call)
}

// await blocks until the shared refresh settles or the caller's context
// is cancelled. The gate itself is released by runRefresh in either case.
func (s *Service) await(ctx context.Context, call *refreshCall) (*accounting.Connection, error) {
	select {
	case <-call.done:
		return call.conn, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) runRefresh(key refreshKey, call *refreshCall, conn *accounting.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	refreshed, err := s.refreshOnce(ctx, conn)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", key.provider.String()),
		attribute.String("outcome", outcome)))

	call.conn, call.err = refreshed, err

	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
	close(call.done)
}

func (s *Service) refreshOnce(ctx context.Context, conn *accounting.Connection) (*accounting.Connection, error) {
	p, err := s.registry.Provider(conn.Provider)
	if err != nil {
		return nil, err
	}

	refreshed, err := p.RefreshToken(ctx, conn)
	if err != nil {
		var refreshErr *accounting.TokenRefreshError
		if errors.As(err, &refreshErr) {
			// Terminal: the refresh token is dead. Deactivate so every
			// subsequent operation routes the user to re-authenticate.
			if derr := s.repo.SetInactive(ctx, conn.ClientID, conn.Provider); derr != nil {
				s.logger.Error("failed to deactivate connection after refresh failure",
					zap.String("client_id", conn.ClientID),
					zap.String("provider", conn.Provider.String()),
					zap.Error(derr))
			}
		}
		return nil, err
	}

	refreshed.ClientID = conn.ClientID
	refreshed.Active = true
	if err := s.repo.UpdateTokens(ctx, refreshed); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	s.logger.Debug("refreshed provider tokens",
		zap.String("client_id", conn.ClientID),
		zap.String("provider", conn.Provider.String()),
		zap.Time("expires_at", refreshed.ExpiresAt))
	return refreshed, nil
}

func (s *Service) touchLastSync(ctx context.Context, clientID string, provider accounting.ProviderID) {
	if err := s.repo.TouchLastSync(ctx, clientID, provider, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last sync timestamp",
			zap.String("client_id", clientID),
			zap.String("provider", provider.String()),
			zap.Error(err))
	}
}
