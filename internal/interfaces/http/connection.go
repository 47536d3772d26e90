package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ledgerlink/internal/domain/accounting"
)

// ConnectionService is the slice of the connection registry the handlers
// need. Satisfied by *connection.Service.
type ConnectionService interface {
	Providers() []accounting.ProviderID
	AuthorizationURL(provider accounting.ProviderID, redirectURI, state string) (string, error)
	Connect(ctx context.Context, clientID string, provider accounting.ProviderID, creds accounting.OAuthCredentials) (*accounting.Connection, error)
	Disconnect(ctx context.Context, clientID string, provider accounting.ProviderID) error
	Validate(ctx context.Context, clientID string, provider accounting.ProviderID) (bool, error)
	Status(ctx context.Context, clientID string, provider accounting.ProviderID) (*accounting.Connection, error)
	CompanyInfo(ctx context.Context, clientID string, provider accounting.ProviderID) (*accounting.CompanyInfo, error)
	ChartOfAccounts(ctx context.Context, clientID string, provider accounting.ProviderID) ([]accounting.Account, error)
	Vendors(ctx context.Context, clientID string, provider accounting.ProviderID) ([]accounting.Vendor, error)
	Customers(ctx context.Context, clientID string, provider accounting.ProviderID) ([]accounting.Customer, error)
	Vendor(ctx context.Context, clientID string, provider accounting.ProviderID, vendorID string) (*accounting.Vendor, error)
	Customer(ctx context.Context, clientID string, provider accounting.ProviderID, customerID string) (*accounting.Customer, error)
	CreateExpense(ctx context.Context, clientID string, provider accounting.ProviderID, data accounting.ExpenseData) (*accounting.TransactionResult, error)
	CreateBill(ctx context.Context, clientID string, provider accounting.ProviderID, data accounting.BillData) (*accounting.TransactionResult, error)
	CreateInvoice(ctx context.Context, clientID string, provider accounting.ProviderID, data accounting.InvoiceData) (*accounting.TransactionResult, error)
	CreateJournalEntry(ctx context.Context, clientID string, provider accounting.ProviderID, data accounting.JournalEntryData) (*accounting.TransactionResult, error)
}

// Config carries the per-provider OAuth redirect URIs registered with
// each provider's developer console.
type Config struct {
	RedirectURIs map[accounting.ProviderID]string
}

type Handler struct {
	service ConnectionService
	config  Config
	logger  *zap.Logger
	states  *stateStore
}

func NewHandler(service ConnectionService, config Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: service,
		config:  config,
		logger:  logger,
		states:  newStateStore(10 * time.Minute),
	}
}

// stateStore maps OAuth state nonces to the client that started the
// flow. Provider callbacks carry no client header, so the state is the
// only way to tie the callback back to a client.
type stateStore struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]stateEntry
}

type stateEntry struct {
	clientID string
	expires  time.Time
}

func newStateStore(ttl time.Duration) *stateStore {
	return &stateStore{ttl: ttl, m: make(map[string]stateEntry)}
}

func (s *stateStore) issue(clientID string) string {
	state := uuid.NewString()
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.m {
		if now.After(e.expires) {
			delete(s.m, k)
		}
	}
	s.m[state] = stateEntry{clientID: clientID, expires: now.Add(s.ttl)}
	return state
}

// redeem consumes the state. A state is valid exactly once.
func (s *stateStore) redeem(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[state]
	if !ok {
		return "", false
	}
	delete(s.m, state)
	if time.Now().After(e.expires) {
		return "", false
	}
	return e.clientID, true
}

type providerInfo struct {
	ID string `json:"id"`
}

func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	providers := h.service.Providers()
	out := make([]providerInfo, 0, len(providers))
	for _, p := range providers {
		out = append(out, providerInfo{ID: string(p)})
	}
	writeJSON(w, http.StatusOK, out)
}

type authorizeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// HandleAuthorize starts the OAuth flow: it issues a one-time state
// bound to the caller and returns the provider consent URL.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	redirectURI := h.config.RedirectURIs[provider]
	if redirectURI == "" {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "no redirect URI configured for " + string(provider)})
		return
	}

	state := h.states.issue(client)
	url, err := h.service.AuthorizationURL(provider, redirectURI, state)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, authorizeResponse{AuthorizationURL: url, State: state})
}

type connectionResponse struct {
	Provider    string     `json:"provider"`
	CompanyName string     `json:"company_name,omitempty"`
	RealmID     string     `json:"realm_id,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Active      bool       `json:"active"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	Scopes      []string   `json:"scopes,omitempty"`
}

func toConnectionResponse(c *accounting.Connection) connectionResponse {
	return connectionResponse{
		Provider:    string(c.Provider),
		CompanyName: c.CompanyName,
		RealmID:     c.RealmID,
		ExpiresAt:   c.ExpiresAt,
		Active:      c.Active,
		LastSyncAt:  c.LastSyncAt,
		Scopes:      c.Scopes,
	}
}

// HandleCallback completes the OAuth flow. The provider redirects the
// browser here with code and state; QuickBooks additionally appends the
// realmId of the company that granted access.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "authorization denied: " + errCode})
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "code and state are required"})
		return
	}

	client, ok := h.states.redeem(state)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown or expired state"})
		return
	}

	conn, err := h.service.Connect(r.Context(), client, provider, accounting.OAuthCredentials{
		Code:        code,
		RedirectURI: h.config.RedirectURIs[provider],
		RealmID:     q.Get("realmId"),
		State:       state,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("connection established",
		zap.String("provider", string(provider)),
		zap.String("company", conn.CompanyName),
	)
	writeJSON(w, http.StatusCreated, toConnectionResponse(conn))
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	conn, err := h.service.Status(r.Context(), client, provider)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectionResponse(conn))
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	valid, err := h.service.Validate(r.Context(), client, provider)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: valid})
}

func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	if err := h.service.Disconnect(r.Context(), client, provider); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
