// Package xero implements the accounting provider contract for Xero.
//
// Xero's OAuth endpoints live on identity.xero.com; after the token
// exchange the connected tenant is discovered through GET
// https://api.xero.com/connections, and every resource call carries the
// tenant id in the Xero-tenant-id header against the api.xro/2.0 base.
package xero

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"ledgerlink/internal/domain/accounting"
	"ledgerlink/internal/infrastructure/apiclient"
)

const (
	apiBase        = "https://api.xero.com/api.xro/2.0"
	connectionsURL = "https://api.xero.com/connections"
	authorizeURL   = "https://login.xero.com/identity/connect/authorize"
	tokenURL       = "https://identity.xero.com/connect/token"
	revokeURL      = "https://identity.xero.com/connect/revocation"

	// Xero caps list endpoints at 100 records per page.
	pageSize     = 100
	oauthTimeout = 30 * time.Second
)

var scopes = []string{
	"offline_access",
	"accounting.settings",
	"accounting.contacts",
	"accounting.transactions",
}

// Config for the Xero adapter. URL overrides exist for tests.
type Config struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Logger       *zap.Logger

	APIBaseURL     string
	ConnectionsURL string
	AuthorizeURL   string
	TokenURL       string
	RevokeURL      string
}

// Provider is the Xero adapter.
type Provider struct {
	cfg         Config
	apiBase     string
	connections string
	authorize   string
	token       string
	revoke      string
	api         *apiclient.Client
	httpClient  *http.Client
	logger      *zap.Logger
}

// New creates the adapter.
func New(cfg Config) *Provider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: oauthTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:         cfg,
		apiBase:     orDefault(cfg.APIBaseURL, apiBase),
		connections: orDefault(cfg.ConnectionsURL, connectionsURL),
		authorize:   orDefault(cfg.AuthorizeURL, authorizeURL),
		token:       orDefault(cfg.TokenURL, tokenURL),
		revoke:      orDefault(cfg.RevokeURL, revokeURL),
		httpClient:  httpClient,
		logger:      logger,
		api: apiclient.New(apiclient.Config{
			Provider:   accounting.ProviderXero,
			HTTPClient: httpClient,
			Logger:     logger,
		}),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ID implements accounting.Provider.
func (p *Provider) ID() accounting.ProviderID { return accounting.ProviderXero }

// AuthorizationURL builds the Xero consent URL.
func (p *Provider) AuthorizationURL(redirectURI, state string) string {
	params := url.Values{}
	params.Set("client_id", p.cfg.ClientID)
	params.Set("response_type", "code")
	params.Set("scope", strings.Join(scopes, " "))
	params.Set("redirect_uri", redirectURI)
	params.Set("state", state)
	return p.authorize + "?" + params.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

type tenant struct {
	TenantID   string `json:"tenantId"`
	TenantName string `json:"tenantName"`
	TenantType string `json:"tenantType"`
}

// Connect exchanges the authorization code, then resolves the tenant the
// user authorized. When the callback names a tenant (RealmID) that one is
// selected; otherwise the first connected organisation wins.
func (p *Provider) Connect(ctx context.Context, creds accounting.OAuthCredentials) (*accounting.Connection, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", creds.Code)
	form.Set("redirect_uri", creds.RedirectURI)

	tok, err := p.exchange(ctx, form)
	if err != nil {
		var uerr *accounting.UnavailableError
		if errors.As(err, &uerr) {
			return nil, err
		}
		return nil, &accounting.ConnectionError{Provider: p.ID(), Err: err}
	}

	tenants, err := p.listTenants(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	if len(tenants) == 0 {
		return nil, &accounting.ConnectionError{
			Provider: p.ID(),
			Err:      errors.New("authorization granted no organisation access"),
		}
	}

	selected := tenants[0]
	for _, tn := range tenants {
		if tn.TenantID == creds.RealmID {
			selected = tn
			break
		}
	}

	return &accounting.Connection{
		Provider:     p.ID(),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		RealmID:      selected.TenantID,
		CompanyName:  selected.TenantName,
		ExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
		APIBaseURL:   p.apiBase,
		Scopes:       scopes,
	}, nil
}

// RefreshToken exchanges the refresh token. Xero rotates refresh tokens
// on use, so the previous one is dead once this returns.
func (p *Provider) RefreshToken(ctx context.Context, conn *accounting.Connection) (*accounting.Connection, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", conn.RefreshToken)

	tok, err := p.exchange(ctx, form)
	if err != nil {
		var uerr *accounting.UnavailableError
		if errors.As(err, &uerr) {
			return nil, err
		}
		return nil, &accounting.TokenRefreshError{
			Provider: p.ID(),
			Message:  fmt.Sprintf("token refresh rejected: %v", err),
		}
	}

	next := *conn
	next.AccessToken = tok.AccessToken
	next.RefreshToken = tok.RefreshToken
	next.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return &next, nil
}

// Disconnect revokes the refresh token at the identity server.
func (p *Provider) Disconnect(ctx context.Context, conn *accounting.Connection) error {
	form := url.Values{}
	form.Set("token", conn.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revoke, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Basic "+p.basicAuth())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &accounting.UnavailableError{Provider: p.ID(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &accounting.UnavailableError{Provider: p.ID(), Err: fmt.Errorf("revocation returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 300 {
		p.logger.Debug("xero revocation rejected, treating as already revoked",
			zap.Int("status", resp.StatusCode))
	}
	return nil
}

// ValidateConnection probes the Organisation endpoint.
func (p *Provider) ValidateConnection(ctx context.Context, conn *accounting.Connection) (bool, error) {
	_, err := p.CompanyInfo(ctx, conn)
	if err != nil {
		var authErr *accounting.UnauthorizedError
		if errors.As(err, &authErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CompanyInfo fetches the connected organisation.
func (p *Provider) CompanyInfo(ctx context.Context, conn *accounting.Connection) (*accounting.CompanyInfo, error) {
	var resp struct {
		Organisations []xeroOrganisation `json:"Organisations"`
	}
	if err := p.get(ctx, conn, "/Organisation", nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Organisations) == 0 {
		return nil, &accounting.ProviderError{
			Provider: p.ID(),
			Code:     accounting.CodeConnectionFailed,
			Message:  "organisation endpoint returned no records",
		}
	}
	info := mapOrganisation(resp.Organisations[0])
	return &info, nil
}

// ChartOfAccounts lists active accounts. Xero returns the full chart in
// one response; the endpoint is not paged.
func (p *Provider) ChartOfAccounts(ctx context.Context, conn *accounting.Connection) ([]accounting.Account, error) {
	query := url.Values{}
	query.Set("where", `Status=="ACTIVE"`)

	var resp struct {
		Accounts []xeroAccount `json:"Accounts"`
	}
	if err := p.get(ctx, conn, "/Accounts", query, &resp); err != nil {
		return nil, err
	}
	out := make([]accounting.Account, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		out = append(out, mapAccount(a))
	}
	return out, nil
}

// Vendors lists supplier contacts.
func (p *Provider) Vendors(ctx context.Context, conn *accounting.Connection) ([]accounting.Vendor, error) {
	contacts, err := p.listContacts(ctx, conn, "IsSupplier==true")
	if err != nil {
		return nil, err
	}
	out := make([]accounting.Vendor, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, mapVendor(c))
	}
	return out, nil
}

// Customers lists customer contacts.
func (p *Provider) Customers(ctx context.Context, conn *accounting.Connection) ([]accounting.Customer, error) {
	contacts, err := p.listContacts(ctx, conn, "IsCustomer==true")
	if err != nil {
		return nil, err
	}
	out := make([]accounting.Customer, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, mapCustomer(c))
	}
	return out, nil
}

// Vendor fetches one contact by id; (nil, nil) when Xero reports 404.
func (p *Provider) Vendor(ctx context.Context, conn *accounting.Connection, id string) (*accounting.Vendor, error) {
	c, err := p.contact(ctx, conn, id)
	if err != nil || c == nil {
		return nil, err
	}
	v := mapVendor(*c)
	return &v, nil
}

// Customer fetches one contact by id; (nil, nil) when Xero reports 404.
func (p *Provider) Customer(ctx context.Context, conn *accounting.Connection, id string) (*accounting.Customer, error) {
	c, err := p.contact(ctx, conn, id)
	if err != nil || c == nil {
		return nil, err
	}
	cust := mapCustomer(*c)
	return &cust, nil
}

// CreateExpense posts a SPEND bank transaction.
func (p *Provider) CreateExpense(ctx context.Context, conn *accounting.Connection, data accounting.ExpenseData) (*accounting.TransactionResult, error) {
	return p.create(ctx, conn, "/BankTransactions", buildBankTransaction(data), extractBankTransaction)
}

// CreateBill posts an ACCPAY invoice.
func (p *Provider) CreateBill(ctx context.Context, conn *accounting.Connection, data accounting.BillData) (*accounting.TransactionResult, error) {
	return p.create(ctx, conn, "/Invoices", buildBill(data), extractInvoice)
}

// CreateInvoice posts an ACCREC invoice.
func (p *Provider) CreateInvoice(ctx context.Context, conn *accounting.Connection, data accounting.InvoiceData) (*accounting.TransactionResult, error) {
	return p.create(ctx, conn, "/Invoices", buildInvoice(data), extractInvoice)
}

// CreateJournalEntry posts a manual journal. Debits are positive line
// amounts, credits negative.
func (p *Provider) CreateJournalEntry(ctx context.Context, conn *accounting.Connection, data accounting.JournalEntryData) (*accounting.TransactionResult, error) {
	return p.create(ctx, conn, "/ManualJournals", buildManualJournal(data), extractManualJournal)
}

// ----------------------------------------------------------------------
// request plumbing

func (p *Provider) baseURL(conn *accounting.Connection) string {
	if conn.APIBaseURL != "" {
		return conn.APIBaseURL
	}
	return p.apiBase
}

func (p *Provider) header(conn *accounting.Connection) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+conn.AccessToken)
	h.Set("Xero-tenant-id", conn.RealmID)
	h.Set("Accept", "application/json")
	return h
}

func (p *Provider) get(ctx context.Context, conn *accounting.Connection, path string, query url.Values, out any) error {
	u := p.baseURL(conn) + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	body, err := p.api.Do(ctx, apiclient.Request{
		Method:     http.MethodGet,
		URL:        u,
		Header:     p.header(conn),
		Idempotent: true,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal xero response: %w", err)
	}
	return nil
}

// listContacts pages through /Contacts until a short page signals the
// end; Xero's contact listing has no total count field.
func (p *Provider) listContacts(ctx context.Context, conn *accounting.Connection, where string) ([]xeroContact, error) {
	var all []xeroContact
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("where", where)
		query.Set("page", fmt.Sprintf("%d", page))

		var resp struct {
			Contacts []xeroContact `json:"Contacts"`
		}
		if err := p.get(ctx, conn, "/Contacts", query, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Contacts...)
		if len(resp.Contacts) < pageSize {
			return all, nil
		}
	}
}

func (p *Provider) contact(ctx context.Context, conn *accounting.Connection, id string) (*xeroContact, error) {
	var resp struct {
		Contacts []xeroContact `json:"Contacts"`
	}
	if err := p.get(ctx, conn, "/Contacts/"+id, nil, &resp); err != nil {
		var perr *accounting.ProviderError
		if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if len(resp.Contacts) == 0 {
		return nil, nil
	}
	return &resp.Contacts[0], nil
}

// create posts a document and maps the outcome. Xero rejects bad
// payloads with a 400 carrying per-element ValidationErrors; those come
// back as an unsuccessful result rather than an error.
func (p *Provider) create(ctx context.Context, conn *accounting.Connection, path string, payload any, extract func([]byte) (id, number string, ok bool)) (*accounting.TransactionResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	header := p.header(conn)
	header.Set("Content-Type", "application/json")

	respBody, err := p.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		URL:    p.baseURL(conn) + path,
		Header: header,
		Body:   body,
	})
	if err != nil {
		var perr *accounting.ProviderError
		if errors.As(err, &perr) {
			return faultResult(perr), nil
		}
		return nil, err
	}

	id, number, ok := extract(respBody)
	if !ok {
		return nil, fmt.Errorf("failed to unmarshal xero response: unexpected shape")
	}
	return &accounting.TransactionResult{
		Success:        true,
		ExternalID:     id,
		DocumentNumber: number,
		Raw:            string(respBody),
	}, nil
}

func (p *Provider) listTenants(ctx context.Context, accessToken string) ([]tenant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.connections, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &accounting.UnavailableError{Provider: p.ID(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &accounting.ConnectionError{
			Provider: p.ID(),
			Err:      fmt.Errorf("tenant discovery returned status %d", resp.StatusCode),
		}
	}

	var tenants []tenant
	if err := json.NewDecoder(resp.Body).Decode(&tenants); err != nil {
		return nil, fmt.Errorf("failed to decode tenant list: %w", err)
	}
	return tenants, nil
}

func (p *Provider) exchange(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.token, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+p.basicAuth())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &accounting.UnavailableError{Provider: p.ID(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &accounting.UnavailableError{Provider: p.ID(), Err: fmt.Errorf("token endpoint returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		var oauthErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&oauthErr)
		if oauthErr.Error == "" {
			oauthErr.Error = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("token exchange failed: %s", oauthErr.Error)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &tok, nil
}

func (p *Provider) basicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(p.cfg.ClientID + ":" + p.cfg.ClientSecret))
}
