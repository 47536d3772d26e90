// Package quickbooks implements the accounting provider contract for
// QuickBooks Online.
//
// API base URLs:
//   - Sandbox:    https://sandbox-quickbooks.api.intuit.com
//   - Production: https://quickbooks.api.intuit.com
//
// OAuth endpoints are shared between environments: authorization at
// appcenter.intuit.com, token exchange at oauth.platform.intuit.com,
// revocation at developer.api.intuit.com.
package quickbooks

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
	sandboxAPIBase    = "https://sandbox-quickbooks.api.intuit.com"
	productionAPIBase = "https://quickbooks.api.intuit.com"
	authorizeURL      = "https://appcenter.intuit.com/connect/oauth2"
	tokenURL          = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	revokeURL         = "https://developer.api.intuit.com/v2/oauth2/tokens/revoke"

	defaultPageSize = 1000
	oauthTimeout    = 30 * time.Second
)

var scopes = []string{
	"com.intuit.quickbooks.accounting",
	"com.intuit.quickbooks.payment",
}

// Config for the QuickBooks adapter. The URL overrides exist for tests
// against a fake provider; empty values select the Intuit endpoints for
// the configured environment.
type Config struct {
	ClientID     string
	ClientSecret string

	// Environment is "sandbox" or "production".
	Environment string

	PageSize   int
	HTTPClient *http.Client
	Logger     *zap.Logger

	APIBaseURL   string
	AuthorizeURL string
	TokenURL     string
	RevokeURL    string
}

// Provider is the QuickBooks Online adapter.
type Provider struct {
	cfg        Config
	apiBase    string
	authorize  string
	token      string
	revoke     string
	pageSize   int
	api        *apiclient.Client
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates the adapter.
func New(cfg Config) *Provider {
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		if cfg.Environment == "production" {
			apiBase = productionAPIBase
		} else {
			apiBase = sandboxAPIBase
		}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: oauthTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:        cfg,
		apiBase:    apiBase,
		authorize:  orDefault(cfg.AuthorizeURL, authorizeURL),
		token:      orDefault(cfg.TokenURL, tokenURL),
		revoke:     orDefault(cfg.RevokeURL, revokeURL),
		pageSize:   pageSize,
		httpClient: httpClient,
		logger:     logger,
		api: apiclient.New(apiclient.Config{
			Provider:   accounting.ProviderQuickBooks,
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
func (p *Provider) ID() accounting.ProviderID { return accounting.ProviderQuickBooks }

// AuthorizationURL builds the Intuit consent URL.
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
	AccessToken          string `json:"access_token"`
	RefreshToken         string `json:"refresh_token"`
	TokenType            string `json:"token_type"`
	ExpiresIn            int    `json:"expires_in"`
	XRefreshTokenExpires int    `json:"x_refresh_token_expires_in"`
}

// Connect exchanges the authorization code for tokens, then loads company
// info for the display name. Codes are single-use: a failed exchange
// means restarting the OAuth flow.
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

	conn := &accounting.Connection{
		Provider:     p.ID(),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		RealmID:      creds.RealmID,
		ExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
		APIBaseURL:   p.apiBase,
		Scopes:       scopes,
	}

	info, err := p.CompanyInfo(ctx, conn)
	if err != nil {
		return nil, err
	}
	conn.CompanyName = info.Name
	return conn, nil
}

// RefreshToken exchanges the stored refresh token for a new pair. Intuit
// rotates the refresh token on every exchange, so the returned connection
// must fully replace the old one.
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

// Disconnect revokes the refresh token. A rejection of an already-invalid
// token is not an error: disconnection is idempotent for the caller.
func (p *Provider) Disconnect(ctx context.Context, conn *accounting.Connection) error {
	payload, err := json.Marshal(map[string]string{"token": conn.RefreshToken})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revoke, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Basic "+p.basicAuth())
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &accounting.UnavailableError{Provider: p.ID(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &accounting.UnavailableError{Provider: p.ID(), Err: fmt.Errorf("revoke returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 300 {
		p.logger.Debug("quickbooks revoke rejected, treating as already revoked",
			zap.Int("status", resp.StatusCode))
	}
	return nil
}

// ValidateConnection probes company info. A 401 is the expected "not
// valid" outcome, not an error.
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

// CompanyInfo fetches /companyinfo/{realmId}.
func (p *Provider) CompanyInfo(ctx context.Context, conn *accounting.Connection) (*accounting.CompanyInfo, error) {
	var resp struct {
		CompanyInfo qbCompanyInfo `json:"CompanyInfo"`
	}
	if err := p.get(ctx, conn, "/companyinfo/"+conn.RealmID, &resp); err != nil {
		return nil, err
	}
	info := mapCompanyInfo(resp.CompanyInfo)
	return &info, nil
}

// ChartOfAccounts lists active accounts, stitching query pages into one
// ordered sequence.
func (p *Provider) ChartOfAccounts(ctx context.Context, conn *accounting.Connection) ([]accounting.Account, error) {
	var out []accounting.Account
	err := p.queryPages(ctx, conn, "Account", func(qr *qbQueryResponse) int {
		for _, a := range qr.QueryResponse.Account {
			out = append(out, mapAccount(a))
		}
		return len(qr.QueryResponse.Account)
	})
	return out, err
}

// Vendors lists active vendors.
func (p *Provider) Vendors(ctx context.Context, conn *accounting.Connection) ([]accounting.Vendor, error) {
	var out []accounting.Vendor
	err := p.queryPages(ctx, conn, "Vendor", func(qr *qbQueryResponse) int {
		for _, v := range qr.QueryResponse.Vendor {
			out = append(out, mapVendor(v))
		}
		return len(qr.QueryResponse.Vendor)
	})
	return out, err
}

// Customers lists active customers.
func (p *Provider) Customers(ctx context.Context, conn *accounting.Connection) ([]accounting.Customer, error) {
	var out []accounting.Customer
	err := p.queryPages(ctx, conn, "Customer", func(qr *qbQueryResponse) int {
		for _, c := range qr.QueryResponse.Customer {
			out = append(out, mapCustomer(c))
		}
		return len(qr.QueryResponse.Customer)
	})
	return out, err
}

// Vendor fetches one vendor; (nil, nil) when QuickBooks reports 404.
func (p *Provider) Vendor(ctx context.Context, conn *accounting.Connection, id string) (*accounting.Vendor, error) {
	var resp struct {
		Vendor qbVendor `json:"Vendor"`
	}
	if err := p.get(ctx, conn, "/vendor/"+id, &resp); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	v := mapVendor(resp.Vendor)
	return &v, nil
}

// Customer fetches one customer; (nil, nil) when QuickBooks reports 404.
func (p *Provider) Customer(ctx context.Context, conn *accounting.Connection, id string) (*accounting.Customer, error) {
	var resp struct {
		Customer qbCustomer `json:"Customer"`
	}
	if err := p.get(ctx, conn, "/customer/"+id, &resp); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	c := mapCustomer(resp.Customer)
	return &c, nil
}

// CreateExpense posts a Purchase.
func (p *Provider) CreateExpense(ctx context.Context, conn *accounting.Connection, data accounting.ExpenseData) (*accounting.TransactionResult, error) {
	return p.create(ctx, conn, "/purchase", buildPurchase(data), "Purchase")
}

// CreateBill posts a Bill.
func (p *Provider) CreateBill(ctx context.Context, conn *accounting.Connection, data accounting.BillData) (*accounting.TransactionResult, error) {
	return p.create(ctx, conn, "/bill", buildBill(data), "Bill")
}

// CreateInvoice posts an Invoice.
func (p *Provider) CreateInvoice(ctx context.Context, conn *accounting.Connection, data accounting.InvoiceData) (*accounting.TransactionResult, error) {
	return p.create(ctx, conn, "/invoice", buildInvoice(data), "Invoice")
}

// CreateJournalEntry posts a JournalEntry.
func (p *Provider) CreateJournalEntry(ctx context.Context, conn *accounting.Connection, data accounting.JournalEntryData) (*accounting.TransactionResult, error) {
	return p.create(ctx, conn, "/journalentry", buildJournalEntry(data), "JournalEntry")
}

// ----------------------------------------------------------------------
// request plumbing

func (p *Provider) baseURL(conn *accounting.Connection) string {
	if conn.APIBaseURL != "" {
		return conn.APIBaseURL
	}
	return p.apiBase
}

func (p *Provider) companyURL(conn *accounting.Connection, path string) string {
	return p.baseURL(conn) + "/v3/company/" + conn.RealmID + path
}

func (p *Provider) authHeader(conn *accounting.Connection) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+conn.AccessToken)
	h.Set("Accept", "application/json")
	return h
}

func (p *Provider) get(ctx context.Context, conn *accounting.Connection, path string, out any) error {
	body, err := p.api.Do(ctx, apiclient.Request{
		Method:     http.MethodGet,
		URL:        p.companyURL(conn, path),
		Header:     p.authHeader(conn),
		Idempotent: true,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal quickbooks response: %w", err)
	}
	return nil
}

// queryPages runs the SQL-like query for one entity, advancing
// STARTPOSITION by the page size until the accumulated count reaches the
// reported total or a page comes back empty.
func (p *Provider) queryPages(ctx context.Context, conn *accounting.Connection, entity string, consume func(*qbQueryResponse) int) error {
	start := 1
	total := 0
	for {
		stmt := fmt.Sprintf("SELECT * FROM %s WHERE Active = true STARTPOSITION %d MAXRESULTS %d", entity, start, p.pageSize)
		var qr qbQueryResponse
		if err := p.get(ctx, conn, "/query?query="+url.QueryEscape(stmt), &qr); err != nil {
			return err
		}
		n := consume(&qr)
		total += n
		if n == 0 || qr.QueryResponse.TotalCount <= total {
			return nil
		}
		start += p.pageSize
	}
}

// create posts a transaction payload and maps the outcome. Provider-side
// rejections come back as an unsuccessful TransactionResult, not an
// error; auth, rate-limit and transport failures propagate as errors.
func (p *Provider) create(ctx context.Context, conn *accounting.Connection, path string, payload any, envelope string) (*accounting.TransactionResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", envelope, err)
	}

	header := p.authHeader(conn)
	header.Set("Content-Type", "application/json")

	respBody, err := p.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		URL:    p.companyURL(conn, path),
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

	var parsed map[string]qbCreatedEntity
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s response: %w", envelope, err)
	}
	created := parsed[envelope]
	return &accounting.TransactionResult{
		Success:        true,
		ExternalID:     created.ID,
		DocumentNumber: created.DocNumber,
		Raw:            string(respBody),
	}, nil
}

// exchange posts to the token endpoint with Basic client authentication.
func (p *Provider) exchange(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.token, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+p.basicAuth())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

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
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&oauthErr)
		if oauthErr.Error == "" {
			oauthErr.Error = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("token exchange failed: %s %s", oauthErr.Error, oauthErr.ErrorDescription)
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

func isNotFound(err error) bool {
	var perr *accounting.ProviderError
	return errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound
}
