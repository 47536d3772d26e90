package quickbooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerlink/internal/domain/accounting"
)

func testConnection(baseURL string) *accounting.Connection {
	return &accounting.Connection{
		Provider:    accounting.ProviderQuickBooks,
		ClientID:    "client-1",
		AccessToken: "access-token",
		RealmID:     "realm-123",
		APIBaseURL:  baseURL,
		Active:      true,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func newTestProvider(serverURL string) *Provider {
	return New(Config{
		ClientID:     "qb-client",
		ClientSecret: "qb-secret",
		Environment:  "sandbox",
		PageSize:     100,
		APIBaseURL:   serverURL,
		AuthorizeURL: serverURL + "/oauth2/authorize",
		TokenURL:     serverURL + "/oauth2/token",
		RevokeURL:    serverURL + "/oauth2/revoke",
	})
}

func TestAuthorizationURL(t *testing.T) {
	p := New(Config{ClientID: "qb-client"})

	raw := p.AuthorizationURL("https://app.example/callback", "state-abc")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "qb-client", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "https://app.example/callback", q.Get("redirect_uri"))
	assert.Equal(t, "state-abc", q.Get("state"))
	assert.Contains(t, q.Get("scope"), "com.intuit.quickbooks.accounting")
	assert.Contains(t, q.Get("scope"), "com.intuit.quickbooks.payment")
}

func TestConnectExchangesCodeAndLoadsCompany(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth2/token":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.FormValue("grant_type"))
			assert.Equal(t, "auth-code-1", r.FormValue("code"))
			assert.NotEmpty(t, r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "new-access",
				"refresh_token": "new-refresh",
				"token_type":    "bearer",
				"expires_in":    3600,
			})
		case strings.HasPrefix(r.URL.Path, "/v3/company/realm-123/companyinfo/"):
			assert.Equal(t, "Bearer new-access", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{
				"CompanyInfo": map[string]any{"CompanyName": "Sandbox Company_US_1"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	before := time.Now()
	conn, err := p.Connect(context.Background(), accounting.OAuthCredentials{
		Code:        "auth-code-1",
		RedirectURI: "https://app.example/callback",
		RealmID:     "realm-123",
	})
	require.NoError(t, err)

	assert.Equal(t, accounting.ProviderQuickBooks, conn.Provider)
	assert.Equal(t, "new-access", conn.AccessToken)
	assert.Equal(t, "new-refresh", conn.RefreshToken)
	assert.Equal(t, "realm-123", conn.RealmID)
	assert.Equal(t, "Sandbox Company_US_1", conn.CompanyName)
	assert.WithinDuration(t, before.Add(time.Hour), conn.ExpiresAt, 5*time.Second)
}

func TestConnectRejectedCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.Connect(context.Background(), accounting.OAuthCredentials{Code: "used-code"})

	var cerr *accounting.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), "invalid_grant")
}

func TestRefreshTokenRotatesPair(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "old-refresh", r.FormValue("refresh_token"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "rotated-access",
			"refresh_token": "rotated-refresh",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	conn := testConnection(server.URL)
	conn.RefreshToken = "old-refresh"

	next, err := p.RefreshToken(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "rotated-access", next.AccessToken)
	assert.Equal(t, "rotated-refresh", next.RefreshToken)
	assert.Equal(t, conn.RealmID, next.RealmID)
}

func TestRefreshTokenRejectionIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token invalid"}`)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.RefreshToken(context.Background(), testConnection(server.URL))

	var terr *accounting.TokenRefreshError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, accounting.ProviderQuickBooks, terr.Provider)
}

func TestChartOfAccountsPaginates(t *testing.T) {
	const total = 250
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/company/realm-123/query", r.URL.Path)
		stmt := r.URL.Query().Get("query")
		queries = append(queries, stmt)

		var start, max int
		_, err := fmt.Sscanf(stmt[strings.Index(stmt, "STARTPOSITION"):], "STARTPOSITION %d MAXRESULTS %d", &start, &max)
		require.NoError(t, err)

		n := total - (start - 1)
		if n > max {
			n = max
		}
		accounts := make([]map[string]any, 0, n)
		for i := 0; i < n; i++ {
			accounts = append(accounts, map[string]any{
				"Id":          fmt.Sprintf("%d", start+i),
				"Name":        fmt.Sprintf("Account %d", start+i),
				"AccountType": "Expense",
				"Active":      true,
			})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"QueryResponse": map[string]any{
				"Account":    accounts,
				"totalCount": total,
			},
		})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	accounts, err := p.ChartOfAccounts(context.Background(), testConnection(server.URL))
	require.NoError(t, err)

	require.Len(t, accounts, total)
	require.Len(t, queries, 3)
	assert.Contains(t, queries[0], "STARTPOSITION 1 ")
	assert.Contains(t, queries[1], "STARTPOSITION 101 ")
	assert.Contains(t, queries[2], "STARTPOSITION 201 ")
	assert.Equal(t, "1", accounts[0].ID)
	assert.Equal(t, "250", accounts[total-1].ID)
}

func TestVendorsEmptyCompany(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"QueryResponse": map[string]any{}})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	vendors, err := p.Vendors(context.Background(), testConnection(server.URL))
	require.NoError(t, err)
	assert.Empty(t, vendors)
}

func TestVendorNotFoundReturnsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"Fault":{"Error":[{"Message":"Object Not Found","code":"610"}],"type":"ValidationFault"}}`)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	vendor, err := p.Vendor(context.Background(), testConnection(server.URL), "9999")
	require.NoError(t, err)
	assert.Nil(t, vendor)
}

func TestValidateConnectionUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	ok, err := p.ValidateConnection(context.Background(), testConnection(server.URL))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateExpenseSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v3/company/realm-123/purchase", r.URL.Path)

		var payload qbPurchase
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Cash", payload.PaymentType)
		require.Len(t, payload.Line, 1)

		fmt.Fprint(w, `{"Purchase":{"Id":"147","DocNumber":"EXP-1010"},"time":"2026-03-14T10:00:00.000-07:00"}`)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	result, err := p.CreateExpense(context.Background(), testConnection(server.URL), accounting.ExpenseData{
		PaymentAccountID: "35",
		PaymentMethod:    accounting.PaymentCash,
		LineItems:        []accounting.ExpenseLine{{AccountID: "64", Amount: 50}},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "147", result.ExternalID)
	assert.Equal(t, "EXP-1010", result.DocumentNumber)
	assert.Contains(t, result.Raw, `"Purchase"`)
}

func TestCreateExpenseValidationFault(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"Fault":{"Error":[{"Message":"Invalid account","Detail":"Account 999 not found","code":"2500"}],"type":"ValidationFault"}}`)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	result, err := p.CreateExpense(context.Background(), testConnection(server.URL), accounting.ExpenseData{
		PaymentAccountID: "35",
		LineItems:        []accounting.ExpenseLine{{AccountID: "999", Amount: 50}},
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "VALIDATION", result.ErrorCode)
	assert.Contains(t, result.Error, "Account 999 not found")
	assert.Equal(t, 1, calls)
}

func TestCreateJournalEntryRateLimitSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	debit, credit := 10.0, 10.0
	p := newTestProvider(server.URL)
	_, err := p.CreateJournalEntry(context.Background(), testConnection(server.URL), accounting.JournalEntryData{
		Lines: []accounting.JournalLine{
			{AccountID: "80", DebitAmount: &debit},
			{AccountID: "81", CreditAmount: &credit},
		},
	})

	var rerr *accounting.RateLimitError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 42*time.Second, rerr.RetryAfter)
}

func TestDisconnectTolerateAlreadyRevoked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	require.NoError(t, p.Disconnect(context.Background(), testConnection(server.URL)))
}
