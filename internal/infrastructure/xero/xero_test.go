package xero

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerlink/internal/domain/accounting"
)

func testConnection(baseURL string) *accounting.Connection {
	return &accounting.Connection{
		Provider:    accounting.ProviderXero,
		ClientID:    "client-1",
		AccessToken: "access-token",
		RealmID:     "tenant-aaa",
		APIBaseURL:  baseURL,
		Active:      true,
		ExpiresAt:   time.Now().Add(30 * time.Minute),
	}
}

func newTestProvider(serverURL string) *Provider {
	return New(Config{
		ClientID:       "xero-client",
		ClientSecret:   "xero-secret",
		APIBaseURL:     serverURL,
		ConnectionsURL: serverURL + "/connections",
		AuthorizeURL:   serverURL + "/identity/authorize",
		TokenURL:       serverURL + "/identity/token",
		RevokeURL:      serverURL + "/identity/revocation",
	})
}

func TestConnectSelectsTenantFromCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/identity/token":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.FormValue("grant_type"))
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "xero-access",
				"refresh_token": "xero-refresh",
				"expires_in":    1800,
			})
		case "/connections":
			assert.Equal(t, "Bearer xero-access", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode([]map[string]any{
				{"tenantId": "tenant-aaa", "tenantName": "Alpha Ltd", "tenantType": "ORGANISATION"},
				{"tenantId": "tenant-bbb", "tenantName": "Beta Ltd", "tenantType": "ORGANISATION"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	conn, err := p.Connect(context.Background(), accounting.OAuthCredentials{
		Code:        "code-1",
		RedirectURI: "https://app.example/callback",
		RealmID:     "tenant-bbb",
	})
	require.NoError(t, err)

	assert.Equal(t, "tenant-bbb", conn.RealmID)
	assert.Equal(t, "Beta Ltd", conn.CompanyName)
	assert.Equal(t, "xero-access", conn.AccessToken)
	assert.Equal(t, "xero-refresh", conn.RefreshToken)
}

func TestConnectNoTenants(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/identity/token":
			json.NewEncoder(w).Encode(map[string]any{"access_token": "a", "refresh_token": "r", "expires_in": 1800})
		case "/connections":
			fmt.Fprint(w, `[]`)
		}
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.Connect(context.Background(), accounting.OAuthCredentials{Code: "code-1"})

	var cerr *accounting.ConnectionError
	require.ErrorAs(t, err, &cerr)
}

func TestVendorsPaginateUntilShortPage(t *testing.T) {
	var pages []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Contacts", r.URL.Path)
		assert.Equal(t, "tenant-aaa", r.Header.Get("Xero-tenant-id"))
		assert.Equal(t, "IsSupplier==true", r.URL.Query().Get("where"))

		page := r.URL.Query().Get("page")
		pages = append(pages, page)

		n := pageSize
		if page == "2" {
			n = 40
		}
		contacts := make([]map[string]any, 0, n)
		for i := 0; i < n; i++ {
			contacts = append(contacts, map[string]any{
				"ContactID":     fmt.Sprintf("c-%s-%d", page, i),
				"Name":          fmt.Sprintf("Supplier %s-%d", page, i),
				"ContactStatus": "ACTIVE",
				"IsSupplier":    true,
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"Contacts": contacts})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	vendors, err := p.Vendors(context.Background(), testConnection(server.URL))
	require.NoError(t, err)

	assert.Len(t, vendors, pageSize+40)
	assert.Equal(t, []string{"1", "2"}, pages)
	assert.True(t, vendors[0].Active)
}

func TestChartOfAccountsFiltersActive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Accounts", r.URL.Path)
		assert.Equal(t, `Status=="ACTIVE"`, r.URL.Query().Get("where"))
		json.NewEncoder(w).Encode(map[string]any{
			"Accounts": []map[string]any{
				{"AccountID": "a-1", "Code": "200", "Name": "Sales", "Type": "REVENUE", "Status": "ACTIVE"},
			},
		})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	accounts, err := p.ChartOfAccounts(context.Background(), testConnection(server.URL))
	require.NoError(t, err)

	require.Len(t, accounts, 1)
	assert.Equal(t, "a-1", accounts[0].ID)
	require.NotNil(t, accounts[0].AccountNumber)
	assert.Equal(t, "200", *accounts[0].AccountNumber)
	assert.True(t, accounts[0].Active)
}

func TestCreateInvoiceTypesByDocument(t *testing.T) {
	var gotTypes []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Invoices", r.URL.Path)
		var inv xeroInvoice
		require.NoError(t, json.NewDecoder(r.Body).Decode(&inv))
		gotTypes = append(gotTypes, inv.Type)
		json.NewEncoder(w).Encode(map[string]any{
			"Invoices": []map[string]any{{"InvoiceID": "inv-1", "InvoiceNumber": "INV-0042"}},
		})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	conn := testConnection(server.URL)

	result, err := p.CreateInvoice(context.Background(), conn, accounting.InvoiceData{
		CustomerID: "c-1",
		LineItems:  []accounting.InvoiceLine{{AccountID: "200", Amount: 100}},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "inv-1", result.ExternalID)
	assert.Equal(t, "INV-0042", result.DocumentNumber)

	_, err = p.CreateBill(context.Background(), conn, accounting.BillData{
		VendorID:  "v-1",
		LineItems: []accounting.BillLine{{AccountID: "400", Amount: 100}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ACCREC", "ACCPAY"}, gotTypes)
}

func TestCreateJournalEntrySignsAmounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ManualJournals", r.URL.Path)
		var mj xeroManualJournal
		require.NoError(t, json.NewDecoder(r.Body).Decode(&mj))

		require.Len(t, mj.JournalLines, 2)
		assert.Equal(t, 75.0, mj.JournalLines[0].LineAmount)
		assert.Equal(t, -75.0, mj.JournalLines[1].LineAmount)
		assert.Equal(t, "POSTED", mj.Status)

		json.NewEncoder(w).Encode(map[string]any{
			"ManualJournals": []map[string]any{{"ManualJournalID": "mj-1", "Narration": mj.Narration}},
		})
	}))
	defer server.Close()

	debit, credit := 75.0, 75.0
	p := newTestProvider(server.URL)
	result, err := p.CreateJournalEntry(context.Background(), testConnection(server.URL), accounting.JournalEntryData{
		Memo: "month-end accrual",
		Lines: []accounting.JournalLine{
			{AccountID: "480", DebitAmount: &debit},
			{AccountID: "800", CreditAmount: &credit},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "mj-1", result.ExternalID)
}

func TestCreateBillValidationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"Type":"ValidationException","Message":"A validation exception occurred","Elements":[{"ValidationErrors":[{"Message":"Account code '999' is not a valid code for this document."}]}]}`)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	result, err := p.CreateBill(context.Background(), testConnection(server.URL), accounting.BillData{
		VendorID:  "v-1",
		LineItems: []accounting.BillLine{{AccountID: "999", Amount: 10}},
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "VALIDATION", result.ErrorCode)
	assert.Contains(t, result.Error, "not a valid code")
}

func TestVendorNotFoundReturnsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	vendor, err := p.Vendor(context.Background(), testConnection(server.URL), "missing")
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

func TestMapOrganisationFiscalYearStart(t *testing.T) {
	month := 3
	info := mapOrganisation(xeroOrganisation{Name: "Alpha Ltd", FinancialYearEndMonth: &month})
	require.NotNil(t, info.FiscalYearStartMonth)
	assert.Equal(t, 4, *info.FiscalYearStartMonth)

	december := 12
	info = mapOrganisation(xeroOrganisation{Name: "Alpha Ltd", FinancialYearEndMonth: &december})
	assert.Equal(t, 1, *info.FiscalYearStartMonth)
}
