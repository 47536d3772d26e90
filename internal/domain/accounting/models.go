package accounting

import (
	"time"
)

// Connection represents one authorized link between a client and an
// accounting provider. It is the only state this core asks an external
// store to hold durably.
type Connection struct {
	Provider     ProviderID `json:"provider"`
	ClientID     string     `json:"clientId"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`

	// RealmID is the provider-specific tenant/company identifier
	// (QuickBooks "realmId", Xero tenant id).
	RealmID string `json:"realmId,omitempty"`

	CompanyName string     `json:"companyName,omitempty"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	APIBaseURL  string     `json:"-"`
	Active      bool       `json:"active"`
	LastSyncAt  *time.Time `json:"lastSyncAt,omitempty"`
	Scopes      []string   `json:"scopes,omitempty"`
}

// TokenExpiresWithin reports whether the access token expires within d.
func (c *Connection) TokenExpiresWithin(d time.Duration) bool {
	return time.Until(c.ExpiresAt) <= d
}

// OAuthCredentials carries the ephemeral artifacts of the OAuth callback.
// They exist only for the duration of the initial handshake.
type OAuthCredentials struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
	RealmID     string `json:"realmId,omitempty"`
	State       string `json:"state,omitempty"`
}

// Address is a provider-independent postal address. Empty fields were
// absent on the provider side.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Account is one entry of the chart of accounts. Optional fields are
// pointers so callers can distinguish "absent on the provider" from an
// explicit zero value.
type Account struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	AccountNumber      *string  `json:"accountNumber,omitempty"`
	AccountType        string   `json:"accountType"`
	AccountSubType     *string  `json:"accountSubType,omitempty"`
	CurrentBalance     *float64 `json:"currentBalance,omitempty"`
	Currency           *string  `json:"currency,omitempty"`
	Active             bool     `json:"active"`
	ParentID           *string  `json:"parentId,omitempty"`
	FullyQualifiedName *string  `json:"fullyQualifiedName,omitempty"`
	Description        *string  `json:"description,omitempty"`
}

// Vendor is a supplier the client owes money to.
type Vendor struct {
	ID                      string   `json:"id"`
	DisplayName             string   `json:"displayName"`
	CompanyName             *string  `json:"companyName,omitempty"`
	Email                   *string  `json:"email,omitempty"`
	Phone                   *string  `json:"phone,omitempty"`
	BillingAddress          *Address `json:"billingAddress,omitempty"`
	Active                  bool     `json:"active"`
	Balance                 *float64 `json:"balance,omitempty"`
	Currency                *string  `json:"currency,omitempty"`
	TaxID                   *string  `json:"taxId,omitempty"`
	DefaultExpenseAccountID *string  `json:"defaultExpenseAccountId,omitempty"`
	Terms                   *string  `json:"terms,omitempty"`
}

// Customer is a party the client invoices.
type Customer struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"displayName"`
	CompanyName     *string  `json:"companyName,omitempty"`
	Email           *string  `json:"email,omitempty"`
	Phone           *string  `json:"phone,omitempty"`
	BillingAddress  *Address `json:"billingAddress,omitempty"`
	ShippingAddress *Address `json:"shippingAddress,omitempty"`
	Active          bool     `json:"active"`
	Balance         *float64 `json:"balance,omitempty"`
	Currency        *string  `json:"currency,omitempty"`
	TaxID           *string  `json:"taxId,omitempty"`
	Terms           *string  `json:"terms,omitempty"`
	TaxExempt       *bool    `json:"taxExempt,omitempty"`
}

// CompanyInfo describes the connected company.
type CompanyInfo struct {
	Name                 string   `json:"name"`
	LegalName            *string  `json:"legalName,omitempty"`
	Email                *string  `json:"email,omitempty"`
	Phone                *string  `json:"phone,omitempty"`
	Address              *Address `json:"address,omitempty"`
	FiscalYearStartMonth *int     `json:"fiscalYearStartMonth,omitempty"`
	Country              *string  `json:"country,omitempty"`
	BaseCurrency         *string  `json:"baseCurrency,omitempty"`
	Industry             *string  `json:"industry,omitempty"`
}
