package quickbooks

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerlink/internal/domain/accounting"
)

func TestMapAccount(t *testing.T) {
	raw := `{
		"Id": "35",
		"Name": "Checking",
		"AcctNum": "1000",
		"AccountType": "Bank",
		"AccountSubType": "Checking",
		"CurrentBalance": 1201.00,
		"CurrencyRef": {"value": "USD", "name": "United States Dollar"},
		"Active": true,
		"FullyQualifiedName": "Checking"
	}`
	var a qbAccount
	require.NoError(t, json.Unmarshal([]byte(raw), &a))

	got := mapAccount(a)
	assert.Equal(t, "35", got.ID)
	assert.Equal(t, "Checking", got.Name)
	assert.Equal(t, "Bank", got.AccountType)
	require.NotNil(t, got.AccountNumber)
	assert.Equal(t, "1000", *got.AccountNumber)
	require.NotNil(t, got.CurrentBalance)
	assert.Equal(t, 1201.00, *got.CurrentBalance)
	require.NotNil(t, got.Currency)
	assert.Equal(t, "USD", *got.Currency)
	assert.True(t, got.Active)
}

func TestMapAccountAbsentFieldsStayNil(t *testing.T) {
	var a qbAccount
	require.NoError(t, json.Unmarshal([]byte(`{"Id":"1","Name":"Misc","AccountType":"Expense","Active":true}`), &a))

	got := mapAccount(a)
	assert.Nil(t, got.AccountNumber)
	assert.Nil(t, got.AccountSubType)
	assert.Nil(t, got.CurrentBalance)
	assert.Nil(t, got.Currency)
	assert.Nil(t, got.ParentID)
	assert.Nil(t, got.Description)
}

func TestMapVendor(t *testing.T) {
	var v qbVendor
	require.NoError(t, json.Unmarshal([]byte(`{
		"Id": "56",
		"DisplayName": "Acme Supplies",
		"CompanyName": "Acme Supplies Inc",
		"PrimaryEmailAddr": {"Address": "ap@acme.example"},
		"PrimaryPhone": {"FreeFormNumber": "(555) 555-0100"},
		"BillAddr": {"Line1": "1 Main St", "City": "Springfield", "CountrySubDivisionCode": "CA", "PostalCode": "94000"},
		"Balance": 450.50,
		"Active": true
	}`), &v))

	got := mapVendor(v)
	assert.Equal(t, "56", got.ID)
	assert.Equal(t, "Acme Supplies", got.DisplayName)
	require.NotNil(t, got.Email)
	assert.Equal(t, "ap@acme.example", *got.Email)
	require.NotNil(t, got.BillingAddress)
	assert.Equal(t, "CA", got.BillingAddress.State)
	require.NotNil(t, got.Balance)
	assert.Equal(t, 450.50, *got.Balance)
	assert.Nil(t, got.TaxID)
	assert.Nil(t, got.Terms)
}

func TestMapCustomerTaxExemptInvertsTaxable(t *testing.T) {
	var c qbCustomer
	require.NoError(t, json.Unmarshal([]byte(`{"Id":"2","DisplayName":"City of Springfield","Taxable":false,"Active":true}`), &c))

	got := mapCustomer(c)
	require.NotNil(t, got.TaxExempt)
	assert.True(t, *got.TaxExempt)

	var c2 qbCustomer
	require.NoError(t, json.Unmarshal([]byte(`{"Id":"3","DisplayName":"Regular Co","Active":true}`), &c2))
	assert.Nil(t, mapCustomer(c2).TaxExempt)
}

func TestMapCompanyInfoMonth(t *testing.T) {
	var ci qbCompanyInfo
	require.NoError(t, json.Unmarshal([]byte(`{"CompanyName":"Sandbox Company","FiscalYearStartMonth":"April","Country":"US"}`), &ci))

	got := mapCompanyInfo(ci)
	assert.Equal(t, "Sandbox Company", got.Name)
	require.NotNil(t, got.FiscalYearStartMonth)
	assert.Equal(t, 4, *got.FiscalYearStartMonth)
	require.NotNil(t, got.Country)
	assert.Equal(t, "US", *got.Country)
}

func TestBuildPurchase(t *testing.T) {
	data := accounting.ExpenseData{
		PaymentAccountID: "35",
		VendorID:         "56",
		TransactionDate:  time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		PaymentMethod:    accounting.PaymentCreditCard,
		ReferenceNumber:  "EXP-1009",
		Currency:         "USD",
		LineItems: []accounting.ExpenseLine{
			{AccountID: "64", Amount: 120.00, Description: "Toner", Billable: true, CustomerID: "2"},
		},
	}

	p := buildPurchase(data)
	assert.Equal(t, "CreditCard", p.PaymentType)
	require.NotNil(t, p.AccountRef)
	assert.Equal(t, "35", p.AccountRef.Value)
	require.NotNil(t, p.EntityRef)
	assert.Equal(t, "56", p.EntityRef.Value)
	assert.Equal(t, "2026-03-14", p.TxnDate)
	assert.Equal(t, "EXP-1009", p.DocNumber)
	require.Len(t, p.Line, 1)
	line := p.Line[0]
	assert.Equal(t, "AccountBasedExpenseLineDetail", line.DetailType)
	assert.Equal(t, 120.00, line.Amount)
	require.NotNil(t, line.AccountBasedExpenseLineDetail)
	assert.Equal(t, "64", line.AccountBasedExpenseLineDetail.AccountRef.Value)
	assert.Equal(t, "Billable", line.AccountBasedExpenseLineDetail.BillableStatus)
	require.NotNil(t, line.AccountBasedExpenseLineDetail.CustomerRef)
	assert.Equal(t, "2", line.AccountBasedExpenseLineDetail.CustomerRef.Value)
}

func TestBuildJournalEntryPostingTypes(t *testing.T) {
	debit := 250.0
	credit := 250.0
	data := accounting.JournalEntryData{
		TransactionDate: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		ReferenceNumber: "JE-77",
		Lines: []accounting.JournalLine{
			{AccountID: "80", DebitAmount: &debit, Description: "Accrued rent"},
			{AccountID: "81", CreditAmount: &credit, EntityID: "56", EntityType: accounting.EntityVendor},
		},
	}

	je := buildJournalEntry(data)
	require.Len(t, je.Line, 2)

	assert.Equal(t, "Debit", je.Line[0].JournalEntryLineDetail.PostingType)
	assert.Equal(t, 250.0, je.Line[0].Amount)
	assert.Nil(t, je.Line[0].JournalEntryLineDetail.Entity)

	assert.Equal(t, "Credit", je.Line[1].JournalEntryLineDetail.PostingType)
	require.NotNil(t, je.Line[1].JournalEntryLineDetail.Entity)
	assert.Equal(t, "Vendor", je.Line[1].JournalEntryLineDetail.Entity.Type)
	assert.Equal(t, "56", je.Line[1].JournalEntryLineDetail.Entity.EntityRef.Value)
}

func TestBuildInvoiceOmitsEmptyOptionals(t *testing.T) {
	data := accounting.InvoiceData{
		CustomerID: "2",
		LineItems: []accounting.InvoiceLine{
			{AccountID: "90", Description: "Consulting", Amount: 900.00, Quantity: 6, UnitPrice: 150.00},
		},
	}

	inv := buildInvoice(data)
	payload, err := json.Marshal(inv)
	require.NoError(t, err)

	assert.NotContains(t, string(payload), "TxnDate")
	assert.NotContains(t, string(payload), "BillEmail")
	assert.NotContains(t, string(payload), "CurrencyRef")
	require.Len(t, inv.Line, 1)
	require.NotNil(t, inv.Line[0].SalesItemLineDetail.Qty)
	assert.Equal(t, 6.0, *inv.Line[0].SalesItemLineDetail.Qty)
	assert.Nil(t, inv.Line[0].SalesItemLineDetail.ItemRef)
}

func TestFaultResultValidation(t *testing.T) {
	raw := `{"Fault":{"Error":[{"Message":"Invalid Reference Id","Detail":"Accounts element id 999 not found","code":"2500"}],"type":"ValidationFault"},"time":"2026-03-14T10:00:00.000-07:00"}`
	perr := &accounting.ProviderError{
		Provider:   accounting.ProviderQuickBooks,
		Code:       "HTTP_400",
		Message:    "Bad Request",
		StatusCode: 400,
		Raw:        raw,
	}

	result := faultResult(perr)
	assert.False(t, result.Success)
	assert.Equal(t, "VALIDATION", result.ErrorCode)
	assert.Equal(t, "Invalid Reference Id: Accounts element id 999 not found", result.Error)
	assert.Equal(t, raw, result.Raw)
}

func TestFaultResultNonValidationKeepsProviderCode(t *testing.T) {
	raw := `{"Fault":{"Error":[{"Message":"Stale Object Error","code":"5010"}],"type":"SystemFault"}}`
	perr := &accounting.ProviderError{
		Provider:   accounting.ProviderQuickBooks,
		Code:       "HTTP_409",
		Message:    "Conflict",
		StatusCode: 409,
		Raw:        raw,
	}

	result := faultResult(perr)
	assert.False(t, result.Success)
	assert.Equal(t, "5010", result.ErrorCode)
	assert.Equal(t, "Stale Object Error", result.Error)
}
