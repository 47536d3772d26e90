package xero

import (
	"encoding/json"
	"strings"
	"time"

	"ledgerlink/internal/domain/accounting"
)

const dateLayout = "2006-01-02"

// ----------------------------------------------------------------------
// wire types

type xeroAddress struct {
	AddressType  string `json:"AddressType,omitempty"`
	AddressLine1 string `json:"AddressLine1,omitempty"`
	AddressLine2 string `json:"AddressLine2,omitempty"`
	City         string `json:"City,omitempty"`
	Region       string `json:"Region,omitempty"`
	PostalCode   string `json:"PostalCode,omitempty"`
	Country      string `json:"Country,omitempty"`
}

type xeroPhone struct {
	PhoneType        string `json:"PhoneType,omitempty"`
	PhoneNumber      string `json:"PhoneNumber,omitempty"`
	PhoneAreaCode    string `json:"PhoneAreaCode,omitempty"`
	PhoneCountryCode string `json:"PhoneCountryCode,omitempty"`
}

type xeroAccount struct {
	AccountID     string  `json:"AccountID"`
	Code          *string `json:"Code,omitempty"`
	Name          string  `json:"Name"`
	Type          string  `json:"Type"`
	Class         *string `json:"Class,omitempty"`
	Status        string  `json:"Status"`
	Description   *string `json:"Description,omitempty"`
	CurrencyCode  *string `json:"CurrencyCode,omitempty"`
	ReportingCode *string `json:"ReportingCode,omitempty"`
}

type xeroContact struct {
	ContactID       string        `json:"ContactID"`
	Name            string        `json:"Name"`
	EmailAddress    *string       `json:"EmailAddress,omitempty"`
	ContactStatus   string        `json:"ContactStatus"`
	TaxNumber       *string       `json:"TaxNumber,omitempty"`
	Addresses       []xeroAddress `json:"Addresses,omitempty"`
	Phones          []xeroPhone   `json:"Phones,omitempty"`
	IsSupplier      bool          `json:"IsSupplier"`
	IsCustomer      bool          `json:"IsCustomer"`
	DefaultCurrency *string       `json:"DefaultCurrency,omitempty"`
	Balances        *xeroBalances `json:"Balances,omitempty"`
}

type xeroBalances struct {
	AccountsReceivable *xeroOutstanding `json:"AccountsReceivable,omitempty"`
	AccountsPayable    *xeroOutstanding `json:"AccountsPayable,omitempty"`
}

type xeroOutstanding struct {
	Outstanding float64 `json:"Outstanding"`
	Overdue     float64 `json:"Overdue"`
}

type xeroOrganisation struct {
	Name                  string        `json:"Name"`
	LegalName             *string       `json:"LegalName,omitempty"`
	BaseCurrency          *string       `json:"BaseCurrency,omitempty"`
	CountryCode           *string       `json:"CountryCode,omitempty"`
	FinancialYearEndMonth *int          `json:"FinancialYearEndMonth,omitempty"`
	LineOfBusiness        *string       `json:"LineOfBusiness,omitempty"`
	Addresses             []xeroAddress `json:"Addresses,omitempty"`
	Phones                []xeroPhone   `json:"Phones,omitempty"`
}

// ----------------------------------------------------------------------
// inbound mapping

func mapAddress(addrs []xeroAddress, addrType string) *accounting.Address {
	for _, a := range addrs {
		if a.AddressType != addrType {
			continue
		}
		if a.AddressLine1 == "" && a.City == "" && a.PostalCode == "" {
			return nil
		}
		return &accounting.Address{
			Line1:      a.AddressLine1,
			Line2:      a.AddressLine2,
			City:       a.City,
			State:      a.Region,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		}
	}
	return nil
}

func mapPhone(phones []xeroPhone) *string {
	for _, ph := range phones {
		if ph.PhoneType != "DEFAULT" || ph.PhoneNumber == "" {
			continue
		}
		var b strings.Builder
		if ph.PhoneCountryCode != "" {
			b.WriteString("+" + ph.PhoneCountryCode + " ")
		}
		if ph.PhoneAreaCode != "" {
			b.WriteString(ph.PhoneAreaCode + " ")
		}
		b.WriteString(ph.PhoneNumber)
		s := b.String()
		return &s
	}
	return nil
}

func mapAccount(a xeroAccount) accounting.Account {
	return accounting.Account{
		ID:             a.AccountID,
		Name:           a.Name,
		AccountNumber:  a.Code,
		AccountType:    a.Type,
		AccountSubType: a.Class,
		Currency:       a.CurrencyCode,
		Active:         a.Status == "ACTIVE",
		Description:    a.Description,
	}
}

func mapVendor(c xeroContact) accounting.Vendor {
	v := accounting.Vendor{
		ID:             c.ContactID,
		DisplayName:    c.Name,
		Email:          c.EmailAddress,
		Phone:          mapPhone(c.Phones),
		BillingAddress: mapAddress(c.Addresses, "POBOX"),
		Active:         c.ContactStatus == "ACTIVE",
		Currency:       c.DefaultCurrency,
		TaxID:          c.TaxNumber,
	}
	if c.Balances != nil && c.Balances.AccountsPayable != nil {
		outstanding := c.Balances.AccountsPayable.Outstanding
		v.Balance = &outstanding
	}
	return v
}

func mapCustomer(c xeroContact) accounting.Customer {
	cust := accounting.Customer{
		ID:              c.ContactID,
		DisplayName:     c.Name,
		Email:           c.EmailAddress,
		Phone:           mapPhone(c.Phones),
		BillingAddress:  mapAddress(c.Addresses, "POBOX"),
		ShippingAddress: mapAddress(c.Addresses, "STREET"),
		Active:          c.ContactStatus == "ACTIVE",
		Currency:        c.DefaultCurrency,
		TaxID:           c.TaxNumber,
	}
	if c.Balances != nil && c.Balances.AccountsReceivable != nil {
		outstanding := c.Balances.AccountsReceivable.Outstanding
		cust.Balance = &outstanding
	}
	return cust
}

func mapOrganisation(o xeroOrganisation) accounting.CompanyInfo {
	info := accounting.CompanyInfo{
		Name:         o.Name,
		LegalName:    o.LegalName,
		Address:      mapAddress(o.Addresses, "POBOX"),
		Phone:        mapPhone(o.Phones),
		Country:      o.CountryCode,
		BaseCurrency: o.BaseCurrency,
		Industry:     o.LineOfBusiness,
	}
	if o.FinancialYearEndMonth != nil {
		// Xero reports the fiscal year end; the start is the month after.
		start := *o.FinancialYearEndMonth%12 + 1
		info.FiscalYearStartMonth = &start
	}
	return info
}

// ----------------------------------------------------------------------
// outbound payloads

type xeroRef struct {
	ContactID string `json:"ContactID,omitempty"`
	AccountID string `json:"AccountID,omitempty"`
	Code      string `json:"Code,omitempty"`
}

type xeroInvoiceLine struct {
	Description  string   `json:"Description,omitempty"`
	Quantity     *float64 `json:"Quantity,omitempty"`
	UnitAmount   *float64 `json:"UnitAmount,omitempty"`
	LineAmount   float64  `json:"LineAmount"`
	AccountCode  string   `json:"AccountCode,omitempty"`
	ItemCode     string   `json:"ItemCode,omitempty"`
	TaxType      string   `json:"TaxType,omitempty"`
	DiscountRate *float64 `json:"DiscountRate,omitempty"`
}

type xeroInvoice struct {
	Type          string            `json:"Type"`
	Contact       xeroRef           `json:"Contact"`
	Date          string            `json:"Date,omitempty"`
	DueDate       string            `json:"DueDate,omitempty"`
	InvoiceNumber string            `json:"InvoiceNumber,omitempty"`
	Reference     string            `json:"Reference,omitempty"`
	CurrencyCode  string            `json:"CurrencyCode,omitempty"`
	Status        string            `json:"Status"`
	LineItems     []xeroInvoiceLine `json:"LineItems"`
}

type xeroBankTransaction struct {
	Type         string            `json:"Type"`
	Contact      *xeroRef          `json:"Contact,omitempty"`
	BankAccount  xeroRef           `json:"BankAccount"`
	Date         string            `json:"Date,omitempty"`
	Reference    string            `json:"Reference,omitempty"`
	CurrencyCode string            `json:"CurrencyCode,omitempty"`
	Status       string            `json:"Status"`
	LineItems    []xeroInvoiceLine `json:"LineItems"`
}

type xeroJournalLine struct {
	LineAmount  float64 `json:"LineAmount"`
	AccountCode string  `json:"AccountCode"`
	Description string  `json:"Description,omitempty"`
}

type xeroManualJournal struct {
	Narration    string            `json:"Narration"`
	Date         string            `json:"Date,omitempty"`
	Status       string            `json:"Status"`
	JournalLines []xeroJournalLine `json:"JournalLines"`
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func buildBankTransaction(data accounting.ExpenseData) xeroBankTransaction {
	tx := xeroBankTransaction{
		Type:         "SPEND",
		BankAccount:  xeroRef{AccountID: data.PaymentAccountID},
		Date:         formatDate(data.TransactionDate),
		Reference:    data.ReferenceNumber,
		CurrencyCode: data.Currency,
		Status:       "AUTHORISED",
	}
	if data.VendorID != "" {
		tx.Contact = &xeroRef{ContactID: data.VendorID}
	}
	for _, l := range data.LineItems {
		tx.LineItems = append(tx.LineItems, xeroInvoiceLine{
			Description: l.Description,
			LineAmount:  l.Amount,
			AccountCode: l.AccountID,
			TaxType:     l.TaxCodeID,
		})
	}
	return tx
}

func buildBill(data accounting.BillData) xeroInvoice {
	inv := xeroInvoice{
		Type:          "ACCPAY",
		Contact:       xeroRef{ContactID: data.VendorID},
		Date:          formatDate(data.TransactionDate),
		DueDate:       formatDate(data.DueDate),
		InvoiceNumber: data.ReferenceNumber,
		CurrencyCode:  data.Currency,
		Status:        "AUTHORISED",
	}
	for _, l := range data.LineItems {
		line := xeroInvoiceLine{
			Description: l.Description,
			LineAmount:  l.Amount,
			AccountCode: l.AccountID,
			TaxType:     l.TaxCodeID,
		}
		if l.Quantity != 0 {
			qty := l.Quantity
			line.Quantity = &qty
		}
		if l.UnitPrice != 0 {
			price := l.UnitPrice
			line.UnitAmount = &price
		}
		inv.LineItems = append(inv.LineItems, line)
	}
	return inv
}

func buildInvoice(data accounting.InvoiceData) xeroInvoice {
	inv := xeroInvoice{
		Type:          "ACCREC",
		Contact:       xeroRef{ContactID: data.CustomerID},
		Date:          formatDate(data.TransactionDate),
		DueDate:       formatDate(data.DueDate),
		InvoiceNumber: data.InvoiceNumber,
		Reference:     data.Memo,
		CurrencyCode:  data.Currency,
		Status:        "AUTHORISED",
	}
	for _, l := range data.LineItems {
		line := xeroInvoiceLine{
			Description: l.Description,
			LineAmount:  l.Amount,
			AccountCode: l.AccountID,
			ItemCode:    l.ItemID,
			TaxType:     l.TaxCodeID,
		}
		if l.Quantity != 0 {
			qty := l.Quantity
			line.Quantity = &qty
		}
		if l.UnitPrice != 0 {
			price := l.UnitPrice
			line.UnitAmount = &price
		}
		if l.DiscountPercent != 0 {
			rate := l.DiscountPercent
			line.DiscountRate = &rate
		}
		inv.LineItems = append(inv.LineItems, line)
	}
	return inv
}

func buildManualJournal(data accounting.JournalEntryData) xeroManualJournal {
	narration := data.Memo
	if narration == "" {
		narration = data.ReferenceNumber
	}
	mj := xeroManualJournal{
		Narration: narration,
		Date:      formatDate(data.TransactionDate),
		Status:    "POSTED",
	}
	for _, l := range data.Lines {
		amount := 0.0
		if l.DebitAmount != nil {
			amount = *l.DebitAmount
		} else if l.CreditAmount != nil {
			amount = -*l.CreditAmount
		}
		mj.JournalLines = append(mj.JournalLines, xeroJournalLine{
			LineAmount:  amount,
			AccountCode: l.AccountID,
			Description: l.Description,
		})
	}
	return mj
}

// ----------------------------------------------------------------------
// response extraction and fault handling

func extractInvoice(body []byte) (string, string, bool) {
	var resp struct {
		Invoices []struct {
			InvoiceID     string `json:"InvoiceID"`
			InvoiceNumber string `json:"InvoiceNumber"`
		} `json:"Invoices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Invoices) == 0 {
		return "", "", false
	}
	return resp.Invoices[0].InvoiceID, resp.Invoices[0].InvoiceNumber, true
}

func extractBankTransaction(body []byte) (string, string, bool) {
	var resp struct {
		BankTransactions []struct {
			BankTransactionID string `json:"BankTransactionID"`
			Reference         string `json:"Reference"`
		} `json:"BankTransactions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.BankTransactions) == 0 {
		return "", "", false
	}
	return resp.BankTransactions[0].BankTransactionID, resp.BankTransactions[0].Reference, true
}

func extractManualJournal(body []byte) (string, string, bool) {
	var resp struct {
		ManualJournals []struct {
			ManualJournalID string `json:"ManualJournalID"`
			Narration       string `json:"Narration"`
		} `json:"ManualJournals"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.ManualJournals) == 0 {
		return "", "", false
	}
	return resp.ManualJournals[0].ManualJournalID, "", true
}

type xeroAPIError struct {
	Type     string `json:"Type"`
	Message  string `json:"Message"`
	Elements []struct {
		ValidationErrors []struct {
			Message string `json:"Message"`
		} `json:"ValidationErrors"`
	} `json:"Elements"`
}

// faultResult converts a Xero 400-level rejection into an unsuccessful
// transaction result, collecting element validation messages.
func faultResult(perr *accounting.ProviderError) *accounting.TransactionResult {
	result := &accounting.TransactionResult{
		Success:   false,
		Error:     perr.Message,
		ErrorCode: perr.Code,
		Raw:       perr.Raw,
	}
	var apiErr xeroAPIError
	if err := json.Unmarshal([]byte(perr.Raw), &apiErr); err != nil {
		return result
	}
	var messages []string
	for _, el := range apiErr.Elements {
		for _, ve := range el.ValidationErrors {
			messages = append(messages, ve.Message)
		}
	}
	if len(messages) > 0 {
		result.Error = strings.Join(messages, "; ")
	} else if apiErr.Message != "" {
		result.Error = apiErr.Message
	}
	if strings.EqualFold(apiErr.Type, "ValidationException") || len(messages) > 0 {
		result.ErrorCode = "VALIDATION"
	}
	return result
}
