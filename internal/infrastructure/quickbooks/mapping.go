package quickbooks

import (
	"encoding/json"
	"strings"
	"time"

	"ledgerlink/internal/domain/accounting"
)

const dateLayout = "2006-01-02"

// ----------------------------------------------------------------------
// wire types

type qbRef struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type qbEmail struct {
	Address string `json:"Address"`
}

type qbPhone struct {
	FreeFormNumber string `json:"FreeFormNumber"`
}

type qbAddress struct {
	Line1                  string `json:"Line1,omitempty"`
	Line2                  string `json:"Line2,omitempty"`
	City                   string `json:"City,omitempty"`
	CountrySubDivisionCode string `json:"CountrySubDivisionCode,omitempty"`
	PostalCode             string `json:"PostalCode,omitempty"`
	Country                string `json:"Country,omitempty"`
}

type qbAccount struct {
	ID                 string   `json:"Id"`
	Name               string   `json:"Name"`
	AcctNum            *string  `json:"AcctNum,omitempty"`
	AccountType        string   `json:"AccountType"`
	AccountSubType     *string  `json:"AccountSubType,omitempty"`
	CurrentBalance     *float64 `json:"CurrentBalance,omitempty"`
	CurrencyRef        *qbRef   `json:"CurrencyRef,omitempty"`
	Active             bool     `json:"Active"`
	ParentRef          *qbRef   `json:"ParentRef,omitempty"`
	FullyQualifiedName *string  `json:"FullyQualifiedName,omitempty"`
	Description        *string  `json:"Description,omitempty"`
}

type qbVendor struct {
	ID               string     `json:"Id"`
	DisplayName      string     `json:"DisplayName"`
	CompanyName      *string    `json:"CompanyName,omitempty"`
	PrimaryEmailAddr *qbEmail   `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *qbPhone   `json:"PrimaryPhone,omitempty"`
	BillAddr         *qbAddress `json:"BillAddr,omitempty"`
	TaxIdentifier    *string    `json:"TaxIdentifier,omitempty"`
	Balance          *float64   `json:"Balance,omitempty"`
	CurrencyRef      *qbRef     `json:"CurrencyRef,omitempty"`
	TermRef          *qbRef     `json:"TermRef,omitempty"`
	Active           bool       `json:"Active"`
}

type qbCustomer struct {
	ID                   string     `json:"Id"`
	DisplayName          string     `json:"DisplayName"`
	CompanyName          *string    `json:"CompanyName,omitempty"`
	PrimaryEmailAddr     *qbEmail   `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone         *qbPhone   `json:"PrimaryPhone,omitempty"`
	BillAddr             *qbAddress `json:"BillAddr,omitempty"`
	ShipAddr             *qbAddress `json:"ShipAddr,omitempty"`
	Taxable              *bool      `json:"Taxable,omitempty"`
	PrimaryTaxIdentifier *string    `json:"PrimaryTaxIdentifier,omitempty"`
	Balance              *float64   `json:"Balance,omitempty"`
	CurrencyRef          *qbRef     `json:"CurrencyRef,omitempty"`
	SalesTermRef         *qbRef     `json:"SalesTermRef,omitempty"`
	Active               bool       `json:"Active"`
}

type qbCompanyInfo struct {
	CompanyName          string     `json:"CompanyName"`
	LegalName            *string    `json:"LegalName,omitempty"`
	CompanyAddr          *qbAddress `json:"CompanyAddr,omitempty"`
	Country              *string    `json:"Country,omitempty"`
	FiscalYearStartMonth *string    `json:"FiscalYearStartMonth,omitempty"`
	Email                *qbEmail   `json:"Email,omitempty"`
	PrimaryPhone         *qbPhone   `json:"PrimaryPhone,omitempty"`
}

type qbQueryResponse struct {
	QueryResponse struct {
		Account    []qbAccount  `json:"Account,omitempty"`
		Vendor     []qbVendor   `json:"Vendor,omitempty"`
		Customer   []qbCustomer `json:"Customer,omitempty"`
		TotalCount int          `json:"totalCount"`
		StartPos   int          `json:"startPosition"`
		MaxResults int          `json:"maxResults"`
	} `json:"QueryResponse"`
}

type qbCreatedEntity struct {
	ID        string `json:"Id"`
	DocNumber string `json:"DocNumber"`
}

type qbFault struct {
	Fault struct {
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
		Type string `json:"type"`
	} `json:"Fault"`
}

// ----------------------------------------------------------------------
// inbound mapping

func mapAddress(a *qbAddress) *accounting.Address {
	if a == nil {
		return nil
	}
	return &accounting.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.CountrySubDivisionCode,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func emailAddress(e *qbEmail) *string {
	if e == nil || e.Address == "" {
		return nil
	}
	return &e.Address
}

func phoneNumber(ph *qbPhone) *string {
	if ph == nil || ph.FreeFormNumber == "" {
		return nil
	}
	return &ph.FreeFormNumber
}

func refValue(r *qbRef) *string {
	if r == nil || r.Value == "" {
		return nil
	}
	return &r.Value
}

func mapAccount(a qbAccount) accounting.Account {
	return accounting.Account{
		ID:                 a.ID,
		Name:               a.Name,
		AccountNumber:      a.AcctNum,
		AccountType:        a.AccountType,
		AccountSubType:     a.AccountSubType,
		CurrentBalance:     a.CurrentBalance,
		Currency:           refValue(a.CurrencyRef),
		Active:             a.Active,
		ParentID:           refValue(a.ParentRef),
		FullyQualifiedName: a.FullyQualifiedName,
		Description:        a.Description,
	}
}

func mapVendor(v qbVendor) accounting.Vendor {
	return accounting.Vendor{
		ID:             v.ID,
		DisplayName:    v.DisplayName,
		CompanyName:    v.CompanyName,
		Email:          emailAddress(v.PrimaryEmailAddr),
		Phone:          phoneNumber(v.PrimaryPhone),
		BillingAddress: mapAddress(v.BillAddr),
		Active:         v.Active,
		Balance:        v.Balance,
		Currency:       refValue(v.CurrencyRef),
		TaxID:          v.TaxIdentifier,
		Terms:          refValue(v.TermRef),
	}
}

func mapCustomer(c qbCustomer) accounting.Customer {
	cust := accounting.Customer{
		ID:              c.ID,
		DisplayName:     c.DisplayName,
		CompanyName:     c.CompanyName,
		Email:           emailAddress(c.PrimaryEmailAddr),
		Phone:           phoneNumber(c.PrimaryPhone),
		BillingAddress:  mapAddress(c.BillAddr),
		ShippingAddress: mapAddress(c.ShipAddr),
		Active:          c.Active,
		Balance:         c.Balance,
		Currency:        refValue(c.CurrencyRef),
		TaxID:           c.PrimaryTaxIdentifier,
		Terms:           refValue(c.SalesTermRef),
	}
	if c.Taxable != nil {
		exempt := !*c.Taxable
		cust.TaxExempt = &exempt
	}
	return cust
}

func mapCompanyInfo(ci qbCompanyInfo) accounting.CompanyInfo {
	return accounting.CompanyInfo{
		Name:                 ci.CompanyName,
		LegalName:            ci.LegalName,
		Email:                emailAddress(ci.Email),
		Phone:                phoneNumber(ci.PrimaryPhone),
		Address:              mapAddress(ci.CompanyAddr),
		FiscalYearStartMonth: monthNumber(ci.FiscalYearStartMonth),
		Country:              ci.Country,
	}
}

// monthNumber converts QuickBooks month names ("January") to 1..12.
func monthNumber(name *string) *int {
	if name == nil || *name == "" {
		return nil
	}
	t, err := time.Parse("January", *name)
	if err != nil {
		return nil
	}
	n := int(t.Month())
	return &n
}

// ----------------------------------------------------------------------
// outbound payloads

type qbLine struct {
	Amount      float64 `json:"Amount"`
	DetailType  string  `json:"DetailType"`
	Description string  `json:"Description,omitempty"`

	AccountBasedExpenseLineDetail *qbExpenseDetail `json:"AccountBasedExpenseLineDetail,omitempty"`
	SalesItemLineDetail           *qbSalesDetail   `json:"SalesItemLineDetail,omitempty"`
	JournalEntryLineDetail        *qbJournalDetail `json:"JournalEntryLineDetail,omitempty"`
}

type qbExpenseDetail struct {
	AccountRef     qbRef  `json:"AccountRef"`
	ClassRef       *qbRef `json:"ClassRef,omitempty"`
	CustomerRef    *qbRef `json:"CustomerRef,omitempty"`
	TaxCodeRef     *qbRef `json:"TaxCodeRef,omitempty"`
	BillableStatus string `json:"BillableStatus,omitempty"`
}

type qbSalesDetail struct {
	ItemRef    *qbRef   `json:"ItemRef,omitempty"`
	ClassRef   *qbRef   `json:"ClassRef,omitempty"`
	TaxCodeRef *qbRef   `json:"TaxCodeRef,omitempty"`
	Qty        *float64 `json:"Qty,omitempty"`
	UnitPrice  *float64 `json:"UnitPrice,omitempty"`
}

type qbJournalDetail struct {
	PostingType string           `json:"PostingType"`
	AccountRef  qbRef            `json:"AccountRef"`
	ClassRef    *qbRef           `json:"ClassRef,omitempty"`
	Entity      *qbJournalEntity `json:"Entity,omitempty"`
}

type qbJournalEntity struct {
	Type      string `json:"Type"`
	EntityRef qbRef  `json:"EntityRef"`
}

type qbPurchase struct {
	PaymentType string   `json:"PaymentType"`
	AccountRef  *qbRef   `json:"AccountRef,omitempty"`
	EntityRef   *qbRef   `json:"EntityRef,omitempty"`
	TxnDate     string   `json:"TxnDate,omitempty"`
	DocNumber   string   `json:"DocNumber,omitempty"`
	PrivateNote string   `json:"PrivateNote,omitempty"`
	Line        []qbLine `json:"Line"`
	CurrencyRef *qbRef   `json:"CurrencyRef,omitempty"`
}

type qbBill struct {
	VendorRef    qbRef    `json:"VendorRef"`
	APAccountRef *qbRef   `json:"APAccountRef,omitempty"`
	SalesTermRef *qbRef   `json:"SalesTermRef,omitempty"`
	TxnDate      string   `json:"TxnDate,omitempty"`
	DueDate      string   `json:"DueDate,omitempty"`
	DocNumber    string   `json:"DocNumber,omitempty"`
	PrivateNote  string   `json:"PrivateNote,omitempty"`
	Line         []qbLine `json:"Line"`
	CurrencyRef  *qbRef   `json:"CurrencyRef,omitempty"`
}

type qbInvoice struct {
	CustomerRef  qbRef      `json:"CustomerRef"`
	SalesTermRef *qbRef     `json:"SalesTermRef,omitempty"`
	TxnDate      string     `json:"TxnDate,omitempty"`
	DueDate      string     `json:"DueDate,omitempty"`
	DocNumber    string     `json:"DocNumber,omitempty"`
	PrivateNote  string     `json:"PrivateNote,omitempty"`
	CustomerMemo *qbMemo    `json:"CustomerMemo,omitempty"`
	BillEmail    *qbEmail   `json:"BillEmail,omitempty"`
	BillAddr     *qbAddress `json:"BillAddr,omitempty"`
	ShipAddr     *qbAddress `json:"ShipAddr,omitempty"`
	Line         []qbLine   `json:"Line"`
	CurrencyRef  *qbRef     `json:"CurrencyRef,omitempty"`
}

type qbMemo struct {
	Value string `json:"value"`
}

type qbJournalEntry struct {
	TxnDate     string   `json:"TxnDate,omitempty"`
	DocNumber   string   `json:"DocNumber,omitempty"`
	PrivateNote string   `json:"PrivateNote,omitempty"`
	Adjustment  bool     `json:"Adjustment,omitempty"`
	Line        []qbLine `json:"Line"`
	CurrencyRef *qbRef   `json:"CurrencyRef,omitempty"`
}

// paymentType maps to QuickBooks' closed Purchase set. Debit card and
// EFT purchases are recorded as Cash against the funding account.
func paymentType(m accounting.PaymentMethod) string {
	switch m {
	case accounting.PaymentCheck:
		return "Check"
	case accounting.PaymentCreditCard:
		return "CreditCard"
	default:
		return "Cash"
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func currencyRef(code string) *qbRef {
	if code == "" {
		return nil
	}
	return &qbRef{Value: code}
}

func optRef(id string) *qbRef {
	if id == "" {
		return nil
	}
	return &qbRef{Value: id}
}

func outAddress(a *accounting.Address) *qbAddress {
	if a == nil {
		return nil
	}
	return &qbAddress{
		Line1:                  a.Line1,
		Line2:                  a.Line2,
		City:                   a.City,
		CountrySubDivisionCode: a.State,
		PostalCode:             a.PostalCode,
		Country:                a.Country,
	}
}

func buildPurchase(data accounting.ExpenseData) qbPurchase {
	p := qbPurchase{
		PaymentType: paymentType(data.PaymentMethod),
		AccountRef:  optRef(data.PaymentAccountID),
		EntityRef:   optRef(data.VendorID),
		TxnDate:     formatDate(data.TransactionDate),
		DocNumber:   data.ReferenceNumber,
		PrivateNote: data.Memo,
		CurrencyRef: currencyRef(data.Currency),
	}
	for _, l := range data.LineItems {
		detail := &qbExpenseDetail{
			AccountRef:  qbRef{Value: l.AccountID},
			ClassRef:    optRef(l.ClassID),
			CustomerRef: optRef(l.CustomerID),
			TaxCodeRef:  optRef(l.TaxCodeID),
		}
		if l.Billable {
			detail.BillableStatus = "Billable"
		}
		p.Line = append(p.Line, qbLine{
			Amount:                        l.Amount,
			DetailType:                    "AccountBasedExpenseLineDetail",
			Description:                   l.Description,
			AccountBasedExpenseLineDetail: detail,
		})
	}
	return p
}

func buildBill(data accounting.BillData) qbBill {
	b := qbBill{
		VendorRef:    qbRef{Value: data.VendorID},
		APAccountRef: optRef(data.APAccountID),
		SalesTermRef: optRef(data.Terms),
		TxnDate:      formatDate(data.TransactionDate),
		DueDate:      formatDate(data.DueDate),
		DocNumber:    data.ReferenceNumber,
		PrivateNote:  data.Memo,
		CurrencyRef:  currencyRef(data.Currency),
	}
	for _, l := range data.LineItems {
		detail := &qbExpenseDetail{
			AccountRef:  qbRef{Value: l.AccountID},
			ClassRef:    optRef(l.ClassID),
			CustomerRef: optRef(l.CustomerID),
			TaxCodeRef:  optRef(l.TaxCodeID),
		}
		if l.Billable {
			detail.BillableStatus = "Billable"
		}
		b.Line = append(b.Line, qbLine{
			Amount:                        l.Amount,
			DetailType:                    "AccountBasedExpenseLineDetail",
			Description:                   l.Description,
			AccountBasedExpenseLineDetail: detail,
		})
	}
	return b
}

func buildInvoice(data accounting.InvoiceData) qbInvoice {
	inv := qbInvoice{
		CustomerRef:  qbRef{Value: data.CustomerID},
		SalesTermRef: optRef(data.Terms),
		TxnDate:      formatDate(data.TransactionDate),
		DueDate:      formatDate(data.DueDate),
		DocNumber:    data.InvoiceNumber,
		PrivateNote:  data.Memo,
		BillAddr:     outAddress(data.BillingAddress),
		ShipAddr:     outAddress(data.ShippingAddress),
		CurrencyRef:  currencyRef(data.Currency),
	}
	if data.CustomerMessage != "" {
		inv.CustomerMemo = &qbMemo{Value: data.CustomerMessage}
	}
	if data.BillEmail != "" {
		inv.BillEmail = &qbEmail{Address: data.BillEmail}
	}
	for _, l := range data.LineItems {
		detail := &qbSalesDetail{
			ItemRef:    optRef(l.ItemID),
			ClassRef:   optRef(l.ClassID),
			TaxCodeRef: optRef(l.TaxCodeID),
		}
		if l.Quantity != 0 {
			qty := l.Quantity
			detail.Qty = &qty
		}
		if l.UnitPrice != 0 {
			price := l.UnitPrice
			detail.UnitPrice = &price
		}
		inv.Line = append(inv.Line, qbLine{
			Amount:              l.Amount,
			DetailType:          "SalesItemLineDetail",
			Description:         l.Description,
			SalesItemLineDetail: detail,
		})
	}
	return inv
}

func buildJournalEntry(data accounting.JournalEntryData) qbJournalEntry {
	je := qbJournalEntry{
		TxnDate:     formatDate(data.TransactionDate),
		DocNumber:   data.ReferenceNumber,
		PrivateNote: data.Memo,
		Adjustment:  data.Adjustment,
		CurrencyRef: currencyRef(data.Currency),
	}
	for _, l := range data.Lines {
		posting := "Debit"
		amount := 0.0
		if l.CreditAmount != nil {
			posting = "Credit"
			amount = *l.CreditAmount
		} else if l.DebitAmount != nil {
			amount = *l.DebitAmount
		}
		detail := &qbJournalDetail{
			PostingType: posting,
			AccountRef:  qbRef{Value: l.AccountID},
			ClassRef:    optRef(l.ClassID),
		}
		if l.EntityID != "" {
			detail.Entity = &qbJournalEntity{
				Type:      journalEntityType(l.EntityType),
				EntityRef: qbRef{Value: l.EntityID},
			}
		}
		je.Line = append(je.Line, qbLine{
			Amount:                 amount,
			DetailType:             "JournalEntryLineDetail",
			Description:            l.Description,
			JournalEntryLineDetail: detail,
		})
	}
	return je
}

func journalEntityType(t accounting.EntityType) string {
	if t == accounting.EntityCustomer {
		return "Customer"
	}
	return "Vendor"
}

// ----------------------------------------------------------------------
// fault handling

// faultResult converts a QuickBooks Fault rejection into an unsuccessful
// transaction result. Validation faults are flagged so callers can tell
// a bad payload from a provider hiccup.
func faultResult(perr *accounting.ProviderError) *accounting.TransactionResult {
	result := &accounting.TransactionResult{
		Success:   false,
		Error:     perr.Message,
		ErrorCode: perr.Code,
		Raw:       perr.Raw,
	}
	var fault qbFault
	if err := json.Unmarshal([]byte(perr.Raw), &fault); err == nil && len(fault.Fault.Error) > 0 {
		first := fault.Fault.Error[0]
		msg := first.Message
		if first.Detail != "" {
			msg = msg + ": " + first.Detail
		}
		result.Error = msg
		if strings.EqualFold(fault.Fault.Type, "ValidationFault") {
			result.ErrorCode = "VALIDATION"
		} else if first.Code != "" {
			result.ErrorCode = first.Code
		}
	}
	return result
}
