package accounting

import (
	"errors"
	"math"
	"time"
)

// Validation errors shared by the transaction intents.
var (
	ErrMissingAccount     = errors.New("account id is required")
	ErrMissingVendor      = errors.New("vendor id is required")
	ErrMissingCustomer    = errors.New("customer id is required")
	ErrNoLineItems        = errors.New("at least one line item is required")
	ErrUnbalancedJournal  = errors.New("journal entry lines must balance: total debits must equal total credits")
	ErrDebitAndCredit     = errors.New("journal line must carry exactly one of debit or credit amount")
	ErrNeitherDebitCredit = errors.New("journal line carries neither debit nor credit amount")
)

// PaymentMethod for expense transactions.
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "cash"
	PaymentCheck      PaymentMethod = "check"
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentDebitCard  PaymentMethod = "debit_card"
	PaymentEFT        PaymentMethod = "eft"
)

// ExpenseData describes an expense/purchase to create, independent of any
// provider's native shape.
type ExpenseData struct {
	PaymentAccountID string        `json:"paymentAccountId"`
	VendorID         string        `json:"vendorId,omitempty"`
	TransactionDate  time.Time     `json:"transactionDate"`
	TotalAmount      float64       `json:"totalAmount"`
	Currency         string        `json:"currency,omitempty"`
	PaymentMethod    PaymentMethod `json:"paymentMethod,omitempty"`
	ReferenceNumber  string        `json:"referenceNumber,omitempty"`
	Memo             string        `json:"memo,omitempty"`
	LineItems        []ExpenseLine `json:"lineItems"`
}

// ExpenseLine is one line of an expense.
type ExpenseLine struct {
	AccountID   string  `json:"accountId"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	ClassID     string  `json:"classId,omitempty"`
	CustomerID  string  `json:"customerId,omitempty"`
	Billable    bool    `json:"billable,omitempty"`
	TaxCodeID   string  `json:"taxCodeId,omitempty"`
}

// Validate checks the fields that can be rejected before any network call.
func (d ExpenseData) Validate() error {
	if d.PaymentAccountID == "" {
		return ErrMissingAccount
	}
	if len(d.LineItems) == 0 {
		return ErrNoLineItems
	}
	for _, line := range d.LineItems {
		if line.AccountID == "" {
			return ErrMissingAccount
		}
	}
	return nil
}

// BillData describes an accounts-payable bill to create.
type BillData struct {
	VendorID        string     `json:"vendorId"`
	TransactionDate time.Time  `json:"transactionDate"`
	DueDate         time.Time  `json:"dueDate,omitempty"`
	TotalAmount     float64    `json:"totalAmount"`
	Currency        string     `json:"currency,omitempty"`
	ReferenceNumber string     `json:"referenceNumber,omitempty"`
	Memo            string     `json:"memo,omitempty"`
	APAccountID     string     `json:"apAccountId,omitempty"`
	LineItems       []BillLine `json:"lineItems"`
	Terms           string     `json:"terms,omitempty"`
}

// BillLine is one line of a bill.
type BillLine struct {
	AccountID   string  `json:"accountId"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity,omitempty"`
	UnitPrice   float64 `json:"unitPrice,omitempty"`
	ClassID     string  `json:"classId,omitempty"`
	CustomerID  string  `json:"customerId,omitempty"`
	Billable    bool    `json:"billable,omitempty"`
	TaxCodeID   string  `json:"taxCodeId,omitempty"`
}

func (d BillData) Validate() error {
	if d.VendorID == "" {
		return ErrMissingVendor
	}
	if len(d.LineItems) == 0 {
		return ErrNoLineItems
	}
	for _, line := range d.LineItems {
		if line.AccountID == "" {
			return ErrMissingAccount
		}
	}
	return nil
}

// InvoiceData describes an accounts-receivable invoice to create.
type InvoiceData struct {
	CustomerID      string        `json:"customerId"`
	TransactionDate time.Time     `json:"transactionDate"`
	DueDate         time.Time     `json:"dueDate,omitempty"`
	TotalAmount     float64       `json:"totalAmount"`
	Currency        string        `json:"currency,omitempty"`
	InvoiceNumber   string        `json:"invoiceNumber,omitempty"`
	Memo            string        `json:"memo,omitempty"`
	CustomerMessage string        `json:"customerMessage,omitempty"`
	LineItems       []InvoiceLine `json:"lineItems"`
	Terms           string        `json:"terms,omitempty"`
	BillingAddress  *Address      `json:"billingAddress,omitempty"`
	ShippingAddress *Address      `json:"shippingAddress,omitempty"`
	BillEmail       string        `json:"billEmail,omitempty"`
}

// InvoiceLine is one line of an invoice. Either ItemID (inventory item) or
// AccountID (direct income account) identifies what is being sold.
type InvoiceLine struct {
	ItemID          string  `json:"itemId,omitempty"`
	AccountID       string  `json:"accountId,omitempty"`
	Description     string  `json:"description,omitempty"`
	Quantity        float64 `json:"quantity,omitempty"`
	UnitPrice       float64 `json:"unitPrice,omitempty"`
	Amount          float64 `json:"amount"`
	ClassID         string  `json:"classId,omitempty"`
	TaxCodeID       string  `json:"taxCodeId,omitempty"`
	DiscountPercent float64 `json:"discountPercent,omitempty"`
}

func (d InvoiceData) Validate() error {
	if d.CustomerID == "" {
		return ErrMissingCustomer
	}
	if len(d.LineItems) == 0 {
		return ErrNoLineItems
	}
	return nil
}

// JournalEntryData describes a journal entry to create. The line set must
// net to zero: total debits equal total credits.
type JournalEntryData struct {
	TransactionDate time.Time     `json:"transactionDate"`
	ReferenceNumber string        `json:"referenceNumber,omitempty"`
	Memo            string        `json:"memo,omitempty"`
	Lines           []JournalLine `json:"lines"`
	Currency        string        `json:"currency,omitempty"`
	Adjustment      bool          `json:"adjustment,omitempty"`
}

// EntityType tags the optional entity reference on a journal line.
type EntityType string

const (
	EntityCustomer EntityType = "customer"
	EntityVendor   EntityType = "vendor"
)

// JournalLine is one side of a journal entry. Exactly one of DebitAmount
// or CreditAmount must be set.
type JournalLine struct {
	AccountID    string     `json:"accountId"`
	DebitAmount  *float64   `json:"debitAmount,omitempty"`
	CreditAmount *float64   `json:"creditAmount,omitempty"`
	Description  string     `json:"description,omitempty"`
	EntityID     string     `json:"entityId,omitempty"`
	EntityType   EntityType `json:"entityType,omitempty"`
	ClassID      string     `json:"classId,omitempty"`
	LocationID   string     `json:"locationId,omitempty"`
}

// balanceTolerance absorbs float rounding when comparing debit and credit
// totals; amounts are currency values with two decimal places.
const balanceTolerance = 0.005

// Validate enforces the journal balance invariant: every line carries
// exactly one of debit or credit, and the totals match to the cent.
func (d JournalEntryData) Validate() error {
	if len(d.Lines) == 0 {
		return ErrNoLineItems
	}
	var debits, credits float64
	for _, line := range d.Lines {
		if line.AccountID == "" {
			return ErrMissingAccount
		}
		switch {
		case line.DebitAmount != nil && line.CreditAmount != nil:
			return ErrDebitAndCredit
		case line.DebitAmount == nil && line.CreditAmount == nil:
			return ErrNeitherDebitCredit
		case line.DebitAmount != nil:
			debits += *line.DebitAmount
		default:
			credits += *line.CreditAmount
		}
	}
	if math.Abs(debits-credits) > balanceTolerance {
		return ErrUnbalancedJournal
	}
	return nil
}

// TransactionResult is the outcome of a create operation. Provider-side
// rejections come back as Success=false with a code and message rather
// than an error, so callers can surface them to users.
type TransactionResult struct {
	Success        bool     `json:"success"`
	ExternalID     string   `json:"externalId,omitempty"`
	DocumentNumber string   `json:"documentNumber,omitempty"`
	Error          string   `json:"error,omitempty"`
	ErrorCode      string   `json:"errorCode,omitempty"`
	Raw            string   `json:"-"`
	Warnings       []string `json:"warnings,omitempty"`
}
