package parser

import (
	"fmt"
	"time"
)

// RawAccount is the account block of an interchange statement
type RawAccount struct {
	institutionID string // e.g., "ANZ", from the signon FI block
	accountID     string // From file
	accountType   string // "checking", "savings", "credit", "investment"
	currency      string
}

// InstitutionID returns the institution identifier
func (r *RawAccount) InstitutionID() string { return r.institutionID }

// AccountID returns the account identifier
func (r *RawAccount) AccountID() string { return r.accountID }

// AccountType returns the account type
func (r *RawAccount) AccountType() string { return r.accountType }

// Currency returns the statement currency, empty when not declared
func (r *RawAccount) Currency() string { return r.currency }

// SetCurrency sets the statement currency
func (r *RawAccount) SetCurrency(currency string) {
	r.currency = currency
}

// NewRawAccount creates a validated raw account.
// The institution ID is optional; many exports omit the FI block.
func NewRawAccount(institutionID, accountID, accountType string) (*RawAccount, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	if accountType == "" {
		return nil, fmt.Errorf("account type cannot be empty for account %s", accountID)
	}

	return &RawAccount{
		institutionID: institutionID,
		accountID:     accountID,
		accountType:   accountType,
	}, nil
}

// Period represents the statement period
type Period struct {
	start time.Time
	end   time.Time
}

// Start returns the period start time
func (p *Period) Start() time.Time { return p.start }

// End returns the period end time
func (p *Period) End() time.Time { return p.end }

// Contains returns true if the given time falls within the period (inclusive)
func (p *Period) Contains(t time.Time) bool {
	return !t.Before(p.start) && !t.After(p.end)
}

// NewPeriod creates a validated period
func NewPeriod(start, end time.Time) (*Period, error) {
	if start.IsZero() {
		return nil, fmt.Errorf("start time cannot be zero")
	}
	if end.IsZero() {
		return nil, fmt.Errorf("end time cannot be zero")
	}
	if end.Before(start) {
		return nil, fmt.Errorf("start must not be after end")
	}

	return &Period{
		start: start,
		end:   end,
	}, nil
}
