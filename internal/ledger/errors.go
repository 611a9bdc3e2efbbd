package ledger

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	// ErrNegativeStock indicates a balance would drop below zero.
	ErrNegativeStock = errors.New("ledger: insufficient stock")
	// ErrMissingValuationRate indicates no rate could be found for a movement.
	ErrMissingValuationRate = errors.New("ledger: valuation rate missing")
	// ErrItemNotFound indicates the item master is missing.
	ErrItemNotFound = errors.New("ledger: item not found")
	// ErrInvalidEntry indicates malformed entry input.
	ErrInvalidEntry = errors.New("ledger: invalid entry")
)

var printer = message.NewPrinter(language.English)

// Shortfall describes one deficient balance.
type Shortfall struct {
	ItemCode   string
	Warehouse  string
	BatchNo    string
	Deficiency float64
	PostedAt   time.Time
	Voucher    VoucherRef
	// Current marks a shortfall caused by the voucher being saved.
	Current bool
}

// Message renders the shortfall for end users.
func (s Shortfall) Message() string {
	subject := s.ItemCode
	if s.BatchNo != "" {
		subject = "batch " + s.BatchNo
	}
	if s.Current || s.Voucher.IsZero() {
		return printer.Sprintf("%v units of %s needed in %s to complete this transaction.", s.Deficiency, subject, s.Warehouse)
	}
	return printer.Sprintf("%v units of %s needed in %s on %s %s for %s %s to complete this transaction.",
		s.Deficiency, subject, s.Warehouse,
		s.PostedAt.Format("2006-01-02"), s.PostedAt.Format("15:04:05"),
		s.Voucher.Type.String(), s.Voucher.No)
}

// NegativeStockError aggregates every shortfall found in one pass.
type NegativeStockError struct {
	Shortfalls []Shortfall
}

func (e *NegativeStockError) Error() string {
	if e == nil || len(e.Shortfalls) == 0 {
		return ErrNegativeStock.Error()
	}
	msgs := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		msgs = append(msgs, s.Message())
	}
	return strings.Join(msgs, "\n\n")
}

// Is matches ErrNegativeStock.
func (e *NegativeStockError) Is(target error) bool {
	return target == ErrNegativeStock
}

// MissingValuationRateError is raised when a movement cannot be valued.
type MissingValuationRateError struct {
	ItemCode string
	Voucher  VoucherRef
}

func (e *MissingValuationRateError) Error() string {
	return printer.Sprintf("Valuation Rate for the Item %s, is required to do accounting entries for %s %s. "+
		"Enable 'Allow Zero Valuation Rate' on the line if the item moves at zero value; otherwise create an "+
		"incoming stock transaction or set a valuation rate on the item, then cancel and resubmit the voucher.",
		e.ItemCode, e.Voucher.Type.String(), e.Voucher.No)
}

// Is matches ErrMissingValuationRate.
func (e *MissingValuationRateError) Is(target error) bool {
	return target == ErrMissingValuationRate
}
