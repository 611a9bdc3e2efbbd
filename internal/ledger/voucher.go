package ledger

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
)

// VoucherType identifies the kind of document that produced a ledger entry.
type VoucherType uint8

const (
	VoucherUnknown VoucherType = iota
	VoucherPurchaseReceipt
	VoucherPurchaseInvoice
	VoucherDeliveryNote
	VoucherSalesInvoice
	VoucherStockEntry
	VoucherStockReconciliation
	VoucherSubcontractingReceipt
)

var voucherTypeNames = [...]string{
	VoucherUnknown:               "",
	VoucherPurchaseReceipt:       "Purchase Receipt",
	VoucherPurchaseInvoice:       "Purchase Invoice",
	VoucherDeliveryNote:          "Delivery Note",
	VoucherSalesInvoice:          "Sales Invoice",
	VoucherStockEntry:            "Stock Entry",
	VoucherStockReconciliation:   "Stock Reconciliation",
	VoucherSubcontractingReceipt: "Subcontracting Receipt",
}

// ErrUnknownVoucherType indicates an unsupported voucher type name.
var ErrUnknownVoucherType = errors.New("ledger: unknown voucher type")

// VoucherTypes lists every supported voucher type.
func VoucherTypes() []VoucherType {
	return []VoucherType{
		VoucherPurchaseReceipt,
		VoucherPurchaseInvoice,
		VoucherDeliveryNote,
		VoucherSalesInvoice,
		VoucherStockEntry,
		VoucherStockReconciliation,
		VoucherSubcontractingReceipt,
	}
}

// ParseVoucherType maps a display name such as "Stock Entry" to its VoucherType.
func ParseVoucherType(name string) (VoucherType, error) {
	trimmed := strings.TrimSpace(name)
	for _, vt := range VoucherTypes() {
		if strings.EqualFold(voucherTypeNames[vt], trimmed) {
			return vt, nil
		}
	}
	return VoucherUnknown, fmt.Errorf("%w: %q", ErrUnknownVoucherType, name)
}

func (v VoucherType) String() string {
	if int(v) < len(voucherTypeNames) {
		return voucherTypeNames[v]
	}
	return fmt.Sprintf("VoucherType(%d)", uint8(v))
}

// Valid reports whether v names a supported voucher type.
func (v VoucherType) Valid() bool {
	return v > VoucherUnknown && int(v) < len(voucherTypeNames)
}

// IsReconciliation reports whether entries of this type assert balances.
func (v VoucherType) IsReconciliation() bool {
	return v == VoucherStockReconciliation
}

// MarshalText implements encoding.TextMarshaler.
func (v VoucherType) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *VoucherType) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*v = VoucherUnknown
		return nil
	}
	parsed, err := ParseVoucherType(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Value implements driver.Valuer so the type persists as its display name.
func (v VoucherType) Value() (driver.Value, error) {
	return v.String(), nil
}

// Scan implements sql.Scanner.
func (v *VoucherType) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		*v = VoucherUnknown
		return nil
	case string:
		return v.UnmarshalText([]byte(s))
	case []byte:
		return v.UnmarshalText(s)
	}
	return fmt.Errorf("ledger: cannot scan %T into VoucherType", src)
}

// VoucherRef references a voucher document.
type VoucherRef struct {
	Type VoucherType `json:"voucher_type"`
	No   string      `json:"voucher_no"`
}

func (r VoucherRef) String() string {
	return r.Type.String() + " " + r.No
}

// IsZero reports whether the reference is empty.
func (r VoucherRef) IsZero() bool {
	return r.Type == VoucherUnknown && r.No == ""
}
