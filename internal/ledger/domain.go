package ledger

import (
	"time"

	"github.com/odyssey-erp/stockledger/internal/valuation"
)

// Key identifies the ledger chain of one item in one warehouse.
type Key struct {
	ItemCode  string `json:"item_code"`
	Warehouse string `json:"warehouse"`
}

func (k Key) String() string {
	return k.ItemCode + "@" + k.Warehouse
}

// Point is a position in a chain. Entries are ordered by PostedAt, then Creation.
type Point struct {
	PostedAt time.Time `json:"posted_at"`
	Creation time.Time `json:"creation,omitempty"`
}

// Before reports whether p sorts strictly before o.
func (p Point) Before(o Point) bool {
	if !p.PostedAt.Equal(o.PostedAt) {
		return p.PostedAt.Before(o.PostedAt)
	}
	return p.Creation.Before(o.Creation)
}

// Entry is a stock ledger entry: one signed movement of an item in a warehouse.
type Entry struct {
	ID                       string          `json:"id"`
	ItemCode                 string          `json:"item_code" validate:"required"`
	Warehouse                string          `json:"warehouse" validate:"required"`
	Company                  string          `json:"company"`
	PostedAt                 time.Time       `json:"posted_at" validate:"required"`
	Creation                 time.Time       `json:"creation"`
	VoucherType              VoucherType     `json:"voucher_type" validate:"required"`
	VoucherNo                string          `json:"voucher_no" validate:"required"`
	VoucherDetailNo          string          `json:"voucher_detail_no"`
	DependantVoucherDetailNo string          `json:"dependant_voucher_detail_no,omitempty"`
	ActualQty                float64         `json:"actual_qty"`
	IncomingRate             float64         `json:"incoming_rate" validate:"gte=0"`
	OutgoingRate             float64         `json:"outgoing_rate" validate:"gte=0"`
	ValuationRate            float64         `json:"valuation_rate"`
	QtyAfterTransaction      float64         `json:"qty_after_transaction"`
	StockValue               float64         `json:"stock_value"`
	StockValueDifference     float64         `json:"stock_value_difference"`
	StockQueue               valuation.Queue `json:"stock_queue,omitempty"`
	SerialNos                []string        `json:"serial_nos,omitempty"`
	BatchNo                  string          `json:"batch_no,omitempty"`
	IsCancelled              bool            `json:"is_cancelled"`
	RecalculateRate          bool            `json:"recalculate_rate"`
	AllowZeroValuationRate   bool            `json:"allow_zero_valuation_rate"`
	// PreviousQtyAfterTransaction is the balance a reconciliation replaced at submit time.
	PreviousQtyAfterTransaction *float64 `json:"previous_qty_after_transaction,omitempty"`
}

// Key returns the chain the entry belongs to.
func (e Entry) Key() Key {
	return Key{ItemCode: e.ItemCode, Warehouse: e.Warehouse}
}

// Point returns the ordering position of the entry.
func (e Entry) Point() Point {
	return Point{PostedAt: e.PostedAt, Creation: e.Creation}
}

// Ref returns the voucher that produced the entry.
func (e Entry) Ref() VoucherRef {
	return VoucherRef{Type: e.VoucherType, No: e.VoucherNo}
}

// Bin is the cached current balance of one item in one warehouse.
type Bin struct {
	ItemCode      string    `json:"item_code"`
	Warehouse     string    `json:"warehouse"`
	ActualQty     float64   `json:"actual_qty"`
	ValuationRate float64   `json:"valuation_rate"`
	StockValue    float64   `json:"stock_value"`
	ReservedQty   float64   `json:"reserved_qty"`
	OrderedQty    float64   `json:"ordered_qty"`
	RequestedQty  float64   `json:"requested_qty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Key returns the chain the bin summarises.
func (b Bin) Key() Key {
	return Key{ItemCode: b.ItemCode, Warehouse: b.Warehouse}
}

// Item carries the item master attributes the valuation engine consumes.
type Item struct {
	Code               string           `json:"code"`
	ValuationMethod    valuation.Method `json:"valuation_method"`
	ValuationRate      float64          `json:"valuation_rate"`
	StandardRate       float64          `json:"standard_rate"`
	AllowNegativeStock bool             `json:"allow_negative_stock"`
	IsStockItem        bool             `json:"is_stock_item"`
}

// Batch carries batch master attributes.
type Batch struct {
	No                    string `json:"no"`
	ItemCode              string `json:"item_code"`
	UseBatchwiseValuation bool   `json:"use_batchwise_valuation"`
}

// SerialNo carries serial number master attributes.
type SerialNo struct {
	No           string  `json:"no"`
	ItemCode     string  `json:"item_code"`
	Company      string  `json:"company"`
	PurchaseRate float64 `json:"purchase_rate"`
}

// VoucherLine is the originating document line of an entry. Rate sources read
// dynamic rates from it and write realized outgoing rates back to it.
type VoucherLine struct {
	VoucherType              VoucherType `json:"voucher_type"`
	VoucherNo                string      `json:"voucher_no"`
	DetailNo                 string      `json:"detail_no"`
	ItemCode                 string      `json:"item_code"`
	Company                  string      `json:"company"`
	Qty                      float64     `json:"qty"`
	Rate                     float64     `json:"rate"`
	ValuationRate            float64     `json:"valuation_rate"`
	IncomingRate             float64     `json:"incoming_rate"`
	CurrentQty               float64     `json:"current_qty"`
	CurrentValuationRate     float64     `json:"current_valuation_rate"`
	AllowZeroValuationRate   bool        `json:"allow_zero_valuation_rate"`
	IsReturn                 bool        `json:"is_return"`
	ReturnAgainstDetailNo    string      `json:"return_against_detail_no"`
	InternalTransferDetailNo string      `json:"internal_transfer_detail_no"`
	IsFinishedItem           bool        `json:"is_finished_item"`
	IsInternalSupplier       bool        `json:"is_internal_supplier"`
}

// Ref returns the voucher the line belongs to.
func (l VoucherLine) Ref() VoucherRef {
	return VoucherRef{Type: l.VoucherType, No: l.VoucherNo}
}
