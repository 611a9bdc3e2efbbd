package posting

import (
	"context"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// OperationContext carries state scoped to one logical operation, such as one
// RecordMovement call or one repost job run. It caches which chains hold
// entries of other vouchers after a voucher's posting time.
type OperationContext struct {
	mu     sync.Mutex
	future map[ledger.VoucherRef]map[ledger.Key]int
}

// NewOperationContext returns an empty context.
func NewOperationContext() *OperationContext {
	return &OperationContext{future: make(map[ledger.VoucherRef]map[ledger.Key]int)}
}

// LoadFuture counts, per chain in keys, the entries of other vouchers posted at
// or after from. The result is cached for ref; it reports whether any exist.
func (o *OperationContext) LoadFuture(ctx context.Context, tx ledger.Tx, ref ledger.VoucherRef, from time.Time, keys []ledger.Key) (bool, error) {
	o.mu.Lock()
	cached, ok := o.future[ref]
	o.mu.Unlock()
	if ok {
		return len(cached) > 0, nil
	}

	counts, err := tx.FutureEntryCounts(ctx, keys, from, ref)
	if err != nil {
		return false, err
	}
	for k, n := range counts {
		if n == 0 {
			delete(counts, k)
		}
	}

	o.mu.Lock()
	o.future[ref] = counts
	o.mu.Unlock()
	return len(counts) > 0, nil
}

// FutureExists reports whether a cached count marks future entries for key.
// Unknown vouchers report false.
func (o *OperationContext) FutureExists(ref ledger.VoucherRef, key ledger.Key) bool {
	if o == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.future[ref][key]
	return ok
}

// AnyFuture reports whether any chain of ref has future entries.
func (o *OperationContext) AnyFuture(ref ledger.VoucherRef) bool {
	if o == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.future[ref]) > 0
}
