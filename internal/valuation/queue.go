package valuation

// Lot is a quantity held at a single rate.
type Lot struct {
	Qty  float64 `json:"qty"`
	Rate float64 `json:"rate"`
}

// Queue is the ordered lot history used by FIFO and LIFO valuation. The head is
// the oldest lot.
type Queue []Lot

// RateFunc supplies a rate when a movement cannot be valued from its own data.
type RateFunc func() (float64, error)

// Clone returns an independent copy of the queue.
func (q Queue) Clone() Queue {
	if q == nil {
		return nil
	}
	out := make(Queue, len(q))
	copy(out, q)
	return out
}

// Totals returns the summed quantity and value of all lots.
func (q Queue) Totals() (qty, value float64) {
	for _, lot := range q {
		qty += lot.Qty
		value += lot.Qty * lot.Rate
	}
	return qty, value
}

// Add receives qty at rate. A trailing negative lot is filled first; a trailing
// lot at the same rate is merged.
func (q Queue) Add(qty, rate float64) Queue {
	out := q.Clone()
	n := len(out)
	switch {
	case n > 0 && out[n-1].Qty <= 0:
		out[n-1].Qty += qty
		if out[n-1].Qty > 0 {
			out[n-1].Rate = rate
		}
	case n > 0 && out[n-1].Rate == rate:
		out[n-1].Qty += qty
	default:
		out = append(out, Lot{Qty: qty, Rate: rate})
	}
	for i := range out {
		out[i].Qty = ClampNearZero(out[i].Qty)
	}
	return out
}

// Remove consumes qty according to method and returns the remaining queue with
// the consumed lots. When the queue runs dry the shortfall is kept as a negative
// lot valued at outgoingRate, or at the last consumed rate. An empty queue asks
// fallback for a rate.
func (q Queue) Remove(method Method, qty, outgoingRate float64, fallback RateFunc) (Queue, []Lot, error) {
	if method == MethodLIFO {
		return q.removeLIFO(qty, outgoingRate, fallback)
	}
	return q.removeFIFO(qty, outgoingRate, fallback)
}

func (q Queue) removeFIFO(qty, outgoingRate float64, fallback RateFunc) (Queue, []Lot, error) {
	out := q.Clone()
	var consumed []Lot
	for qty != 0 {
		if len(out) == 0 {
			rate, err := callRate(fallback)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, Lot{Qty: 0, Rate: rate})
		}

		index := 0
		if outgoingRate > 0 {
			index = -1
			for i, lot := range out {
				if lot.Rate == outgoingRate {
					index = i
					break
				}
			}
			if index < 0 {
				totalQty, totalValue := out.Totals()
				newQty := totalQty - qty
				newValue := totalValue - qty*outgoingRate
				newRate := outgoingRate
				if newQty > 0 {
					newRate = newValue / newQty
				}
				out = Queue{{Qty: newQty, Rate: newRate}}
				consumed = append(consumed, Lot{Qty: qty, Rate: outgoingRate})
				break
			}
		}

		lot := out[index]
		if qty >= lot.Qty {
			qty = ClampNearZero(qty - lot.Qty)
			out = append(out[:index], out[index+1:]...)
			consumed = append(consumed, lot)
			if len(out) == 0 && qty != 0 {
				rate := lot.Rate
				if outgoingRate != 0 {
					rate = outgoingRate
				}
				out = append(out, Lot{Qty: -qty, Rate: rate})
				consumed = append(consumed, Lot{Qty: qty, Rate: rate})
				break
			}
			continue
		}
		out[index].Qty = ClampNearZero(lot.Qty - qty)
		consumed = append(consumed, Lot{Qty: qty, Rate: lot.Rate})
		qty = 0
	}
	return out, consumed, nil
}

func (q Queue) removeLIFO(qty, outgoingRate float64, fallback RateFunc) (Queue, []Lot, error) {
	out := q.Clone()
	var consumed []Lot
	for qty != 0 {
		if len(out) == 0 {
			rate, err := callRate(fallback)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, Lot{Qty: 0, Rate: rate})
		}
		last := len(out) - 1
		lot := out[last]
		if qty >= lot.Qty {
			qty = ClampNearZero(qty - lot.Qty)
			out = out[:last]
			consumed = append(consumed, lot)
			if len(out) == 0 && qty != 0 {
				rate := lot.Rate
				if outgoingRate != 0 {
					rate = outgoingRate
				}
				out = append(out, Lot{Qty: -qty, Rate: rate})
				consumed = append(consumed, Lot{Qty: qty, Rate: rate})
				break
			}
			continue
		}
		out[last].Qty = ClampNearZero(lot.Qty - qty)
		consumed = append(consumed, Lot{Qty: qty, Rate: lot.Rate})
		qty = 0
	}
	return out, consumed, nil
}

func callRate(fn RateFunc) (float64, error) {
	if fn == nil {
		return 0, nil
	}
	return fn()
}
