package valuation

// State is the running valuation of one item in one warehouse.
type State struct {
	Qty   float64
	Rate  float64
	Value float64
	Queue Queue
}

// Movement is a signed quantity change together with the rates the voucher supplied.
type Movement struct {
	Qty          float64
	IncomingRate float64
	OutgoingRate float64
}

// ApplyMovingAverage folds m into s using a weighted average rate. Incoming
// stock blends into the rate; outgoing stock keeps it unless an explicit
// outgoing rate is given or the balance turns negative.
func ApplyMovingAverage(s State, m Movement, fallback RateFunc) (State, error) {
	newQty := s.Qty + m.Qty
	if newQty >= 0 {
		switch {
		case m.Qty > 0:
			if s.Qty <= 0 {
				s.Rate = m.IncomingRate
			} else {
				s.Rate = (s.Qty*s.Rate + m.Qty*m.IncomingRate) / newQty
			}
		case m.OutgoingRate != 0:
			if newQty != 0 {
				s.Rate = (s.Qty*s.Rate + m.Qty*m.OutgoingRate) / newQty
			} else {
				s.Rate = m.OutgoingRate
			}
		}
	} else {
		if s.Qty >= 0 && m.OutgoingRate != 0 {
			s.Rate = m.OutgoingRate
		}
		if s.Rate == 0 && m.Qty > 0 {
			s.Rate = m.IncomingRate
		}
		if s.Rate == 0 {
			rate, err := callRate(fallback)
			if err != nil {
				return State{}, err
			}
			s.Rate = rate
		}
	}
	s.Qty = newQty
	s.Value = s.Qty * s.Rate
	return s, nil
}

// ApplyQueue folds m into s using the lot queue of a FIFO or LIFO method.
func ApplyQueue(method Method, s State, m Movement, fallback RateFunc) (State, error) {
	s.Qty = ClampNearZero(s.Qty + m.Qty)

	_, prevValue := s.Queue.Totals()
	var queue Queue
	if m.Qty > 0 {
		queue = s.Queue.Add(m.Qty, m.IncomingRate)
	} else {
		remaining, _, err := s.Queue.Remove(method, -m.Qty, m.OutgoingRate, fallback)
		if err != nil {
			return State{}, err
		}
		queue = remaining
	}
	_, value := queue.Totals()

	s.Queue = queue
	s.Value = ClampNearZero(s.Value + value - prevValue)
	if len(s.Queue) == 0 {
		rate := m.IncomingRate
		if rate == 0 {
			rate = m.OutgoingRate
		}
		if rate == 0 {
			rate = s.Rate
		}
		s.Queue = Queue{{Qty: 0, Rate: rate}}
	}
	if s.Qty != 0 {
		s.Rate = s.Value / s.Qty
	}
	return s, nil
}

// BatchRateFunc returns the running value/qty ratio of a batch; ok is false when
// the batch holds no quantity.
type BatchRateFunc func() (rate float64, ok bool, err error)

// ApplyBatch folds m into s for a batch valued on its own average. Outgoing
// stock is valued at the batch rate, falling back when the batch is empty.
func ApplyBatch(s State, m Movement, batchRate BatchRateFunc, fallback RateFunc) (State, error) {
	s.Qty = ClampNearZero(s.Qty + m.Qty)

	var diff float64
	if m.Qty > 0 {
		diff = m.IncomingRate * m.Qty
	} else {
		rate, ok, err := batchRate()
		if err != nil {
			return State{}, err
		}
		if !ok {
			if rate, err = callRate(fallback); err != nil {
				return State{}, err
			}
		}
		diff = rate * m.Qty
	}

	s.Value = ClampNearZero(s.Value + diff)
	if s.Qty != 0 {
		s.Rate = s.Value / s.Qty
	}
	return s, nil
}

// ApplySerialized folds a serialized movement into s. valueChange is the signed
// value of the serials moved. The rate only moves while stock and value stay
// positive.
func ApplySerialized(s State, qty, valueChange float64, fallback RateFunc) (State, error) {
	newQty := s.Qty + qty
	if newQty > 0 {
		newValue := s.Qty*s.Rate + valueChange
		if newValue >= 0 {
			s.Rate = newValue / newQty
		}
	}
	if s.Rate == 0 {
		rate, err := callRate(fallback)
		if err != nil {
			return State{}, err
		}
		s.Rate = rate
	}
	s.Qty = newQty
	s.Value = s.Qty * s.Rate
	return s, nil
}

// ApplyReconciliation asserts an authoritative balance. Queue methods restart
// from a single lot holding the asserted balance.
func ApplyReconciliation(method Method, s State, qty, rate float64) State {
	s.Qty = qty
	s.Rate = rate
	s.Value = qty * rate
	if method.UsesQueue() {
		s.Queue = Queue{{Qty: qty, Rate: rate}}
	}
	return s
}
