package valuation

import (
	"errors"
	"fmt"
	"strings"
)

// Method enumerates the supported valuation methods.
type Method string

const (
	// MethodFIFO consumes the oldest lots first.
	MethodFIFO Method = "FIFO"
	// MethodLIFO consumes the newest lots first.
	MethodLIFO Method = "LIFO"
	// MethodMovingAverage keeps a single weighted average rate.
	MethodMovingAverage Method = "Moving Average"
)

// ErrUnknownMethod indicates an unsupported valuation method.
var ErrUnknownMethod = errors.New("valuation: unknown method")

// ParseMethod converts user input into a Method. Empty input defaults to FIFO.
func ParseMethod(raw string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "FIFO":
		return MethodFIFO, nil
	case "LIFO":
		return MethodLIFO, nil
	case "MOVING AVERAGE", "MOVING_AVERAGE", "MOVINGAVERAGE":
		return MethodMovingAverage, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, raw)
}

// UsesQueue reports whether the method keeps a lot queue.
func (m Method) UsesQueue() bool {
	return m == MethodFIFO || m == MethodLIFO
}
