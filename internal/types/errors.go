package types

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited marks a feed or channel response asking the caller to slow down.
	ErrRateLimited = errors.New("rate limited")
	// ErrNonRetryable marks an HTTP failure that another attempt will not fix.
	ErrNonRetryable = errors.New("non-retryable response")
)

// InvalidItemError describes a raw feed entry dropped before it entered the pipeline.
type InvalidItemError struct {
	Ticker  string
	Reason  string
	Details map[string]interface{}
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("invalid item for %s: %s", e.Ticker, e.Reason)
}

func NewInvalidItemError(ticker, reason string) *InvalidItemError {
	return &InvalidItemError{
		Ticker:  ticker,
		Reason:  reason,
		Details: make(map[string]interface{}),
	}
}

func (e *InvalidItemError) WithDetail(key string, value interface{}) *InvalidItemError {
	e.Details[key] = value
	return e
}
