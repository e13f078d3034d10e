package apperr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies ledger failures.
type Kind uint

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindNotFound
	KindInsufficientHoldings
	KindInsufficientAvailableCapital
	KindInsufficientCash
	KindUnsupportedEntryKind
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindNotFound:
		return "NOT_FOUND"
	case KindInsufficientHoldings:
		return "INSUFFICIENT_HOLDINGS"
	case KindInsufficientAvailableCapital:
		return "INSUFFICIENT_AVAILABLE_CAPITAL"
	case KindInsufficientCash:
		return "INSUFFICIENT_CASH"
	case KindUnsupportedEntryKind:
		return "UNSUPPORTED_ENTRY_KIND"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Shortfall describes a money check that did not pass.
type Shortfall struct {
	Available decimal.Decimal `json:"available"`
	Required  decimal.Decimal `json:"required"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

// Error is the error type returned by the ledger engine.
type Error struct {
	Kind      Kind
	Message   string
	Details   map[string]interface{}
	Shortfall *Shortfall
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidArgument              = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrNotFound                     = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInsufficientHoldings         = &Error{Kind: KindInsufficientHoldings, Message: "insufficient holdings"}
	ErrInsufficientAvailableCapital = &Error{Kind: KindInsufficientAvailableCapital, Message: "insufficient available capital"}
	ErrInsufficientCash             = &Error{Kind: KindInsufficientCash, Message: "insufficient cash"}
	ErrUnsupportedEntryKind         = &Error{Kind: KindUnsupportedEntryKind, Message: "unsupported entry kind"}
)

func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err, Details: map[string]interface{}{}}
}

// WithDetails merges context into the error.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

func InvalidArgument(format string, args ...interface{}) *Error {
	return New(KindInvalidArgument, fmt.Sprintf(format, args...), nil)
}

func NotFound(what string, id interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf("%s not found: %v", what, id), nil).
		WithDetails(map[string]interface{}{"resource": what, "id": id})
}

func InsufficientHoldings(available, requested int64) *Error {
	return New(KindInsufficientHoldings,
		fmt.Sprintf("sell quantity %d exceeds open quantity %d", requested, available), nil).
		WithDetails(map[string]interface{}{"available": available, "requested": requested})
}

func InsufficientAvailableCapital(available, required decimal.Decimal) *Error {
	e := New(KindInsufficientAvailableCapital,
		fmt.Sprintf("buy cost %s exceeds available capital %s", required.StringFixed(2), available.StringFixed(2)), nil)
	e.Shortfall = newShortfall(available, required)
	return e
}

func InsufficientCash(available, required decimal.Decimal) *Error {
	e := New(KindInsufficientCash,
		fmt.Sprintf("debit %s exceeds cash balance %s", required.StringFixed(2), available.StringFixed(2)), nil)
	e.Shortfall = newShortfall(available, required)
	return e
}

func UnsupportedEntryKind(kind string) *Error {
	return New(KindUnsupportedEntryKind, fmt.Sprintf("unsupported ledger entry kind %q", kind), nil).
		WithDetails(map[string]interface{}{"kind": kind})
}

func newShortfall(available, required decimal.Decimal) *Shortfall {
	return &Shortfall{Available: available, Required: required, Shortfall: required.Sub(available)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ShortfallOf returns the shortfall carried by err, if any.
func ShortfallOf(err error) (*Shortfall, bool) {
	var e *Error
	if errors.As(err, &e) && e.Shortfall != nil {
		return e.Shortfall, true
	}
	return nil, false
}
