package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/danmuck/payrouter/internal/protocols"
	"github.com/danmuck/payrouter/internal/txn"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount      = errors.New("validate: invalid amount")
	ErrApprovalCodeLength = errors.New("validate: approval code length mismatch")
	ErrUnknownProtocol    = errors.New("validate: unknown protocol")
)

// Error reports which request field failed and why.
type Error struct {
	Field  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("validate: field=%s: %s", e.Field, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Amount parses raw as a decimal and requires it to be strictly positive.
// It never panics; any rejection is returned as an error wrapping ErrInvalidAmount.
func Amount(raw string) (decimal.Decimal, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return decimal.Zero, &Error{Field: "amount", Reason: "amount is required", Err: ErrInvalidAmount}
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, &Error{Field: "amount", Reason: fmt.Sprintf("amount %q is not numeric", raw), Err: ErrInvalidAmount}
	}
	if !d.IsPositive() {
		return decimal.Zero, &Error{Field: "amount", Reason: fmt.Sprintf("amount %s must be greater than zero", d.String()), Err: ErrInvalidAmount}
	}
	return d, nil
}

// Validator checks request shape against a protocol registry.
type Validator struct {
	registry *protocols.Registry
}

func New(registry *protocols.Registry) *Validator {
	return &Validator{registry: registry}
}

// ApprovalCode requires len(code) to equal the protocol's approval code length
// exactly. Length is counted in characters; content is not inspected.
func (v *Validator) ApprovalCode(code, protocol string) error {
	def, ok := v.registry.Lookup(protocol)
	if !ok {
		return &Error{Field: "protocol", Reason: fmt.Sprintf("unknown protocol %q", protocol), Err: ErrUnknownProtocol}
	}
	if got := utf8.RuneCountInString(code); got != def.ApprovalCodeLength {
		return &Error{
			Field:  "auth_code",
			Reason: fmt.Sprintf("approval code has %d characters, protocol requires %d", got, def.ApprovalCodeLength),
			Err:    ErrApprovalCodeLength,
		}
	}
	return nil
}

// Request runs the amount and approval code checks and returns the parsed amount.
func (v *Validator) Request(req txn.Request) (decimal.Decimal, error) {
	amount, err := Amount(req.Amount)
	if err != nil {
		return decimal.Zero, err
	}
	if err := v.ApprovalCode(req.ApprovalCode, req.Protocol); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}
