// Package gateway authorizes on-ledger transactions against an external
// payment gateway.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/danmuck/payrouter/internal/txn"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Charge is the payload sent to the gateway for one authorization.
type Charge struct {
	Protocol     string          `json:"protocol"`
	Amount       decimal.Decimal `json:"amount"`
	ApprovalCode string          `json:"auth_code"`
	CardNumber   string          `json:"card_number"`
}

// Provider authorizes a charge. A declined charge is a result, not an error;
// errors are reserved for transport and protocol faults.
type Provider interface {
	Authorize(ctx context.Context, charge Charge) (txn.GatewayResult, error)
}

// Simulated approves every charge after an optional delay.
type Simulated struct {
	Latency time.Duration
}

func (s Simulated) Authorize(ctx context.Context, charge Charge) (txn.GatewayResult, error) {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return txn.GatewayResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	id := NewTransactionID()
	log.Debug().
		Str("protocol", charge.Protocol).
		Str("amount", charge.Amount.String()).
		Str("card", txn.MaskPAN(charge.CardNumber)).
		Str("transaction_id", id).
		Msg("simulated_gateway_approved")
	return txn.GatewayResult{Status: txn.GatewayApproved, TransactionID: id}, nil
}

// NewTransactionID returns a gateway reference of the form txn_<32 hex>.
func NewTransactionID() string {
	return "txn_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
