package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/payrouter/internal/txn"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	ReasonUnsupportedType = "unsupported payout type"
	ReasonTimeout         = "payout timed out"
	ReasonEmptyHash       = "payout provider returned no transaction hash"

	DefaultTimeout = 30 * time.Second
)

var ErrMissingDestination = errors.New("payout: destination address is required")

// Transfer is one payout instruction handed to a network capability.
type Transfer struct {
	Destination string
	Amount      decimal.Decimal
}

// Receipt is what a network capability reports after broadcast.
type Receipt struct {
	TxHash string
}

// Provider converts units, builds, signs (or delegates signing) and broadcasts
// one transfer on a specific token network.
type Provider interface {
	Payout(ctx context.Context, transfer Transfer) (Receipt, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, transfer Transfer) (Receipt, error)

func (f ProviderFunc) Payout(ctx context.Context, transfer Transfer) (Receipt, error) {
	return f(ctx, transfer)
}

// Dispatcher routes payouts by network and normalizes every outcome into a
// txn.PayoutResult. Provider errors, timeouts and panics never escape it.
type Dispatcher struct {
	providers map[txn.Network]Provider
	timeout   time.Duration
}

// NewDispatcher copies providers; the set is fixed for the dispatcher's lifetime.
func NewDispatcher(providers map[txn.Network]Provider, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	copied := make(map[txn.Network]Provider, len(providers))
	for network, p := range providers {
		if p == nil {
			continue
		}
		copied[network] = p
	}
	return &Dispatcher{providers: copied, timeout: timeout}
}

// Supports reports whether a provider is registered for network.
func (d *Dispatcher) Supports(network txn.Network) bool {
	_, ok := d.providers[network]
	return ok
}

type outcome struct {
	receipt Receipt
	err     error
}

// await waits for the provider or for ctx to end. An outcome that is already
// buffered when ctx ends still wins, so a broadcast transfer keeps its hash.
func await(ctx context.Context, done <-chan outcome) (outcome, error) {
	select {
	case out := <-done:
		return out, nil
	case <-ctx.Done():
		select {
		case out := <-done:
			return out, nil
		default:
			return outcome{}, ctx.Err()
		}
	}
}

// Dispatch sends amount to destination on network.
func (d *Dispatcher) Dispatch(ctx context.Context, network txn.Network, destination string, amount decimal.Decimal) txn.PayoutResult {
	provider, ok := d.providers[network]
	if !ok {
		log.Warn().Str("network", string(network)).Msg("payout rejected: unsupported payout type")
		return txn.PayoutFailed(ReasonUnsupportedType)
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return txn.PayoutFailed(ErrMissingDestination.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("payout: provider panic: %v", r)}
			}
		}()
		receipt, err := provider.Payout(ctx, Transfer{Destination: destination, Amount: amount})
		done <- outcome{receipt: receipt, err: err}
	}()

	out, err := await(ctx, done)
	if err != nil {
		log.Error().
			Str("network", string(network)).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("payout timed out")
		if errors.Is(err, context.DeadlineExceeded) {
			return txn.PayoutFailed(ReasonTimeout)
		}
		return txn.PayoutFailed(err.Error())
	}
	if out.err != nil {
		log.Error().
			Str("network", string(network)).
			Dur("elapsed", time.Since(start)).
			Err(out.err).
			Msg("payout failed")
		return txn.PayoutFailed(out.err.Error())
	}
	hash := strings.TrimSpace(out.receipt.TxHash)
	if hash == "" {
		return txn.PayoutFailed(ReasonEmptyHash)
	}
	log.Info().
		Str("network", string(network)).
		Str("tx_hash", hash).
		Dur("elapsed", time.Since(start)).
		Msg("payout broadcast")
	return txn.PayoutSucceeded(hash)
}
