// Package router orchestrates one transaction from validation through
// settlement to its ledger record. Both channel adapters share a Router.
//
// A request moves RECEIVED -> VALIDATED -> CLASSIFIED -> SETTLED -> PERSISTED
// and ends in one of four outcomes. Every request that passes validation is
// appended to the ledger exactly once, whether settlement succeeded or not.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/payrouter/internal/gateway"
	"github.com/danmuck/payrouter/internal/ledger"
	"github.com/danmuck/payrouter/internal/observability"
	"github.com/danmuck/payrouter/internal/protocols"
	"github.com/danmuck/payrouter/internal/settlement"
	"github.com/danmuck/payrouter/internal/txn"
	"github.com/danmuck/payrouter/internal/validate"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	StatusDeclined = "declined"
	StatusError    = "error"

	MessageValidationFailed = "Validation failed"
	MessagePayoutInitiated  = "Payout initiated"
	MessageInternalError    = "Internal Server Error"

	ReasonGatewayTimeout = "gateway timed out"

	DefaultGatewayTimeout = 10 * time.Second
	DefaultLedgerTimeout  = 5 * time.Second

	tracerName = "github.com/danmuck/payrouter/internal/router"
)

var (
	ErrPersist  = errors.New("router: ledger append failed")
	ErrInternal = errors.New("router: internal fault")
)

type Outcome int

const (
	Declined Outcome = iota + 1
	Settled
	SettlementFailed
	PersistFailed
)

func (o Outcome) String() string {
	switch o {
	case Declined:
		return "declined"
	case Settled:
		return "settled"
	case SettlementFailed:
		return "settlement_failed"
	case PersistFailed:
		return "persist_failed"
	default:
		return "unknown"
	}
}

// Result is what an adapter needs to answer the caller.
type Result struct {
	Outcome        Outcome
	Status         string
	Message        string
	Reason         string
	SettlementType string
	TransactionID  string
	TxHash         string
	Record         txn.Record
	Err            error
}

// Payouts is the dispatcher contract the router depends on.
type Payouts interface {
	Dispatch(ctx context.Context, network txn.Network, destination string, amount decimal.Decimal) txn.PayoutResult
}

type Options struct {
	GatewayTimeout time.Duration
	LedgerTimeout  time.Duration
}

type Router struct {
	validator  *validate.Validator
	classifier *settlement.Classifier
	gateway    gateway.Provider
	payouts    Payouts
	ledger     ledger.Ledger
	opts       Options
	tracer     trace.Tracer
}

func New(registry *protocols.Registry, gw gateway.Provider, payouts Payouts, l ledger.Ledger, opts Options) *Router {
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = DefaultGatewayTimeout
	}
	if opts.LedgerTimeout <= 0 {
		opts.LedgerTimeout = DefaultLedgerTimeout
	}
	return &Router{
		validator:  validate.New(registry),
		classifier: settlement.NewClassifier(registry),
		gateway:    gw,
		payouts:    payouts,
		ledger:     l,
		opts:       opts,
		tracer:     otel.Tracer(tracerName),
	}
}

// Process runs req to completion. It never panics and never returns a
// success outcome unless the record was persisted.
func (r *Router) Process(ctx context.Context, req txn.Request) (res Result) {
	ctx, span := r.tracer.Start(ctx, "router.Process", trace.WithAttributes(
		attribute.String("payrouter.protocol", req.Protocol),
		attribute.String("payrouter.channel", string(req.Channel)),
	))
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("protocol", req.Protocol).Msg("router_panic")
			res = Result{
				Outcome: PersistFailed,
				Status:  StatusError,
				Message: MessageInternalError,
				Err:     fmt.Errorf("%w: %v", ErrInternal, p),
			}
		}
		r.finish(span, req, res, time.Since(start))
	}()

	amount, err := r.validator.Request(req)
	if err != nil {
		return declined(err)
	}
	class, err := r.classifier.Classify(req)
	if err != nil {
		return declined(err)
	}

	var rec txn.Record
	switch class {
	case txn.OnLedger:
		res, rec = r.settleGateway(ctx, req, amount)
	case txn.OffLedger:
		res, rec = r.settlePayout(ctx, req, amount)
	default:
		return declined(fmt.Errorf("router: unhandled settlement class %q", class))
	}

	persisted, err := r.persist(ctx, rec)
	if err != nil {
		return Result{
			Outcome:        PersistFailed,
			Status:         StatusError,
			Message:        MessageInternalError,
			Reason:         err.Error(),
			SettlementType: rec.SettlementType,
			Err:            fmt.Errorf("%w: %v", ErrPersist, err),
		}
	}
	res.Record = persisted
	return res
}

func declined(err error) Result {
	reason := err.Error()
	var verr *validate.Error
	if errors.As(err, &verr) {
		reason = verr.Field + ": " + verr.Reason
	}
	return Result{
		Outcome: Declined,
		Status:  StatusDeclined,
		Message: MessageValidationFailed,
		Reason:  reason,
		Err:     err,
	}
}

func baseRecord(req txn.Request, amount decimal.Decimal) txn.Record {
	return txn.Record{
		Protocol:     req.Protocol,
		Amount:       amount.String(),
		ApprovalCode: req.ApprovalCode,
		Channel:      req.Channel,
	}
}

func (r *Router) settleGateway(ctx context.Context, req txn.Request, amount decimal.Decimal) (Result, txn.Record) {
	rec := baseRecord(req, amount)
	rec.SettlementType = txn.SettlementGateway

	start := time.Now()
	gw, err := r.authorize(ctx, gateway.Charge{
		Protocol:     req.Protocol,
		Amount:       amount,
		ApprovalCode: req.ApprovalCode,
		CardNumber:   req.CardNumber,
	})
	observability.RecordSettlement(txn.SettlementGateway, time.Since(start))
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonGatewayTimeout
		}
		gw = txn.GatewayResult{Status: StatusError, FailureReason: reason}
	}

	rec.Status = gw.Status
	rec.TransactionID = gw.TransactionID
	res := Result{
		Outcome:        SettlementFailed,
		Status:         gw.Status,
		Reason:         gw.FailureReason,
		SettlementType: txn.SettlementGateway,
		TransactionID:  gw.TransactionID,
	}
	if gw.Approved() {
		res.Outcome = Settled
	}
	return res, rec
}

func (r *Router) authorize(ctx context.Context, charge gateway.Charge) (res txn.GatewayResult, err error) {
	if r.gateway == nil {
		return txn.GatewayResult{}, errors.New("router: no gateway configured")
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.GatewayTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("gateway panic: %v", p)
		}
	}()
	res, err = r.gateway.Authorize(ctx, charge)
	if err == nil && res.Status == "" {
		err = errors.New("gateway returned no status")
	}
	return res, err
}

func (r *Router) settlePayout(ctx context.Context, req txn.Request, amount decimal.Decimal) (Result, txn.Record) {
	rec := baseRecord(req, amount)
	rec.SettlementType = txn.SettlementPayout
	// Unsupported labels are caller input of any length; only known networks are recorded.
	if req.PayoutNetwork.Supported() {
		rec.Network = req.PayoutNetwork
	}

	start := time.Now()
	pr := r.dispatch(ctx, req, amount)
	observability.RecordSettlement(txn.SettlementPayout, time.Since(start))

	rec.Status = pr.WireStatus()
	rec.TxHash = txn.OptionalString(pr.TxHash)
	res := Result{
		Outcome:        SettlementFailed,
		Status:         pr.WireStatus(),
		Message:        MessagePayoutInitiated,
		Reason:         pr.FailureReason,
		SettlementType: txn.SettlementPayout,
		TxHash:         pr.TxHash,
	}
	if pr.OK() {
		res.Outcome = Settled
	}
	return res, rec
}

func (r *Router) dispatch(ctx context.Context, req txn.Request, amount decimal.Decimal) (pr txn.PayoutResult) {
	if r.payouts == nil {
		return txn.PayoutFailed("no payout dispatcher configured")
	}
	defer func() {
		if p := recover(); p != nil {
			pr = txn.PayoutFailed(fmt.Sprintf("payout panic: %v", p))
		}
	}()
	pr = r.payouts.Dispatch(ctx, req.PayoutNetwork, req.Destination, amount)
	if pr.OK() && pr.TxHash == "" {
		return txn.PayoutFailed("payout reported success without a transaction hash")
	}
	if !pr.OK() {
		pr.TxHash = ""
		if pr.FailureReason == "" {
			pr.FailureReason = "payout failed"
		}
	}
	return pr
}

func (r *Router) persist(ctx context.Context, rec txn.Record) (out txn.Record, err error) {
	if r.ledger == nil {
		return txn.Record{}, errors.New("no ledger configured")
	}
	// Settlement already happened; a canceled caller must not skip the record.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.LedgerTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("ledger panic: %v", p)
		}
	}()
	return r.ledger.Append(ctx, rec)
}

func (r *Router) finish(span trace.Span, req txn.Request, res Result, elapsed time.Duration) {
	defer span.End()
	span.SetAttributes(
		attribute.String("payrouter.outcome", res.Outcome.String()),
		attribute.String("payrouter.settlement", res.SettlementType),
		attribute.String("payrouter.status", res.Status),
	)
	if res.Outcome != Settled {
		span.SetStatus(codes.Error, res.Outcome.String())
	}
	observability.RecordTransaction(string(req.Channel), res.SettlementType, res.Status)

	event := log.Info()
	switch res.Outcome {
	case Declined:
		event = log.Warn()
	case SettlementFailed:
		event = log.Warn()
	case PersistFailed:
		event = log.Error().Err(res.Err)
	}
	event.
		Str("channel", string(req.Channel)).
		Str("protocol", req.Protocol).
		Str("card", txn.MaskPAN(req.CardNumber)).
		Str("outcome", res.Outcome.String()).
		Str("settlement", res.SettlementType).
		Str("status", res.Status).
		Str("reason", res.Reason).
		Str("record_id", res.Record.ID).
		Dur("elapsed", elapsed).
		Msg("transaction_processed")
}
