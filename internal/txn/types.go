package txn

import (
	"strings"
	"time"
)

// SettlementClass is the canonical flag on a protocol that picks the settlement path.
type SettlementClass string

const (
	OnLedger  SettlementClass = "on_ledger"
	OffLedger SettlementClass = "off_ledger"
)

func (c SettlementClass) Valid() bool {
	return c == OnLedger || c == OffLedger
}

// ParseSettlementClass accepts the config spellings of a settlement class.
func ParseSettlementClass(raw string) (SettlementClass, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on_ledger", "on-ledger", "onledger", "gateway":
		return OnLedger, true
	case "off_ledger", "off-ledger", "offledger", "payout":
		return OffLedger, true
	default:
		return "", false
	}
}

// Network identifies the token network of an off-ledger payout.
type Network string

const (
	NetworkERC20 Network = "ERC20"
	NetworkTRC20 Network = "TRC20"
)

// Supported reports whether n is a network the dispatcher can pay out on.
func (n Network) Supported() bool {
	return n == NetworkERC20 || n == NetworkTRC20
}

// NetworkFromPayoutType maps the wire payout_type label onto a Network.
// Unknown labels are carried through upper-cased so the dispatcher can reject them.
func NetworkFromPayoutType(raw string) Network {
	v := strings.ToUpper(strings.TrimSpace(raw))
	switch v {
	case "USDT-ERC-20", "USDT-ERC20", "ERC-20", "ERC20":
		return NetworkERC20
	case "USDT-TRC-20", "USDT-TRC20", "TRC-20", "TRC20":
		return NetworkTRC20
	default:
		return Network(v)
	}
}

// Channel labels the adapter a request arrived on.
type Channel string

const (
	ChannelHTTP     Channel = "http"
	ChannelTerminal Channel = "terminal"
)

// Settlement type labels written to records.
const (
	SettlementGateway = "gateway"
	SettlementPayout  = "payout"
)

// Request is the channel-agnostic unit of work handed to the router.
type Request struct {
	Protocol      string
	Amount        string
	ApprovalCode  string
	CardNumber    string
	PayoutNetwork Network
	Destination   string
	Channel       Channel
}

// PayoutStatus is the normalized outcome of a payout attempt.
type PayoutStatus string

const (
	PayoutSuccess PayoutStatus = "SUCCESS"
	PayoutFailure PayoutStatus = "FAILURE"
)

// PayoutResult carries a hash on success and a reason on failure, never both.
type PayoutResult struct {
	Status        PayoutStatus
	TxHash        string
	FailureReason string
}

func PayoutSucceeded(hash string) PayoutResult {
	return PayoutResult{Status: PayoutSuccess, TxHash: hash}
}

func PayoutFailed(reason string) PayoutResult {
	return PayoutResult{Status: PayoutFailure, FailureReason: reason}
}

func (r PayoutResult) OK() bool {
	return r.Status == PayoutSuccess
}

// WireStatus is the status label reported to callers and stored on records.
func (r PayoutResult) WireStatus() string {
	if r.OK() {
		return "success"
	}
	return "error"
}

const GatewayApproved = "approved"

// GatewayResult is the explicit outcome of an on-ledger gateway authorization.
type GatewayResult struct {
	Status        string
	TransactionID string
	FailureReason string
}

func (r GatewayResult) Approved() bool {
	return r.Status == GatewayApproved
}

// Record is the persisted, append-only outcome of one processed request.
type Record struct {
	ID             string    `json:"id"`
	Protocol       string    `json:"protocol"`
	Amount         string    `json:"amount"`
	ApprovalCode   string    `json:"auth_code"`
	SettlementType string    `json:"transaction_type"`
	Status         string    `json:"status"`
	TxHash         *string   `json:"tx_hash"`
	Timestamp      time.Time `json:"timestamp"`
	Channel        Channel   `json:"channel,omitempty"`
	Network        Network   `json:"network,omitempty"`
	TransactionID  string    `json:"transaction_id,omitempty"`
}

// Hash returns the payout hash or "" when none was recorded.
func (r Record) Hash() string {
	if r.TxHash == nil {
		return ""
	}
	return *r.TxHash
}

// OptionalString returns nil for empty values so JSON renders null.
func OptionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
