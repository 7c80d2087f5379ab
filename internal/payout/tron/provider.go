// Package tron pays out TRC-20 tokens through the TronGrid HTTP API.
package tron

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/payrouter/internal/payout"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	DefaultAPIURL         = "https://api.trongrid.io"
	DefaultDecimals int32 = 6
	DefaultFeeLimit int64 = 100_000_000

	transferFunction = "transfer(address,uint256)"
	apiKeyHeader     = "TRON-PRO-API-KEY"
	maxResponseBytes = 1 << 20
)

var (
	ErrInvalidConfig = errors.New("tron: invalid provider config")
	ErrTrigger       = errors.New("tron: trigger contract failed")
	ErrBroadcast     = errors.New("tron: broadcast failed")
)

type Config struct {
	APIURL        string
	APIKey        string
	Owner         string
	TokenContract string
	Decimals      int32
	FeeLimit      int64
	Signer        Signer
	HTTPClient    *http.Client
}

type Provider struct {
	baseURL  string
	apiKey   string
	owner    string
	token    string
	decimals int32
	feeLimit int64
	signer   Signer
	client   *http.Client
}

func New(cfg Config) (*Provider, error) {
	if _, err := DecodeAddress(cfg.Owner); err != nil {
		return nil, fmt.Errorf("%w: owner: %v", ErrInvalidConfig, err)
	}
	if _, err := DecodeAddress(cfg.TokenContract); err != nil {
		return nil, fmt.Errorf("%w: token contract: %v", ErrInvalidConfig, err)
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("%w: signer is required", ErrInvalidConfig)
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if base == "" {
		base = DefaultAPIURL
	}
	decimals := cfg.Decimals
	if decimals <= 0 {
		decimals = DefaultDecimals
	}
	feeLimit := cfg.FeeLimit
	if feeLimit <= 0 {
		feeLimit = DefaultFeeLimit
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Provider{
		baseURL:  base,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		owner:    strings.TrimSpace(cfg.Owner),
		token:    strings.TrimSpace(cfg.TokenContract),
		decimals: decimals,
		feeLimit: feeLimit,
		signer:   cfg.Signer,
		client:   client,
	}, nil
}

type triggerRequest struct {
	OwnerAddress     string `json:"owner_address"`
	ContractAddress  string `json:"contract_address"`
	FunctionSelector string `json:"function_selector"`
	Parameter        string `json:"parameter"`
	FeeLimit         int64  `json:"fee_limit"`
	CallValue        int64  `json:"call_value"`
	Visible          bool   `json:"visible"`
}

// Payout triggers token.transfer(destination, amount), has the signer sign it
// and broadcasts the signed transaction. The returned hash is the txID.
func (p *Provider) Payout(ctx context.Context, transfer payout.Transfer) (payout.Receipt, error) {
	dest, err := DecodeAddress(transfer.Destination)
	if err != nil {
		return payout.Receipt{}, err
	}
	units, err := payout.ToBaseUnits(transfer.Amount, p.decimals)
	if err != nil {
		return payout.Receipt{}, err
	}
	param, err := TransferParameter(dest, units)
	if err != nil {
		return payout.Receipt{}, err
	}

	triggered, err := p.post(ctx, "/wallet/triggersmartcontract", triggerRequest{
		OwnerAddress:     p.owner,
		ContractAddress:  p.token,
		FunctionSelector: transferFunction,
		Parameter:        param,
		FeeLimit:         p.feeLimit,
		Visible:          true,
	})
	if err != nil {
		return payout.Receipt{}, fmt.Errorf("%w: %v", ErrTrigger, err)
	}
	if !triggered.Get("result.result").Bool() {
		return payout.Receipt{}, fmt.Errorf("%w: %s", ErrTrigger, nodeMessage(triggered.Get("result.message").String(), triggered.Get("result.code").String()))
	}
	tx := triggered.Get("transaction")
	txID := tx.Get("txID").String()
	if !tx.Exists() || txID == "" {
		return payout.Receipt{}, fmt.Errorf("%w: response carries no transaction", ErrTrigger)
	}

	signed, err := p.signer.Sign(ctx, []byte(tx.Raw))
	if err != nil {
		return payout.Receipt{}, err
	}

	broadcast, err := p.post(ctx, "/wallet/broadcasttransaction", json.RawMessage(signed))
	if err != nil {
		return payout.Receipt{}, fmt.Errorf("%w: %v", ErrBroadcast, err)
	}
	if !broadcast.Get("result").Bool() {
		return payout.Receipt{}, fmt.Errorf("%w: %s", ErrBroadcast, nodeMessage(broadcast.Get("message").String(), broadcast.Get("code").String()))
	}
	if id := broadcast.Get("txid").String(); id != "" {
		txID = id
	}
	log.Info().
		Str("to", transfer.Destination).
		Str("token", p.token).
		Str("units", units.String()).
		Str("tx_hash", txID).
		Msg("trc20_transfer_broadcast")
	return payout.Receipt{TxHash: txID}, nil
}

// TransferParameter ABI-encodes the (address,uint256) arguments without a selector.
// dest is the 21-byte decoded address; the 0x41 prefix is dropped.
func TransferParameter(dest []byte, amount *big.Int) (string, error) {
	if len(dest) != addressLen {
		return "", fmt.Errorf("%w: decoded length %d", ErrInvalidAddress, len(dest))
	}
	if amount == nil || amount.Sign() <= 0 || amount.BitLen() > 256 {
		return "", fmt.Errorf("tron: transfer amount out of range")
	}
	words, err := transferArgs.Pack(common.BytesToAddress(dest[1:]), amount)
	if err != nil {
		return "", fmt.Errorf("tron: pack transfer: %w", err)
	}
	return hex.EncodeToString(words), nil
}

// transferArgs is the (address,uint256) argument list TRC-20 shares with ERC-20.
var transferArgs = func() abi.Arguments {
	addressT, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uintT, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Name: "to", Type: addressT}, {Name: "value", Type: uintT}}
}()

func (p *Provider) post(ctx context.Context, path string, payload any) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set(apiKeyHeader, p.apiKey)
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, err
	}
	log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("trongrid_call")
	if resp.StatusCode >= http.StatusBadRequest {
		return gjson.Result{}, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("non-json response from %s", path)
	}
	return gjson.ParseBytes(raw), nil
}

// nodeMessage decodes TronGrid's hex-encoded error messages when possible.
func nodeMessage(msg, code string) string {
	if decoded, err := hex.DecodeString(msg); err == nil && len(decoded) > 0 {
		msg = string(decoded)
	}
	switch {
	case msg != "" && code != "":
		return code + ": " + msg
	case msg != "":
		return msg
	case code != "":
		return code
	default:
		return "unknown node error"
	}
}
