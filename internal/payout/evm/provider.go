// Package evm pays out ERC-20 tokens through an Ethereum JSON-RPC node.
//
// Transactions are submitted with eth_sendTransaction so the node (or the
// signer it fronts) holds the sender key; nothing is signed in-process.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/payrouter/internal/payout"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"
)

const DefaultDecimals int32 = 18

const erc20TransferABI = `[{"type":"function","name":"transfer","stateMutability":"nonpayable",` +
	`"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],` +
	`"outputs":[{"name":"","type":"bool"}]}]`

var erc20 = mustParseABI(erc20TransferABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("evm: parse abi: %v", err))
	}
	return parsed
}

var (
	ErrInvalidAddress = errors.New("evm: invalid address")
	ErrInvalidConfig  = errors.New("evm: invalid provider config")
)

type Config struct {
	RPCURL        string
	From          string
	TokenContract string
	Decimals      int32
	// Gas is sent as a hex quantity when non-zero; otherwise the node estimates.
	Gas        uint64
	HTTPClient *http.Client
}

type Provider struct {
	rpc      *rpcClient
	from     string
	token    string
	decimals int32
	gas      uint64
}

func New(cfg Config) (*Provider, error) {
	url := strings.TrimSpace(cfg.RPCURL)
	if url == "" {
		return nil, fmt.Errorf("%w: rpc url is required", ErrInvalidConfig)
	}
	if err := ValidateAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("%w: sender: %v", ErrInvalidConfig, err)
	}
	if err := ValidateAddress(cfg.TokenContract); err != nil {
		return nil, fmt.Errorf("%w: token contract: %v", ErrInvalidConfig, err)
	}
	decimals := cfg.Decimals
	if decimals <= 0 {
		decimals = DefaultDecimals
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Provider{
		rpc:      &rpcClient{url: url, client: client},
		from:     strings.ToLower(strings.TrimSpace(cfg.From)),
		token:    strings.ToLower(strings.TrimSpace(cfg.TokenContract)),
		decimals: decimals,
		gas:      cfg.Gas,
	}, nil
}

// Payout submits token.transfer(destination, amount) from the configured sender.
func (p *Provider) Payout(ctx context.Context, transfer payout.Transfer) (payout.Receipt, error) {
	if err := ValidateAddress(transfer.Destination); err != nil {
		return payout.Receipt{}, err
	}
	units, err := payout.ToBaseUnits(transfer.Amount, p.decimals)
	if err != nil {
		return payout.Receipt{}, err
	}
	data, err := TransferCallData(transfer.Destination, units)
	if err != nil {
		return payout.Receipt{}, err
	}

	tx := map[string]string{
		"from": p.from,
		"to":   p.token,
		"data": data,
	}
	if p.gas > 0 {
		tx["gas"] = hexutil.EncodeUint64(p.gas)
	}
	result, err := p.rpc.call(ctx, "eth_sendTransaction", tx)
	if err != nil {
		return payout.Receipt{}, err
	}
	hash := strings.TrimSpace(result.String())
	if !isHexHash(hash) {
		return payout.Receipt{}, fmt.Errorf("evm: unexpected transaction hash %q", hash)
	}
	log.Info().
		Str("to", transfer.Destination).
		Str("token", p.token).
		Str("units", units.String()).
		Str("tx_hash", hash).
		Msg("erc20_transfer_sent")
	return payout.Receipt{TxHash: hash}, nil
}

// TransferCallData ABI-encodes transfer(to, amount).
func TransferCallData(to string, amount *big.Int) (string, error) {
	if err := ValidateAddress(to); err != nil {
		return "", err
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("evm: transfer amount must be positive")
	}
	if amount.BitLen() > 256 {
		return "", fmt.Errorf("evm: transfer amount overflows uint256")
	}
	data, err := erc20.Pack("transfer", common.HexToAddress(strings.TrimSpace(to)), amount)
	if err != nil {
		return "", fmt.Errorf("evm: pack transfer: %w", err)
	}
	return hexutil.Encode(data), nil
}

// ValidateAddress accepts a 0x-prefixed 20-byte hex address. Checksum casing is not enforced.
func ValidateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

func isHexHash(v string) bool {
	b, err := hexutil.Decode(v)
	return err == nil && len(b) == common.HashLength
}
