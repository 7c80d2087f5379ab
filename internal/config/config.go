// Package config loads payrouter settings: defaults, then a TOML file, then
// PAYROUTER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/payrouter/internal/protocols"
	"github.com/danmuck/payrouter/internal/txn"
)

var ErrInvalidConfig = errors.New("config: invalid")

const (
	LedgerMemory   = "memory"
	LedgerSQLite   = "sqlite"
	LedgerBadger   = "badger"
	LedgerPostgres = "postgres"

	GatewaySimulated = "simulated"
	GatewayHTTP      = "http"
)

type Config struct {
	HTTPAddr     string
	TerminalAddr string
	CORSOrigins  []string
	AdminToken   string
	Terminal     TerminalConfig
	Timeouts     Timeouts
	Ledger       LedgerConfig
	Gateway      GatewayConfig
	Payout       PayoutConfig
	Protocols    []protocols.Definition
}

type TerminalConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          TLSConfig
}

type TLSConfig struct {
	Enabled  bool
	Mutual   bool
	CertFile string
	KeyFile  string
	CAFile   string
}

type Timeouts struct {
	Gateway  time.Duration
	Payout   time.Duration
	Ledger   time.Duration
	Shutdown time.Duration
}

type LedgerConfig struct {
	Driver string
	Path   string
	DSN    string
}

type GatewayConfig struct {
	Mode    string
	URL     string
	APIKey  string
	Latency time.Duration
}

type PayoutConfig struct {
	ERC20 EVMConfig
	TRC20 TronConfig
}

type EVMConfig struct {
	Enabled       bool
	RPCURL        string
	From          string
	TokenContract string
	Decimals      int32
	Gas           uint64
}

type TronConfig struct {
	Enabled       bool
	APIURL        string
	APIKey        string
	Owner         string
	TokenContract string
	Decimals      int32
	FeeLimit      int64
	SignerURL     string
	SignerToken   string
}

func DefaultConfig() Config {
	return Config{
		HTTPAddr:     ":5000",
		TerminalAddr: ":9000",
		CORSOrigins:  []string{"*"},
		Terminal: TerminalConfig{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Timeouts: Timeouts{
			Gateway:  10 * time.Second,
			Payout:   30 * time.Second,
			Ledger:   5 * time.Second,
			Shutdown: 10 * time.Second,
		},
		Ledger: LedgerConfig{
			Driver: LedgerSQLite,
			Path:   "payrouter.db",
		},
		Gateway: GatewayConfig{Mode: GatewaySimulated},
		Payout: PayoutConfig{
			ERC20: EVMConfig{
				TokenContract: "0xdAC17F958D2ee523a2206206994597C13D831ec7",
				Decimals:      18,
				Gas:           200000,
			},
			TRC20: TronConfig{
				APIURL:        "https://api.trongrid.io",
				TokenContract: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
				Decimals:      6,
				FeeLimit:      100_000_000,
			},
		},
		Protocols: protocols.DefaultDefinitions(),
	}
}

// Load reads path (optional) over DefaultConfig, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	return load(path, nil)
}

func load(path string, environ map[string]string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, environ); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return fmt.Errorf("%w: http_addr is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.TerminalAddr) == "" {
		return fmt.Errorf("%w: terminal_addr is required", ErrInvalidConfig)
	}

	switch cfg.Ledger.Driver {
	case LedgerMemory:
	case LedgerSQLite, LedgerBadger:
		if strings.TrimSpace(cfg.Ledger.Path) == "" {
			return fmt.Errorf("%w: ledger.path is required for %s", ErrInvalidConfig, cfg.Ledger.Driver)
		}
	case LedgerPostgres:
		if strings.TrimSpace(cfg.Ledger.DSN) == "" {
			return fmt.Errorf("%w: ledger.dsn is required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown ledger driver %q", ErrInvalidConfig, cfg.Ledger.Driver)
	}

	switch cfg.Gateway.Mode {
	case GatewaySimulated:
	case GatewayHTTP:
		if strings.TrimSpace(cfg.Gateway.URL) == "" {
			return fmt.Errorf("%w: gateway.url is required for http mode", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown gateway mode %q", ErrInvalidConfig, cfg.Gateway.Mode)
	}

	for name, d := range map[string]time.Duration{
		"timeouts.gateway":       cfg.Timeouts.Gateway,
		"timeouts.payout":        cfg.Timeouts.Payout,
		"timeouts.ledger":        cfg.Timeouts.Ledger,
		"timeouts.shutdown":      cfg.Timeouts.Shutdown,
		"terminal.read_timeout":  cfg.Terminal.ReadTimeout,
		"terminal.write_timeout": cfg.Terminal.WriteTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}

	if cfg.Payout.ERC20.Enabled && (cfg.Payout.ERC20.Decimals < 0 || cfg.Payout.ERC20.Decimals > 36) {
		return fmt.Errorf("%w: payout.erc20.decimals out of range", ErrInvalidConfig)
	}
	if cfg.Payout.TRC20.Enabled && (cfg.Payout.TRC20.Decimals < 0 || cfg.Payout.TRC20.Decimals > 36) {
		return fmt.Errorf("%w: payout.trc20.decimals out of range", ErrInvalidConfig)
	}

	if _, err := protocols.New(cfg.Protocols); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Registry builds the protocol registry from the configured table.
func (c Config) Registry() (*protocols.Registry, error) {
	return protocols.New(c.Protocols)
}

// EnabledNetworks lists the payout networks with a configured provider.
func (c Config) EnabledNetworks() []txn.Network {
	var out []txn.Network
	if c.Payout.ERC20.Enabled {
		out = append(out, txn.NetworkERC20)
	}
	if c.Payout.TRC20.Enabled {
		out = append(out, txn.NetworkTRC20)
	}
	return out
}
