package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides holds PAYROUTER_* variables. Nil pointers mean unset.
type envOverrides struct {
	HTTPAddr     *string  `env:"PAYROUTER_HTTP_ADDR"`
	TerminalAddr *string  `env:"PAYROUTER_TERMINAL_ADDR"`
	CORSOrigins  []string `env:"PAYROUTER_CORS_ORIGINS" envSeparator:","`
	AdminToken   *string  `env:"PAYROUTER_ADMIN_TOKEN"`

	TerminalTLSEnabled *bool   `env:"PAYROUTER_TERMINAL_TLS_ENABLED"`
	TerminalTLSMutual  *bool   `env:"PAYROUTER_TERMINAL_TLS_MUTUAL"`
	TerminalTLSCert    *string `env:"PAYROUTER_TERMINAL_TLS_CERT_FILE"`
	TerminalTLSKey     *string `env:"PAYROUTER_TERMINAL_TLS_KEY_FILE"`
	TerminalTLSCA      *string `env:"PAYROUTER_TERMINAL_TLS_CA_FILE"`

	GatewayTimeout *time.Duration `env:"PAYROUTER_GATEWAY_TIMEOUT"`
	PayoutTimeout  *time.Duration `env:"PAYROUTER_PAYOUT_TIMEOUT"`
	LedgerTimeout  *time.Duration `env:"PAYROUTER_LEDGER_TIMEOUT"`

	LedgerDriver *string `env:"PAYROUTER_LEDGER_DRIVER"`
	LedgerPath   *string `env:"PAYROUTER_LEDGER_PATH"`
	LedgerDSN    *string `env:"PAYROUTER_LEDGER_DSN"`

	GatewayMode   *string `env:"PAYROUTER_GATEWAY_MODE"`
	GatewayURL    *string `env:"PAYROUTER_GATEWAY_URL"`
	GatewayAPIKey *string `env:"PAYROUTER_GATEWAY_API_KEY"`

	ERC20Enabled *bool   `env:"PAYROUTER_ERC20_ENABLED"`
	ERC20RPCURL  *string `env:"PAYROUTER_ERC20_RPC_URL"`
	ERC20From    *string `env:"PAYROUTER_ERC20_FROM"`

	TRC20Enabled     *bool   `env:"PAYROUTER_TRC20_ENABLED"`
	TRC20APIKey      *string `env:"PAYROUTER_TRC20_API_KEY"`
	TRC20Owner       *string `env:"PAYROUTER_TRC20_OWNER"`
	TRC20SignerURL   *string `env:"PAYROUTER_TRC20_SIGNER_URL"`
	TRC20SignerToken *string `env:"PAYROUTER_TRC20_SIGNER_TOKEN"`
}

// applyEnv overlays set variables. A nil environ reads the process environment.
func applyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setStr(&cfg.HTTPAddr, o.HTTPAddr)
	setStr(&cfg.TerminalAddr, o.TerminalAddr)
	setStr(&cfg.AdminToken, o.AdminToken)
	if o.CORSOrigins != nil {
		cfg.CORSOrigins = normalizeList(o.CORSOrigins)
	}

	setBool(&cfg.Terminal.TLS.Enabled, o.TerminalTLSEnabled)
	setBool(&cfg.Terminal.TLS.Mutual, o.TerminalTLSMutual)
	setStr(&cfg.Terminal.TLS.CertFile, o.TerminalTLSCert)
	setStr(&cfg.Terminal.TLS.KeyFile, o.TerminalTLSKey)
	setStr(&cfg.Terminal.TLS.CAFile, o.TerminalTLSCA)

	setDur(&cfg.Timeouts.Gateway, o.GatewayTimeout)
	setDur(&cfg.Timeouts.Payout, o.PayoutTimeout)
	setDur(&cfg.Timeouts.Ledger, o.LedgerTimeout)

	if o.LedgerDriver != nil {
		cfg.Ledger.Driver = strings.ToLower(strings.TrimSpace(*o.LedgerDriver))
	}
	setStr(&cfg.Ledger.Path, o.LedgerPath)
	setStr(&cfg.Ledger.DSN, o.LedgerDSN)

	if o.GatewayMode != nil {
		cfg.Gateway.Mode = strings.ToLower(strings.TrimSpace(*o.GatewayMode))
	}
	setStr(&cfg.Gateway.URL, o.GatewayURL)
	setStr(&cfg.Gateway.APIKey, o.GatewayAPIKey)

	setBool(&cfg.Payout.ERC20.Enabled, o.ERC20Enabled)
	setStr(&cfg.Payout.ERC20.RPCURL, o.ERC20RPCURL)
	setStr(&cfg.Payout.ERC20.From, o.ERC20From)

	setBool(&cfg.Payout.TRC20.Enabled, o.TRC20Enabled)
	setStr(&cfg.Payout.TRC20.APIKey, o.TRC20APIKey)
	setStr(&cfg.Payout.TRC20.Owner, o.TRC20Owner)
	setStr(&cfg.Payout.TRC20.SignerURL, o.TRC20SignerURL)
	setStr(&cfg.Payout.TRC20.SignerToken, o.TRC20SignerToken)
	return nil
}

func setStr(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDur(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}
