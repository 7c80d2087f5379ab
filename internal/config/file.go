package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/payrouter/internal/protocols"
	"github.com/danmuck/payrouter/internal/txn"
)

// fileConfig mirrors the TOML layout. Durations are strings.
type fileConfig struct {
	HTTPAddr     string         `toml:"http_addr" comment:"HTTP listen address for the JSON API"`
	TerminalAddr string         `toml:"terminal_addr" comment:"TCP listen address for POS terminals"`
	CORSOrigins  []string       `toml:"cors_origins"`
	AdminToken   string         `toml:"admin_token" comment:"bearer token for GET /api/v1/history; empty leaves it open"`
	Terminal     fileTerminal   `toml:"terminal"`
	Timeouts     fileTimeouts   `toml:"timeouts"`
	Ledger       fileLedger     `toml:"ledger"`
	Gateway      fileGateway    `toml:"gateway"`
	Payout       filePayout     `toml:"payout"`
	Protocols    []fileProtocol `toml:"protocols"`
}

type fileTerminal struct {
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	TLSMutual    bool   `toml:"tls_mutual"`
	TLSCertFile  string `toml:"tls_cert_file"`
	TLSKeyFile   string `toml:"tls_key_file"`
	TLSCAFile    string `toml:"tls_ca_file"`
}

type fileTimeouts struct {
	Gateway  string `toml:"gateway"`
	Payout   string `toml:"payout"`
	Ledger   string `toml:"ledger"`
	Shutdown string `toml:"shutdown"`
}

type fileLedger struct {
	Driver string `toml:"driver" comment:"memory | sqlite | badger | postgres"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

type fileGateway struct {
	Mode    string `toml:"mode" comment:"simulated | http"`
	URL     string `toml:"url"`
	APIKey  string `toml:"api_key"`
	Latency string `toml:"latency"`
}

type filePayout struct {
	ERC20 fileEVM  `toml:"erc20"`
	TRC20 fileTron `toml:"trc20"`
}

type fileEVM struct {
	Enabled       bool   `toml:"enabled"`
	RPCURL        string `toml:"rpc_url"`
	From          string `toml:"from"`
	TokenContract string `toml:"token_contract"`
	Decimals      int32  `toml:"decimals"`
	Gas           uint64 `toml:"gas"`
}

type fileTron struct {
	Enabled       bool   `toml:"enabled"`
	APIURL        string `toml:"api_url"`
	APIKey        string `toml:"api_key"`
	Owner         string `toml:"owner"`
	TokenContract string `toml:"token_contract"`
	Decimals      int32  `toml:"decimals"`
	FeeLimit      int64  `toml:"fee_limit"`
	SignerURL     string `toml:"signer_url"`
	SignerToken   string `toml:"signer_token"`
}

type fileProtocol struct {
	Name           string `toml:"name"`
	ApprovalLength int    `toml:"approval_length"`
	Settlement     string `toml:"settlement" comment:"on_ledger | off_ledger"`
}

// applyFile overlays only the keys present in path.
func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}

	str := func(dst *string, v string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(dst *time.Duration, v string, key ...string) error {
		if !meta.IsDefined(key...) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
		}
		*dst = d
		return nil
	}

	str(&cfg.HTTPAddr, raw.HTTPAddr, "http_addr")
	str(&cfg.TerminalAddr, raw.TerminalAddr, "terminal_addr")
	str(&cfg.AdminToken, raw.AdminToken, "admin_token")
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}

	if err := dur(&cfg.Terminal.ReadTimeout, raw.Terminal.ReadTimeout, "terminal", "read_timeout"); err != nil {
		return err
	}
	if err := dur(&cfg.Terminal.WriteTimeout, raw.Terminal.WriteTimeout, "terminal", "write_timeout"); err != nil {
		return err
	}
	if meta.IsDefined("terminal", "tls_enabled") {
		cfg.Terminal.TLS.Enabled = raw.Terminal.TLSEnabled
	}
	if meta.IsDefined("terminal", "tls_mutual") {
		cfg.Terminal.TLS.Mutual = raw.Terminal.TLSMutual
	}
	str(&cfg.Terminal.TLS.CertFile, raw.Terminal.TLSCertFile, "terminal", "tls_cert_file")
	str(&cfg.Terminal.TLS.KeyFile, raw.Terminal.TLSKeyFile, "terminal", "tls_key_file")
	str(&cfg.Terminal.TLS.CAFile, raw.Terminal.TLSCAFile, "terminal", "tls_ca_file")

	for _, d := range []struct {
		dst *time.Duration
		v   string
		key string
	}{
		{&cfg.Timeouts.Gateway, raw.Timeouts.Gateway, "gateway"},
		{&cfg.Timeouts.Payout, raw.Timeouts.Payout, "payout"},
		{&cfg.Timeouts.Ledger, raw.Timeouts.Ledger, "ledger"},
		{&cfg.Timeouts.Shutdown, raw.Timeouts.Shutdown, "shutdown"},
	} {
		if err := dur(d.dst, d.v, "timeouts", d.key); err != nil {
			return err
		}
	}

	if meta.IsDefined("ledger", "driver") {
		cfg.Ledger.Driver = strings.ToLower(strings.TrimSpace(raw.Ledger.Driver))
	}
	str(&cfg.Ledger.Path, raw.Ledger.Path, "ledger", "path")
	str(&cfg.Ledger.DSN, raw.Ledger.DSN, "ledger", "dsn")

	if meta.IsDefined("gateway", "mode") {
		cfg.Gateway.Mode = strings.ToLower(strings.TrimSpace(raw.Gateway.Mode))
	}
	str(&cfg.Gateway.URL, raw.Gateway.URL, "gateway", "url")
	str(&cfg.Gateway.APIKey, raw.Gateway.APIKey, "gateway", "api_key")
	if err := dur(&cfg.Gateway.Latency, raw.Gateway.Latency, "gateway", "latency"); err != nil {
		return err
	}

	erc := raw.Payout.ERC20
	if meta.IsDefined("payout", "erc20", "enabled") {
		cfg.Payout.ERC20.Enabled = erc.Enabled
	}
	str(&cfg.Payout.ERC20.RPCURL, erc.RPCURL, "payout", "erc20", "rpc_url")
	str(&cfg.Payout.ERC20.From, erc.From, "payout", "erc20", "from")
	str(&cfg.Payout.ERC20.TokenContract, erc.TokenContract, "payout", "erc20", "token_contract")
	if meta.IsDefined("payout", "erc20", "decimals") {
		cfg.Payout.ERC20.Decimals = erc.Decimals
	}
	if meta.IsDefined("payout", "erc20", "gas") {
		cfg.Payout.ERC20.Gas = erc.Gas
	}

	trc := raw.Payout.TRC20
	if meta.IsDefined("payout", "trc20", "enabled") {
		cfg.Payout.TRC20.Enabled = trc.Enabled
	}
	str(&cfg.Payout.TRC20.APIURL, trc.APIURL, "payout", "trc20", "api_url")
	str(&cfg.Payout.TRC20.APIKey, trc.APIKey, "payout", "trc20", "api_key")
	str(&cfg.Payout.TRC20.Owner, trc.Owner, "payout", "trc20", "owner")
	str(&cfg.Payout.TRC20.TokenContract, trc.TokenContract, "payout", "trc20", "token_contract")
	if meta.IsDefined("payout", "trc20", "decimals") {
		cfg.Payout.TRC20.Decimals = trc.Decimals
	}
	if meta.IsDefined("payout", "trc20", "fee_limit") {
		cfg.Payout.TRC20.FeeLimit = trc.FeeLimit
	}
	str(&cfg.Payout.TRC20.SignerURL, trc.SignerURL, "payout", "trc20", "signer_url")
	str(&cfg.Payout.TRC20.SignerToken, trc.SignerToken, "payout", "trc20", "signer_token")

	if meta.IsDefined("protocols") {
		defs, err := protocolDefinitions(raw.Protocols)
		if err != nil {
			return err
		}
		cfg.Protocols = defs
	}
	return nil
}

func protocolDefinitions(entries []fileProtocol) ([]protocols.Definition, error) {
	defs := make([]protocols.Definition, 0, len(entries))
	for i, entry := range entries {
		class, ok := txn.ParseSettlementClass(entry.Settlement)
		if !ok {
			return nil, fmt.Errorf("%w: protocols[%d] unknown settlement %q", ErrInvalidConfig, i, entry.Settlement)
		}
		defs = append(defs, protocols.Definition{
			Name:               strings.TrimSpace(entry.Name),
			ApprovalCodeLength: entry.ApprovalLength,
			Settlement:         class,
		})
	}
	return defs, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
