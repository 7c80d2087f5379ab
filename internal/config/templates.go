package config

import (
	"fmt"
	"os"

	"github.com/danmuck/payrouter/internal/txn"
	gotoml "github.com/pelletier/go-toml/v2"
)

// Template renders DefaultConfig as a TOML file that Load accepts unchanged.
func Template() (string, error) {
	raw := toFile(DefaultConfig())
	out, err := gotoml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return string(out), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(cfg Config) fileConfig {
	protocols := make([]fileProtocol, 0, len(cfg.Protocols))
	for _, def := range cfg.Protocols {
		settlement := "on_ledger"
		if def.Settlement == txn.OffLedger {
			settlement = "off_ledger"
		}
		protocols = append(protocols, fileProtocol{
			Name:           def.Name,
			ApprovalLength: def.ApprovalCodeLength,
			Settlement:     settlement,
		})
	}
	return fileConfig{
		HTTPAddr:     cfg.HTTPAddr,
		TerminalAddr: cfg.TerminalAddr,
		CORSOrigins:  cfg.CORSOrigins,
		AdminToken:   cfg.AdminToken,
		Terminal: fileTerminal{
			ReadTimeout:  cfg.Terminal.ReadTimeout.String(),
			WriteTimeout: cfg.Terminal.WriteTimeout.String(),
			TLSEnabled:   cfg.Terminal.TLS.Enabled,
			TLSMutual:    cfg.Terminal.TLS.Mutual,
			TLSCertFile:  cfg.Terminal.TLS.CertFile,
			TLSKeyFile:   cfg.Terminal.TLS.KeyFile,
			TLSCAFile:    cfg.Terminal.TLS.CAFile,
		},
		Timeouts: fileTimeouts{
			Gateway:  cfg.Timeouts.Gateway.String(),
			Payout:   cfg.Timeouts.Payout.String(),
			Ledger:   cfg.Timeouts.Ledger.String(),
			Shutdown: cfg.Timeouts.Shutdown.String(),
		},
		Ledger: fileLedger{
			Driver: cfg.Ledger.Driver,
			Path:   cfg.Ledger.Path,
			DSN:    cfg.Ledger.DSN,
		},
		Gateway: fileGateway{
			Mode:    cfg.Gateway.Mode,
			URL:     cfg.Gateway.URL,
			APIKey:  cfg.Gateway.APIKey,
			Latency: cfg.Gateway.Latency.String(),
		},
		Payout: filePayout{
			ERC20: fileEVM{
				Enabled:       cfg.Payout.ERC20.Enabled,
				RPCURL:        cfg.Payout.ERC20.RPCURL,
				From:          cfg.Payout.ERC20.From,
				TokenContract: cfg.Payout.ERC20.TokenContract,
				Decimals:      cfg.Payout.ERC20.Decimals,
				Gas:           cfg.Payout.ERC20.Gas,
			},
			TRC20: fileTron{
				Enabled:       cfg.Payout.TRC20.Enabled,
				APIURL:        cfg.Payout.TRC20.APIURL,
				APIKey:        cfg.Payout.TRC20.APIKey,
				Owner:         cfg.Payout.TRC20.Owner,
				TokenContract: cfg.Payout.TRC20.TokenContract,
				Decimals:      cfg.Payout.TRC20.Decimals,
				FeeLimit:      cfg.Payout.TRC20.FeeLimit,
				SignerURL:     cfg.Payout.TRC20.SignerURL,
				SignerToken:   cfg.Payout.TRC20.SignerToken,
			},
		},
		Protocols: protocols,
	}
}
