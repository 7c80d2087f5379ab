package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/payrouter/internal/testutil/testlog"
	"github.com/danmuck/payrouter/internal/txn"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payrouter.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	testlog.Start(t)
	cfg, err := load("", map[string]string{})
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.HTTPAddr != ":5000" || cfg.TerminalAddr != ":9000" {
		t.Fatalf("unexpected listen addresses %q %q", cfg.HTTPAddr, cfg.TerminalAddr)
	}
	reg, err := cfg.Registry()
	if err != nil || reg.Len() != 8 {
		t.Fatalf("expected default protocol table, err=%v", err)
	}
	if len(cfg.EnabledNetworks()) != 0 {
		t.Fatalf("no payout network should be enabled by default")
	}
}

func TestFileOverridesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `
http_addr = "127.0.0.1:8080"

[timeouts]
gateway = "2s"

[ledger]
driver = "Badger"
path = "/var/lib/payrouter/ledger"

[payout.trc20]
enabled = true
owner = "TOwner"

[[protocols]]
name = "POS Terminal -301.1 (4-digit approval)"
approval_length = 4
settlement = "off-ledger"
`)
	cfg, err := load(path, map[string]string{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:8080" || cfg.TerminalAddr != ":9000" {
		t.Fatalf("unexpected addrs %q %q", cfg.HTTPAddr, cfg.TerminalAddr)
	}
	if cfg.Timeouts.Gateway != 2*time.Second || cfg.Timeouts.Payout != 30*time.Second {
		t.Fatalf("unexpected timeouts %+v", cfg.Timeouts)
	}
	if cfg.Ledger.Driver != LedgerBadger {
		t.Fatalf("driver = %q", cfg.Ledger.Driver)
	}
	if !cfg.Payout.TRC20.Enabled || cfg.Payout.TRC20.Owner != "TOwner" || cfg.Payout.TRC20.Decimals != 6 {
		t.Fatalf("unexpected trc20 %+v", cfg.Payout.TRC20)
	}
	if len(cfg.Protocols) != 1 || cfg.Protocols[0].Settlement != txn.OffLedger {
		t.Fatalf("unexpected protocols %+v", cfg.Protocols)
	}
}

func TestFileRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key":      `htp_addr = ":1"`,
		"bad duration":     "[timeouts]\ngateway = \"soon\"",
		"bad settlement":   "[[protocols]]\nname = \"x\"\napproval_length = 4\nsettlement = \"maybe\"",
		"bad driver":       "[ledger]\ndriver = \"mongo\"",
		"postgres no dsn":  "[ledger]\ndriver = \"postgres\"",
		"http gateway":     "[gateway]\nmode = \"http\"",
		"empty addr":       `terminal_addr = ""`,
		"zero timeout":     "[timeouts]\nledger = \"0s\"",
		"duplicate proto":  "[[protocols]]\nname = \"x\"\napproval_length = 4\nsettlement = \"gateway\"\n[[protocols]]\nname = \"x\"\napproval_length = 6\nsettlement = \"gateway\"",
		"zero code length": "[[protocols]]\nname = \"x\"\napproval_length = 0\nsettlement = \"gateway\"",
	}
	for name, body := range cases {
		if _, err := load(writeFile(t, body), map[string]string{}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := load(filepath.Join(t.TempDir(), "missing.toml"), map[string]string{}); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "[ledger]\ndriver = \"sqlite\"\npath = \"file.db\"\n")
	cfg, err := load(path, map[string]string{
		"PAYROUTER_LEDGER_DRIVER":        "postgres",
		"PAYROUTER_LEDGER_DSN":           "host=db user=pay dbname=ledger",
		"PAYROUTER_CORS_ORIGINS":         "https://pos.example, https://admin.example",
		"PAYROUTER_GATEWAY_TIMEOUT":      "750ms",
		"PAYROUTER_ERC20_ENABLED":        "true",
		"PAYROUTER_TERMINAL_TLS_ENABLED": "false",
		"PAYROUTER_ADMIN_TOKEN":          " ops-secret ",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ledger.Driver != LedgerPostgres || cfg.Ledger.DSN == "" || cfg.Ledger.Path != "file.db" {
		t.Fatalf("unexpected ledger %+v", cfg.Ledger)
	}
	if strings.Join(cfg.CORSOrigins, "|") != "https://pos.example|https://admin.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
	if cfg.AdminToken != "ops-secret" {
		t.Fatalf("unexpected admin token %q", cfg.AdminToken)
	}
	if cfg.Timeouts.Gateway != 750*time.Millisecond {
		t.Fatalf("unexpected gateway timeout %v", cfg.Timeouts.Gateway)
	}
	if nets := cfg.EnabledNetworks(); len(nets) != 1 || nets[0] != txn.NetworkERC20 {
		t.Fatalf("unexpected networks %v", nets)
	}

	if _, err := load("", map[string]string{"PAYROUTER_ERC20_ENABLED": "perhaps"}); err == nil {
		t.Fatalf("expected bad bool to fail")
	}
	_, err = load("", map[string]string{"PAYROUTER_GATEWAY_MODE": "carrier-pigeon"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestTemplateLoadsAsDefaults(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "payrouter.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected existing file to be protected")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite template: %v", err)
	}
	cfg, err := load(path, map[string]string{})
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	def := DefaultConfig()
	if cfg.HTTPAddr != def.HTTPAddr || cfg.Ledger != def.Ledger || cfg.Timeouts != def.Timeouts {
		t.Fatalf("template drifted from defaults: %+v", cfg)
	}
	if cfg.Payout != def.Payout || len(cfg.Protocols) != len(def.Protocols) {
		t.Fatalf("template payout/protocols drifted: %+v", cfg.Payout)
	}
	for i := range def.Protocols {
		if cfg.Protocols[i] != def.Protocols[i] {
			t.Fatalf("protocol %d drifted: %+v", i, cfg.Protocols[i])
		}
	}
}
