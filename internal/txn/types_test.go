package txn

import "testing"

func TestNetworkFromPayoutType(t *testing.T) {
	cases := map[string]Network{
		"USDT-ERC-20":  NetworkERC20,
		"usdt-erc-20":  NetworkERC20,
		" USDT-TRC-20": NetworkTRC20,
		"trc20":        NetworkTRC20,
		"USDT-SPL":     Network("USDT-SPL"),
		"":             Network(""),
	}
	for raw, want := range cases {
		if got := NetworkFromPayoutType(raw); got != want {
			t.Fatalf("NetworkFromPayoutType(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestNetworkSupported(t *testing.T) {
	if !NetworkERC20.Supported() || !NetworkTRC20.Supported() {
		t.Fatalf("known networks must be supported")
	}
	for _, n := range []Network{"", "USDT-SPL", NetworkFromPayoutType("usdt-solana-spl-token-mainnet")} {
		if n.Supported() {
			t.Fatalf("%q must not be supported", n)
		}
	}
}

func TestParseSettlementClass(t *testing.T) {
	if c, ok := ParseSettlementClass("On-Ledger"); !ok || c != OnLedger {
		t.Fatalf("unexpected on-ledger parse: %q %v", c, ok)
	}
	if c, ok := ParseSettlementClass("off_ledger"); !ok || c != OffLedger {
		t.Fatalf("unexpected off-ledger parse: %q %v", c, ok)
	}
	if _, ok := ParseSettlementClass("sideways"); ok {
		t.Fatalf("expected unknown class to fail")
	}
}

func TestPayoutResultShapes(t *testing.T) {
	ok := PayoutSucceeded("0xabc")
	if !ok.OK() || ok.WireStatus() != "success" || ok.FailureReason != "" {
		t.Fatalf("unexpected success shape: %+v", ok)
	}
	bad := PayoutFailed("boom")
	if bad.OK() || bad.WireStatus() != "error" || bad.TxHash != "" {
		t.Fatalf("unexpected failure shape: %+v", bad)
	}
}

func TestMaskPAN(t *testing.T) {
	cases := map[string]string{
		"4111 1111 1111 1234": "************1234",
		"123":                 "***",
		"":                    "",
	}
	for in, want := range cases {
		if got := MaskPAN(in); got != want {
			t.Fatalf("MaskPAN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecordHash(t *testing.T) {
	if (Record{}).Hash() != "" {
		t.Fatalf("expected empty hash")
	}
	r := Record{TxHash: OptionalString("0x1")}
	if r.Hash() != "0x1" {
		t.Fatalf("unexpected hash: %q", r.Hash())
	}
	if OptionalString("") != nil {
		t.Fatalf("expected nil for empty string")
	}
}
