package protocols

import "github.com/danmuck/payrouter/internal/txn"

// DefaultDefinitions is the POS terminal table shipped with the reference deployment.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: "POS Terminal -101.1 (4-digit approval)", ApprovalCodeLength: 4, Settlement: txn.OnLedger},
		{Name: "POS Terminal -101.4 (6-digit approval)", ApprovalCodeLength: 6, Settlement: txn.OnLedger},
		{Name: "POS Terminal -101.6 (Pre-authorization)", ApprovalCodeLength: 6, Settlement: txn.OnLedger},
		{Name: "POS Terminal -101.7 (4-digit approval)", ApprovalCodeLength: 4, Settlement: txn.OnLedger},
		{Name: "POS Terminal -101.8 (PIN-LESS transaction)", ApprovalCodeLength: 4, Settlement: txn.OffLedger},
		{Name: "POS Terminal -201.1 (6-digit approval)", ApprovalCodeLength: 6, Settlement: txn.OnLedger},
		{Name: "POS Terminal -201.3 (6-digit approval)", ApprovalCodeLength: 6, Settlement: txn.OffLedger},
		{Name: "POS Terminal -201.5 (6-digit approval)", ApprovalCodeLength: 6, Settlement: txn.OffLedger},
	}
}
