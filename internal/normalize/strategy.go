// Package normalize turns raw explorer transactions into persistable rows.
// Two strategies coexist: netflow collapses each transaction into a single
// send/receive row against one counterparty, ledger writes one row per
// input/output entry. They produce different schemas and row cardinality and
// are never mixed for a wallet.
package normalize

import (
	"encoding/json"

	"github.com/wnt/btcwatch/internal/blockchain"
	"github.com/wnt/btcwatch/internal/models"
)

// Strategy names, stored on the wallet.
const (
	StrategyNetFlow = "netflow"
	StrategyLedger  = "ledger"
)

// UnknownAddress is the sentinel counterparty when none can be determined.
// Multi-party transactions collapse to one representative address under the
// netflow strategy; this is a known limitation, not a bug to fix here.
const UnknownAddress = "unknown"

// Strategy converts one raw transaction into zero or more transaction rows
// for the given wallet address.
type Strategy interface {
	Name() string
	Normalize(walletAddr string, raw blockchain.RawTransaction) []models.Transaction
}

// ForName returns the strategy registered under name, defaulting to netflow.
func ForName(name string) Strategy {
	if name == StrategyLedger {
		return Ledger{}
	}
	return NetFlow{}
}

// rawPayload serializes the raw transaction for the optional raw_data
// column. Serialization failures just drop the payload.
func rawPayload(raw blockchain.RawTransaction) []byte {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	return data
}
