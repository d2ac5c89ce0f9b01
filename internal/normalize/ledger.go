package normalize

import (
	"github.com/wnt/btcwatch/internal/blockchain"
	"github.com/wnt/btcwatch/internal/models"
)

// Ledger writes one row per input and output entry, typed input/output with
// that entry's own address and value. No counterparty heuristic; the
// cardinality is rows-per-entry, not rows-per-transaction.
type Ledger struct{}

// Name implements Strategy.
func (Ledger) Name() string { return StrategyLedger }

// Normalize implements Strategy. Entries without an address are skipped;
// they cannot satisfy the dedup key.
func (Ledger) Normalize(walletAddr string, raw blockchain.RawTransaction) []models.Transaction {
	if raw.Hash == "" {
		return nil
	}

	blockTime := raw.BlockTime()
	payload := rawPayload(raw)

	rows := make([]models.Transaction, 0, len(raw.Inputs)+len(raw.Out))
	for _, in := range raw.Inputs {
		if in.PrevOut.Addr == "" {
			continue
		}
		rows = append(rows, models.Transaction{
			TxHash:      raw.Hash,
			Type:        models.TxTypeInput,
			Address:     in.PrevOut.Addr,
			Value:       in.PrevOut.Value,
			BlockHeight: raw.BlockHeight,
			TxIndex:     raw.TxIndex,
			RawData:     payload,
			BlockTime:   blockTime,
		})
	}

	for _, out := range raw.Out {
		if out.Addr == "" {
			continue
		}
		rows = append(rows, models.Transaction{
			TxHash:      raw.Hash,
			Type:        models.TxTypeOutput,
			Address:     out.Addr,
			Value:       out.Value,
			BlockHeight: raw.BlockHeight,
			TxIndex:     raw.TxIndex,
			RawData:     payload,
			BlockTime:   blockTime,
		})
	}

	return rows
}
