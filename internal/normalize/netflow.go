package normalize

import (
	"github.com/wnt/btcwatch/internal/blockchain"
	"github.com/wnt/btcwatch/internal/models"
)

// NetFlow classifies each transaction as a single send or receive relative
// to the wallet address and picks one representative counterparty.
type NetFlow struct{}

// Name implements Strategy.
func (NetFlow) Name() string { return StrategyNetFlow }

// Normalize implements Strategy. Transactions without a hash are skipped.
func (NetFlow) Normalize(walletAddr string, raw blockchain.RawTransaction) []models.Transaction {
	if raw.Hash == "" {
		return nil
	}

	txType := classify(walletAddr, raw)
	address := counterparty(walletAddr, raw, txType)
	value := walletValue(walletAddr, raw, txType)

	return []models.Transaction{{
		TxHash:      raw.Hash,
		Type:        txType,
		Address:     address,
		Value:       value,
		BlockHeight: raw.BlockHeight,
		TxIndex:     raw.TxIndex,
		RawData:     rawPayload(raw),
		BlockTime:   raw.BlockTime(),
	}}
}

// classify decides send vs receive. When the wallet appears on both sides
// (self-transfer or change), the larger of its own output vs input totals
// wins: more coming back than going in means receive.
func classify(walletAddr string, raw blockchain.RawTransaction) string {
	isSender := false
	for _, in := range raw.Inputs {
		if in.PrevOut.Addr == walletAddr {
			isSender = true
			break
		}
	}

	isRecipient := false
	for _, out := range raw.Out {
		if out.Addr == walletAddr {
			isRecipient = true
			break
		}
	}

	if isSender && isRecipient {
		var inputValue, outputValue int64
		for _, in := range raw.Inputs {
			if in.PrevOut.Addr == walletAddr {
				inputValue += in.PrevOut.Value
			}
		}
		for _, out := range raw.Out {
			if out.Addr == walletAddr {
				outputValue += out.Value
			}
		}
		if outputValue > inputValue {
			return models.TxTypeReceive
		}
		return models.TxTypeSend
	}

	if isSender {
		return models.TxTypeSend
	}
	return models.TxTypeReceive
}

// counterparty picks the apparent other side: for a receive, the first input
// address (the sender); for a send, the first output address that is not the
// wallet itself (the recipient).
func counterparty(walletAddr string, raw blockchain.RawTransaction, txType string) string {
	if txType == models.TxTypeReceive {
		for _, in := range raw.Inputs {
			if in.PrevOut.Addr != "" {
				return in.PrevOut.Addr
			}
		}
		return UnknownAddress
	}

	for _, out := range raw.Out {
		if out.Addr != "" && out.Addr != walletAddr {
			return out.Addr
		}
	}
	return UnknownAddress
}

// walletValue sums the amounts belonging to the wallet: its inputs for a
// send, its outputs for a receive.
func walletValue(walletAddr string, raw blockchain.RawTransaction, txType string) int64 {
	var total int64
	if txType == models.TxTypeSend {
		for _, in := range raw.Inputs {
			if in.PrevOut.Addr == walletAddr {
				total += in.PrevOut.Value
			}
		}
		return total
	}

	for _, out := range raw.Out {
		if out.Addr == walletAddr {
			total += out.Value
		}
	}
	return total
}
