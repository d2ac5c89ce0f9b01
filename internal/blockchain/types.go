package blockchain

import "time"

// PrevOut is the previous output an input spends.
type PrevOut struct {
	Addr  string `json:"addr"`
	Value int64  `json:"value"`
}

// Input is one input of a raw transaction.
type Input struct {
	PrevOut PrevOut `json:"prev_out"`
}

// Output is one output of a raw transaction.
type Output struct {
	Addr  string `json:"addr"`
	Value int64  `json:"value"`
}

// RawTransaction is one transaction as returned by the explorer API.
type RawTransaction struct {
	Hash        string   `json:"hash"`
	BlockHeight *int64   `json:"block_height"`
	TxIndex     *int64   `json:"tx_index"`
	Time        int64    `json:"time"`
	Inputs      []Input  `json:"inputs"`
	Out         []Output `json:"out"`
}

// genesisYear guards against garbage timestamps; nothing was mined before
// 2009.
var genesisTime = time.Date(2009, 1, 1, 0, 0, 0, 0, time.UTC)

// BlockTime returns the transaction timestamp, or nil when it is absent or
// predates the chain.
func (t *RawTransaction) BlockTime() *time.Time {
	if t.Time == 0 {
		return nil
	}
	ts := time.Unix(t.Time, 0).UTC()
	if ts.Before(genesisTime) {
		return nil
	}
	return &ts
}

// multiaddrResponse is the envelope of the multiaddr endpoint.
type multiaddrResponse struct {
	Addresses []addressInfo    `json:"addresses"`
	Txs       []RawTransaction `json:"txs"`
}

type addressInfo struct {
	Address      string `json:"address"`
	NTx          int    `json:"n_tx"`
	FinalBalance int64  `json:"final_balance"`
}
