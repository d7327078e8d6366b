package assembler

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/uncomputable/tappy/btcman/utxo"
	"github.com/uncomputable/tappy/ledger"
)

// Finalize records that the staged transaction was broadcast as txid.
// The spent UTXOs leave the pool, every output becomes a UTXO at
// (txid, index) and the first of them is staged as input #0 of the next
// transaction. Returns the produced UTXOs in output order.
//
// txid is trusted: nothing checks that it matches the staged transaction.
func Finalize(state *ledger.State, txid chainhash.Hash) ([]*utxo.UTXO, error) {
	produced := make([]*utxo.UTXO, 0, len(state.Outputs))
	for _, index := range state.OutputIndices() {
		out := state.Outputs[index]
		u, err := utxo.New(out.Descriptor, *wire.NewOutPoint(&txid, uint32(index)), out.Value)
		if err != nil {
			return nil, err
		}
		produced = append(produced, u)
	}

	spent := make([]*utxo.UTXO, 0, len(state.Inputs))
	for _, in := range state.Inputs {
		spent = append(spent, in.Utxo)
	}

	kept := make([]*utxo.UTXO, 0, len(state.Utxos)+len(produced))
	for _, u := range state.Utxos {
		if !utxo.Contains(spent, u) {
			kept = append(kept, u)
		}
	}
	for _, u := range produced {
		if !utxo.Contains(kept, u) {
			kept = append(kept, u)
		}
	}
	state.Utxos = kept

	state.Inputs = make(map[int]*ledger.Input)
	state.Outputs = make(map[int]*ledger.Output)
	if len(produced) > 0 {
		state.Inputs[0] = &ledger.Input{
			Utxo:     produced[0],
			Sequence: wire.MaxTxInSequenceNum,
		}
	}

	logger.WithFields(logger.Fields{
		"txid":     txid.String(),
		"spent":    len(spent),
		"produced": len(produced),
	}).Info("finalized transaction")

	return produced, nil
}
