package assembler

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/uncomputable/tappy/btcman/satisfier"
	"github.com/uncomputable/tappy/btcman/utxo"
)

// LocalUnlocker satisfies every input with locally held secrets.
type LocalUnlocker struct {
	keys      map[string]*btcec.PrivateKey // x-only hex -> secret
	preimages map[[32]byte][]byte
}

func NewLocalUnlocker(keys map[string]*btcec.PrivateKey, preimages map[[32]byte][]byte) *LocalUnlocker {
	return &LocalUnlocker{keys: keys, preimages: preimages}
}

// Unlock attaches a witness to each input, in input order.
// All inputs share one sighash cache.
func (lu *LocalUnlocker) Unlock(tx *wire.MsgTx, prevOutputs []*utxo.UTXO) (*wire.MsgTx, error) {
	if len(prevOutputs) != len(tx.TxIn) {
		return nil, fmt.Errorf("%d inputs but %d spent outputs", len(tx.TxIn), len(prevOutputs))
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(prevOutputs))
	for _, u := range prevOutputs {
		prevOuts[u.Outpoint] = &u.Output
	}
	cache := satisfier.NewSighashCache(tx, prevOuts)

	for idx, u := range prevOutputs {
		signer := satisfier.NewSigner(cache, idx, u.Descriptor, lu.keys, lu.preimages)
		witness, err := u.Descriptor.Satisfy(signer)
		if err != nil {
			return nil, fmt.Errorf("input #%d (%s): %w", idx, u.Descriptor, err)
		}
		tx.TxIn[idx].Witness = witness

		logger.WithFields(logger.Fields{
			"input":    idx,
			"outpoint": u.Outpoint.String(),
			"elements": len(witness),
		}).Debug("satisfied input")
	}

	return tx, nil
}
var _ Unlocker = (*LocalUnlocker)(nil)
