/*
Unlocker is the basic interface
that a signing backend shall satisfy.

By implementing Unlocker, the tx assembler
can unlock UTXOs (inputs) previously received.

Remember:
Always create the "lock" part firstly on Tx, then create the "unlock" part on Tx.
Taproot sighashes commit to every output and every spent output.
*/
package assembler

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/uncomputable/tappy/btcman/utxo"
)

// Unlocker defines the actions
// that produce the "unlocking" part of a Tx (aka the witnesses).
// prevOutputs[i] is the UTXO spent by input i.
type Unlocker interface {
	// How to unlock? it depends on the specific signing backend.
	// eg. local keys, hardware wallet, remote signer.
	Unlock(tx *wire.MsgTx, prevOutputs []*utxo.UTXO) (*wire.MsgTx, error)
}
