package assembler

/*
This file implements the "locking" part of a Tx.

Since locking scripts do not require any prior knowledge of private keys,
it is universal to all signing backends.

So we can do it here.
*/

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/uncomputable/tappy/descriptor"
)

// AppendPayToDescriptor adds an output paying amount to the taproot output
// key of desc.
func AppendPayToDescriptor(tx *wire.MsgTx, desc *descriptor.Descriptor, amount int64) error {
	txOutScript, err := desc.PkScript()
	if err != nil {
		return err
	}
	tx.AddTxOut(wire.NewTxOut(amount, txOutScript))
	return nil
}
