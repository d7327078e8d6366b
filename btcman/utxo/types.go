/*
This file contains the UTXO type shared by the ledger, the assembler and the
journal.
  - UTXO, a spendable coin locked to a descriptor.
*/
package utxo

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/uncomputable/tappy/descriptor"
)

// Represents the unspent transaction output (UTXO)
// in our program
type UTXO struct {
	Descriptor *descriptor.Descriptor // what the output is locked to
	Outpoint   wire.OutPoint          // (txid, vout)
	Output     wire.TxOut             // value in satoshi + locking script
}

// New creates a UTXO at outpoint that pays value to desc.
func New(desc *descriptor.Descriptor, outpoint wire.OutPoint, value int64) (*UTXO, error) {
	pkScript, err := desc.PkScript()
	if err != nil {
		return nil, err
	}
	return &UTXO{
		Descriptor: desc,
		Outpoint:   outpoint,
		Output:     wire.TxOut{Value: value, PkScript: pkScript},
	}, nil
}

// Amount in satoshi.
func (u *UTXO) Amount() int64 {
	return u.Output.Value
}

// Return a human-readable amount in BTC
// eg. 1e8 (satoshi) = 1.0 (BTC)
func (u *UTXO) AmountHuman() float64 {
	return btcutil.Amount(u.Output.Value).ToBTC()
}

// Equal compares descriptor, outpoint and output.
func (u *UTXO) Equal(other *UTXO) bool {
	return u.Descriptor.Equal(other.Descriptor) &&
		u.Outpoint == other.Outpoint &&
		u.Output.Value == other.Output.Value &&
		bytes.Equal(u.Output.PkScript, other.Output.PkScript)
}

func (u *UTXO) String() string {
	return fmt.Sprintf("%s %s %s", u.Outpoint, btcutil.Amount(u.Output.Value), u.Descriptor)
}

type outputJSON struct {
	Value    int64  `json:"value"`
	PkScript string `json:"pk_script"`
}

type utxoJSON struct {
	Descriptor *descriptor.Descriptor `json:"descriptor"`
	Outpoint   string                 `json:"outpoint"`
	Output     outputJSON             `json:"output"`
}

func (u *UTXO) MarshalJSON() ([]byte, error) {
	return json.Marshal(utxoJSON{
		Descriptor: u.Descriptor,
		Outpoint:   u.Outpoint.String(),
		Output: outputJSON{
			Value:    u.Output.Value,
			PkScript: hex.EncodeToString(u.Output.PkScript),
		},
	})
}

func (u *UTXO) UnmarshalJSON(b []byte) error {
	var raw utxoJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Descriptor == nil {
		return fmt.Errorf("utxo %s has no descriptor", raw.Outpoint)
	}
	outpoint, err := wire.NewOutPointFromString(raw.Outpoint)
	if err != nil {
		return err
	}
	pkScript, err := hex.DecodeString(raw.Output.PkScript)
	if err != nil {
		return err
	}

	u.Descriptor = raw.Descriptor
	u.Outpoint = *outpoint
	u.Output = wire.TxOut{Value: raw.Output.Value, PkScript: pkScript}
	return nil
}
