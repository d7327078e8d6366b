package assembler

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	logger "github.com/sirupsen/logrus"

	"github.com/uncomputable/tappy/btcman/utxo"
	"github.com/uncomputable/tappy/errs"
	"github.com/uncomputable/tappy/ledger"
)

// TxVersion enables relative timelocks (BIP68).
const TxVersion = 2

type Assembler struct {
	ChainConfig *chaincfg.Params // which BTC chain it is on. (mainnet, testnet, regtest)
	Op          Unlocker         // produces the witnesses; nil signs with the active secrets of the state.
}

// Assembled is a fully signed transaction.
type Assembled struct {
	Tx      *wire.MsgTx
	RawHex  string
	Txid    chainhash.Hash
	VSize   int64
	FeeRate float64 // sat/vB
}

func (myAss *Assembler) chainConfig() *chaincfg.Params {
	if myAss.ChainConfig == nil {
		return &chaincfg.RegressionNetParams
	}
	return myAss.ChainConfig
}

// checkDense fails unless indices are exactly 0..n-1.
func checkDense(indices []int, missing *errs.Error) error {
	for i, index := range indices {
		if index != i {
			return errs.Wrap(missing, "#%d", i)
		}
	}
	return nil
}

// craftOutputs adds the staged outputs to tx. The remaining funds go to the
// output of value 0, if any. Returns the index of that output or -1.
func (myAss *Assembler) craftOutputs(
	tx *wire.MsgTx,
	state *ledger.State,
	inputValue int64,
) (int, error) {
	remainingIndex := -1
	var fixed int64
	for _, index := range state.OutputIndices() {
		out := state.Outputs[index]
		if out.Value != 0 {
			fixed += out.Value
			continue
		}
		if remainingIndex != -1 {
			return -1, errs.Wrap(errs.ErrOneZeroOutput, "outputs #%d and #%d", remainingIndex, index)
		}
		remainingIndex = index
	}

	remaining := inputValue - fixed - state.Fee
	if remaining < 0 {
		return -1, errs.Wrap(errs.ErrNotEnoughFunds,
			"inputs %s, outputs %s, fee %s",
			btcutil.Amount(inputValue), btcutil.Amount(fixed), btcutil.Amount(state.Fee))
	}

	for _, index := range state.OutputIndices() {
		out := state.Outputs[index]
		value := out.Value
		if index == remainingIndex {
			value = remaining
		}
		if err := AppendPayToDescriptor(tx, out.Descriptor, value); err != nil {
			return -1, err
		}
		if addr, err := out.Descriptor.Address(myAss.chainConfig()); err == nil {
			logger.WithFields(logger.Fields{
				"output":  index,
				"address": addr.EncodeAddress(),
				"value":   btcutil.Amount(value).String(),
			}).Debug("pay to descriptor")
		}
	}
	return remainingIndex, nil
}

// craftInputs adds the staged inputs to tx without witnesses.
// Returns the spent UTXOs in input order and their summed value.
func craftInputs(tx *wire.MsgTx, state *ledger.State) ([]*utxo.UTXO, int64) {
	var sum int64
	prevOutputs := make([]*utxo.UTXO, 0, len(state.Inputs))
	for _, index := range state.InputIndices() {
		in := state.Inputs[index]
		txIn := wire.NewTxIn(&in.Utxo.Outpoint, nil, nil)
		txIn.Sequence = in.Sequence
		tx.AddTxIn(txIn)

		prevOutputs = append(prevOutputs, in.Utxo)
		sum += in.Utxo.Amount()
	}
	return prevOutputs, sum
}

// Assemble builds and signs the transaction staged in state.
// On success the value of the remaining-funds output is written back into
// state. On failure state is unchanged.
func (myAss *Assembler) Assemble(state *ledger.State) (*Assembled, error) {
	if err := checkDense(state.InputIndices(), errs.ErrMissingInput); err != nil {
		return nil, err
	}
	if err := checkDense(state.OutputIndices(), errs.ErrMissingOutput); err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(TxVersion)
	tx.LockTime = state.LockTime

	prevOutputs, inputValue := craftInputs(tx, state)
	remainingIndex, err := myAss.craftOutputs(tx, state, inputValue)
	if err != nil {
		return nil, err
	}

	op := myAss.Op
	if op == nil {
		op = NewLocalUnlocker(state.ActiveKeys(), state.ActivePreimages())
	}
	tx, err = op.Unlock(tx, prevOutputs)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, errs.New(errs.KindIO, "cannot serialize transaction", err)
	}

	vsize := mempool.GetTxVirtualSize(btcutil.NewTx(tx))
	assembled := &Assembled{
		Tx:      tx,
		RawHex:  hex.EncodeToString(buf.Bytes()),
		Txid:    tx.TxHash(),
		VSize:   vsize,
		FeeRate: float64(state.Fee) / float64(vsize),
	}

	if remainingIndex != -1 {
		state.Outputs[remainingIndex].Value = tx.TxOut[remainingIndex].Value
	}

	logger.WithFields(logger.Fields{
		"txid":     assembled.Txid.String(),
		"inputs":   len(tx.TxIn),
		"outputs":  len(tx.TxOut),
		"vsize":    vsize,
		"fee_rate": assembled.FeeRate,
	}).Info("assembled transaction")
	if logger.IsLevelEnabled(logger.DebugLevel) {
		logger.Debug(spew.Sdump(tx))
	}

	return assembled, nil
}
