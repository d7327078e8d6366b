package ledger

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	logger "github.com/sirupsen/logrus"

	"github.com/uncomputable/tappy/btcman/utxo"
	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/errs"
)

// maxRelativeSeconds is the largest relative time lock a sequence can hold.
const maxRelativeSeconds = wire.SequenceLockTimeMask << wire.SequenceLockTimeGranularity

// SetInboundAddress stages a descriptor that waits for a funding UTXO.
func (s *State) SetInboundAddress(desc *descriptor.Descriptor, params *chaincfg.Params) (*btcutil.AddressTaproot, error) {
	addr, err := desc.Address(params)
	if err != nil {
		return nil, err
	}
	s.InboundAddress = fn.Some(desc)
	return addr, nil
}

// InboundToUtxo turns the staged inbound address into a UTXO at
// (txid, vout). The address is consumed. The returned flag is false when an
// equal UTXO was already known.
func (s *State) InboundToUtxo(txid chainhash.Hash, vout uint32, value int64) (*utxo.UTXO, bool, error) {
	desc, err := s.InboundAddress.UnwrapOrErr(errs.ErrMissingAddress)
	if err != nil {
		return nil, false, err
	}
	if value <= 0 {
		return nil, false, errs.Wrap(errs.ErrInvalidValue, "utxo value %d", value)
	}

	u, err := utxo.New(desc, *wire.NewOutPoint(&txid, vout), value)
	if err != nil {
		return nil, false, err
	}
	s.InboundAddress = fn.None[*descriptor.Descriptor]()

	if utxo.Contains(s.Utxos, u) {
		return u, false, nil
	}
	s.Utxos = append(s.Utxos, u)
	return u, true, nil
}

func (s *State) DeleteUtxo(index int) (*utxo.UTXO, error) {
	if index < 0 || index >= len(s.Utxos) {
		return nil, errs.Wrap(errs.ErrMissingUtxo, "utxo #%d", index)
	}
	old := s.Utxos[index]
	s.Utxos = append(s.Utxos[:index], s.Utxos[index+1:]...)
	return old, nil
}

// AddInput binds UTXO #utxoIndex to input slot index with a final sequence.
// A UTXO already bound to another slot is rejected. The replaced input, if
// any, is returned.
func (s *State) AddInput(index int, utxoIndex int) (*Input, error) {
	if index < 0 {
		return nil, errs.Wrap(errs.ErrMissingInput, "input #%d", index)
	}
	if utxoIndex < 0 || utxoIndex >= len(s.Utxos) {
		return nil, errs.Wrap(errs.ErrMissingUtxo, "utxo #%d", utxoIndex)
	}
	u := s.Utxos[utxoIndex]

	for other, in := range s.Inputs {
		if other != index && in.Utxo.Outpoint == u.Outpoint {
			return nil, errs.Wrap(errs.ErrDoubleSpend, "%s is input #%d", u.Outpoint, other)
		}
	}

	old := s.Inputs[index]
	s.Inputs[index] = &Input{Utxo: u, Sequence: wire.MaxTxInSequenceNum}
	logger.WithFields(logger.Fields{
		"input":    index,
		"outpoint": u.Outpoint.String(),
	}).Debug("new input")
	return old, nil
}

func (s *State) DeleteInput(index int) (*Input, error) {
	in, ok := s.Inputs[index]
	if !ok {
		return nil, errs.Wrap(errs.ErrMissingInput, "input #%d", index)
	}
	delete(s.Inputs, index)
	return in, nil
}

func (s *State) input(index int) (*Input, error) {
	in, ok := s.Inputs[index]
	if !ok {
		return nil, errs.Wrap(errs.ErrMissingInput, "input #%d", index)
	}
	return in, nil
}

// SetRelativeHeight makes the input spendable only after the UTXO is the
// given number of blocks deep.
func (s *State) SetRelativeHeight(index int, blocks uint16) error {
	in, err := s.input(index)
	if err != nil {
		return err
	}
	in.Sequence = blockchain.LockTimeToSequence(false, uint32(blocks))
	return nil
}

// SetRelativeTime is SetRelativeHeight in seconds, rounded down to units of
// 512 seconds.
func (s *State) SetRelativeTime(index int, seconds uint32) error {
	in, err := s.input(index)
	if err != nil {
		return err
	}
	if seconds > maxRelativeSeconds {
		return errs.Wrap(errs.ErrInvalidSequence, "%d seconds exceeds %d", seconds, maxRelativeSeconds)
	}
	in.Sequence = blockchain.LockTimeToSequence(true, seconds)
	return nil
}

// DisableRelativeLock resets the input sequence to the maximum.
func (s *State) DisableRelativeLock(index int) error {
	in, err := s.input(index)
	if err != nil {
		return err
	}
	in.Sequence = wire.MaxTxInSequenceNum
	return nil
}

// InputAddress returns the address of the UTXO bound to an input.
func (s *State) InputAddress(index int, params *chaincfg.Params) (*btcutil.AddressTaproot, error) {
	in, err := s.input(index)
	if err != nil {
		return nil, err
	}
	return in.Utxo.Descriptor.Address(params)
}

// AddOutput stages an output. Value 0 marks the remaining-funds output, of
// which there can be only one.
func (s *State) AddOutput(index int, desc *descriptor.Descriptor, value int64) (*Output, error) {
	if index < 0 {
		return nil, errs.Wrap(errs.ErrMissingOutput, "output #%d", index)
	}
	if value < 0 {
		return nil, errs.Wrap(errs.ErrInvalidValue, "output value %d", value)
	}
	if value == 0 {
		for other, out := range s.Outputs {
			if other != index && out.Value == 0 {
				return nil, errs.Wrap(errs.ErrOneZeroOutput, "output #%d already receives the remaining funds", other)
			}
		}
	}

	old := s.Outputs[index]
	s.Outputs[index] = &Output{Value: value, Descriptor: desc}
	return old, nil
}

func (s *State) DeleteOutput(index int) (*Output, error) {
	out, ok := s.Outputs[index]
	if !ok {
		return nil, errs.Wrap(errs.ErrMissingOutput, "output #%d", index)
	}
	delete(s.Outputs, index)
	return out, nil
}

// SetLockTime sets the absolute locktime as a block height.
func (s *State) SetLockTime(height uint32) error {
	if height >= txscript.LockTimeThreshold {
		return errs.Wrap(errs.ErrInvalidHeight, "%d is a timestamp", height)
	}
	s.LockTime = height
	return nil
}

func (s *State) SetFee(fee int64) error {
	if fee < 0 {
		return errs.Wrap(errs.ErrInvalidValue, "fee %d", fee)
	}
	s.Fee = fee
	return nil
}

// RemainingFunds is the input value not allocated to fixed outputs or the
// fee. A negative result means the transaction cannot be assembled.
func (s *State) RemainingFunds() int64 {
	var remaining int64
	for _, in := range s.Inputs {
		remaining += in.Utxo.Amount()
	}
	for _, out := range s.Outputs {
		remaining -= out.Value
	}
	return remaining - s.Fee
}
