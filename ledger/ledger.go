// Package ledger holds the persisted state of the lab: key and preimage
// material, UTXOs, the inputs and outputs of the transaction being built,
// the fee and the absolute locktime.
//
// Every command loads the state, mutates it and saves it only on success.
package ledger

import (
	"crypto/rand"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/uncomputable/tappy/btcman/utxo"
	"github.com/uncomputable/tappy/descriptor"
)

// Status tells whether secret material may be used for spending.
type Status uint8

const (
	Passive Status = iota
	Active
)

func (s Status) String() string {
	if s == Active {
		return "active"
	}
	return "passive"
}

func (s Status) Toggle() Status {
	if s == Active {
		return Passive
	}
	return Active
}

// KeyPair is a signing key whose public key has even y.
type KeyPair struct {
	Priv   *btcec.PrivateKey
	Status Status
}

func (k *KeyPair) PubKey() *btcec.PublicKey {
	return k.Priv.PubKey()
}

// XOnly is the 32-byte key used in policies.
func (k *KeyPair) XOnly() []byte {
	return schnorr.SerializePubKey(k.Priv.PubKey())
}

// PreimagePair is a SHA-256 hash lock secret.
type PreimagePair struct {
	Preimage [32]byte
	Image    [32]byte
	Status   Status
}

type Input struct {
	Utxo     *utxo.UTXO `json:"utxo"`
	Sequence uint32     `json:"sequence"`
}

func (in *Input) String() string {
	s := in.Utxo.String()
	switch {
	case in.Sequence == wire.MaxTxInSequenceNum:
	case in.Sequence&wire.SequenceLockTimeDisabled != 0:
		s += " [relative lock disabled]"
	case in.Sequence&wire.SequenceLockTimeIsSeconds != 0:
		s += fmt.Sprintf(" +%ds", (in.Sequence&wire.SequenceLockTimeMask)<<wire.SequenceLockTimeGranularity)
	default:
		s += fmt.Sprintf(" +%d blocks", in.Sequence&wire.SequenceLockTimeMask)
	}
	return s
}

// Output value 0 marks the output that receives the remaining funds.
type Output struct {
	Value      int64                  `json:"value"`
	Descriptor *descriptor.Descriptor `json:"descriptor"`
}

func (out *Output) String() string {
	if out.Value == 0 {
		return fmt.Sprintf("%s [remaining funds]", out.Descriptor)
	}
	return fmt.Sprintf("%s %s", out.Descriptor, btcutil.Amount(out.Value))
}

// State is the aggregate root. Keys are indexed by x-only hex, images by
// image hex; the Status tag decides the partition.
type State struct {
	Keys           map[string]*KeyPair
	Images         map[string]*PreimagePair
	Utxos          []*utxo.UTXO
	Inputs         map[int]*Input
	Outputs        map[int]*Output
	Fee            int64
	LockTime       uint32
	InboundAddress fn.Option[*descriptor.Descriptor]

	rand io.Reader
}

func New() *State {
	return &State{
		Keys:           make(map[string]*KeyPair),
		Images:         make(map[string]*PreimagePair),
		Utxos:          make([]*utxo.UTXO, 0),
		Inputs:         make(map[int]*Input),
		Outputs:        make(map[int]*Output),
		InboundAddress: fn.None[*descriptor.Descriptor](),
		rand:           rand.Reader,
	}
}

// SetRandSource replaces the randomness used for key and preimage
// generation.
func (s *State) SetRandSource(r io.Reader) {
	s.rand = r
}

// LockTimeEnabled reports whether the absolute locktime takes effect,
// which is the case once any input sequence is below the maximum.
func (s *State) LockTimeEnabled() bool {
	for _, in := range s.Inputs {
		if in.Sequence != wire.MaxTxInSequenceNum {
			return true
		}
	}
	return false
}

func (s *State) InputIndices() []int {
	return slices.Sorted(maps.Keys(s.Inputs))
}

func (s *State) OutputIndices() []int {
	return slices.Sorted(maps.Keys(s.Outputs))
}

// ActiveKeys returns the active signing keys by x-only hex.
func (s *State) ActiveKeys() map[string]*btcec.PrivateKey {
	active := make(map[string]*btcec.PrivateKey)
	for id, kp := range s.Keys {
		if kp.Status == Active {
			active[id] = kp.Priv
		}
	}
	return active
}

// ActivePreimages returns the active preimages by image.
func (s *State) ActivePreimages() map[[32]byte][]byte {
	active := make(map[[32]byte][]byte)
	for _, pp := range s.Images {
		if pp.Status == Active {
			active[pp.Image] = append([]byte(nil), pp.Preimage[:]...)
		}
	}
	return active
}
