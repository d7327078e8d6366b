package descriptor

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/uncomputable/tappy/policy"
)

type Kind uint8

const (
	KindTree Kind = iota + 1
	KindProgram
)

func (k Kind) String() string {
	switch k {
	case KindTree:
		return "tree"
	case KindProgram:
		return "program"
	default:
		return "unknown"
	}
}

// Policy is a spending policy that can be compiled into a descriptor.
// The set of variants is closed.
type Policy interface {
	Kind() Kind
	String() string

	compile() (*SpendInfo, error)
	satisfy(info *SpendInfo, s Satisfier) (wire.TxWitness, error)
}

// TreePolicy compiles its root into a tapscript leaf. A nil InternalKey
// selects the NUMS point and disables the key path.
type TreePolicy struct {
	InternalKey *btcec.PublicKey
	Root        *policy.Node
}

func (p *TreePolicy) Kind() Kind {
	return KindTree
}

func (p *TreePolicy) String() string {
	if isNUMS(p.InternalKey) {
		return "tr(" + p.Root.String() + ")"
	}
	return "tr(" + hex.EncodeToString(schnorr.SerializePubKey(p.InternalKey)) + "," + p.Root.String() + ")"
}

func (p *TreePolicy) internalKey() *btcec.PublicKey {
	if p.InternalKey == nil {
		return numsKey
	}
	return p.InternalKey
}

func (p *TreePolicy) compile() (*SpendInfo, error) {
	script, err := p.Root.Script()
	if err != nil {
		return nil, err
	}
	return newSpendInfo(p.internalKey(), txscript.NewBaseTapLeaf(script))
}

// satisfy tries the key path first and falls back to the script path.
func (p *TreePolicy) satisfy(info *SpendInfo, s Satisfier) (wire.TxWitness, error) {
	if !isNUMS(p.InternalKey) {
		if sig, ok := s.KeyPathSignature(info.InternalKey, info.MerkleRoot[:]); ok {
			return wire.TxWitness{sig}, nil
		}
	}

	witness, err := p.Root.Satisfy(s, info.LeafHash)
	if err != nil {
		return nil, err
	}
	return append(witness, info.Leaf.Script, info.ControlBlock), nil
}

// ProgramPolicy commits to the encoded program of its root. It can only be
// spent through the script path, by revealing the program and its witness.
type ProgramPolicy struct {
	Root *policy.Node
}

func (p *ProgramPolicy) Kind() Kind {
	return KindProgram
}

func (p *ProgramPolicy) String() string {
	return "prog(" + p.Root.String() + ")"
}

func (p *ProgramPolicy) compile() (*SpendInfo, error) {
	root, err := policy.CommitmentRoot(p.Root)
	if err != nil {
		return nil, err
	}
	return newSpendInfo(numsKey, txscript.NewTapLeaf(ProgramLeafVersion, root[:]))
}

func (p *ProgramPolicy) satisfy(info *SpendInfo, s Satisfier) (wire.TxWitness, error) {
	witness, err := p.Root.Satisfy(s, info.LeafHash)
	if err != nil {
		return nil, err
	}

	encodedWitness, err := policy.EncodeProgramWitness(witness)
	if err != nil {
		return nil, err
	}
	program, err := policy.EncodeProgram(p.Root)
	if err != nil {
		return nil, err
	}

	return wire.TxWitness{encodedWitness, program, info.Leaf.Script, info.ControlBlock}, nil
}
