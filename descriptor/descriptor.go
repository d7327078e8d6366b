// Package descriptor compiles spending policies into single-leaf taproot
// outputs and satisfies them at spend time.
//
// Two policy variants share one compilation interface:
//
//	tr([KEY,]POLICY)   the policy compiles to a tapscript leaf (version 0xc0)
//	                   under KEY, or under the NUMS point when KEY is omitted
//	prog(POLICY)       the leaf (version 0xbe) holds a 32-byte commitment to the
//	                   encoded policy program, always under the NUMS point
package descriptor

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/uncomputable/tappy/errs"
	"github.com/uncomputable/tappy/policy"
)

// ProgramLeafVersion marks leaves that commit to an encoded program instead
// of carrying a script.
const ProgramLeafVersion txscript.TapscriptLeafVersion = 0xbe

// NUMSKeyHex is the BIP341 point with no known discrete logarithm.
const NUMSKeyHex = "50929b74c1a04954b78b4b6035e97a5e078a5a0f28ec96d547bfee9ace803ac0"

var numsKey *btcec.PublicKey

func init() {
	b, _ := hex.DecodeString(NUMSKeyHex)
	key, err := schnorr.ParsePubKey(b)
	if err != nil {
		panic(fmt.Sprintf("invalid NUMS key: %v", err))
	}
	numsKey = key
}

// NUMSKey returns the unspendable internal key.
func NUMSKey() *btcec.PublicKey {
	return numsKey
}

func isNUMS(key *btcec.PublicKey) bool {
	return key == nil || key.IsEqual(numsKey)
}

// Satisfier extends the policy solver's queries with the key-path spend.
type Satisfier interface {
	policy.Satisfier

	// KeyPathSignature returns a signature by the internal key tweaked with
	// the merkle root, over the key-path sighash.
	KeyPathSignature(internalKey *btcec.PublicKey, merkleRoot []byte) ([]byte, bool)
}

// SpendInfo is everything needed to lock to and spend from a descriptor.
type SpendInfo struct {
	InternalKey  *btcec.PublicKey
	OutputKey    *btcec.PublicKey
	Leaf         txscript.TapLeaf
	LeafHash     chainhash.Hash
	MerkleRoot   chainhash.Hash
	ControlBlock []byte
}

func newSpendInfo(internalKey *btcec.PublicKey, leaf txscript.TapLeaf) (*SpendInfo, error) {
	tree := txscript.AssembleTaprootScriptTree(leaf)
	if len(tree.LeafMerkleProofs) != 1 {
		return nil, errs.ErrTaprootTree
	}
	merkleRoot := tree.RootNode.TapHash()

	controlBlock := tree.LeafMerkleProofs[0].ToControlBlock(internalKey)
	controlBlockBytes, err := controlBlock.ToBytes()
	if err != nil {
		return nil, errs.ErrTaprootTree.Wrap(err)
	}

	return &SpendInfo{
		InternalKey:  internalKey,
		OutputKey:    txscript.ComputeTaprootOutputKey(internalKey, merkleRoot[:]),
		Leaf:         leaf,
		LeafHash:     leaf.TapHash(),
		MerkleRoot:   merkleRoot,
		ControlBlock: controlBlockBytes,
	}, nil
}

// Descriptor is a compiled policy. It is immutable.
type Descriptor struct {
	policy Policy
	info   *SpendInfo
}

// Compile derives the output key, leaf and control block of a policy.
// Compilation is deterministic and needs no secret material.
func Compile(p Policy) (*Descriptor, error) {
	info, err := p.compile()
	if err != nil {
		return nil, err
	}
	return &Descriptor{policy: p, info: info}, nil
}

// Parse reads and compiles a descriptor from its text form.
func Parse(s string) (*Descriptor, error) {
	name, args, err := policy.ParseExpr(s)
	if err != nil {
		return nil, err
	}

	var p Policy
	switch {
	case name == "tr" && len(args) == 1:
		root, err := policy.Parse(args[0])
		if err != nil {
			return nil, err
		}
		p = &TreePolicy{Root: root}

	case name == "tr" && len(args) == 2:
		keyBytes, err := hex.DecodeString(args[0])
		if err != nil {
			return nil, errs.ErrInvalidPolicy.Wrap(err)
		}
		key, err := schnorr.ParsePubKey(keyBytes)
		if err != nil {
			return nil, errs.ErrInvalidPolicy.Wrap(err)
		}
		root, err := policy.Parse(args[1])
		if err != nil {
			return nil, err
		}
		p = &TreePolicy{InternalKey: key, Root: root}

	case name == "prog" && len(args) == 1:
		root, err := policy.Parse(args[0])
		if err != nil {
			return nil, err
		}
		p = &ProgramPolicy{Root: root}

	default:
		return nil, errs.New(errs.KindPolicy, "unsupported descriptor %q", s)
	}

	return Compile(p)
}

func (d *Descriptor) Policy() Policy {
	return d.policy
}

func (d *Descriptor) SpendInfo() *SpendInfo {
	return d.info
}

func (d *Descriptor) String() string {
	return d.policy.String()
}

// Equal compares the canonical text forms.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.String() == other.String()
}

// PkScript returns the OP_1 <output key> locking script.
func (d *Descriptor) PkScript() ([]byte, error) {
	return txscript.PayToTaprootScript(d.info.OutputKey)
}

func (d *Descriptor) Address(params *chaincfg.Params) (*btcutil.AddressTaproot, error) {
	return btcutil.NewAddressTaproot(schnorr.SerializePubKey(d.info.OutputKey), params)
}

// Leaves returns the satisfiable leaves. There is exactly one.
func (d *Descriptor) Leaves() []txscript.TapLeaf {
	return []txscript.TapLeaf{d.info.Leaf}
}

// Satisfy produces the full witness of an input spending this descriptor.
func (d *Descriptor) Satisfy(s Satisfier) (wire.TxWitness, error) {
	return d.policy.satisfy(d.info, s)
}

func (d *Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Descriptor) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}
