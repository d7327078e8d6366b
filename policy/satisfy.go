package policy

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/uncomputable/tappy/errs"
)

// Satisfier answers the queries the solver needs to build a witness.
// A false result makes the corresponding path unavailable.
type Satisfier interface {
	// LeafSignature returns a signature by the x-only key over the
	// script-path sighash of the leaf with the given hash.
	LeafSignature(key []byte, leafHash chainhash.Hash) ([]byte, bool)

	// Preimage returns the preimage of a SHA-256 image.
	Preimage(image [32]byte) ([]byte, bool)

	// CheckOlder reports whether the input's sequence satisfies older(n).
	CheckOlder(n uint32) bool

	// CheckAfter reports whether the transaction's locktime satisfies
	// after(n).
	CheckAfter(n uint32) bool
}

// satisfaction is a candidate witness for a fragment. The last element of
// witness ends up on top of the stack.
type satisfaction struct {
	witness   wire.TxWitness
	available bool
	hasSig    bool
}

func unavailable() *satisfaction {
	return &satisfaction{}
}

func (s *satisfaction) push(elem []byte) *satisfaction {
	witness := append(wire.TxWitness{}, s.witness...)
	return &satisfaction{
		witness:   append(witness, elem),
		available: s.available,
		hasSig:    s.hasSig,
	}
}

// then returns the satisfaction of running s before b: b's elements sit
// below s's on the stack.
func (s *satisfaction) then(b *satisfaction) *satisfaction {
	witness := append(wire.TxWitness{}, b.witness...)
	return &satisfaction{
		witness:   append(witness, s.witness...),
		available: s.available && b.available,
		hasSig:    s.hasSig || b.hasSig,
	}
}

func (s *satisfaction) or(b *satisfaction) *satisfaction {
	if !s.available {
		return b
	}
	if !b.available {
		return s
	}
	// Signature-free branches win, then the smaller witness.
	if !s.hasSig && b.hasSig {
		return s
	}
	if s.hasSig && !b.hasSig {
		return b
	}
	if s.witness.SerializeSize() <= b.witness.SerializeSize() {
		return s
	}
	return b
}

// Satisfy builds the witness stack that satisfies the compiled leaf script
// of n. The leaf script and control block are not included.
func (n *Node) Satisfy(s Satisfier, leafHash chainhash.Hash) (wire.TxWitness, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	sat := n.satisfy(s, leafHash)
	if !sat.available {
		return nil, errs.ErrCouldNotSatisfy
	}
	return sat.witness, nil
}

func (n *Node) satisfy(s Satisfier, leafHash chainhash.Hash) *satisfaction {
	switch n.Fragment {
	case FragmentPk:
		sig, ok := s.LeafSignature(n.Key, leafHash)
		if !ok {
			return unavailable()
		}
		return &satisfaction{witness: wire.TxWitness{sig}, available: true, hasSig: true}

	case FragmentSha256:
		preimage, ok := s.Preimage(n.Image)
		if !ok {
			return unavailable()
		}
		return &satisfaction{witness: wire.TxWitness{preimage}, available: true}

	case FragmentOlder:
		return &satisfaction{witness: wire.TxWitness{}, available: s.CheckOlder(n.Value)}

	case FragmentAfter:
		return &satisfaction{witness: wire.TxWitness{}, available: s.CheckAfter(n.Value)}

	case FragmentAnd:
		x := n.Subs[0].satisfy(s, leafHash)
		y := n.Subs[1].satisfy(s, leafHash)
		return x.then(y)

	case FragmentOr:
		x := n.Subs[0].satisfy(s, leafHash).push([]byte{1})
		y := n.Subs[1].satisfy(s, leafHash).push([]byte{})
		return x.or(y)

	case FragmentThresh:
		return n.satisfyThresh(s, leafHash)
	}

	return unavailable()
}

// satisfyThresh satisfies the K cheapest available sub-policies and
// dissatisfies the others with an empty selector.
func (n *Node) satisfyThresh(s Satisfier, leafHash chainhash.Hash) *satisfaction {
	sats := make([]*satisfaction, len(n.Subs))
	var candidates []int
	for i, sub := range n.Subs {
		sats[i] = sub.satisfy(s, leafHash).push([]byte{1})
		if sats[i].available {
			candidates = append(candidates, i)
		}
	}

	k := int(n.Value)
	if len(candidates) < k {
		return unavailable()
	}

	// Signature-free subs first, then by witness size.
	sort.SliceStable(candidates, func(a, b int) bool {
		sa, sb := sats[candidates[a]], sats[candidates[b]]
		if sa.hasSig != sb.hasSig {
			return !sa.hasSig
		}
		return sa.witness.SerializeSize() < sb.witness.SerializeSize()
	})

	chosen := make(map[int]bool, k)
	for _, i := range candidates[:k] {
		chosen[i] = true
	}

	// The first sub-policy runs first and must find its elements on top.
	result := &satisfaction{witness: wire.TxWitness{}, available: true}
	for i := len(n.Subs) - 1; i >= 0; i-- {
		if chosen[i] {
			result.witness = append(result.witness, sats[i].witness...)
			result.hasSig = result.hasSig || sats[i].hasSig
		} else {
			result.witness = append(result.witness, []byte{})
		}
	}
	return result
}
