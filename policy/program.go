package policy

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"

	"github.com/uncomputable/tappy/errs"
)

// Program encoding: every node is one TLV stream, children are nested as
// length-prefixed streams inside the subs record.
const (
	typeFragment tlv.Type = 0
	typeData     tlv.Type = 2
	typeValue    tlv.Type = 4
	typeSubs     tlv.Type = 6
)

// maxWitnessItem bounds a single element when decoding a program witness.
const maxWitnessItem = 4_000_000

// TagProgramCommit is the tag of the commitment root hash.
var TagProgramCommit = []byte("TapProgram/commit")

// EncodeProgram serializes a policy for the compact program commitment.
func EncodeProgram(n *Node) ([]byte, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encodeNode(&buf, n); err != nil {
		return nil, errs.ErrInvalidPolicy.Wrap(err)
	}
	return buf.Bytes(), nil
}

func encodeNode(w io.Writer, n *Node) error {
	fragment := uint8(n.Fragment)
	value := n.Value

	var data []byte
	switch n.Fragment {
	case FragmentPk:
		data = n.Key
	case FragmentSha256:
		data = n.Image[:]
	}

	var (
		subs bytes.Buffer
		b    [8]byte
	)
	for _, sub := range n.Subs {
		var child bytes.Buffer
		if err := encodeNode(&child, sub); err != nil {
			return err
		}
		if err := tlv.WriteVarInt(&subs, uint64(child.Len()), &b); err != nil {
			return err
		}
		subs.Write(child.Bytes())
	}
	subBytes := subs.Bytes()

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeFragment, &fragment),
		tlv.MakePrimitiveRecord(typeData, &data),
		tlv.MakePrimitiveRecord(typeValue, &value),
		tlv.MakePrimitiveRecord(typeSubs, &subBytes),
	)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// DecodeProgram is the inverse of EncodeProgram.
func DecodeProgram(b []byte) (*Node, error) {
	n, err := decodeNode(b)
	if err != nil {
		return nil, errs.ErrInvalidPolicy.Wrap(err)
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func decodeNode(b []byte) (*Node, error) {
	var (
		fragment uint8
		data     []byte
		value    uint32
		subBytes []byte
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeFragment, &fragment),
		tlv.MakePrimitiveRecord(typeData, &data),
		tlv.MakePrimitiveRecord(typeValue, &value),
		tlv.MakePrimitiveRecord(typeSubs, &subBytes),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	n := &Node{Fragment: Fragment(fragment), Value: value}
	switch n.Fragment {
	case FragmentPk:
		n.Key = data
	case FragmentSha256:
		if len(data) != 32 {
			return nil, fmt.Errorf("sha256: image must be 32 bytes, got %d", len(data))
		}
		copy(n.Image[:], data)
	}

	var (
		r   = bytes.NewReader(subBytes)
		buf [8]byte
	)
	for r.Len() > 0 {
		size, err := tlv.ReadVarInt(r, &buf)
		if err != nil {
			return nil, err
		}
		if size > uint64(r.Len()) {
			return nil, fmt.Errorf("child of %d bytes exceeds remaining %d", size, r.Len())
		}
		child := make([]byte, size)
		if _, err := io.ReadFull(r, child); err != nil {
			return nil, err
		}
		sub, err := decodeNode(child)
		if err != nil {
			return nil, err
		}
		n.Subs = append(n.Subs, sub)
	}
	return n, nil
}

// CommitmentRoot is the 32-byte content hash that a program leaf commits to.
func CommitmentRoot(n *Node) (chainhash.Hash, error) {
	program, err := EncodeProgram(n)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return *chainhash.TaggedHash(TagProgramCommit, program), nil
}

// EncodeProgramWitness serializes the solver's witness stack for an
// off-chain program interpreter, in the consensus witness format.
func EncodeProgramWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, uint64(len(witness))); err != nil {
		return nil, err
	}
	for _, item := range witness {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func DecodeProgramWitness(b []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(b)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > uint64(len(b)) {
		return nil, fmt.Errorf("witness count %d exceeds input", count)
	}

	witness := make(wire.TxWitness, 0, count)
	for i := uint64(0); i < count; i++ {
		item, err := wire.ReadVarBytes(r, 0, maxWitnessItem, "witness item")
		if err != nil {
			return nil, err
		}
		witness = append(witness, item)
	}
	return witness, nil
}
