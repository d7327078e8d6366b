package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uncomputable/tappy/errs"
)

var (
	keyA = strings.Repeat("aa", 32)
	keyB = strings.Repeat("bb", 32)

	preimage = []byte("tappy preimage tappy preimage!!!")
	image    = sha256.Sum256(preimage)
)

type fakeSatisfier struct {
	keys      map[string]bool
	preimages map[[32]byte][]byte
	older     uint32
	after     uint32
}

func (f *fakeSatisfier) LeafSignature(key []byte, _ chainhash.Hash) ([]byte, bool) {
	if !f.keys[hex.EncodeToString(key)] {
		return nil, false
	}
	return bytes.Repeat(key[:1], 64), true
}

func (f *fakeSatisfier) Preimage(image [32]byte) ([]byte, bool) {
	p, ok := f.preimages[image]
	return p, ok
}

func (f *fakeSatisfier) CheckOlder(n uint32) bool { return n <= f.older }

func (f *fakeSatisfier) CheckAfter(n uint32) bool { return n <= f.after }

func TestParseRoundTrip(t *testing.T) {
	tests := []string{
		"pk(" + keyA + ")",
		"sha256(" + hex.EncodeToString(image[:]) + ")",
		"older(144)",
		"after(800000)",
		"and(pk(" + keyA + "),older(10))",
		"or(pk(" + keyA + "),and(pk(" + keyB + "),after(100)))",
		"thresh(2,pk(" + keyA + "),pk(" + keyB + "),sha256(" + hex.EncodeToString(image[:]) + "))",
	}

	for _, text := range tests {
		n, err := Parse(text)
		require.NoError(t, err, text)
		assert.Equal(t, text, n.String())
	}
}

func TestParseIgnoresWhitespace(t *testing.T) {
	n, err := Parse("and( pk(" + keyA + "),\n older(10) )")
	require.NoError(t, err)
	assert.Equal(t, FragmentAnd, n.Fragment)
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"pk(",
		"pk()",
		"pk(" + keyA + "))",
		"pk(abcd)",
		"older(0)",
		"older(4294967295)",
		"after(2147483648)",
		"and(pk(" + keyA + "))",
		"thresh(3,older(1),older(2))",
		"thresh(0,older(1))",
		"multi(1," + keyA + ")",
		"(older(1))",
		"older(1)older(2)",
	}

	for _, text := range tests {
		_, err := Parse(text)
		assert.True(t, errors.Is(err, errs.ErrInvalidPolicy), "%q: %v", text, err)
		assert.Equal(t, errs.KindPolicy, errs.KindOf(err))
	}
}

func TestKeysAndImages(t *testing.T) {
	n, err := Parse("or(pk(" + keyA + "),and(pk(" + keyB + "),sha256(" + hex.EncodeToString(image[:]) + ")))")
	require.NoError(t, err)

	keys := n.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, keyA, hex.EncodeToString(keys[0]))
	assert.Equal(t, keyB, hex.EncodeToString(keys[1]))
	assert.Equal(t, [][32]byte{image}, n.Images())
}

func TestScriptPk(t *testing.T) {
	n, err := Parse("pk(" + keyA + ")")
	require.NoError(t, err)

	script, err := n.Script()
	require.NoError(t, err)

	disasm, err := txscript.DisasmString(script)
	require.NoError(t, err)
	assert.Equal(t, keyA+" OP_CHECKSIG", disasm)
}

func TestScriptAndHashLock(t *testing.T) {
	n, err := Parse("and(pk(" + keyA + "),sha256(" + hex.EncodeToString(image[:]) + "))")
	require.NoError(t, err)

	script, err := n.Script()
	require.NoError(t, err)

	disasm, err := txscript.DisasmString(script)
	require.NoError(t, err)
	assert.Equal(t, keyA+" OP_CHECKSIGVERIFY OP_SIZE 20 OP_EQUALVERIFY OP_SHA256 "+
		hex.EncodeToString(image[:])+" OP_EQUAL", disasm)
}

func TestScriptTimelocks(t *testing.T) {
	n, err := Parse("and(older(10),after(100))")
	require.NoError(t, err)

	script, err := n.Script()
	require.NoError(t, err)

	disasm, err := txscript.DisasmString(script)
	require.NoError(t, err)
	assert.Equal(t, "10 OP_CHECKSEQUENCEVERIFY OP_DROP 64 OP_CHECKLOCKTIMEVERIFY", disasm)
}

func TestSatisfyAndOrdersStack(t *testing.T) {
	n, err := Parse("and(pk(" + keyA + "),sha256(" + hex.EncodeToString(image[:]) + "))")
	require.NoError(t, err)

	s := &fakeSatisfier{
		keys:      map[string]bool{keyA: true},
		preimages: map[[32]byte][]byte{image: preimage},
	}
	witness, err := n.Satisfy(s, chainhash.Hash{})
	require.NoError(t, err)

	// The signature is checked first, so it sits on top.
	require.Len(t, witness, 2)
	assert.Equal(t, preimage, witness[0])
	assert.Len(t, witness[1], 64)
}

func TestSatisfyPassivePreimage(t *testing.T) {
	n, err := Parse("and(pk(" + keyA + "),sha256(" + hex.EncodeToString(image[:]) + "))")
	require.NoError(t, err)

	s := &fakeSatisfier{keys: map[string]bool{keyA: true}}
	_, err = n.Satisfy(s, chainhash.Hash{})
	assert.True(t, errors.Is(err, errs.ErrCouldNotSatisfy))
}

func TestSatisfyOrSelectsAvailableBranch(t *testing.T) {
	n, err := Parse("or(pk(" + keyA + "),pk(" + keyB + "))")
	require.NoError(t, err)

	witness, err := n.Satisfy(&fakeSatisfier{keys: map[string]bool{keyB: true}}, chainhash.Hash{})
	require.NoError(t, err)
	require.Len(t, witness, 2)
	assert.Equal(t, []byte{}, witness[1])

	witness, err = n.Satisfy(&fakeSatisfier{keys: map[string]bool{keyA: true}}, chainhash.Hash{})
	require.NoError(t, err)
	require.Len(t, witness, 2)
	assert.Equal(t, []byte{1}, witness[1])
}

func TestSatisfyOrPrefersTimelock(t *testing.T) {
	n, err := Parse("or(pk(" + keyA + "),older(5))")
	require.NoError(t, err)

	s := &fakeSatisfier{keys: map[string]bool{keyA: true}, older: 10}
	witness, err := n.Satisfy(s, chainhash.Hash{})
	require.NoError(t, err)
	assert.Equal(t, wire.TxWitness{{}}, witness)
}

func TestSatisfyTimelockTooEarly(t *testing.T) {
	n, err := Parse("after(100)")
	require.NoError(t, err)

	_, err = n.Satisfy(&fakeSatisfier{after: 99}, chainhash.Hash{})
	assert.True(t, errors.Is(err, errs.ErrCouldNotSatisfy))

	witness, err := n.Satisfy(&fakeSatisfier{after: 100}, chainhash.Hash{})
	require.NoError(t, err)
	assert.Empty(t, witness)
}

func TestSatisfyThresh(t *testing.T) {
	n, err := Parse("thresh(2,pk(" + keyA + "),pk(" + keyB + "),older(5))")
	require.NoError(t, err)

	// Only keyB and the timelock are available.
	s := &fakeSatisfier{keys: map[string]bool{keyB: true}, older: 5}
	witness, err := n.Satisfy(s, chainhash.Hash{})
	require.NoError(t, err)

	// Bottom to top: older selector, keyB sig + selector, keyA dissatisfied.
	require.Len(t, witness, 4)
	assert.Equal(t, []byte{1}, witness[0])
	assert.Len(t, witness[1], 64)
	assert.Equal(t, []byte{1}, witness[2])
	assert.Equal(t, []byte{}, witness[3])

	_, err = n.Satisfy(&fakeSatisfier{keys: map[string]bool{keyB: true}}, chainhash.Hash{})
	assert.True(t, errors.Is(err, errs.ErrCouldNotSatisfy))
}

func TestProgramRoundTrip(t *testing.T) {
	n, err := Parse("thresh(1,pk(" + keyA + "),and(sha256(" + hex.EncodeToString(image[:]) + "),after(7)))")
	require.NoError(t, err)

	program, err := EncodeProgram(n)
	require.NoError(t, err)

	decoded, err := DecodeProgram(program)
	require.NoError(t, err)
	assert.Equal(t, n.String(), decoded.String())

	root1, err := CommitmentRoot(n)
	require.NoError(t, err)
	root2, err := CommitmentRoot(decoded)
	require.NoError(t, err)
	assert.Equal(t, root1, root2)
}

func TestDecodeProgramRejectsGarbage(t *testing.T) {
	_, err := DecodeProgram([]byte{0x00, 0x01, 0x63})
	assert.True(t, errors.Is(err, errs.ErrInvalidPolicy))
}

func TestProgramWitnessRoundTrip(t *testing.T) {
	witness := wire.TxWitness{{}, {1}, bytes.Repeat([]byte{7}, 64)}

	encoded, err := EncodeProgramWitness(witness)
	require.NoError(t, err)

	decoded, err := DecodeProgramWitness(encoded)
	require.NoError(t, err)
	assert.Equal(t, witness, decoded)
}
