package ledger

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/errs"
)

func testDescriptor(t *testing.T, s *State) *descriptor.Descriptor {
	t.Helper()
	keys, err := s.GenerateKeys(1)
	require.NoError(t, err)
	d, err := descriptor.Parse("tr(pk(" + hex.EncodeToString(keys[0].XOnly()) + "))")
	require.NoError(t, err)
	return d
}

// fund stages an inbound address and turns it into a UTXO worth value.
func fund(t *testing.T, s *State, vout uint32, value int64) {
	t.Helper()
	_, err := s.SetInboundAddress(testDescriptor(t, s), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	_, added, err := s.InboundToUtxo(chainhash.Hash{0x01}, vout, value)
	require.NoError(t, err)
	require.True(t, added)
}

func TestGenerateKeysHaveEvenY(t *testing.T) {
	s := New()
	keys, err := s.GenerateKeys(16)
	require.NoError(t, err)
	require.Len(t, s.Keys, 16)

	for _, kp := range keys {
		assert.Equal(t, byte(secp.PubKeyFormatCompressedEven), kp.PubKey().SerializeCompressed()[0])
		assert.Equal(t, Passive, kp.Status)
	}
}

func TestNormalizeOddKey(t *testing.T) {
	for i := byte(1); i < 20; i++ {
		priv, _ := btcec.PrivKeyFromBytes([]byte{31: i})
		normalized := normalize(priv)
		assert.Equal(t, byte(secp.PubKeyFormatCompressedEven), normalized.PubKey().SerializeCompressed()[0])
		assert.Equal(t, priv.PubKey().SerializeCompressed()[1:], normalized.PubKey().SerializeCompressed()[1:])
	}
}

func TestImportKey(t *testing.T) {
	priv, _ := btcec.PrivKeyFromBytes([]byte{31: 3})
	wif, err := btcutil.NewWIF(priv, &chaincfg.RegressionNetParams, true)
	require.NoError(t, err)

	s := New()
	kp, err := s.ImportKey(wif.String())
	require.NoError(t, err)
	assert.Len(t, s.Keys, 1)

	again, err := s.ImportKey(wif.String())
	require.NoError(t, err)
	assert.Same(t, kp, again)

	_, err = s.ImportKey("not-a-wif")
	assert.Equal(t, errs.KindCryptographic, errs.KindOf(err))
}

func TestGeneratePreimages(t *testing.T) {
	s := New()
	pairs, err := s.GeneratePreimages(3)
	require.NoError(t, err)
	require.Len(t, s.Images, 3)
	for _, pp := range pairs {
		assert.Equal(t, chainhash.HashH(pp.Preimage[:]), chainhash.Hash(pp.Image))
	}
	assert.Empty(t, s.ActivePreimages())
}

func TestToggleIsInvolution(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := New()
		keys, err := s.GenerateKeys(3)
		require.NoError(rt, err)
		images, err := s.GeneratePreimages(3)
		require.NoError(rt, err)

		keyIdx := rapid.IntRange(0, 2).Draw(rt, "key")
		imageIdx := rapid.IntRange(0, 2).Draw(rt, "image")
		keyID := hex.EncodeToString(keys[keyIdx].XOnly())
		imageID := hex.EncodeToString(images[imageIdx].Image[:])

		if rapid.Bool().Draw(rt, "activateFirst") {
			_, err := s.ToggleKey(keyID)
			require.NoError(rt, err)
			_, err = s.ToggleImage(imageID)
			require.NoError(rt, err)
		}

		keysBefore := s.ActiveKeys()
		imagesBefore := s.ActivePreimages()

		for i := 0; i < 2; i++ {
			_, err := s.ToggleKey(keyID)
			require.NoError(rt, err)
			_, err = s.ToggleImage(imageID)
			require.NoError(rt, err)
		}

		assert.True(rt, reflect.DeepEqual(keysBefore, s.ActiveKeys()))
		assert.True(rt, reflect.DeepEqual(imagesBefore, s.ActivePreimages()))
	})
}

func TestToggleMovesPartition(t *testing.T) {
	s := New()
	keys, err := s.GenerateKeys(1)
	require.NoError(t, err)
	id := hex.EncodeToString(keys[0].XOnly())

	status, err := s.ToggleKey(id)
	require.NoError(t, err)
	assert.Equal(t, Active, status)
	assert.Contains(t, s.ActiveKeys(), id)

	status, err = s.ToggleKey(id)
	require.NoError(t, err)
	assert.Equal(t, Passive, status)
	assert.Empty(t, s.ActiveKeys())
}

func TestDeleteUnknownLeavesStateUnchanged(t *testing.T) {
	s := New()
	fund(t, s, 0, 1000)
	_, err := s.AddInput(0, 0)
	require.NoError(t, err)
	_, err = s.AddOutput(0, s.Utxos[0].Descriptor, 0)
	require.NoError(t, err)

	before, err := s.MarshalJSON()
	require.NoError(t, err)

	_, err = s.DeleteKey(hex.EncodeToString(make([]byte, 32)))
	assert.True(t, errors.Is(err, errs.ErrMissingKey))
	_, err = s.DeleteImage(hex.EncodeToString(make([]byte, 32)))
	assert.True(t, errors.Is(err, errs.ErrMissingImage))
	_, err = s.DeleteUtxo(5)
	assert.True(t, errors.Is(err, errs.ErrMissingUtxo))
	_, err = s.DeleteInput(1)
	assert.True(t, errors.Is(err, errs.ErrMissingInput))
	_, err = s.DeleteOutput(1)
	assert.True(t, errors.Is(err, errs.ErrMissingOutput))
	assert.Equal(t, errs.KindMissingReference, errs.KindOf(err))

	after, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestDeleteKnownItems(t *testing.T) {
	s := New()
	keys, err := s.GenerateKeys(1)
	require.NoError(t, err)
	images, err := s.GeneratePreimages(1)
	require.NoError(t, err)

	_, err = s.DeleteKey(hex.EncodeToString(keys[0].XOnly()))
	require.NoError(t, err)
	_, err = s.DeleteImage(hex.EncodeToString(images[0].Image[:]))
	require.NoError(t, err)
	assert.Empty(t, s.Keys)
	assert.Empty(t, s.Images)
}

func TestDoubleSpendRejected(t *testing.T) {
	s := New()
	fund(t, s, 0, 1000)

	_, err := s.AddInput(0, 0)
	require.NoError(t, err)

	_, err = s.AddInput(1, 0)
	assert.True(t, errors.Is(err, errs.ErrDoubleSpend))
	assert.Equal(t, errs.KindConsistency, errs.KindOf(err))
	assert.Len(t, s.Inputs, 1)

	// Rebinding the same slot is allowed.
	old, err := s.AddInput(0, 0)
	require.NoError(t, err)
	assert.NotNil(t, old)
}

func TestAddInputUnknownUtxo(t *testing.T) {
	s := New()
	_, err := s.AddInput(0, 0)
	assert.True(t, errors.Is(err, errs.ErrMissingUtxo))
}

func TestSecondZeroOutputRejected(t *testing.T) {
	s := New()
	d := testDescriptor(t, s)

	_, err := s.AddOutput(0, d, 0)
	require.NoError(t, err)

	_, err = s.AddOutput(1, d, 0)
	assert.True(t, errors.Is(err, errs.ErrOneZeroOutput))
	assert.Len(t, s.Outputs, 1)

	// Replacing the zero output itself is fine.
	_, err = s.AddOutput(0, d, 0)
	assert.NoError(t, err)

	_, err = s.AddOutput(1, d, -1)
	assert.True(t, errors.Is(err, errs.ErrInvalidValue))
}

func TestInboundToUtxo(t *testing.T) {
	s := New()
	_, _, err := s.InboundToUtxo(chainhash.Hash{}, 0, 1)
	assert.True(t, errors.Is(err, errs.ErrMissingAddress))

	d := testDescriptor(t, s)
	addr, err := s.SetInboundAddress(d, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	assert.Equal(t, "bcrt1p", addr.EncodeAddress()[:6])

	u, added, err := s.InboundToUtxo(chainhash.Hash{0x02}, 3, 5000)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, uint32(3), u.Outpoint.Index)
	assert.True(t, s.InboundAddress.IsNone())

	// The same funding event twice yields one UTXO.
	_, err = s.SetInboundAddress(d, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	_, added, err = s.InboundToUtxo(chainhash.Hash{0x02}, 3, 5000)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Len(t, s.Utxos, 1)
}

func TestSequences(t *testing.T) {
	s := New()
	fund(t, s, 0, 1000)
	_, err := s.AddInput(0, 0)
	require.NoError(t, err)
	assert.False(t, s.LockTimeEnabled())

	require.NoError(t, s.SetRelativeHeight(0, 144))
	assert.Equal(t, uint32(144), s.Inputs[0].Sequence)
	assert.True(t, s.LockTimeEnabled())

	require.NoError(t, s.SetRelativeTime(0, 1024))
	assert.Equal(t, uint32(wire.SequenceLockTimeIsSeconds|2), s.Inputs[0].Sequence)

	err = s.SetRelativeTime(0, 1<<30)
	assert.True(t, errors.Is(err, errs.ErrInvalidSequence))

	require.NoError(t, s.DisableRelativeLock(0))
	assert.Equal(t, uint32(wire.MaxTxInSequenceNum), s.Inputs[0].Sequence)
	assert.False(t, s.LockTimeEnabled())

	assert.True(t, errors.Is(s.SetRelativeHeight(7, 1), errs.ErrMissingInput))
}

func TestLockTimeAndFee(t *testing.T) {
	s := New()
	require.NoError(t, s.SetLockTime(800_000))
	assert.Equal(t, uint32(800_000), s.LockTime)

	err := s.SetLockTime(500_000_000)
	assert.True(t, errors.Is(err, errs.ErrInvalidHeight))
	assert.Equal(t, uint32(800_000), s.LockTime)

	require.NoError(t, s.SetFee(1000))
	assert.True(t, errors.Is(s.SetFee(-1), errs.ErrInvalidValue))
	assert.Equal(t, int64(1000), s.Fee)
}

func TestRemainingFunds(t *testing.T) {
	s := New()
	fund(t, s, 0, 90_000)
	fund(t, s, 1, 60_000)
	_, err := s.AddInput(0, 0)
	require.NoError(t, err)
	_, err = s.AddInput(1, 1)
	require.NoError(t, err)
	_, err = s.AddOutput(0, s.Utxos[0].Descriptor, 100_000)
	require.NoError(t, err)
	require.NoError(t, s.SetFee(1000))

	assert.Equal(t, int64(49_000), s.RemainingFunds())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := New()
	fund(t, s, 0, 100_000)
	images, err := s.GeneratePreimages(2)
	require.NoError(t, err)
	_, err = s.ToggleImage(hex.EncodeToString(images[0].Image[:]))
	require.NoError(t, err)
	for id := range s.Keys {
		_, err := s.ToggleKey(id)
		require.NoError(t, err)
	}
	_, err = s.AddInput(0, 0)
	require.NoError(t, err)
	require.NoError(t, s.SetRelativeHeight(0, 10))
	_, err = s.AddOutput(0, s.Utxos[0].Descriptor, 0)
	require.NoError(t, err)
	require.NoError(t, s.SetFee(500))
	require.NoError(t, s.SetLockTime(101))
	_, err = s.SetInboundAddress(s.Utxos[0].Descriptor, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	require.NoError(t, s.Save(path, true))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, len(s.Keys), len(loaded.Keys))
	assert.True(t, reflect.DeepEqual(s.ActiveKeys(), loaded.ActiveKeys()))
	assert.Equal(t, s.ActivePreimages(), loaded.ActivePreimages())
	assert.Len(t, loaded.Images, 2)
	require.Len(t, loaded.Utxos, 1)
	assert.True(t, s.Utxos[0].Equal(loaded.Utxos[0]))
	assert.Equal(t, uint32(10), loaded.Inputs[0].Sequence)
	assert.True(t, s.Outputs[0].Descriptor.Equal(loaded.Outputs[0].Descriptor))
	assert.Equal(t, int64(500), loaded.Fee)
	assert.Equal(t, uint32(101), loaded.LockTime)
	assert.True(t, loaded.InboundAddress.IsSome())

	// Normal save replaces the file.
	require.NoError(t, loaded.SetFee(700))
	require.NoError(t, loaded.Save(path, false))
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(700), again.Fee)
}

func TestSaveCreateNewRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, New().Save(path, true))

	err := New().Save(path, true)
	assert.True(t, errors.Is(err, errs.ErrStateExists))
	assert.Equal(t, errs.KindIO, errs.KindOf(err))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.Is(err, errs.ErrStateIO))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	_, err = Load(bad)
	assert.True(t, errors.Is(err, errs.ErrStateFormat))
}

func TestLoadRejectsKeyInBothPartitions(t *testing.T) {
	priv, _ := btcec.PrivKeyFromBytes([]byte{31: 2})
	pub := hex.EncodeToString(priv.PubKey().SerializeCompressed())
	secret := hex.EncodeToString(priv.Serialize())
	doc := `{"passive_keys":{"` + pub + `":"` + secret + `"},"active_keys":{"` + pub + `":"` + secret + `"},` +
		`"passive_images":{},"active_images":{},"utxos":[],"inputs":{},"outputs":{},"locktime":0,"fee":0}`

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	_, err := Load(path)
	assert.True(t, errors.Is(err, errs.ErrDuplicateItem))
}

func TestDescribe(t *testing.T) {
	s := New()
	fund(t, s, 0, 1000)
	_, err := s.AddInput(0, 0)
	require.NoError(t, err)
	require.NoError(t, s.SetRelativeHeight(0, 5))

	out := s.Describe(&chaincfg.RegressionNetParams)
	assert.Contains(t, out, "Keys (xonly: WIF) [passive]:")
	assert.Contains(t, out, "+5 blocks")
	assert.Contains(t, out, "Locktime: =0 blocks [enabled]")
}
