// Implements descriptor.Satisfier with local keys.
// 1) Signs key-path and script-path spends of one input.
// 2) Reveals only active preimages.
// 3) Checks timelocks against the input sequence and tx locktime.

package satisfier

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
	logger "github.com/sirupsen/logrus"

	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/errs"
)

type Signer struct {
	cache     *SighashCache
	index     int
	keys      map[string]*btcec.PrivateKey // x-only hex -> secret
	preimages map[[32]byte][]byte
	leaves    map[chainhash.Hash]txscript.TapLeaf

	// HashType is appended to signatures unless it is SigHashDefault.
	HashType txscript.SigHashType
}

// NewSigner prepares the satisfier of input index, which spends desc.
// keys and preimages are read, never modified.
func NewSigner(
	cache *SighashCache,
	index int,
	desc *descriptor.Descriptor,
	keys map[string]*btcec.PrivateKey,
	preimages map[[32]byte][]byte,
) *Signer {
	leaves := make(map[chainhash.Hash]txscript.TapLeaf)
	for _, leaf := range desc.Leaves() {
		leaves[leaf.TapHash()] = leaf
	}
	return &Signer{
		cache:     cache,
		index:     index,
		keys:      keys,
		preimages: preimages,
		leaves:    leaves,
		HashType:  txscript.SigHashDefault,
	}
}

func (s *Signer) sign(priv *btcec.PrivateKey, hash []byte) ([]byte, error) {
	sig, err := schnorr.Sign(priv, hash)
	if err != nil {
		return nil, errs.ErrCrypto.Wrap(err)
	}
	b := sig.Serialize()
	if s.HashType != txscript.SigHashDefault {
		b = append(b, byte(s.HashType))
	}
	return b, nil
}

func (s *Signer) lookupKey(xOnly []byte) (*btcec.PrivateKey, bool) {
	id := hex.EncodeToString(xOnly)
	priv, ok := s.keys[id]
	if !ok {
		logger.WithFields(logger.Fields{
			"input": s.index,
			"key":   id,
		}).Debug(errs.ErrUnknownKey.Message())
	}
	return priv, ok
}

// KeyPathSignature signs with the internal key tweaked by merkleRoot.
func (s *Signer) KeyPathSignature(internalKey *btcec.PublicKey, merkleRoot []byte) ([]byte, bool) {
	priv, ok := s.lookupKey(schnorr.SerializePubKey(internalKey))
	if !ok {
		return nil, false
	}

	tweaked, err := TweakPrivKey(priv, merkleRoot)
	if err != nil {
		logger.WithField("input", s.index).WithError(err).Error("cannot tweak internal key")
		return nil, false
	}

	hash, err := s.cache.KeySpend(s.index, s.HashType)
	if err != nil {
		logger.WithField("input", s.index).WithError(err).Error("cannot compute key spend sighash")
		return nil, false
	}

	sig, err := s.sign(tweaked, hash)
	if err != nil {
		logger.WithField("input", s.index).WithError(err).Error("cannot sign key spend")
		return nil, false
	}
	return sig, true
}

// LeafSignature signs the script-path sighash of the leaf with leafHash.
func (s *Signer) LeafSignature(key []byte, leafHash chainhash.Hash) ([]byte, bool) {
	leaf, ok := s.leaves[leafHash]
	if !ok {
		logger.WithFields(logger.Fields{
			"input": s.index,
			"leaf":  leafHash.String(),
		}).Debug("unknown leaf")
		return nil, false
	}

	priv, ok := s.lookupKey(key)
	if !ok {
		return nil, false
	}

	hash, err := s.cache.ScriptSpend(s.index, s.HashType, leaf)
	if err != nil {
		logger.WithField("input", s.index).WithError(err).Error("cannot compute script spend sighash")
		return nil, false
	}

	sig, err := s.sign(priv, hash)
	if err != nil {
		logger.WithField("input", s.index).WithError(err).Error("cannot sign script spend")
		return nil, false
	}
	return sig, true
}

// Preimage reveals active preimages only.
func (s *Signer) Preimage(image [32]byte) ([]byte, bool) {
	preimage, ok := s.preimages[image]
	if !ok {
		logger.WithFields(logger.Fields{
			"input": s.index,
			"image": hex.EncodeToString(image[:]),
		}).Debug(errs.ErrUnknownImage.Message())
	}
	return preimage, ok
}

func (s *Signer) txIn() *wire.TxIn {
	return s.cache.tx.TxIn[s.index]
}

// CheckOlder follows BIP112: the relative lock must be enabled, the tx
// version at least 2, and the sequence of the same unit and at least n.
func (s *Signer) CheckOlder(n uint32) bool {
	sequence := s.txIn().Sequence
	if sequence&wire.SequenceLockTimeDisabled != 0 {
		return false
	}
	if s.cache.tx.Version < 2 {
		return false
	}

	mask := uint32(wire.SequenceLockTimeIsSeconds | wire.SequenceLockTimeMask)
	return verifyLockTime(sequence&mask, wire.SequenceLockTimeIsSeconds, n&mask)
}

// CheckAfter follows BIP65: the input must not be final and the tx
// locktime must be of the same unit and at least n.
func (s *Signer) CheckAfter(n uint32) bool {
	if s.txIn().Sequence == wire.MaxTxInSequenceNum {
		return false
	}
	return verifyLockTime(s.cache.tx.LockTime, txscript.LockTimeThreshold, n)
}

func verifyLockTime(txLockTime, threshold, lockTime uint32) bool {
	if !((txLockTime < threshold && lockTime < threshold) ||
		(txLockTime >= threshold && lockTime >= threshold)) {
		return false
	}
	return lockTime <= txLockTime
}

// TweakPrivKey applies the BIP341 tap tweak to a secret key: negate if the
// public key has odd y, then add the tagged hash of the x-only key and the
// merkle root.
func TweakPrivKey(priv *btcec.PrivateKey, merkleRoot []byte) (*btcec.PrivateKey, error) {
	scalar := priv.Key
	pubBytes := priv.PubKey().SerializeCompressed()
	if pubBytes[0] == secp.PubKeyFormatCompressedOdd {
		scalar.Negate()
	}

	tweakHash := chainhash.TaggedHash(chainhash.TagTapTweak, pubBytes[1:], merkleRoot)

	var tweak btcec.ModNScalar
	if overflow := tweak.SetBytes((*[32]byte)(tweakHash)); overflow != 0 {
		return nil, errs.Wrap(errs.ErrCrypto, "tap tweak exceeds the curve order")
	}

	scalar.Add(&tweak)
	if scalar.IsZero() {
		return nil, errs.Wrap(errs.ErrCrypto, "tweaked key is zero")
	}
	return btcec.PrivKeyFromScalar(&scalar), nil
}
