package ledger

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
	logger "github.com/sirupsen/logrus"

	"github.com/uncomputable/tappy/errs"
)

// normalize negates the secret if its public key has odd y, so that the
// x-only key used in policies signs with this exact scalar.
func normalize(priv *btcec.PrivateKey) *btcec.PrivateKey {
	if priv.PubKey().SerializeCompressed()[0] != secp.PubKeyFormatCompressedOdd {
		return priv
	}
	scalar := priv.Key
	scalar.Negate()
	return btcec.PrivKeyFromScalar(&scalar)
}

// ParseKeyID accepts a 32-byte x-only or 33-byte compressed key in hex and
// returns the x-only hex used to index keys.
func ParseKeyID(s string) (string, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%q: %w", s, errs.ErrMissingKey.Wrap(err))
	}
	switch len(b) {
	case 32:
		return hex.EncodeToString(b), nil
	case 33:
		return hex.EncodeToString(b[1:]), nil
	}
	return "", errs.Wrap(errs.ErrMissingKey, "%q is not a public key", s)
}

// ParseImageID validates a 32-byte image in hex.
func ParseImageID(s string) (string, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return "", errs.Wrap(errs.ErrMissingImage, "%q is not a 32-byte image", s)
	}
	return hex.EncodeToString(b), nil
}

func (s *State) addKey(priv *btcec.PrivateKey) *KeyPair {
	kp := &KeyPair{Priv: normalize(priv), Status: Passive}
	id := hex.EncodeToString(kp.XOnly())
	if existing, ok := s.Keys[id]; ok {
		return existing
	}
	s.Keys[id] = kp
	return kp
}

// GenerateKeys creates n passive keys with even y.
func (s *State) GenerateKeys(n int) ([]*KeyPair, error) {
	keys := make([]*KeyPair, 0, n)
	for i := 0; i < n; i++ {
		priv, err := secp.GeneratePrivateKeyFromRand(s.rand)
		if err != nil {
			return nil, errs.ErrCrypto.Wrap(err)
		}
		kp := s.addKey(priv)
		logger.WithField("key", hex.EncodeToString(kp.XOnly())).Debug("new key")
		keys = append(keys, kp)
	}
	return keys, nil
}

// ImportKey adds a WIF-encoded key as passive. Importing a known key
// returns it unchanged.
func (s *State) ImportKey(wif string) (*KeyPair, error) {
	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, errs.New(errs.KindCryptographic, "invalid WIF", err)
	}
	return s.addKey(decoded.PrivKey), nil
}

// GeneratePreimages creates n passive 32-byte preimages.
func (s *State) GeneratePreimages(n int) ([]*PreimagePair, error) {
	pairs := make([]*PreimagePair, 0, n)
	for i := 0; i < n; i++ {
		pp := &PreimagePair{Status: Passive}
		if _, err := io.ReadFull(s.rand, pp.Preimage[:]); err != nil {
			return nil, errs.ErrCrypto.Wrap(err)
		}
		pp.Image = chainhash.HashH(pp.Preimage[:])
		id := hex.EncodeToString(pp.Image[:])
		s.Images[id] = pp
		logger.WithField("image", id).Debug("new image")
		pairs = append(pairs, pp)
	}
	return pairs, nil
}

// ToggleKey moves a key to the other partition and returns its new status.
func (s *State) ToggleKey(id string) (Status, error) {
	kp, ok := s.Keys[id]
	if !ok {
		return Passive, errs.Wrap(errs.ErrMissingKey, "key %s", id)
	}
	kp.Status = kp.Status.Toggle()
	return kp.Status, nil
}

func (s *State) ToggleImage(id string) (Status, error) {
	pp, ok := s.Images[id]
	if !ok {
		return Passive, errs.Wrap(errs.ErrMissingImage, "image %s", id)
	}
	pp.Status = pp.Status.Toggle()
	return pp.Status, nil
}

func (s *State) DeleteKey(id string) (*KeyPair, error) {
	kp, ok := s.Keys[id]
	if !ok {
		return nil, errs.Wrap(errs.ErrMissingKey, "key %s", id)
	}
	delete(s.Keys, id)
	return kp, nil
}

func (s *State) DeleteImage(id string) (*PreimagePair, error) {
	pp, ok := s.Images[id]
	if !ok {
		return nil, errs.Wrap(errs.ErrMissingImage, "image %s", id)
	}
	delete(s.Images, id)
	return pp, nil
}
