package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/uncomputable/tappy/btcman/utxo"
	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/errs"
)

// stateJSON is the on-disk layout. Keys map compressed public key hex to
// secret hex; images map image hex to preimage hex.
type stateJSON struct {
	PassiveKeys    map[string]string      `json:"passive_keys"`
	ActiveKeys     map[string]string      `json:"active_keys"`
	PassiveImages  map[string]string      `json:"passive_images"`
	ActiveImages   map[string]string      `json:"active_images"`
	InboundAddress *descriptor.Descriptor `json:"inbound_address,omitempty"`
	Utxos          []*utxo.UTXO           `json:"utxos"`
	Inputs         map[int]*Input         `json:"inputs"`
	Outputs        map[int]*Output        `json:"outputs"`
	LockTime       uint32                 `json:"locktime"`
	Fee            int64                  `json:"fee"`
}

func (s *State) MarshalJSON() ([]byte, error) {
	raw := stateJSON{
		PassiveKeys:    make(map[string]string),
		ActiveKeys:     make(map[string]string),
		PassiveImages:  make(map[string]string),
		ActiveImages:   make(map[string]string),
		InboundAddress: s.InboundAddress.UnwrapOr(nil),
		Utxos:          s.Utxos,
		Inputs:         s.Inputs,
		Outputs:        s.Outputs,
		LockTime:       s.LockTime,
		Fee:            s.Fee,
	}

	for _, kp := range s.Keys {
		pub := hex.EncodeToString(kp.PubKey().SerializeCompressed())
		secret := hex.EncodeToString(kp.Priv.Serialize())
		if kp.Status == Active {
			raw.ActiveKeys[pub] = secret
		} else {
			raw.PassiveKeys[pub] = secret
		}
	}
	for id, pp := range s.Images {
		preimage := hex.EncodeToString(pp.Preimage[:])
		if pp.Status == Active {
			raw.ActiveImages[id] = preimage
		} else {
			raw.PassiveImages[id] = preimage
		}
	}

	return json.Marshal(raw)
}

func (s *State) UnmarshalJSON(b []byte) error {
	var raw stateJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	loaded := New()
	for status, keys := range map[Status]map[string]string{Passive: raw.PassiveKeys, Active: raw.ActiveKeys} {
		for pub, secret := range keys {
			kp, err := decodeKey(pub, secret)
			if err != nil {
				return err
			}
			kp.Status = status
			id := hex.EncodeToString(kp.XOnly())
			if _, ok := loaded.Keys[id]; ok {
				return errs.Wrap(errs.ErrDuplicateItem, "key %s", pub)
			}
			loaded.Keys[id] = kp
		}
	}
	for status, images := range map[Status]map[string]string{Passive: raw.PassiveImages, Active: raw.ActiveImages} {
		for image, preimage := range images {
			pp, err := decodeImage(image, preimage)
			if err != nil {
				return err
			}
			pp.Status = status
			if _, ok := loaded.Images[image]; ok {
				return errs.Wrap(errs.ErrDuplicateItem, "image %s", image)
			}
			loaded.Images[image] = pp
		}
	}

	if raw.InboundAddress != nil {
		loaded.InboundAddress = fn.Some(raw.InboundAddress)
	}
	if raw.Utxos != nil {
		loaded.Utxos = raw.Utxos
	}
	if raw.Inputs != nil {
		loaded.Inputs = raw.Inputs
	}
	if raw.Outputs != nil {
		loaded.Outputs = raw.Outputs
	}
	for index, in := range loaded.Inputs {
		if in == nil || in.Utxo == nil {
			return fmt.Errorf("input #%d has no utxo", index)
		}
	}
	for index, out := range loaded.Outputs {
		if out == nil || out.Descriptor == nil {
			return fmt.Errorf("output #%d has no descriptor", index)
		}
	}
	loaded.LockTime = raw.LockTime
	loaded.Fee = raw.Fee
	loaded.rand = s.randOrDefault()

	*s = *loaded
	return nil
}

func (s *State) randOrDefault() io.Reader {
	if s.rand != nil {
		return s.rand
	}
	return rand.Reader
}

func decodeKey(pub string, secret string) (*KeyPair, error) {
	b, err := hex.DecodeString(secret)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("key %s: secret must be 32 bytes of hex", pub)
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	if hex.EncodeToString(priv.PubKey().SerializeCompressed()) != pub {
		return nil, fmt.Errorf("key %s does not match its secret", pub)
	}
	return &KeyPair{Priv: priv}, nil
}

func decodeImage(image string, preimage string) (*PreimagePair, error) {
	b, err := hex.DecodeString(preimage)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("image %s: preimage must be 32 bytes of hex", image)
	}
	pp := &PreimagePair{}
	copy(pp.Preimage[:], b)
	pp.Image = chainhash.HashH(b)
	if hex.EncodeToString(pp.Image[:]) != image {
		return nil, fmt.Errorf("image %s does not match its preimage", image)
	}
	return pp, nil
}

// Load reads the state file at path.
func Load(path string) (*State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.ErrStateIO.Wrap(err)
	}

	s := New()
	if err := json.Unmarshal(b, s); err != nil {
		if errors.Is(err, errs.ErrDuplicateItem) {
			return nil, err
		}
		return nil, errs.ErrStateFormat.Wrap(err)
	}
	return s, nil
}

// Save writes the state to path. With createNew, an existing file is an
// error; otherwise the file is replaced through a rename.
func (s *State) Save(path string, createNew bool) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errs.ErrStateFormat.Wrap(err)
	}

	if createNew {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, os.ErrExist) {
			return errs.Wrap(errs.ErrStateExists, "%s", path)
		}
		if err != nil {
			return errs.ErrStateIO.Wrap(err)
		}
		defer f.Close()
		if _, err := f.Write(b); err != nil {
			return errs.ErrStateIO.Wrap(err)
		}
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errs.ErrStateIO.Wrap(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errs.ErrStateIO.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return errs.ErrStateIO.Wrap(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errs.ErrStateIO.Wrap(err)
	}
	return nil
}
