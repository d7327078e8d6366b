// Lab presents a taproot transaction laboratory that
// 1) Holds the ledger state (keys, preimages, UTXOs, staged transaction).
// 2) Assembles and finalizes transactions.
// 3) Keeps an optional journal of what it did.

package cmd

import (
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	logger "github.com/sirupsen/logrus"

	"github.com/uncomputable/tappy/btcman/assembler"
	"github.com/uncomputable/tappy/btcman/utxo"
	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/errs"
	"github.com/uncomputable/tappy/journal"
	"github.com/uncomputable/tappy/ledger"
)

type Lab struct {
	State       *ledger.State
	MyAssembler *assembler.Assembler
	MyJournal   *journal.Journal // nil if disabled
	MyConfig    *LabConfig
}

// InitLab writes an empty state. It refuses to overwrite an existing file.
func InitLab(lc *LabConfig) error {
	return ledger.New().Save(lc.StateFile, true)
}

// OpenLab loads the state file and opens the journal, if configured.
func OpenLab(lc *LabConfig) (*Lab, error) {
	state, err := ledger.Load(lc.StateFile)
	if err != nil {
		return nil, err
	}

	var myJournal *journal.Journal
	if lc.JournalDB != "" {
		myJournal, err = journal.Open(lc.JournalDB)
		if err != nil {
			return nil, err
		}
	}

	return &Lab{
		State:       state,
		MyAssembler: &assembler.Assembler{ChainConfig: lc.ChainConfig},
		MyJournal:   myJournal,
		MyConfig:    lc,
	}, nil
}

// Save persists the state. Only call it after a successful mutation.
func (lab *Lab) Save() error {
	return lab.State.Save(lab.MyConfig.StateFile, false)
}

func (lab *Lab) Close() {
	if lab.MyJournal != nil {
		if err := lab.MyJournal.Close(); err != nil {
			logger.WithError(err).Error("cannot close journal")
		}
	}
}

// Spend assembles the staged transaction.
func (lab *Lab) Spend() (*assembler.Assembled, error) {
	assembled, err := lab.MyAssembler.Assemble(lab.State)
	if err != nil {
		return nil, err
	}

	if lab.MyJournal != nil {
		err := lab.MyJournal.RecordAssembled(assembled.Txid, assembled.RawHex, assembled.FeeRate, assembled.VSize)
		if err != nil {
			return nil, err
		}
	}
	return assembled, nil
}

// Finalize records the staged transaction as broadcast under txid.
func (lab *Lab) Finalize(txid chainhash.Hash) ([]*utxo.UTXO, error) {
	spent := make([]*utxo.UTXO, 0, len(lab.State.Inputs))
	for _, index := range lab.State.InputIndices() {
		spent = append(spent, lab.State.Inputs[index].Utxo)
	}

	produced, err := assembler.Finalize(lab.State, txid)
	if err != nil {
		return nil, err
	}

	if lab.MyJournal != nil {
		if err := lab.MyJournal.RecordFinalized(txid, spent, len(produced)); err != nil {
			return nil, err
		}
	}
	return produced, nil
}

// FillInputs binds unbound UTXOs to new input slots until they cover
// amount plus the fee. Returns the new input indices.
func (lab *Lab) FillInputs(amount int64) ([]int, error) {
	bound := make([]*utxo.UTXO, 0, len(lab.State.Inputs))
	for _, in := range lab.State.Inputs {
		bound = append(bound, in.Utxo)
	}

	var candidates []*utxo.UTXO
	for _, u := range lab.State.Utxos {
		if !utxo.Contains(bound, u) {
			candidates = append(candidates, u)
		}
	}

	selected, err := utxo.SelectUtxo(candidates, amount, lab.State.Fee)
	if err != nil {
		return nil, err
	}

	next := 0
	if indices := lab.State.InputIndices(); len(indices) > 0 {
		next = indices[len(indices)-1] + 1
	}

	added := make([]int, 0, len(selected))
	for _, u := range selected {
		for utxoIndex, candidate := range lab.State.Utxos {
			if candidate != u {
				continue
			}
			if _, err := lab.State.AddInput(next, utxoIndex); err != nil {
				return nil, err
			}
			added = append(added, next)
			next++
			break
		}
	}
	return added, nil
}

func (lab *Lab) History() ([]journal.Entry, error) {
	if lab.MyJournal == nil {
		return nil, errs.Wrap(errs.ErrJournal, "journal disabled, set %s_%s", ENV_PREFIX, KEY_JOURNAL_DB)
	}
	return lab.MyJournal.History()
}

// CompilePolicy describes the output a descriptor string compiles to,
// without touching any state.
func CompilePolicy(s string, lc *LabConfig) (string, error) {
	desc, err := descriptor.Parse(s)
	if err != nil {
		return "", err
	}
	addr, err := desc.Address(lc.ChainConfig)
	if err != nil {
		return "", err
	}
	info := desc.SpendInfo()

	return fmt.Sprintf(
		"descriptor:   %s\naddress:      %s\ninternal key: %x\noutput key:   %x\nleaf version: %#x\nleaf script:  %x\nleaf hash:    %x\ncontrol:      %x\n",
		desc, addr.EncodeAddress(),
		info.InternalKey.SerializeCompressed()[1:],
		addr.ScriptAddress(),
		uint8(info.Leaf.LeafVersion), info.Leaf.Script,
		info.LeafHash[:], info.ControlBlock,
	), nil
}

// RemoveStateFile is used by tests and `init --force`.
func RemoveStateFile(lc *LabConfig) error {
	err := os.Remove(lc.StateFile)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
