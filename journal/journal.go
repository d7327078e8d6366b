// Package journal keeps an append-only history of the transactions a lab
// assembled and finalized. The ledger state file only holds the present.
package journal

import (
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	logger "github.com/sirupsen/logrus"

	"github.com/uncomputable/tappy/btcman/utxo"
	"github.com/uncomputable/tappy/errs"
)

// Journal records lab history in any backend that implements Storage.
type Journal struct {
	backend Storage
	now     func() time.Time
}

func New(backend Storage) *Journal {
	return &Journal{backend: backend, now: time.Now}
}

// Open opens the SQLite journal at path.
func Open(path string) (*Journal, error) {
	backend, err := NewSQLiteStorage(path)
	if err != nil {
		return nil, errs.ErrJournal.Wrap(err)
	}
	return New(backend), nil
}

func (j *Journal) Close() error {
	return j.backend.Close()
}

func (j *Journal) RecordAssembled(txid chainhash.Hash, rawHex string, feeRate float64, vsize int64) error {
	err := j.backend.InsertAssembledTx(AssembledTx{
		TxID:      txid.String(),
		RawHex:    rawHex,
		FeeRate:   feeRate,
		VSize:     vsize,
		CreatedAt: j.now().UnixNano(),
	})
	if err != nil {
		return errs.ErrJournal.Wrap(err)
	}
	return nil
}

// RecordFinalized records that txid spent the given UTXOs and produced
// outputs new ones. A txid that was never assembled is recorded anyway,
// with a warning.
func (j *Journal) RecordFinalized(txid chainhash.Hash, spent []*utxo.UTXO, outputs int) error {
	id := txid.String()

	assembled, err := j.backend.QueryAssembledTx(id)
	if err != nil {
		return errs.ErrJournal.Wrap(err)
	}
	if assembled == nil {
		logger.WithField("txid", id).Warn("finalizing a transaction that was never assembled")
	}

	records := make([]SpentUTXO, 0, len(spent))
	for _, u := range spent {
		records = append(records, SpentUTXO{
			TxID:       u.Outpoint.Hash.String(),
			Vout:       int32(u.Outpoint.Index),
			Amount:     u.Amount(),
			PkScript:   u.Output.PkScript,
			Descriptor: u.Descriptor.String(),
			SpentBy:    id,
		})
	}

	err = j.backend.InsertFinalizedTx(FinalizedTx{
		TxID:      id,
		Outputs:   int32(outputs),
		CreatedAt: j.now().UnixNano(),
	}, records)
	if err != nil {
		return errs.ErrJournal.Wrap(err)
	}
	return nil
}

// Entry is one line of history.
type Entry struct {
	Time   time.Time
	Action string // "assembled" or "finalized"
	TxID   string
	Detail string
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %-9s %s %s", e.Time.UTC().Format(time.RFC3339), e.Action, e.TxID, e.Detail)
}

// History lists everything recorded, oldest first.
func (j *Journal) History() ([]Entry, error) {
	assembled, err := j.backend.QueryAssembled()
	if err != nil {
		return nil, errs.ErrJournal.Wrap(err)
	}
	finalized, err := j.backend.QueryFinalized()
	if err != nil {
		return nil, errs.ErrJournal.Wrap(err)
	}

	entries := make([]Entry, 0, len(assembled)+len(finalized))
	for _, tx := range assembled {
		entries = append(entries, Entry{
			Time:   time.Unix(0, tx.CreatedAt),
			Action: "assembled",
			TxID:   tx.TxID,
			Detail: fmt.Sprintf("%d vB, %.2f sat/vB", tx.VSize, tx.FeeRate),
		})
	}
	for _, tx := range finalized {
		spent, err := j.backend.QuerySpentBy(tx.TxID)
		if err != nil {
			return nil, errs.ErrJournal.Wrap(err)
		}
		var value int64
		for _, u := range spent {
			value += u.Amount
		}
		entries = append(entries, Entry{
			Time:   time.Unix(0, tx.CreatedAt),
			Action: "finalized",
			TxID:   tx.TxID,
			Detail: fmt.Sprintf("spent %d utxo(s) worth %d sat, produced %d", len(spent), value, tx.Outputs),
		})
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].Time.Before(entries[b].Time)
	})
	return entries, nil
}
