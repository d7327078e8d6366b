package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	assembledTable = "assembled_tx"
	spentTable     = "spent_utxo"
	finalizedTable = "finalized_tx"
)

// SQLiteStorage implements Storage for SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLiteStorage
// dbFilePath is the path to the SQLite database file
func NewSQLiteStorage(dbFilePath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbFilePath)
	if err != nil {
		return nil, err
	}

	storage := &SQLiteStorage{db: db}
	if err := storage.init(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// init creates the tables if not existed before.
func (s *SQLiteStorage) init() error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		tx_id TEXT PRIMARY KEY,
		raw_hex TEXT,
		fee_rate REAL,
		vsize INTEGER,
		created_at INTEGER
	);
	CREATE TABLE IF NOT EXISTS %s (
		tx_id TEXT,
		vout INTEGER,
		amount INTEGER,
		pkscript BLOB,
		descriptor TEXT,
		spent_by TEXT,
		PRIMARY KEY (tx_id, vout)
	);
	CREATE INDEX IF NOT EXISTS idx_spent_by ON %s (spent_by);
	CREATE TABLE IF NOT EXISTS %s (
		tx_id TEXT PRIMARY KEY,
		outputs INTEGER,
		created_at INTEGER
	);
	`, assembledTable, spentTable, spentTable, finalizedTable)
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) InsertAssembledTx(tx AssembledTx) error {
	query := fmt.Sprintf(`
	INSERT OR REPLACE INTO %s (tx_id, raw_hex, fee_rate, vsize, created_at)
	VALUES (?, ?, ?, ?, ?);
	`, assembledTable)
	_, err := s.db.Exec(query, tx.TxID, tx.RawHex, tx.FeeRate, tx.VSize, tx.CreatedAt)
	return err
}

func (s *SQLiteStorage) QueryAssembledTx(txID string) (*AssembledTx, error) {
	query := fmt.Sprintf(`
	SELECT tx_id, raw_hex, fee_rate, vsize, created_at
	FROM %s
	WHERE tx_id = ?;
	`, assembledTable)
	var tx AssembledTx
	err := s.db.QueryRow(query, txID).Scan(&tx.TxID, &tx.RawHex, &tx.FeeRate, &tx.VSize, &tx.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil // Never assembled
	} else if err != nil {
		return nil, err
	}
	return &tx, nil
}

// InsertFinalizedTx writes the transaction and its spent UTXOs atomically.
func (s *SQLiteStorage) InsertFinalizedTx(tx FinalizedTx, spent []SpentUTXO) error {
	dbTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	query := fmt.Sprintf(`
	INSERT OR REPLACE INTO %s (tx_id, outputs, created_at)
	VALUES (?, ?, ?);
	`, finalizedTable)
	if _, err := dbTx.Exec(query, tx.TxID, tx.Outputs, tx.CreatedAt); err != nil {
		return err
	}

	query = fmt.Sprintf(`
	INSERT OR REPLACE INTO %s (tx_id, vout, amount, pkscript, descriptor, spent_by)
	VALUES (?, ?, ?, ?, ?, ?);
	`, spentTable)
	for _, u := range spent {
		if _, err := dbTx.Exec(query, u.TxID, u.Vout, u.Amount, u.PkScript, u.Descriptor, u.SpentBy); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

func (s *SQLiteStorage) QuerySpentBy(txID string) ([]SpentUTXO, error) {
	query := fmt.Sprintf(`
	SELECT tx_id, vout, amount, pkscript, descriptor, spent_by
	FROM %s
	WHERE spent_by = ?
	ORDER BY tx_id, vout;
	`, spentTable)
	rows, err := s.db.Query(query, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var utxos []SpentUTXO
	for rows.Next() {
		var u SpentUTXO
		if err := rows.Scan(&u.TxID, &u.Vout, &u.Amount, &u.PkScript, &u.Descriptor, &u.SpentBy); err != nil {
			return nil, err
		}
		utxos = append(utxos, u)
	}
	return utxos, rows.Err()
}

func (s *SQLiteStorage) QueryAssembled() ([]AssembledTx, error) {
	query := fmt.Sprintf(`
	SELECT tx_id, raw_hex, fee_rate, vsize, created_at
	FROM %s
	ORDER BY created_at, rowid;
	`, assembledTable)
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []AssembledTx
	for rows.Next() {
		var tx AssembledTx
		if err := rows.Scan(&tx.TxID, &tx.RawHex, &tx.FeeRate, &tx.VSize, &tx.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *SQLiteStorage) QueryFinalized() ([]FinalizedTx, error) {
	query := fmt.Sprintf(`
	SELECT tx_id, outputs, created_at
	FROM %s
	ORDER BY created_at, rowid;
	`, finalizedTable)
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []FinalizedTx
	for rows.Next() {
		var tx FinalizedTx
		if err := rows.Scan(&tx.TxID, &tx.Outputs, &tx.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

var _ Storage = (*SQLiteStorage)(nil)
