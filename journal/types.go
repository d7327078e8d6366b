package journal

// AssembledTx is a transaction printed by `spend`.
type AssembledTx struct {
	TxID      string  // 64-character hexadecimal string
	RawHex    string  // serialized transaction
	FeeRate   float64 // sat/vB
	VSize     int64   // virtual size in vbytes
	CreatedAt int64   // Unix timestamp in nanoseconds
}

// SpentUTXO is a UTXO consumed by a finalized transaction.
type SpentUTXO struct {
	TxID       string // 64-character hexadecimal string
	Vout       int32  // Output index
	Amount     int64  // Amount in satoshis
	PkScript   []byte
	Descriptor string
	SpentBy    string // txid of the finalized transaction
}

// FinalizedTx is a transaction recorded by `final`.
type FinalizedTx struct {
	TxID      string // 64-character hexadecimal string
	Outputs   int32  // number of UTXOs it produced
	CreatedAt int64  // Unix timestamp in nanoseconds
}

// Storage defines the database operations of the journal.
type Storage interface {
	// InsertAssembledTx records an assembled transaction.
	// Assembling the same transaction again updates the record.
	InsertAssembledTx(tx AssembledTx) error

	// QueryAssembledTx returns nil if txID was never assembled.
	QueryAssembledTx(txID string) (*AssembledTx, error)

	// InsertFinalizedTx records a finalized transaction together with the
	// UTXOs it spent.
	InsertFinalizedTx(tx FinalizedTx, spent []SpentUTXO) error

	// QuerySpentBy retrieves the UTXOs spent by txID.
	QuerySpentBy(txID string) ([]SpentUTXO, error)

	// QueryAssembled retrieves all assembled transactions, oldest first.
	QueryAssembled() ([]AssembledTx, error)

	// QueryFinalized retrieves all finalized transactions, oldest first.
	QueryFinalized() ([]FinalizedTx, error)

	Close() error
}
