package satisfier

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SighashCache computes taproot sighashes for one unsigned transaction.
// The transaction-wide midstate is computed on first use and shared by all
// inputs. Build one per assembly and pass it by pointer.
type SighashCache struct {
	tx      *wire.MsgTx
	fetcher *txscript.MultiPrevOutFetcher
	hashes  *txscript.TxSigHashes
}

// NewSighashCache expects prevOuts to hold the spent output of every input.
func NewSighashCache(tx *wire.MsgTx, prevOuts map[wire.OutPoint]*wire.TxOut) *SighashCache {
	return &SighashCache{
		tx:      tx,
		fetcher: txscript.NewMultiPrevOutFetcher(prevOuts),
	}
}

func (c *SighashCache) sigHashes() *txscript.TxSigHashes {
	if c.hashes == nil {
		c.hashes = txscript.NewTxSigHashes(c.tx, c.fetcher)
	}
	return c.hashes
}

func (c *SighashCache) Tx() *wire.MsgTx {
	return c.tx
}

func (c *SighashCache) Fetcher() txscript.PrevOutputFetcher {
	return c.fetcher
}

// KeySpend is the sighash of a key-path spend of input idx.
func (c *SighashCache) KeySpend(idx int, hashType txscript.SigHashType) ([]byte, error) {
	return txscript.CalcTaprootSignatureHash(c.sigHashes(), hashType, c.tx, idx, c.fetcher)
}

// ScriptSpend is the sighash of a script-path spend of input idx through
// leaf.
func (c *SighashCache) ScriptSpend(idx int, hashType txscript.SigHashType, leaf txscript.TapLeaf) ([]byte, error) {
	return txscript.CalcTapscriptSignaturehash(c.sigHashes(), hashType, c.tx, idx, c.fetcher, leaf)
}
