/*
This file contains filter/select operations on UTXO.
*/
package utxo

import (
	"fmt"

	"github.com/uncomputable/tappy/errs"
)

// Choose some UTXO(s) for future spending.
// Collect several UTXO, the sum to be at least (amount + fee).
// Error if cannot collect enough to satisfy the requirement.
func SelectUtxo(inputs []*UTXO, amount int64, fee int64) ([]*UTXO, error) {
	var sum int64
	for idx, item := range inputs {
		sum += item.Amount()
		if sum >= amount+fee {
			return inputs[:idx+1], nil
		}
	}
	return nil, fmt.Errorf("have %d, need %d: %w", sum, amount+fee, errs.ErrNotEnoughFunds)
}

// Contains reports whether an equal UTXO is in the list.
func Contains(list []*UTXO, u *UTXO) bool {
	for _, item := range list {
		if item.Equal(u) {
			return true
		}
	}
	return false
}
