package utxo

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uncomputable/tappy/descriptor"
	"github.com/uncomputable/tappy/errs"
)

func newTestUtxo(t *testing.T, vout uint32, value int64) *UTXO {
	t.Helper()
	desc, err := descriptor.Parse("tr(pk(79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798))")
	require.NoError(t, err)

	hash, err := chainhash.NewHashFromStr(strings.Repeat("ab", 32))
	require.NoError(t, err)

	u, err := New(desc, *wire.NewOutPoint(hash, vout), value)
	require.NoError(t, err)
	return u
}

func TestJSONRoundTrip(t *testing.T) {
	u := newTestUtxo(t, 1, 100_000)

	b, err := json.Marshal(u)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"outpoint":"`+strings.Repeat("ab", 32)+`:1"`)

	var decoded UTXO
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, u.Equal(&decoded))
}

func TestAmountHuman(t *testing.T) {
	u := newTestUtxo(t, 0, 150_000_000)
	assert.Equal(t, 1.5, u.AmountHuman())
}

func TestEqual(t *testing.T) {
	a := newTestUtxo(t, 0, 1000)
	assert.True(t, a.Equal(newTestUtxo(t, 0, 1000)))
	assert.False(t, a.Equal(newTestUtxo(t, 1, 1000)))
	assert.False(t, a.Equal(newTestUtxo(t, 0, 1001)))

	list := []*UTXO{newTestUtxo(t, 1, 5), a}
	assert.True(t, Contains(list, newTestUtxo(t, 0, 1000)))
	assert.False(t, Contains(list, newTestUtxo(t, 2, 5)))
}

func TestSelectUtxo(t *testing.T) {
	inputs := []*UTXO{newTestUtxo(t, 0, 500), newTestUtxo(t, 1, 700), newTestUtxo(t, 2, 900)}

	selected, err := SelectUtxo(inputs, 1000, 200)
	require.NoError(t, err)
	assert.Len(t, selected, 2)

	_, err = SelectUtxo(inputs, 2000, 200)
	assert.True(t, errors.Is(err, errs.ErrNotEnoughFunds))
}
