package assembler

import (
	"errors"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// ParamsByName selects the chain by its name. The empty name selects
// regtest.
func ParamsByName(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "", "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, errors.New("unknown network " + name)
	}
}
