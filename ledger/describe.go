package ledger

import (
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/uncomputable/tappy/descriptor"
)

// Describe renders the state for humans. Secrets are shown as WIF for the
// given network.
func (s *State) Describe(params *chaincfg.Params) string {
	var sb strings.Builder

	for _, status := range []Status{Passive, Active} {
		fmt.Fprintf(&sb, "Keys (xonly: WIF) [%s]:\n", status)
		for _, id := range slices.Sorted(maps.Keys(s.Keys)) {
			kp := s.Keys[id]
			if kp.Status != status {
				continue
			}
			wif, err := btcutil.NewWIF(kp.Priv, params, true)
			if err != nil {
				fmt.Fprintf(&sb, "  %s: <%v>\n", id, err)
				continue
			}
			fmt.Fprintf(&sb, "  %s: %s\n", id, wif)
		}
	}

	for _, status := range []Status{Passive, Active} {
		fmt.Fprintf(&sb, "Images (image: preimage) [%s]:\n", status)
		for _, id := range slices.Sorted(maps.Keys(s.Images)) {
			pp := s.Images[id]
			if pp.Status != status {
				continue
			}
			fmt.Fprintf(&sb, "  %s: %s\n", id, hex.EncodeToString(pp.Preimage[:]))
		}
	}

	s.InboundAddress.WhenSome(func(desc *descriptor.Descriptor) {
		fmt.Fprintf(&sb, "Inbound address: %s\n", desc)
		if addr, err := desc.Address(params); err == nil {
			fmt.Fprintf(&sb, "  %s\n", addr.EncodeAddress())
		}
	})

	sb.WriteString("UTXOs:\n")
	for i, u := range s.Utxos {
		fmt.Fprintf(&sb, "  %d: %s\n", i, u)
	}

	sb.WriteString("Inputs:\n")
	for _, i := range s.InputIndices() {
		fmt.Fprintf(&sb, "  %d: %s\n", i, s.Inputs[i])
	}

	sb.WriteString("Outputs:\n")
	for _, i := range s.OutputIndices() {
		fmt.Fprintf(&sb, "  %d: %s\n", i, s.Outputs[i])
	}

	enabled := "disabled"
	if s.LockTimeEnabled() {
		enabled = "enabled"
	}
	fmt.Fprintf(&sb, "Locktime: =%d blocks [%s]\n", s.LockTime, enabled)
	fmt.Fprintf(&sb, "Fee: %d sat\n", s.Fee)
	fmt.Fprintf(&sb, "Remaining funds: %d sat", s.RemainingFunds())

	return sb.String()
}
