// Package address extracts the destination address of an output's
// locking script (spec §4.5), grounded on the pack's own bscript
// tooling: broadcaster/utils/Key.go builds and reads locking scripts
// exclusively through github.com/libsv/go-bt/v2/bscript
// (bscript.NewP2PKHFromPubKeyEC, bscript.NewAddressFromPublicKey), the
// library's P2PKH address/script pairing. The pack never builds or
// recognizes P2SH, bare-multisig or witness outputs (grep across the
// whole teacher tree turns up none), so this mirrors that scope:
// P2PKH only, everything else yields the empty set.
package address

import (
	"github.com/libsv/go-bt/v2/bscript"
)

// Extract returns the address a P2PKH locking script pays, under
// network. A non-P2PKH, unrecognized, or otherwise non-standard script
// yields an empty, non-nil slice rather than an error — such outputs
// are not indexed (spec §4.5: "Unrecognized scripts → empty set, not
// indexed").
func Extract(pkScript []byte, mainnet bool) []string {
	s := bscript.NewFromBytes(pkScript)

	hash, err := s.PublicKeyHash()
	if err != nil {
		return []string{}
	}

	addr, err := bscript.NewAddressFromPublicKeyHash(hash, mainnet)
	if err != nil {
		return []string{}
	}

	return []string{addr.AddressString}
}
