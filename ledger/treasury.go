package ledger

import (
	"fmt"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultModuleID is the identity the treasury account is derived from when none is configured.
var DefaultModuleID = ModuleID{'p', 'y', '/', 'd', 'e', 'x', 'p', 'l'}

var moduleAccountPrefix = []byte("modl")

// ModuleID is the fixed 8-byte identity of a ledger deployment.
type ModuleID [8]byte

// ParseModuleID accepts exactly eight bytes, e.g. "py/dexpl".
func ParseModuleID(s string) (ModuleID, error) {
	var id ModuleID
	if len(s) != len(id) {
		return id, fmt.Errorf("module id must be exactly %d bytes, got %d", len(id), len(s))
	}
	copy(id[:], s)
	return id, nil
}

func (id ModuleID) String() string {
	return string(id[:])
}

// TreasuryAccount derives the single custody account for every pool:
// "modl" followed by the module id, zero padded and truncated to an address.
func TreasuryAccount(id ModuleID) engine.AccountID {
	var raw [common.AddressLength]byte
	n := copy(raw[:], moduleAccountPrefix)
	copy(raw[n:], id[:])
	return common.BytesToAddress(raw[:])
}
