package common

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"bunnyriven/core/events"
)

// State is the journaled key-value store the engines run against.
type State interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Snapshot() int
	RevertToSnapshot(revision int)
}

// TokenContract is the fungible-token surface the engines settle through.
type TokenContract interface {
	Address() ethcommon.Address
	BalanceOf(holder ethcommon.Address) (*uint256.Int, error)
	Transfer(from, to ethcommon.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to ethcommon.Address, amount *uint256.Int) error
}

// NativeBank moves the chain's native coin.
type NativeBank interface {
	Balance(addr ethcommon.Address) (*uint256.Int, error)
	Transfer(from, to ethcommon.Address, amount *uint256.Int) error
}

// Atomic runs fn against a state snapshot. On error every write made by fn is
// reverted and the events it buffered are dropped; on success the buffered
// events are flushed to sink.
func Atomic(state State, pending *events.Buffer, sink events.Emitter, fn func() error) error {
	snap := state.Snapshot()
	pending.Drop()
	if err := fn(); err != nil {
		state.RevertToSnapshot(snap)
		pending.Drop()
		return err
	}
	pending.Flush(sink)
	return nil
}

// ModuleAccount derives the deterministic contract address of a module from
// its name.
func ModuleAccount(name string) ethcommon.Address {
	return ethcommon.BytesToAddress(ethcrypto.Keccak256([]byte("bunnyriven/account/" + name))[12:])
}
