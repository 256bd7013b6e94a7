package bank

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "bunnyriven/core/errors"
	"bunnyriven/core/events"
)

// AssetNative is the treasury identifier of the chain's native coin.
const AssetNative = "BNB"

type bankState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// ReceiveHook runs before native coin is credited to a registered account. A
// non-nil error refuses the payment.
type ReceiveHook func(from ethcommon.Address, amount *uint256.Int) error

// Bank keeps native coin balances in module state.
type Bank struct {
	state   bankState
	hooks   map[ethcommon.Address]ReceiveHook
	emitter events.Emitter
}

func New(state bankState) *Bank {
	return &Bank{
		state:   state,
		hooks:   make(map[ethcommon.Address]ReceiveHook),
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures where transfer events are delivered. Passing nil
// discards them.
func (b *Bank) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

// RegisterReceiver installs hook for addr, replacing any previous hook. A nil
// hook removes it.
func (b *Bank) RegisterReceiver(addr ethcommon.Address, hook ReceiveHook) {
	if hook == nil {
		delete(b.hooks, addr)
		return
	}
	b.hooks[addr] = hook
}

func balanceKey(addr ethcommon.Address) []byte {
	return append([]byte("bank/balance/"), addr.Bytes()...)
}

func (b *Bank) Balance(addr ethcommon.Address) (*uint256.Int, error) {
	if b == nil || b.state == nil {
		return nil, fmt.Errorf("bank: state not configured")
	}
	bal := new(uint256.Int)
	if _, err := b.state.KVGet(balanceKey(addr), bal); err != nil {
		return nil, err
	}
	return bal, nil
}

func (b *Bank) put(addr ethcommon.Address, amount *uint256.Int) error {
	return b.state.KVPut(balanceKey(addr), amount)
}

// Mint credits amount out of thin air. It backs genesis allocations and test
// fixtures.
func (b *Bank) Mint(to ethcommon.Address, amount *uint256.Int) error {
	bal, err := b.Balance(to)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return coreerrors.ErrOverflow
	}
	return b.put(to, next)
}

// Transfer moves amount from one account to another. Registered receive hooks
// run first; a refusal is reported as ErrTransferFailed and nothing moves.
func (b *Bank) Transfer(from, to ethcommon.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if hook, ok := b.hooks[to]; ok {
		if err := hook(from, amount); err != nil {
			return fmt.Errorf("%w: %v", coreerrors.ErrTransferFailed, err)
		}
	}
	fromBal, err := b.Balance(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return coreerrors.ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	toBal, err := b.Balance(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return coreerrors.ErrOverflow
	}
	if err := b.put(from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := b.put(to, credited); err != nil {
		return err
	}
	b.emitter.Emit(events.Transfer{Asset: AssetNative, From: from, To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}
