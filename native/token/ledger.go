package token

import (
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "bunnyriven/core/errors"
	"bunnyriven/core/events"
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger is a state-backed fungible token exposing the ERC-20 call surface
// consumed by the sale engines. Each token is identified by its address.
type Ledger struct {
	state   ledgerState
	address ethcommon.Address
	symbol  string
	emitter events.Emitter
}

func NewLedger(state ledgerState, address ethcommon.Address, symbol string) *Ledger {
	return &Ledger{
		state:   state,
		address: address,
		symbol:  strings.ToUpper(strings.TrimSpace(symbol)),
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures where transfer events are delivered. Passing nil
// discards them.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) Address() ethcommon.Address { return l.address }

func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) balanceKey(holder ethcommon.Address) []byte {
	return []byte(fmt.Sprintf("token/%x/balance/%x", l.address, holder))
}

func (l *Ledger) allowanceKey(owner, spender ethcommon.Address) []byte {
	return []byte(fmt.Sprintf("token/%x/allowance/%x/%x", l.address, owner, spender))
}

func (l *Ledger) read(key []byte) (*uint256.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("token: state not configured")
	}
	v := new(uint256.Int)
	if _, err := l.state.KVGet(key, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (l *Ledger) BalanceOf(holder ethcommon.Address) (*uint256.Int, error) {
	return l.read(l.balanceKey(holder))
}

func (l *Ledger) Allowance(owner, spender ethcommon.Address) (*uint256.Int, error) {
	return l.read(l.allowanceKey(owner, spender))
}

// Approve sets spender's allowance over owner's balance to amount.
func (l *Ledger) Approve(owner, spender ethcommon.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	return l.state.KVPut(l.allowanceKey(owner, spender), amount)
}

// Mint credits amount to holder. It backs genesis allocations and test
// fixtures.
func (l *Ledger) Mint(to ethcommon.Address, amount *uint256.Int) error {
	bal, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return coreerrors.ErrOverflow
	}
	return l.state.KVPut(l.balanceKey(to), next)
}

func (l *Ledger) Transfer(from, to ethcommon.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	fromBal, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return coreerrors.ErrInsufficientBalance
	}
	if from != to {
		toBal, err := l.BalanceOf(to)
		if err != nil {
			return err
		}
		credited, overflow := new(uint256.Int).AddOverflow(toBal, amount)
		if overflow {
			return coreerrors.ErrOverflow
		}
		if err := l.state.KVPut(l.balanceKey(from), new(uint256.Int).Sub(fromBal, amount)); err != nil {
			return err
		}
		if err := l.state.KVPut(l.balanceKey(to), credited); err != nil {
			return err
		}
	}
	l.emitter.Emit(events.Transfer{Asset: l.symbol, From: from, To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// TransferFrom moves amount from owner to to on behalf of spender, consuming
// allowance. Allowance is checked before balance.
func (l *Ledger) TransferFrom(spender, owner, to ethcommon.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	allowance, err := l.Allowance(owner, spender)
	if err != nil {
		return err
	}
	if allowance.Lt(amount) {
		return coreerrors.ErrInsufficientAllowance
	}
	if err := l.Transfer(owner, to, amount); err != nil {
		return err
	}
	return l.state.KVPut(l.allowanceKey(owner, spender), new(uint256.Int).Sub(allowance, amount))
}
