package presale

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "bunnyriven/core/errors"
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type ticketEntry struct {
	Committed *uint256.Int
}

// Ledger holds the per-(buyer, ticket) committed amounts, the buyers'
// sale-token entitlements and the sale totals.
type Ledger struct {
	state ledgerState
}

func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

func (l *Ledger) amount(key []byte) (*uint256.Int, error) {
	v := new(uint256.Int)
	if _, err := l.state.KVGet(key, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (l *Ledger) Committed(buyer ethcommon.Address, ticket string) (*uint256.Int, error) {
	var entry ticketEntry
	ok, err := l.state.KVGet(ticketCommittedKey(buyer, ticket), &entry)
	if err != nil {
		return nil, err
	}
	if !ok || entry.Committed == nil {
		return new(uint256.Int), nil
	}
	return entry.Committed, nil
}

// Reserve commits amount against the ticket. The committed total never
// exceeds limit.
func (l *Ledger) Reserve(buyer ethcommon.Address, ticket string, amount, limit *uint256.Int) error {
	committed, err := l.Committed(buyer, ticket)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(committed, amount)
	if overflow {
		return coreerrors.ErrOverflow
	}
	if next.Gt(limit) {
		return coreerrors.ErrTicketCapExceeded
	}
	return l.state.KVPut(ticketCommittedKey(buyer, ticket), ticketEntry{Committed: next})
}

// Remaining is limit minus the committed amount, floored at zero for tickets
// whose cap was lowered after purchases.
func (l *Ledger) Remaining(buyer ethcommon.Address, ticket string, limit *uint256.Int) (*uint256.Int, error) {
	committed, err := l.Committed(buyer, ticket)
	if err != nil {
		return nil, err
	}
	if committed.Gt(limit) {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Sub(limit, committed), nil
}

// CapOverride returns the owner-set cap for ticket, if any.
func (l *Ledger) CapOverride(ticket string) (*uint256.Int, bool, error) {
	v := new(uint256.Int)
	ok, err := l.state.KVGet(ticketCapKey(ticket), v)
	if err != nil || !ok {
		return nil, false, err
	}
	return v, true, nil
}

func (l *Ledger) SetCap(ticket string, limit *uint256.Int) error {
	return l.state.KVPut(ticketCapKey(ticket), limit)
}

func (l *Ledger) Balance(buyer ethcommon.Address) (*uint256.Int, error) {
	return l.amount(buyerBalanceKey(buyer))
}

func (l *Ledger) Credit(buyer ethcommon.Address, amount *uint256.Int) error {
	bal, err := l.Balance(buyer)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return coreerrors.ErrOverflow
	}
	return l.state.KVPut(buyerBalanceKey(buyer), next)
}

func (l *Ledger) Debit(buyer ethcommon.Address, amount *uint256.Int) error {
	bal, err := l.Balance(buyer)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return coreerrors.ErrInsufficientBalance
	}
	return l.state.KVPut(buyerBalanceKey(buyer), new(uint256.Int).Sub(bal, amount))
}

func (l *Ledger) TotalSold() (*uint256.Int, error) {
	return l.amount(totalSoldKey)
}

// AddSold records sold tokens, refusing to pass supplyCap.
func (l *Ledger) AddSold(amount, supplyCap *uint256.Int) error {
	sold, err := l.TotalSold()
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(sold, amount)
	if overflow {
		return coreerrors.ErrOverflow
	}
	if next.Gt(supplyCap) {
		return coreerrors.ErrSupplyCapExceeded
	}
	return l.state.KVPut(totalSoldKey, next)
}
