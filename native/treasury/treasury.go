package treasury

import (
	"fmt"
	"sort"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "bunnyriven/core/errors"
	"bunnyriven/core/events"
	"bunnyriven/core/types"
)

const (
	EventTypeDeposited = "treasury.deposited"
	EventTypeWithdrawn = "treasury.withdrawn"
)

// Payout moves funds of one asset out of the contract account.
type Payout func(to ethcommon.Address, amount *uint256.Int) error

type treasuryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Treasury tracks the proceeds a module has collected per asset. Balances
// only change through Deposit and Withdraw; the caller is responsible for the
// owner check before Withdraw.
type Treasury struct {
	state   treasuryState
	module  string
	payouts map[string]Payout
	emitter events.Emitter
}

func New(state treasuryState, module string) *Treasury {
	return &Treasury{
		state:   state,
		module:  strings.TrimSpace(module),
		payouts: make(map[string]Payout),
		emitter: events.NoopEmitter{},
	}
}

func (t *Treasury) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		t.emitter = events.NoopEmitter{}
		return
	}
	t.emitter = emitter
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// RegisterAsset makes asset depositable and binds the payout used when it is
// withdrawn.
func (t *Treasury) RegisterAsset(asset string, payout Payout) {
	t.payouts[normalizeAsset(asset)] = payout
}

// Assets lists the registered assets in sorted order.
func (t *Treasury) Assets() []string {
	out := make([]string, 0, len(t.payouts))
	for asset := range t.payouts {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

func (t *Treasury) key(asset string) []byte {
	return []byte(t.module + "/treasury/" + asset)
}

func (t *Treasury) Balance(asset string) (*uint256.Int, error) {
	if t == nil || t.state == nil {
		return nil, fmt.Errorf("treasury: state not configured")
	}
	asset = normalizeAsset(asset)
	if _, ok := t.payouts[asset]; !ok {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrUnsupportedToken, asset)
	}
	bal := new(uint256.Int)
	if _, err := t.state.KVGet(t.key(asset), bal); err != nil {
		return nil, err
	}
	return bal, nil
}

func (t *Treasury) Deposit(asset string, amount *uint256.Int) error {
	asset = normalizeAsset(asset)
	bal, err := t.Balance(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return coreerrors.ErrOverflow
	}
	if err := t.state.KVPut(t.key(asset), next); err != nil {
		return err
	}
	t.emit(EventTypeDeposited, asset, ethcommon.Address{}, amount)
	return nil
}

// Withdraw pays amount of asset to the recipient. A failed payout leaves the
// recorded balance untouched.
func (t *Treasury) Withdraw(asset string, amount *uint256.Int, to ethcommon.Address) error {
	asset = normalizeAsset(asset)
	if amount == nil || amount.IsZero() {
		return coreerrors.ErrInvalidAmount
	}
	bal, err := t.Balance(asset)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return coreerrors.ErrInsufficientTreasury
	}
	if err := t.payouts[asset](to, amount); err != nil {
		return err
	}
	if err := t.state.KVPut(t.key(asset), new(uint256.Int).Sub(bal, amount)); err != nil {
		return err
	}
	t.emit(EventTypeWithdrawn, asset, to, amount)
	return nil
}

func (t *Treasury) emit(eventType, asset string, to ethcommon.Address, amount *uint256.Int) {
	attrs := map[string]string{
		"module": t.module,
		"asset":  asset,
		"amount": events.FormatAmount(amount),
	}
	if to != (ethcommon.Address{}) {
		attrs["to"] = to.Hex()
	}
	t.emitter.Emit(events.Record{Evt: &types.Event{Type: eventType, Attributes: attrs}})
}
