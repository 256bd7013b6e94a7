package wheel

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "bunnyriven/core/errors"
	"bunnyriven/core/events"
	"bunnyriven/core/types"
	nativecommon "bunnyriven/native/common"
	"bunnyriven/native/voucher"
)

const ModuleName = "wheel"

const (
	EventTypeClaimed   = "wheel.claimed"
	EventTypeWithdrawn = "wheel.withdrawn"
)

var (
	errNilState   = errors.New("wheel engine: state not configured")
	claimedPrefix = []byte("wheel/claimed/")
)

type wheelEvent struct {
	evt *types.Event
}

func (e wheelEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e wheelEvent) Event() *types.Event { return e.evt }

type Params struct {
	Owner     ethcommon.Address
	Authority ethcommon.Address
	// Account holds the prize pool.
	Account ethcommon.Address
}

// Engine pays out prize-wheel winnings against authority-signed claim
// vouchers. There is no sale window; the only cap is the prize pool.
type Engine struct {
	state    nativecommon.State
	params   Params
	admin    *nativecommon.AdminOps
	verifier voucher.Verifier
	replay   voucher.ReplayGuard
	tokens   map[ethcommon.Address]nativecommon.TokenContract

	pending events.Buffer
	emitter events.Emitter
}

// NewEngine wires the prize tokens the wheel may pay out. A nil replay guard
// selects voucher.CapBounded.
func NewEngine(state nativecommon.State, params Params, tokens []nativecommon.TokenContract, replay voucher.ReplayGuard) (*Engine, error) {
	if state == nil {
		return nil, errNilState
	}
	if params.Owner == (ethcommon.Address{}) || params.Authority == (ethcommon.Address{}) {
		return nil, fmt.Errorf("wheel: owner and authority required")
	}
	if params.Account == (ethcommon.Address{}) {
		return nil, fmt.Errorf("wheel: contract account required")
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("wheel: at least one prize token required")
	}
	if replay == nil {
		replay = voucher.CapBounded{}
	}
	e := &Engine{
		state:   state,
		params:  params,
		admin:   nativecommon.NewAdminOps(state, ModuleName),
		replay:  replay,
		tokens:  make(map[ethcommon.Address]nativecommon.TokenContract, len(tokens)),
		emitter: events.NoopEmitter{},
	}
	for _, tok := range tokens {
		e.tokens[tok.Address()] = tok
	}
	e.verifier = voucher.NewECDSAVerifier(e.admin)
	e.admin.SetEmitter(&e.pending)
	if err := e.atomic(func() error { return e.admin.Init(params.Owner, params.Authority) }); err != nil {
		return nil, err
	}
	return e, nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) atomic(fn func() error) error {
	return nativecommon.Atomic(e.state, &e.pending, e.emitter, fn)
}

func claimedKey(holder, token ethcommon.Address) []byte {
	buf := make([]byte, 0, len(claimedPrefix)+2*ethcommon.AddressLength)
	buf = append(buf, claimedPrefix...)
	buf = append(buf, holder.Bytes()...)
	return append(buf, token.Bytes()...)
}

func (e *Engine) claimed(holder, token ethcommon.Address) (*uint256.Int, error) {
	total := new(uint256.Int)
	if _, err := e.state.KVGet(claimedKey(holder, token), total); err != nil {
		return nil, err
	}
	return total, nil
}

func (e *Engine) token(addr ethcommon.Address) (nativecommon.TokenContract, error) {
	tok, ok := e.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrUnsupportedToken, addr.Hex())
	}
	return tok, nil
}

// Claim pays amount of token to caller under an authority voucher over
// (caller, token, amount). The signature is checked before anything about the
// token or the pool.
func (e *Engine) Claim(caller, token ethcommon.Address, amount *uint256.Int, sig []byte) error {
	return e.atomic(func() error {
		if err := e.admin.CheckActive(); err != nil {
			return err
		}
		msg := voucher.ClaimMessage(caller, token, amount)
		if err := e.verifier.Verify(msg, sig); err != nil {
			return err
		}
		if amount == nil || amount.IsZero() {
			return coreerrors.ErrInvalidAmount
		}
		if err := e.replay.Consume(msg); err != nil {
			return err
		}
		tok, err := e.token(token)
		if err != nil {
			return err
		}
		if err := e.payout(tok, caller, amount); err != nil {
			return err
		}
		total, err := e.claimed(caller, token)
		if err != nil {
			return err
		}
		next, overflow := new(uint256.Int).AddOverflow(total, amount)
		if overflow {
			return coreerrors.ErrOverflow
		}
		if err := e.state.KVPut(claimedKey(caller, token), next); err != nil {
			return err
		}
		e.pending.Emit(wheelEvent{evt: &types.Event{Type: EventTypeClaimed, Attributes: map[string]string{
			"winner":  caller.Hex(),
			"token":   token.Hex(),
			"amount":  events.FormatAmount(amount),
			"claimed": events.FormatAmount(next),
		}}})
		return nil
	})
}

func (e *Engine) payout(tok nativecommon.TokenContract, to ethcommon.Address, amount *uint256.Int) error {
	held, err := tok.BalanceOf(e.params.Account)
	if err != nil {
		return err
	}
	if held.Lt(amount) {
		return coreerrors.ErrInsufficientTreasury
	}
	return tok.Transfer(e.params.Account, to, amount)
}

// Withdraw returns unclaimed prize tokens to the owner.
func (e *Engine) Withdraw(caller, token ethcommon.Address, amount *uint256.Int) error {
	return e.atomic(func() error {
		if err := e.admin.RequireOwner(caller); err != nil {
			return err
		}
		if amount == nil || amount.IsZero() {
			return coreerrors.ErrInvalidAmount
		}
		tok, err := e.token(token)
		if err != nil {
			return err
		}
		if err := e.payout(tok, caller, amount); err != nil {
			return err
		}
		e.pending.Emit(wheelEvent{evt: &types.Event{Type: EventTypeWithdrawn, Attributes: map[string]string{
			"to":     caller.Hex(),
			"token":  token.Hex(),
			"amount": events.FormatAmount(amount),
		}}})
		return nil
	})
}

// Claimed is the running total paid to holder in token. Only the holder and
// the owner may read it.
func (e *Engine) Claimed(caller, holder, token ethcommon.Address) (*uint256.Int, error) {
	if err := e.admin.RequireSelfOrOwner(caller, holder); err != nil {
		return nil, err
	}
	return e.claimed(holder, token)
}

// Pool is the contract's current balance of a prize token.
func (e *Engine) Pool(token ethcommon.Address) (*uint256.Int, error) {
	tok, err := e.token(token)
	if err != nil {
		return nil, err
	}
	return tok.BalanceOf(e.params.Account)
}

func (e *Engine) SetAuthority(caller, authority ethcommon.Address) error {
	return e.atomic(func() error { return e.admin.SetAuthority(caller, authority) })
}

func (e *Engine) TransferOwnership(caller, newOwner ethcommon.Address) error {
	return e.atomic(func() error { return e.admin.TransferOwnership(caller, newOwner) })
}

func (e *Engine) Pause(caller ethcommon.Address) error {
	return e.atomic(func() error { return e.admin.Pause(caller) })
}

func (e *Engine) Unpause(caller ethcommon.Address) error {
	return e.atomic(func() error { return e.admin.Unpause(caller) })
}

func (e *Engine) Owner() (ethcommon.Address, error) { return e.admin.Owner() }

func (e *Engine) Paused() (bool, error) { return e.admin.IsPaused(ModuleName) }

func (e *Engine) Authority() (ethcommon.Address, error) { return e.admin.Authority() }

func (e *Engine) Account() ethcommon.Address { return e.params.Account }
