package presale

import (
	"errors"
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "bunnyriven/core/errors"
	"bunnyriven/core/events"
	"bunnyriven/core/types"
	"bunnyriven/native/bank"
	nativecommon "bunnyriven/native/common"
	"bunnyriven/native/treasury"
	"bunnyriven/native/voucher"
)

// ModuleName prefixes the presale's admin and treasury state.
const ModuleName = "presale"

var errNilState = errors.New("presale engine: state not configured")

type presaleEvent struct {
	evt *types.Event
}

func (e presaleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e presaleEvent) Event() *types.Event { return e.evt }

// Deps are the external contracts a presale settles through.
type Deps struct {
	Bank         nativecommon.NativeBank
	SaleToken    nativecommon.TokenContract
	PaymentToken nativecommon.TokenContract
	// Replay defaults to voucher.CapBounded when nil.
	Replay voucher.ReplayGuard
}

// Engine runs one presale round: signed, capped, time-gated purchases in the
// native coin or the payment token, and the exits from the collected funds.
// Every public operation is atomic against the state journal.
type Engine struct {
	state    nativecommon.State
	params   Params
	admin    *nativecommon.AdminOps
	verifier voucher.Verifier
	replay   voucher.ReplayGuard
	conv     Converter
	ledger   *Ledger
	vesting  *Vesting
	treasury *treasury.Treasury
	deps     Deps

	pending events.Buffer
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine validates params, wires the collaborators and records the initial
// owner and authority if the module state is fresh.
func NewEngine(state nativecommon.State, params Params, deps Deps) (*Engine, error) {
	if state == nil {
		return nil, errNilState
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if deps.Bank == nil || deps.SaleToken == nil || deps.PaymentToken == nil {
		return nil, fmt.Errorf("presale: bank, sale token and payment token required")
	}
	conv, err := NewConverter(params.NativeRate, params.TokenPrice)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		state:   state,
		params:  params,
		admin:   nativecommon.NewAdminOps(state, ModuleName),
		conv:    conv,
		ledger:  NewLedger(state),
		vesting: NewVesting(state),
		deps:    deps,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
	e.replay = deps.Replay
	if e.replay == nil {
		e.replay = voucher.CapBounded{}
	}
	e.verifier = voucher.NewECDSAVerifier(e.admin)
	e.admin.SetEmitter(&e.pending)

	e.treasury = treasury.New(state, ModuleName)
	e.treasury.SetEmitter(&e.pending)
	account := params.Account
	e.treasury.RegisterAsset(bank.AssetNative, func(to ethcommon.Address, amount *uint256.Int) error {
		return deps.Bank.Transfer(account, to, amount)
	})
	e.treasury.RegisterAsset(params.paymentAsset(), func(to ethcommon.Address, amount *uint256.Int) error {
		return deps.PaymentToken.Transfer(account, to, amount)
	})

	err = nativecommon.Atomic(state, &e.pending, e.emitter, func() error {
		return e.admin.Init(params.Owner, params.Authority)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
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

// SetVerifier replaces the signature check. The default verifies against the
// authority held in admin state.
func (e *Engine) SetVerifier(v voucher.Verifier) {
	if v == nil {
		v = voucher.NewECDSAVerifier(e.admin)
	}
	e.verifier = v
}

func (e *Engine) emit(evt *types.Event) {
	e.pending.Emit(presaleEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) atomic(fn func() error) error {
	return nativecommon.Atomic(e.state, &e.pending, e.emitter, fn)
}

// BuyByNative buys sale tokens with paid units of the native coin under the
// buyer's ticket voucher.
func (e *Engine) BuyByNative(buyer ethcommon.Address, ticket string, sig []byte, paid *uint256.Int) (*Purchase, error) {
	var out *Purchase
	err := e.atomic(func() error {
		p, err := e.buy(buyer, ticket, sig, paid, bank.AssetNative)
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BuyByToken buys sale tokens with amount units of the payment token, pulled
// from the buyer against a prior allowance to the presale account.
func (e *Engine) BuyByToken(buyer ethcommon.Address, ticket string, sig []byte, amount *uint256.Int) (*Purchase, error) {
	var out *Purchase
	err := e.atomic(func() error {
		p, err := e.buy(buyer, ticket, sig, amount, e.params.paymentAsset())
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) buy(buyer ethcommon.Address, ticket string, sig []byte, paid *uint256.Int, asset string) (*Purchase, error) {
	if err := e.admin.CheckActive(); err != nil {
		return nil, err
	}
	if err := e.params.Window.CheckOpen(e.now()); err != nil {
		return nil, err
	}
	ticket = normalizeTicket(ticket)
	msg := voucher.PurchaseMessage(buyer, ticket)
	if err := e.verifier.Verify(msg, sig); err != nil {
		return nil, err
	}
	if ticket == "" {
		return nil, coreerrors.ErrInvalidTicket
	}
	if paid == nil || paid.IsZero() {
		return nil, coreerrors.ErrInvalidAmount
	}
	if err := e.replay.Consume(msg); err != nil {
		return nil, err
	}

	accounting := new(uint256.Int).Set(paid)
	if asset == bank.AssetNative {
		converted, err := e.conv.ToAccounting(paid)
		if err != nil {
			return nil, err
		}
		accounting = converted
	}
	entitlement, err := e.conv.Entitlement(accounting)
	if err != nil {
		return nil, err
	}
	if entitlement.IsZero() {
		return nil, coreerrors.ErrInvalidAmount
	}

	limit, err := e.TicketCap(ticket)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Reserve(buyer, ticket, accounting, limit); err != nil {
		return nil, err
	}
	if err := e.ledger.AddSold(entitlement, e.params.TotalSupplyCap); err != nil {
		return nil, err
	}

	account := e.params.Account
	if asset == bank.AssetNative {
		err = e.deps.Bank.Transfer(buyer, account, paid)
	} else {
		err = e.deps.PaymentToken.TransferFrom(account, buyer, account, paid)
	}
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Credit(buyer, entitlement); err != nil {
		return nil, err
	}
	if err := e.treasury.Deposit(asset, paid); err != nil {
		return nil, err
	}
	remaining, err := e.ledger.Remaining(buyer, ticket, limit)
	if err != nil {
		return nil, err
	}

	p := &Purchase{
		Buyer:       buyer,
		Ticket:      ticket,
		Asset:       asset,
		Paid:        new(uint256.Int).Set(paid),
		Accounting:  accounting,
		Entitlement: entitlement,
		Remaining:   remaining,
	}
	e.emit(newPurchasedEvent(p))
	return p, nil
}

// TicketCap is the owner override for ticket, or the deployment default.
func (e *Engine) TicketCap(ticket string) (*uint256.Int, error) {
	limit, ok, err := e.ledger.CapOverride(normalizeTicket(ticket))
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int).Set(e.params.TicketCap), nil
	}
	return limit, nil
}

// SetTicketCap overrides the cap of one ticket. Lowering a cap below what was
// already committed blocks further purchases without touching past ones.
func (e *Engine) SetTicketCap(caller ethcommon.Address, ticket string, limit *uint256.Int) error {
	return e.atomic(func() error {
		if err := e.admin.RequireOwner(caller); err != nil {
			return err
		}
		ticket = normalizeTicket(ticket)
		if ticket == "" {
			return coreerrors.ErrInvalidTicket
		}
		if limit == nil {
			return coreerrors.ErrInvalidAmount
		}
		if err := e.ledger.SetCap(ticket, limit); err != nil {
			return err
		}
		e.emit(newTicketCapEvent(ticket, limit))
		return nil
	})
}

// SetVesting opens or closes sale-token withdrawals for every buyer.
func (e *Engine) SetVesting(caller ethcommon.Address, open bool) error {
	return e.atomic(func() error {
		if err := e.admin.RequireOwner(caller); err != nil {
			return err
		}
		if err := e.vesting.SetGlobal(open); err != nil {
			return err
		}
		e.emit(newVestingEvent(open))
		return nil
	})
}

// GrantVesting opens or closes sale-token withdrawals for one buyer.
func (e *Engine) GrantVesting(caller, buyer ethcommon.Address, permitted bool) error {
	return e.atomic(func() error {
		if err := e.admin.RequireOwner(caller); err != nil {
			return err
		}
		if err := e.vesting.Grant(buyer, permitted); err != nil {
			return err
		}
		e.emit(newVestingGrantEvent(buyer, permitted))
		return nil
	})
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

// RemainingAllocation reports cap minus committed for the buyer's ticket.
// Only the buyer and the owner may read it.
func (e *Engine) RemainingAllocation(caller, buyer ethcommon.Address, ticket string) (*uint256.Int, error) {
	if err := e.admin.RequireSelfOrOwner(caller, buyer); err != nil {
		return nil, err
	}
	ticket = normalizeTicket(ticket)
	limit, err := e.TicketCap(ticket)
	if err != nil {
		return nil, err
	}
	return e.ledger.Remaining(buyer, ticket, limit)
}

// BalanceOf reports the buyer's withdrawable sale-token entitlement. Only the
// buyer and the owner may read it.
func (e *Engine) BalanceOf(caller, buyer ethcommon.Address) (*uint256.Int, error) {
	if err := e.admin.RequireSelfOrOwner(caller, buyer); err != nil {
		return nil, err
	}
	return e.ledger.Balance(buyer)
}

func (e *Engine) TotalSold() (*uint256.Int, error) { return e.ledger.TotalSold() }

func (e *Engine) TotalSupplyCap() *uint256.Int {
	return new(uint256.Int).Set(e.params.TotalSupplyCap)
}

func (e *Engine) TreasuryBalance(asset string) (*uint256.Int, error) {
	return e.treasury.Balance(asset)
}

func (e *Engine) VestingPermitted(buyer ethcommon.Address) (bool, error) {
	return e.vesting.Permitted(buyer)
}

func (e *Engine) Owner() (ethcommon.Address, error) { return e.admin.Owner() }

func (e *Engine) Authority() (ethcommon.Address, error) { return e.admin.Authority() }

func (e *Engine) Paused() (bool, error) { return e.admin.IsPaused(ModuleName) }

func (e *Engine) Window() Window { return e.params.Window }

func (e *Engine) Account() ethcommon.Address { return e.params.Account }

func (e *Engine) PaymentAsset() string { return e.params.paymentAsset() }

func (e *Engine) Converter() Converter { return e.conv }
