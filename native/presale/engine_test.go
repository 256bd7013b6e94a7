package presale

import (
	"errors"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	coreerrors "bunnyriven/core/errors"
	"bunnyriven/core/events"
	"bunnyriven/core/state"
	"bunnyriven/crypto"
	"bunnyriven/native/bank"
	"bunnyriven/native/token"
	"bunnyriven/native/treasury"
	"bunnyriven/native/voucher"
	"bunnyriven/storage"
)

const (
	testStart = int64(1_700_000_000)
	ticket    = "ticket"
)

var (
	ownerAddr    = ethcommon.HexToAddress("0x0000000000000000000000000000000000000a01")
	buyerAddr    = ethcommon.HexToAddress("0x0000000000000000000000000000000000000b01")
	strangerAddr = ethcommon.HexToAddress("0x0000000000000000000000000000000000000c01")
	presaleAddr  = ethcommon.HexToAddress("0x0000000000000000000000000000000000005a1e")
	saleAddr     = ethcommon.HexToAddress("0x0000000000000000000000000000000000000b77")
	usdtAddr     = ethcommon.HexToAddress("0x0000000000000000000000000000000000005d70")
)

// ether returns v whole units in 18-decimal base units.
func ether(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), Unit)
}

// milli returns v thousandths of a whole unit.
func milli(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(1_000_000_000_000_000))
}

type fixture struct {
	t      *testing.T
	state  *state.Manager
	bank   *bank.Bank
	sale   *token.Ledger
	usdt   *token.Ledger
	issuer *voucher.Issuer
	engine *Engine
	events *events.Recorder
	now    int64
}

func newFixture(t *testing.T, mutate func(*Params, *Deps)) *fixture {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	issuer, err := voucher.NewIssuer(key)
	require.NoError(t, err)

	st := state.NewManager(storage.NewMemDB())
	f := &fixture{
		t:      t,
		state:  st,
		bank:   bank.New(st),
		sale:   token.NewLedger(st, saleAddr, "BRV"),
		usdt:   token.NewLedger(st, usdtAddr, "USDT"),
		issuer: issuer,
		events: &events.Recorder{},
		now:    testStart,
	}
	params := Params{
		Owner:          ownerAddr,
		Authority:      issuer.Address(),
		Account:        presaleAddr,
		Window:         NewWindow(testStart, 1),
		NativeRate:     ether(1000),
		TokenPrice:     milli(10),
		TicketCap:      ether(200),
		TotalSupplyCap: ether(1_000_000),
	}
	deps := Deps{Bank: f.bank, SaleToken: f.sale, PaymentToken: f.usdt}
	if mutate != nil {
		mutate(&params, &deps)
	}
	engine, err := NewEngine(st, params, deps)
	require.NoError(t, err)
	engine.SetNowFunc(func() int64 { return f.now })
	engine.SetEmitter(f.events)
	f.engine = engine

	require.NoError(t, f.bank.Mint(buyerAddr, ether(10)))
	require.NoError(t, f.usdt.Mint(buyerAddr, ether(1_000)))
	require.NoError(t, f.usdt.Approve(buyerAddr, presaleAddr, ether(1_000)))
	require.NoError(t, f.sale.Mint(presaleAddr, ether(100_000)))
	require.NoError(t, st.Commit())
	return f
}

func (f *fixture) sign(buyer ethcommon.Address, tk string) []byte {
	sig, err := f.issuer.SignPurchase(buyer, tk)
	require.NoError(f.t, err)
	return sig
}

// requireInert asserts the previous call left no pending writes behind. The
// fixture commits before each checked call, so any surviving write shows up.
func (f *fixture) requireInert() {
	f.t.Helper()
	require.Zero(f.t, f.state.Pending())
}

func (f *fixture) commit() {
	f.t.Helper()
	require.NoError(f.t, f.state.Commit())
}

func TestBuyByTokenRemainingAllocation(t *testing.T) {
	f := newFixture(t, nil)

	p, err := f.engine.BuyByToken(buyerAddr, ticket, f.sign(buyerAddr, ticket), ether(1))
	require.NoError(t, err)
	require.Equal(t, ether(199), p.Remaining)
	require.Equal(t, ether(100), p.Entitlement)

	remaining, err := f.engine.RemainingAllocation(buyerAddr, buyerAddr, ticket)
	require.NoError(t, err)
	require.Equal(t, ether(199), remaining)

	bal, err := f.engine.BalanceOf(buyerAddr, buyerAddr)
	require.NoError(t, err)
	require.Equal(t, ether(100), bal)

	sold, err := f.engine.TotalSold()
	require.NoError(t, err)
	require.Equal(t, ether(100), sold)

	held, err := f.usdt.BalanceOf(presaleAddr)
	require.NoError(t, err)
	require.Equal(t, ether(1), held)
	tres, err := f.engine.TreasuryBalance("USDT")
	require.NoError(t, err)
	require.Equal(t, ether(1), tres)

	require.Contains(t, f.events.Types(), EventTypePurchased)
	require.Contains(t, f.events.Types(), treasury.EventTypeDeposited)
}

func TestBuyOutsideWindowIsInert(t *testing.T) {
	f := newFixture(t, nil)
	sig := f.sign(buyerAddr, ticket)

	f.now = testStart - 1
	_, err := f.engine.BuyByNative(buyerAddr, ticket, sig, uint256.NewInt(1))
	require.ErrorIs(t, err, coreerrors.ErrNotStarted)
	require.Equal(t, "presale hasn't started yet", err.Error())
	f.requireInert()

	f.now = f.engine.Window().End
	_, err = f.engine.BuyByToken(buyerAddr, ticket, sig, ether(1))
	require.ErrorIs(t, err, coreerrors.ErrEnded)
	f.requireInert()

	f.now = f.engine.Window().End - 1
	_, err = f.engine.BuyByToken(buyerAddr, ticket, sig, ether(1))
	require.NoError(t, err)
}

func TestBuyWithForeignSignatureIsInert(t *testing.T) {
	f := newFixture(t, nil)
	impostorKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	impostor, err := voucher.NewIssuer(impostorKey)
	require.NoError(t, err)

	sig, err := impostor.SignPurchase(buyerAddr, ticket)
	require.NoError(t, err)
	_, err = f.engine.BuyByNative(buyerAddr, ticket, sig, milli(50))
	require.ErrorIs(t, err, coreerrors.ErrInvalidSignature)
	f.requireInert()

	// a genuine voucher cannot be spent by another buyer
	require.NoError(t, f.usdt.Mint(strangerAddr, ether(10)))
	require.NoError(t, f.usdt.Approve(strangerAddr, presaleAddr, ether(10)))
	f.commit()
	_, err = f.engine.BuyByToken(strangerAddr, ticket, f.sign(buyerAddr, ticket), ether(1))
	require.ErrorIs(t, err, coreerrors.ErrInvalidSignature)
	f.requireInert()

	_, err = f.engine.BuyByNative(buyerAddr, ticket, []byte("short"), milli(50))
	require.ErrorIs(t, err, coreerrors.ErrInvalidSignature)
	require.Empty(t, f.events.Events())
}

func TestNativeRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	value := milli(50)

	_, err := f.engine.BuyByNative(buyerAddr, ticket, f.sign(buyerAddr, ticket), value)
	require.NoError(t, err)

	buyerBal, err := f.bank.Balance(buyerAddr)
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int).Sub(ether(10), value), buyerBal)
	held, err := f.bank.Balance(presaleAddr)
	require.NoError(t, err)
	require.Equal(t, value, held)

	// 0.05 native at 1000 per coin is 50 accounting units
	remaining, err := f.engine.RemainingAllocation(ownerAddr, buyerAddr, ticket)
	require.NoError(t, err)
	require.Equal(t, ether(150), remaining)

	require.ErrorIs(t, f.engine.WithdrawNativeOwner(strangerAddr, value), coreerrors.ErrNotOwner)
	require.ErrorIs(t, f.engine.WithdrawNativeOwner(ownerAddr, new(uint256.Int).AddUint64(value, 1)), coreerrors.ErrInsufficientTreasury)

	require.NoError(t, f.engine.WithdrawNativeOwner(ownerAddr, value))
	ownerBal, err := f.bank.Balance(ownerAddr)
	require.NoError(t, err)
	require.Equal(t, value, ownerBal)
	held, err = f.bank.Balance(presaleAddr)
	require.NoError(t, err)
	require.True(t, held.IsZero())
	tres, err := f.engine.TreasuryBalance(bank.AssetNative)
	require.NoError(t, err)
	require.True(t, tres.IsZero())
}

func TestFailingNativeReceiverRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	value := milli(50)
	_, err := f.engine.BuyByNative(buyerAddr, ticket, f.sign(buyerAddr, ticket), value)
	require.NoError(t, err)
	f.commit()

	f.bank.RegisterReceiver(ownerAddr, func(ethcommon.Address, *uint256.Int) error {
		return errors.New("cannot receive")
	})
	before := len(f.events.Events())
	err = f.engine.WithdrawNativeOwner(ownerAddr, value)
	require.ErrorIs(t, err, coreerrors.ErrTransferFailed)
	f.requireInert()
	require.Len(t, f.events.Events(), before)

	tres, err := f.engine.TreasuryBalance(bank.AssetNative)
	require.NoError(t, err)
	require.Equal(t, value, tres)
}

func TestWithdrawTokenOwner(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.BuyByToken(buyerAddr, ticket, f.sign(buyerAddr, ticket), ether(20))
	require.NoError(t, err)

	require.NoError(t, f.engine.WithdrawTokenOwner(ownerAddr, ether(20)))
	got, err := f.usdt.BalanceOf(ownerAddr)
	require.NoError(t, err)
	require.Equal(t, ether(20), got)
	require.ErrorIs(t, f.engine.WithdrawTokenOwner(ownerAddr, ether(1)), coreerrors.ErrInsufficientTreasury)
}

func TestWithdrawSaleTokenRequiresVesting(t *testing.T) {
	f := newFixture(t, nil)

	err := f.engine.WithdrawSaleToken(buyerAddr, uint256.NewInt(1))
	require.ErrorIs(t, err, coreerrors.ErrWithdrawalNotPermitted)
	require.Equal(t, "you can't withdraw yet", err.Error())

	_, err = f.engine.BuyByToken(buyerAddr, ticket, f.sign(buyerAddr, ticket), ether(1))
	require.NoError(t, err)
	f.commit()
	require.ErrorIs(t, f.engine.WithdrawSaleToken(buyerAddr, ether(1)), coreerrors.ErrWithdrawalNotPermitted)
	f.requireInert()

	require.ErrorIs(t, f.engine.GrantVesting(buyerAddr, buyerAddr, true), coreerrors.ErrNotOwner)
	require.NoError(t, f.engine.GrantVesting(ownerAddr, buyerAddr, true))
	require.ErrorIs(t, f.engine.WithdrawSaleToken(buyerAddr, ether(101)), coreerrors.ErrInsufficientBalance)
	require.NoError(t, f.engine.WithdrawSaleToken(buyerAddr, ether(40)))

	got, err := f.sale.BalanceOf(buyerAddr)
	require.NoError(t, err)
	require.Equal(t, ether(40), got)
	left, err := f.engine.BalanceOf(buyerAddr, buyerAddr)
	require.NoError(t, err)
	require.Equal(t, ether(60), left)

	require.NoError(t, f.engine.GrantVesting(ownerAddr, buyerAddr, false))
	require.ErrorIs(t, f.engine.WithdrawSaleToken(buyerAddr, ether(1)), coreerrors.ErrWithdrawalNotPermitted)
	require.NoError(t, f.engine.SetVesting(ownerAddr, true))
	require.NoError(t, f.engine.WithdrawSaleToken(buyerAddr, ether(60)))
}

func TestSignedWithdraw(t *testing.T) {
	f := newFixture(t, nil)

	bogus := make([]byte, 65)
	err := f.engine.Withdraw(buyerAddr, uint256.NewInt(1), "secret", bogus)
	require.ErrorIs(t, err, coreerrors.ErrInvalidSignature)
	require.Equal(t, "invalid signature", err.Error())

	_, err = f.engine.BuyByToken(buyerAddr, ticket, f.sign(buyerAddr, ticket), ether(2))
	require.NoError(t, err)

	sig, err := f.issuer.SignWithdraw(buyerAddr, ether(150), "secret")
	require.NoError(t, err)
	require.ErrorIs(t, f.engine.Withdraw(buyerAddr, ether(150), "other", sig), coreerrors.ErrInvalidSignature)
	require.NoError(t, f.engine.Withdraw(buyerAddr, ether(150), "secret", sig))

	got, err := f.sale.BalanceOf(buyerAddr)
	require.NoError(t, err)
	require.Equal(t, ether(150), got)

	// cap-bounded reuse: the balance, not the voucher, stops a second payout
	err = f.engine.Withdraw(buyerAddr, ether(150), "secret", sig)
	require.ErrorIs(t, err, coreerrors.ErrInsufficientBalance)
}

func TestSignedWithdrawShortInventory(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.BuyByToken(buyerAddr, ticket, f.sign(buyerAddr, ticket), ether(2))
	require.NoError(t, err)
	require.NoError(t, f.sale.Transfer(presaleAddr, ownerAddr, ether(100_000)))
	f.commit()

	sig, err := f.issuer.SignWithdraw(buyerAddr, ether(1), "s")
	require.NoError(t, err)
	require.ErrorIs(t, f.engine.Withdraw(buyerAddr, ether(1), "s", sig), coreerrors.ErrInsufficientTreasury)
	f.requireInert()
}

func TestTokenPurchaseOverCapLeavesNoPartialCredit(t *testing.T) {
	f := newFixture(t, nil)
	sig := f.sign(buyerAddr, ticket)

	_, err := f.engine.BuyByToken(buyerAddr, ticket, sig, ether(150))
	require.NoError(t, err)
	f.commit()
	balBefore, err := f.engine.BalanceOf(buyerAddr, buyerAddr)
	require.NoError(t, err)

	_, err = f.engine.BuyByToken(buyerAddr, ticket, sig, ether(51))
	require.ErrorIs(t, err, coreerrors.ErrTicketCapExceeded)
	require.Equal(t, "maximum value of ticket", err.Error())
	f.requireInert()

	balAfter, err := f.engine.BalanceOf(buyerAddr, buyerAddr)
	require.NoError(t, err)
	require.Equal(t, balBefore, balAfter)
	remaining, err := f.engine.RemainingAllocation(buyerAddr, buyerAddr, ticket)
	require.NoError(t, err)
	require.Equal(t, ether(50), remaining)

	// reuse of the same voucher is fine up to the cap
	_, err = f.engine.BuyByToken(buyerAddr, ticket, sig, ether(50))
	require.NoError(t, err)
	remaining, err = f.engine.RemainingAllocation(buyerAddr, buyerAddr, ticket)
	require.NoError(t, err)
	require.True(t, remaining.IsZero())
}

func TestMissingAllowanceIsInert(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.usdt.Approve(buyerAddr, presaleAddr, ether(1)))
	f.commit()

	_, err := f.engine.BuyByToken(buyerAddr, ticket, f.sign(buyerAddr, ticket), ether(2))
	require.ErrorIs(t, err, coreerrors.ErrInsufficientAllowance)
	f.requireInert()
}

func TestSupplyCap(t *testing.T) {
	f := newFixture(t, func(p *Params, _ *Deps) {
		p.TotalSupplyCap = ether(150)
	})
	_, err := f.engine.BuyByToken(buyerAddr, ticket, f.sign(buyerAddr, ticket), ether(1))
	require.NoError(t, err)
	f.commit()

	_, err = f.engine.BuyByToken(buyerAddr, ticket, f.sign(buyerAddr, ticket), ether(1))
	require.ErrorIs(t, err, coreerrors.ErrSupplyCapExceeded)
	f.requireInert()
	require.Equal(t, ether(150), f.engine.TotalSupplyCap())
}

func TestTicketCapOverride(t *testing.T) {
	f := newFixture(t, nil)
	require.ErrorIs(t, f.engine.SetTicketCap(buyerAddr, "vip", ether(500)), coreerrors.ErrNotOwner)
	require.ErrorIs(t, f.engine.SetTicketCap(ownerAddr, "  ", ether(500)), coreerrors.ErrInvalidTicket)
	require.NoError(t, f.engine.SetTicketCap(ownerAddr, "vip", ether(500)))

	_, err := f.engine.BuyByToken(buyerAddr, "vip", f.sign(buyerAddr, "vip"), ether(300))
	require.NoError(t, err)
	remaining, err := f.engine.RemainingAllocation(ownerAddr, buyerAddr, "vip")
	require.NoError(t, err)
	require.Equal(t, ether(200), remaining)

	require.NoError(t, f.engine.SetTicketCap(ownerAddr, "vip", ether(100)))
	remaining, err = f.engine.RemainingAllocation(ownerAddr, buyerAddr, "vip")
	require.NoError(t, err)
	require.True(t, remaining.IsZero())
	require.Contains(t, f.events.Types(), EventTypeTicketCapSet)
}

func TestRejectsEmptyTicketAndZeroAmount(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.BuyByToken(buyerAddr, "", f.sign(buyerAddr, ""), ether(1))
	require.ErrorIs(t, err, coreerrors.ErrInvalidTicket)
	_, err = f.engine.BuyByToken(buyerAddr, ticket, f.sign(buyerAddr, ticket), uint256.NewInt(0))
	require.ErrorIs(t, err, coreerrors.ErrInvalidAmount)
	_, err = f.engine.BuyByNative(buyerAddr, ticket, f.sign(buyerAddr, ticket), nil)
	require.ErrorIs(t, err, coreerrors.ErrInvalidAmount)
	f.requireInert()

	// the signature is judged before the ticket and the amount
	_, err = f.engine.BuyByToken(buyerAddr, "", []byte{1, 2, 3}, ether(1))
	require.ErrorIs(t, err, coreerrors.ErrInvalidSignature)
	_, err = f.engine.BuyByToken(buyerAddr, ticket, nil, uint256.NewInt(0))
	require.ErrorIs(t, err, coreerrors.ErrInvalidSignature)
	f.requireInert()
}

func TestPaddedTicketRedeemsUnderCanonicalForm(t *testing.T) {
	f := newFixture(t, nil)
	p, err := f.engine.BuyByToken(buyerAddr, "vip ", f.sign(buyerAddr, "vip "), ether(1))
	require.NoError(t, err)
	require.Equal(t, "vip", p.Ticket)
	f.commit()

	// padding on either side names the same ticket and shares its cap
	_, err = f.engine.BuyByToken(buyerAddr, " vip", f.sign(buyerAddr, "vip"), ether(1))
	require.NoError(t, err)
	remaining, err := f.engine.RemainingAllocation(buyerAddr, buyerAddr, "vip")
	require.NoError(t, err)
	limit, err := f.engine.TicketCap("vip")
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int).Sub(limit, ether(2)), remaining)
}

func TestReadsAreScopedToHolderAndOwner(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.BalanceOf(strangerAddr, buyerAddr)
	require.ErrorIs(t, err, coreerrors.ErrNotOwner)
	_, err = f.engine.RemainingAllocation(strangerAddr, buyerAddr, ticket)
	require.ErrorIs(t, err, coreerrors.ErrNotOwner)

	remaining, err := f.engine.RemainingAllocation(ownerAddr, buyerAddr, ticket)
	require.NoError(t, err)
	require.Equal(t, ether(200), remaining)
}

func TestPauseBlocksUserOperations(t *testing.T) {
	f := newFixture(t, nil)
	require.ErrorIs(t, f.engine.Pause(strangerAddr), coreerrors.ErrNotOwner)
	require.NoError(t, f.engine.Pause(ownerAddr))
	f.commit()

	_, err := f.engine.BuyByToken(buyerAddr, ticket, f.sign(buyerAddr, ticket), ether(1))
	require.ErrorIs(t, err, coreerrors.ErrModulePaused)
	f.requireInert()

	require.NoError(t, f.engine.Unpause(ownerAddr))
	_, err = f.engine.BuyByToken(buyerAddr, ticket, f.sign(buyerAddr, ticket), ether(1))
	require.NoError(t, err)
}

func TestAuthorityRotation(t *testing.T) {
	f := newFixture(t, nil)
	oldSig := f.sign(buyerAddr, ticket)

	nextKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	next, err := voucher.NewIssuer(nextKey)
	require.NoError(t, err)

	require.ErrorIs(t, f.engine.SetAuthority(buyerAddr, next.Address()), coreerrors.ErrNotOwner)
	require.NoError(t, f.engine.SetAuthority(ownerAddr, next.Address()))

	_, err = f.engine.BuyByToken(buyerAddr, ticket, oldSig, ether(1))
	require.ErrorIs(t, err, coreerrors.ErrInvalidSignature)

	sig, err := next.SignPurchase(buyerAddr, ticket)
	require.NoError(t, err)
	_, err = f.engine.BuyByToken(buyerAddr, ticket, sig, ether(1))
	require.NoError(t, err)

	require.NoError(t, f.engine.TransferOwnership(ownerAddr, strangerAddr))
	owner, err := f.engine.Owner()
	require.NoError(t, err)
	require.Equal(t, strangerAddr, owner)
}

func TestNonceReplayGuard(t *testing.T) {
	f := newFixture(t, nil)
	guard := voucher.NewNonceRegistry(f.state, ModuleName)
	engine, err := NewEngine(f.state, f.engine.params, Deps{Bank: f.bank, SaleToken: f.sale, PaymentToken: f.usdt, Replay: guard})
	require.NoError(t, err)
	engine.SetNowFunc(func() int64 { return f.now })

	sig := f.sign(buyerAddr, ticket)
	_, err = engine.BuyByToken(buyerAddr, ticket, sig, ether(1))
	require.NoError(t, err)
	f.commit()

	_, err = engine.BuyByToken(buyerAddr, ticket, sig, ether(1))
	require.ErrorIs(t, err, coreerrors.ErrVoucherUsed)
	f.requireInert()
}

func TestNewEngineValidatesParams(t *testing.T) {
	st := state.NewManager(storage.NewMemDB())
	deps := Deps{Bank: bank.New(st), SaleToken: token.NewLedger(st, saleAddr, "BRV"), PaymentToken: token.NewLedger(st, usdtAddr, "USDT")}
	base := Params{
		Owner:          ownerAddr,
		Authority:      strangerAddr,
		Account:        presaleAddr,
		Window:         NewWindow(testStart, 1),
		NativeRate:     ether(1000),
		TokenPrice:     milli(10),
		TicketCap:      ether(200),
		TotalSupplyCap: ether(1000),
	}

	bad := base
	bad.Window = Window{Start: 10, End: 10}
	_, err := NewEngine(st, bad, deps)
	require.Error(t, err)

	bad = base
	bad.TokenPrice = uint256.NewInt(0)
	_, err = NewEngine(st, bad, deps)
	require.Error(t, err)

	_, err = NewEngine(st, base, Deps{})
	require.Error(t, err)

	e, err := NewEngine(st, base, deps)
	require.NoError(t, err)
	require.Equal(t, DefaultPaymentAsset, e.PaymentAsset())
}
