package presale

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "bunnyriven/core/errors"
	"bunnyriven/native/bank"
	"bunnyriven/native/voucher"
)

// WithdrawNativeOwner pays collected native coin to the owner.
func (e *Engine) WithdrawNativeOwner(caller ethcommon.Address, amount *uint256.Int) error {
	return e.withdrawTreasury(caller, bank.AssetNative, amount)
}

// WithdrawTokenOwner pays collected payment token to the owner.
func (e *Engine) WithdrawTokenOwner(caller ethcommon.Address, amount *uint256.Int) error {
	return e.withdrawTreasury(caller, e.params.paymentAsset(), amount)
}

func (e *Engine) withdrawTreasury(caller ethcommon.Address, asset string, amount *uint256.Int) error {
	return e.atomic(func() error {
		if err := e.admin.RequireOwner(caller); err != nil {
			return err
		}
		return e.treasury.Withdraw(asset, amount, caller)
	})
}

// WithdrawSaleToken releases vested sale tokens to the caller. The vesting gate
// is checked before the balance, so a closed gate always reports
// ErrWithdrawalNotPermitted.
func (e *Engine) WithdrawSaleToken(caller ethcommon.Address, amount *uint256.Int) error {
	return e.atomic(func() error {
		if err := e.admin.CheckActive(); err != nil {
			return err
		}
		if err := e.vesting.CheckPermitted(caller); err != nil {
			return err
		}
		if err := e.payEntitlement(caller, amount); err != nil {
			return err
		}
		e.emit(newWithdrawnEvent(caller, amount, withdrawalKindVested))
		return nil
	})
}

// Withdraw is the signed exit: the authority vouches for (caller, amount,
// secret) and the caller's entitlement is paid out in the sale token.
// It pays the sale token held by the presale account, never the payment
// token; collected payments leave only through the owner withdrawals.
func (e *Engine) Withdraw(caller ethcommon.Address, amount *uint256.Int, secret string, sig []byte) error {
	return e.atomic(func() error {
		if err := e.admin.CheckActive(); err != nil {
			return err
		}
		msg := voucher.WithdrawMessage(caller, amount, secret)
		if err := e.verifier.Verify(msg, sig); err != nil {
			return err
		}
		if err := e.replay.Consume(msg); err != nil {
			return err
		}
		if err := e.payEntitlement(caller, amount); err != nil {
			return err
		}
		e.emit(newWithdrawnEvent(caller, amount, withdrawalKindVoucher))
		return nil
	})
}

func (e *Engine) payEntitlement(to ethcommon.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return coreerrors.ErrInvalidAmount
	}
	if err := e.ledger.Debit(to, amount); err != nil {
		return err
	}
	held, err := e.deps.SaleToken.BalanceOf(e.params.Account)
	if err != nil {
		return err
	}
	if held.Lt(amount) {
		return coreerrors.ErrInsufficientTreasury
	}
	return e.deps.SaleToken.Transfer(e.params.Account, to, amount)
}
