package errors

import stderrors "errors"

// Redemption failures shared by the presale, wheel and egg modules. The
// messages double as the human-readable reason returned to callers.
var (
	ErrNotStarted             = stderrors.New("presale hasn't started yet")
	ErrEnded                  = stderrors.New("presale has ended")
	ErrInvalidSignature       = stderrors.New("invalid signature")
	ErrTicketCapExceeded      = stderrors.New("maximum value of ticket")
	ErrInsufficientTreasury   = stderrors.New("insufficient treasury balance")
	ErrWithdrawalNotPermitted = stderrors.New("you can't withdraw yet")
	ErrInsufficientAllowance  = stderrors.New("insufficient allowance")
	ErrTransferFailed         = stderrors.New("transfer failed")

	ErrNotOwner            = stderrors.New("caller is not the owner")
	ErrInsufficientBalance = stderrors.New("insufficient balance")
	ErrSupplyCapExceeded   = stderrors.New("total supply exceeded")
	ErrInvalidAmount       = stderrors.New("amount must be positive")
	ErrInvalidTicket       = stderrors.New("invalid ticket")
	ErrInvalidEgg          = stderrors.New("invalid egg")
	ErrUnsupportedToken    = stderrors.New("unsupported token")
	ErrOverflow            = stderrors.New("arithmetic overflow")
	ErrModulePaused        = stderrors.New("module paused")
	ErrVoucherUsed         = stderrors.New("voucher already used")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNotStarted, "NotStarted"},
	{ErrEnded, "Ended"},
	{ErrInvalidSignature, "InvalidSignature"},
	{ErrTicketCapExceeded, "TicketCapExceeded"},
	{ErrInsufficientTreasury, "InsufficientTreasury"},
	{ErrWithdrawalNotPermitted, "WithdrawalNotPermitted"},
	{ErrInsufficientAllowance, "InsufficientAllowance"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrNotOwner, "NotOwner"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrSupplyCapExceeded, "SupplyCapExceeded"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidTicket, "InvalidTicket"},
	{ErrInvalidEgg, "InvalidEgg"},
	{ErrUnsupportedToken, "UnsupportedToken"},
	{ErrOverflow, "Overflow"},
	{ErrModulePaused, "ModulePaused"},
	{ErrVoucherUsed, "VoucherUsed"},
}

// Kind maps err to the stable kind name of the first taxonomy error it wraps.
// Errors outside the taxonomy report "Internal"; nil reports "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if stderrors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}

// IsPolicy reports whether err is a caller-correctable rejection rather than
// an internal failure.
func IsPolicy(err error) bool {
	kind := Kind(err)
	return kind != "" && kind != "Internal"
}
