package presale

import (
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DefaultPaymentAsset names the settlement token in the treasury.
const DefaultPaymentAsset = "USDT"

// Params is the deployment configuration of a presale round. Only the owner
// and authority recorded at first start can change afterwards, through the
// admin operations.
type Params struct {
	Owner     ethcommon.Address
	Authority ethcommon.Address
	// Account is the contract address that holds collected funds and the
	// sale-token inventory.
	Account ethcommon.Address

	Window Window

	// NativeRate is accounting units per whole native coin.
	NativeRate *uint256.Int
	// TokenPrice is accounting units per whole sale token.
	TokenPrice *uint256.Int
	// TicketCap is the default per-ticket ceiling in accounting units.
	TicketCap *uint256.Int
	// TotalSupplyCap bounds the sale tokens sold across all buyers.
	TotalSupplyCap *uint256.Int

	PaymentAsset string
}

func (p Params) Validate() error {
	if p.Owner == (ethcommon.Address{}) {
		return fmt.Errorf("presale: owner required")
	}
	if p.Authority == (ethcommon.Address{}) {
		return fmt.Errorf("presale: authority required")
	}
	if p.Account == (ethcommon.Address{}) {
		return fmt.Errorf("presale: contract account required")
	}
	if err := p.Window.Validate(); err != nil {
		return err
	}
	if p.TicketCap == nil || p.TicketCap.IsZero() {
		return fmt.Errorf("presale: ticket cap must be positive")
	}
	if p.TotalSupplyCap == nil || p.TotalSupplyCap.IsZero() {
		return fmt.Errorf("presale: total supply cap must be positive")
	}
	return nil
}

func (p Params) paymentAsset() string {
	asset := strings.ToUpper(strings.TrimSpace(p.PaymentAsset))
	if asset == "" {
		return DefaultPaymentAsset
	}
	return asset
}
