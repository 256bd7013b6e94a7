package presale

import (
	"fmt"

	"github.com/holiman/uint256"

	coreerrors "bunnyriven/core/errors"
)

// Unit is one whole token in base units (18 decimals).
var Unit = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18))

// Converter holds the fixed sale prices. NativeRate is accounting units per
// whole native coin; TokenPrice is accounting units per whole sale token.
// Every conversion rounds down.
type Converter struct {
	nativeRate *uint256.Int
	tokenPrice *uint256.Int
}

func NewConverter(nativeRate, tokenPrice *uint256.Int) (Converter, error) {
	if nativeRate == nil || nativeRate.IsZero() {
		return Converter{}, fmt.Errorf("presale: native rate must be positive")
	}
	if tokenPrice == nil || tokenPrice.IsZero() {
		return Converter{}, fmt.Errorf("presale: token price must be positive")
	}
	return Converter{
		nativeRate: new(uint256.Int).Set(nativeRate),
		tokenPrice: new(uint256.Int).Set(tokenPrice),
	}, nil
}

func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, coreerrors.ErrOverflow
	}
	return out, nil
}

// ToAccounting values a native coin amount in the accounting currency.
func (c Converter) ToAccounting(native *uint256.Int) (*uint256.Int, error) {
	return mulDiv(native, c.nativeRate, Unit)
}

// ToNative is the inverse of ToAccounting.
func (c Converter) ToNative(accounting *uint256.Int) (*uint256.Int, error) {
	return mulDiv(accounting, Unit, c.nativeRate)
}

// Entitlement is the number of sale-token base units bought for an accounting
// amount.
func (c Converter) Entitlement(accounting *uint256.Int) (*uint256.Int, error) {
	return mulDiv(accounting, Unit, c.tokenPrice)
}

func (c Converter) NativeRate() *uint256.Int { return new(uint256.Int).Set(c.nativeRate) }

func (c Converter) TokenPrice() *uint256.Int { return new(uint256.Int).Set(c.tokenPrice) }
