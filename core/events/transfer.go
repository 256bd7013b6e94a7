package events

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"bunnyriven/core/types"
)

const (
	// TypeTransfer is emitted for every native coin or token balance movement.
	TypeTransfer = "transfer"
)

type Transfer struct {
	Asset  string
	From   ethcommon.Address
	To     ethcommon.Address
	Amount *uint256.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	attrs["from"] = e.From.Hex()
	attrs["to"] = e.To.Hex()
	attrs["amount"] = FormatAmount(e.Amount)
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
