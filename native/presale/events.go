package presale

import (
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"bunnyriven/core/events"
	"bunnyriven/core/types"
)

const (
	EventTypePurchased    = "presale.purchased"
	EventTypeWithdrawn    = "presale.withdrawn"
	EventTypeTicketCapSet = "presale.ticket_cap_set"
	EventTypeVestingSet   = "presale.vesting_set"
	EventTypeVestingGrant = "presale.vesting_granted"

	withdrawalKindVested  = "vested"
	withdrawalKindVoucher = "voucher"
)

// Purchase is the outcome of a successful buy.
type Purchase struct {
	Buyer       ethcommon.Address
	Ticket      string
	Asset       string
	Paid        *uint256.Int
	Accounting  *uint256.Int
	Entitlement *uint256.Int
	Remaining   *uint256.Int
}

func newPurchasedEvent(p *Purchase) *types.Event {
	return &types.Event{Type: EventTypePurchased, Attributes: map[string]string{
		"buyer":       p.Buyer.Hex(),
		"ticket":      p.Ticket,
		"asset":       p.Asset,
		"paid":        events.FormatAmount(p.Paid),
		"accounting":  events.FormatAmount(p.Accounting),
		"entitlement": events.FormatAmount(p.Entitlement),
		"remaining":   events.FormatAmount(p.Remaining),
	}}
}

func newWithdrawnEvent(buyer ethcommon.Address, amount *uint256.Int, kind string) *types.Event {
	return &types.Event{Type: EventTypeWithdrawn, Attributes: map[string]string{
		"buyer":  buyer.Hex(),
		"amount": events.FormatAmount(amount),
		"kind":   kind,
	}}
}

func newTicketCapEvent(ticket string, limit *uint256.Int) *types.Event {
	return &types.Event{Type: EventTypeTicketCapSet, Attributes: map[string]string{
		"ticket": ticket,
		"cap":    events.FormatAmount(limit),
	}}
}

func newVestingEvent(open bool) *types.Event {
	return &types.Event{Type: EventTypeVestingSet, Attributes: map[string]string{
		"open": strconv.FormatBool(open),
	}}
}

func newVestingGrantEvent(buyer ethcommon.Address, permitted bool) *types.Event {
	return &types.Event{Type: EventTypeVestingGrant, Attributes: map[string]string{
		"buyer":     buyer.Hex(),
		"permitted": strconv.FormatBool(permitted),
	}}
}
