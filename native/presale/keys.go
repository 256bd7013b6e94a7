package presale

import (
	ethcommon "github.com/ethereum/go-ethereum/common"

	"bunnyriven/native/voucher"
)

var (
	ticketCommittedPrefix = []byte("presale/ticket/committed/")
	ticketCapPrefix       = []byte("presale/ticket/cap/")
	buyerBalancePrefix    = []byte("presale/balance/")
	vestingGrantPrefix    = []byte("presale/vesting/grant/")
	vestingGlobalKey      = []byte("presale/vesting/global")
	totalSoldKey          = []byte("presale/totals/sold")
)

// Buyer addresses are fixed width, so prefix+buyer+ticket cannot collide
// across buyers.
func ticketCommittedKey(buyer ethcommon.Address, ticket string) []byte {
	buf := make([]byte, 0, len(ticketCommittedPrefix)+ethcommon.AddressLength+len(ticket))
	buf = append(buf, ticketCommittedPrefix...)
	buf = append(buf, buyer.Bytes()...)
	return append(buf, ticket...)
}

func ticketCapKey(ticket string) []byte {
	buf := make([]byte, len(ticketCapPrefix)+len(ticket))
	copy(buf, ticketCapPrefix)
	copy(buf[len(ticketCapPrefix):], ticket)
	return buf
}

func buyerBalanceKey(buyer ethcommon.Address) []byte {
	return append(append([]byte(nil), buyerBalancePrefix...), buyer.Bytes()...)
}

func vestingGrantKey(buyer ethcommon.Address) []byte {
	return append(append([]byte(nil), vestingGrantPrefix...), buyer.Bytes()...)
}

func normalizeTicket(ticket string) string {
	return voucher.CanonicalTicket(ticket)
}
