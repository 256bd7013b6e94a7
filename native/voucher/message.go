package voucher

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Message is keccak256 over the tightly packed voucher fields: addresses as
// 20 raw bytes, strings as raw UTF-8 and amounts as 32-byte big-endian words.
type Message [32]byte

// CanonicalTicket is the form a ticket is signed, stored and capped under.
// Surrounding whitespace is not part of a ticket.
func CanonicalTicket(ticket string) string {
	return strings.TrimSpace(ticket)
}

// PurchaseMessage binds a ticket to a buyer so the voucher cannot be spent by
// another account. The ticket is hashed in its canonical form.
func PurchaseMessage(buyer ethcommon.Address, ticket string) Message {
	return pack(buyer.Bytes(), []byte(CanonicalTicket(ticket)))
}

// WithdrawMessage authorises an investor withdrawal of amount tagged with an
// off-chain secret.
func WithdrawMessage(caller ethcommon.Address, amount *uint256.Int, secret string) Message {
	return pack(caller.Bytes(), word(amount), []byte(secret))
}

// ClaimMessage authorises a prize payout of amount units of token.
func ClaimMessage(caller, token ethcommon.Address, amount *uint256.Int) Message {
	return pack(caller.Bytes(), token.Bytes(), word(amount))
}

// Digest is the EIP-191 personal-message hash actually signed by the
// authority.
func (m Message) Digest() []byte {
	return accounts.TextHash(m[:])
}

func (m Message) String() string {
	return "0x" + hex.EncodeToString(m[:])
}

func pack(parts ...[]byte) Message {
	var out Message
	copy(out[:], ethcrypto.Keccak256(parts...))
	return out
}

func word(amount *uint256.Int) []byte {
	if amount == nil {
		return make([]byte, 32)
	}
	w := amount.Bytes32()
	return w[:]
}
