package voucher

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"bunnyriven/crypto"
)

// Issuer is the off-chain side of the scheme: it holds the authority key and
// signs vouchers for approved buyers and prize winners.
type Issuer struct {
	key *crypto.PrivateKey
}

func NewIssuer(key *crypto.PrivateKey) (*Issuer, error) {
	if key == nil {
		return nil, fmt.Errorf("voucher: issuer key required")
	}
	return &Issuer{key: key}, nil
}

// LoadIssuer decrypts the authority key from an Ethereum v3 keystore file.
func LoadIssuer(keystorePath, passphrase string) (*Issuer, error) {
	key, err := crypto.LoadFromKeystore(keystorePath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("voucher: load issuer: %w", err)
	}
	return NewIssuer(key)
}

// Address is the authority address verifiers must be configured with.
func (i *Issuer) Address() ethcommon.Address {
	return i.key.Address()
}

func (i *Issuer) Sign(msg Message) ([]byte, error) {
	return i.key.SignDigest(msg.Digest())
}

func (i *Issuer) SignPurchase(buyer ethcommon.Address, ticket string) ([]byte, error) {
	return i.Sign(PurchaseMessage(buyer, ticket))
}

func (i *Issuer) SignWithdraw(caller ethcommon.Address, amount *uint256.Int, secret string) ([]byte, error) {
	return i.Sign(WithdrawMessage(caller, amount, secret))
}

func (i *Issuer) SignClaim(caller, token ethcommon.Address, amount *uint256.Int) ([]byte, error) {
	return i.Sign(ClaimMessage(caller, token, amount))
}
