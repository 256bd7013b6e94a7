package voucher

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	coreerrors "bunnyriven/core/errors"
)

const signatureLength = 65

// AuthoritySource yields the address currently trusted to sign vouchers.
type AuthoritySource interface {
	Authority() (ethcommon.Address, error)
}

// StaticAuthority is an AuthoritySource fixed at construction.
type StaticAuthority ethcommon.Address

func (s StaticAuthority) Authority() (ethcommon.Address, error) {
	return ethcommon.Address(s), nil
}

// Verifier checks that a voucher was signed by the trusted authority.
type Verifier interface {
	Verify(msg Message, sig []byte) error
}

// Recover returns the address that produced sig over msg. Malformed
// signatures report ErrInvalidSignature.
func Recover(msg Message, sig []byte) (ethcommon.Address, error) {
	if len(sig) != signatureLength {
		return ethcommon.Address{}, coreerrors.ErrInvalidSignature
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return ethcommon.Address{}, coreerrors.ErrInvalidSignature
	}
	pubKey, err := ethcrypto.SigToPub(msg.Digest(), normalized)
	if err != nil {
		return ethcommon.Address{}, coreerrors.ErrInvalidSignature
	}
	return ethcrypto.PubkeyToAddress(*pubKey), nil
}

// ECDSAVerifier recovers the secp256k1 signer and compares it with the
// configured authority.
type ECDSAVerifier struct {
	authority AuthoritySource
}

// NewECDSAVerifier constructs a verifier reading the authority from src on
// every call, so authority rotation takes effect immediately.
func NewECDSAVerifier(src AuthoritySource) *ECDSAVerifier {
	return &ECDSAVerifier{authority: src}
}

func (v *ECDSAVerifier) Verify(msg Message, sig []byte) error {
	if v == nil || v.authority == nil {
		return fmt.Errorf("voucher: verifier not configured")
	}
	expected, err := v.authority.Authority()
	if err != nil {
		return err
	}
	if expected == (ethcommon.Address{}) {
		return coreerrors.ErrInvalidSignature
	}
	recovered, err := Recover(msg, sig)
	if err != nil {
		return err
	}
	if recovered != expected {
		return coreerrors.ErrInvalidSignature
	}
	return nil
}
