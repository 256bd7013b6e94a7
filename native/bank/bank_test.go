package bank

import (
	"errors"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	coreerrors "bunnyriven/core/errors"
	"bunnyriven/core/events"
	"bunnyriven/core/state"
	"bunnyriven/storage"
)

var (
	alice = ethcommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = ethcommon.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func TestBankTransfer(t *testing.T) {
	b := New(state.NewManager(storage.NewMemDB()))
	rec := &events.Recorder{}
	b.SetEmitter(rec)
	require.NoError(t, b.Mint(alice, uint256.NewInt(100)))

	require.NoError(t, b.Transfer(alice, bob, uint256.NewInt(40)))
	aliceBal, err := b.Balance(alice)
	require.NoError(t, err)
	bobBal, err := b.Balance(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(60), aliceBal.Uint64())
	require.Equal(t, uint64(40), bobBal.Uint64())

	require.ErrorIs(t, b.Transfer(bob, alice, uint256.NewInt(41)), coreerrors.ErrInsufficientBalance)
	require.Equal(t, []string{events.TypeTransfer}, rec.Types())
	require.Equal(t, "BNB", events.Payload(rec.Events()[0]).Attr("asset"))
}

func TestBankReceiverCanRefuse(t *testing.T) {
	b := New(state.NewManager(storage.NewMemDB()))
	require.NoError(t, b.Mint(alice, uint256.NewInt(10)))
	b.RegisterReceiver(bob, func(ethcommon.Address, *uint256.Int) error {
		return errors.New("no thanks")
	})

	err := b.Transfer(alice, bob, uint256.NewInt(1))
	require.ErrorIs(t, err, coreerrors.ErrTransferFailed)
	bal, err := b.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(10), bal.Uint64())

	b.RegisterReceiver(bob, nil)
	require.NoError(t, b.Transfer(alice, bob, uint256.NewInt(1)))
}

func TestBankMintOverflow(t *testing.T) {
	b := New(state.NewManager(storage.NewMemDB()))
	max := new(uint256.Int).SetAllOne()
	require.NoError(t, b.Mint(alice, max))
	require.ErrorIs(t, b.Mint(alice, uint256.NewInt(1)), coreerrors.ErrOverflow)
}
