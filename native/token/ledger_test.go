package token

import (
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
	usdtAddr = ethcommon.HexToAddress("0x0000000000000000000000000000000000005d70")
	holder   = ethcommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	spender  = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c0")
	sink     = ethcommon.HexToAddress("0x00000000000000000000000000000000000000d0")
)

func newLedger(t *testing.T) (*Ledger, *events.Recorder) {
	t.Helper()
	l := NewLedger(state.NewManager(storage.NewMemDB()), usdtAddr, "usdt")
	rec := &events.Recorder{}
	l.SetEmitter(rec)
	require.NoError(t, l.Mint(holder, uint256.NewInt(1000)))
	return l, rec
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	l, rec := newLedger(t)
	require.Equal(t, "USDT", l.Symbol())

	require.ErrorIs(t, l.TransferFrom(spender, holder, sink, uint256.NewInt(1)), coreerrors.ErrInsufficientAllowance)

	require.NoError(t, l.Approve(holder, spender, uint256.NewInt(300)))
	require.NoError(t, l.TransferFrom(spender, holder, sink, uint256.NewInt(200)))

	left, err := l.Allowance(holder, spender)
	require.NoError(t, err)
	require.Equal(t, uint64(100), left.Uint64())
	got, err := l.BalanceOf(sink)
	require.NoError(t, err)
	require.Equal(t, uint64(200), got.Uint64())

	require.ErrorIs(t, l.TransferFrom(spender, holder, sink, uint256.NewInt(101)), coreerrors.ErrInsufficientAllowance)
	require.Equal(t, []string{events.TypeTransfer}, rec.Types())
}

func TestTransferChecksBalance(t *testing.T) {
	l, _ := newLedger(t)
	require.NoError(t, l.Approve(holder, spender, uint256.NewInt(5000)))
	require.ErrorIs(t, l.TransferFrom(spender, holder, sink, uint256.NewInt(1001)), coreerrors.ErrInsufficientBalance)
	require.ErrorIs(t, l.Transfer(sink, holder, uint256.NewInt(1)), coreerrors.ErrInsufficientBalance)

	require.NoError(t, l.Transfer(holder, holder, uint256.NewInt(10)))
	bal, err := l.BalanceOf(holder)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), bal.Uint64())
}
