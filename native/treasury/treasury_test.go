package treasury

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

var ownerAddr = ethcommon.HexToAddress("0x0000000000000000000000000000000000000a01")

func TestTreasuryDepositWithdraw(t *testing.T) {
	tr := New(state.NewManager(storage.NewMemDB()), "presale")
	rec := &events.Recorder{}
	tr.SetEmitter(rec)

	var paid []uint64
	tr.RegisterAsset("bnb", func(to ethcommon.Address, amount *uint256.Int) error {
		require.Equal(t, ownerAddr, to)
		paid = append(paid, amount.Uint64())
		return nil
	})
	tr.RegisterAsset("USDT", func(ethcommon.Address, *uint256.Int) error { return nil })
	require.Equal(t, []string{"BNB", "USDT"}, tr.Assets())

	require.NoError(t, tr.Deposit("BNB", uint256.NewInt(50)))
	require.NoError(t, tr.Deposit("bnb", uint256.NewInt(25)))
	require.ErrorIs(t, tr.Withdraw("BNB", uint256.NewInt(76), ownerAddr), coreerrors.ErrInsufficientTreasury)
	require.ErrorIs(t, tr.Withdraw("BNB", uint256.NewInt(0), ownerAddr), coreerrors.ErrInvalidAmount)
	require.NoError(t, tr.Withdraw("BNB", uint256.NewInt(75), ownerAddr))

	bal, err := tr.Balance("BNB")
	require.NoError(t, err)
	require.True(t, bal.IsZero())
	require.Equal(t, []uint64{75}, paid)
	require.Equal(t, []string{EventTypeDeposited, EventTypeDeposited, EventTypeWithdrawn}, rec.Types())
}

func TestTreasuryFailedPayoutKeepsBalance(t *testing.T) {
	tr := New(state.NewManager(storage.NewMemDB()), "egg")
	tr.RegisterAsset("BRV", func(ethcommon.Address, *uint256.Int) error { return errors.New("rejected") })
	require.NoError(t, tr.Deposit("BRV", uint256.NewInt(10)))

	require.Error(t, tr.Withdraw("BRV", uint256.NewInt(10), ownerAddr))
	bal, err := tr.Balance("BRV")
	require.NoError(t, err)
	require.Equal(t, uint64(10), bal.Uint64())
}

func TestTreasuryUnknownAsset(t *testing.T) {
	tr := New(state.NewManager(storage.NewMemDB()), "presale")
	_, err := tr.Balance("DOGE")
	require.ErrorIs(t, err, coreerrors.ErrUnsupportedToken)
	require.ErrorIs(t, tr.Deposit("DOGE", uint256.NewInt(1)), coreerrors.ErrUnsupportedToken)
}
