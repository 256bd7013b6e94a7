package presaled

import (
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"bunnyriven/config"
	"bunnyriven/crypto"
	nativecommon "bunnyriven/native/common"
)

var (
	testBuyer    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	testOutsider = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func e18(n uint64) string {
	return fmt.Sprintf("%d000000000000000000", n)
}

// testDeployment is a live sale owned and signed for by a fresh key, with the
// buyer funded in every asset.
func testDeployment(t *testing.T) (*config.Config, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	authority := key.Address().Hex()
	brv := nativecommon.ModuleAccount("token/BRV").Hex()
	usdt := nativecommon.ModuleAccount("token/USDT").Hex()
	presaleAccount := nativecommon.ModuleAccount("presale").Hex()
	wheelAccount := nativecommon.ModuleAccount("wheel").Hex()

	cfg := &config.Config{
		NetworkName: "presaled-test",
		Tokens: []config.TokenConfig{
			{Address: brv, Symbol: "BRV"},
			{Address: usdt, Symbol: "USDT"},
		},
		Presale: config.PresaleConfig{
			Owner:             authority,
			Authority:         authority,
			Account:           presaleAccount,
			SaleToken:         brv,
			PaymentToken:      usdt,
			StartTime:         time.Now().Add(-time.Hour).Unix(),
			DurationDays:      30,
			NativeRateWei:     e18(1000),
			TokenPriceWei:     "10000000000000000",
			TicketCapWei:      e18(200),
			TotalSupplyCapWei: e18(10_000_000),
		},
		Wheel: config.WheelConfig{
			Owner:       authority,
			Authority:   authority,
			Account:     wheelAccount,
			PrizeTokens: []string{brv},
		},
		Egg: config.EggConfig{
			Owner:        authority,
			Account:      nativecommon.ModuleAccount("egg").Hex(),
			PaymentToken: brv,
			TotalSupply:  5000,
			Types:        []config.EggType{{Type: "0", PriceWei: e18(80)}},
		},
		Genesis: []config.Allocation{
			{Asset: "BRV", Address: presaleAccount, AmountWei: e18(10_000_000)},
			{Asset: "BRV", Address: wheelAccount, AmountWei: e18(1000)},
			{Asset: "BNB", Address: testBuyer.Hex(), AmountWei: e18(10)},
			{Asset: "USDT", Address: testBuyer.Hex(), AmountWei: e18(1000)},
			{Asset: "BRV", Address: testBuyer.Hex(), AmountWei: e18(1000)},
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg, key
}

func setupReceiptDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func hexSig(sig []byte) string {
	return hexutil.Encode(sig)
}
