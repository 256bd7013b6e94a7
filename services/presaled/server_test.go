package presaled

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"bunnyriven/gateway/middleware"
	nativecommon "bunnyriven/native/common"
	"bunnyriven/native/voucher"
	"bunnyriven/storage"
)

type harness struct {
	t       *testing.T
	handler http.Handler
	auth    *middleware.Authenticator
	owner   common.Address
	node    *Node
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	deploy, key := testDeployment(t)
	receipts, err := NewReceiptStore(setupReceiptDB(t), nil)
	require.NoError(t, err)
	node, err := NewNode(deploy, storage.NewMemDB(), receipts, nil)
	require.NoError(t, err)
	issuer, err := voucher.NewIssuer(key)
	require.NoError(t, err)
	node.SetIssuer(issuer)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: "test-secret"}, nil)
	srv, err := NewServer(ServerConfig{Node: node, Receipts: receipts, Auth: auth})
	require.NoError(t, err)
	return &harness{t: t, handler: srv.Handler(), auth: auth, owner: key.Address(), node: node}
}

// do sends body as JSON. A zero caller sends no token.
func (h *harness) do(method, path string, caller common.Address, scopes []string, body any) (int, map[string]any) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != (common.Address{}) {
		token, err := h.auth.Issue(caller, scopes, time.Minute)
		require.NoError(h.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func (h *harness) admin(path string, body any) (int, map[string]any) {
	return h.do(http.MethodPost, path, h.owner, []string{middleware.ScopeAdmin}, body)
}

func (h *harness) purchaseVoucher(ticket string) string {
	code, out := h.admin("/v1/admin/vouchers/purchase", map[string]string{"holder": testBuyer.Hex(), "ticket": ticket})
	require.Equal(h.t, http.StatusOK, code)
	require.Equal(h.t, h.owner.Hex(), out["authority"])
	return out["signature"].(string)
}

func TestHealthAndPublicInfo(t *testing.T) {
	h := newHarness(t)
	code, out := h.do(http.MethodGet, "/healthz", common.Address{}, nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", out["status"])

	code, out = h.do(http.MethodGet, "/v1/presale", common.Address{}, nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "USDT", out["paymentAsset"])
	require.Equal(t, "0", out["totalSold"])
	require.Equal(t, false, out["paused"])

	code, out = h.do(http.MethodGet, "/v1/egg", common.Address{}, nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]any{"0": e18(80)}, out["prices"])
}

func TestBuyByTokenFlow(t *testing.T) {
	h := newHarness(t)
	presaleAccount := nativecommon.ModuleAccount("presale").Hex()

	code, _ := h.do(http.MethodPost, "/v1/presale/buy/token", common.Address{}, nil, map[string]string{"ticket": "t1"})
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(http.MethodPost, "/v1/tokens/USDT/approve", testBuyer, nil, map[string]string{
		"spender": presaleAccount,
		"amount":  e18(1000),
	})
	require.Equal(t, http.StatusOK, code)

	sig := h.purchaseVoucher("t1")
	code, out := h.do(http.MethodPost, "/v1/presale/buy/token", testBuyer, nil, map[string]string{
		"ticket":    "t1",
		"signature": sig,
		"amount":    e18(10),
	})
	require.Equal(t, http.StatusOK, code, out)
	require.Equal(t, e18(1000), out["entitlement"])
	require.Equal(t, e18(190), out["remaining"])

	code, out = h.do(http.MethodPost, "/v1/presale/buy/token", testBuyer, nil, map[string]string{
		"ticket":    "t1",
		"signature": sig,
		"amount":    e18(191),
	})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "TicketCapExceeded", out["kind"])
	require.Equal(t, "maximum value of ticket", out["error"])

	code, out = h.do(http.MethodGet, "/v1/presale/balance", testBuyer, nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, e18(1000), out["balance"])
	require.Equal(t, false, out["withdrawPermitted"])

	code, out = h.do(http.MethodGet, "/v1/presale/balance?holder="+testBuyer.Hex(), testOutsider, nil, nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "NotOwner", out["kind"])

	code, out = h.do(http.MethodGet, "/v1/receipts?type=presale.purchased", testBuyer, nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out["receipts"], 1)
}

func TestForeignSignatureRejected(t *testing.T) {
	h := newHarness(t)
	other, err := voucher.NewIssuer(mustKey(t))
	require.NoError(t, err)
	sig, err := other.SignPurchase(testBuyer, "t1")
	require.NoError(t, err)

	code, out := h.do(http.MethodPost, "/v1/presale/buy/native", testBuyer, nil, map[string]any{
		"ticket":    "t1",
		"signature": hexSig(sig),
		"amount":    "100000000000000000",
	})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "InvalidSignature", out["kind"])

	// undecodable signatures are reported like a wrong signer
	for _, raw := range []string{"not-hex", "0xzz", "", strings.TrimPrefix(hexSig(sig), "0x"), "0x1234"} {
		code, out = h.do(http.MethodPost, "/v1/presale/buy/token", testBuyer, nil, map[string]any{
			"ticket":    "t1",
			"signature": raw,
			"amount":    "1",
		})
		require.Equal(t, http.StatusUnprocessableEntity, code, raw)
		require.Equal(t, "InvalidSignature", out["kind"], raw)
	}

	code, out = h.do(http.MethodPost, "/v1/wheel/claim", testBuyer, nil, map[string]string{
		"token":     nativecommon.ModuleAccount("token/BRV").Hex(),
		"amount":    e18(1),
		"signature": "zz",
	})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "InvalidSignature", out["kind"])
}

func TestIssuedVoucherForPaddedTicketRedeems(t *testing.T) {
	h := newHarness(t)
	sig := h.purchaseVoucher(" vip ")
	code, out := h.do(http.MethodPost, "/v1/presale/buy/native", testBuyer, nil, map[string]string{
		"ticket":    "vip ",
		"signature": sig,
		"amount":    "100000000000000000",
	})
	require.Equal(t, http.StatusOK, code, out)
	require.Equal(t, "vip", out["ticket"])

	code, out = h.admin("/v1/admin/vouchers/purchase", map[string]string{"holder": testBuyer.Hex(), "ticket": "   "})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "BadRequest", out["kind"])
}

func TestVestingAndWithdrawThroughAdmin(t *testing.T) {
	h := newHarness(t)
	sig := h.purchaseVoucher("t1")
	code, _ := h.do(http.MethodPost, "/v1/presale/buy/native", testBuyer, nil, map[string]string{
		"ticket":    "t1",
		"signature": sig,
		"amount":    "100000000000000000",
	})
	require.Equal(t, http.StatusOK, code)

	code, out := h.do(http.MethodPost, "/v1/presale/withdraw", testBuyer, nil, map[string]string{"amount": e18(5)})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "WithdrawalNotPermitted", out["kind"])

	code, _ = h.admin("/v1/admin/presale/vesting", map[string]bool{"open": true})
	require.Equal(t, http.StatusOK, code)

	code, _ = h.do(http.MethodPost, "/v1/presale/withdraw", testBuyer, nil, map[string]string{"amount": e18(5)})
	require.Equal(t, http.StatusOK, code)

	code, out = h.do(http.MethodGet, "/v1/balances/"+testBuyer.Hex(), common.Address{}, nil, nil)
	require.Equal(t, http.StatusOK, code)
	balances := out["balances"].(map[string]any)
	require.Equal(t, e18(1005), balances["BRV"])
	require.Equal(t, "9900000000000000000", balances["BNB"])

	code, _ = h.admin("/v1/admin/presale/withdraw/native", map[string]string{"amount": "100000000000000000"})
	require.Equal(t, http.StatusOK, code)
	code, out = h.admin("/v1/admin/presale/withdraw/native", map[string]string{"amount": "1"})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "InsufficientTreasury", out["kind"])
}

func TestAdminRoutesRequireScopeAndOwnership(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(http.MethodPost, "/v1/admin/presale/pause", testBuyer, nil, nil)
	require.Equal(t, http.StatusForbidden, code)

	code, out := h.do(http.MethodPost, "/v1/admin/presale/pause", testBuyer, []string{middleware.ScopeAdmin}, nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "NotOwner", out["kind"])

	code, _ = h.admin("/v1/admin/egg/pause", nil)
	require.Equal(t, http.StatusOK, code)
	code, out = h.do(http.MethodPost, "/v1/egg/buy", testBuyer, nil, map[string]any{"type": "0", "quantity": 1})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "ModulePaused", out["kind"])

	code, _ = h.admin("/v1/admin/egg/authority", map[string]string{"address": testOutsider.Hex()})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = h.admin("/v1/admin/lottery/pause", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestEggPurchaseAndHoldings(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(http.MethodPost, "/v1/tokens/BRV/approve", testBuyer, nil, map[string]string{
		"spender": nativecommon.ModuleAccount("egg").Hex(),
		"amount":  e18(160),
	})
	require.Equal(t, http.StatusOK, code)

	code, out := h.do(http.MethodPost, "/v1/egg/buy", testBuyer, nil, map[string]any{"type": "0", "quantity": 2})
	require.Equal(t, http.StatusOK, code, out)
	require.Equal(t, e18(160), out["cost"])

	code, out = h.do(http.MethodPost, "/v1/egg/buy", testBuyer, nil, map[string]any{"type": "golden", "quantity": 1})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "InvalidEgg", out["kind"])

	code, out = h.do(http.MethodGet, "/v1/egg/holdings?type=0", testBuyer, nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(2), out["quantity"])

	code, _ = h.admin("/v1/admin/egg/price", map[string]string{"type": "golden", "price": e18(500)})
	require.Equal(t, http.StatusOK, code)
	code, out = h.do(http.MethodGet, "/v1/egg", common.Address{}, nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]any{"0": e18(80), "golden": e18(500)}, out["prices"])
}

func TestWheelClaimWithIssuedVoucher(t *testing.T) {
	h := newHarness(t)
	brv := nativecommon.ModuleAccount("token/BRV").Hex()
	code, out := h.admin("/v1/admin/vouchers/claim", map[string]string{
		"holder": testBuyer.Hex(),
		"token":  brv,
		"amount": e18(5),
	})
	require.Equal(t, http.StatusOK, code)
	sig := out["signature"].(string)

	claim := map[string]string{"token": brv, "amount": e18(5), "signature": sig}
	code, _ = h.do(http.MethodPost, "/v1/wheel/claim", testBuyer, nil, claim)
	require.Equal(t, http.StatusOK, code)

	code, out = h.do(http.MethodPost, "/v1/wheel/claim", testOutsider, nil, claim)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "InvalidSignature", out["kind"])

	code, out = h.do(http.MethodGet, "/v1/wheel/pool/"+brv, common.Address{}, nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, e18(995), out["pool"])

	code, out = h.do(http.MethodGet, "/v1/admin/receipts?module=wheel", h.owner, []string{middleware.ScopeAdmin}, nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out["receipts"], 1)
}

func TestIssuerDisabled(t *testing.T) {
	h := newHarness(t)
	h.node.SetIssuer(nil)
	code, _ := h.admin("/v1/admin/vouchers/purchase", map[string]string{"holder": testBuyer.Hex(), "ticket": "t1"})
	require.Equal(t, http.StatusNotImplemented, code)
}
