package presaled

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"

	"bunnyriven/config"
	coreerrors "bunnyriven/core/errors"
	"bunnyriven/crypto"
	"bunnyriven/gateway/middleware"
	"bunnyriven/observability/logging"
)

const maxBodyBytes = 1 << 20

// Rate limit groups referenced by the rate_limits config section.
const (
	groupBuy    = "buy"
	groupClaim  = "claim"
	groupEgg    = "egg"
	groupRead   = "read"
	groupAdmin  = "admin"
	groupTokens = "tokens"
)

// ServerConfig captures the dependencies required to construct the server.
type ServerConfig struct {
	Node           *Node
	Receipts       *ReceiptStore
	Auth           *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	CORS           middleware.CORSConfig
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

// Server exposes the sale engines over JSON.
type Server struct {
	node     *Node
	receipts *ReceiptStore
	auth     *middleware.Authenticator
	limiter  *middleware.RateLimiter
	obs      *middleware.Observability
	logger   *slog.Logger

	router http.Handler
}

// NewServer builds the router. Auth, rate limiting and observability fall
// back to permissive defaults when not supplied.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Node == nil {
		return nil, fmt.Errorf("presaled: node required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Auth == nil {
		cfg.Auth = middleware.NewAuthenticator(middleware.AuthConfig{}, cfg.Logger)
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = middleware.NewRateLimiter(nil, cfg.Logger)
	}
	if cfg.Observability == nil {
		cfg.Observability = middleware.NewObservability(middleware.ObservabilityConfig{}, cfg.Logger)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	s := &Server{
		node:     cfg.Node,
		receipts: cfg.Receipts,
		auth:     cfg.Auth,
		limiter:  cfg.RateLimiter,
		obs:      cfg.Observability,
		logger:   cfg.Logger,
	}
	s.router = s.buildRouter(cfg.CORS, cfg.RequestTimeout)
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cors middleware.CORSConfig, timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(middleware.CORS(cors))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(v1 chi.Router) {
		s.handle(v1, "/v1", http.MethodGet, "/presale", groupRead, s.handlePresaleInfo)
		s.handle(v1, "/v1", http.MethodGet, "/presale/tickets/{ticket}/cap", groupRead, s.handleTicketCap)
		s.handle(v1, "/v1", http.MethodGet, "/wheel/pool/{token}", groupRead, s.handleWheelPool)
		s.handle(v1, "/v1", http.MethodGet, "/egg", groupRead, s.handleEggInfo)
		s.handle(v1, "/v1", http.MethodGet, "/balances/{address}", groupRead, s.handleBalances)

		v1.Group(func(user chi.Router) {
			user.Use(s.auth.Middleware())
			s.handle(user, "/v1", http.MethodPost, "/presale/buy/native", groupBuy, s.handleBuyNative)
			s.handle(user, "/v1", http.MethodPost, "/presale/buy/token", groupBuy, s.handleBuyToken)
			s.handle(user, "/v1", http.MethodPost, "/presale/withdraw", groupClaim, s.handleWithdrawSaleToken)
			s.handle(user, "/v1", http.MethodPost, "/presale/withdraw/signed", groupClaim, s.handleSignedWithdraw)
			s.handle(user, "/v1", http.MethodGet, "/presale/balance", groupRead, s.handlePresaleBalance)
			s.handle(user, "/v1", http.MethodGet, "/presale/remaining", groupRead, s.handleRemaining)
			s.handle(user, "/v1", http.MethodPost, "/wheel/claim", groupClaim, s.handleWheelClaim)
			s.handle(user, "/v1", http.MethodGet, "/wheel/claimed", groupRead, s.handleWheelClaimed)
			s.handle(user, "/v1", http.MethodPost, "/egg/buy", groupEgg, s.handleBuyEgg)
			s.handle(user, "/v1", http.MethodGet, "/egg/holdings", groupRead, s.handleEggHoldings)
			s.handle(user, "/v1", http.MethodPost, "/native/transfer", groupTokens, s.handleNativeTransfer)
			s.handle(user, "/v1", http.MethodPost, "/tokens/{symbol}/approve", groupTokens, s.handleTokenApprove)
			s.handle(user, "/v1", http.MethodPost, "/tokens/{symbol}/transfer", groupTokens, s.handleTokenTransfer)
			s.handle(user, "/v1", http.MethodGet, "/receipts", groupRead, s.handleOwnReceipts)
		})

		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(s.auth.Middleware(middleware.ScopeAdmin))
			s.handle(admin, "/v1/admin", http.MethodPost, "/{module}/pause", groupAdmin, s.handlePause)
			s.handle(admin, "/v1/admin", http.MethodPost, "/{module}/unpause", groupAdmin, s.handleUnpause)
			s.handle(admin, "/v1/admin", http.MethodPost, "/{module}/owner", groupAdmin, s.handleTransferOwnership)
			s.handle(admin, "/v1/admin", http.MethodPost, "/{module}/authority", groupAdmin, s.handleSetAuthority)
			s.handle(admin, "/v1/admin", http.MethodPost, "/presale/withdraw/native", groupAdmin, s.handleOwnerWithdrawNative)
			s.handle(admin, "/v1/admin", http.MethodPost, "/presale/withdraw/token", groupAdmin, s.handleOwnerWithdrawToken)
			s.handle(admin, "/v1/admin", http.MethodPost, "/presale/tickets/{ticket}/cap", groupAdmin, s.handleSetTicketCap)
			s.handle(admin, "/v1/admin", http.MethodPost, "/presale/vesting", groupAdmin, s.handleSetVesting)
			s.handle(admin, "/v1/admin", http.MethodPost, "/presale/vesting/grant", groupAdmin, s.handleGrantVesting)
			s.handle(admin, "/v1/admin", http.MethodPost, "/wheel/withdraw", groupAdmin, s.handleWheelWithdraw)
			s.handle(admin, "/v1/admin", http.MethodPost, "/egg/withdraw", groupAdmin, s.handleEggWithdraw)
			s.handle(admin, "/v1/admin", http.MethodPost, "/egg/price", groupAdmin, s.handleEggSetPrice)
			s.handle(admin, "/v1/admin", http.MethodPost, "/vouchers/purchase", groupAdmin, s.handleIssuePurchase)
			s.handle(admin, "/v1/admin", http.MethodPost, "/vouchers/withdraw", groupAdmin, s.handleIssueWithdraw)
			s.handle(admin, "/v1/admin", http.MethodPost, "/vouchers/claim", groupAdmin, s.handleIssueClaim)
			s.handle(admin, "/v1/admin", http.MethodGet, "/receipts", groupAdmin, s.handleAllReceipts)
		})
	})
	return r
}

// handle registers h under pattern, labelled with its full path for tracing
// and metrics and throttled by the group's rate limit.
func (s *Server) handle(r chi.Router, prefix, method, pattern, group string, h http.HandlerFunc) {
	route := method + " " + prefix + pattern
	r.With(s.obs.Middleware(route), s.limiter.Middleware(group)).Method(method, pattern, h)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps an engine error onto an HTTP status. Policy rejections are
// the caller's to fix; anything else is a server fault.
func statusFor(err error) int {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.status
	}
	switch {
	case errors.Is(err, coreerrors.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, coreerrors.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, coreerrors.ErrNotStarted), errors.Is(err, coreerrors.ErrEnded),
		errors.Is(err, coreerrors.ErrVoucherUsed):
		return http.StatusConflict
	case coreerrors.IsPolicy(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := coreerrors.Kind(err)
	msg := err.Error()
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		kind = "BadRequest"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"route", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"error", err,
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("write response failed", "error", err)
	}
}

type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func caller(r *http.Request) (ethcommon.Address, error) {
	addr, err := middleware.CallerFromContext(r.Context())
	if err != nil {
		return ethcommon.Address{}, &requestError{status: http.StatusUnauthorized, msg: err.Error()}
	}
	return addr, nil
}

func parseAddress(field, raw string) (ethcommon.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return ethcommon.Address{}, badRequest("%s: invalid address", field)
	}
	return addr, nil
}

// optionalAddress returns fallback when raw is blank.
func optionalAddress(field, raw string, fallback ethcommon.Address) (ethcommon.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return parseAddress(field, raw)
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	v, err := config.ParseAmount(raw)
	if err != nil {
		return nil, badRequest("%s: %v", field, err)
	}
	return v, nil
}

// decodeSignature never fails: an undecodable signature reaches the engine
// as nil and is rejected there exactly like one from the wrong signer.
func decodeSignature(raw string) []byte {
	sig, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return sig
}

func maskedSignature(raw string) slog.Attr {
	return logging.MaskField("signature", raw)
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
