package presaled

import (
	"net/http"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"bunnyriven/native/egg"
	"bunnyriven/native/presale"
	"bunnyriven/native/voucher"
	"bunnyriven/native/wheel"
)

// adminTarget is the owner surface shared by the three engines.
type adminTarget interface {
	Pause(caller ethcommon.Address) error
	Unpause(caller ethcommon.Address) error
	TransferOwnership(caller, newOwner ethcommon.Address) error
}

type authorityTarget interface {
	SetAuthority(caller, authority ethcommon.Address) error
}

func (s *Server) adminModule(r *http.Request) (string, adminTarget, error) {
	switch module := chi.URLParam(r, "module"); module {
	case presale.ModuleName:
		return module, s.node.Presale(), nil
	case wheel.ModuleName:
		return module, s.node.Wheel(), nil
	case egg.ModuleName:
		return module, s.node.Egg(), nil
	default:
		return "", nil, &requestError{status: http.StatusNotFound, msg: "unknown module"}
	}
}

// ownerCall resolves the caller and module, then runs fn through the executor.
func (s *Server) ownerCall(w http.ResponseWriter, r *http.Request, op string, fn func(module string, target adminTarget, who ethcommon.Address) error) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	module, target, err := s.adminModule(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Exec(module, op, func() error { return fn(module, target, who) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("admin operation", "module", module, "op", op, "caller", who.Hex())
	writeJSON(w, http.StatusOK, map[string]string{"module": module, "op": op})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.ownerCall(w, r, "pause", func(_ string, t adminTarget, who ethcommon.Address) error {
		return t.Pause(who)
	})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.ownerCall(w, r, "unpause", func(_ string, t adminTarget, who ethcommon.Address) error {
		return t.Unpause(who)
	})
}

type addressRequest struct {
	Address string `json:"address"`
}

func (s *Server) decodeAddress(w http.ResponseWriter, r *http.Request) (ethcommon.Address, error) {
	var req addressRequest
	if err := decodeBody(w, r, &req); err != nil {
		return ethcommon.Address{}, err
	}
	return parseAddress("address", req.Address)
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	newOwner, err := s.decodeAddress(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.ownerCall(w, r, "transfer_ownership", func(_ string, t adminTarget, who ethcommon.Address) error {
		return t.TransferOwnership(who, newOwner)
	})
}

func (s *Server) handleSetAuthority(w http.ResponseWriter, r *http.Request) {
	authority, err := s.decodeAddress(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.ownerCall(w, r, "set_authority", func(module string, t adminTarget, who ethcommon.Address) error {
		target, ok := t.(authorityTarget)
		if !ok {
			return badRequest("%s has no voucher authority", module)
		}
		return target.SetAuthority(who, authority)
	})
}

type amountRequest struct {
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount"`
}

// ownerAmount decodes an amount request and runs fn for the caller.
func (s *Server) ownerAmount(w http.ResponseWriter, r *http.Request, module, op string, fn func(who ethcommon.Address, req amountRequest, amount *uint256.Int) error) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req amountRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Exec(module, op, func() error { return fn(who, req, amount) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("owner withdrawal", "module", module, "op", op, "caller", who.Hex(), "amount", amount.Dec())
	writeJSON(w, http.StatusOK, map[string]string{"to": who.Hex(), "amount": amount.Dec()})
}

func (s *Server) handleOwnerWithdrawNative(w http.ResponseWriter, r *http.Request) {
	s.ownerAmount(w, r, presale.ModuleName, "withdraw_native_owner", func(who ethcommon.Address, _ amountRequest, amount *uint256.Int) error {
		return s.node.Presale().WithdrawNativeOwner(who, amount)
	})
}

func (s *Server) handleOwnerWithdrawToken(w http.ResponseWriter, r *http.Request) {
	s.ownerAmount(w, r, presale.ModuleName, "withdraw_token_owner", func(who ethcommon.Address, _ amountRequest, amount *uint256.Int) error {
		return s.node.Presale().WithdrawTokenOwner(who, amount)
	})
}

func (s *Server) handleWheelWithdraw(w http.ResponseWriter, r *http.Request) {
	s.ownerAmount(w, r, wheel.ModuleName, "withdraw", func(who ethcommon.Address, req amountRequest, amount *uint256.Int) error {
		tokenAddr, err := parseAddress("token", req.Token)
		if err != nil {
			return err
		}
		return s.node.Wheel().Withdraw(who, tokenAddr, amount)
	})
}

func (s *Server) handleEggWithdraw(w http.ResponseWriter, r *http.Request) {
	s.ownerAmount(w, r, egg.ModuleName, "withdraw", func(who ethcommon.Address, _ amountRequest, amount *uint256.Int) error {
		return s.node.Egg().Withdraw(who, amount)
	})
}

type capRequest struct {
	Cap string `json:"cap"`
}

func (s *Server) handleSetTicketCap(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req capRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := parseAmount("cap", req.Cap)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ticket := chi.URLParam(r, "ticket")
	err = s.node.Exec(presale.ModuleName, "set_ticket_cap", func() error {
		return s.node.Presale().SetTicketCap(who, ticket, limit)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ticket": ticket, "cap": limit.Dec()})
}

type vestingRequest struct {
	Open      *bool  `json:"open,omitempty"`
	Buyer     string `json:"buyer,omitempty"`
	Permitted *bool  `json:"permitted,omitempty"`
}

func (s *Server) handleSetVesting(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req vestingRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Open == nil {
		s.writeError(w, r, badRequest("open: required"))
		return
	}
	err = s.node.Exec(presale.ModuleName, "set_vesting", func() error {
		return s.node.Presale().SetVesting(who, *req.Open)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"open": *req.Open})
}

func (s *Server) handleGrantVesting(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req vestingRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	buyer, err := parseAddress("buyer", req.Buyer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Permitted == nil {
		s.writeError(w, r, badRequest("permitted: required"))
		return
	}
	err = s.node.Exec(presale.ModuleName, "grant_vesting", func() error {
		return s.node.Presale().GrantVesting(who, buyer, *req.Permitted)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"buyer": buyer.Hex(), "permitted": *req.Permitted})
}

type priceRequest struct {
	Type  string `json:"type"`
	Price string `json:"price"`
}

func (s *Server) handleEggSetPrice(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req priceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.node.Exec(egg.ModuleName, "set_price", func() error {
		return s.node.Egg().SetPrice(who, req.Type, price)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"type": req.Type, "price": price.Dec()})
}

type voucherRequest struct {
	Holder string `json:"holder"`
	Ticket string `json:"ticket,omitempty"`
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount,omitempty"`
	Secret string `json:"secret,omitempty"`
}

type voucherResponse struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Authority string `json:"authority"`
}

// issueVoucher signs the message built by build with the configured issuer.
func (s *Server) issueVoucher(w http.ResponseWriter, r *http.Request, build func(req voucherRequest, holder ethcommon.Address) (voucher.Message, error)) {
	issuer := s.node.Issuer()
	if issuer == nil {
		s.writeError(w, r, &requestError{status: http.StatusNotImplemented, msg: "voucher issuer not configured"})
		return
	}
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req voucherRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	holder, err := parseAddress("holder", req.Holder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msg, err := build(req, holder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sig, err := issuer.Sign(msg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("voucher issued", "caller", who.Hex(), "holder", holder.Hex(), "voucher", msg.String())
	writeJSON(w, http.StatusOK, voucherResponse{
		Message:   msg.String(),
		Signature: hexutil.Encode(sig),
		Authority: issuer.Address().Hex(),
	})
}

func (s *Server) handleIssuePurchase(w http.ResponseWriter, r *http.Request) {
	s.issueVoucher(w, r, func(req voucherRequest, holder ethcommon.Address) (voucher.Message, error) {
		if voucher.CanonicalTicket(req.Ticket) == "" {
			return voucher.Message{}, badRequest("ticket: required")
		}
		return voucher.PurchaseMessage(holder, req.Ticket), nil
	})
}

func (s *Server) handleIssueWithdraw(w http.ResponseWriter, r *http.Request) {
	s.issueVoucher(w, r, func(req voucherRequest, holder ethcommon.Address) (voucher.Message, error) {
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return voucher.Message{}, err
		}
		return voucher.WithdrawMessage(holder, amount, req.Secret), nil
	})
}

func (s *Server) handleIssueClaim(w http.ResponseWriter, r *http.Request) {
	s.issueVoucher(w, r, func(req voucherRequest, holder ethcommon.Address) (voucher.Message, error) {
		tokenAddr, err := parseAddress("token", req.Token)
		if err != nil {
			return voucher.Message{}, err
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return voucher.Message{}, err
		}
		return voucher.ClaimMessage(holder, tokenAddr, amount), nil
	})
}

func (s *Server) handleAllReceipts(w http.ResponseWriter, r *http.Request) {
	filter, err := receiptFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.listReceipts(w, r, filter)
}
