package presaled

import (
	"net/http"
	"sort"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"bunnyriven/native/bank"
	"bunnyriven/native/egg"
	"bunnyriven/native/presale"
	"bunnyriven/native/wheel"
)

type presaleInfo struct {
	Start          int64  `json:"start"`
	End            int64  `json:"end"`
	NativeRate     string `json:"nativeRate"`
	TokenPrice     string `json:"tokenPrice"`
	PaymentAsset   string `json:"paymentAsset"`
	TotalSold      string `json:"totalSold"`
	TotalSupplyCap string `json:"totalSupplyCap"`
	Paused         bool   `json:"paused"`
	Owner          string `json:"owner"`
	Authority      string `json:"authority"`
	Account        string `json:"account"`
}

func (s *Server) handlePresaleInfo(w http.ResponseWriter, r *http.Request) {
	var info presaleInfo
	err := s.node.Read(func() error {
		p := s.node.Presale()
		window := p.Window()
		conv := p.Converter()
		info = presaleInfo{
			Start:          window.Start,
			End:            window.End,
			NativeRate:     conv.NativeRate().Dec(),
			TokenPrice:     conv.TokenPrice().Dec(),
			PaymentAsset:   p.PaymentAsset(),
			TotalSupplyCap: p.TotalSupplyCap().Dec(),
			Account:        p.Account().Hex(),
		}
		sold, err := p.TotalSold()
		if err != nil {
			return err
		}
		info.TotalSold = sold.Dec()
		if info.Paused, err = p.Paused(); err != nil {
			return err
		}
		owner, err := p.Owner()
		if err != nil {
			return err
		}
		authority, err := p.Authority()
		if err != nil {
			return err
		}
		info.Owner, info.Authority = owner.Hex(), authority.Hex()
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTicketCap(w http.ResponseWriter, r *http.Request) {
	ticket := chi.URLParam(r, "ticket")
	var limit *uint256.Int
	err := s.node.Read(func() error {
		var err error
		limit, err = s.node.Presale().TicketCap(ticket)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ticket": ticket, "cap": limit.Dec()})
}

type buyRequest struct {
	Ticket    string `json:"ticket"`
	Signature string `json:"signature"`
	Amount    string `json:"amount"`
}

type purchaseResponse struct {
	Buyer       string `json:"buyer"`
	Ticket      string `json:"ticket"`
	Asset       string `json:"asset"`
	Paid        string `json:"paid"`
	Accounting  string `json:"accounting"`
	Entitlement string `json:"entitlement"`
	Remaining   string `json:"remaining"`
}

func newPurchaseResponse(p *presale.Purchase) purchaseResponse {
	return purchaseResponse{
		Buyer:       p.Buyer.Hex(),
		Ticket:      p.Ticket,
		Asset:       p.Asset,
		Paid:        amountString(p.Paid),
		Accounting:  amountString(p.Accounting),
		Entitlement: amountString(p.Entitlement),
		Remaining:   amountString(p.Remaining),
	}
}

func (s *Server) handleBuyNative(w http.ResponseWriter, r *http.Request) {
	s.buy(w, r, "buy_native", s.node.Presale().BuyByNative)
}

func (s *Server) handleBuyToken(w http.ResponseWriter, r *http.Request) {
	s.buy(w, r, "buy_token", s.node.Presale().BuyByToken)
}

type buyFunc func(buyer ethcommon.Address, ticket string, sig []byte, amount *uint256.Int) (*presale.Purchase, error)

func (s *Server) buy(w http.ResponseWriter, r *http.Request, op string, fn buyFunc) {
	buyer, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req buyRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sig := decodeSignature(req.Signature)
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var purchase *presale.Purchase
	err = s.node.Exec(presale.ModuleName, op, func() error {
		var err error
		purchase, err = fn(buyer, req.Ticket, sig, amount)
		return err
	})
	if err != nil {
		s.logger.Debug("purchase rejected", "caller", buyer.Hex(), "op", op, maskedSignature(req.Signature), "error", err)
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPurchaseResponse(purchase))
}

type withdrawRequest struct {
	Amount    string `json:"amount"`
	Secret    string `json:"secret,omitempty"`
	Signature string `json:"signature,omitempty"`
}

func (s *Server) handleWithdrawSaleToken(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req withdrawRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.node.Exec(presale.ModuleName, "withdraw_sale_token", func() error {
		return s.node.Presale().WithdrawSaleToken(who, amount)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"caller": who.Hex(), "amount": amount.Dec()})
}

func (s *Server) handleSignedWithdraw(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req withdrawRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sig := decodeSignature(req.Signature)
	err = s.node.Exec(presale.ModuleName, "withdraw_signed", func() error {
		return s.node.Presale().Withdraw(who, amount, req.Secret, sig)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"caller": who.Hex(), "amount": amount.Dec()})
}

func (s *Server) handlePresaleBalance(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	holder, err := optionalAddress("holder", r.URL.Query().Get("holder"), who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var balance *uint256.Int
	var permitted bool
	err = s.node.Read(func() error {
		var err error
		if balance, err = s.node.Presale().BalanceOf(who, holder); err != nil {
			return err
		}
		permitted, err = s.node.Presale().VestingPermitted(holder)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"holder":            holder.Hex(),
		"balance":           balance.Dec(),
		"withdrawPermitted": permitted,
	})
}

func (s *Server) handleRemaining(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	holder, err := optionalAddress("holder", q.Get("holder"), who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ticket := q.Get("ticket")
	var remaining *uint256.Int
	err = s.node.Read(func() error {
		var err error
		remaining, err = s.node.Presale().RemainingAllocation(who, holder, ticket)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"holder": holder.Hex(), "ticket": ticket, "remaining": remaining.Dec()})
}

type claimRequest struct {
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Signature string `json:"signature"`
}

func (s *Server) handleWheelClaim(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sig := decodeSignature(req.Signature)
	err = s.node.Exec(wheel.ModuleName, "claim", func() error {
		return s.node.Wheel().Claim(who, tokenAddr, amount, sig)
	})
	if err != nil {
		s.logger.Debug("claim rejected", "caller", who.Hex(), maskedSignature(req.Signature), "error", err)
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"caller": who.Hex(), "token": tokenAddr.Hex(), "amount": amount.Dec()})
}

func (s *Server) handleWheelClaimed(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	holder, err := optionalAddress("holder", q.Get("holder"), who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tokenAddr, err := parseAddress("token", q.Get("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var claimed *uint256.Int
	err = s.node.Read(func() error {
		var err error
		claimed, err = s.node.Wheel().Claimed(who, holder, tokenAddr)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"holder": holder.Hex(), "token": tokenAddr.Hex(), "claimed": claimed.Dec()})
}

func (s *Server) handleWheelPool(w http.ResponseWriter, r *http.Request) {
	tokenAddr, err := parseAddress("token", chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var pool *uint256.Int
	err = s.node.Read(func() error {
		var err error
		pool, err = s.node.Wheel().Pool(tokenAddr)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tokenAddr.Hex(), "pool": pool.Dec()})
}

type eggInfo struct {
	Asset       string            `json:"asset"`
	Prices      map[string]string `json:"prices"`
	TotalSold   uint64            `json:"totalSold"`
	TotalSupply uint64            `json:"totalSupply"`
	Paused      bool              `json:"paused"`
}

func (s *Server) handleEggInfo(w http.ResponseWriter, r *http.Request) {
	var info eggInfo
	err := s.node.Read(func() error {
		e := s.node.Egg()
		info = eggInfo{Asset: e.Asset(), Prices: map[string]string{}, TotalSupply: e.TotalSupply()}
		catalogue, err := e.Catalogue()
		if err != nil {
			return err
		}
		for _, eggType := range catalogue {
			price, err := e.Price(eggType)
			if err != nil {
				return err
			}
			info.Prices[eggType] = price.Dec()
		}
		if info.TotalSold, err = e.TotalSold(); err != nil {
			return err
		}
		info.Paused, err = e.Paused()
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type buyEggRequest struct {
	Type     string `json:"type"`
	Quantity uint64 `json:"quantity"`
}

func (s *Server) handleBuyEgg(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req buyEggRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var order *egg.Order
	err = s.node.Exec(egg.ModuleName, "buy", func() error {
		var err error
		order, err = s.node.Egg().BuyEgg(who, req.Quantity, req.Type)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"buyer":    order.Buyer.Hex(),
		"type":     order.EggType,
		"quantity": order.Quantity,
		"cost":     order.Cost.Dec(),
		"holding":  order.Holding,
	})
}

func (s *Server) handleEggHoldings(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	holder, err := optionalAddress("holder", q.Get("holder"), who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	eggType := q.Get("type")
	var held uint64
	err = s.node.Read(func() error {
		var err error
		held, err = s.node.Egg().EggOf(who, holder, eggType)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holder": holder.Hex(), "type": eggType, "quantity": held})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	holder, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := map[string]string{}
	err = s.node.Read(func() error {
		native, err := s.node.Bank().Balance(holder)
		if err != nil {
			return err
		}
		out[bank.AssetNative] = native.Dec()
		symbols := s.node.TokenSymbols()
		sort.Strings(symbols)
		for _, symbol := range symbols {
			ledger, _ := s.node.Token(symbol)
			bal, err := ledger.BalanceOf(holder)
			if err != nil {
				return err
			}
			out[symbol] = bal.Dec()
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": holder.Hex(), "balances": out})
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleNativeTransfer(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transferRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.node.Exec("bank", "transfer", func() error {
		return s.node.Bank().Transfer(who, to, amount)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"from": who.Hex(), "to": to.Hex(), "amount": amount.Dec()})
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ledger, ok := s.node.Token(chi.URLParam(r, "symbol"))
	if !ok {
		s.writeError(w, r, &requestError{status: http.StatusNotFound, msg: "unknown token"})
		return
	}
	var req approveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.node.Exec("token", "approve", func() error {
		return ledger.Approve(who, spender, amount)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": who.Hex(), "spender": spender.Hex(), "allowance": amount.Dec()})
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ledger, ok := s.node.Token(chi.URLParam(r, "symbol"))
	if !ok {
		s.writeError(w, r, &requestError{status: http.StatusNotFound, msg: "unknown token"})
		return
	}
	var req transferRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.node.Exec("token", "transfer", func() error {
		return ledger.Transfer(who, to, amount)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"from": who.Hex(), "to": to.Hex(), "amount": amount.Dec()})
}

func (s *Server) handleOwnReceipts(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter, err := receiptFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter.Subject = who.Hex()
	s.listReceipts(w, r, filter)
}

func receiptFilter(r *http.Request) (ReceiptFilter, error) {
	q := r.URL.Query()
	filter := ReceiptFilter{Module: q.Get("module"), Type: q.Get("type"), Subject: q.Get("subject")}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, badRequest("after: %v", err)
		}
		filter.After = after
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return filter, badRequest("limit: %v", err)
		}
		filter.Limit = limit
	}
	return filter, nil
}

func (s *Server) listReceipts(w http.ResponseWriter, r *http.Request, filter ReceiptFilter) {
	if s.receipts == nil {
		s.writeError(w, r, &requestError{status: http.StatusNotFound, msg: "receipt index disabled"})
		return
	}
	list, err := s.receipts.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": list})
}
