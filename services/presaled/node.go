package presaled

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"bunnyriven/config"
	"bunnyriven/core/events"
	"bunnyriven/core/state"
	"bunnyriven/crypto"
	"bunnyriven/native/bank"
	nativecommon "bunnyriven/native/common"
	"bunnyriven/native/egg"
	"bunnyriven/native/presale"
	"bunnyriven/native/token"
	"bunnyriven/native/voucher"
	"bunnyriven/native/wheel"
	"bunnyriven/observability"
	"bunnyriven/storage"
)

var genesisKey = []byte("presaled/genesis/applied")

// Node hosts the three sale engines over one journaled state. Every call is
// serialised by the executor lock and either committed with its events or
// discarded without trace.
type Node struct {
	mu     sync.Mutex
	state  *state.Manager
	logger *slog.Logger

	bank         *bank.Bank
	tokens       map[string]*token.Ledger
	tokensByAddr map[ethcommon.Address]*token.Ledger

	presale *presale.Engine
	wheel   *wheel.Engine
	egg     *egg.Engine
	issuer  *voucher.Issuer

	pending events.Buffer
	sink    events.Emitter
}

// NewNode wires the engines described by deploy, mints the genesis
// allocations on first start and commits the initial state.
func NewNode(deploy *config.Config, db storage.Database, sink events.Emitter, logger *slog.Logger) (*Node, error) {
	if deploy == nil || db == nil {
		return nil, fmt.Errorf("presaled: deployment and database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.NoopEmitter{}
	}
	n := &Node{
		state:        state.NewManager(db),
		logger:       logger,
		tokens:       make(map[string]*token.Ledger),
		tokensByAddr: make(map[ethcommon.Address]*token.Ledger),
		sink:         sink,
	}
	n.bank = bank.New(n.state)
	n.bank.SetEmitter(&n.pending)
	for _, tc := range deploy.Tokens {
		addr, err := crypto.ParseAddress(tc.Address)
		if err != nil {
			return nil, err
		}
		symbol := strings.ToUpper(strings.TrimSpace(tc.Symbol))
		ledger := token.NewLedger(n.state, addr, symbol)
		ledger.SetEmitter(&n.pending)
		n.tokens[symbol] = ledger
		n.tokensByAddr[addr] = ledger
	}

	if err := n.buildEngines(deploy); err != nil {
		n.state.Discard()
		return nil, err
	}
	if err := n.applyGenesis(deploy.Genesis); err != nil {
		n.state.Discard()
		return nil, err
	}
	if err := n.state.Commit(); err != nil {
		return nil, err
	}
	n.pending.Flush(n.sink)
	return n, nil
}

func (n *Node) tokenAt(field, raw string) (*token.Ledger, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	ledger, ok := n.tokensByAddr[addr]
	if !ok {
		return nil, fmt.Errorf("%s: token %s not registered", field, addr.Hex())
	}
	return ledger, nil
}

func (n *Node) buildEngines(deploy *config.Config) error {
	presaleParams, err := deploy.PresaleParams()
	if err != nil {
		return err
	}
	saleToken, err := n.tokenAt("presale.SaleToken", deploy.Presale.SaleToken)
	if err != nil {
		return err
	}
	paymentToken, err := n.tokenAt("presale.PaymentToken", deploy.Presale.PaymentToken)
	if err != nil {
		return err
	}
	presaleReplay, err := voucher.NewReplayGuard(deploy.Presale.ReplayMode, n.state, presale.ModuleName)
	if err != nil {
		return err
	}
	n.presale, err = presale.NewEngine(n.state, presaleParams, presale.Deps{
		Bank:         n.bank,
		SaleToken:    saleToken,
		PaymentToken: paymentToken,
		Replay:       presaleReplay,
	})
	if err != nil {
		return err
	}
	n.presale.SetEmitter(&n.pending)

	wheelParams, prizes, err := deploy.WheelParams()
	if err != nil {
		return err
	}
	prizeTokens := make([]nativecommon.TokenContract, 0, len(prizes))
	for _, addr := range prizes {
		ledger, ok := n.tokensByAddr[addr]
		if !ok {
			return fmt.Errorf("wheel.PrizeTokens: token %s not registered", addr.Hex())
		}
		prizeTokens = append(prizeTokens, ledger)
	}
	wheelReplay, err := voucher.NewReplayGuard(deploy.Wheel.ReplayMode, n.state, wheel.ModuleName)
	if err != nil {
		return err
	}
	n.wheel, err = wheel.NewEngine(n.state, wheelParams, prizeTokens, wheelReplay)
	if err != nil {
		return err
	}
	n.wheel.SetEmitter(&n.pending)

	eggParams, err := deploy.EggParams()
	if err != nil {
		return err
	}
	eggPayment, err := n.tokenAt("egg.PaymentToken", deploy.Egg.PaymentToken)
	if err != nil {
		return err
	}
	n.egg, err = egg.NewEngine(n.state, eggParams, eggPayment, eggPayment.Symbol())
	if err != nil {
		return err
	}
	n.egg.SetEmitter(&n.pending)
	return nil
}

func (n *Node) applyGenesis(allocs []config.Allocation) error {
	done, err := n.state.KVGet(genesisKey, nil)
	if err != nil || done {
		return err
	}
	for i, alloc := range allocs {
		to, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
		amount, err := config.ParseAmount(alloc.AmountWei)
		if err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
		asset := strings.ToUpper(strings.TrimSpace(alloc.Asset))
		if asset == bank.AssetNative {
			err = n.bank.Mint(to, amount)
		} else if ledger, ok := n.tokens[asset]; ok {
			err = ledger.Mint(to, amount)
		} else {
			err = fmt.Errorf("unknown asset %q", alloc.Asset)
		}
		if err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
	}
	n.logger.Info("genesis allocations minted", "count", len(allocs))
	return n.state.KVPut(genesisKey, true)
}

// SetIssuer enables server-side voucher signing with the authority key.
func (n *Node) SetIssuer(issuer *voucher.Issuer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.issuer = issuer
}

// Issuer returns the voucher signer, or nil when signing is disabled.
func (n *Node) Issuer() *voucher.Issuer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.issuer
}

// Exec runs a mutating call under the executor lock. A successful call is
// committed and its events delivered to the sink; a failed one leaves no
// state and no events behind.
func (n *Node) Exec(module, op string, fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	start := time.Now()
	n.pending.Drop()
	err := fn()
	if err == nil {
		if err = n.state.Commit(); err != nil {
			err = fmt.Errorf("presaled: commit: %w", err)
		}
	}
	if err != nil {
		n.state.Discard()
		n.pending.Drop()
	} else {
		n.pending.Flush(events.Fanout{eventCounter{}, n.sink})
	}
	observability.Redemption().Observe(module, op, err, time.Since(start))
	return err
}

// Read runs fn under the executor lock without committing.
func (n *Node) Read(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fn()
}

// Token returns the ledger registered under symbol.
func (n *Node) Token(symbol string) (*token.Ledger, bool) {
	ledger, ok := n.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	return ledger, ok
}

// TokenSymbols lists the registered token symbols.
func (n *Node) TokenSymbols() []string {
	out := make([]string, 0, len(n.tokens))
	for symbol := range n.tokens {
		out = append(out, symbol)
	}
	return out
}

func (n *Node) Bank() *bank.Bank { return n.bank }
func (n *Node) Presale() *presale.Engine { return n.presale }
func (n *Node) Wheel() *wheel.Engine { return n.wheel }
func (n *Node) Egg() *egg.Engine { return n.egg }

type eventCounter struct{}

func (eventCounter) Emit(evt events.Event) {
	observability.Events().RecordEvent(evt.EventType())
}
