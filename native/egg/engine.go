package egg

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "bunnyriven/core/errors"
	"bunnyriven/core/events"
	"bunnyriven/core/types"
	nativecommon "bunnyriven/native/common"
	"bunnyriven/native/treasury"
)

const ModuleName = "egg"

const (
	EventTypePurchased = "egg.purchased"
	EventTypePriceSet  = "egg.price_set"

	// DefaultTotalSupply caps the eggs sold across every type.
	DefaultTotalSupply = 5000
)

var (
	errNilState    = errors.New("egg engine: state not configured")
	pricePrefix    = []byte("egg/price/")
	holdingsPrefix = []byte("egg/holdings/")
	totalSoldKey   = []byte("egg/totals/sold")
	catalogueKey   = []byte("egg/catalogue")
)

type eggEvent struct {
	evt *types.Event
}

func (e eggEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eggEvent) Event() *types.Event { return e.evt }

type Params struct {
	Owner ethcommon.Address
	// Account receives egg payments.
	Account ethcommon.Address
	// Prices seeds the per-type price in payment-token base units. Types
	// already priced in state keep their stored price.
	Prices      map[string]*uint256.Int
	TotalSupply uint64
}

// DefaultPrices is the launch catalogue: egg type "0" at 80 whole tokens.
func DefaultPrices() map[string]*uint256.Int {
	eighty := new(uint256.Int).Mul(uint256.NewInt(80), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18)))
	return map[string]*uint256.Int{"0": eighty}
}

// Order is the outcome of a successful egg purchase.
type Order struct {
	Buyer    ethcommon.Address
	EggType  string
	Quantity uint64
	Cost     *uint256.Int
	Holding  uint64
}

// Engine sells fixed-price typed eggs against a global supply, paid in a
// fungible token pulled from the buyer.
type Engine struct {
	state    nativecommon.State
	params   Params
	admin    *nativecommon.AdminOps
	payment  nativecommon.TokenContract
	asset    string
	treasury *treasury.Treasury

	pending events.Buffer
	emitter events.Emitter
}

// NewEngine wires the payment token under treasury asset name asset.
func NewEngine(state nativecommon.State, params Params, payment nativecommon.TokenContract, asset string) (*Engine, error) {
	if state == nil {
		return nil, errNilState
	}
	if params.Owner == (ethcommon.Address{}) || params.Account == (ethcommon.Address{}) {
		return nil, fmt.Errorf("egg: owner and contract account required")
	}
	if payment == nil {
		return nil, fmt.Errorf("egg: payment token required")
	}
	if params.TotalSupply == 0 {
		params.TotalSupply = DefaultTotalSupply
	}
	if len(params.Prices) == 0 {
		params.Prices = DefaultPrices()
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return nil, fmt.Errorf("egg: payment asset name required")
	}
	e := &Engine{
		state:   state,
		params:  params,
		admin:   nativecommon.NewAdminOps(state, ModuleName),
		payment: payment,
		asset:   asset,
		emitter: events.NoopEmitter{},
	}
	e.admin.SetEmitter(&e.pending)
	e.treasury = treasury.New(state, ModuleName)
	e.treasury.SetEmitter(&e.pending)
	account := params.Account
	e.treasury.RegisterAsset(asset, func(to ethcommon.Address, amount *uint256.Int) error {
		return payment.Transfer(account, to, amount)
	})

	err := e.atomic(func() error {
		if err := e.admin.Init(params.Owner, ethcommon.Address{}); err != nil {
			return err
		}
		for eggType, price := range params.Prices {
			eggType = strings.TrimSpace(eggType)
			if eggType == "" || price == nil || price.IsZero() {
				return fmt.Errorf("egg: invalid catalogue entry %q", eggType)
			}
			ok, err := state.KVGet(priceKey(eggType), nil)
			if err != nil {
				return err
			}
			if !ok {
				if err := state.KVPut(priceKey(eggType), price); err != nil {
					return err
				}
			}
			if err := e.indexType(eggType); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) atomic(fn func() error) error {
	return nativecommon.Atomic(e.state, &e.pending, e.emitter, fn)
}

func priceKey(eggType string) []byte {
	return append(append([]byte(nil), pricePrefix...), eggType...)
}

func holdingKey(holder ethcommon.Address, eggType string) []byte {
	buf := append(append([]byte(nil), holdingsPrefix...), holder.Bytes()...)
	return append(buf, eggType...)
}

func (e *Engine) count(key []byte) (uint64, error) {
	var n uint64
	if _, err := e.state.KVGet(key, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Price returns the price of one egg of eggType. Unknown and empty types are
// ErrInvalidEgg.
func (e *Engine) Price(eggType string) (*uint256.Int, error) {
	eggType = strings.TrimSpace(eggType)
	if eggType == "" {
		return nil, coreerrors.ErrInvalidEgg
	}
	price := new(uint256.Int)
	ok, err := e.state.KVGet(priceKey(eggType), price)
	if err != nil {
		return nil, err
	}
	if !ok || price.IsZero() {
		return nil, coreerrors.ErrInvalidEgg
	}
	return price, nil
}

// BuyEgg sells qty eggs of eggType to buyer at the fixed type price. The cost
// is exactly price times quantity.
func (e *Engine) BuyEgg(buyer ethcommon.Address, qty uint64, eggType string) (*Order, error) {
	var out *Order
	err := e.atomic(func() error {
		if err := e.admin.CheckActive(); err != nil {
			return err
		}
		eggType = strings.TrimSpace(eggType)
		price, err := e.Price(eggType)
		if err != nil {
			return err
		}
		if qty == 0 {
			return coreerrors.ErrInvalidAmount
		}
		sold, err := e.count(totalSoldKey)
		if err != nil {
			return err
		}
		if qty > e.params.TotalSupply || sold > e.params.TotalSupply-qty {
			return coreerrors.ErrSupplyCapExceeded
		}
		cost, overflow := new(uint256.Int).MulOverflow(price, uint256.NewInt(qty))
		if overflow {
			return coreerrors.ErrOverflow
		}
		if err := e.payment.TransferFrom(e.params.Account, buyer, e.params.Account, cost); err != nil {
			return err
		}
		held, err := e.count(holdingKey(buyer, eggType))
		if err != nil {
			return err
		}
		if held > math.MaxUint64-qty {
			return coreerrors.ErrOverflow
		}
		if err := e.state.KVPut(holdingKey(buyer, eggType), held+qty); err != nil {
			return err
		}
		if err := e.state.KVPut(totalSoldKey, sold+qty); err != nil {
			return err
		}
		if err := e.treasury.Deposit(e.asset, cost); err != nil {
			return err
		}
		out = &Order{Buyer: buyer, EggType: eggType, Quantity: qty, Cost: cost, Holding: held + qty}
		e.pending.Emit(eggEvent{evt: &types.Event{Type: EventTypePurchased, Attributes: map[string]string{
			"buyer":    buyer.Hex(),
			"eggType":  eggType,
			"quantity": strconv.FormatUint(qty, 10),
			"cost":     events.FormatAmount(cost),
		}}})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetPrice adds an egg type or reprices an existing one.
func (e *Engine) SetPrice(caller ethcommon.Address, eggType string, price *uint256.Int) error {
	return e.atomic(func() error {
		if err := e.admin.RequireOwner(caller); err != nil {
			return err
		}
		eggType = strings.TrimSpace(eggType)
		if eggType == "" {
			return coreerrors.ErrInvalidEgg
		}
		if price == nil || price.IsZero() {
			return coreerrors.ErrInvalidAmount
		}
		if err := e.state.KVPut(priceKey(eggType), price); err != nil {
			return err
		}
		if err := e.indexType(eggType); err != nil {
			return err
		}
		e.pending.Emit(eggEvent{evt: &types.Event{Type: EventTypePriceSet, Attributes: map[string]string{
			"eggType": eggType,
			"price":   events.FormatAmount(price),
		}}})
		return nil
	})
}

// EggOf is the number of eggType eggs held by holder. Only the holder and
// the owner may read it.
func (e *Engine) EggOf(caller, holder ethcommon.Address, eggType string) (uint64, error) {
	if err := e.admin.RequireSelfOrOwner(caller, holder); err != nil {
		return 0, err
	}
	return e.count(holdingKey(holder, strings.TrimSpace(eggType)))
}

func (e *Engine) TotalSold() (uint64, error) { return e.count(totalSoldKey) }

func (e *Engine) TotalSupply() uint64 { return e.params.TotalSupply }

// Catalogue lists every priced egg type in sorted order, including types
// added after construction.
func (e *Engine) Catalogue() ([]string, error) {
	var listed []string
	if _, err := e.state.KVGet(catalogueKey, &listed); err != nil {
		return nil, err
	}
	return listed, nil
}

func (e *Engine) indexType(eggType string) error {
	listed, err := e.Catalogue()
	if err != nil {
		return err
	}
	i := sort.SearchStrings(listed, eggType)
	if i < len(listed) && listed[i] == eggType {
		return nil
	}
	listed = append(listed, "")
	copy(listed[i+1:], listed[i:])
	listed[i] = eggType
	return e.state.KVPut(catalogueKey, listed)
}

// Withdraw pays collected egg proceeds to the owner.
func (e *Engine) Withdraw(caller ethcommon.Address, amount *uint256.Int) error {
	return e.atomic(func() error {
		if err := e.admin.RequireOwner(caller); err != nil {
			return err
		}
		return e.treasury.Withdraw(e.asset, amount, caller)
	})
}

func (e *Engine) TreasuryBalance() (*uint256.Int, error) { return e.treasury.Balance(e.asset) }

func (e *Engine) TransferOwnership(caller, newOwner ethcommon.Address) error {
	return e.atomic(func() error { return e.admin.TransferOwnership(caller, newOwner) })
}

func (e *Engine) Pause(caller ethcommon.Address) error {
	return e.atomic(func() error { return e.admin.Pause(caller) })
}

func (e *Engine) Unpause(caller ethcommon.Address) error {
	return e.atomic(func() error { return e.admin.Unpause(caller) })
}

func (e *Engine) Owner() (ethcommon.Address, error) { return e.admin.Owner() }

func (e *Engine) Paused() (bool, error) { return e.admin.IsPaused(ModuleName) }

func (e *Engine) Asset() string { return e.asset }

func (e *Engine) Account() ethcommon.Address { return e.params.Account }
