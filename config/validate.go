package config

import (
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"bunnyriven/crypto"
	"bunnyriven/native/bank"
	"bunnyriven/native/egg"
	"bunnyriven/native/presale"
	"bunnyriven/native/voucher"
	"bunnyriven/native/wheel"
)

// ParseAmount parses a decimal base-unit amount. Underscores may group
// digits.
func ParseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return v, nil
}

func parseAddress(field, raw string) (ethcommon.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return ethcommon.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func validateReplayMode(field, mode string) error {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", voucher.ReplayModeCap, voucher.ReplayModeNonce:
		return nil
	default:
		return fmt.Errorf("%s: unknown replay mode %q", field, mode)
	}
}

// Validate checks every section and that the addresses the contracts settle
// in are registered tokens.
func (c *Config) Validate() error {
	symbols := make(map[string]struct{}, len(c.Tokens))
	addresses := make(map[ethcommon.Address]struct{}, len(c.Tokens))
	for i, tok := range c.Tokens {
		addr, err := parseAddress(fmt.Sprintf("tokens[%d].Address", i), tok.Address)
		if err != nil {
			return err
		}
		symbol := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if symbol == "" || symbol == bank.AssetNative {
			return fmt.Errorf("tokens[%d].Symbol: invalid symbol %q", i, tok.Symbol)
		}
		if _, dup := symbols[symbol]; dup {
			return fmt.Errorf("tokens[%d].Symbol: duplicate symbol %s", i, symbol)
		}
		symbols[symbol] = struct{}{}
		addresses[addr] = struct{}{}
	}
	registered := func(field, raw string) error {
		addr, err := parseAddress(field, raw)
		if err != nil {
			return err
		}
		if _, ok := addresses[addr]; !ok {
			return fmt.Errorf("%s: token %s is not registered", field, addr.Hex())
		}
		return nil
	}

	if _, err := c.PresaleParams(); err != nil {
		return err
	}
	if err := registered("presale.SaleToken", c.Presale.SaleToken); err != nil {
		return err
	}
	if err := registered("presale.PaymentToken", c.Presale.PaymentToken); err != nil {
		return err
	}
	if err := validateReplayMode("presale.ReplayMode", c.Presale.ReplayMode); err != nil {
		return err
	}

	_, prizes, err := c.WheelParams()
	if err != nil {
		return err
	}
	for i := range prizes {
		if err := registered(fmt.Sprintf("wheel.PrizeTokens[%d]", i), c.Wheel.PrizeTokens[i]); err != nil {
			return err
		}
	}
	if err := validateReplayMode("wheel.ReplayMode", c.Wheel.ReplayMode); err != nil {
		return err
	}

	if _, err := c.EggParams(); err != nil {
		return err
	}
	if err := registered("egg.PaymentToken", c.Egg.PaymentToken); err != nil {
		return err
	}
	if err := c.validateSeparation(); err != nil {
		return err
	}

	for i, alloc := range c.Genesis {
		field := fmt.Sprintf("genesis[%d]", i)
		asset := strings.ToUpper(strings.TrimSpace(alloc.Asset))
		if _, ok := symbols[asset]; !ok && asset != bank.AssetNative {
			return fmt.Errorf("%s.Asset: unknown asset %q", field, alloc.Asset)
		}
		if _, err := parseAddress(field+".Address", alloc.Address); err != nil {
			return err
		}
		if _, err := ParseAmount(alloc.AmountWei); err != nil {
			return fmt.Errorf("%s.AmountWei: %w", field, err)
		}
	}
	return nil
}

// validateSeparation keeps the funds of each contract apart: a treasury only
// records what its own account collected, so two contracts settling through
// one account would spend each other's balances.
func (c *Config) validateSeparation() error {
	accounts := []struct{ field, raw string }{
		{"presale.Account", c.Presale.Account},
		{"wheel.Account", c.Wheel.Account},
		{"egg.Account", c.Egg.Account},
	}
	seen := make(map[ethcommon.Address]string, len(accounts))
	for _, a := range accounts {
		addr, err := parseAddress(a.field, a.raw)
		if err != nil {
			return err
		}
		if prev, dup := seen[addr]; dup {
			return fmt.Errorf("%s: account %s already used by %s", a.field, addr.Hex(), prev)
		}
		seen[addr] = a.field
	}
	sale, err := parseAddress("presale.SaleToken", c.Presale.SaleToken)
	if err != nil {
		return err
	}
	payment, err := parseAddress("presale.PaymentToken", c.Presale.PaymentToken)
	if err != nil {
		return err
	}
	if sale == payment {
		return fmt.Errorf("presale.PaymentToken: must differ from the sale token")
	}
	return nil
}

// TokenSymbol returns the symbol registered for addr.
func (c *Config) TokenSymbol(addr ethcommon.Address) (string, bool) {
	for _, tok := range c.Tokens {
		if parsed, err := crypto.ParseAddress(tok.Address); err == nil && parsed == addr {
			return strings.ToUpper(strings.TrimSpace(tok.Symbol)), true
		}
	}
	return "", false
}

// PresaleParams converts the presale section into engine parameters.
func (c *Config) PresaleParams() (presale.Params, error) {
	var p presale.Params
	s := c.Presale
	var err error
	if p.Owner, err = parseAddress("presale.Owner", s.Owner); err != nil {
		return p, err
	}
	if p.Authority, err = parseAddress("presale.Authority", s.Authority); err != nil {
		return p, err
	}
	if p.Account, err = parseAddress("presale.Account", s.Account); err != nil {
		return p, err
	}
	switch {
	case s.EndTime != 0 && s.DurationDays != 0:
		return p, fmt.Errorf("presale: set either EndTime or DurationDays, not both")
	case s.EndTime != 0:
		p.Window = presale.Window{Start: s.StartTime, End: s.EndTime}
	default:
		p.Window = presale.NewWindow(s.StartTime, s.DurationDays)
	}
	if err := p.Window.Validate(); err != nil {
		return p, err
	}
	amounts := []struct {
		field string
		raw   string
		dst   **uint256.Int
	}{
		{"presale.NativeRateWei", s.NativeRateWei, &p.NativeRate},
		{"presale.TokenPriceWei", s.TokenPriceWei, &p.TokenPrice},
		{"presale.TicketCapWei", s.TicketCapWei, &p.TicketCap},
		{"presale.TotalSupplyCapWei", s.TotalSupplyCapWei, &p.TotalSupplyCap},
	}
	for _, a := range amounts {
		v, err := ParseAmount(a.raw)
		if err != nil {
			return p, fmt.Errorf("%s: %w", a.field, err)
		}
		if v.IsZero() {
			return p, fmt.Errorf("%s: must be positive", a.field)
		}
		*a.dst = v
	}
	payment, err := parseAddress("presale.PaymentToken", s.PaymentToken)
	if err != nil {
		return p, err
	}
	if symbol, ok := c.TokenSymbol(payment); ok {
		p.PaymentAsset = symbol
	}
	if _, err := parseAddress("presale.SaleToken", s.SaleToken); err != nil {
		return p, err
	}
	return p, p.Validate()
}

// WheelParams converts the wheel section into engine parameters and the
// prize token addresses.
func (c *Config) WheelParams() (wheel.Params, []ethcommon.Address, error) {
	var p wheel.Params
	s := c.Wheel
	var err error
	if p.Owner, err = parseAddress("wheel.Owner", s.Owner); err != nil {
		return p, nil, err
	}
	if p.Authority, err = parseAddress("wheel.Authority", s.Authority); err != nil {
		return p, nil, err
	}
	if p.Account, err = parseAddress("wheel.Account", s.Account); err != nil {
		return p, nil, err
	}
	if len(s.PrizeTokens) == 0 {
		return p, nil, fmt.Errorf("wheel.PrizeTokens: at least one token required")
	}
	prizes := make([]ethcommon.Address, 0, len(s.PrizeTokens))
	for i, raw := range s.PrizeTokens {
		addr, err := parseAddress(fmt.Sprintf("wheel.PrizeTokens[%d]", i), raw)
		if err != nil {
			return p, nil, err
		}
		prizes = append(prizes, addr)
	}
	return p, prizes, nil
}

// EggParams converts the egg section into engine parameters.
func (c *Config) EggParams() (egg.Params, error) {
	var p egg.Params
	s := c.Egg
	var err error
	if p.Owner, err = parseAddress("egg.Owner", s.Owner); err != nil {
		return p, err
	}
	if p.Account, err = parseAddress("egg.Account", s.Account); err != nil {
		return p, err
	}
	if _, err := parseAddress("egg.PaymentToken", s.PaymentToken); err != nil {
		return p, err
	}
	p.TotalSupply = s.TotalSupply
	if len(s.Types) > 0 {
		p.Prices = make(map[string]*uint256.Int, len(s.Types))
	}
	for i, t := range s.Types {
		field := fmt.Sprintf("egg.Types[%d]", i)
		eggType := strings.TrimSpace(t.Type)
		if eggType == "" {
			return p, fmt.Errorf("%s.Type: required", field)
		}
		if _, dup := p.Prices[eggType]; dup {
			return p, fmt.Errorf("%s.Type: duplicate egg type %q", field, eggType)
		}
		price, err := ParseAmount(t.PriceWei)
		if err != nil {
			return p, fmt.Errorf("%s.PriceWei: %w", field, err)
		}
		if price.IsZero() {
			return p, fmt.Errorf("%s.PriceWei: must be positive", field)
		}
		p.Prices[eggType] = price
	}
	return p, nil
}
