package config

// PresaleConfig is the deployment of one presale round. Amounts are decimal
// strings in 18-decimal base units.
type PresaleConfig struct {
	Owner         string `toml:"Owner"`
	Authority     string `toml:"Authority,omitempty"`
	Account       string `toml:"Account,omitempty"`
	SaleToken     string `toml:"SaleToken"`
	PaymentToken  string `toml:"PaymentToken"`
	StartTime     int64  `toml:"StartTime"`
	DurationDays  uint32 `toml:"DurationDays,omitempty"`
	EndTime       int64  `toml:"EndTime,omitempty"`
	NativeRateWei string `toml:"NativeRateWei"`
	// TokenPriceWei is the accounting price of one whole sale token.
	TokenPriceWei     string `toml:"TokenPriceWei"`
	TicketCapWei      string `toml:"TicketCapWei"`
	TotalSupplyCapWei string `toml:"TotalSupplyCapWei"`
	ReplayMode        string `toml:"ReplayMode,omitempty"`
}

type WheelConfig struct {
	Owner       string   `toml:"Owner"`
	Authority   string   `toml:"Authority,omitempty"`
	Account     string   `toml:"Account,omitempty"`
	PrizeTokens []string `toml:"PrizeTokens"`
	ReplayMode  string   `toml:"ReplayMode,omitempty"`
}

type EggType struct {
	Type     string `toml:"Type"`
	PriceWei string `toml:"PriceWei"`
}

type EggConfig struct {
	Owner        string    `toml:"Owner"`
	Account      string    `toml:"Account,omitempty"`
	PaymentToken string    `toml:"PaymentToken"`
	TotalSupply  uint64    `toml:"TotalSupply,omitempty"`
	Types        []EggType `toml:"Types"`
}

// TokenConfig registers a fungible token hosted by the ledger.
type TokenConfig struct {
	Address string `toml:"Address"`
	Symbol  string `toml:"Symbol"`
}

// Allocation mints an opening balance. Asset is "BNB" for the native coin or
// a token symbol.
type Allocation struct {
	Asset     string `toml:"Asset"`
	Address   string `toml:"Address"`
	AmountWei string `toml:"AmountWei"`
}
