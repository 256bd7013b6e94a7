package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"bunnyriven/crypto"
	nativecommon "bunnyriven/native/common"
)

const (
	DefaultNetworkName  = "bunnyriven-local"
	defaultKeystoreName = "authority.keystore"
)

// Config is the deployment description of the sale contracts: who owns them,
// which authority signs vouchers, prices, caps and the sale window.
type Config struct {
	NetworkName           string `toml:"NetworkName"`
	AuthorityKeystorePath string `toml:"AuthorityKeystorePath,omitempty"`

	Tokens  []TokenConfig `toml:"tokens"`
	Presale PresaleConfig `toml:"presale"`
	Wheel   WheelConfig   `toml:"wheel"`
	Egg     EggConfig     `toml:"egg"`
	Genesis []Allocation  `toml:"genesis"`
}

type loadOptions struct {
	passphrase string
	now        func() time.Time
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

// WithKeystorePassphrase sets the passphrase protecting a generated authority
// keystore. A default deployment cannot be created without one.
func WithKeystorePassphrase(passphrase string) LoadOption {
	return func(o *loadOptions) { o.passphrase = passphrase }
}

// WithClock overrides the clock used to place the default sale window.
func WithClock(now func() time.Time) LoadOption {
	return func(o *loadOptions) { o.now = now }
}

// Load loads the deployment from the given path. A missing file is replaced
// by a local development deployment signed by a freshly generated authority.
func Load(path string, opts ...LoadOption) (*Config, error) {
	options := loadOptions{now: time.Now}
	for _, opt := range opts {
		opt(&options)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = DefaultNetworkName
	}
	if strings.TrimSpace(c.Presale.Account) == "" {
		c.Presale.Account = nativecommon.ModuleAccount("presale").Hex()
	}
	if strings.TrimSpace(c.Wheel.Account) == "" {
		c.Wheel.Account = nativecommon.ModuleAccount("wheel").Hex()
	}
	if strings.TrimSpace(c.Egg.Account) == "" {
		c.Egg.Account = nativecommon.ModuleAccount("egg").Hex()
	}
	if strings.TrimSpace(c.Presale.Authority) == "" {
		c.Presale.Authority = c.Wheel.Authority
	}
	if strings.TrimSpace(c.Wheel.Authority) == "" {
		c.Wheel.Authority = c.Presale.Authority
	}
}

// createDefault writes a development deployment: a fresh authority key owns
// and signs for every contract, the sale opens now for a year and the
// contract accounts are funded with sale tokens and prizes.
func createDefault(path string, opts loadOptions) (*Config, error) {
	if opts.passphrase == "" {
		return nil, errors.New("config: keystore passphrase required to create default deployment")
	}
	keystorePath := defaultKeystorePath(path)
	key, err := defaultAuthority(keystorePath, opts.passphrase)
	if err != nil {
		return nil, err
	}

	authority := key.Address().Hex()
	saleToken := nativecommon.ModuleAccount("token/BRV").Hex()
	usdt := nativecommon.ModuleAccount("token/USDT").Hex()
	cfg := &Config{
		NetworkName:           DefaultNetworkName,
		AuthorityKeystorePath: keystorePath,
		Tokens: []TokenConfig{
			{Address: saleToken, Symbol: "BRV"},
			{Address: usdt, Symbol: "USDT"},
		},
		Presale: PresaleConfig{
			Owner:             authority,
			Authority:         authority,
			SaleToken:         saleToken,
			PaymentToken:      usdt,
			StartTime:         opts.now().Unix(),
			DurationDays:      365,
			NativeRateWei:     "1000000000000000000000",
			TokenPriceWei:     "10000000000000000",
			TicketCapWei:      "200000000000000000000",
			TotalSupplyCapWei: "10000000000000000000000000",
		},
		Wheel: WheelConfig{
			Owner:       authority,
			Authority:   authority,
			PrizeTokens: []string{saleToken},
		},
		Egg: EggConfig{
			Owner:        authority,
			PaymentToken: saleToken,
			TotalSupply:  5000,
			Types:        []EggType{{Type: "0", PriceWei: "80000000000000000000"}},
		},
	}
	cfg.applyDefaults()
	cfg.Genesis = []Allocation{
		{Asset: "BRV", Address: cfg.Presale.Account, AmountWei: cfg.Presale.TotalSupplyCapWei},
		{Asset: "BRV", Address: cfg.Wheel.Account, AmountWei: "1000000000000000000000"},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultAuthority reuses the authority already stored next to the
// deployment, or generates and stores a fresh one.
func defaultAuthority(keystorePath, passphrase string) (*crypto.PrivateKey, error) {
	if _, err := os.Stat(keystorePath); err == nil {
		return crypto.LoadFromKeystore(keystorePath, passphrase)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadAuthority decrypts the voucher signing key referenced by the
// deployment.
func (c *Config) LoadAuthority(passphrase string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(c.AuthorityKeystorePath) == "" {
		return nil, errors.New("config: no authority keystore configured")
	}
	return crypto.LoadFromKeystore(c.AuthorityKeystorePath, passphrase)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, defaultKeystoreName)
}
