package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"interra/crypto"
)

// Config holds the order daemon settings. Missing files are replaced with a
// generated default so a fresh checkout boots without ceremony.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	NetworkName string `toml:"NetworkName"`
	Env         string `toml:"Env"`
	// ChainID is the source chain identifier stamped on every order; opens
	// naming any other source chain are rejected.
	ChainID uint64 `toml:"ChainID"`
	// OrderRent is the per-order storage deposit in base units, decimal
	// encoded. Empty selects the engine default.
	OrderRent string `toml:"OrderRent"`
	// RPCTokenEnv names the environment variable carrying the bearer token
	// that guards mutating RPC methods. Empty disables authentication.
	RPCTokenEnv string `toml:"RPCTokenEnv"`
	// OperatorKeyFile is the hex-encoded secp256k1 key identifying this
	// daemon's operator. A fresh key is generated when the file is missing.
	OperatorKeyFile string `toml:"OperatorKeyFile"`
	// RateLimitPerSecond caps JSON-RPC requests per client; zero disables
	// the limiter.
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
	ReadTimeoutSeconds int     `toml:"ReadTimeoutSeconds"`
}

// Load reads the configuration at path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./orderd-data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "itr-local"
	}
	if c.ChainID == 0 {
		c.ChainID = 10002
	}
	if strings.TrimSpace(c.OperatorKeyFile) == "" {
		c.OperatorKeyFile = "./operator.key"
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 16
	}
	if c.ReadTimeoutSeconds <= 0 {
		c.ReadTimeoutSeconds = 30
	}
}

// Validate rejects configurations the daemon cannot safely run with.
func (c *Config) Validate() error {
	if c.RateLimitPerSecond < 0 {
		return fmt.Errorf("config: RateLimitPerSecond must not be negative")
	}
	if rent := strings.TrimSpace(c.OrderRent); rent != "" {
		if _, err := c.ParsedOrderRent(); err != nil {
			return err
		}
	}
	return nil
}

// ParsedOrderRent decodes OrderRent into a big integer. A nil result means the
// engine default applies.
func (c *Config) ParsedOrderRent() (*big.Int, error) {
	rent := strings.TrimSpace(c.OrderRent)
	if rent == "" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(rent, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("config: OrderRent %q is not a non-negative decimal integer", c.OrderRent)
	}
	return value, nil
}

// RPCToken resolves the bearer token from the configured environment variable.
// Empty means authentication is disabled.
func (c *Config) RPCToken() string {
	name := strings.TrimSpace(c.RPCTokenEnv)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

// EnsureOperatorKey loads the operator key from OperatorKeyFile, generating
// and persisting a new one when the file does not exist yet.
func (c *Config) EnsureOperatorKey() (*crypto.PrivateKey, error) {
	path := strings.TrimSpace(c.OperatorKeyFile)
	if path == "" {
		return nil, fmt.Errorf("config: OperatorKeyFile is empty")
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return nil, genErr
		}
		encoded := hex.EncodeToString(key.Bytes())
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, mkErr
			}
		}
		if wrErr := os.WriteFile(path, []byte(encoded+"\n"), 0o600); wrErr != nil {
			return nil, wrErr
		}
		return key, nil
	}
	if err != nil {
		return nil, err
	}

	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("config: operator key file %s is not hex encoded: %w", path, err)
	}
	key, err := crypto.PrivateKeyFromBytes(decoded)
	if err != nil {
		return nil, fmt.Errorf("config: operator key file %s holds an invalid key: %w", path, err)
	}
	return key, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:         ":8545",
		DataDir:            "./orderd-data",
		NetworkName:        "itr-local",
		Env:                "dev",
		ChainID:            10002,
		RPCTokenEnv:        "ITR_RPC_TOKEN",
		OperatorKeyFile:    "./operator.key",
		RateLimitPerSecond: 50,
		RateLimitBurst:     16,
		ReadTimeoutSeconds: 30,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
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
