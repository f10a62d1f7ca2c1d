package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"interra/core/types"
	"interra/native/limitorder"
	"interra/storage"
)

// Manager provides typed access to every addressed record the escrow core
// mutates: native accounts, the token registry and balances, the global
// config singleton and live order records. Keys are keccak256 hashes of
// namespaced preimages so record families cannot collide.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	configKey     = ethcrypto.Keccak256([]byte("limitorder/global-config"))
	orderPrefix   = []byte("limitorder/order:")
	accountPrefix = []byte("account:")
	tokenPrefix   = []byte("token:")
	balancePrefix = []byte("balance:")
)

func orderKey(id [32]byte) []byte {
	buf := make([]byte, len(orderPrefix)+len(id))
	copy(buf, orderPrefix)
	copy(buf[len(orderPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(addr [20]byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr[:])
	return ethcrypto.Keccak256(buf)
}

// --- accounts ---

// GetAccount loads the native account record for addr. Missing accounts
// resolve to a fresh zero-balance account.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	data, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return types.EnsureAccount(nil), nil
	}
	if err != nil {
		return nil, err
	}
	account := new(types.Account)
	if err := rlp.DecodeBytes(data, account); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return types.EnsureAccount(account), nil
}

// PutAccount persists the native account record for addr.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	encoded, err := rlp.EncodeToBytes(types.EnsureAccount(account))
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.db.Put(accountKey(addr), encoded)
}

// --- token registry ---

// TokenMetadata describes a registered fungible token.
type TokenMetadata struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

// TokenRegister stores the metadata for a fungible token. Registering the
// same symbol twice is an error.
func (m *Manager) TokenRegister(symbol, name string, decimals uint8) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("state: token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("state: token %s: name must not be empty", normalized)
	}
	key := tokenMetadataKey(normalized)
	exists, err := m.db.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("state: token %s already registered", normalized)
	}
	encoded, err := json.Marshal(TokenMetadata{Symbol: normalized, Name: strings.TrimSpace(name), Decimals: decimals})
	if err != nil {
		return fmt.Errorf("state: encode token metadata: %w", err)
	}
	return m.db.Put(key, encoded)
}

// TokenExists reports whether the symbol has registered metadata.
func (m *Manager) TokenExists(symbol string) (bool, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return false, nil
	}
	return m.db.Has(tokenMetadataKey(normalized))
}

// TokenMetadataGet loads the metadata for a registered symbol.
func (m *Manager) TokenMetadataGet(symbol string) (*TokenMetadata, bool, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	data, err := m.db.Get(tokenMetadataKey(normalized))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	meta := new(TokenMetadata)
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, false, fmt.Errorf("state: decode token metadata: %w", err)
	}
	return meta, true, nil
}

// --- token balances ---

// TokenBalanceGet returns the token balance record for (addr, symbol). The
// boolean reports whether a record exists; absent records resolve to zero.
func (m *Manager) TokenBalanceGet(addr [20]byte, symbol string) (*big.Int, bool, error) {
	data, err := m.db.Get(balanceKey(addr, symbol))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	balance := new(big.Int).SetBytes(data)
	return balance, true, nil
}

// TokenBalancePut stores the token balance record for (addr, symbol).
func (m *Manager) TokenBalancePut(addr [20]byte, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: token balance must be non-negative")
	}
	return m.db.Put(balanceKey(addr, symbol), amount.Bytes())
}

// TokenBalanceDelete removes the token balance record for (addr, symbol).
func (m *Manager) TokenBalanceDelete(addr [20]byte, symbol string) error {
	return m.db.Delete(balanceKey(addr, symbol))
}

// --- global config ---

// ConfigPut persists the global config singleton.
func (m *Manager) ConfigPut(cfg *limitorder.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("state: nil config")
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("state: encode config: %w", err)
	}
	return m.db.Put(configKey, encoded)
}

// ConfigGet loads the global config singleton if it has been initialized.
func (m *Manager) ConfigGet() (*limitorder.GlobalConfig, bool, error) {
	data, err := m.db.Get(configKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	cfg := new(limitorder.GlobalConfig)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, false, fmt.Errorf("state: decode config: %w", err)
	}
	return cfg, true, nil
}

// --- orders ---

// OrderPut persists a sanitized copy of the order record.
func (m *Manager) OrderPut(order *limitorder.Order) error {
	sanitized, err := limitorder.SanitizeOrder(order)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	encoded, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("state: encode order: %w", err)
	}
	return m.db.Put(orderKey(sanitized.ID), encoded)
}

// OrderGet loads the order stored at id.
func (m *Manager) OrderGet(id [32]byte) (*limitorder.Order, bool, error) {
	data, err := m.db.Get(orderKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	order := new(limitorder.Order)
	if err := json.Unmarshal(data, order); err != nil {
		return nil, false, fmt.Errorf("state: decode order: %w", err)
	}
	return order, true, nil
}

// OrderDelete destroys the order record at id. Once deleted the id no longer
// resolves, which is what makes terminal transitions final.
func (m *Manager) OrderDelete(id [32]byte) error {
	return m.db.Delete(orderKey(id))
}
