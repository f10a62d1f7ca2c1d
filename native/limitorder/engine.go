package limitorder

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"interra/core/events"
	"interra/core/types"
	"interra/native/fees"
)

var (
	errNilState = errors.New("limitorder engine: state not configured")
)

// defaultOrderRent is the storage deposit charged for an order record when no
// explicit rent is configured. It is repaid in full when the order closes.
var defaultOrderRent = big.NewInt(1_000_000)

// defaultLocalChainID is the source chain identifier stamped on every order;
// opens naming a different source chain are rejected.
const defaultLocalChainID uint64 = 10002

type engineState interface {
	ConfigPut(*GlobalConfig) error
	ConfigGet() (*GlobalConfig, bool, error)
	OrderPut(*Order) error
	OrderGet(id [32]byte) (*Order, bool, error)
	OrderDelete(id [32]byte) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	TokenRegister(symbol, name string, decimals uint8) error
	TokenExists(symbol string) (bool, error)
	TokenBalanceGet(addr [20]byte, symbol string) (*big.Int, bool, error)
	TokenBalancePut(addr [20]byte, symbol string, amount *big.Int) error
	TokenBalanceDelete(addr [20]byte, symbol string) error
}

// Engine wires the limit-order escrow state machine with external state and
// event emitters. Every exported method is one atomic transition: all
// validation happens before the first state write, so a rejected transition
// leaves every record untouched.
type Engine struct {
	state        engineState
	emitter      events.Emitter
	nowFn        func() int64
	localChainID uint64
	orderRent    *big.Int
}

// NewEngine creates an engine with a no-op emitter and default rent and chain
// id settings. Callers override collaborators via the Set methods.
func NewEngine() *Engine {
	return &Engine{
		emitter:      events.NoopEmitter{},
		nowFn:        func() int64 { return time.Now().Unix() },
		localChainID: defaultLocalChainID,
		orderRent:    new(big.Int).Set(defaultOrderRent),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetLocalChainID configures the source chain identifier expected on open
// parameters.
func (e *Engine) SetLocalChainID(id uint64) {
	if id == 0 {
		e.localChainID = defaultLocalChainID
		return
	}
	e.localChainID = id
}

// SetOrderRent configures the storage deposit charged per order record.
func (e *Engine) SetOrderRent(rent *big.Int) {
	if rent == nil || rent.Sign() < 0 {
		e.orderRent = new(big.Int).Set(defaultOrderRent)
		return
	}
	e.orderRent = new(big.Int).Set(rent)
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// --- config transitions ---

// Initialize creates the global config singleton with the caller as owner.
func (e *Engine) Initialize(caller [20]byte, feeBps uint16, treasury [20]byte) (*GlobalConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if feeBps > fees.MaxBps {
		return nil, ErrInvalidPlatformFee
	}
	if _, ok, err := e.state.ConfigGet(); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyInitialized
	}
	cfg := &GlobalConfig{
		Owner:          caller,
		PlatformFeeBps: feeBps,
		Treasury:       treasury,
		Paused:         false,
	}
	if err := e.state.ConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(Initialized{Owner: cfg.Owner, PlatformFeeBps: cfg.PlatformFeeBps, Treasury: cfg.Treasury, Paused: cfg.Paused})
	return cfg.Clone(), nil
}

// UpdateConfig atomically replaces every config field. Only the stored owner
// may call it.
func (e *Engine) UpdateConfig(caller, newOwner [20]byte, newFeeBps uint16, newTreasury [20]byte, newPaused bool) (*GlobalConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Owner != caller {
		return nil, ErrUnauthorized
	}
	if newFeeBps > fees.MaxBps {
		return nil, ErrInvalidPlatformFee
	}
	cfg.Owner = newOwner
	cfg.PlatformFeeBps = newFeeBps
	cfg.Treasury = newTreasury
	cfg.Paused = newPaused
	if err := e.state.ConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(ConfigUpdated{Owner: cfg.Owner, PlatformFeeBps: cfg.PlatformFeeBps, Treasury: cfg.Treasury, Paused: cfg.Paused})
	return cfg.Clone(), nil
}

// Config returns the current global config when initialized.
func (e *Engine) Config() (*GlobalConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadConfig()
}

// --- open transitions ---

// OpenOrderNative escrows native coin from the caller into a new order at the
// deterministic address for (caller, expiry).
func (e *Engine) OpenOrderNative(caller [20]byte, params OpenOrderParams) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if params.FromToken != NativeToken {
		return nil, ErrInvalidParameter
	}
	if _, err := e.validateOpen(caller, params); err != nil {
		return nil, err
	}
	rent := new(big.Int).Set(e.orderRent)
	need := new(big.Int).Add(params.AmountIn, rent)
	balance, err := e.nativeBalance(caller)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(need) < 0 {
		return nil, ErrInsufficientFunds
	}
	order := e.buildOrder(caller, params, rent)
	if err := e.custodyFor(order).credit(order, caller); err != nil {
		return nil, err
	}
	if err := e.transferNative(caller, CustodyAddress(order.ID), rent); err != nil {
		return nil, err
	}
	if err := e.state.OrderPut(order); err != nil {
		return nil, err
	}
	e.emit(OrderOpened{ID: order.ID})
	return order.Clone(), nil
}

// OpenOrderToken escrows a registered fungible token from the caller's token
// balance into a custody account owned by the new order. The storage deposit
// is still paid from the caller's native balance.
func (e *Engine) OpenOrderToken(caller [20]byte, params OpenOrderParams) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	symbol, err := NormalizeToken(params.FromToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	params.FromToken = symbol
	if _, err := e.validateOpen(caller, params); err != nil {
		return nil, err
	}
	registered, err := e.state.TokenExists(symbol)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, fmt.Errorf("%w: token %s not registered", ErrInvalidParameter, symbol)
	}
	rent := new(big.Int).Set(e.orderRent)
	balance, err := e.nativeBalance(caller)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(rent) < 0 {
		return nil, ErrInsufficientFunds
	}
	tokenBalance, ok, err := e.state.TokenBalanceGet(caller, symbol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTokenAccountNotFound
	}
	if tokenBalance.Cmp(params.AmountIn) < 0 {
		return nil, ErrInsufficientFunds
	}
	order := e.buildOrder(caller, params, rent)
	if err := e.custodyFor(order).credit(order, caller); err != nil {
		return nil, err
	}
	if err := e.transferNative(caller, CustodyAddress(order.ID), rent); err != nil {
		return nil, err
	}
	if err := e.state.OrderPut(order); err != nil {
		return nil, err
	}
	e.emit(OrderOpened{ID: order.ID})
	return order.Clone(), nil
}

func (e *Engine) validateOpen(caller [20]byte, params OpenOrderParams) (*GlobalConfig, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Paused {
		return nil, ErrSystemPaused
	}
	if params.AmountIn == nil || params.AmountIn.Sign() <= 0 {
		return nil, ErrInvalidParameter
	}
	if params.FromChainID != e.localChainID {
		return nil, ErrInvalidParameter
	}
	if params.ToChainID == 0 {
		return nil, ErrInvalidParameter
	}
	if params.ToToken == ([32]byte{}) || params.Recipient == ([32]byte{}) {
		return nil, ErrInvalidParameter
	}
	if params.Expiry <= e.now() {
		return nil, ErrInvalidExpiry
	}
	id := OrderID(caller, params.Expiry)
	if _, ok, err := e.state.OrderGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrOrderExists
	}
	return cfg, nil
}

func (e *Engine) buildOrder(caller [20]byte, params OpenOrderParams, rent *big.Int) *Order {
	return &Order{
		ID:          OrderID(caller, params.Expiry),
		Sender:      caller,
		FromToken:   params.FromToken,
		FromChainID: params.FromChainID,
		AmountIn:    new(big.Int).Set(params.AmountIn),
		ToChainID:   params.ToChainID,
		ToToken:     params.ToToken,
		Recipient:   params.Recipient,
		AmountOut:   params.AmountOut,
		Expiry:      params.Expiry,
		CreatedAt:   e.now(),
		Deposit:     new(big.Int).Set(rent),
	}
}

// --- terminal transitions ---

// CancelOrder refunds the full escrowed amount to the refund receiver and
// destroys the order. The sender and the config owner may cancel; the refund
// receiver must be the order sender. Cancellation works while the system is
// paused and after expiry so funds can never be locked up.
func (e *Engine) CancelOrder(caller [20]byte, id [32]byte, refundReceiver [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if caller != order.Sender && caller != cfg.Owner {
		return ErrUnauthorized
	}
	if refundReceiver != order.Sender {
		return ErrInvalidRefundReceiver
	}
	cust := e.custodyFor(order)
	if err := cust.payout(order, refundReceiver, order.AmountIn); err != nil {
		return err
	}
	if err := cust.closeAndReclaim(order, refundReceiver); err != nil {
		return err
	}
	if err := e.state.OrderDelete(order.ID); err != nil {
		return err
	}
	e.emit(OrderCancelled{ID: order.ID, By: caller})
	return nil
}

// ExecuteOrderNative fulfills a native order: the platform fee goes to the
// config treasury, the remainder to the target account, the storage deposit
// back to the refund receiver, and the order is destroyed. The amount
// parameter must equal the escrowed amount exactly.
func (e *Engine) ExecuteOrderNative(executor [20]byte, id [32]byte, amount *big.Int, target, refundReceiver [20]byte) error {
	order, cfg, err := e.validateExecute(executor, id, refundReceiver)
	if err != nil {
		return err
	}
	if !order.Native() {
		return ErrInvalidParameter
	}
	if amount == nil || amount.Cmp(order.AmountIn) != 0 {
		return ErrAmountMismatch
	}
	quote, err := e.quoteFee(order, cfg)
	if err != nil {
		return err
	}
	if err := validatePayoutTargets(order, target, cfg.Treasury); err != nil {
		return err
	}
	if err := e.settle(order, quote, target, cfg.Treasury, refundReceiver); err != nil {
		return err
	}
	e.emit(OrderExecuted{ID: order.ID, By: executor, NativeTokenVolume: quote.Send})
	return nil
}

// ExecuteOrderToken fulfills a token order; the treasury fee is credited to
// the config treasury's balance for the escrowed token.
func (e *Engine) ExecuteOrderToken(executor [20]byte, id [32]byte, target, refundReceiver [20]byte) error {
	order, cfg, err := e.validateExecute(executor, id, refundReceiver)
	if err != nil {
		return err
	}
	if order.Native() {
		return ErrInvalidParameter
	}
	quote, err := e.quoteFee(order, cfg)
	if err != nil {
		return err
	}
	if err := validatePayoutTargets(order, target, cfg.Treasury); err != nil {
		return err
	}
	if err := e.settle(order, quote, target, cfg.Treasury, refundReceiver); err != nil {
		return err
	}
	e.emit(OrderExecuted{ID: order.ID, By: executor, NativeTokenVolume: big.NewInt(0)})
	return nil
}

func (e *Engine) validateExecute(executor [20]byte, id [32]byte, refundReceiver [20]byte) (*Order, *GlobalConfig, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	order, err := e.loadOrder(id)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Paused {
		return nil, nil, ErrSystemPaused
	}
	if executor != cfg.Owner {
		return nil, nil, ErrUnauthorized
	}
	if e.now() > order.Expiry {
		return nil, nil, ErrOrderExpired
	}
	if refundReceiver != order.Sender {
		return nil, nil, ErrInvalidRefundReceiver
	}
	return order, cfg, nil
}

// validatePayoutTargets rejects settlement destinations that alias the
// order's own custody account. Paying custody back into itself would leave
// value behind when the account drains on close.
func validatePayoutTargets(order *Order, target, treasury [20]byte) error {
	vault := CustodyAddress(order.ID)
	if target == vault || treasury == vault {
		return fmt.Errorf("%w: payout target must not be the order custody account", ErrInvalidParameter)
	}
	return nil
}

func (e *Engine) quoteFee(order *Order, cfg *GlobalConfig) (fees.Quote, error) {
	quote, err := fees.Split(order.AmountIn, cfg.PlatformFeeBps)
	if err != nil {
		return fees.Quote{}, fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
	}
	return quote, nil
}

func (e *Engine) settle(order *Order, quote fees.Quote, target, treasury, refundReceiver [20]byte) error {
	cust := e.custodyFor(order)
	if err := cust.payout(order, target, quote.Send); err != nil {
		return err
	}
	if err := cust.payout(order, treasury, quote.Fee); err != nil {
		return err
	}
	if err := cust.closeAndReclaim(order, refundReceiver); err != nil {
		return err
	}
	return e.state.OrderDelete(order.ID)
}

// --- admin transitions ---

// RegisterToken records a fungible token symbol so token orders may reference
// it. Only the config owner may register tokens.
func (e *Engine) RegisterToken(caller [20]byte, symbol, name string, decimals uint8) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Owner {
		return ErrUnauthorized
	}
	normalized, err := NormalizeToken(symbol)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return e.state.TokenRegister(normalized, name, decimals)
}

// Mint credits native coin or registered token balance to an account. It is a
// dev-environment seeding hook gated to the config owner; production
// deployments leave it unreachable by policy.
func (e *Engine) Mint(caller, to [20]byte, symbol string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Owner {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidParameter
	}
	if symbol == NativeToken {
		account, err := e.state.GetAccount(to[:])
		if err != nil {
			return err
		}
		account = types.EnsureAccount(account)
		account.Balance = new(big.Int).Add(account.Balance, amount)
		return e.state.PutAccount(to[:], account)
	}
	normalized, err := NormalizeToken(symbol)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	registered, err := e.state.TokenExists(normalized)
	if err != nil {
		return err
	}
	if !registered {
		return fmt.Errorf("%w: token %s not registered", ErrInvalidParameter, normalized)
	}
	balance, _, err := e.state.TokenBalanceGet(to, normalized)
	if err != nil {
		return err
	}
	return e.state.TokenBalancePut(to, normalized, new(big.Int).Add(balance, amount))
}

// Order returns the live order stored at the supplied id.
func (e *Engine) Order(id [32]byte) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadOrder(id)
}

// NativeBalance returns the native coin balance of the supplied account.
func (e *Engine) NativeBalance(addr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.nativeBalance(addr)
}

// TokenBalance returns the balance the account holds for a registered token.
// Accounts without a balance record report zero.
func (e *Engine) TokenBalance(addr [20]byte, symbol string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeToken(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	registered, err := e.state.TokenExists(normalized)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, fmt.Errorf("%w: token %s not registered", ErrInvalidParameter, normalized)
	}
	balance, _, err := e.state.TokenBalanceGet(addr, normalized)
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// --- helpers ---

func (e *Engine) loadConfig() (*GlobalConfig, error) {
	cfg, ok, err := e.state.ConfigGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

func (e *Engine) loadOrder(id [32]byte) (*Order, error) {
	order, ok, err := e.state.OrderGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (e *Engine) nativeBalance(addr [20]byte) (*big.Int, error) {
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return types.EnsureAccount(account).Balance, nil
}

func (e *Engine) transferNative(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("limitorder: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	toAcc = types.EnsureAccount(toAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	// Self-transfers must not write twice: both account copies alias the
	// same record and the second put would double the shared balance.
	if from == to {
		return nil
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// drainNative moves the entire native balance of from to to, reclaiming the
// storage deposit when a custody account closes.
func (e *Engine) drainNative(from, to [20]byte) error {
	balance, err := e.nativeBalance(from)
	if err != nil {
		return err
	}
	return e.transferNative(from, to, balance)
}

func (e *Engine) transferTokenBalance(from, to [20]byte, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("limitorder: negative transfer amount")
	}
	fromBalance, ok, err := e.state.TokenBalanceGet(from, symbol)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenAccountNotFound
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	if from == to {
		return nil
	}
	toBalance, _, err := e.state.TokenBalanceGet(to, symbol)
	if err != nil {
		return err
	}
	if err := e.state.TokenBalancePut(from, symbol, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return e.state.TokenBalancePut(to, symbol, new(big.Int).Add(toBalance, amount))
}
