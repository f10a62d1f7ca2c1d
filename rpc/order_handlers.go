package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"interra/crypto"
	"interra/native/limitorder"
	"interra/observability"
)

const (
	codeOrderInvalidParams = -32021
	codeOrderNotFound      = -32022
	codeOrderForbidden     = -32023
	codeOrderConflict      = -32024
	codeOrderInternal      = -32025
)

type initializeParams struct {
	Caller   string `json:"caller"`
	FeeBps   uint16 `json:"platformFeeBps"`
	Treasury string `json:"treasury"`
}

type updateConfigParams struct {
	Caller   string `json:"caller"`
	Owner    string `json:"owner"`
	FeeBps   uint16 `json:"platformFeeBps"`
	Treasury string `json:"treasury"`
	Paused   bool   `json:"paused"`
}

type openOrderParams struct {
	Sender      string `json:"sender"`
	FromToken   string `json:"fromToken"`
	FromChainID uint64 `json:"fromChainId"`
	AmountIn    string `json:"amountIn"`
	ToChainID   uint64 `json:"toChainId"`
	ToToken     string `json:"toToken"`
	Recipient   string `json:"recipient"`
	AmountOut   string `json:"amountOut"`
	Expiry      int64  `json:"expiry"`
}

type cancelOrderParams struct {
	Caller         string `json:"caller"`
	ID             string `json:"id"`
	RefundReceiver string `json:"refundReceiver"`
}

type executeOrderParams struct {
	Caller         string `json:"caller"`
	ID             string `json:"id"`
	AmountIn       string `json:"amountIn,omitempty"`
	Target         string `json:"target"`
	RefundReceiver string `json:"refundReceiver"`
}

type orderIDParams struct {
	ID string `json:"id"`
}

type registerTokenParams struct {
	Caller   string `json:"caller"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

type balanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

type mintParams struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type configJSON struct {
	Owner          string `json:"owner"`
	PlatformFeeBps uint16 `json:"platformFeeBps"`
	Treasury       string `json:"treasury"`
	Paused         bool   `json:"paused"`
}

type orderJSON struct {
	ID          string `json:"id"`
	Sender      string `json:"sender"`
	FromToken   string `json:"fromToken"`
	FromChainID uint64 `json:"fromChainId"`
	AmountIn    string `json:"amountIn"`
	ToChainID   uint64 `json:"toChainId"`
	ToToken     string `json:"toToken"`
	Recipient   string `json:"recipient"`
	AmountOut   string `json:"amountOut"`
	Expiry      int64  `json:"expiry"`
	CreatedAt   int64  `json:"createdAt"`
	Deposit     string `json:"deposit"`
}

type openOrderResult struct {
	ID string `json:"id"`
}

type balanceResult struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	var params initializeParams
	if outcome := decodeParams(w, req, &params); outcome != "" {
		return outcome
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return invalidParams(w, req, err)
	}
	treasury, err := parseBech32Address(params.Treasury)
	if err != nil {
		return invalidParams(w, req, err)
	}
	s.engineMu.Lock()
	cfg, err := s.engine.Initialize(caller, params.FeeBps, treasury)
	s.engineMu.Unlock()
	if err != nil {
		return writeOrderError(w, req, err)
	}
	writeResult(w, req.ID, formatConfigJSON(cfg))
	return "ok"
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	var params updateConfigParams
	if outcome := decodeParams(w, req, &params); outcome != "" {
		return outcome
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return invalidParams(w, req, err)
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		return invalidParams(w, req, err)
	}
	treasury, err := parseBech32Address(params.Treasury)
	if err != nil {
		return invalidParams(w, req, err)
	}
	s.engineMu.Lock()
	cfg, err := s.engine.UpdateConfig(caller, owner, params.FeeBps, treasury, params.Paused)
	s.engineMu.Unlock()
	if err != nil {
		return writeOrderError(w, req, err)
	}
	writeResult(w, req.ID, formatConfigJSON(cfg))
	return "ok"
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	s.engineMu.Lock()
	cfg, err := s.engine.Config()
	s.engineMu.Unlock()
	if err != nil {
		return writeOrderError(w, req, err)
	}
	writeResult(w, req.ID, formatConfigJSON(cfg))
	return "ok"
}

func (s *Server) handleOpenOrder(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	var params openOrderParams
	if outcome := decodeParams(w, req, &params); outcome != "" {
		return outcome
	}
	sender, err := parseBech32Address(params.Sender)
	if err != nil {
		return invalidParams(w, req, err)
	}
	amount, err := parsePositiveBigInt(params.AmountIn)
	if err != nil {
		return invalidParams(w, req, err)
	}
	toToken, err := parseHex32(params.ToToken)
	if err != nil {
		return invalidParams(w, req, fmt.Errorf("toToken: %v", err))
	}
	recipient, err := parseHex32(params.Recipient)
	if err != nil {
		return invalidParams(w, req, fmt.Errorf("recipient: %v", err))
	}
	amountOut, err := parseHex32(params.AmountOut)
	if err != nil {
		return invalidParams(w, req, fmt.Errorf("amountOut: %v", err))
	}
	open := limitorder.OpenOrderParams{
		FromToken:   strings.TrimSpace(params.FromToken),
		FromChainID: params.FromChainID,
		AmountIn:    amount,
		ToChainID:   params.ToChainID,
		ToToken:     toToken,
		Recipient:   recipient,
		AmountOut:   amountOut,
		Expiry:      params.Expiry,
	}
	s.engineMu.Lock()
	var order *limitorder.Order
	if strings.EqualFold(open.FromToken, limitorder.NativeToken) {
		open.FromToken = limitorder.NativeToken
		order, err = s.engine.OpenOrderNative(sender, open)
	} else {
		order, err = s.engine.OpenOrderToken(sender, open)
	}
	s.engineMu.Unlock()
	if err != nil {
		return writeOrderError(w, req, err)
	}
	observability.Transitions().Record("open")
	writeResult(w, req.ID, openOrderResult{ID: formatOrderID(order.ID)})
	return "ok"
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	var params cancelOrderParams
	if outcome := decodeParams(w, req, &params); outcome != "" {
		return outcome
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return invalidParams(w, req, err)
	}
	refund, err := parseBech32Address(params.RefundReceiver)
	if err != nil {
		return invalidParams(w, req, err)
	}
	id, err := parseOrderID(params.ID)
	if err != nil {
		return invalidParams(w, req, err)
	}
	s.engineMu.Lock()
	err = s.engine.CancelOrder(caller, id, refund)
	s.engineMu.Unlock()
	if err != nil {
		return writeOrderError(w, req, err)
	}
	observability.Transitions().Record("cancel")
	writeResult(w, req.ID, "ok")
	return "ok"
}

func (s *Server) handleExecuteOrder(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	var params executeOrderParams
	if outcome := decodeParams(w, req, &params); outcome != "" {
		return outcome
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return invalidParams(w, req, err)
	}
	target, err := parseBech32Address(params.Target)
	if err != nil {
		return invalidParams(w, req, err)
	}
	refund, err := parseBech32Address(params.RefundReceiver)
	if err != nil {
		return invalidParams(w, req, err)
	}
	id, err := parseOrderID(params.ID)
	if err != nil {
		return invalidParams(w, req, err)
	}

	s.engineMu.Lock()
	order, err := s.engine.Order(id)
	if err != nil {
		s.engineMu.Unlock()
		return writeOrderError(w, req, err)
	}
	if order.Native() {
		var amount *big.Int
		amount, err = parsePositiveBigInt(params.AmountIn)
		if err != nil {
			s.engineMu.Unlock()
			return invalidParams(w, req, fmt.Errorf("amountIn: %v", err))
		}
		err = s.engine.ExecuteOrderNative(caller, id, amount, target, refund)
	} else {
		err = s.engine.ExecuteOrderToken(caller, id, target, refund)
	}
	s.engineMu.Unlock()
	if err != nil {
		return writeOrderError(w, req, err)
	}
	observability.Transitions().Record("execute")
	writeResult(w, req.ID, "ok")
	return "ok"
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	var params orderIDParams
	if outcome := decodeParams(w, req, &params); outcome != "" {
		return outcome
	}
	id, err := parseOrderID(params.ID)
	if err != nil {
		return invalidParams(w, req, err)
	}
	s.engineMu.Lock()
	order, err := s.engine.Order(id)
	s.engineMu.Unlock()
	if err != nil {
		return writeOrderError(w, req, err)
	}
	writeResult(w, req.ID, formatOrderJSON(order))
	return "ok"
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	var params registerTokenParams
	if outcome := decodeParams(w, req, &params); outcome != "" {
		return outcome
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return invalidParams(w, req, err)
	}
	s.engineMu.Lock()
	err = s.engine.RegisterToken(caller, params.Symbol, params.Name, params.Decimals)
	s.engineMu.Unlock()
	if err != nil {
		return writeOrderError(w, req, err)
	}
	writeResult(w, req.ID, "ok")
	return "ok"
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	var params balanceParams
	if outcome := decodeParams(w, req, &params); outcome != "" {
		return outcome
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		return invalidParams(w, req, err)
	}
	token := strings.TrimSpace(params.Token)
	if token == "" {
		token = limitorder.NativeToken
	}
	s.engineMu.Lock()
	var balance *big.Int
	if strings.EqualFold(token, limitorder.NativeToken) {
		token = limitorder.NativeToken
		balance, err = s.engine.NativeBalance(addr)
	} else {
		balance, err = s.engine.TokenBalance(addr, token)
	}
	s.engineMu.Unlock()
	if err != nil {
		return writeOrderError(w, req, err)
	}
	writeResult(w, req.ID, balanceResult{
		Address: params.Address,
		Token:   strings.ToUpper(token),
		Balance: balance.String(),
	})
	return "ok"
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	var params mintParams
	if outcome := decodeParams(w, req, &params); outcome != "" {
		return outcome
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return invalidParams(w, req, err)
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		return invalidParams(w, req, err)
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		return invalidParams(w, req, err)
	}
	s.engineMu.Lock()
	err = s.engine.Mint(caller, to, strings.TrimSpace(params.Token), amount)
	s.engineMu.Unlock()
	if err != nil {
		return writeOrderError(w, req, err)
	}
	writeResult(w, req.ID, "ok")
	return "ok"
}

// --- helpers ---

// decodeParams unmarshals the single expected parameter object. It returns a
// non-empty outcome label after writing an error response.
func decodeParams(w http.ResponseWriter, req *RPCRequest, dst interface{}) string {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeOrderInvalidParams, "invalid_params", "exactly one parameter object expected")
		return "invalid_params"
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeOrderInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	return ""
}

func invalidParams(w http.ResponseWriter, req *RPCRequest, err error) string {
	writeError(w, http.StatusBadRequest, req.ID, codeOrderInvalidParams, "invalid_params", err.Error())
	return "invalid_params"
}

func writeOrderError(w http.ResponseWriter, req *RPCRequest, err error) string {
	if err == nil {
		return "ok"
	}
	status := http.StatusInternalServerError
	code := codeOrderInternal
	message := "internal_error"
	switch {
	case errors.Is(err, limitorder.ErrOrderNotFound), errors.Is(err, limitorder.ErrNotInitialized):
		status = http.StatusNotFound
		code = codeOrderNotFound
		message = "not_found"
	case errors.Is(err, limitorder.ErrUnauthorized), errors.Is(err, limitorder.ErrInvalidRefundReceiver):
		status = http.StatusForbidden
		code = codeOrderForbidden
		message = "forbidden"
	case errors.Is(err, limitorder.ErrAlreadyInitialized),
		errors.Is(err, limitorder.ErrOrderExists),
		errors.Is(err, limitorder.ErrOrderExpired),
		errors.Is(err, limitorder.ErrSystemPaused),
		errors.Is(err, limitorder.ErrAmountMismatch),
		errors.Is(err, limitorder.ErrInsufficientFunds),
		errors.Is(err, limitorder.ErrTokenAccountNotFound):
		status = http.StatusConflict
		code = codeOrderConflict
		message = "conflict"
	case errors.Is(err, limitorder.ErrInvalidParameter),
		errors.Is(err, limitorder.ErrInvalidExpiry),
		errors.Is(err, limitorder.ErrInvalidPlatformFee):
		status = http.StatusBadRequest
		code = codeOrderInvalidParams
		message = "invalid_params"
	}
	observability.RPC().RecordError(req.Method, message)
	writeError(w, status, req.ID, code, message, err.Error())
	return message
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount must be a decimal integer")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseOrderID(value string) ([32]byte, error) {
	raw, err := parseHexBytes(value, 32)
	if err != nil {
		return [32]byte{}, fmt.Errorf("order id: %v", err)
	}
	var id [32]byte
	copy(id[:], raw)
	return id, nil
}

func parseHex32(value string) ([32]byte, error) {
	raw, err := parseHexBytes(value, 32)
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], raw)
	return out, nil
}

func parseHexBytes(value string, wantLen int) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return nil, fmt.Errorf("hex value required")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %v", err)
	}
	if len(raw) != wantLen {
		return nil, fmt.Errorf("expected %d bytes, got %d", wantLen, len(raw))
	}
	return raw, nil
}

func formatOrderID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func formatConfigJSON(cfg *limitorder.GlobalConfig) configJSON {
	return configJSON{
		Owner:          crypto.NewAddress(crypto.ITRPrefix, cfg.Owner[:]).String(),
		PlatformFeeBps: cfg.PlatformFeeBps,
		Treasury:       crypto.NewAddress(crypto.ITRPrefix, cfg.Treasury[:]).String(),
		Paused:         cfg.Paused,
	}
}

func formatOrderJSON(order *limitorder.Order) orderJSON {
	return orderJSON{
		ID:          formatOrderID(order.ID),
		Sender:      crypto.NewAddress(crypto.ITRPrefix, order.Sender[:]).String(),
		FromToken:   order.FromToken,
		FromChainID: order.FromChainID,
		AmountIn:    order.AmountIn.String(),
		ToChainID:   order.ToChainID,
		ToToken:     "0x" + hex.EncodeToString(order.ToToken[:]),
		Recipient:   "0x" + hex.EncodeToString(order.Recipient[:]),
		AmountOut:   "0x" + hex.EncodeToString(order.AmountOut[:]),
		Expiry:      order.Expiry,
		CreatedAt:   order.CreatedAt,
		Deposit:     order.Deposit.String(),
	}
}
